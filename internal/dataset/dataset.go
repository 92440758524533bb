// Package dataset inspects the market data file the backtests replay.
package dataset

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// ErrNoBounds is returned when the file's first and last lines do not carry
// increasing timestamps.
var ErrNoBounds = errors.New("cannot determine data time bounds")

var timestampPattern = regexp.MustCompile(`"timestamp"\s*:\s*(\d+)`)

const tailChunk = 8192

// TimeBounds reads the millisecond "timestamp" of the first and last lines.
func TimeBounds(path string) (domain.Window, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Window{}, err
	}
	defer f.Close()

	first, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return domain.Window{}, err
	}
	firstMs, ok := parseTimestampMs(first)
	if !ok {
		return domain.Window{}, fmt.Errorf("%w: no timestamp on first line of %s", ErrNoBounds, path)
	}

	last, err := lastLine(f)
	if err != nil {
		return domain.Window{}, err
	}
	lastMs, ok := parseTimestampMs(last)
	if !ok || lastMs <= firstMs {
		return domain.Window{}, fmt.Errorf("%w: bad timestamp on last line of %s", ErrNoBounds, path)
	}

	return domain.Window{
		Start: time.UnixMilli(firstMs).UTC(),
		End:   time.UnixMilli(lastMs).UTC(),
	}, nil
}

// EstimateBars is the number of trading periods the bounds span.
func EstimateBars(bounds domain.Window, period time.Duration) int {
	if period <= 0 || !bounds.End.After(bounds.Start) {
		return 0
	}
	return int(bounds.Duration() / period)
}

// Snapshot copies path into dir (os.TempDir() when empty) so runs read a
// stable file while the source keeps growing. The caller removes the copy.
func Snapshot(path, dir string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	if dir == "" {
		dir = os.TempDir()
	}
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".jsonl"
	}
	dst, err := os.CreateTemp(dir, "debot_data_snapshot_*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("snapshot %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", err
	}
	if info, err := src.Stat(); err == nil {
		_ = os.Chtimes(dst.Name(), info.ModTime(), info.ModTime())
	}
	return dst.Name(), nil
}

func parseTimestampMs(line string) (int64, bool) {
	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// lastLine reads backwards in chunks until it holds a full final line.
func lastLine(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	pos := info.Size()
	if pos == 0 {
		return "", nil
	}

	var buf []byte
	for pos > 0 {
		n := int64(tailChunk)
		if n > pos {
			n = pos
		}
		pos -= n
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		buf = append(chunk, buf...)
		if bytes.Count(bytes.TrimRight(buf, "\r\n"), []byte("\n")) > 0 {
			break
		}
	}

	trimmed := bytes.TrimRight(buf, "\r\n")
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return string(trimmed), nil
}
