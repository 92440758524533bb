// Package sweeplog records the candidates each sweep window produced, as
// JSONL for tooling and as CSV for spreadsheets.
package sweeplog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TimeLayout is the timestamp format written to both files.
const TimeLayout = "2006-01-02T15:04:05-0700"

var csvHeader = []string{"pair", "window_start", "window_end", "score", "params_json"}

// Candidate is one selected set in a window entry.
type Candidate struct {
	Score  jsonScore         `json:"score"`
	Params map[string]string `json:"params"`
}

// Entry is one JSONL line.
type Entry struct {
	Pair        string      `json:"pair"`
	WindowStart string      `json:"window_start"`
	WindowEnd   string      `json:"window_end"`
	TopK        int         `json:"top_k"`
	Candidates  []Candidate `json:"candidates"`
}

// Writer appends window entries. Either path may be empty to skip that file.
// Safe for concurrent use.
type Writer struct {
	mu       sync.Mutex
	jsonPath string
	csvPath  string
	topK     int
}

// NewWriter creates a Writer. topK is recorded in every JSONL entry.
func NewWriter(jsonPath, csvPath string, topK int) *Writer {
	return &Writer{jsonPath: jsonPath, csvPath: csvPath, topK: topK}
}

// Record appends the candidates of one window to both files. The CSV header
// is written only when the file is created.
func (w *Writer) Record(pair string, window domain.Window, candidates []domain.EvaluationResult) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	start := formatTime(window.Start)
	end := formatTime(window.End)

	var errs []error
	if w.jsonPath != "" {
		errs = append(errs, w.appendJSON(pair, start, end, candidates))
	}
	if w.csvPath != "" {
		errs = append(errs, w.appendCSV(pair, start, end, candidates))
	}
	return errors.Join(errs...)
}

func (w *Writer) appendJSON(pair, start, end string, candidates []domain.EvaluationResult) error {
	entry := Entry{
		Pair:        pair,
		WindowStart: start,
		WindowEnd:   end,
		TopK:        w.topK,
		Candidates:  make([]Candidate, len(candidates)),
	}
	for i, c := range candidates {
		entry.Candidates[i] = Candidate{Score: jsonScore(c.Score), Params: c.Params}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal sweep entry: %w", err)
	}

	f, err := os.OpenFile(w.jsonPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Writer) appendCSV(pair, start, end string, candidates []domain.EvaluationResult) error {
	_, statErr := os.Stat(w.csvPath)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(w.csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(csvHeader); err != nil {
			f.Close()
			return err
		}
	}
	for _, c := range candidates {
		params, err := json.Marshal(c.Params)
		if err != nil {
			f.Close()
			return err
		}
		if err := cw.Write([]string{pair, start, end, metrics.FormatScore(c.Score), string(params)}); err != nil {
			f.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// jsonScore encodes non-finite scores as strings, since JSON has no infinity.
type jsonScore float64

func (s jsonScore) MarshalJSON() ([]byte, error) {
	v := float64(s)
	if v != v || v > maxFinite || v < -maxFinite {
		return json.Marshal(metrics.FormatScore(v))
	}
	return json.Marshal(v)
}

func (s *jsonScore) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*s = jsonScore(v)
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	v, err := metrics.ParseScore(text)
	if err != nil {
		return err
	}
	*s = jsonScore(v)
	return nil
}

const maxFinite = 1.7976931348623157e308
