package sweeplog

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

func window() domain.Window {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return domain.Window{Start: start, End: start.Add(24 * time.Hour)}
}

func candidates() []domain.EvaluationResult {
	return []domain.EvaluationResult{
		{Params: domain.ParameterSet{"EXIT_Z_SCORE": "0.8"}, Score: 12.5},
		{Params: domain.ParameterSet{"EXIT_Z_SCORE": "1.0"}, Score: domain.InvalidScore},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestWriter_JSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.jsonl")
	w := NewWriter(path, "", 3)

	require.NoError(t, w.Record("BTC/ETH", window(), candidates()))
	require.NoError(t, w.Record("SOL/ETH", window(), nil))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "BTC/ETH", entry.Pair)
	assert.Equal(t, "2024-01-01T12:00:00+0000", entry.WindowStart)
	assert.Equal(t, "2024-01-02T12:00:00+0000", entry.WindowEnd)
	assert.Equal(t, 3, entry.TopK)
	require.Len(t, entry.Candidates, 2)
	assert.Equal(t, 12.5, float64(entry.Candidates[0].Score))
	assert.Equal(t, map[string]string{"EXIT_Z_SCORE": "0.8"}, entry.Candidates[0].Params)
	assert.Equal(t, domain.InvalidScore, float64(entry.Candidates[1].Score))
	assert.Contains(t, lines[0], `"score":"-inf"`)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "SOL/ETH", entry.Pair)
	assert.Empty(t, entry.Candidates)
}

func TestWriter_CSVHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweep.csv")

	require.NoError(t, NewWriter("", path, 1).Record("BTC/ETH", window(), candidates()))
	// a second writer appends without repeating the header
	require.NoError(t, NewWriter("", path, 1).Record("BTC/ETH", window(), candidates()[:1]))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"BTC/ETH", "2024-01-01T12:00:00+0000", "2024-01-02T12:00:00+0000", "12.50000000", `{"EXIT_Z_SCORE":"0.8"}`}, rows[1])
	assert.Equal(t, "-inf", rows[2][3])
	assert.Equal(t, rows[1], rows[3])
}

func TestWriter_Disabled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewWriter("", "", 1).Record("BTC/ETH", window(), candidates()))

	var nilWriter *Writer
	require.NoError(t, nilWriter.Record("BTC/ETH", window(), candidates()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriter_BadPath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no", "such", "dir")
	err := NewWriter(filepath.Join(missing, "a.jsonl"), filepath.Join(missing, "a.csv"), 1).
		Record("BTC/ETH", window(), candidates())
	assert.Error(t, err)
}
