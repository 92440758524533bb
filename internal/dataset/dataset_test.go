package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

func writeData(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTimeBounds(t *testing.T) {
	path := writeData(t, `{"timestamp": 1704067200000, "prices": {}}
{"timestamp":1704070800000}
{"timestamp": 1704153600000, "prices": {"BTC": "1"}}
`)

	got, err := TimeBounds(path)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got.End)
}

func TestTimeBounds_LongFile(t *testing.T) {
	var sb strings.Builder
	base := int64(1704067200000)
	for i := 0; i < 2000; i++ {
		fmt.Fprintf(&sb, `{"timestamp": %d, "pad": "%s"}`+"\n", base+int64(i)*60000, strings.Repeat("x", 40))
	}
	got, err := TimeBounds(writeData(t, sb.String()))
	require.NoError(t, err)
	assert.Equal(t, 1999*time.Minute, got.Duration())
}

func TestTimeBounds_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":         "",
		"no first ts":   "{}\n{\"timestamp\": 5}\n",
		"no last ts":    "{\"timestamp\": 5}\n{}\n",
		"not ascending": "{\"timestamp\": 5}\n{\"timestamp\": 5}\n",
		"single line":   "{\"timestamp\": 5}\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := TimeBounds(writeData(t, content))
			assert.True(t, errors.Is(err, ErrNoBounds), "got %v", err)
		})
	}

	_, err := TimeBounds(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEstimateBars(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := domain.Window{Start: start, End: start.Add(7*24*time.Hour + 30*time.Second)}

	assert.Equal(t, 10080, EstimateBars(w, time.Minute))
	assert.Equal(t, 0, EstimateBars(w, 0))
	assert.Equal(t, 0, EstimateBars(domain.Window{Start: start, End: start}, time.Minute))
}

func TestSnapshot(t *testing.T) {
	src := writeData(t, "{\"timestamp\": 1}\n")
	dir := t.TempDir()

	snap, err := Snapshot(src, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(snap))
	assert.True(t, strings.HasPrefix(filepath.Base(snap), "debot_data_snapshot_"))
	assert.Equal(t, ".jsonl", filepath.Ext(snap))

	got, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.Equal(t, "{\"timestamp\": 1}\n", string(got))

	// later writes to the source do not leak into the snapshot
	require.NoError(t, os.WriteFile(src, []byte("changed"), 0o644))
	got, err = os.ReadFile(snap)
	require.NoError(t, err)
	assert.Equal(t, "{\"timestamp\": 1}\n", string(got))

	_, err = Snapshot(filepath.Join(dir, "missing"), dir)
	assert.Error(t, err)
}
