package reporting

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shigeo-nakamura/pairtrade/internal/metrics"
)

// RenderCSV renders per-pair results as CSV string.
func RenderCSV(pairs []PairRow) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	_ = w.Write([]string{
		"pair", "train_runs", "train_valid", "train_score",
		"validation_runs", "validation_score", "params_json",
	})
	for _, p := range pairs {
		_ = w.Write([]string{
			p.Pair,
			strconv.Itoa(p.TrainRuns),
			strconv.Itoa(p.TrainValid),
			metrics.FormatScore(p.TrainScore),
			strconv.Itoa(p.ValidationRuns),
			metrics.FormatScore(p.ValidationScore),
			p.SelectedParams(),
		})
	}
	w.Flush()

	return sb.String()
}

// WriteFiles writes OPTIMIZATION_<run>.md and OPTIMIZATION_<run>_PAIRS.csv
// into dir and returns their paths.
func WriteFiles(dir string, r *Report) (mdPath, csvPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	base := "OPTIMIZATION_" + r.Run.RunID
	mdPath = filepath.Join(dir, base+".md")
	csvPath = filepath.Join(dir, base+"_PAIRS.csv")

	if err := os.WriteFile(mdPath, []byte(RenderMarkdown(r)), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(csvPath, []byte(RenderCSV(r.Pairs)), 0o644); err != nil {
		return "", "", err
	}
	return mdPath, csvPath, nil
}
