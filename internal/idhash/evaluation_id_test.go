package idhash

import (
	"testing"
)

func TestComputeEvaluationID(t *testing.T) {
	tests := []struct {
		name      string
		runID     string
		pair      string
		stage     string
		start     int64
		end       int64
		paramsKey string
	}{
		{
			name:      "search run",
			runID:     "4f1c2d7e-run",
			pair:      "BTC/ETH",
			stage:     "search",
			start:     1704110400000,
			end:       1704369600000,
			paramsKey: "ENTRY_Z_SCORE_BASE=2|EXIT_Z_SCORE=0.8",
		},
		{
			name:      "validation run",
			runID:     "4f1c2d7e-run",
			pair:      "SOL/ETH",
			stage:     "validation",
			start:     1704369600000,
			end:       1704672000000,
			paramsKey: "EXIT_Z_SCORE=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEvaluationID(tt.runID, tt.pair, tt.stage, tt.start, tt.end, tt.paramsKey)

			if len(got) != 64 {
				t.Errorf("ComputeEvaluationID() length = %d, want 64", len(got))
			}

			got2 := ComputeEvaluationID(tt.runID, tt.pair, tt.stage, tt.start, tt.end, tt.paramsKey)
			if got != got2 {
				t.Errorf("ComputeEvaluationID() not deterministic: %s != %s", got, got2)
			}
		})
	}
}

func TestComputeEvaluationID_DiffersPerField(t *testing.T) {
	base := ComputeEvaluationID("run", "BTC/ETH", "search", 1, 2, "A=1")

	variants := map[string]string{
		"run":    ComputeEvaluationID("run2", "BTC/ETH", "search", 1, 2, "A=1"),
		"pair":   ComputeEvaluationID("run", "SOL/ETH", "search", 1, 2, "A=1"),
		"stage":  ComputeEvaluationID("run", "BTC/ETH", "refine", 1, 2, "A=1"),
		"start":  ComputeEvaluationID("run", "BTC/ETH", "search", 0, 2, "A=1"),
		"end":    ComputeEvaluationID("run", "BTC/ETH", "search", 1, 3, "A=1"),
		"params": ComputeEvaluationID("run", "BTC/ETH", "search", 1, 2, "A=2"),
	}
	for field, id := range variants {
		if id == base {
			t.Errorf("changing %s did not change the id", field)
		}
	}
}
