package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEvaluationID computes a deterministic evaluation_id using SHA256.
// Formula: SHA256(run_id|pair|stage|window_start|window_end|params_key)
// Returns hex-encoded hash (64 characters).
func ComputeEvaluationID(
	runID string,
	pair string,
	stage string,
	windowStart int64,
	windowEnd int64,
	paramsKey string,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d|%s",
		runID,
		pair,
		stage,
		windowStart,
		windowEnd,
		paramsKey,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
