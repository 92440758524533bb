package storage

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/idhash"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewEvaluationRecord builds the persisted form of one scored parameter set.
func NewEvaluationRecord(runID, pair, stage string, window domain.Window, r domain.EvaluationResult, now time.Time) (*domain.EvaluationRecord, error) {
	paramsJSON, err := EncodeParams(r.Params)
	if err != nil {
		return nil, err
	}
	key := r.Params.Key()
	start, end := window.Start.UnixMilli(), window.End.UnixMilli()
	return &domain.EvaluationRecord{
		EvaluationID: idhash.ComputeEvaluationID(runID, pair, stage, start, end, key),
		RunID:        runID,
		Pair:         pair,
		Stage:        stage,
		WindowStart:  start,
		WindowEnd:    end,
		ParamsKey:    key,
		ParamsJSON:   paramsJSON,
		Score:        r.Score,
		CreatedAt:    now.UnixMilli(),
	}, nil
}

// EncodeParams encodes a parameter set as a JSON object with sorted keys.
func EncodeParams(p domain.ParameterSet) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(p))
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(b), nil
}

// DecodeParams is the inverse of EncodeParams.
func DecodeParams(s string) (domain.ParameterSet, error) {
	p := domain.ParameterSet{}
	if s == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return p, nil
}

// Result converts a record back into an EvaluationResult.
func Result(e *domain.EvaluationRecord) (domain.EvaluationResult, error) {
	p, err := DecodeParams(e.ParamsJSON)
	if err != nil {
		return domain.EvaluationResult{}, err
	}
	return domain.EvaluationResult{Params: p, Score: e.Score}, nil
}

// Validate checks the key fields of an evaluation record.
func Validate(e *domain.EvaluationRecord) error {
	if e == nil || e.EvaluationID == "" || e.RunID == "" {
		return ErrInvalidInput
	}
	return nil
}
