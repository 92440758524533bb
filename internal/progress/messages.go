package progress

import (
	"math"
	"time"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
)

// Message types sent to clients.
const (
	TypeResult = "result"
	TypeBest   = "best"
	TypeStage  = "stage"
)

// ResultMessage reports one finished backtest run.
type ResultMessage struct {
	Type       string            `json:"type"`
	Pair       string            `json:"pair"`
	Stage      string            `json:"stage"`
	Index      int               `json:"index"`
	Total      int               `json:"total"`
	Score      *float64          `json:"score"` // null for the invalid sentinel
	Params     map[string]string `json:"params"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// BestMessage reports a new best parameter set for a pair.
type BestMessage struct {
	Type   string            `json:"type"`
	Pair   string            `json:"pair"`
	Stage  string            `json:"stage"`
	Score  *float64          `json:"score"`
	Params map[string]string `json:"params"`
}

// StageMessage reports pipeline progress, e.g. a pair entering validation.
type StageMessage struct {
	Type        string    `json:"type"`
	Stage       string    `json:"stage"`
	Pair        string    `json:"pair,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	WindowStart string    `json:"window_start,omitempty"` // RFC 3339
	WindowEnd   string    `json:"window_end,omitempty"`
	At          time.Time `json:"at"`
}

// finite maps non-finite scores to nil, since JSON cannot carry infinities.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// NewResultMessage builds a result message.
func NewResultMessage(pair, stage string, index, total int, r domain.EvaluationResult, err error, d time.Duration) *ResultMessage {
	m := &ResultMessage{
		Type:       TypeResult,
		Pair:       pair,
		Stage:      stage,
		Index:      index,
		Total:      total,
		Score:      finite(r.Score),
		Params:     r.Params,
		DurationMs: d.Milliseconds(),
	}
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

// NewBestMessage builds a best message.
func NewBestMessage(pair, stage string, r domain.EvaluationResult) *BestMessage {
	return &BestMessage{Type: TypeBest, Pair: pair, Stage: stage, Score: finite(r.Score), Params: r.Params}
}

// NewStageMessage builds a stage message.
func NewStageMessage(stage, pair, detail string, w domain.Window) *StageMessage {
	m := &StageMessage{
		Type:   TypeStage,
		Stage:  stage,
		Pair:   pair,
		Detail: detail,
		At:     time.Now().UTC(),
	}
	if !w.Start.IsZero() {
		m.WindowStart = w.Start.UTC().Format(time.RFC3339)
	}
	if !w.End.IsZero() {
		m.WindowEnd = w.End.UTC().Format(time.RFC3339)
	}
	return m
}
