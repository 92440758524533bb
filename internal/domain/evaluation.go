package domain

// EvaluationRecord is a persisted EvaluationResult.
// Corresponds to evaluations table.
type EvaluationRecord struct {
	EvaluationID string // deterministic hash of run|pair|stage|window|params
	RunID        string // optimization run
	Pair         string
	Stage        string // see Stage* constants

	WindowStart int64 // unix ms
	WindowEnd   int64 // unix ms

	ParamsKey  string  // canonical ParameterSet.Key()
	ParamsJSON string  // JSON object of the parameter set
	Score      float64 // -Inf for invalid runs

	CreatedAt int64 // unix ms
}

// Evaluation stages
const (
	StageSearch     = "search"     // stage 1 sampled grid
	StageRefine     = "refine"     // stage 2 local refinement
	StageSweep      = "sweep"      // sweep candidate re-evaluated on full train window
	StageValidation = "validation" // walk-forward validation window
	StageCommon     = "common"     // common-params cross-pair evaluation
)

// OptimizationRun summarizes one optimizer invocation.
// Corresponds to optimization_runs table.
type OptimizationRun struct {
	RunID      string
	StartedAt  int64  // unix ms
	FinishedAt *int64 // unix ms (nullable while running)
	Status     string // see RunStatus* constants

	TrainStart      int64
	TrainEnd        int64
	ValidationStart *int64 // nullable when data was too short for validation
	ValidationEnd   *int64

	BestPair       string
	BestScore      *float64
	BestParamsJSON string
	Error          string
}

// Run status constants
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

// ConfigDecision records whether a parameter set was written to a config.
// Corresponds to config_decisions table.
type ConfigDecision struct {
	RunID      string
	Pair       string // empty for decisions that cover every pair
	Target     string // config file path
	Mode       string // per_pair | common | overall
	Action     string // see Decision* constants
	Score      float64
	ParamsJSON string
	Reasons    []string // failed checklist items when skipped
	CreatedAt  int64    // unix ms
}

// Decision actions
const (
	DecisionApply = "APPLY"
	DecisionSkip  = "SKIP"
)
