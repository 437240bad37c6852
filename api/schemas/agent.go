package schemas

import "context"

// -- Task Lifecycle Schemas --

// TaskRunState is the orchestrator's machine state. Exactly one task runs
// at a time per page context.
type TaskRunState string

const (
	StateIdle      TaskRunState = "IDLE"
	StateAnalyzing TaskRunState = "ANALYZING"
	StatePlanning  TaskRunState = "PLANNING"
	StateExecuting TaskRunState = "EXECUTING"
	StateVerifying TaskRunState = "VERIFYING"
	StateReporting TaskRunState = "REPORTING"
	StateFailed    TaskRunState = "FAILED"
	StateDone      TaskRunState = "DONE"
)

// Terminal reports whether the state ends a task.
func (s TaskRunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// TaskAnalysis is the reasoning service's first-pass read of a task.
type TaskAnalysis struct {
	Category        string   `json:"category"`
	Confidence      float64  `json:"confidence"`
	RequiredActions []string `json:"required_actions,omitempty"`
	RiskNotes       []string `json:"risk_notes,omitempty"`
}

// StepAssessment scores the effectiveness of one executed step.
type StepAssessment struct {
	StepID    string  `json:"step_id"`
	Effective bool    `json:"effective"`
	Score     float64 `json:"score"`
	Note      string  `json:"note,omitempty"`
}

// TaskVerification is the reasoning service's verdict over the accumulated
// history and the final page state.
type TaskVerification struct {
	Complete        bool             `json:"complete"`
	PartialSuccess  bool             `json:"partial_success"`
	Steps           []StepAssessment `json:"steps,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Summary         string           `json:"summary"`
}

// TaskReport is the single structured result every task produces, success
// or not. User-visible failure is always a report, never a silent no-op.
type TaskReport struct {
	TaskID           string       `json:"task_id"`
	Success          bool         `json:"success"`
	Report           string       `json:"report"`
	ActionsPerformed int          `json:"actions_performed"`
	PageSummary      string       `json:"page_summary,omitempty"`
	Error            string       `json:"error,omitempty"`
	State            TaskRunState `json:"state"`
}

// -- LLM Boundary Schemas --

// ModelTier selects between the configured fast and powerful models.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes one LLM exchange.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is a single prompt exchange with the reasoning service.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient abstracts the external reasoning service transport.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
