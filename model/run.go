package model

import (
	"encoding/json"
	"time"
)

// Workflow run status constants.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Workflow state (per-stage snapshot) status constants.
const (
	StateStatusPending   = "pending"
	StateStatusRunning   = "running"
	StateStatusCompleted = "completed"
	StateStatusFailed    = "failed"
)

// Stage name constants. These identifiers are persisted in WorkflowState
// rows and drive the orchestrator's next-stage decision, so they must stay
// stable across releases.
const (
	StageRepositoryAnalysis     = "repository_analysis"
	StageCoreAbstractions       = "core_abstractions"
	StageRequirementsExtraction = "requirements_extraction"
)

// WorkflowRun is one end-to-end PRD generation attempt. Its status is
// mutated only by the orchestrator and is terminal once completed or failed.
type WorkflowRun struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Repository  string     `json:"repository"` // "owner/name"
	LLMConfigID string     `json:"llm_config_id"`
	Status      string     `json:"status"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run can no longer be advanced.
func (r WorkflowRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// WorkflowState is one persisted snapshot of a single stage execution
// within a run. A stage execution creates a new running row, then updates
// the same row in place to completed or failed with its output. The most
// recent row for a run is, alone, sufficient to decide what runs next.
type WorkflowState struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Stage       string          `json:"stage"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StepSummary is the read-only projection of a WorkflowState exposed on the
// status endpoint. Prompt and response text never leave the store.
type StepSummary struct {
	Stage       string     `json:"stage"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
