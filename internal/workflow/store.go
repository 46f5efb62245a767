package workflow

import (
	"context"

	"github.com/gitlify/gitlify/model"
)

// Store persists workflow runs, their per-stage state snapshots, and the
// final generated documents.
type Store interface {
	// CreateRun persists a new workflow run.
	CreateRun(ctx context.Context, run model.WorkflowRun) error

	// GetRun retrieves a run by ID, scoped to its owning user. Returns
	// NOT_FOUND if the run doesn't exist or belongs to a different user.
	GetRun(ctx context.Context, userID, runID string) (model.WorkflowRun, error)

	// UpdateRun persists an updated run with optimistic locking. The
	// version must match the current stored version. Returns CONFLICT if
	// the version has changed.
	UpdateRun(ctx context.Context, run model.WorkflowRun) error

	// ListRuns returns the user's runs, newest first.
	ListRuns(ctx context.Context, userID string, filters RunFilters) ([]model.WorkflowRun, error)

	// AppendState adds a new state snapshot row for a run.
	AppendState(ctx context.Context, state model.WorkflowState) error

	// UpdateState updates a state row in place, keyed by its ID.
	UpdateState(ctx context.Context, state model.WorkflowState) error

	// LatestState returns the most recent state row for a run, or nil if
	// the run has none yet.
	LatestState(ctx context.Context, runID string) (*model.WorkflowState, error)

	// ListStates returns a run's state rows, newest first, up to limit.
	ListStates(ctx context.Context, runID string, limit int) ([]model.WorkflowState, error)

	// CreateDocument persists a generated document and its chapters.
	CreateDocument(ctx context.Context, doc model.Document) error

	// GetDocumentByRun retrieves the document produced by a run, scoped to
	// its owning user.
	GetDocumentByRun(ctx context.Context, userID, runID string) (model.Document, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// RunFilters are optional filters for listing workflow runs.
type RunFilters struct {
	Status string
	Limit  int
	Offset int
}
