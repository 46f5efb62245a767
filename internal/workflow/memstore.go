package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gitlify/gitlify/model"
)

// MemoryStore is an in-memory Store for single-instance deployments and
// testing.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]model.WorkflowRun     // key: run ID
	states    map[string][]model.WorkflowState // key: run ID, append order
	documents map[string]model.Document        // key: run ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]model.WorkflowRun),
		states:    make(map[string][]model.WorkflowState),
		documents: make(map[string]model.Document),
	}
}

// CreateRun persists a new workflow run.
func (s *MemoryStore) CreateRun(_ context.Context, run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow run %q already exists", run.ID),
		)
	}

	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID, scoped to its owning user.
func (s *MemoryStore) GetRun(_ context.Context, userID, runID string) (model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists || run.UserID != userID {
		return model.WorkflowRun{}, model.NewNotFoundError(
			fmt.Sprintf("workflow run %q not found", runID),
		)
	}
	return run, nil
}

// UpdateRun persists an updated run with optimistic locking.
func (s *MemoryStore) UpdateRun(_ context.Context, run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.runs[run.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow run %q not found", run.ID),
		)
	}

	// Optimistic lock check.
	if existing.Version != run.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow run %q version conflict (expected %d, got %d)", run.ID, run.Version, existing.Version),
		)
	}

	run.Version++
	s.runs[run.ID] = run
	return nil
}

// ListRuns returns the user's runs, newest first.
func (s *MemoryStore) ListRuns(_ context.Context, userID string, filters RunFilters) ([]model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowRun
	for _, run := range s.runs {
		if run.UserID != userID {
			continue
		}
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		result = append(result, run)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.WorkflowRun{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// AppendState adds a new state snapshot row for a run.
func (s *MemoryStore) AppendState(_ context.Context, state model.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.RunID] = append(s.states[state.RunID], state)
	return nil
}

// UpdateState updates a state row in place, keyed by its ID.
func (s *MemoryStore) UpdateState(_ context.Context, state model.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.states[state.RunID]
	for i := range rows {
		if rows[i].ID == state.ID {
			rows[i] = state
			return nil
		}
	}
	return model.NewNotFoundError(
		fmt.Sprintf("workflow state %q not found", state.ID),
	)
}

// LatestState returns the most recent state row for a run.
func (s *MemoryStore) LatestState(_ context.Context, runID string) (*model.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.states[runID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

// ListStates returns a run's state rows, newest first.
func (s *MemoryStore) ListStates(_ context.Context, runID string, limit int) ([]model.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.states[runID]
	result := make([]model.WorkflowState, len(rows))
	for i, row := range rows {
		result[len(rows)-1-i] = row
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// CreateDocument persists a generated document and its chapters.
func (s *MemoryStore) CreateDocument(_ context.Context, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.RunID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("document for run %q already exists", doc.RunID),
		)
	}

	s.documents[doc.RunID] = doc
	return nil
}

// GetDocumentByRun retrieves the document produced by a run.
func (s *MemoryStore) GetDocumentByRun(_ context.Context, userID, runID string) (model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.documents[runID]
	if !exists || doc.UserID != userID {
		return model.Document{}, model.NewNotFoundError(
			fmt.Sprintf("document for run %q not found", runID),
		)
	}
	return doc, nil
}

// HealthCheck implements Store. The memory store is always healthy.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// StateCount returns the number of state rows for a run. For testing.
func (s *MemoryStore) StateCount(runID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states[runID])
}
