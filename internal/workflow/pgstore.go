package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitlify/gitlify/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
//
// Expected schema:
//
//	workflow_runs   (id, user_id, repository, llm_config_id, status,
//	                 version, created_at, started_at, completed_at)
//	workflow_states (id, run_id, stage, status, input, output, error,
//	                 started_at, completed_at)
//	documents       (id, run_id, user_id, title, summary, status,
//	                 metadata, created_at)
//	chapters        (id, document_id, title, content, order_index)
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// CreateRun inserts a new workflow run.
func (s *PgStore) CreateRun(ctx context.Context, run model.WorkflowRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (
			id, user_id, repository, llm_config_id, status,
			version, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.UserID, run.Repository, run.LLMConfigID, run.Status,
		run.Version, run.CreatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, scoped to its owning user.
func (s *PgStore) GetRun(ctx context.Context, userID, runID string) (model.WorkflowRun, error) {
	var run model.WorkflowRun

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, repository, llm_config_id, status,
		       version, created_at, started_at, completed_at
		FROM workflow_runs
		WHERE id = $1 AND user_id = $2`,
		runID, userID,
	).Scan(
		&run.ID, &run.UserID, &run.Repository, &run.LLMConfigID, &run.Status,
		&run.Version, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return model.WorkflowRun{}, model.NewNotFoundError(
			fmt.Sprintf("workflow run %q not found", runID),
		)
	}
	if err != nil {
		return model.WorkflowRun{}, fmt.Errorf("query workflow run: %w", err)
	}
	return run, nil
}

// UpdateRun persists an updated run with optimistic locking.
func (s *PgStore) UpdateRun(ctx context.Context, run model.WorkflowRun) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs SET
			status = $1,
			version = $2,
			started_at = $3,
			completed_at = $4
		WHERE id = $5 AND version = $6`,
		run.Status, run.Version+1, run.StartedAt, run.CompletedAt,
		run.ID, run.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("workflow run %q version conflict (expected %d)", run.ID, run.Version),
		)
	}
	return nil
}

// ListRuns returns the user's runs, newest first.
func (s *PgStore) ListRuns(ctx context.Context, userID string, filters RunFilters) ([]model.WorkflowRun, error) {
	query := `SELECT id, user_id, repository, llm_config_id, status,
	                 version, created_at, started_at, completed_at
	          FROM workflow_runs
	          WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filters.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		var run model.WorkflowRun
		if err := rows.Scan(
			&run.ID, &run.UserID, &run.Repository, &run.LLMConfigID, &run.Status,
			&run.Version, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendState adds a new state snapshot row for a run.
func (s *PgStore) AppendState(ctx context.Context, state model.WorkflowState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_states (
			id, run_id, stage, status, input, output, error,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		state.ID, state.RunID, state.Stage, state.Status,
		nullableJSON(state.Input), nullableJSON(state.Output), state.Error,
		state.StartedAt, state.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow state: %w", err)
	}
	return nil
}

// UpdateState updates a state row in place, keyed by its ID.
func (s *PgStore) UpdateState(ctx context.Context, state model.WorkflowState) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_states SET
			status = $1,
			output = $2,
			error = $3,
			completed_at = $4
		WHERE id = $5`,
		state.Status, nullableJSON(state.Output), state.Error, state.CompletedAt,
		state.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow state %q not found", state.ID),
		)
	}
	return nil
}

// LatestState returns the most recent state row for a run.
func (s *PgStore) LatestState(ctx context.Context, runID string) (*model.WorkflowState, error) {
	states, err := s.ListStates(ctx, runID, 1)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return &states[0], nil
}

// ListStates returns a run's state rows, newest first.
func (s *PgStore) ListStates(ctx context.Context, runID string, limit int) ([]model.WorkflowState, error) {
	query := `SELECT id, run_id, stage, status, input, output, error,
	                 started_at, completed_at
	          FROM workflow_states
	          WHERE run_id = $1
	          ORDER BY started_at DESC, id DESC`
	args := []any{runID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query workflow states: %w", err)
	}
	defer rows.Close()

	var states []model.WorkflowState
	for rows.Next() {
		var st model.WorkflowState
		var input, output []byte
		if err := rows.Scan(
			&st.ID, &st.RunID, &st.Stage, &st.Status, &input, &output, &st.Error,
			&st.StartedAt, &st.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow state: %w", err)
		}
		st.Input = input
		st.Output = output
		states = append(states, st)
	}
	return states, rows.Err()
}

// CreateDocument persists a generated document and its chapters in one
// transaction.
func (s *PgStore) CreateDocument(ctx context.Context, doc model.Document) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal document metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin document transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (
			id, run_id, user_id, title, summary, status, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.RunID, doc.UserID, doc.Title, doc.Summary, doc.Status,
		metadata, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, ch := range doc.Chapters {
		_, err = tx.Exec(ctx, `
			INSERT INTO chapters (id, document_id, title, content, order_index)
			VALUES ($1, $2, $3, $4, $5)`,
			ch.ID, ch.DocumentID, ch.Title, ch.Content, ch.OrderIndex,
		)
		if err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.OrderIndex, err)
		}
	}

	return tx.Commit(ctx)
}

// GetDocumentByRun retrieves the document produced by a run.
func (s *PgStore) GetDocumentByRun(ctx context.Context, userID, runID string) (model.Document, error) {
	var doc model.Document
	var metadata []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, run_id, user_id, title, summary, status, metadata, created_at
		FROM documents
		WHERE run_id = $1 AND user_id = $2`,
		runID, userID,
	).Scan(
		&doc.ID, &doc.RunID, &doc.UserID, &doc.Title, &doc.Summary, &doc.Status,
		&metadata, &doc.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.Document{}, model.NewNotFoundError(
			fmt.Sprintf("document for run %q not found", runID),
		)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("query document: %w", err)
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return model.Document{}, fmt.Errorf("unmarshal document metadata: %w", err)
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, title, content, order_index
		FROM chapters
		WHERE document_id = $1
		ORDER BY order_index ASC`,
		doc.ID,
	)
	if err != nil {
		return model.Document{}, fmt.Errorf("query chapters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ch model.Chapter
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Title, &ch.Content, &ch.OrderIndex); err != nil {
			return model.Document{}, fmt.Errorf("scan chapter: %w", err)
		}
		doc.Chapters = append(doc.Chapters, ch)
	}
	return doc, rows.Err()
}

// HealthCheck implements Store.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("workflow store: ping: %w", err)
	}
	return nil
}

// nullableJSON maps an empty raw message to NULL so the jsonb columns never
// hold empty strings.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
