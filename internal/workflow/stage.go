// Package workflow implements the PRD generation pipeline: a caller-paced
// state machine of three LLM stages with persisted, resumable snapshots.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/llm"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

// Decoding configuration shared by every stage: conservative temperature,
// generous completion budget.
const (
	execTemperature = 0.2
	execMaxTokens   = 4096
)

// PrepResult is what a stage's prep step hands to exec: the prompt to send
// and the possibly enriched state.
type PrepResult struct {
	Prompt string
	State  model.GenerationState
}

// Stage is one step of the generation pipeline. Prep gathers context and
// builds the prompt; Post parses the raw completion text back into state.
// The LLM call itself is owned by the Runner so every stage shares one
// audited, failure-degrading exec path.
type Stage interface {
	// Name returns the persisted stage identifier.
	Name() string

	// Prep gathers context and builds the stage prompt. It may call the
	// code host but never the LLM. Missing prior-stage data yields a
	// MISSING_INPUT error.
	Prep(ctx context.Context, state model.GenerationState) (PrepResult, error)

	// Post parses the completion text into structured state. It must be
	// deterministic given the same response, and must tolerate an empty
	// response by producing default-valued output.
	Post(response string, state model.GenerationState) (model.GenerationState, error)
}

// stageOutput is the persisted snapshot written to a completed state row.
type stageOutput struct {
	State   model.GenerationState `json:"state"`
	LLMCall *model.LLMCallDetails `json:"llm_call,omitempty"`
}

// decodeStageOutput reconstructs the pipeline state from a persisted
// snapshot.
func decodeStageOutput(raw json.RawMessage) (model.GenerationState, error) {
	var out stageOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return model.GenerationState{}, fmt.Errorf("decode stage output: %w", err)
	}
	return out.State, nil
}

// Runner executes one stage against a run: it persists a running state row,
// drives prep/exec/post, and finalizes the row as completed or failed.
type Runner struct {
	store   Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRunner creates a stage runner.
func NewRunner(store Store, logger *zap.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{store: store, logger: logger, metrics: metrics}
}

// Run executes one stage. On prep/post or infrastructure failure the run is
// marked failed and the ORIGINAL input state is returned, never a partial
// one. LLM failures do not reach this level; exec degrades them to an empty
// response.
func (r *Runner) Run(ctx context.Context, stage Stage, gw llm.Gateway, run model.WorkflowRun, input model.GenerationState) (model.GenerationState, error) {
	ctx, span := observability.StartSpan(ctx, "stage.execute",
		observability.AttrRunID.String(run.ID),
		observability.AttrStage.String(stage.Name()),
	)
	state, err := r.run(ctx, stage, gw, run, input)
	observability.EndSpanWithError(span, err)
	return state, err
}

func (r *Runner) run(ctx context.Context, stage Stage, gw llm.Gateway, run model.WorkflowRun, input model.GenerationState) (model.GenerationState, error) {
	logger := observability.RunLogger(ctx, r.logger, run.ID, stage.Name())
	start := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return input, fmt.Errorf("marshal stage input: %w", err)
	}

	row := model.WorkflowState{
		ID:        uuid.NewString(),
		RunID:     run.ID,
		Stage:     stage.Name(),
		Status:    model.StateStatusRunning,
		Input:     inputJSON,
		StartedAt: start,
	}
	if err := r.store.AppendState(ctx, row); err != nil {
		return input, err
	}

	logger.Info("stage started")

	state, llmCall, err := r.execute(ctx, stage, gw, input, logger)
	if err != nil {
		r.finishFailed(ctx, row, run, err, logger)
		r.recordStage(stage.Name(), "failed", start)
		return input, err
	}

	outputJSON, err := json.Marshal(stageOutput{State: state, LLMCall: llmCall})
	if err != nil {
		err = fmt.Errorf("marshal stage output: %w", err)
		r.finishFailed(ctx, row, run, err, logger)
		r.recordStage(stage.Name(), "failed", start)
		return input, err
	}

	now := time.Now().UTC()
	row.Status = model.StateStatusCompleted
	row.Output = outputJSON
	row.CompletedAt = &now
	if err := r.store.UpdateState(ctx, row); err != nil {
		r.failRun(ctx, run, logger)
		r.recordStage(stage.Name(), "failed", start)
		return input, err
	}

	logger.Info("stage completed", zap.Duration("duration", time.Since(start)))
	r.recordStage(stage.Name(), "completed", start)
	return state, nil
}

// execute drives the prep, exec, post sequence.
func (r *Runner) execute(ctx context.Context, stage Stage, gw llm.Gateway, input model.GenerationState, logger *zap.Logger) (model.GenerationState, *model.LLMCallDetails, error) {
	prep, err := stage.Prep(ctx, input)
	if err != nil {
		return input, nil, err
	}

	response, llmCall := r.exec(ctx, gw, prep.Prompt, logger)

	state, err := stage.Post(response, prep.State)
	if err != nil {
		return input, llmCall, err
	}
	return state, llmCall, nil
}

// exec sends the prompt to the gateway with the fixed decoding
// configuration. An empty prompt short-circuits without a call. A gateway
// failure is logged and degraded to an empty response so a single flaky
// external call does not waste a whole multi-minute pipeline run; post must
// tolerate the empty text.
func (r *Runner) exec(ctx context.Context, gw llm.Gateway, prompt string, logger *zap.Logger) (string, *model.LLMCallDetails) {
	if prompt == "" {
		return "", nil
	}

	details := &model.LLMCallDetails{
		Prompt:    prompt,
		StartedAt: time.Now().UTC(),
	}

	completion, err := gw.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: execTemperature,
		MaxTokens:   execMaxTokens,
	})
	details.CompletedAt = time.Now().UTC()

	if err != nil {
		logger.Warn("llm call failed, degrading to empty response", zap.Error(err))
		details.Error = err.Error()
		return "", details
	}

	details.Response = completion.Text
	details.TotalTokens = completion.Usage.TotalTokens
	return completion.Text, details
}

// finishFailed marks the state row and the run as failed. Both writes are
// best effort; the original stage error is what propagates.
func (r *Runner) finishFailed(ctx context.Context, row model.WorkflowState, run model.WorkflowRun, stageErr error, logger *zap.Logger) {
	now := time.Now().UTC()
	row.Status = model.StateStatusFailed
	row.Error = stageErr.Error()
	row.CompletedAt = &now
	if err := r.store.UpdateState(ctx, row); err != nil {
		logger.Error("failed to persist failed state row", zap.Error(err))
	}
	r.failRun(ctx, run, logger)
	logger.Error("stage failed", zap.Error(stageErr))
}

func (r *Runner) failRun(ctx context.Context, run model.WorkflowRun, logger *zap.Logger) {
	now := time.Now().UTC()
	run.Status = model.RunStatusFailed
	run.CompletedAt = &now
	if err := r.store.UpdateRun(ctx, run); err != nil {
		logger.Error("failed to mark run failed", zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.RecordRunCompletion(model.RunStatusFailed)
	}
}

func (r *Runner) recordStage(stage, status string, start time.Time) {
	if r.metrics != nil {
		r.metrics.RecordStageRun(stage, status, time.Since(start))
	}
}
