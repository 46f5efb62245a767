package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/githost"
	"github.com/gitlify/gitlify/internal/llm"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/model"
)

// NextStepComplete is reported to the caller when no further advance calls
// are needed.
const NextStepComplete = "complete"

const recentStepsLimit = 10

// phase is the orchestrator's explicit view of where a run stands, derived
// from the run status and the latest persisted state row alone.
type phase int

const (
	phaseInit       phase = iota // nothing ran yet: run repository analysis
	phaseAnalyzed                // analysis done: run core abstractions
	phaseExtracting              // abstractions known: run requirements extraction
	phaseDone                    // extraction finished but run not yet finalized
)

// Orchestrator owns the run state machine. Each Advance call executes
// exactly one stage and returns; the caller paces the pipeline.
type Orchestrator struct {
	store    Store
	registry *llm.Registry
	host     githost.Client
	runner   *Runner

	analysis     *RepositoryAnalysisStage
	abstractions *CoreAbstractionsStage
	requirements *RequirementsExtractionStage

	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewOrchestrator wires the orchestrator and its three stages.
func NewOrchestrator(store Store, registry *llm.Registry, host githost.Client, logger *zap.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		store:        store,
		registry:     registry,
		host:         host,
		runner:       NewRunner(store, logger, metrics),
		analysis:     NewRepositoryAnalysisStage(host, logger),
		abstractions: NewCoreAbstractionsStage(host, logger, metrics),
		requirements: NewRequirementsExtractionStage(host, logger, metrics),
		logger:       logger,
		metrics:      metrics,
	}
}

// StateFragment is the partial state view returned from an advance call.
// Prompt and response text never leave the store.
type StateFragment struct {
	AnalysisDone         bool `json:"analysis_done"`
	AbstractionCount     int  `json:"abstraction_count"`
	CurrentAbstraction   int  `json:"current_abstraction"`
	AbstractionsComplete bool `json:"abstractions_complete"`
}

// AdvanceResult reports which stage ran and what the caller should do
// next.
type AdvanceResult struct {
	Step     string            `json:"step"`
	NextStep string            `json:"next_step"`
	Run      model.WorkflowRun `json:"run"`
	State    StateFragment     `json:"state"`
}

// RunStatus is the read-only projection returned from a status call.
type RunStatus struct {
	Run         model.WorkflowRun   `json:"run"`
	RecentSteps []model.StepSummary `json:"recent_steps"`
}

// Initialize validates the target repository and LLM config, then creates
// a pending run.
func (o *Orchestrator) Initialize(ctx context.Context, userID, repoRef, llmConfigID string) (model.WorkflowRun, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.initialize",
		observability.AttrRepository.String(repoRef),
		observability.AttrUserID.String(userID),
		observability.AttrLLMConfig.String(llmConfigID),
	)
	run, err := o.initialize(ctx, userID, repoRef, llmConfigID)
	observability.EndSpanWithError(span, err)
	return run, err
}

func (o *Orchestrator) initialize(ctx context.Context, userID, repoRef, llmConfigID string) (model.WorkflowRun, error) {
	owner, name, ok := splitRepoRef(repoRef)
	if !ok {
		return model.WorkflowRun{}, model.NewBadRequestError(`repository must be of the form "owner/name"`)
	}

	if _, err := o.registry.Get(llmConfigID); err != nil {
		return model.WorkflowRun{}, err
	}

	meta, err := o.host.GetRepo(ctx, owner, name)
	if err != nil {
		return model.WorkflowRun{}, err
	}

	run := model.WorkflowRun{
		ID:          uuid.NewString(),
		UserID:      userID,
		Repository:  meta.FullName(),
		LLMConfigID: llmConfigID,
		Status:      model.RunStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return model.WorkflowRun{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordRunStart(llmConfigID)
	}
	observability.RequestLogger(ctx, o.logger).Info("workflow run created",
		zap.String("run_id", run.ID),
		zap.String("repository", run.Repository),
		zap.String("llm_config", llmConfigID),
	)
	return run, nil
}

// Advance executes exactly one stage for the run. Terminal runs are
// rejected without creating state rows; concurrent advances on the same
// run lose the version race and get a CONFLICT.
func (o *Orchestrator) Advance(ctx context.Context, userID, runID string) (*AdvanceResult, error) {
	run, err := o.store.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		return nil, model.NewWorkflowTerminalError(run.ID, run.Status)
	}

	gw, err := o.registry.Get(run.LLMConfigID)
	if err != nil {
		return nil, err
	}

	latest, err := o.store.LatestState(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	ph, state, err := o.decidePhase(run, latest)
	if err != nil {
		return nil, err
	}

	// Claim the run before touching anything else. The version bump makes
	// a concurrent advance on the same run fail with CONFLICT instead of
	// double-executing a stage.
	if run.Status == model.RunStatusPending {
		now := time.Now().UTC()
		run.Status = model.RunStatusRunning
		run.StartedAt = &now
	}
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	run.Version++ // mirror the store's increment

	if ph == phaseDone {
		// Extraction already finished but the run was never finalized,
		// e.g. a crash between the last stage and the completion write.
		if err := o.finalize(ctx, &run, state); err != nil {
			return nil, err
		}
		return &AdvanceResult{
			Step:     NextStepComplete,
			NextStep: NextStepComplete,
			Run:      run,
			State:    fragment(state),
		}, nil
	}

	stage := o.stageFor(ph)
	newState, err := o.runner.Run(ctx, stage, gw, run, state)
	if err != nil {
		return nil, err
	}

	result := &AdvanceResult{Step: stage.Name(), State: fragment(newState)}
	switch {
	case ph == phaseInit:
		result.NextStep = model.StageCoreAbstractions
	case ph == phaseAnalyzed:
		result.NextStep = model.StageRequirementsExtraction
	case newState.AbstractionsComplete:
		if err := o.finalize(ctx, &run, newState); err != nil {
			return nil, err
		}
		result.NextStep = NextStepComplete
	default:
		result.NextStep = model.StageRequirementsExtraction
	}
	result.Run = run
	return result, nil
}

// Status returns a read-only projection of a run and its recent steps,
// newest first.
func (o *Orchestrator) Status(ctx context.Context, userID, runID string) (*RunStatus, error) {
	run, err := o.store.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}

	states, err := o.store.ListStates(ctx, run.ID, recentStepsLimit)
	if err != nil {
		return nil, err
	}

	steps := make([]model.StepSummary, len(states))
	for i, st := range states {
		steps[i] = model.StepSummary{
			Stage:       st.Stage,
			Status:      st.Status,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
		}
	}
	return &RunStatus{Run: run, RecentSteps: steps}, nil
}

// Document returns the PRD produced by a completed run.
func (o *Orchestrator) Document(ctx context.Context, userID, runID string) (model.Document, error) {
	return o.store.GetDocumentByRun(ctx, userID, runID)
}

// List returns the user's runs, newest first.
func (o *Orchestrator) List(ctx context.Context, userID string, filters RunFilters) ([]model.WorkflowRun, error) {
	return o.store.ListRuns(ctx, userID, filters)
}

// decidePhase derives the next phase and working state from the run and
// its latest persisted state row alone. A running row means a crash
// mid-stage; that stage is retried from its input snapshot.
func (o *Orchestrator) decidePhase(run model.WorkflowRun, latest *model.WorkflowState) (phase, model.GenerationState, error) {
	if latest == nil || run.Status == model.RunStatusPending {
		return phaseInit, o.initialState(run), nil
	}

	switch latest.Status {
	case model.StateStatusRunning:
		state, err := decodeInput(latest.Input)
		if err != nil {
			return 0, model.GenerationState{}, model.NewUnknownWorkflowStateError(err.Error())
		}
		switch latest.Stage {
		case model.StageRepositoryAnalysis:
			return phaseInit, state, nil
		case model.StageCoreAbstractions:
			return phaseAnalyzed, state, nil
		case model.StageRequirementsExtraction:
			return phaseExtracting, state, nil
		}

	case model.StateStatusCompleted:
		state, err := decodeStageOutput(latest.Output)
		if err != nil {
			return 0, model.GenerationState{}, model.NewUnknownWorkflowStateError(err.Error())
		}
		switch latest.Stage {
		case model.StageRepositoryAnalysis:
			return phaseAnalyzed, state, nil
		case model.StageCoreAbstractions:
			return phaseExtracting, state, nil
		case model.StageRequirementsExtraction:
			if state.AbstractionsComplete {
				return phaseDone, state, nil
			}
			return phaseExtracting, state, nil
		}
	}

	return 0, model.GenerationState{}, model.NewUnknownWorkflowStateError(
		fmt.Sprintf("run %s: no transition for stage %q with status %q", run.ID, latest.Stage, latest.Status),
	)
}

func (o *Orchestrator) stageFor(ph phase) Stage {
	switch ph {
	case phaseAnalyzed:
		return o.abstractions
	case phaseExtracting:
		return o.requirements
	default:
		return o.analysis
	}
}

// finalize assembles and persists the PRD, then marks the run completed.
// The document write is idempotent so a retried finalization after a crash
// doesn't duplicate it.
func (o *Orchestrator) finalize(ctx context.Context, run *model.WorkflowRun, state model.GenerationState) error {
	if _, err := o.store.GetDocumentByRun(ctx, run.UserID, run.ID); err != nil {
		doc := buildDocument(*run, state)
		if err := o.store.CreateDocument(ctx, doc); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	if err := o.store.UpdateRun(ctx, *run); err != nil {
		return err
	}
	run.Version++

	if o.metrics != nil {
		o.metrics.RecordRunCompletion(model.RunStatusCompleted)
	}
	observability.RequestLogger(ctx, o.logger).Info("workflow run completed",
		zap.String("run_id", run.ID),
		zap.Int("abstractions", len(state.Abstractions)),
	)
	return nil
}

// initialState seeds the pipeline state from the run record. Metadata is
// enriched by the analysis stage's prep.
func (o *Orchestrator) initialState(run model.WorkflowRun) model.GenerationState {
	owner, name, _ := splitRepoRef(run.Repository)
	return model.GenerationState{
		RunID:      run.ID,
		UserID:     run.UserID,
		Repository: model.RepositoryMeta{Owner: owner, Name: name},
	}
}

func decodeInput(raw json.RawMessage) (model.GenerationState, error) {
	var state model.GenerationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return model.GenerationState{}, fmt.Errorf("decode stage input: %w", err)
	}
	return state, nil
}

func fragment(state model.GenerationState) StateFragment {
	return StateFragment{
		AnalysisDone:         state.Analysis != nil,
		AbstractionCount:     len(state.Abstractions),
		CurrentAbstraction:   state.CurrentAbstraction,
		AbstractionsComplete: state.AbstractionsComplete,
	}
}

func splitRepoRef(ref string) (owner, name string, ok bool) {
	owner, name, found := strings.Cut(ref, "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}
