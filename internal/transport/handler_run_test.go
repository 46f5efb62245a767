package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gitlify/gitlify/internal/config"
	"github.com/gitlify/gitlify/internal/githost"
	"github.com/gitlify/gitlify/internal/llm"
	"github.com/gitlify/gitlify/internal/observability"
	"github.com/gitlify/gitlify/internal/workflow"
	"github.com/gitlify/gitlify/model"
)

// stubHost serves repository metadata and nothing else; file and directory
// fetches miss, which the stages tolerate.
type stubHost struct {
	repoErr error
}

func (h *stubHost) GetRepo(_ context.Context, owner, name string) (*model.RepositoryMeta, error) {
	if h.repoErr != nil {
		return nil, h.repoErr
	}
	return &model.RepositoryMeta{Owner: owner, Name: name, Language: "TypeScript"}, nil
}

func (h *stubHost) GetFile(_ context.Context, _, _, _ string) (string, error) {
	return "", githost.ErrPathNotFound
}

func (h *stubHost) ListDir(_ context.Context, _, _, _ string) ([]githost.Entry, error) {
	return nil, githost.ErrPathNotFound
}

// stubGateway returns scripted completions in order, repeating the last one.
type stubGateway struct {
	responses []string
	calls     int
}

func (g *stubGateway) Provider() string { return "stub" }

func (g *stubGateway) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.Completion, error) {
	idx := g.calls
	g.calls++
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	text := ""
	if idx >= 0 {
		text = g.responses[idx]
	}
	return &llm.Completion{Text: text}, nil
}

const stubAbstractions = `## Parser
Description: parses model output
Responsibilities:
- split blocks

Relationships:
- Store: uses - persists results
`

const stubRequirements = `The abstraction needs the following.

## Requirement: Parse blocks
Type: functional
Priority: high
Description: must split response blocks on headers
`

// claimsAuth is an auth middleware stub that injects claims directly,
// bypassing JWT verification.
func claimsAuth(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithClaims(r.Context(), map[string]any{"sub": userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func testDeps(t *testing.T) Dependencies {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}

	store := workflow.NewMemoryStore()
	gw := &stubGateway{responses: []string{
		"The repository is a TypeScript widget factory.",
		stubAbstractions,
		stubRequirements,
	}}
	registry := llm.NewStaticRegistry(map[string]llm.Gateway{"gpt": gw})
	orc := workflow.NewOrchestrator(store, registry, &stubHost{}, zap.NewNop(), nil)

	return Dependencies{
		Config:       cfg,
		Orchestrator: orc,
		Readiness:    observability.ReadinessChecks{WorkflowStore: store},
		Authenticate: claimsAuth("user-1"),
	}
}

func doJSON(t *testing.T, router chi.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error == nil {
		t.Fatal("response has no error envelope")
	}
	return body.Error.Code
}

func TestRunEndpointsFullFlow(t *testing.T) {
	router := NewRouter(testDeps(t))

	w := doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/widgets","llm_config_id":"gpt"}`)
	if w.Code != 201 {
		t.Fatalf("initialize status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var run model.WorkflowRun
	if err := json.NewDecoder(w.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID == "" || run.Status != model.RunStatusPending {
		t.Fatalf("run = %+v, want pending run with ID", run)
	}

	wantSteps := []struct{ step, next string }{
		{model.StageRepositoryAnalysis, model.StageCoreAbstractions},
		{model.StageCoreAbstractions, model.StageRequirementsExtraction},
		{model.StageRequirementsExtraction, "complete"},
	}
	for i, want := range wantSteps {
		w = doJSON(t, router, "PUT", "/api/runs/"+run.ID+"/advance", "")
		if w.Code != 200 {
			t.Fatalf("advance %d status = %d: %s", i+1, w.Code, w.Body.String())
		}
		var result workflow.AdvanceResult
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("decode advance %d: %v", i+1, err)
		}
		if result.Step != want.step || result.NextStep != want.next {
			t.Errorf("advance %d = %s/%s, want %s/%s", i+1, result.Step, result.NextStep, want.step, want.next)
		}
	}

	// Status shows the completed run with its step history.
	w = doJSON(t, router, "GET", "/api/runs/"+run.ID, "")
	if w.Code != 200 {
		t.Fatalf("status status = %d", w.Code)
	}
	var status workflow.RunStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Run.Status != model.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", status.Run.Status)
	}
	if len(status.RecentSteps) != 3 {
		t.Errorf("recent steps = %d, want 3", len(status.RecentSteps))
	}

	// The assembled document is served once the run completes.
	w = doJSON(t, router, "GET", "/api/runs/"+run.ID+"/document", "")
	if w.Code != 200 {
		t.Fatalf("document status = %d: %s", w.Code, w.Body.String())
	}
	var doc model.Document
	if err := json.NewDecoder(w.Body).Decode(&doc); err != nil {
		t.Fatalf("decode document: %v", err)
	}
	if doc.RunID != run.ID || len(doc.Chapters) < 3 {
		t.Errorf("document = run %s with %d chapters", doc.RunID, len(doc.Chapters))
	}

	// A terminal run rejects further advances.
	w = doJSON(t, router, "PUT", "/api/runs/"+run.ID+"/advance", "")
	if w.Code != 409 {
		t.Errorf("advance on terminal run status = %d, want 409", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrWorkflowTerminal {
		t.Errorf("error code = %s, want %s", code, model.ErrWorkflowTerminal)
	}
}

func TestRunInitializeValidation(t *testing.T) {
	router := NewRouter(testDeps(t))

	w := doJSON(t, router, "POST", "/api/runs", `{"repository":"not-a-ref","llm_config_id":"gpt"}`)
	if w.Code != 400 {
		t.Errorf("bad ref status = %d, want 400", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/widgets","llm_config_id":"nope"}`)
	if w.Code != 400 {
		t.Errorf("unknown config status = %d, want 400", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrLLMConfigInvalid {
		t.Errorf("error code = %s, want %s", code, model.ErrLLMConfigInvalid)
	}

	w = doJSON(t, router, "POST", "/api/runs", `{not json`)
	if w.Code != 400 {
		t.Errorf("invalid body status = %d, want 400", w.Code)
	}
}

func TestRunInitializeRepositoryNotFound(t *testing.T) {
	deps := testDeps(t)
	store := workflow.NewMemoryStore()
	registry := llm.NewStaticRegistry(map[string]llm.Gateway{"gpt": &stubGateway{}})
	host := &stubHost{repoErr: model.NewRepositoryNotFoundError("octo/widgets")}
	deps.Orchestrator = workflow.NewOrchestrator(store, registry, host, zap.NewNop(), nil)
	router := NewRouter(deps)

	w := doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/widgets","llm_config_id":"gpt"}`)
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if code := decodeErrorCode(t, w); code != model.ErrRepositoryNotFound {
		t.Errorf("error code = %s, want %s", code, model.ErrRepositoryNotFound)
	}
}

func TestRunList(t *testing.T) {
	router := NewRouter(testDeps(t))

	doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/widgets","llm_config_id":"gpt"}`)
	doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/gadgets","llm_config_id":"gpt"}`)

	w := doJSON(t, router, "GET", "/api/runs", "")
	if w.Code != 200 {
		t.Fatalf("list status = %d", w.Code)
	}
	var body struct {
		Runs  []model.WorkflowRun `json:"runs"`
		Count int                 `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if body.Count != 2 || len(body.Runs) != 2 {
		t.Errorf("count = %d with %d runs, want 2", body.Count, len(body.Runs))
	}

	w = doJSON(t, router, "GET", "/api/runs?status=completed", "")
	if w.Code != 200 {
		t.Fatalf("filtered list status = %d", w.Code)
	}
	body.Runs = nil
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Runs) != 0 {
		t.Errorf("completed runs = %d, want 0", len(body.Runs))
	}
}

func TestRunEndpointsScopedToOwner(t *testing.T) {
	deps := testDeps(t)
	router := NewRouter(deps)

	w := doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/widgets","llm_config_id":"gpt"}`)
	var run model.WorkflowRun
	json.NewDecoder(w.Body).Decode(&run)

	// Same orchestrator, different authenticated user.
	deps.Authenticate = claimsAuth("user-2")
	other := NewRouter(deps)

	w = doJSON(t, other, "GET", "/api/runs/"+run.ID, "")
	if w.Code != 404 {
		t.Errorf("cross-user status = %d, want 404", w.Code)
	}
	w = doJSON(t, other, "PUT", "/api/runs/"+run.ID+"/advance", "")
	if w.Code != 404 {
		t.Errorf("cross-user advance = %d, want 404", w.Code)
	}
}

func TestRunEndpointsRequireIdentity(t *testing.T) {
	deps := testDeps(t)
	// Auth that passes through without claims leaves the request anonymous.
	deps.Authenticate = func(next http.Handler) http.Handler { return next }
	router := NewRouter(deps)

	w := doJSON(t, router, "GET", "/api/runs", "")
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestDocumentNotReady(t *testing.T) {
	router := NewRouter(testDeps(t))

	w := doJSON(t, router, "POST", "/api/runs", `{"repository":"octo/widgets","llm_config_id":"gpt"}`)
	var run model.WorkflowRun
	json.NewDecoder(w.Body).Decode(&run)

	w = doJSON(t, router, "GET", "/api/runs/"+run.ID+"/document", "")
	if w.Code != 404 {
		t.Errorf("document before completion = %d, want 404", w.Code)
	}
}
