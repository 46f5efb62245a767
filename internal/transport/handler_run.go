package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gitlify/gitlify/internal/workflow"
	"github.com/gitlify/gitlify/model"
)

// requestUser extracts the authenticated user from the request context, or
// writes a 401 and reports false.
func requestUser(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil || rctx.UserID == "" {
		WriteError(w, r, model.NewUnauthorizedError("missing request identity"))
		return nil, false
	}
	return rctx, true
}

func handleRunInitialize(orc *workflow.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestUser(w, r)
		if !ok {
			return
		}

		var body struct {
			Repository  string `json:"repository"`
			LLMConfigID string `json:"llm_config_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}

		run, err := orc.Initialize(r.Context(), rctx.UserID, body.Repository, body.LLMConfigID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, run)
	}
}

func handleRunAdvance(orc *workflow.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestUser(w, r)
		if !ok {
			return
		}
		runID := chi.URLParam(r, "runId")

		result, err := orc.Advance(r.Context(), rctx.UserID, runID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleRunStatus(orc *workflow.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestUser(w, r)
		if !ok {
			return
		}
		runID := chi.URLParam(r, "runId")

		status, err := orc.Status(r.Context(), rctx.UserID, runID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

func handleRunList(orc *workflow.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestUser(w, r)
		if !ok {
			return
		}

		filters := workflow.RunFilters{
			Status: r.URL.Query().Get("status"),
			Limit:  queryInt(r, "limit", 20),
			Offset: queryInt(r, "offset", 0),
		}

		runs, err := orc.List(r.Context(), rctx.UserID, filters)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"runs":  runs,
			"count": len(runs),
		})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
