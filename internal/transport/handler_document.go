package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gitlify/gitlify/internal/workflow"
)

func handleDocumentGet(orc *workflow.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestUser(w, r)
		if !ok {
			return
		}
		runID := chi.URLParam(r, "runId")

		doc, err := orc.Document(r.Context(), rctx.UserID, runID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}
