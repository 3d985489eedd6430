package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ---------------------------------------------------------------------------
// Generic read handler factories
// ---------------------------------------------------------------------------

// handleListByParam creates a handler that lists resources scoped by a URL parameter.
func handleListByParam[T any](param string, listFn func(ctx context.Context, paramVal string) ([]T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		val := chi.URLParam(r, param)
		items, err := listFn(r.Context(), val)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleGet creates a handler that retrieves a single resource by URL param "id".
func handleGet[T any](getFn func(ctx context.Context, id string) (*T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		item, err := getFn(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleCommand creates a handler that decodes a JSON body and runs a task
// command for URL param "id". Accepted commands answer 202; the workflow
// continues in the background and reports progress over the event stream.
func handleCommand[Req any](bodyLimit int64, runFn func(ctx context.Context, id string, req Req) error, notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req Req
		if r.ContentLength != 0 {
			var ok bool
			if req, ok = readJSON[Req](w, r, bodyLimit); !ok {
				return
			}
		}
		if err := runFn(r.Context(), id, req); err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusAccepted, acceptedResponse{TaskID: id, Status: "accepted"})
	}
}

type acceptedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}
