// Package hook serves the origin-request hook over HTTP: a CloudFront
// origin-request event in, the rewritten request out.
package hook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tjfontaine/edge-origin-router/internal/api/middleware"
	"github.com/tjfontaine/edge-origin-router/internal/core/domain"
)

const maxEventBytes = 1 << 20

// Router selects the origin for a request.
type Router interface {
	Route(ctx context.Context, req *domain.Request) *domain.Request
}

// Handler handles POST /origin-request.
type Handler struct {
	router Router
}

func NewHandler(router Router) *Handler {
	return &Handler{router: router}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var event domain.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&event); err != nil {
		middleware.AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if len(event.Records) == 0 || event.Records[0].CF.Request == nil {
		writeError(w, http.StatusBadRequest, "event has no cf.request record")
		return
	}

	in := event.Records[0].CF.Request
	if host, ok := in.Host(); ok {
		middleware.AddLogField(r.Context(), "edge_host", host)
	}
	out := h.router.Route(r.Context(), in)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": message},
	})
}
