package shimmer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/shimmer/internal/journal"
	"github.com/hazyhaar/shimmer/kit"
	"github.com/hazyhaar/shimmer/shield"
	"github.com/hazyhaar/shimmer/skeleton"
)

// Router returns the HTTP API behind the shield stack:
//
//	POST /v1/measure        run one loading episode
//	GET  /v1/config         effective ambient configuration
//	GET  /v1/measurements   recent journaled episodes (?limit=)
//	GET  /v1/measurements/{id}
//	GET  /healthz           liveness and browser readiness
func (e *Engine) Router(opts shield.Options) http.Handler {
	if opts.RateLimited == nil {
		opts.RateLimited = []string{"/v1/measure"}
	}
	r := chi.NewRouter()
	for _, mw := range shield.Stack(opts) {
		r.Use(mw)
	}

	measure := kit.Chain(kit.Logging("measure"), kit.Timeout(e.requestTimeout()))(e.measureEndpoint)

	r.Get("/healthz", e.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/measure", func(w http.ResponseWriter, r *http.Request) {
			var req Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					shield.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				shield.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
				return
			}
			resp, err := measure(r.Context(), &req)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, e.Resolve(r.Context(), skeleton.Override{}))
		})
		r.Get("/measurements", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if s := r.URL.Query().Get("limit"); s != "" {
				n, err := strconv.Atoi(s)
				if err != nil || n < 0 {
					shield.WriteError(w, http.StatusBadRequest, "limit must be a non-negative integer")
					return
				}
				limit = n
			}
			entries, err := e.Recent(r.Context(), limit)
			if err != nil {
				kit.Logger(r.Context()).Error("shimmer: list measurements", "error", err)
				shield.WriteError(w, http.StatusInternalServerError, "journal unavailable")
				return
			}
			writeJSON(w, http.StatusOK, entries)
		})
		r.Get("/measurements/{id}", func(w http.ResponseWriter, r *http.Request) {
			entry, err := e.Measurement(r.Context(), chi.URLParam(r, "id"))
			switch {
			case errors.Is(err, journal.ErrNotFound):
				shield.WriteError(w, http.StatusNotFound, "measurement not found")
			case err != nil:
				kit.Logger(r.Context()).Error("shimmer: get measurement", "error", err)
				shield.WriteError(w, http.StatusInternalServerError, "journal unavailable")
			default:
				writeJSON(w, http.StatusOK, entry)
			}
		})
	})
	return r
}

// requestTimeout bounds a whole measure call: waiting for a stage slot
// plus one episode.
func (e *Engine) requestTimeout() time.Duration {
	return 2 * e.cfg.Timeout
}

func (e *Engine) measureEndpoint(ctx context.Context, req any) (any, error) {
	return e.Measure(ctx, req.(*Request))
}

func (e *Engine) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !e.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEngineError maps Measure errors to status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoContent), errors.Is(err, ErrBadFragment):
		shield.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnavailable):
		w.Header().Set("Retry-After", "5")
		shield.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "5")
		shield.WriteError(w, http.StatusServiceUnavailable, "measurement timed out")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		w.WriteHeader(499)
	default:
		shield.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
