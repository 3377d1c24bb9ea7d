package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reorder-engine/internal/app"
	"reorder-engine/internal/logger"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	log       *logger.Logger
	jwtSecret string
}

// NewHandler wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, log *logger.Logger, allowedOrigins, jwtSecret string) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	h := &Handler{svc: svc, log: log, jwtSecret: jwtSecret}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireSchedulerToken)
		r.Use(RequestBodyLimit(1 << 20))

		r.Post("/api/reorder/reconcile", h.reconcile)
		r.Post("/api/reorder/watchdog", h.watchdog)
		r.Post("/api/reorder/evaluate", h.evaluate)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	if err := h.svc.Health(r.Context()); err != nil {
		h.log.Warn("health check failed", "error", err)
		writeError(w, r, "database unavailable", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, response{Status: "ok"})
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched when
// allowEmpty is set. Oversized bodies get 413, malformed ones 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// writeServiceError maps application errors onto the JSON error envelope.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, app.ErrInvalidRequest) {
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	h.log.Error(op+" failed", "error", err, "request_id", requestIDFromContext(r.Context()))
	writeError(w, r, op+" failed", "INTERNAL_ERROR", http.StatusInternalServerError)
}
