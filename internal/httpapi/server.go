package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelhost/internal/errs"
	"modelhost/internal/events"
	"modelhost/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Ready() bool
	EnsureReady(ctx context.Context) error
	Reinitialize(ctx context.Context) error
	SwitchModel(ctx context.Context, id string) error
	Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error)

	ListModels() []types.ModelSummary
	Downloads() []types.DownloadStatus
	StartDownload(modelID string) (types.DownloadStatus, error)
	CancelDownload(modelID string) bool

	Capabilities(ctx context.Context) (types.CapabilityResponse, error)
	MatchFileType(ctx context.Context, modelID, ext string) types.FileTypeMatch
}

// EventSource is implemented by services that can stream lifecycle events.
// GET /events is only mounted when the service provides it.
type EventSource interface {
	Subscribe(buffer int, names ...string) (<-chan events.Event, func())
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Group(func(r chi.Router) {
		r.Use(inflightMiddleware)
		// Compression for JSON endpoints only; it would buffer the event stream.
		r.Use(middleware.Compress(5, "application/json"))

		r.Get("/status", h.status)
		r.Post("/ensure", h.lifecycle("ensure", svc.EnsureReady))
		r.Post("/reinitialize", h.lifecycle("reinitialize", svc.Reinitialize))
		r.Post("/switch", h.switchModel)
		r.Post("/infer", h.infer)
		r.Get("/models", h.models)
		r.Get("/downloads", h.downloads)
		r.Post("/downloads/{id}", h.startDownload)
		r.Delete("/downloads/{id}", h.cancelDownload)
		r.Get("/capabilities", h.capabilities)
		r.Get("/match/{id}", h.match)
	})
	if es, ok := svc.(EventSource); ok {
		r.Get("/events", eventsHandler(es))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("initializing"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

type handlers struct {
	svc Service
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// lifecycle runs an orchestrator operation, waiting at most ensureWait.
// When initialization outlives the wait the answer is 202 with the current
// status; the operation keeps running.
func (h *handlers) lifecycle(op string, fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		joined, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		ctx, cancelWait := context.WithTimeout(joined, ensureWait)
		defer cancelWait()

		err := fn(ctx)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, h.svc.Status())
			logOutcome(r, op, http.StatusOK, began, nil)
		case errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil:
			writeJSON(w, http.StatusAccepted, h.svc.Status())
			logOutcome(r, op, http.StatusAccepted, began, nil)
		case r.Context().Err() != nil || serverBaseCtx.Err() != nil:
			// client gone or shutting down
		default:
			logOutcome(r, op, writeErr(w, err), began, err)
		}
	}
}

func (h *handlers) switchModel(w http.ResponseWriter, r *http.Request) {
	var req types.SwitchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, errs.InvalidConfig, "model is required")
		return
	}
	h.lifecycle("switch", func(ctx context.Context) error {
		return h.svc.SwitchModel(ctx, req.Model)
	})(w, r)
}

func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	var req types.InferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	began := time.Now()
	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	res, err := h.svc.Infer(ctx, req)
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		logOutcome(r, "infer", writeErr(w, err), began, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
	logOutcome(r, "infer", http.StatusOK, began, nil)
}

func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.ListModels()})
}

func (h *handlers) downloads(w http.ResponseWriter, r *http.Request) {
	ds := h.svc.Downloads()
	if ds == nil {
		ds = []types.DownloadStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": ds})
}

func (h *handlers) startDownload(w http.ResponseWriter, r *http.Request) {
	began := time.Now()
	st, err := h.svc.StartDownload(chi.URLParam(r, "id"))
	if err != nil {
		logOutcome(r, "download", writeErr(w, err), began, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
	logOutcome(r, "download", http.StatusAccepted, began, nil)
}

func (h *handlers) cancelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.svc.CancelDownload(id) {
		writeError(w, http.StatusNotFound, errs.ModelNotFound, "no active download for "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) capabilities(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Capabilities(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// match answers GET /match/{id}?ext=.jpg. The id "active" means the
// currently selected model.
func (h *handlers) match(w http.ResponseWriter, r *http.Request) {
	ext := strings.TrimSpace(r.URL.Query().Get("ext"))
	if ext == "" {
		writeJSONError(w, http.StatusBadRequest, "ext query parameter is required")
		return
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	id := chi.URLParam(r, "id")
	if id == "active" {
		id = ""
	}
	writeJSON(w, http.StatusOK, h.svc.MatchFileType(r.Context(), id, ext))
}

// decodeJSON enforces the JSON content type and body limit. It writes the
// error response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies are reported as 400 too, to avoid leaking the limit.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
