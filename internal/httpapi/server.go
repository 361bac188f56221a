package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"batchgen/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) error
	Ready() bool
}

// NewMux builds the router: /generate, /models, /status, /healthz,
// /readyz, /metrics and, with the swagger tag, /swagger/*.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.With(middleware.Compress(5)).Get("/models", h.models)
	r.With(middleware.Compress(5)).Get("/status", h.status)
	r.Post("/generate", h.generate)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// models godoc
// @Summary      List models
// @Description  Models discovered in the models directory.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.ListModels()})
}

// status godoc
// @Summary      Service status
// @Description  Served model, engine handle counters and uptime.
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

// generate godoc
// @Summary      Generate
// @Description  Runs a batch through the engine. The response is NDJSON: one line per decoding step when stream is set, then one final line with the results.
// @Tags         generate
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.GenerateRequest  true  "Batch and decoding options"
// @Success      200      {object}  types.FinalLine
// @Failure      400      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /generate [post]
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	var req types.GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Prompts) == 0 && len(req.Tokens) == 0 {
		writeJSONError(w, http.StatusBadRequest, "prompts or tokens is required")
		return
	}

	generateBatchSize.Observe(float64(len(req.Prompts) + len(req.Tokens)))
	rid := middleware.GetReqID(r.Context())
	lvl := requestLogLevel(r)
	start := time.Now()
	if lvl >= LevelInfo && zlog != nil {
		zlog.Info().Str("path", r.URL.Path).Str("request_id", rid).
			Int("batch", len(req.Prompts)+len(req.Tokens)).Bool("stream", req.Stream).Msg("generate start")
	}

	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if generateTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, generateTimeout)
		defer tcancel()
	}

	// Headers are committed on the first write; errors before it still get
	// a proper status.
	cw := &committingWriter{w: w}
	var out io.Writer = cw
	if lvl >= LevelDebug {
		out = io.MultiWriter(cw, &loggingLineWriter{rid: rid})
	}
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	err = h.svc.Generate(ctx, req, out, flush)
	status := http.StatusOK
	switch {
	case err == nil:
	case r.Context().Err() != nil || serverBaseCtx.Err() != nil:
		status = 499
	case cw.committed:
		// Mid-stream failure: the status line is gone, report it in-band.
		status = statusOf(err)
		_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: err.Error(), Code: status})
	default:
		status = writeError(w, err)
	}
	logEnd(r, lvl, rid, status, time.Since(start).Seconds(), err)
}

// committingWriter sets the NDJSON content type on the first write.
type committingWriter struct {
	w         http.ResponseWriter
	committed bool
}

func (c *committingWriter) Write(p []byte) (int, error) {
	if !c.committed {
		c.committed = true
		c.w.Header().Set("Content-Type", "application/x-ndjson")
		c.w.WriteHeader(http.StatusOK)
	}
	n, err := c.w.Write(p)
	streamedLines.Add(float64(bytes.Count(p[:n], []byte{'\n'})))
	return n, err
}
