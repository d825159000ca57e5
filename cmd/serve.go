package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/monitoring"
	"github.com/sells-group/catalog-ingest/internal/pipeline"
	"github.com/sells-group/catalog-ingest/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)
		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		handler := newRouter(&apiServer{
			orch:          env.Orchestrator,
			runs:          env.Store,
			stats:         collector,
			lookbackHours: cfg.Monitoring.LookbackWindowHours,
			maxUpload:     cfg.Server.MaxUploadBytes,
		}, env.Registry, cfg.Server.AllowedOrigins)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiServer holds the dependencies of the HTTP handlers.
type apiServer struct {
	orch          *pipeline.Orchestrator
	runs          store.RunStore
	stats         *monitoring.Collector
	lookbackHours int
	maxUpload     int64
}

// runRequest is the body of POST /api/ingestion/run.
type runRequest struct {
	Sources []model.SourceRequest `json:"sources"`
}

// newRouter builds the HTTP routes. reg may be nil, which leaves /metrics
// unmounted.
func newRouter(s *apiServer, reg *prometheus.Registry, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/ingestion", func(r chi.Router) {
		r.Post("/extract", s.handleExtract)
		r.Post("/run", s.handleRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *apiServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeExtract(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.orch.Extract(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, resp)
}

// decodeExtract accepts either a multipart upload with a "file" part or a
// JSON SourceRequest.
func (s *apiServer) decodeExtract(w http.ResponseWriter, r *http.Request) (model.SourceRequest, error) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req model.SourceRequest
		if err := decodeBody(r.Body, &req); err != nil {
			return req, err
		}
		if req.Location != "" {
			return req, eris.Wrap(model.ErrMalformedInput, "extract: location is not accepted over HTTP uploads")
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return model.SourceRequest{}, uploadError(err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return model.SourceRequest{}, eris.Wrap(model.ErrMalformedInput, "extract: missing file part")
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		return model.SourceRequest{}, uploadError(err)
	}

	req := model.SourceRequest{
		Source: r.FormValue("source"),
		Format: model.Format(r.FormValue("format")),
		Raw:    data,
	}
	if req.Source == "" {
		req.Source = header.Filename
	}
	if req.Format == "" {
		req.Format, _ = model.FormatFromPath(header.Filename)
	}
	return req, nil
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	var req runRequest
	if err := decodeBody(r.Body, &req); err != nil {
		writeError(w, err)
		return
	}
	for i, src := range req.Sources {
		if src.Location != "" {
			writeError(w, eris.Wrapf(model.ErrMalformedInput, "run: source %d: location is not accepted over HTTP", i))
			return
		}
	}

	report, err := s.orch.Run(r.Context(), req.Sources)
	switch {
	case report == nil:
		writeError(w, err)
	case err != nil:
		writeJSONStatus(w, http.StatusUnprocessableEntity, report)
	default:
		writeJSONStatus(w, http.StatusOK, report)
	}
}

func (s *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	failed, _ := strconv.ParseBool(q.Get("failed"))

	runs, err := s.runs.ListRuns(r.Context(), store.RunFilter{FailedOnly: failed, Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSONStatus(w, http.StatusOK, runs)
}

func (s *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, report)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := s.lookbackHours
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 0 {
			writeError(w, eris.Wrapf(model.ErrMalformedInput, "stats: bad hours %q", v))
			return
		}
		hours = h
	}

	stats, err := s.stats.Collect(r.Context(), hours)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, stats)
}

func decodeBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return uploadError(err)
		}
		return eris.Wrapf(model.ErrMalformedInput, "invalid request body: %v", err)
	}
	return nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return eris.Wrapf(model.ErrSourceTooLarge, "upload exceeds %d bytes", tooLarge.Limit)
	}
	return eris.Wrapf(model.ErrMalformedInput, "read upload: %v", err)
}

// statusOf maps the error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrAllSourcesFailed):
		return http.StatusUnprocessableEntity
	}
	switch model.KindOf(err) {
	case model.KindMalformedInput, model.KindUnsupportedFormat:
		return http.StatusBadRequest
	case model.KindTimeoutExceeded:
		return http.StatusGatewayTimeout
	case model.KindCacheBuildFailure:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSONStatus(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(model.KindOf(err)),
	})
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
