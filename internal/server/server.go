package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/sepsis-api/sepsis/internal/audit"
	"github.com/sepsis-api/sepsis/internal/bundle"
	"github.com/sepsis-api/sepsis/internal/config"
	"github.com/sepsis-api/sepsis/internal/inference"
	"github.com/sepsis-api/sepsis/internal/web"
)

// Predictor runs one validated record through the model.
type Predictor interface {
	Predict(ctx context.Context, rec inference.Record) (inference.Prediction, error)
}

// ModelInfo is what GET /model reports about the served bundle.
type ModelInfo struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Features   []string `json:"features"`
	Classifier string   `json:"classifier"`
	Classes    []string `json:"classes,omitempty"`
}

// ModelInfoFromBundle describes a loaded bundle.
func ModelInfoFromBundle(b *bundle.Bundle) ModelInfo {
	if b == nil {
		return ModelInfo{}
	}
	info := ModelInfo{
		Name:       b.Descriptor.Name,
		Version:    b.Descriptor.Version,
		Features:   append([]string(nil), b.Descriptor.Features...),
		Classifier: b.Descriptor.Classifier.Type,
	}
	if b.LabelEncoder != nil {
		info.Classes = append([]string(nil), b.LabelEncoder.Classes...)
	}
	return info
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Logger *zap.Logger
	Audit  *audit.Emitter
	Model  ModelInfo
	// IncludeFeatures copies submitted features into audit events.
	IncludeFeatures bool
}

// Server wraps the HTTP server components for the sepsis API.
type Server struct {
	mux       *http.ServeMux
	handler   http.Handler
	cfg       *config.Config
	predictor Predictor
	model     ModelInfo
	logger    *zap.Logger
	audit     *audit.Emitter

	includeFeatures bool
	inFlight        chan struct{}
	results         *expirable.LRU[string, predictionResponse]

	httpServer *http.Server
}

// New creates a server with all routes registered.
func New(cfg *config.Config, predictor Predictor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:             mux,
		cfg:             cfg,
		predictor:       predictor,
		model:           opts.Model,
		logger:          logger,
		audit:           opts.Audit,
		includeFeatures: opts.IncludeFeatures,
		inFlight:        make(chan struct{}, cfg.Server.MaxInFlightRequests),
		results:         expirable.NewLRU[string, predictionResponse](cfg.Server.ResultHistorySize, nil, cfg.Server.ResultHistoryTTL),
	}

	// Routes
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/robots.txt", handleRobots)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/predictions/", s.handlePredictionLookup)
	mux.HandleFunc("/model", s.handleModel)

	// Landing page + static
	site := web.Handler()
	mux.Handle("/static/", site)
	mux.Handle("/", site)

	s.handler = Chain(
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggerMiddleware(logger),
	)(mux)

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on cfg.Server.Addr and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("sepsis api listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("model", s.model.Name),
		zap.String("version", s.model.Version),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ready")
}

const robotsTxt = "User-agent: *\nDisallow: /\n"

func handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(robotsTxt))
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.model)
}

func (s *Server) handlePredictionLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	requestID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/predictions/"))
	if requestID == "" {
		http.NotFound(w, r)
		return
	}
	resp, ok := s.results.Get(requestID)
	if !ok {
		writeError(w, http.StatusNotFound, "prediction not found or expired", "not_found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Response helpers ---

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError writes the service's JSON error shape.
func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, errorBody{
		Error: errorDetail{
			Message: message,
			Type:    typ,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
}
