package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/config"
	"github.com/isdmx/playground-runner/logger"
	"github.com/isdmx/playground-runner/sandbox"
)

// SecretHeader carries the shared secret
const SecretHeader = "X-JP-Secret"

// Statuses that only exist at the HTTP boundary
const (
	StatusUnauthorized  = "unauthorized"
	StatusInternalError = "internal-error"
)

// RunRequest is the JSON body of POST /run
type RunRequest struct {
	Source    string `json:"source"`
	Stdin     string `json:"stdin"`
	TimeoutMs *int   `json:"timeoutMs"`
}

// RunResponse is the JSON body returned by POST /run
type RunResponse struct {
	Status        string `json:"status"`
	CompileOutput string `json:"compileOutput,omitempty"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      *int   `json:"exitCode"`
	TimedOut      bool   `json:"timedOut"`
}

// Server is the HTTP boundary of the runner
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	runner     sandbox.Runner
	router     *chi.Mux
	httpServer *http.Server
}

// New creates a Server with all routes registered
func New(cfg *config.Config, logger *zap.Logger, runner sandbox.Runner) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		runner: runner,
		router: chi.NewRouter(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(requestLogger(s.logger))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireSecret)
		r.Post("/run", s.handleRun)
	})
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves in the background
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown waits for in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With(logger.RequestID(chimiddleware.GetReqID(r.Context())))

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Info("rejected oversized run request", zap.Int64("limit", tooLarge.Limit))
			writeJSON(w, http.StatusOK, RunResponse{
				Status:        string(sandbox.StatusCompileError),
				CompileOutput: fmt.Sprintf("Source code is too large: request body exceeds %d bytes.", tooLarge.Limit),
			})
			return
		}
		log.Warn("malformed run request", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, RunResponse{
			Status: StatusInternalError,
			Stderr: "Malformed request body.",
		})
		return
	}

	result, err := s.runner.Run(r.Context(), sandbox.Request{
		Source:    req.Source,
		Stdin:     req.Stdin,
		TimeoutMs: req.TimeoutMs,
	})
	if err != nil {
		log.Error("run failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, RunResponse{
			Status: StatusInternalError,
			Stderr: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, toResponse(result))
}

// requireSecret rejects requests without the configured shared secret. An
// empty secret disables the check.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.Server.SharedSecret
		if secret != "" {
			provided := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				s.logger.Warn("rejected request with bad shared secret",
					logger.RequestID(chimiddleware.GetReqID(r.Context())),
					zap.String("remote_addr", r.RemoteAddr))
				writeJSON(w, http.StatusForbidden, RunResponse{
					Status: StatusUnauthorized,
					Stderr: "Unauthorized.",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodyBytes leaves room for JSON escaping of the largest accepted
// source and stdin
func (s *Server) maxBodyBytes() int64 {
	return int64(s.cfg.Runner.MaxSourceChars)*12 + int64(s.cfg.Runner.MaxStdinBytes)*6 + 4096
}

//nolint:gocritic // Result is passed by value throughout the sandbox package
func toResponse(r sandbox.Result) RunResponse {
	return RunResponse{
		Status:        string(r.Status),
		CompileOutput: r.CompileOutput,
		Stdout:        r.Stdout,
		Stderr:        r.Stderr,
		ExitCode:      r.ExitCode,
		TimedOut:      r.TimedOut,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger logs every request once it completes
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("request completed",
				logger.RequestID(chimiddleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
