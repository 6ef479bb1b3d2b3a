package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"whatsapp-dispatch/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

type Options struct {
	Port           int
	RequestTimeout time.Duration
	SetupMode      bool
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath string
}

// Server is the HTTP gateway: job submission, session status and control,
// dead-letter inspection.
type Server struct {
	session usecase.SessionUseCase
	jobs    usecase.JobUseCase
	opts    Options
	log     *zerolog.Logger
	server  *http.Server
}

func NewServer(session usecase.SessionUseCase, jobs usecase.JobUseCase, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	compLog := logger.With().Str("component", "Gateway").Logger()
	s := &Server{session: session, jobs: jobs, opts: opts, log: &compLog}
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the chi router with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/qr", s.handleQR)
	r.Get("/session-info", s.handleSessionInfo)
	r.Post("/send", s.handleSend)
	r.Post("/clear-session", s.handleClearSession)
	r.Post("/restart-session", s.handleRestartSession)
	r.Get("/deadletter", s.handleDeadLetterList)
	r.Post("/deadletter/replay", s.handleDeadLetterReplay)
	if s.opts.MetricsPath != "" {
		r.Handle(s.opts.MetricsPath, promhttp.Handler())
	}

	return Chain(r,
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.opts.RequestTimeout),
		MaxBody(maxBodyBytes),
	)
}

// Start listens until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
