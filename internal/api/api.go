// Package api provides the HTTP control surface for funnelbot.
//
// It exposes endpoints to start and stop the funnel engine with a given role
// and permission set, inspect the connection lifecycle and QR pairing state,
// and review messages the funnel did not recognize.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/funnel"
	"github.com/whatsadvisor/funnelbot/internal/media"
	"github.com/whatsadvisor/funnelbot/internal/messaging"
	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/scheduler"
	"github.com/whatsadvisor/funnelbot/internal/store"
	"github.com/whatsadvisor/funnelbot/internal/whatsapp"
)

// DefaultAddr is the default API listen address.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	CORSOrigins []string
	Role        string
	Domains     []models.Domain
	Service     messaging.Service
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCORSOrigins sets the allowed CORS origins. Empty means allow any.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) { o.CORSOrigins = origins }
}

// WithDefaultRole sets the role used when POST /start carries none.
func WithDefaultRole(role string) Option {
	return func(o *Opts) { o.Role = role }
}

// WithDefaultDomains sets the domains used when POST /start carries none.
func WithDefaultDomains(domains []models.Domain) Option {
	return func(o *Opts) { o.Domains = domains }
}

// WithMessagingService injects a fixed messaging service (Twilio transport or
// a mock in tests) instead of building a WhatsApp service per start.
func WithMessagingService(svc messaging.Service) Option {
	return func(o *Opts) { o.Service = svc }
}

// Server owns the control endpoints and the running engine lifecycle.
type Server struct {
	addr        string
	corsOrigins []string
	defaultRole string
	defaultDoms []models.Domain

	st       store.Store
	resolver *media.Resolver
	waClient *whatsapp.Client
	fixedSvc messaging.Service
	sched    *scheduler.Scheduler

	mu        sync.Mutex
	lifecycle models.EngineLifecycle
	qr        string
	engine    *funnel.Engine
	svc       messaging.Service
	cancel    context.CancelFunc
}

// NewServer creates a Server over the given collaborators.
func NewServer(st store.Store, resolver *media.Resolver, waClient *whatsapp.Client, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:        cfg.Addr,
		corsOrigins: cfg.CORSOrigins,
		defaultRole: cfg.Role,
		defaultDoms: cfg.Domains,
		st:          st,
		resolver:    resolver,
		waClient:    waClient,
		fixedSvc:    cfg.Service,
		lifecycle:   models.LifecycleDisconnected,
	}
}

// Run wires the storage, media and WhatsApp modules together, starts the
// background idle-state sweep and serves the control API until SIGINT or
// SIGTERM.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, mediaOpts []media.Option, apiOpts []Option) error {
	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	resolver := media.NewResolver(mediaOpts...)

	s := NewServer(st, resolver, nil, apiOpts...)

	if s.fixedSvc == nil {
		waOpts = append(waOpts, whatsapp.WithStatusHandler(s.setLifecycle))
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
		}
		s.waClient = client
	}

	s.sched = scheduler.NewScheduler()
	defer s.sched.Stop()
	if err := s.sched.AddJob(scheduler.DefaultSweepExpr, scheduler.IdleStateSweep(st, funnel.StateTTL, time.Now)); err != nil {
		return fmt.Errorf("failed to schedule idle state sweep: %w", err)
	}

	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	s.stopEngine()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown error", "error", err)
	}
	return nil
}

// buildStore selects a backend from the configured DSN: Postgres for
// PostgreSQL-style connection strings, SQLite for file paths, in-memory when
// no DSN is configured at all.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("no database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}

// Handler returns the HTTP handler with all control endpoints registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", s.startHandler)
	mux.HandleFunc("/stop", s.stopHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/unrecognized", s.unrecognizedHandler)
	if ts, ok := s.fixedSvc.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", ts.WebhookHandler)
	}
	return s.corsMiddleware(mux)
}

// corsMiddleware applies the CORS headers and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.corsOrigins) > 0 {
			origin = ""
			for _, o := range s.corsOrigins {
				if o == r.Header.Get("Origin") {
					origin = o
					break
				}
			}
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setLifecycle is the WhatsApp status handler: it tracks the QR pairing
// progression exposed on GET /status.
func (s *Server) setLifecycle(lifecycle models.EngineLifecycle, qr string) {
	s.mu.Lock()
	s.lifecycle = lifecycle
	s.qr = qr
	s.mu.Unlock()
	slog.Info("connection lifecycle changed", "lifecycle", lifecycle, "qr_set", qr != "")
}

// stopEngine tears down the running engine, if any.
func (s *Server) stopEngine() {
	s.mu.Lock()
	cancel := s.cancel
	engine := s.engine
	svc := s.svc
	s.cancel = nil
	s.engine = nil
	s.svc = nil
	s.lifecycle = models.LifecycleDisconnected
	s.qr = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if engine != nil {
		engine.Stop()
	}
	if svc != nil && svc != s.fixedSvc {
		if err := svc.Stop(); err != nil {
			slog.Warn("failed to stop messaging service", "error", err)
		}
	}
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
}
