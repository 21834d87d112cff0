// Package server wires the analyzer together: routes, middleware, listeners,
// readiness, metrics and the shutdown coordinator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/wudi/analyzer/internal/analysis"
	"github.com/wudi/analyzer/internal/config"
	"github.com/wudi/analyzer/internal/grpchealth"
	"github.com/wudi/analyzer/internal/health"
	"github.com/wudi/analyzer/internal/listener"
	"github.com/wudi/analyzer/internal/logging"
	"github.com/wudi/analyzer/internal/metrics"
	"github.com/wudi/analyzer/internal/middleware/ratelimit"
	"github.com/wudi/analyzer/internal/payload"
	"github.com/wudi/analyzer/internal/shutdown"
	"github.com/wudi/analyzer/internal/tracing"
	"github.com/wudi/analyzer/internal/tracker"
	"go.uber.org/zap"
)

// Listener IDs registered with the manager.
const (
	HTTPListenerID       = "http"
	GRPCHealthListenerID = "grpc-health"
)

// AnalyzeFunc computes the /payload response.
type AnalyzeFunc func(ctx context.Context, in analysis.Input) (analysis.Result, error)

// Options carries what the config file does not.
type Options struct {
	Version    string
	ConfigPath string

	// Analyze defaults to analysis.Analyze.
	Analyze AnalyzeFunc
	// Tracer defaults to one built from the tracing config.
	Tracer *tracing.Tracer
}

// Server is the analyzer service.
type Server struct {
	config     atomic.Pointer[config.Config]
	configPath string
	version    string

	metrics     *metrics.Collector
	tracker     *tracker.Tracker
	health      *health.Controller
	manager     *listener.Manager
	coordinator *shutdown.Coordinator
	validator   atomic.Pointer[payload.Validator]
	limiter     *ratelimit.Limiter
	tracer      *tracing.Tracer
	grpcHealth  *grpchealth.Server
	analyze     AnalyzeFunc
	handler     http.Handler

	reloadMu sync.Mutex
	watcher  *config.Watcher
}

// New builds a Server from cfg. Nothing is bound until Start.
func New(cfg *config.Config, opts Options) (*Server, error) {
	s := &Server{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		metrics:    metrics.NewCollector(),
		health:     health.NewController(),
		manager:    listener.NewManager(),
		analyze:    opts.Analyze,
		tracer:     opts.Tracer,
	}
	s.config.Store(cfg)

	if s.analyze == nil {
		s.analyze = analysis.Analyze
	}
	if s.tracer == nil {
		t, err := tracing.New(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		s.tracer = t
	}

	s.tracker = tracker.New(s.metrics)
	if err := s.metrics.RegisterInFlight(s.tracker.InFlight); err != nil {
		return nil, err
	}

	v, err := payload.New(limitsOf(cfg))
	if err != nil {
		return nil, err
	}
	s.validator.Store(v)

	s.limiter = ratelimit.New(cfg.Limits.RateLimit)

	s.handler = s.routes(cfg)

	httpListener := listener.NewHTTPListener(listener.HTTPListenerConfig{
		ID:                HTTPListenerID,
		Address:           cfg.Server.Address(),
		Handler:           s.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	})
	if err := s.manager.Add(httpListener); err != nil {
		return nil, err
	}

	if cfg.Admin.GRPCHealth.Enabled {
		s.grpcHealth = grpchealth.NewServer(GRPCHealthListenerID, cfg.Admin.GRPCHealth.Address, grpchealth.Probes{
			Live:  s.health.Live,
			Ready: s.health.Ready,
		})
		if err := s.manager.Add(s.grpcHealth); err != nil {
			return nil, err
		}
	}

	s.health.OnChange(func(st health.State) {
		s.metrics.SetServiceState(int(st))
		if s.grpcHealth != nil {
			s.grpcHealth.Notify()
		}
		logging.Info("service state changed", zap.Stringer("state", st))
	})

	s.coordinator = shutdown.New(timingsOf(cfg), s.health, s.tracker, s.manager, s.metrics)

	return s, nil
}

func limitsOf(cfg *config.Config) payload.Limits {
	return payload.Limits{
		MaxNumbers:   cfg.Limits.MaxNumbers,
		MaxTextLen:   cfg.Limits.MaxTextLen,
		MaxBodyBytes: cfg.Limits.MaxBodyBytes,
	}
}

func timingsOf(cfg *config.Config) shutdown.Config {
	return shutdown.Config{
		GracePeriod: cfg.Shutdown.GracePeriod,
		DrainDelay:  cfg.Shutdown.DrainDelay,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Health returns the readiness controller.
func (s *Server) Health() *health.Controller { return s.health }

// Tracker returns the request tracker.
func (s *Server) Tracker() *tracker.Tracker { return s.tracker }

// Metrics returns the metrics collector.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Config returns the active configuration.
func (s *Server) Config() *config.Config { return s.config.Load() }

// Addr returns the bound address of the HTTP listener.
func (s *Server) Addr() string {
	l, _ := s.manager.Get(HTTPListenerID)
	return l.Addr()
}

// Start binds every listener and marks the service ready.
func (s *Server) Start(ctx context.Context) error {
	if err := s.manager.StartAll(ctx); err != nil {
		s.health.MarkStopped()
		return err
	}
	logging.Info("analyzer listening",
		zap.String("address", s.Addr()),
		zap.String("version", s.version),
	)
	s.health.MarkReady()
	return nil
}

// Run serves until SIGINT or SIGTERM and then drains. SIGHUP reloads the
// configuration file.
func (s *Server) Run() (shutdown.Result, error) {
	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	return s.Serve(context.Background(), quit, hup)
}

// Serve starts the server and blocks until a value on quit (or ctx being
// done, or a listener failing) has been handled by a full drain. Values on
// hup trigger a configuration reload. The returned error is non-nil only
// when the service could not start or a listener failed while serving.
func (s *Server) Serve(ctx context.Context, quit, hup <-chan os.Signal) (shutdown.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		s.tracer.Close(context.Background())
		return shutdown.Result{}, err
	}

	s.startWatcher()

	var serveErr error
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		for {
			select {
			case <-hup:
				s.ReloadConfig()
			case err := <-s.manager.Errors():
				logging.Error("listener failed", zap.Error(err))
				serveErr = err
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	res := s.coordinator.Run(ctx, quit)
	cancel()
	<-loopDone

	s.stopWatcher()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := s.tracer.Close(closeCtx); err != nil {
		logging.Warn("tracer shutdown failed", zap.Error(err))
	}
	logging.Sync()

	if serveErr != nil {
		return res, fmt.Errorf("listener failed: %w", serveErr)
	}
	return res, nil
}

func (s *Server) startWatcher() {
	if s.configPath == "" {
		return
	}
	w, err := config.NewWatcher(s.configPath, s.config.Load())
	if err != nil {
		logging.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	w.OnChange(s.ApplyConfig)
	if err := w.Start(); err != nil {
		logging.Warn("config watcher unavailable", zap.Error(err))
		w.Stop()
		return
	}
	s.watcher = w
}

func (s *Server) stopWatcher() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
}

// ReloadConfig re-reads the configuration file and applies it. A file that
// fails to load leaves the running configuration untouched.
func (s *Server) ReloadConfig() error {
	if s.configPath == "" {
		logging.Warn("config reload requested but no config file is in use")
		return fmt.Errorf("no config path configured")
	}
	cfg, err := config.NewLoader().Load(s.configPath)
	if err != nil {
		logging.Error("config reload failed", zap.String("path", s.configPath), zap.Error(err))
		return err
	}
	s.ApplyConfig(cfg)
	return nil
}

// ApplyConfig swaps in the settings that can change without a restart:
// log level, payload limits, rate limit and shutdown timings.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	old := s.config.Load()

	if limits := limitsOf(cfg); limits != s.validator.Load().Limits() {
		v, err := payload.New(limits)
		if err != nil {
			logging.Error("rejecting payload limits", zap.Error(err))
			return
		}
		s.validator.Store(v)
	}

	logging.SetLevel(cfg.Logging.Level)
	s.limiter.Update(cfg.Limits.RateLimit)
	s.coordinator.SetTimings(timingsOf(cfg))

	if cfg.Server != old.Server || cfg.Metrics != old.Metrics ||
		cfg.Admin != old.Admin || cfg.Logging.Output != old.Logging.Output {
		logging.Warn("listener, metrics, admin and log output changes require a restart")
	}

	s.config.Store(cfg)
	logging.Info("configuration applied",
		zap.Int("max_numbers", cfg.Limits.MaxNumbers),
		zap.Int("max_text_len", cfg.Limits.MaxTextLen),
		zap.Bool("rate_limit", s.limiter.Enabled()),
		zap.Duration("grace_period", s.coordinator.GracePeriod()),
	)
}
