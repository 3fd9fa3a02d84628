package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/frontend"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/logbook"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
	"github.com/nerrad567/gray-logic-hub/internal/scene"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/internal/template"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Site   config.SiteConfig
	Logger *logging.Logger
	Auth   *auth.Validator

	States   *state.Store
	Bus      *eventbus.Bus
	Services *service.Registry
	Renderer *template.Renderer

	// Optional collaborators; endpoints backed by a nil one report it unavailable.
	Automations *automation.Engine
	Scenes      *scene.Engine
	Recorder    *recorder.Recorder
	Logbook     *logbook.Logbook
	Metrics     http.Handler

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	site        config.SiteConfig
	logger      *logging.Logger
	auth        *auth.Validator
	states      *state.Store
	bus         *eventbus.Bus
	services    *service.Registry
	renderer    *template.Renderer
	automations *automation.Engine
	scenes      *scene.Engine
	recorder    *recorder.Recorder
	logbook     *logbook.Logbook
	metrics     http.Handler
	frontend    http.Handler
	version     string
	startedAt   time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("token validator is required")
	}
	if deps.States == nil || deps.Bus == nil || deps.Services == nil {
		return nil, fmt.Errorf("state store, event bus and service registry are required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       withWSDefaults(deps.WS),
		site:        deps.Site,
		logger:      deps.Logger,
		auth:        deps.Auth,
		states:      deps.States,
		bus:         deps.Bus,
		services:    deps.Services,
		renderer:    deps.Renderer,
		automations: deps.Automations,
		scenes:      deps.Scenes,
		recorder:    deps.Recorder,
		logbook:     deps.Logbook,
		metrics:     deps.Metrics,
		version:     deps.Version,
		startedAt:   time.Now(),
	}
	if dir := deps.Config.FrontendDir; dir != "" {
		h, err := frontend.Handler(dir)
		if err != nil {
			return nil, err
		}
		s.frontend = h
	}
	s.hub = NewHub(s.logger)
	return s, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in the background.
// The listener is bound before Start returns so port errors surface here.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, WebSocket connections)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// withWSDefaults fills unset WebSocket limits.
func withWSDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return cfg
}
