package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/topicbridge/internal/device"
	"github.com/nerrad567/topicbridge/internal/infrastructure/config"
	"github.com/nerrad567/topicbridge/internal/infrastructure/logging"
	"github.com/nerrad567/topicbridge/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Session is the read-only view of the MQTT session used by the status
// and health endpoints.
type Session interface {
	State() mqtt.State
	Stats() mqtt.Stats
	ActiveSubscriptions() []string
	HealthCheck(ctx context.Context) error
}

// Bridge accepts state changes and manual publishes from API clients.
type Bridge interface {
	RequestPublish(ctx context.Context, topic string, value any) error
	RequestStateChange(ctx context.Context, id string, value any) error
	Mapped(id string) bool
}

// HealthChecker is implemented by optional backends reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Session  Session
	Bridge   Bridge
	Influx   HealthChecker       // optional
	Gatherer prometheus.Gatherer // nil uses the default gatherer
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	metrics  config.MetricsConfig
	logger   *logging.Logger
	registry *device.Registry
	session  Session
	bridge   Bridge
	influx   HealthChecker
	gatherer prometheus.Gatherer
	version  string

	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, registry, session, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Session == nil || deps.Bridge == nil {
		return nil, fmt.Errorf("session and bridge are required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      deps.Config,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		registry: deps.Registry,
		session:  deps.Session,
		bridge:   deps.Bridge,
		influx:   deps.Influx,
		gatherer: gatherer,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays store changes to it, and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.cfg.WS, s.logger)
	go s.hub.Run(srvCtx)
	s.subscribeStateUpdates()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// subscribeStateUpdates relays every store write to WebSocket clients
// subscribed to the state channel.
func (s *Server) subscribeStateUpdates() {
	s.unsubscribe = s.registry.Subscribe(func(st device.State) {
		s.hub.Broadcast(ChannelStateChanged, st)
	})
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
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
