package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/bridge"
	"github.com/nerrad567/fleet-bridge/internal/device"
	"github.com/nerrad567/fleet-bridge/internal/export"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/profile"
	"github.com/nerrad567/fleet-bridge/internal/servicecall"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ExportStats reports export pipeline counters. *export.Pipeline implements it.
type ExportStats interface {
	Stats() export.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Sessions *bridge.Manager
	Profiles profile.Repository
	Services *servicecall.Correlator
	Devices  device.Repository // optional
	Audit    audit.Repository  // optional
	Export   ExportStats       // optional
	DB       *database.DB      // optional, for pool metrics
	Probe    ProbeFunc         // optional, defaults to mqtt.TestConnect
	Dial     NetworkDialFunc   // optional, defaults to a TCP dialer

	// SendBuffer is the number of notifications buffered per WebSocket client.
	SendBuffer int
	Version    string
}

// Server is the HTTP API server for the fleet bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	sessions  *bridge.Manager
	profiles  profile.Repository
	services  *servicecall.Correlator
	devices   device.Repository
	audit     audit.Repository
	auditCh   chan *audit.Entry
	export    ExportStats
	db        *database.DB
	probe     ProbeFunc
	dial      NetworkDialFunc
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Profiles == nil {
		return nil, fmt.Errorf("profile repository is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		sessions:  deps.Sessions,
		profiles:  deps.Profiles,
		services:  deps.Services,
		devices:   deps.Devices,
		audit:     deps.Audit,
		export:    deps.Export,
		db:        deps.DB,
		probe:     deps.Probe,
		dial:      deps.Dial,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.probe == nil {
		s.probe = defaultProbe
	}
	if s.dial == nil {
		s.dial = defaultNetworkDial
	}
	if s.audit != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	s.hub = NewHub(s.wsCfg, s.sessions, s.logger)
	s.hub.SetSendBuffer(deps.SendBuffer)
	return s, nil
}

// Start launches the HTTP listener in a background goroutine and the
// WebSocket hub. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)
	if s.auditCh != nil {
		go s.drainAudit(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the hub, which closes every bridge session, then shuts the
// listener down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

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

// authEnabled reports whether bearer tokens are required.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}
