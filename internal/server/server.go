// Package server runs the control plane HTTP servers. It separates the
// concept of "routes" from "servers": providers contribute routes, the
// manager combines them into HTTP servers.
//
// Architecture:
//   - RouteProvider: the control API and the event stream implement this
//   - Manager: combines RouteProviders into HTTP servers
//   - HTTP providers share the control server
//   - WebSocket providers share it too unless an events port is configured
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/pkg/config"
	"github.com/sirosfoundation/go-linkshare/pkg/logging"
	"github.com/sirosfoundation/go-linkshare/pkg/middleware"
)

// Transport represents a communication transport type
type Transport string

const (
	// TransportHTTP is regular HTTP request/response
	TransportHTTP Transport = "http"
	// TransportWebSocket is for persistent WebSocket connections
	TransportWebSocket Transport = "websocket"
)

// RouteProvider contributes routes to a shared router.
// This separates route definition from server lifecycle management.
type RouteProvider interface {
	// Transport returns which transport this provider uses.
	// Providers with the same transport can share an HTTP server.
	Transport() Transport

	// RegisterRoutes adds this provider's routes to the router. auth
	// enforces the control token and must guard every non-public route.
	RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc)

	// Name returns the provider name for logging
	Name() string
}

// ServerConfig holds unified server configuration
type ServerConfig struct {
	HTTPAddress string
	HTTPPort    int

	// EventsPort > 0 moves WebSocket providers to their own server
	EventsPort int

	// ControlToken is generated and logged when empty
	ControlToken  string
	AuthRateLimit config.AuthRateLimitConfig

	CORS         config.CORSConfig
	LoggingLevel string

	// Status answers /health and /status on every server
	Status gin.HandlerFunc
}

// ServerConfigFrom maps the daemon config
func ServerConfigFrom(cfg *config.Config, status gin.HandlerFunc) *ServerConfig {
	return &ServerConfig{
		HTTPAddress:   cfg.Server.Host,
		HTTPPort:      cfg.Server.Port,
		EventsPort:    cfg.Server.EventsPort,
		ControlToken:  cfg.Server.ControlToken,
		AuthRateLimit: cfg.Server.AuthRateLimit,
		CORS:          cfg.CORS,
		LoggingLevel:  cfg.Logging.Level,
		Status:        status,
	}
}

// Manager manages HTTP servers and combines multiple RouteProviders
type Manager struct {
	cfg    *ServerConfig
	logger *zap.Logger

	providers []RouteProvider

	token   string
	limiter *middleware.AuthRateLimiter

	httpServer *http.Server
	wsServer   *http.Server // Only used if EventsPort > 0

	httpListener net.Listener
	wsListener   net.Listener

	httpRouter *gin.Engine
	wsRouter   *gin.Engine // Only used if EventsPort > 0
}

// NewManager creates a new server manager
func NewManager(cfg *ServerConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.Named("server"),
		providers: make([]RouteProvider, 0),
	}
}

// AddProvider adds a RouteProvider to the manager.
// Call this before Start() to register all providers.
func (m *Manager) AddProvider(p RouteProvider) {
	m.providers = append(m.providers, p)
	m.logger.Debug("Added route provider",
		zap.String("name", p.Name()),
		zap.String("transport", string(p.Transport())))
}

// Start builds routers, binds the listeners and starts serving. Bind
// failures are returned; serve errors after that are logged.
func (m *Manager) Start(ctx context.Context) error {
	gin.SetMode(logging.GinMode(m.cfg.LoggingLevel))

	m.token = m.cfg.ControlToken
	if m.token == "" {
		var err error
		m.token, err = middleware.GenerateControlToken()
		if err != nil {
			return fmt.Errorf("failed to generate control token: %w", err)
		}
		m.logger.Info("Generated control API token (set LINKSHARE_SERVER_CONTROL_TOKEN to use a fixed token)",
			zap.String("token", m.token))
	}
	if m.cfg.AuthRateLimit.Enabled {
		m.limiter = middleware.NewAuthRateLimiter(m.cfg.AuthRateLimit, m.logger)
	}
	auth := middleware.ControlAuthMiddleware(m.token, m.limiter, m.logger)

	// Build HTTP router with common middleware
	m.httpRouter = m.buildRouter()

	var httpProviders, wsProviders []RouteProvider
	for _, p := range m.providers {
		if p.Transport() == TransportWebSocket && m.cfg.EventsPort > 0 {
			wsProviders = append(wsProviders, p)
		} else {
			httpProviders = append(httpProviders, p)
		}
	}

	for _, p := range httpProviders {
		m.logger.Info("Registering HTTP routes", zap.String("provider", p.Name()))
		p.RegisterRoutes(m.httpRouter, auth)
	}
	m.addStatusEndpoints(m.httpRouter)

	if len(wsProviders) > 0 {
		m.wsRouter = m.buildRouter()
		for _, p := range wsProviders {
			m.logger.Info("Registering WebSocket routes", zap.String("provider", p.Name()))
			p.RegisterRoutes(m.wsRouter, auth)
		}
		m.addStatusEndpoints(m.wsRouter)
	}

	var err error
	m.httpServer, m.httpListener, err = m.serve(ctx, "HTTP", m.cfg.HTTPPort, m.httpRouter, 60*time.Second)
	if err != nil {
		return err
	}

	if m.wsRouter != nil {
		// No write timeout: event streams are long-lived.
		m.wsServer, m.wsListener, err = m.serve(ctx, "WebSocket", m.cfg.EventsPort, m.wsRouter, 120*time.Second)
		if err != nil {
			_ = m.httpServer.Close()
			return err
		}
	}

	return nil
}

func (m *Manager) serve(ctx context.Context, kind string, port int, handler http.Handler, idle time.Duration) (*http.Server, net.Listener, error) {
	addr := net.JoinHostPort(m.cfg.HTTPAddress, strconv.Itoa(port))
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       idle,
		ErrorLog:          zap.NewStdLog(m.logger),
	}

	go func() {
		m.logger.Info(kind+" server listening", zap.String("address", l.Addr().String()))
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error(kind+" server error", zap.Error(err))
		}
	}()
	return srv, l, nil
}

// Shutdown gracefully shuts down all servers
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error

	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	if m.wsServer != nil {
		if err := m.wsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("WebSocket server shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// buildRouter creates a new router with common middleware
func (m *Manager) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(m.logger))
	if len(m.cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     m.cfg.CORS.AllowedOrigins,
			AllowMethods:     m.cfg.CORS.AllowedMethods,
			AllowHeaders:     m.cfg.CORS.AllowedHeaders,
			ExposeHeaders:    m.cfg.CORS.ExposedHeaders,
			AllowCredentials: m.cfg.CORS.AllowCredentials,
			MaxAge:           time.Duration(m.cfg.CORS.MaxAge) * time.Second,
		}))
	}
	return router
}

// addStatusEndpoints adds /health and /status routes
func (m *Manager) addStatusEndpoints(router *gin.Engine) {
	handler := m.cfg.Status
	if handler == nil {
		handler = func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "linkshare"})
		}
	}
	router.GET("/health", handler)
	router.GET("/status", handler)
}

// Token returns the control token in effect. Valid after Start.
func (m *Manager) Token() string {
	return m.token
}

// HTTPAddr returns the bound control server address. Valid after Start.
func (m *Manager) HTTPAddr() net.Addr {
	if m.httpListener == nil {
		return nil
	}
	return m.httpListener.Addr()
}

// EventsAddr returns the bound events server address, or nil when events
// share the control server.
func (m *Manager) EventsAddr() net.Addr {
	if m.wsListener == nil {
		return nil
	}
	return m.wsListener.Addr()
}

// HTTPRouter returns the main HTTP router.
func (m *Manager) HTTPRouter() *gin.Engine {
	return m.httpRouter
}
