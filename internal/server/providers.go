package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-linkshare/internal/api"
	"github.com/sirosfoundation/go-linkshare/internal/websocket"
)

// =============================================================================
// Control Provider - linked paths, networks, servers, mirroring
// =============================================================================

// ControlProvider provides the /api routes
type ControlProvider struct {
	handlers *api.Handlers
}

// NewControlProvider creates a new control route provider
func NewControlProvider(handlers *api.Handlers) *ControlProvider {
	return &ControlProvider{handlers: handlers}
}

func (p *ControlProvider) Transport() Transport { return TransportHTTP }
func (p *ControlProvider) Name() string         { return "control" }

func (p *ControlProvider) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	h := p.handlers

	protected := router.Group("/api")
	protected.Use(auth)
	{
		paths := protected.Group("/linked-paths")
		{
			paths.GET("", h.ListLinkedPaths)
			paths.POST("", h.LinkPath)
			paths.DELETE("/:name", h.UnlinkPath)
		}

		networks := protected.Group("/networks")
		{
			networks.GET("", h.ListNetworks)
			networks.POST("", h.CreateNetwork)
			networks.GET("/:name", h.GetNetwork)
			networks.DELETE("/:name", h.RemoveNetwork)

			// Running instances of a network
			networks.GET("/:name/servers", h.ListServers)
			networks.POST("/:name/servers", h.StartNetworkServer)
			networks.DELETE("/:name/servers/:id", h.StopServer)
			networks.GET("/:name/servers/:id/qr", h.ServerQRCode)
		}

		protected.POST("/servers", h.StartServer)

		protected.GET("/remote/manifest", h.RemoteManifest)
		protected.POST("/mirror", h.Mirror)
	}
}

// =============================================================================
// Metrics Provider - Prometheus exposition
// =============================================================================

// MetricsProvider serves /metrics from a gatherer
type MetricsProvider struct {
	gatherer prometheus.Gatherer
}

// NewMetricsProvider creates a metrics route provider
func NewMetricsProvider(gatherer prometheus.Gatherer) *MetricsProvider {
	return &MetricsProvider{gatherer: gatherer}
}

func (p *MetricsProvider) Transport() Transport { return TransportHTTP }
func (p *MetricsProvider) Name() string         { return "metrics" }

func (p *MetricsProvider) RegisterRoutes(router *gin.Engine, _ gin.HandlerFunc) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})))
}

// =============================================================================
// Events Provider - WebSocket lifecycle event stream
// =============================================================================

// EventsProvider streams lifecycle events over WebSocket
type EventsProvider struct {
	manager *websocket.Manager
}

// NewEventsProvider creates a new event stream route provider
func NewEventsProvider(manager *websocket.Manager) *EventsProvider {
	return &EventsProvider{manager: manager}
}

func (p *EventsProvider) Transport() Transport { return TransportWebSocket }
func (p *EventsProvider) Name() string         { return "events" }

func (p *EventsProvider) RegisterRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/ws/events", auth, func(c *gin.Context) {
		p.manager.HandleConnection(c.Writer, c.Request)
	})
}

// Close disconnects every event stream client
func (p *EventsProvider) Close() {
	if p.manager != nil {
		p.manager.Close()
	}
}
