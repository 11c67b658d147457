package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/mirror"
	"github.com/sirosfoundation/go-linkshare/internal/orchestrator"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
)

// Orchestrator is the part of *orchestrator.Orchestrator the handlers use
type Orchestrator interface {
	StartServer(ctx context.Context, mode domain.ServerMode, network domain.Network) (*domain.ServerGroup, error)
	StopServer(network string, id uint64) error
	ListServers(network string) []domain.ServerGroup
	Networks() []string
	Running() int
}

// Mirror is the part of *mirror.Client the handlers use
type Mirror interface {
	FetchManifest(ctx context.Context, baseURL string) ([]string, error)
	FetchTree(ctx context.Context, baseURL, localPath string) (*mirror.Summary, error)
}

// Handlers aggregates all HTTP handlers
type Handlers struct {
	store       storage.Store
	storageType string
	orch        Orchestrator
	mirror      Mirror
	version     string
	logger      *zap.Logger
}

// Options carries the optional handler dependencies
type Options struct {
	StorageType string
	Mirror      Mirror
	Version     string
}

// NewHandlers creates a new Handlers instance
func NewHandlers(store storage.Store, orch Orchestrator, opts Options, logger *zap.Logger) *Handlers {
	return &Handlers{
		store:       store,
		storageType: opts.StorageType,
		orch:        orch,
		mirror:      opts.Mirror,
		version:     opts.Version,
		logger:      logger.Named("handlers"),
	}
}

// Status handles the /status and /health endpoints
func (h *Handlers) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := StatusResponse{
		Status:         "ok",
		Service:        "linkshare",
		Version:        h.version,
		APIVersion:     CurrentAPIVersion,
		Capabilities:   APICapabilities[CurrentAPIVersion],
		Storage:        h.storageType,
		StorageHealthy: true,
		RunningServers: h.orch.Running(),
		Networks:       h.orch.Networks(),
	}
	if h.mirror == nil {
		resp.Capabilities = withoutCapability(resp.Capabilities, "mirror")
	}

	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Storage ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.StorageHealthy = false
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func withoutCapability(caps []string, name string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// ListLinkedPaths returns every linked directory
// GET /api/linked-paths
func (h *Handlers) ListLinkedPaths(c *gin.Context) {
	paths, err := h.store.ReadLinkedPaths(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read linked paths", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read linked paths"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked_paths": paths})
}

// LinkPath links a new directory
// POST /api/linked-paths
func (h *Handlers) LinkPath(c *gin.Context) {
	var req domain.LinkedPath
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.LinkPath(c.Request.Context(), req); err != nil {
		h.respondError(c, err, "Failed to link path")
		return
	}

	h.logger.Info("Linked path", zap.String("name", req.Name), zap.String("path", req.Path))
	c.JSON(http.StatusCreated, req)
}

// UnlinkPath removes a linked directory
// DELETE /api/linked-paths/:name
func (h *Handlers) UnlinkPath(c *gin.Context) {
	name := c.Param("name")
	if err := h.store.UnlinkPath(c.Request.Context(), name); err != nil {
		h.respondError(c, err, "Failed to unlink path")
		return
	}

	h.logger.Info("Unlinked path", zap.String("name", name))
	c.JSON(http.StatusOK, gin.H{"message": "Linked path removed"})
}

// ListNetworks returns every saved network
// GET /api/networks
func (h *Handlers) ListNetworks(c *gin.Context) {
	networks, err := h.store.ReadNetworks(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read networks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read networks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"networks": networks})
}

// CreateNetwork saves a new network
// POST /api/networks
func (h *Handlers) CreateNetwork(c *gin.Context) {
	var req domain.Network
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.CreateNetwork(c.Request.Context(), req); err != nil {
		h.respondError(c, err, "Failed to create network")
		return
	}

	h.logger.Info("Created network",
		zap.String("network", req.Name),
		zap.Int("linked_paths", len(req.LinkedPaths)),
	)
	c.JSON(http.StatusCreated, req)
}

// GetNetwork returns a saved network
// GET /api/networks/:name
func (h *Handlers) GetNetwork(c *gin.Context) {
	network, err := h.store.GetNetwork(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "Failed to get network")
		return
	}
	c.JSON(http.StatusOK, network)
}

// RemoveNetwork deletes a saved network. Running instances are unaffected.
// DELETE /api/networks/:name
func (h *Handlers) RemoveNetwork(c *gin.Context) {
	name := c.Param("name")
	if err := h.store.RemoveNetwork(c.Request.Context(), name); err != nil {
		h.respondError(c, err, "Failed to remove network")
		return
	}

	h.logger.Info("Removed network", zap.String("network", name))
	c.JSON(http.StatusOK, gin.H{"message": "Network removed"})
}

// respondError maps domain and storage errors to status codes. Unknown
// errors are logged and reported as fallback.
func (h *Handlers) respondError(c *gin.Context, err error, fallback string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(code, gin.H{"error": fallback})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNoLinkedPaths),
		errors.Is(err, orchestrator.ErrInvalidNetwork),
		errors.Is(err, orchestrator.ErrUnknownMode),
		errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, mirror.ErrBlocked):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrModeNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, orchestrator.ErrServerNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNetworkBusy),
		errors.Is(err, orchestrator.ErrBind),
		errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrShuttingDown),
		errors.Is(err, orchestrator.ErrPortsExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, mirror.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
