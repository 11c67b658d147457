package api

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/orchestrator"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

// StartServerRequest starts an instance for an inline network
type StartServerRequest struct {
	Mode    domain.ServerMode `json:"mode" binding:"required"`
	Network domain.Network    `json:"network"`
}

// StartNetworkServerRequest starts an instance for a saved network
type StartNetworkServerRequest struct {
	Mode domain.ServerMode `json:"mode"`
}

// ServerResponse describes one running instance
type ServerResponse struct {
	Network string `json:"network"`
	domain.ServerGroup
}

// StartServer starts an instance for the network in the request body
// POST /api/servers
func (h *Handlers) StartServer(c *gin.Context) {
	var req StartServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.start(c, req.Mode, req.Network)
}

// StartNetworkServer starts an instance for a saved network. The mode
// defaults to LocalHost.
// POST /api/networks/:name/servers
func (h *Handlers) StartNetworkServer(c *gin.Context) {
	var req StartNetworkServerRequest
	// An absent body, including an empty chunked one, selects the default.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeLocalHost
	}

	network, err := h.store.GetNetwork(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondError(c, err, "Failed to get network")
		return
	}
	h.start(c, req.Mode, *network)
}

func (h *Handlers) start(c *gin.Context, mode domain.ServerMode, network domain.Network) {
	group, err := h.orch.StartServer(c.Request.Context(), mode, network)
	if err != nil {
		h.respondError(c, err, "Failed to start server")
		return
	}
	c.JSON(http.StatusCreated, ServerResponse{Network: network.Name, ServerGroup: *group})
}

// ListServers returns the running instances of a network
// GET /api/networks/:name/servers
func (h *Handlers) ListServers(c *gin.Context) {
	name := c.Param("name")
	c.JSON(http.StatusOK, gin.H{
		"network": name,
		"servers": h.orch.ListServers(name),
	})
}

// StopServer stops one running instance
// DELETE /api/networks/:name/servers/:id
func (h *Handlers) StopServer(c *gin.Context) {
	name := c.Param("name")
	id, ok := serverID(c)
	if !ok {
		return
	}

	if err := h.orch.StopServer(name, id); err != nil {
		h.respondError(c, err, "Failed to stop server")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Server stopping"})
}

// ServerQRCode renders a PNG QR code of an instance URL so a phone on the
// same network can open it. ?address=<ip> selects the address, otherwise the
// first non-loopback one is used. ?size=<px> sets the image size.
// GET /api/networks/:name/servers/:id/qr
func (h *Handlers) ServerQRCode(c *gin.Context) {
	name := c.Param("name")
	id, ok := serverID(c)
	if !ok {
		return
	}

	group, found := findServer(h.orch.ListServers(name), id)
	if !found {
		h.respondError(c, orchestrator.ErrServerNotFound, "Failed to find server")
		return
	}

	addr, ok := pickAddress(group.Addresses, c.Query("address"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No matching address for server"})
		return
	}

	size := defaultQRSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minQRSize || n > maxQRSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 64 and 1024"})
			return
		}
		size = n
	}

	png, err := qrcode.Encode(addr.URL(), qrcode.Medium, size)
	if err != nil {
		h.logger.Error("Failed to encode QR code", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode QR code"})
		return
	}
	c.Header("X-Server-URL", addr.URL())
	c.Data(http.StatusOK, "image/png", png)
}

func serverID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid server id"})
		return 0, false
	}
	return id, true
}

func findServer(groups []domain.ServerGroup, id uint64) (domain.ServerGroup, bool) {
	for _, g := range groups {
		if g.ID == id {
			return g, true
		}
	}
	return domain.ServerGroup{}, false
}

func pickAddress(addrs []domain.Address, want string) (domain.Address, bool) {
	if want != "" {
		for _, a := range addrs {
			if a.IP == want {
				return a, true
			}
		}
		return domain.Address{}, false
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a.IP); ip != nil && !ip.IsLoopback() {
			return a, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return domain.Address{}, false
}
