package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MirrorRequest copies a remote instance to a local directory
type MirrorRequest struct {
	BaseURL   string `json:"base_url" binding:"required"`
	LocalPath string `json:"local_path" binding:"required"`
}

// RemoteManifest returns the linked path names a remote instance serves
// GET /api/remote/manifest?url=
func (h *Handlers) RemoteManifest(c *gin.Context) {
	if h.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Mirroring not available"})
		return
	}

	baseURL := c.Query("url")
	if baseURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter required"})
		return
	}

	names, err := h.mirror.FetchManifest(c.Request.Context(), baseURL)
	if err != nil {
		h.respondError(c, err, "Failed to fetch manifest")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": baseURL, "linked_paths": names})
}

// Mirror downloads every linked path of a remote instance
// POST /api/mirror
func (h *Handlers) Mirror(c *gin.Context) {
	if h.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Mirroring not available"})
		return
	}

	var req MirrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.mirror.FetchTree(c.Request.Context(), req.BaseURL, req.LocalPath)
	if err != nil {
		h.logger.Warn("Mirror failed", zap.String("url", req.BaseURL), zap.Error(err))
		h.respondError(c, err, "Failed to mirror remote instance")
		return
	}
	c.JSON(http.StatusOK, summary)
}
