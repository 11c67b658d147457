// Package fileserver builds the HTTP surface of one file-serving instance:
// the manifest of linked path names at the root and a static file tree
// (with directory listings) under each name.
package fileserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/pkg/middleware"
)

// NewHandler returns the router for network. Route registration problems
// (which gin reports by panicking) are returned as errors.
func NewHandler(network domain.Network, logger *zap.Logger) (h http.Handler, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("building routes for network %q: %v", network.Name, r)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	manifest := network.Names()
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, manifest)
	})

	for _, lp := range network.LinkedPaths {
		router.StaticFS("/"+lp.Name, gin.Dir(lp.Path, true))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router, nil
}
