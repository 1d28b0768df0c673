package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"prohappy_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// StaticHandler serves the built site and answers health checks.
type StaticHandler struct {
	dir         string
	version     string
	environment string
	now         func() time.Time
}

func NewStaticHandler(dir, version, environment string) *StaticHandler {
	return &StaticHandler{
		dir:         dir,
		version:     version,
		environment: environment,
		now:         time.Now,
	}
}

func (h *StaticHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.NoRoute(h.Serve)
}

func (h *StaticHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     h.version,
		"environment": h.environment,
		"time":        h.now().UTC().Format(time.RFC3339),
	})
}

// Serve отдает файл из каталога сборки; неизвестные пути получают index.html
func (h *StaticHandler) Serve(c *gin.Context) {
	p := c.Request.URL.Path
	if p == "/api" || strings.HasPrefix(p, "/api/") {
		apperrors.HandleError(c, apperrors.NewNotFoundError("route", "Route not found"))
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		apperrors.HandleError(c, apperrors.NewNotFoundError("route", "Route not found"))
		return
	}
	if h.dir == "" {
		apperrors.HandleError(c, apperrors.NewNotFoundError("route", "Route not found"))
		return
	}

	clean := path.Clean("/" + p)
	file := filepath.Join(h.dir, filepath.FromSlash(clean))
	if info, err := os.Stat(file); err == nil && !info.IsDir() {
		if strings.HasPrefix(clean, "/assets/") {
			c.Header("Cache-Control", "public, max-age=31536000, immutable")
		}
		c.File(file)
		return
	}

	index := filepath.Join(h.dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		apperrors.HandleError(c, apperrors.NewNotFoundError("route", "Page not found"))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.File(index)
}
