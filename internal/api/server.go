// Package api exposes the monitor over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/liamashdown/tiltguard/internal/metrics"
	"github.com/liamashdown/tiltguard/internal/monitor"
	"github.com/liamashdown/tiltguard/internal/storage"
	"github.com/liamashdown/tiltguard/internal/tilt"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Archive is the read side of the audit archive. *storage.DB implements it.
type Archive interface {
	Ping(ctx context.Context) error
	GetExport(ctx context.Context, sessionID string) (*tilt.Export, error)
	ListExports(ctx context.Context, subject string, limit int) ([]storage.SessionExport, error)
}

// Handler serves the session endpoints
type Handler struct {
	mon     *monitor.Monitor
	archive Archive // nil when the archive is disabled
	log     *logrus.Logger
}

// NewHandler creates a handler. archive may be nil.
func NewHandler(mon *monitor.Monitor, archive Archive, log *logrus.Logger) *Handler {
	return &Handler{mon: mon, archive: archive, log: log}
}

// NewRouter builds the gin engine with middleware, health, metrics and
// session routes
func NewRouter(h *Handler, production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(h.recovery())
	r.Use(requestID())
	r.Use(h.logging())

	r.GET("/health", h.health)
	r.GET("/ready", h.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h.RegisterRoutes(r.Group("/"))
	return r
}

// NewServer wraps the router in an http.Server with the service timeouts
func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (h *Handler) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		h.log.WithFields(logrus.Fields{
			"error": recovered,
			"path":  c.Request.URL.Path,
		}).Error("Panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (h *Handler) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		entry := h.log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString("request_id"),
		})

		switch {
		case status >= 500:
			entry.WithField("client_ip", c.ClientIP()).Error("Request completed")
		case status >= 400:
			entry.Warn("Request completed")
		default:
			entry.Debug("Request completed")
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	metrics.RecordHealthCheck(true)
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) ready(c *gin.Context) {
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.archive.Ping(ctx); err != nil {
			metrics.RecordHealthCheck(false)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": err.Error()})
			return
		}
	}
	metrics.RecordHealthCheck(true)
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
