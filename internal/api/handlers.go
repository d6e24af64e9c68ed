package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/liamashdown/tiltguard/internal/monitor"
	"github.com/liamashdown/tiltguard/internal/storage"
	"github.com/liamashdown/tiltguard/internal/tilt"
)

const maxBatchSize = 1000

// RegisterRoutes sets up the session and archive routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions/:subject", h.StartSession)
	r.DELETE("/sessions/:subject", h.StopSession)
	r.POST("/sessions/:subject/events", h.LogEvent)
	r.POST("/sessions/:subject/events/batch", h.LogEvents)
	r.GET("/sessions/:subject/analysis", h.GetAnalysis)
	r.GET("/sessions/:subject/stats", h.GetStats)
	r.GET("/sessions/:subject/snapshot", h.GetSnapshot)
	r.POST("/sessions/:subject/export", h.ExportSession)
	r.POST("/sessions/:subject/reset", h.ResetSession)
	r.POST("/sessions/:subject/restore", h.RestoreSession)
	r.GET("/subjects/:subject/exports", h.ListExports)
	r.GET("/exports/:sessionId", h.GetExport)
}

// ListSessions returns every monitored session
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.mon.Sessions()
	if sessions == nil {
		sessions = []monitor.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// StartSession opens a session for a subject
func (h *Handler) StartSession(c *gin.Context) {
	id, created := h.mon.Start(c.Param("subject"))
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"subject": c.Param("subject"), "sessionId": id, "created": created})
}

// StopSession stops monitoring a subject
func (h *Handler) StopSession(c *gin.Context) {
	if err := h.mon.Stop(c.Param("subject")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LogEvent ingests one wager
func (h *Handler) LogEvent(c *gin.Context) {
	var raw tilt.RawEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	ev, err := h.mon.LogEvent(c.Request.Context(), c.Param("subject"), raw)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

type batchResult struct {
	Index int              `json:"index"`
	Event *tilt.WagerEvent `json:"event,omitempty"`
	Error string           `json:"error,omitempty"`
}

// LogEvents ingests a list of wagers in order. Invalid entries are reported
// per index and do not stop the batch.
func (h *Handler) LogEvents(c *gin.Context) {
	var raws []tilt.RawEvent
	if err := c.ShouldBindJSON(&raws); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if len(raws) > maxBatchSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "batch_too_large",
			"message": "at most " + strconv.Itoa(maxBatchSize) + " events per batch",
		})
		return
	}

	subject := c.Param("subject")
	results := make([]batchResult, 0, len(raws))
	accepted := 0
	for i, raw := range raws {
		ev, err := h.mon.LogEvent(c.Request.Context(), subject, raw)
		if errors.Is(err, tilt.ErrSessionExported) {
			h.writeError(c, err)
			return
		}
		if err != nil {
			results = append(results, batchResult{Index: i, Error: err.Error()})
			continue
		}
		accepted++
		results = append(results, batchResult{Index: i, Event: &ev})
	}

	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "rejected": len(raws) - accepted, "results": results})
}

// GetAnalysis returns the current risk analysis
func (h *Handler) GetAnalysis(c *gin.Context) {
	a, err := h.mon.Analyze(c.Param("subject"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// GetStats returns session statistics
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.mon.Stats(c.Param("subject"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetSnapshot returns the raw session state
func (h *Handler) GetSnapshot(c *gin.Context) {
	s, err := h.mon.Snapshot(c.Param("subject"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ExportSession closes the session and returns the audit export
func (h *Handler) ExportSession(c *gin.Context) {
	exp, err := h.mon.Export(c.Request.Context(), c.Param("subject"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// ResetSession clears and reopens the session
func (h *Handler) ResetSession(c *gin.Context) {
	if err := h.mon.Reset(c.Request.Context(), c.Param("subject")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RestoreSession rebuilds a session from archived wagers
func (h *Handler) RestoreSession(c *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	st, err := h.mon.Restore(c.Request.Context(), c.Param("subject"), req.SessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": c.Param("subject"), "sessionId": req.SessionID, "stats": st})
}

// ListExports returns archived export summaries for a subject
func (h *Handler) ListExports(c *gin.Context) {
	if h.archive == nil {
		h.writeError(c, monitor.ErrNoArchive)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "limit must be a positive integer"})
		return
	}

	exports, err := h.archive.ListExports(c.Request.Context(), c.Param("subject"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if exports == nil {
		exports = []storage.SessionExport{}
	}
	c.JSON(http.StatusOK, gin.H{"exports": exports})
}

// GetExport loads an archived export
func (h *Handler) GetExport(c *gin.Context) {
	if h.archive == nil {
		h.writeError(c, monitor.ErrNoArchive)
		return
	}

	exp, err := h.archive.GetExport(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// writeError maps domain errors onto HTTP statuses
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *tilt.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "field": verr.Field, "message": err.Error()})
	case errors.Is(err, tilt.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": err.Error()})
	case errors.Is(err, tilt.ErrSessionExported):
		c.JSON(http.StatusConflict, gin.H{"error": "session_exported", "message": err.Error()})
	case errors.Is(err, monitor.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, monitor.ErrNoArchive):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "archive_disabled", "message": err.Error()})
	default:
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An unexpected error occurred"})
	}
}
