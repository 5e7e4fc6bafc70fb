// Package api exposes a read-only diagnostics HTTP surface alongside the
// stdio MCP tool surface: health, session/process inventories, and a
// websocket viewer for interactive PTY sessions. It is not part of the
// external tool interface and never mutates state.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/interactive"
	"github.com/opslane/shellsup/src/process"
	"github.com/opslane/shellsup/src/session"
)

// Deps bundles the domain stores the diagnostics router reads from.
type Deps struct {
	Sessions    *session.Store
	Processes   *process.Supervisor
	Interactive *interactive.Manager
}

// SetupRouter configures the read-only diagnostics routes. If
// disableRequestLogging is true the logrus middleware is skipped; if
// enableProcessingTime is true a Server-Timing header is added to every
// response.
func SetupRouter(deps Deps, disableRequestLogging, enableProcessingTime bool) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(noCacheMiddleware())
	if enableProcessingTime {
		r.Use(processingTimeMiddleware())
	}
	if !disableRequestLogging {
		r.Use(logrusMiddleware())
	}

	h := &diagHandler{deps: deps, upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}}

	r.GET("/healthz", h.healthz)
	r.GET("/sessions", h.listSessions)
	r.GET("/processes", h.listProcesses)
	r.GET("/interactive", h.listInteractive)
	r.GET("/interactive/:id/ws", h.streamInteractive)

	return r
}

type diagHandler struct {
	deps     Deps
	upgrader websocket.Upgrader
}

func (h *diagHandler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (h *diagHandler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.deps.Sessions.ListSessions()})
}

func (h *diagHandler) listProcesses(c *gin.Context) {
	includeOrphaned := c.Query("includeOrphaned") == "true"
	c.JSON(http.StatusOK, gin.H{"processes": h.deps.Processes.List(c.Query("session"), includeOrphaned)})
}

func (h *diagHandler) listInteractive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.deps.Interactive.List()})
}

// interactiveMessage is a single diagnostics-viewer frame.
type interactiveMessage struct {
	Type string `json:"type"` // "output" | "error"
	Data string `json:"data,omitempty"`
}

// streamInteractive is a read-only websocket viewer onto an interactive PTY
// session's captured output; it never writes to the underlying session.
func (h *diagHandler) streamInteractive(c *gin.Context) {
	id := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithField("component", "api").Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	var afterLine int64
	lines, err := h.deps.Interactive.Output(id, afterLine)
	if err != nil {
		_ = conn.WriteJSON(interactiveMessage{Type: "error", Data: err.Error()})
		return
	}
	for _, l := range lines {
		_ = conn.WriteJSON(interactiveMessage{Type: "output", Data: l.Content})
		afterLine = l.LineNumber
	}

	ctx := c.Request.Context()
	for {
		newLines, err := h.deps.Interactive.WaitForOutput(ctx, id, afterLine, 30*time.Second)
		if err != nil {
			_ = conn.WriteJSON(interactiveMessage{Type: "error", Data: err.Error()})
			return
		}
		for _, l := range newLines {
			if err := conn.WriteJSON(interactiveMessage{Type: "output", Data: l.Content}); err != nil {
				return
			}
			afterLine = l.LineNumber
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// corsMiddleware adds permissive CORS headers; the diagnostics surface is
// read-only and meant for local tooling.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// noCacheMiddleware adds no-cache headers since every response reflects
// live, mutable process/session state.
func noCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		c.Writer.Header().Set("Pragma", "no-cache")
		c.Writer.Header().Set("Expires", "0")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

func logrusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		if len(c.Errors) > 0 {
			logrus.WithField("component", "api").Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}
		entry := logrus.WithFields(logrus.Fields{
			"component": "api", "method": c.Request.Method, "path": path,
			"status": status, "latency": latency,
		})
		if status >= http.StatusBadRequest {
			entry.Error("request")
		} else {
			entry.Info("request")
		}
	}
}
