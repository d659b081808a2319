package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// routeOf prefers the registered route so /objects/:id stays one series.
func routeOf(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}

// RequestLogger logs one line per admin request. Peer websocket sessions are
// logged when they end, with the session length as duration.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := c.IsWebsocket()
		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case !upgrade && c.Request.Method == "GET" && routeOf(c) == "/metrics":
			event = logger.Debug()
		}

		msg := "admin.request"
		if upgrade {
			msg = "admin.peer_session"
		}
		event.
			Str("method", c.Request.Method).
			Str("path", routeOf(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg(msg)
	}
}

// RequestMetricsMiddleware records admin request counts and latency. Peer
// sessions are skipped; their traffic is counted per envelope instead.
func RequestMetricsMiddleware(host string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		RecordHTTPRequest(host, c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start))
	}
}
