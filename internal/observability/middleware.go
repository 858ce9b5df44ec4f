package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Route label used for requests that matched no registered route, so a
// scan of random paths cannot grow the metric label set.
const unmatchedRoute = "unmatched"

// Polled endpoints log at trace so a scraper does not drown the device log.
var pollRoutes = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

func route(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

func levelFor(status int, rt string) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	case pollRoutes[rt]:
		return zerolog.TraceLevel
	}
	return zerolog.DebugLevel
}

// RequestLogger logs one status_request event per request, tagged with the
// device the status API serves.
func RequestLogger(device string, logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("device", device).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		rt := route(c)
		event := logger.WithLevel(levelFor(status, rt)).
			Str("method", c.Request.Method).
			Str("route", rt).
			Str("uri", c.Request.URL.RequestURI()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size())
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("status_request")
	}
}

// RequestMetrics records request counts and latency by route.
func RequestMetrics(device string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(device, c.Request.Method, route(c), c.Writer.Status(), time.Since(start))
	}
}
