package middleware

import (
	"time"

	applogger "TrapFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging writes one structured line per request. Counters and
// latency histograms live in the Metrics middleware; this is the trace.
func RequestLogging(log *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)

			if log != nil {
				log.Debug("http request",
					applogger.String("method", req.Method),
					applogger.String("uri", req.RequestURI),
					applogger.String("remote", req.RemoteAddr),
					applogger.Int("status", res.Status),
					applogger.Duration("duration_ms", time.Since(start)),
				)
			}

			return err
		}
	}
}
