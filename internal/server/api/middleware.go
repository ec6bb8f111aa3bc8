package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"slashbin/internal/server/metrics"
	"slashbin/internal/server/ratelimit"
)

// RateLimit returns an echo middleware that admits uploads through the same
// per-address limiter used by the paste socket.
func RateLimit(limiter ratelimit.Admitter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !limiter.Admit(c.Request().Context(), ip) {
				metrics.AdmissionsDenied.WithLabelValues(metrics.ChannelHTTP).Inc()
				slog.Warn("rate limit exceeded", "ip", ip, "error", ratelimit.ErrAdmissionDenied)
				if isCommandLine(c) {
					return c.String(http.StatusTooManyRequests, "Error: Rate limit exceeded. Try again later.\n")
				}
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": "rate limit exceeded, try again later",
				})
			}
			return next(c)
		}
	}
}

// RequestLogger returns an echo middleware that logs requests using slog.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			if res.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"ip", c.RealIP(),
				"bytes_in", req.ContentLength,
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
