package api

import (
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"slashbin/internal/server/config"
	"slashbin/internal/server/metrics"
	"slashbin/internal/server/ratelimit"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, limiter ratelimit.Admitter, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Range"},
	}))
	e.Use(RequestLogger())

	// Uploads are rate limited and bounded before the multipart parser sees
	// them. The store enforces the per-file limit while streaming.
	uploadMW := []echo.MiddlewareFunc{
		RateLimit(limiter),
		middleware.BodyLimit(bodyLimit(cfg.MaxFileSize, cfg.MaxCollectionFiles)),
	}
	e.POST("/upload", handler.HandleUpload, uploadMW...)
	e.POST("/upload-multiple", handler.HandleUploadMultiple, uploadMW...)

	// Health, stats & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Info
	e.GET("/api/info/:id", handler.HandleInfo)

	// Content
	e.GET("/:id", handler.HandleGet)
	e.GET("/:id/:member", handler.HandleGetMember)

	return e
}

// bodyLimit is the largest request body worth parsing: every file at the
// maximum size plus one MiB of multipart framing, in echo's size notation.
func bodyLimit(maxFileSize int64, maxFiles int) string {
	const mib = 1 << 20
	files := int64(max(maxFiles, 1))
	return fmt.Sprintf("%dM", (maxFileSize*files+mib-1)/mib+1)
}
