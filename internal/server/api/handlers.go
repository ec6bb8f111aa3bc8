package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"slashbin/internal/server/metrics"
	"slashbin/internal/server/service"
	"slashbin/internal/server/storage"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler contains the HTTP handlers for the slashbin API.
type Handler struct {
	svc    *service.UploadService
	checks map[string]HealthCheck
}

// NewHandler creates a new handler. checks are run by /health, keyed by the
// name reported for each dependency.
func NewHandler(svc *service.UploadService, checks map[string]HealthCheck) *Handler {
	return &Handler{svc: svc, checks: checks}
}

// HandleUpload handles POST /upload.
// Accepts a multipart form with a "file" field and optional "expiryDays".
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	result, err := h.svc.CreateObject(
		c.Request().Context(),
		metrics.ChannelHTTP,
		src,
		fileHeader.Filename,
		h.svc.ParseExpiryDays(c.FormValue("expiryDays")),
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	slog.Info("http upload",
		"ip", c.RealIP(),
		"id", result.ID,
		"user_agent", c.Request().UserAgent(),
	)
	return respondUpload(c, result)
}

// HandleUploadMultiple handles POST /upload-multiple.
// Every "file" part becomes a member of one collection.
func (h *Handler) HandleUploadMultiple(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "invalid multipart form",
		})
	}
	headers := form.File["file"]

	uploads := make([]storage.Upload, 0, len(headers))
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
			})
		}
		files = append(files, f)
		uploads = append(uploads, storage.Upload{Name: fh.Filename, Reader: f})
	}

	result, err := h.svc.CreateCollection(
		c.Request().Context(),
		metrics.ChannelHTTP,
		uploads,
		h.svc.ParseExpiryDays(c.FormValue("expiryDays")),
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	slog.Info("http collection upload",
		"ip", c.RealIP(),
		"id", result.ID,
		"files", len(uploads),
		"user_agent", c.Request().UserAgent(),
	)
	return respondUpload(c, result)
}

// HandleGet handles GET /:id.
// Streams a single object, or lists the members of a collection.
func (h *Handler) HandleGet(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	_, col, err := h.svc.Lookup(ctx, id)
	if err != nil {
		return mapServiceError(c, err)
	}
	if col != nil {
		info, err := h.svc.GetInfo(ctx, id)
		if err != nil {
			return mapServiceError(c, err)
		}
		if isCommandLine(c) {
			var b strings.Builder
			for _, f := range info.Files {
				fmt.Fprintf(&b, "%s\t%s\n", f.URL, f.Filename)
			}
			return c.String(http.StatusOK, b.String())
		}
		return c.JSON(http.StatusOK, info)
	}

	obj, f, err := h.svc.Open(ctx, id)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer f.Close()
	return serveObject(c, obj, f)
}

// HandleGetMember handles GET /:id/:member.
func (h *Handler) HandleGetMember(c echo.Context) error {
	obj, f, err := h.svc.OpenMember(c.Request().Context(), c.Param("id"), c.Param("member"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer f.Close()
	return serveObject(c, obj, f)
}

// HandleInfo handles GET /api/info/:id.
// Returns metadata without serving content.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.GetInfo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	deps := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if err := check(c.Request().Context()); err != nil {
			status = "degraded"
			deps[name] = fmt.Sprintf("error: %v", err)
			continue
		}
		deps[name] = "ok"
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":       status,
		"dependencies": deps,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	snap, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		slog.Error("failed to retrieve stats", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}
	return c.JSON(http.StatusOK, snap)
}

// serveObject writes stored content with its original name. Range and
// conditional requests are handled by http.ServeContent.
func serveObject(c echo.Context, obj *storage.Object, content io.ReadSeeker) error {
	res := c.Response()
	if obj.ContentType != "" {
		res.Header().Set(echo.HeaderContentType, obj.ContentType)
	}
	res.Header().Set(echo.HeaderContentDisposition, contentDisposition("inline", obj.OriginalName))
	res.Header().Set("X-Content-Type-Options", "nosniff")
	res.Header().Set("X-Expires-At", obj.ExpiresAt.UTC().Format(http.TimeFormat))

	http.ServeContent(res, c.Request(), obj.OriginalName, obj.CreatedAt, content)
	return nil
}

// contentDisposition formats the header; non-ASCII names are percent-encoded
// as RFC 2231/5987 extended parameters.
func contentDisposition(kind, filename string) string {
	if v := mime.FormatMediaType(kind, map[string]string{"filename": filename}); v != "" {
		return v
	}
	return kind
}

func respondUpload(c echo.Context, result *service.UploadResult) error {
	if isCommandLine(c) {
		return c.String(http.StatusOK, result.URL+"\n")
	}
	return c.JSON(http.StatusCreated, result)
}

// isCommandLine reports whether the client wants a bare URL rather than JSON.
func isCommandLine(c echo.Context) bool {
	ua := c.Request().UserAgent()
	return strings.Contains(ua, "curl") ||
		strings.Contains(ua, "Wget") ||
		c.QueryParam("cli") == "true"
}

// mapServiceError translates store and service errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file or collection not found or has expired"})
	case errors.Is(err, storage.ErrSizeLimitExceeded):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrNoFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file is required (use form field 'file')"})
	case errors.Is(err, service.ErrTooManyFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, storage.ErrIDSpaceExhausted):
		slog.Error("id space exhausted", "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "no free identifiers, try again later"})
	case errors.Is(err, storage.ErrCorruptObject):
		slog.Error("corrupt object", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "stored object is damaged"})
	case errors.Is(err, context.Canceled):
		return c.NoContent(499)
	default:
		slog.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
