package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"slashbin/internal/server/config"
	"slashbin/internal/server/metrics"
	"slashbin/internal/server/stats"
	"slashbin/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrTooManyFiles = errors.New("too many files in one upload")
	ErrNoFiles      = errors.New("no files uploaded")
)

// Store is the part of storage.Store the service uses.
type Store interface {
	CreateObject(ctx context.Context, r io.Reader, originalName string, ttlDays int) (*storage.Object, error)
	CreateCollection(ctx context.Context, uploads []storage.Upload, ttlDays int) (*storage.Collection, error)
	Lookup(ctx context.Context, id string) (*storage.Object, *storage.Collection, error)
	OpenObject(ctx context.Context, id string) (*storage.Object, *os.File, error)
	OpenMember(ctx context.Context, collectionID, memberID string) (*storage.Object, *os.File, error)
}

// FileResult describes one stored file.
type FileResult struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	ID         string       `json:"id"`
	URL        string       `json:"url"`
	Collection bool         `json:"collection"`
	Filename   string       `json:"filename,omitempty"`
	Size       int64        `json:"size"`
	TTLDays    int          `json:"ttl_days"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Files      []FileResult `json:"files,omitempty"`
}

// ExpiryNotice is the human-readable expiry appended to plain-text replies.
func (r *UploadResult) ExpiryNotice() string {
	if r.TTLDays == 1 {
		return "expires in 1 day"
	}
	return fmt.Sprintf("expires in %d days", r.TTLDays)
}

// UploadInfo is returned for metadata queries.
type UploadInfo struct {
	ID         string       `json:"id"`
	Collection bool         `json:"collection"`
	Filename   string       `json:"filename,omitempty"`
	Size       int64        `json:"size"`
	SizeHuman  string       `json:"size_human"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Files      []FileResult `json:"files,omitempty"`
}

// UploadService joins the object store with statistics and metrics for the
// HTTP and socket gateways.
type UploadService struct {
	store    Store
	recorder stats.Recorder
	cfg      *config.Config
}

// NewUploadService creates a new upload service. recorder may be nil.
func NewUploadService(store Store, recorder stats.Recorder, cfg *config.Config) *UploadService {
	return &UploadService{
		store:    store,
		recorder: recorder,
		cfg:      cfg,
	}
}

// ParseExpiryDays reads a client-supplied expiry. Empty or malformed input
// yields the configured default; range clamping is the store's job.
func (s *UploadService) ParseExpiryDays(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.cfg.DefaultExpiryDays
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return s.cfg.DefaultExpiryDays
	}
	return days
}

// CreateObject stores one file arriving on channel.
func (s *UploadService) CreateObject(ctx context.Context, channel string, r io.Reader, filename string, ttlDays int) (*UploadResult, error) {
	obj, err := s.store.CreateObject(ctx, r, filename, ttlDays)
	if err != nil {
		return nil, err
	}

	metrics.Uploads.WithLabelValues(channel, "object").Inc()
	metrics.UploadBytes.WithLabelValues(channel).Add(float64(obj.Size))
	s.record(ctx, obj.Size, obj.Extension())

	slog.Info("upload processed",
		"channel", channel,
		"id", obj.ID,
		"filename", obj.OriginalName,
		"size", stats.FormatSize(obj.Size),
		"expires_at", obj.ExpiresAt,
	)

	return &UploadResult{
		ID:        obj.ID,
		URL:       s.URL(obj.ID),
		Filename:  obj.OriginalName,
		Size:      obj.Size,
		TTLDays:   obj.TTLDays,
		ExpiresAt: obj.ExpiresAt,
	}, nil
}

// CreateCollection stores several files under one id. A single upload is
// stored as a plain object.
func (s *UploadService) CreateCollection(ctx context.Context, channel string, uploads []storage.Upload, ttlDays int) (*UploadResult, error) {
	switch {
	case len(uploads) == 0:
		return nil, ErrNoFiles
	case len(uploads) > s.cfg.MaxCollectionFiles:
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(uploads), s.cfg.MaxCollectionFiles)
	case len(uploads) == 1:
		return s.CreateObject(ctx, channel, uploads[0].Reader, uploads[0].Name, ttlDays)
	}

	col, err := s.store.CreateCollection(ctx, uploads, ttlDays)
	if err != nil {
		return nil, err
	}

	metrics.Uploads.WithLabelValues(channel, "collection").Inc()
	metrics.UploadBytes.WithLabelValues(channel).Add(float64(col.TotalSize))
	for i := range col.Members {
		s.record(ctx, col.Members[i].Size, col.Members[i].Extension())
	}

	slog.Info("collection processed",
		"channel", channel,
		"id", col.ID,
		"files", len(col.Members),
		"total_size", stats.FormatSize(col.TotalSize),
		"expires_at", col.ExpiresAt,
	)

	return &UploadResult{
		ID:         col.ID,
		URL:        s.URL(col.ID),
		Collection: true,
		Size:       col.TotalSize,
		TTLDays:    col.TTLDays,
		ExpiresAt:  col.ExpiresAt,
		Files:      s.fileResults(col),
	}, nil
}

// GetInfo returns metadata about an object or collection without serving it.
func (s *UploadService) GetInfo(ctx context.Context, id string) (*UploadInfo, error) {
	obj, col, err := s.store.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	if col != nil {
		return &UploadInfo{
			ID:         col.ID,
			Collection: true,
			Size:       col.TotalSize,
			SizeHuman:  stats.FormatSize(col.TotalSize),
			CreatedAt:  col.CreatedAt,
			ExpiresAt:  col.ExpiresAt,
			Files:      s.fileResults(col),
		}, nil
	}
	return &UploadInfo{
		ID:        obj.ID,
		Filename:  obj.OriginalName,
		Size:      obj.Size,
		SizeHuman: stats.FormatSize(obj.Size),
		CreatedAt: obj.CreatedAt,
		ExpiresAt: obj.ExpiresAt,
	}, nil
}

// Lookup passes through to the store.
func (s *UploadService) Lookup(ctx context.Context, id string) (*storage.Object, *storage.Collection, error) {
	return s.store.Lookup(ctx, id)
}

// Open returns a single object's metadata and content. The caller closes it.
func (s *UploadService) Open(ctx context.Context, id string) (*storage.Object, *os.File, error) {
	return s.store.OpenObject(ctx, id)
}

// OpenMember returns one collection member. The caller closes it.
func (s *UploadService) OpenMember(ctx context.Context, collectionID, memberID string) (*storage.Object, *os.File, error) {
	return s.store.OpenMember(ctx, collectionID, memberID)
}

// GetStats returns upload statistics.
func (s *UploadService) GetStats(ctx context.Context) (*stats.Snapshot, error) {
	if s.recorder == nil {
		snap := &stats.Snapshot{}
		snap.Finalize(time.Now())
		return snap, nil
	}
	return s.recorder.Snapshot(ctx)
}

// URL returns the public address of id.
func (s *UploadService) URL(id string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + id
}

func (s *UploadService) fileResults(col *storage.Collection) []FileResult {
	files := make([]FileResult, 0, len(col.Members))
	for _, m := range col.Members {
		files = append(files, FileResult{
			ID:          m.ID,
			Filename:    m.OriginalName,
			Size:        m.Size,
			ContentType: m.ContentType,
			URL:         s.URL(col.ID) + "/" + m.ID,
		})
	}
	return files
}

// record updates statistics. The upload has already succeeded, so a
// recorder failure is logged and swallowed.
func (s *UploadService) record(ctx context.Context, size int64, ext string) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, size, ext); err != nil {
		slog.Error("failed to record upload stats", "error", err)
	}
}
