package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"slashbin/internal/server/idgen"
	"slashbin/internal/server/metrics"
)

const (
	defaultMaxIDAttempts = 10
	stagingGracePeriod   = time.Hour
)

// IDGenerator draws candidate ids. Collisions are detected by the store.
type IDGenerator interface {
	Next(length int) (string, error)
}

// Options are the limits the store enforces.
type Options struct {
	MaxFileSize   int64 // per object or member; zero disables the check
	MaxExpiryDays int
	IDLength      int
	MaxIDAttempts int
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the ephemeral object store. It exclusively owns objects,
// collections and their bytes; everything else reaches them through it.
type Store struct {
	fs   *FileSystemStore
	ids  IDGenerator
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewStore creates a Store on top of fs.
func NewStore(fs *FileSystemStore, ids IDGenerator, opts Options, options ...Option) *Store {
	if opts.MaxIDAttempts <= 0 {
		opts.MaxIDAttempts = defaultMaxIDAttempts
	}
	if opts.MaxExpiryDays <= 0 {
		opts.MaxExpiryDays = 1
	}
	s := &Store{
		fs:       fs,
		ids:      ids,
		opts:     opts,
		now:      time.Now,
		reserved: make(map[string]struct{}),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// CreateObject stores the bytes read from r as a new object. ttlDays is
// clamped into [1, MaxExpiryDays]. On any failure nothing is left behind.
func (s *Store) CreateObject(ctx context.Context, r io.Reader, originalName string, ttlDays int) (*Object, error) {
	id, err := s.allocate()
	if err != nil {
		return nil, err
	}
	defer s.release(id)

	stage, err := s.fs.stage(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(stage)
		}
	}()

	b, err := writeBlob(ctx, filepath.Join(stage, contentFile), r, s.opts.MaxFileSize)
	if err != nil {
		return nil, err
	}

	name := sanitizeFilename(originalName)
	ttl := ClampTTLDays(ttlDays, s.opts.MaxExpiryDays)
	now := s.now().UTC()
	meta := &metadata{
		ID:           id,
		OriginalName: name,
		ContentType:  detectContentType(name, b.head),
		Size:         b.size,
		Checksum:     b.checksum,
		TTLDays:      ttl,
		CreatedAt:    now,
		ExpiresAt:    expiresAt(now, ttl),
	}

	// Bytes first, then metadata, then one rename makes both visible.
	if err := writeMeta(stage, meta); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := s.fs.publish(stage, id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	published = true

	slog.Info("object created",
		"id", id,
		"filename", name,
		"size", b.size,
		"ttl_days", ttl,
		"expires_at", meta.ExpiresAt,
	)
	return meta.object(), nil
}

// CreateCollection stores uploads as members of one collection, keyed under
// the collection id. Either every member is stored or none is.
func (s *Store) CreateCollection(ctx context.Context, uploads []Upload, ttlDays int) (*Collection, error) {
	if len(uploads) == 0 {
		return nil, ErrEmptyCollection
	}

	id, err := s.allocate()
	if err != nil {
		return nil, err
	}
	defer s.release(id)

	stage, err := s.fs.stage(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(stage)
		}
	}()

	ttl := ClampTTLDays(ttlDays, s.opts.MaxExpiryDays)
	now := s.now().UTC()
	meta := &metadata{
		ID:         id,
		Collection: true,
		TTLDays:    ttl,
		CreatedAt:  now,
		ExpiresAt:  expiresAt(now, ttl),
		Members:    make([]memberMetadata, 0, len(uploads)),
	}

	used := map[string]bool{metaFile: true, contentFile: true}
	for i, up := range uploads {
		memberID, err := s.memberID(used)
		if err != nil {
			return nil, err
		}

		b, err := writeBlob(ctx, filepath.Join(stage, memberID), up.Reader, s.opts.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}

		name := sanitizeFilename(up.Name)
		meta.Members = append(meta.Members, memberMetadata{
			ID:           memberID,
			OriginalName: name,
			ContentType:  detectContentType(name, b.head),
			Size:         b.size,
			Checksum:     b.checksum,
		})
		meta.TotalSize += b.size
	}

	if err := writeMeta(stage, meta); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := s.fs.publish(stage, id); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	published = true

	slog.Info("collection created",
		"id", id,
		"members", len(meta.Members),
		"total_size", meta.TotalSize,
		"ttl_days", ttl,
		"expires_at", meta.ExpiresAt,
	)
	return meta.collection(), nil
}

// Lookup returns the live entry for id: exactly one of the results is
// non-nil on success.
func (s *Store) Lookup(ctx context.Context, id string) (*Object, *Collection, error) {
	meta, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if meta.Collection {
		return nil, meta.collection(), nil
	}
	return meta.object(), nil, nil
}

// OpenObject returns the metadata and an open handle on the content of a
// single object. The handle stays readable even if the object is evicted
// while it is open. The caller must close it.
func (s *Store) OpenObject(ctx context.Context, id string) (*Object, *os.File, error) {
	meta, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if meta.Collection {
		return nil, nil, ErrNotFound
	}

	f, err := s.fs.openBlob(id, contentFile, meta.Size)
	if err != nil {
		return nil, nil, err
	}
	return meta.object(), f, nil
}

// ReadObject returns the full content of a single object, verified against
// the checksum recorded at creation.
func (s *Store) ReadObject(ctx context.Context, id string) (*Object, []byte, error) {
	obj, f, err := s.OpenObject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read %s: %w", ErrIO, id, err)
	}
	if err := verifyChecksum(data, obj.Checksum); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", id, err)
	}
	return obj, data, nil
}

// ReadCollection returns a collection with its members in upload order.
func (s *Store) ReadCollection(ctx context.Context, id string) (*Collection, error) {
	meta, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.Collection {
		return nil, ErrNotFound
	}

	for _, m := range meta.Members {
		info, err := os.Stat(filepath.Join(s.fs.entryPath(id), m.ID))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if !s.fs.Exists(id) {
					return nil, ErrNotFound
				}
				return nil, fmt.Errorf("%w: member %s of %s missing", ErrCorruptObject, m.ID, id)
			}
			return nil, fmt.Errorf("%w: stat member %s: %w", ErrIO, m.ID, err)
		}
		if info.Size() != m.Size {
			return nil, fmt.Errorf("%w: member %s of %s has wrong size", ErrCorruptObject, m.ID, id)
		}
	}
	return meta.collection(), nil
}

// OpenMember opens one member of a collection. The caller must close the file.
func (s *Store) OpenMember(ctx context.Context, collectionID, memberID string) (*Object, *os.File, error) {
	meta, err := s.load(ctx, collectionID)
	if err != nil {
		return nil, nil, err
	}
	if !meta.Collection {
		return nil, nil, ErrNotFound
	}

	for _, m := range meta.Members {
		if m.ID != memberID {
			continue
		}
		f, err := s.fs.openBlob(collectionID, m.ID, m.Size)
		if err != nil {
			return nil, nil, err
		}
		obj := meta.member(m)
		return &obj, f, nil
	}
	return nil, nil, ErrNotFound
}

// Delete removes an entry. Deleting a missing entry succeeds, so lazy
// eviction and the sweep can race on the same id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !idgen.Valid(id) {
		return nil
	}
	if err := s.fs.remove(id); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// EvictExpired deletes every expired top-level entry and returns how many
// it removed. Failures on individual entries are logged and skipped.
func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	ids, err := s.fs.List()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, err)
	}

	now := s.now()
	var evicted int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		meta, err := s.fs.readMeta(id)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Deleted concurrently, or a foreign directory.
				continue
			}
			slog.Warn("skipping unreadable entry during sweep", "id", id, "error", err)
			continue
		}
		if !Expired(meta.ExpiresAt, now) {
			continue
		}

		if err := s.Delete(ctx, id); err != nil {
			slog.Error("failed to evict expired entry", "id", id, "error", err)
			continue
		}
		metrics.Evictions.WithLabelValues(metrics.EvictSweep).Inc()
		evicted++
		slog.Info("evicted expired entry",
			"id", id,
			"collection", meta.Collection,
			"expired_at", meta.ExpiresAt,
		)
	}

	if n, err := s.fs.purgeStaging(time.Now().Add(-stagingGracePeriod)); err != nil {
		slog.Warn("failed to purge staging", "error", err)
	} else if n > 0 {
		slog.Info("purged abandoned staging entries", "count", n)
	}
	if _, err := s.fs.emptyTrash(); err != nil {
		slog.Warn("failed to empty trash", "error", err)
	}

	return evicted, nil
}

// load reads metadata for id and applies lazy eviction.
func (s *Store) load(ctx context.Context, id string) (*metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !idgen.Valid(id) {
		return nil, ErrNotFound
	}

	meta, err := s.fs.readMeta(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.fs.Exists(id) {
				return nil, fmt.Errorf("%w: %s has content but no metadata", ErrCorruptObject, id)
			}
			return nil, ErrNotFound
		}
		if errors.Is(err, ErrCorruptObject) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read metadata for %s: %w", ErrIO, id, err)
	}

	if Expired(meta.ExpiresAt, s.now()) {
		if err := s.Delete(ctx, id); err != nil {
			slog.Error("failed to evict expired entry on read", "id", id, "error", err)
		} else {
			metrics.Evictions.WithLabelValues(metrics.EvictLazy).Inc()
			slog.Info("evicted expired entry on read", "id", id, "expired_at", meta.ExpiresAt)
		}
		return nil, ErrNotFound
	}
	return meta, nil
}

// allocate reserves a fresh top-level id. The reservation covers the window
// between the existence check and publish; release must follow.
func (s *Store) allocate() (string, error) {
	for attempt := 1; attempt <= s.opts.MaxIDAttempts; attempt++ {
		id, err := s.ids.Next(s.opts.IDLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		if !idgen.Valid(id) {
			continue
		}

		s.mu.Lock()
		_, taken := s.reserved[id]
		if !taken {
			taken = s.fs.Exists(id)
		}
		if !taken {
			s.reserved[id] = struct{}{}
		}
		s.mu.Unlock()

		if !taken {
			return id, nil
		}
		slog.Debug("id collision, retrying", "id", id, "attempt", attempt)
	}
	return "", ErrIDSpaceExhausted
}

func (s *Store) release(id string) {
	s.mu.Lock()
	delete(s.reserved, id)
	s.mu.Unlock()
}

// memberID draws an id unique within one collection.
func (s *Store) memberID(used map[string]bool) (string, error) {
	for attempt := 0; attempt < s.opts.MaxIDAttempts; attempt++ {
		id, err := s.ids.Next(s.opts.IDLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate id: %w", err)
		}
		if idgen.Valid(id) && !used[id] {
			used[id] = true
			return id, nil
		}
	}
	return "", ErrIDSpaceExhausted
}

// detectContentType prefers the extension and falls back to sniffing.
func detectContentType(name string, head []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return mimetype.Detect(head).String()
}
