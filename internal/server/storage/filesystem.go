package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/crypto/blake2b"
)

const (
	metaFile    = "meta.json"
	contentFile = "content"
	stagingDir  = ".staging"
	trashDir    = ".trash"

	trashGracePeriod = time.Minute

	// sniffLen matches the number of bytes mimetype inspects by default.
	sniffLen = 3072
)

// FileSystemStore owns the on-disk layout: one directory per top-level id
// holding meta.json plus content. Entries are built in .staging and published
// with a single rename; deletions rename into .trash before removal, so a
// reader observes either a complete entry or none.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory tree if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	for _, dir := range []string{fs.basePath, fs.staging(), fs.trash()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether a published entry occupies id.
func (fs *FileSystemStore) Exists(id string) bool {
	_, err := os.Lstat(fs.entryPath(id))
	return err == nil
}

// List returns the ids of all published entries.
func (fs *FileSystemStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// stage creates a private working directory for a new entry.
func (fs *FileSystemStore) stage(id string) (string, error) {
	dir, err := os.MkdirTemp(fs.staging(), id+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	return dir, nil
}

// publish makes a staged entry visible under id.
func (fs *FileSystemStore) publish(stageDir, id string) error {
	if err := os.Rename(stageDir, fs.entryPath(id)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", id, err)
	}
	return nil
}

// remove deletes the entry for id. Missing entries are not an error.
func (fs *FileSystemStore) remove(id string) error {
	dst := filepath.Join(fs.trash(), id+"-"+strconv.FormatInt(time.Now().UnixNano(), 36))
	if err := os.Rename(fs.entryPath(id), dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to unlink %s: %w", id, err)
	}
	// Rename keeps the entry's old mtime; emptyTrash must see it as fresh.
	now := time.Now()
	os.Chtimes(dst, now, now)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}
	return nil
}

func (fs *FileSystemStore) readMeta(id string) (*metadata, error) {
	data, err := os.ReadFile(filepath.Join(fs.entryPath(id), metaFile))
	if err != nil {
		return nil, err
	}

	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode metadata for %s: %v", ErrCorruptObject, id, err)
	}
	if meta.ID != id || meta.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: metadata for %s is incomplete", ErrCorruptObject, id)
	}
	return &meta, nil
}

func writeMeta(dir string, meta *metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, metaFile), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// blob describes content written by writeBlob.
type blob struct {
	size     int64
	checksum string
	head     []byte
}

// writeBlob copies r into a new file at path, hashing as it goes. When limit
// is positive and r yields more than limit bytes the copy stops after
// limit+1 bytes and ErrSizeLimitExceeded is returned; the caller owns
// removal of the partial file.
func writeBlob(ctx context.Context, path string, r io.Reader, limit int64) (*blob, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, filepath.Base(path), err)
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init hasher: %w", err)
	}
	head := &headBuffer{max: sniffLen}

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}

	n, err := io.Copy(io.MultiWriter(f, hasher, head), src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: write content: %w", ErrIO, err)
	}
	if limit > 0 && n > limit {
		return nil, ErrSizeLimitExceeded
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync content: %w", ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close content: %w", ErrIO, err)
	}

	return &blob{
		size:     n,
		checksum: hex.EncodeToString(hasher.Sum(nil)),
		head:     head.buf.Bytes(),
	}, nil
}

// verifyChecksum compares data against a blake2b-256 hex digest recorded at
// creation. An empty digest is accepted.
func verifyChecksum(data []byte, want string) error {
	if want == "" {
		return nil
	}
	sum := blake2b.Sum256(data)
	if hex.EncodeToString(sum[:]) != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptObject)
	}
	return nil
}

// openBlob opens a content file and checks its size against metadata.
func (fs *FileSystemStore) openBlob(id, name string, size int64) (*os.File, error) {
	f, err := os.Open(filepath.Join(fs.entryPath(id), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// A concurrent delete renames the whole entry away; a missing
			// file inside a still-present entry is corruption.
			if !fs.Exists(id) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: content missing for %s", ErrCorruptObject, id)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, id, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, id, err)
	}
	if info.Size() != size {
		f.Close()
		return nil, fmt.Errorf("%w: %s has %d bytes, metadata says %d", ErrCorruptObject, id, info.Size(), size)
	}
	return f, nil
}

// purgeStaging removes staging directories last modified before cutoff,
// left behind by a crash mid-create.
func (fs *FileSystemStore) purgeStaging(cutoff time.Time) (int, error) {
	return purgeOlder(fs.staging(), cutoff)
}

// emptyTrash removes what a failed delete left in .trash. Entries younger
// than trashGracePeriod may still be in the hands of remove.
func (fs *FileSystemStore) emptyTrash() (int, error) {
	return purgeOlder(fs.trash(), time.Now().Add(-trashGracePeriod))
}

func purgeOlder(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var removed int
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (fs *FileSystemStore) entryPath(id string) string {
	return filepath.Join(fs.basePath, id)
}

func (fs *FileSystemStore) staging() string {
	return filepath.Join(fs.basePath, stagingDir)
}

func (fs *FileSystemStore) trash() string {
	return filepath.Join(fs.basePath, trashDir)
}

// headBuffer keeps the first max bytes written to it.
type headBuffer struct {
	buf bytes.Buffer
	max int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.max - h.buf.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf.Write(p[:room])
	}
	return len(p), nil
}

// ctxReader stops a copy once ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
