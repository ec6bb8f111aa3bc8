package storage

import (
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Object is a single stored item. Collection members are Objects too; their
// CreatedAt, ExpiresAt and TTLDays are those of the owning collection.
type Object struct {
	ID           string
	OriginalName string
	ContentType  string
	Size         int64
	Checksum     string
	TTLDays      int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Extension returns the lowercased extension of the original name without
// the dot, or "unknown".
func (o *Object) Extension() string {
	return Extension(o.OriginalName)
}

// Collection is a group of objects uploaded together under one id.
type Collection struct {
	ID        string
	Members   []Object
	TotalSize int64
	TTLDays   int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Upload is one input to CreateCollection.
type Upload struct {
	Name   string
	Reader io.Reader
}

// metadata is the on-disk meta.json record. Field names are part of the
// persisted layout and must not change.
type metadata struct {
	ID           string           `json:"id"`
	Collection   bool             `json:"collection"`
	OriginalName string           `json:"original_name,omitempty"`
	ContentType  string           `json:"content_type,omitempty"`
	Size         int64            `json:"size"`
	Checksum     string           `json:"checksum,omitempty"`
	TTLDays      int              `json:"ttl_days"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Members      []memberMetadata `json:"members,omitempty"`
	TotalSize    int64            `json:"total_size,omitempty"`
}

type memberMetadata struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	Checksum     string `json:"checksum"`
}

func (m *metadata) object() *Object {
	return &Object{
		ID:           m.ID,
		OriginalName: m.OriginalName,
		ContentType:  m.ContentType,
		Size:         m.Size,
		Checksum:     m.Checksum,
		TTLDays:      m.TTLDays,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}

func (m *metadata) collection() *Collection {
	c := &Collection{
		ID:        m.ID,
		Members:   make([]Object, 0, len(m.Members)),
		TotalSize: m.TotalSize,
		TTLDays:   m.TTLDays,
		CreatedAt: m.CreatedAt,
		ExpiresAt: m.ExpiresAt,
	}
	for _, mm := range m.Members {
		c.Members = append(c.Members, m.member(mm))
	}
	return c
}

func (m *metadata) member(mm memberMetadata) Object {
	return Object{
		ID:           mm.ID,
		OriginalName: mm.OriginalName,
		ContentType:  mm.ContentType,
		Size:         mm.Size,
		Checksum:     mm.Checksum,
		TTLDays:      m.TTLDays,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}

// Extension returns the lowercased extension of name without the dot, or
// "unknown" when name has none.
func Extension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return "unknown"
	}
	return ext
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	return name
}
