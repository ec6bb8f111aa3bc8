package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Part is one file of an upload. Open is called once, while the request
// body is being written.
type Part struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FilePart uploads the file at path under its base name.
func FilePart(f *File) Part {
	return Part{
		Name: f.Name(),
		Open: func() (io.ReadCloser, error) { return os.Open(f.Path()) },
	}
}

// Parts turns a tree into upload parts: one per file, or a single zip of
// the whole tree when archive is set.
func (ft *Filetree) Parts(archive bool) []Part {
	if archive {
		return []Part{{
			Name: ft.ArchiveName(),
			Open: func() (io.ReadCloser, error) {
				pr, pw := io.Pipe()
				go func() { pw.CloseWithError(ft.WriteZip(pw)) }()
				return pr, nil
			},
		}}
	}

	files := ft.FlattenTree()
	parts := make([]Part, 0, len(files))
	for _, f := range files {
		parts = append(parts, FilePart(f))
	}
	return parts
}

// FileResult is one stored file in an upload reply.
type FileResult struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// UploadResult is the decoded reply of /upload and /upload-multiple.
type UploadResult struct {
	ID         string       `json:"id"`
	URL        string       `json:"url"`
	Collection bool         `json:"collection"`
	Filename   string       `json:"filename"`
	Size       int64        `json:"size"`
	TTLDays    int          `json:"ttl_days"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Files      []FileResult `json:"files"`
}

// Info is the /api/info/:id reply.
type Info struct {
	ID         string       `json:"id"`
	Collection bool         `json:"collection"`
	Filename   string       `json:"filename"`
	Size       int64        `json:"size"`
	SizeHuman  string       `json:"size_human"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Files      []FileResult `json:"files"`
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the slashbin HTTP API.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	UserAgent string
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		HTTP:      &http.Client{},
		UserAgent: "slash/1.0",
	}
}

// Upload sends parts in one request. A single part becomes an object; more
// become a collection. expiryDays <= 0 leaves the server default.
func (c *Client) Upload(ctx context.Context, parts []Part, expiryDays int) (*UploadResult, error) {
	if len(parts) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}
	endpoint := "/upload"
	if len(parts) > 1 {
		endpoint = "/upload-multiple"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, parts, expiryDays))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result UploadResult
	if err := c.do(req, &result); err != nil {
		pr.Close()
		return nil, err
	}
	return &result, nil
}

func writeForm(mw *multipart.Writer, parts []Part, expiryDays int) error {
	if expiryDays > 0 {
		if err := mw.WriteField("expiryDays", strconv.Itoa(expiryDays)); err != nil {
			return err
		}
	}
	for _, p := range parts {
		if err := writePart(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, p Part) error {
	src, err := p.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p.Name, err)
	}
	defer src.Close()

	w, err := mw.CreateFormFile("file", p.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to send %s: %w", p.Name, err)
	}
	return nil
}

// Info fetches metadata for an object or collection.
func (c *Client) Info(ctx context.Context, id string) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/info/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	var info Info
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
