// Package media resolves catalog media references into deliverable content.
//
// Catalog rows store relative paths ("uploads/plan-oro.jpg"); the resolver
// joins them onto a configured base URL, verifies reachability with a HEAD
// request, and fetches the bytes. Unreachable or failed fetches surface as
// errors so the engine can fall back to a "content unavailable" message.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// Timeouts for media resolution
const (
	// DefaultHeadTimeout bounds the reachability check.
	DefaultHeadTimeout = 10 * time.Second
	// DefaultFetchTimeout bounds the content download.
	DefaultFetchTimeout = 30 * time.Second
	// DefaultFilename is used when no filename can be derived from the URL.
	DefaultFilename = "archivo"
)

// mimeByExtension maps known file extensions to MIME types, used when the
// origin does not return a usable Content-Type header.
var mimeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

// Opts holds configuration options for the Resolver.
type Opts struct {
	BaseURL string
	Client  *http.Client
}

// Option defines a configuration option for the Resolver.
type Option func(*Opts)

// WithBaseURL sets the origin the relative media references are joined onto.
func WithBaseURL(base string) Option {
	return func(o *Opts) {
		o.BaseURL = base
	}
}

// WithHTTPClient injects an HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.Client = c
	}
}

// Resolver fetches media content referenced by catalog entries.
type Resolver struct {
	baseURL string
	client  *http.Client
}

// NewResolver creates a Resolver, applying any provided options.
func NewResolver(opts ...Option) *Resolver {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &Resolver{baseURL: strings.TrimRight(cfg.BaseURL, "/"), client: client}
}

// FullURL joins a catalog media reference onto the base URL, trimming any
// leading slashes from the reference. Absolute references pass through.
func (r *Resolver) FullURL(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return r.baseURL + "/" + strings.TrimLeft(ref, "/")
}

// Reachable checks the media URL with a HEAD request. Status codes in the
// 2xx/3xx range count as reachable.
func (r *Resolver) Reachable(ctx context.Context, fullURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, DefaultHeadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fullURL, nil)
	if err != nil {
		slog.Debug("media: invalid URL", "url", fullURL, "error", err)
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		slog.Debug("media: HEAD request failed", "url", fullURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// Resolve checks reachability and fetches the content for a media reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*models.Media, error) {
	fullURL := r.FullURL(ref)
	slog.Debug("media: resolving", "url", fullURL)

	if !r.Reachable(ctx, fullURL) {
		return nil, fmt.Errorf("media not reachable: %s", fullURL)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		slog.Error("media: fetch failed", "url", fullURL, "error", err)
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("media fetch returned status %d for %s", resp.StatusCode, fullURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("media: read failed", "url", fullURL, "error", err)
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = MimeTypeFromURL(fullURL)
	}

	m := &models.Media{
		Data:     data,
		MimeType: mimeType,
		Filename: FilenameFromURL(fullURL),
		URL:      fullURL,
	}
	slog.Debug("media: resolved", "url", fullURL, "mime", m.MimeType, "bytes", len(data))
	return m, nil
}

// MimeTypeFromURL derives a MIME type from the URL's file extension, falling
// back to application/octet-stream.
func MimeTypeFromURL(rawURL string) string {
	ext := strings.ToLower(path.Ext(rawURL))
	if mime, ok := mimeByExtension[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// FilenameFromURL derives a filename from the URL path.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultFilename
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return DefaultFilename
	}
	return name
}
