// Package media resolves message attachments into inline image payloads
// suitable for a vision-capable completion engine.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxImageSize is the largest attachment that is inlined (20MB).
const DefaultMaxImageSize int64 = 20 * 1024 * 1024

// AllowedImageTypes are the MIME types that may be inlined.
var AllowedImageTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("media exceeds size limit")
)

// Config contains resolver limits.
type Config struct {
	MaxImageSize int64         `yaml:"max_image_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default resolver limits.
func DefaultConfig() Config {
	return Config{
		MaxImageSize: DefaultMaxImageSize,
		Timeout:      30 * time.Second,
	}
}

// Resolver downloads attachments and encodes them as data URLs.
type Resolver struct {
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
}

// NewResolver creates a resolver. A nil client gets one with cfg.Timeout.
func NewResolver(cfg Config, client *http.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = DefaultMaxImageSize
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Resolver{
		client:  client,
		maxSize: cfg.MaxImageSize,
		logger:  logger.With("component", "media"),
	}
}

// Resolve fetches every reference and returns one data URL per attachment
// that could be resolved, in input order. Failures are logged and omitted.
func (r *Resolver) Resolve(ctx context.Context, refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		payload, err := r.fetch(ctx, ref)
		if err != nil {
			r.logger.Debug("attachment dropped", "url", ref, "error", err)
			continue
		}
		out = append(out, payload)
	}
	return out
}

func (r *Resolver) fetch(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned %d", resp.StatusCode)
	}
	if resp.ContentLength > r.maxSize {
		return "", ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) > r.maxSize {
		return "", ErrTooLarge
	}

	mimeType := normalizeMime(resp.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMime(http.DetectContentType(data))
	}
	if !IsAllowedImage(mimeType) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mimeType)
	}

	return EncodeDataURL(mimeType, data), nil
}

// EncodeDataURL returns data as a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsAllowedImage reports whether mimeType may be inlined.
func IsAllowedImage(mimeType string) bool {
	for _, t := range AllowedImageTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

func normalizeMime(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mt)
}
