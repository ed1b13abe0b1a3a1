// Package storage writes markdown reports to object storage or local disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/config"
)

const (
	timestampLayout = "2006-01-02T15-04-05Z"
	dateLayout      = "2006-01-02"
)

var (
	ErrMissingBucket  = errors.New("reports bucket not configured")
	ErrInvalidKey     = errors.New("invalid storage key")
	ErrUnknownBackend = errors.New("unknown storage backend")
)

// Sink stores content under a key and returns its URI.
type Sink interface {
	Put(ctx context.Context, key, content string) (string, error)
}

// ReportKey is "{service}/{timestamp}.md" in UTC.
func ReportKey(service string, t time.Time) string {
	return fmt.Sprintf("%s/%s.md", service, t.UTC().Format(timestampLayout))
}

// SummaryKey is "summaries/{date}/{timestamp}.md" in UTC.
func SummaryKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("summaries/%s/%s.md", t.Format(dateLayout), t.Format(timestampLayout))
}

// cleanKey rejects absolute keys and keys that escape the root.
func cleanKey(prefix, key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if prefix != "" {
		cleaned = path.Join(strings.Trim(prefix, "/"), cleaned)
	}
	return cleaned, nil
}

// New builds the sink selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Sink, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalSink(cfg.LocalDir, cfg.Prefix), nil
	case "s3":
		return NewS3Sink(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}
