package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// LocalSink writes reports below a directory. Used for development and dry runs.
type LocalSink struct {
	dir    string
	prefix string
}

func NewLocalSink(dir, prefix string) *LocalSink {
	if dir == "" {
		dir = "./data/reports"
	}
	return &LocalSink{dir: dir, prefix: prefix}
}

func (s *LocalSink) Put(ctx context.Context, key, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(s.prefix, key)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	uri := "file://" + filepath.ToSlash(abs)
	logging.Info("storage", "wrote report %s", uri)
	return uri, nil
}
