package attachments

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/carelinehq/realtime/internal/domain"
)

// LocalStore keeps attachment payloads on the local filesystem. Used by
// the CLI and in tests.
type LocalStore struct {
	basePath string
}

// LocalConfig holds configuration for local attachment storage.
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
}

func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return &LocalStore{basePath: absPath}, nil
}

// fullPath returns the filesystem path for a key, rejecting keys that
// would escape the base path.
func (s *LocalStore) fullPath(key string) string {
	cleanKey := filepath.Clean(key)
	if cleanKey == ".." || strings.HasPrefix(cleanKey, ".."+string(os.PathSeparator)) {
		cleanKey = ""
	}
	return filepath.Join(s.basePath, cleanKey)
}

func (s *LocalStore) Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (domain.Attachment, error) {
	key := newKey(name)
	dst := s.fullPath(key)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return domain.Attachment{}, fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return domain.Attachment{}, fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return domain.Attachment{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, dst); err != nil {
		return domain.Attachment{}, fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	return domain.Attachment{
		Key:         key,
		Name:        name,
		ContentType: contentType,
		Size:        written,
	}, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// URL returns the file path; local storage has no expiring links.
func (s *LocalStore) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return s.fullPath(key), nil
}
