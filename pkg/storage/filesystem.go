package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DocumentStore persists uploaded enrollment documents on disk under a base
// directory. Callers only ever see the generated handle, never a full path.
type DocumentStore struct {
	baseDir string
	now     func() time.Time
}

// NewDocumentStore ensures the base directory exists and returns a handle.
func NewDocumentStore(baseDir string) (*DocumentStore, error) {
	if baseDir == "" {
		baseDir = "./uploads/enrollments"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &DocumentStore{baseDir: baseDir, now: time.Now}, nil
}

// Save streams the upload into a new file and returns the generated handle:
// a nanosecond timestamp plus the original file extension.
func (s *DocumentStore) Save(originalName string, r io.Reader) (string, error) {
	handle := fmt.Sprintf("%d%s", s.now().UnixNano(), sanitizeExt(originalName))
	path := filepath.Join(s.baseDir, handle)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create document file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write document stream: %w", err)
	}
	return handle, nil
}

// Open returns a read-only handle for the stored document.
func (s *DocumentStore) Open(handle string) (*os.File, error) {
	path, err := s.resolve(handle)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document file: %w", err)
	}
	return file, nil
}

// Delete removes a stored document if present.
func (s *DocumentStore) Delete(handle string) error {
	path, err := s.resolve(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete document file: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *DocumentStore) Path(handle string) (string, error) {
	return s.resolve(handle)
}

// resolve rejects handles that would escape the base directory.
func (s *DocumentStore) resolve(handle string) (string, error) {
	if handle == "" || handle != filepath.Base(handle) || strings.HasPrefix(handle, ".") {
		return "", fmt.Errorf("invalid document handle %q", handle)
	}
	return filepath.Join(s.baseDir, handle), nil
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
