package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// FileSource serves the CSV table at Path, re-reading it only when the file
// changes on disk.
type FileSource struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	records []domain.Record
}

// NewFileSource creates a source for path. The file may not exist yet.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the backing file path.
func (s *FileSource) Path() string { return s.path }

// Records returns the current table. A missing file yields ErrNotFound.
// Callers must not modify the returned slice.
func (s *FileSource) Records(_ context.Context) ([]domain.Record, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.records, nil
	}
	records, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.records, s.modTime, s.size = records, info.ModTime(), info.Size()
	return records, nil
}

// CheckReadiness fails while the table file is absent.
func (s *FileSource) CheckReadiness(_ context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	return nil
}
