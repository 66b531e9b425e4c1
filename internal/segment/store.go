package segment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store hands out segment paths inside a private directory
type Store struct {
	dir  string
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewStore creates the directory (mode 0700) if needed
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("segment directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the storage directory
func (s *Store) Dir() string {
	return s.dir
}

// Allocate returns an unused path named <prefix>_<unix nanos><ext>.
// Suffixes strictly increase within the process, so two calls never
// return the same path even when the clock does not advance.
func (s *Store) Allocate(prefix, ext string) (string, error) {
	if prefix == "" {
		prefix = "recording"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	suffix := s.now().UnixNano()
	for attempt := 0; attempt < 1000; attempt++ {
		if suffix <= s.last {
			suffix = s.last + 1
		}
		s.last = suffix

		path := filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", prefix, suffix, ext))
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check segment path: %w", err)
		}
		suffix++
	}
	return "", fmt.Errorf("no free segment path for prefix %q", prefix)
}

// Remove deletes a segment file and any raw capture left next to it
func (s *Store) Remove(seg Segment) error {
	var errs []error
	for _, p := range []string{seg.Path, seg.RawPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
