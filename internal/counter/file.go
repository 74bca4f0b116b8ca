package counter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockRetryInterval = 10 * time.Millisecond
	lockAcquireBudget = 2 * time.Second
	lockStaleAfter    = 30 * time.Second
)

// FileStore keeps the counter as a plain decimal scalar at a well-known
// path. Rewrites go through a sibling temp file renamed into place, guarded
// by an exclusive lock file so ad-hoc concurrent invocations cannot
// interleave read-modify-write cycles.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The parent directory is
// created on first write, not here.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Current() (int, error) {
	return readScalar(s.path), nil
}

func (s *FileStore) Increment() (int, error) {
	unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	n := readScalar(s.path) + 1
	if err := s.write(n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *FileStore) Reset() error {
	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(0)
}

func (s *FileStore) Close() error { return nil }

// readScalar returns the stored value, or 0 for missing, unreadable or
// malformed storage.
func readScalar(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *FileStore) write(n int) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(n) + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// lock takes <path>.lock exclusively. A lock older than lockStaleAfter is
// assumed abandoned by a crashed invocation and is broken.
func (s *FileStore) lock() (func(), error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o750); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	deadline := time.Now().Add(lockAcquireBudget)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if fi, serr := os.Stat(lockPath); serr == nil && time.Since(fi.ModTime()) > lockStaleAfter {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lock %s busy", ErrPersistence, lockPath)
		}
		time.Sleep(lockRetryInterval)
	}
}
