package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/vigil/internal/pidfile"
)

// Lock files older than this with a dead owner are broken without asking.
const lockStaleAfter = 24 * time.Hour

// acquireRunLock prevents two runs of the same service from overlapping.
// The lock carries the owner PID so a crashed run does not wedge the next
// one. An empty path disables locking.
func acquireRunLock(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write run lock %s: %v", path, werr)
			}
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if !breakStaleLock(path) {
			break
		}
	}
	return nil, fmt.Errorf("%w: lock held at %s", ErrRunActive, path)
}

// breakStaleLock removes the lock when its owner is gone or the file is
// old enough that the owner cannot still be a live run.
func breakStaleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		// Racing unlock; let the caller retry the exclusive create.
		return os.IsNotExist(err)
	}
	owner, perr := strconv.Atoi(strings.TrimSpace(string(data)))
	if perr == nil && owner > 0 {
		if rec := (pidfile.Record{PID: owner}); rec.Alive() {
			if fi, serr := os.Stat(path); serr == nil && time.Since(fi.ModTime()) < lockStaleAfter {
				return false
			}
		}
	}
	return os.Remove(path) == nil
}
