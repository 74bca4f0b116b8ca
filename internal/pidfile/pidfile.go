// Package pidfile persists the identifier of the supervised child process
// for the duration of one run. The record is written right after the child
// starts and removed on every exit path; a start-time stamp guards liveness
// checks against PID reuse between invocations.
package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record identifies one running service child.
type Record struct {
	PID       int    `json:"-"`
	Service   string `json:"service,omitempty"`
	StartUnix int64  `json:"start_unix,omitempty"`
}

// Write persists the record at path: first line is the PID, second line is
// JSON metadata. The parent directory is created if needed.
func Write(path string, r Record) error {
	if path == "" {
		return nil
	}
	if r.PID <= 0 {
		return fmt.Errorf("pidfile: refusing to write pid %d", r.PID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	meta, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data := strconv.Itoa(r.PID) + "\n" + string(meta) + "\n"
	return os.WriteFile(path, []byte(data), 0o600)
}

// Read loads a record previously written by Write. Legacy files containing
// only a PID line parse with empty metadata.
func Read(path string) (Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	pidLine, rest, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return Record{}, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	r := Record{PID: pid}
	rest = strings.TrimSpace(rest)
	if rest != "" {
		// Metadata is advisory; a corrupt second line still yields the PID.
		_ = json.Unmarshal([]byte(rest), &r)
	}
	return r, nil
}

// Remove deletes the record. Missing files are not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// StartUnix returns the OS-reported start time of pid as Unix seconds, or 0
// when unavailable. Used to stamp records against PID reuse.
func StartUnix(pid int) int64 { return procStartUnix(pid) }

// Alive reports whether the recorded process is still running. When the
// record carries a start-time stamp and the live process started at a
// different time, the PID has been recycled and the record is stale.
func (r Record) Alive() bool {
	if r.PID <= 0 {
		return false
	}
	if r.StartUnix > 0 {
		if cur := procStartUnix(r.PID); cur > 0 && cur != r.StartUnix {
			return false
		}
	}
	return pidAlive(r.PID)
}

// CheckPath reads path and reports liveness of the recorded process.
// A missing record means no process.
func CheckPath(path string) (bool, error) {
	r, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return r.Alive(), nil
}
