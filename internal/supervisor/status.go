package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the persisted record of the most recent run, for operators and
// for the status API.
type Status struct {
	Service   string    `json:"service"`
	Outcome   Outcome   `json:"outcome"`
	WrittenAt time.Time `json:"written_at"`
}

// writeStatus replaces the status file atomically so readers never observe
// a partial document.
func writeStatus(path, service string, out Outcome) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Status{Service: service, Outcome: out, WrittenAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}

// ReadStatus loads the last persisted run record.
func ReadStatus(path string) (Status, error) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("corrupt status file %s: %w", path, err)
	}
	return st, nil
}
