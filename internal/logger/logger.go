package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes logging destinations for a supervised run.
// The supervisor log goes to Dir/vigil-YYYY-MM-DD.log (one file per
// run-day); child stdout/stderr go to Dir/<name>.stdout.log and
// Dir/<name>.stderr.log. Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`                 // base directory for logs
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"` // megabytes before rotation (default 10)
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // number of backups to keep (default 3)
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"` // gzip rotated files
	Level      string `json:"level" mapstructure:"level"`       // debug, info, warn, error (default info)
}

// RunLogPath returns the per-day supervisor log path for the given day.
func (c Config) RunLogPath(day time.Time) string {
	return filepath.Join(c.Dir, fmt.Sprintf("vigil-%s.log", day.Format("2006-01-02")))
}

// RunWriter returns the rotating writer for today's supervisor log.
func (c Config) RunWriter(now time.Time) io.WriteCloser {
	return &lj.Logger{
		Filename:   c.RunLogPath(now),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// ChildWriters returns io.WriteClosers for the child's stdout and stderr.
// name is the configured service name.
func (c Config) ChildWriters(name string) (io.WriteCloser, io.WriteCloser) {
	if c.Dir == "" {
		return nil, nil
	}
	mk := func(suffix string) io.WriteCloser {
		return &lj.Logger{
			Filename:   filepath.Join(c.Dir, fmt.Sprintf("%s.%s.log", name, suffix)),
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	return mk("stdout"), mk("stderr")
}

func (c Config) slogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the process-wide slog default logger. Lines are written as
// plain timestamped text to today's run log and mirrored to stderr (colored
// only when stderr is a terminal). It returns the file writer so callers can
// close it, and a no-op closer when Dir is unset.
func Setup(c Config) (io.Closer, error) {
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	stderrColor := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	handlers := []slog.Handler{NewColorTextHandler(os.Stderr, opts, stderrColor)}

	var closer io.Closer = nopCloser{}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		fw := c.RunWriter(time.Now())
		// The run log file always gets escape-free lines.
		handlers = append(handlers, NewColorTextHandler(fw, opts, false))
		closer = fw
	}
	slog.SetDefault(slog.New(newFanoutHandler(handlers...)))
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
