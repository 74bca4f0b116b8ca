// Package service is a small echo-based HTTP application used to exercise
// the supervisor end to end: it serves a health endpoint, runs a unit of
// work on demand, and can run once and stop on its own for scheduled use.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// TaskResult records one execution of the work unit.
type TaskResult struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration_seconds"`
}

// Options configures the demo service.
type Options struct {
	Addr string
	// AutoRun executes the task once after startup and then stops the
	// service, the shape a scheduled run expects.
	AutoRun bool
	// Work replaces the built-in simulated work, mostly for tests.
	Work func(ctx context.Context) error
	// AutoRunDelay is how long to wait after startup before auto-running.
	AutoRunDelay time.Duration
}

// Service is one instance of the demo application.
type Service struct {
	opts    Options
	echo    *echo.Echo
	started time.Time

	mu      sync.Mutex
	results []TaskResult

	done chan struct{}
}

func New(opts Options) *Service {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:8000"
	}
	if opts.Work == nil {
		opts.Work = simulateWork
	}
	if opts.AutoRunDelay <= 0 {
		opts.AutoRunDelay = 2 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Service{opts: opts, echo: e, done: make(chan struct{})}
	e.GET("/", s.handleRoot)
	e.GET("/health", s.handleHealth)
	e.POST("/run-task", s.handleRunTask)
	e.GET("/tasks", s.handleTasks)
	e.GET("/tasks/:id", s.handleTask)
	return s
}

// Start serves until ctx is cancelled or, in auto-run mode, until the task
// has completed. It returns the task error in auto-run mode.
func (s *Service) Start(ctx context.Context) error {
	s.started = time.Now()
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var autoErr error
	autoDone := make(chan struct{})
	if s.opts.AutoRun {
		go func() {
			defer close(autoDone)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.opts.AutoRunDelay):
			}
			slog.Info("auto-executing main task")
			res := s.runTask(ctx)
			if res.Status != "completed" {
				autoErr = errors.New(res.Message)
				return
			}
			slog.Info("main task completed, shutting down")
		}()
	}

	stop := s.done // never closed outside auto-run mode
	if s.opts.AutoRun {
		stop = autoDone
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	case <-stop:
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.echo.Shutdown(shutCtx)
	return autoErr
}

// Results returns a copy of the task history.
func (s *Service) Results() []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskResult, len(s.results))
	copy(out, s.results)
	return out
}

func (s *Service) runTask(ctx context.Context) TaskResult {
	s.mu.Lock()
	id := fmt.Sprintf("task_%d", len(s.results)+1)
	s.mu.Unlock()
	start := time.Now()
	slog.Info("starting task", "task_id", id)

	res := TaskResult{TaskID: id, Timestamp: time.Now(), Status: "completed", Message: "Task completed successfully"}
	if err := s.opts.Work(ctx); err != nil {
		res.Status = "failed"
		res.Message = "Task failed: " + err.Error()
		slog.Error("task failed", "task_id", id, "error", err)
	} else {
		slog.Info("task completed", "task_id", id, "duration", time.Since(start).String())
	}
	res.Duration = time.Since(start).Seconds()
	res.Timestamp = time.Now()

	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	return res
}

func (s *Service) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"message":        "scheduled service runner",
		"status":         "running",
		"start_time":     s.started,
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now(),
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Service) handleRunTask(c echo.Context) error {
	res := s.runTask(c.Request().Context())
	if res.Status != "completed" {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Message)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Service) handleTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Results())
}

func (s *Service) handleTask(c echo.Context) error {
	id := c.Param("id")
	for _, r := range s.Results() {
		if r.TaskID == id {
			return c.JSON(http.StatusOK, r)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "task not found")
}

// simulateWork stands in for real automation work.
func simulateWork(ctx context.Context) error {
	steps := []struct {
		name string
		d    time.Duration
	}{
		{"database cleanup", 2 * time.Second},
		{"data processing", 5 * time.Second},
		{"report generation", 3 * time.Second},
		{"email notifications", time.Second},
		{"file maintenance", 2 * time.Second},
	}
	for _, st := range steps {
		slog.Info("executing step", "step", st.name)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(st.d):
		}
	}
	slog.Info("all automation work completed")
	return nil
}
