// Package scheduler runs configured commands on cron schedules with a
// wall-clock timeout per run. Timeout enforcement lives here, not in the
// commands themselves: a sync run killed mid-pass leaves the destination
// calendar partially applied, and the next scheduled run converges it.
package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler registers tasks with a cron runner and executes them as child
// processes.
type Scheduler struct {
	logger *slog.Logger
	config *Config
	cron   *cron.Cron
}

// New creates a scheduler for the given configuration.
func New(logger *slog.Logger, config *Config) *Scheduler {
	return &Scheduler{
		logger: logger,
		config: config,
		cron:   cron.New(),
	}
}

// Register adds every enabled task to the cron runner. A task that fails
// to register is logged and skipped; the daemon still starts with the
// remaining tasks.
func (s *Scheduler) Register() int {
	registered := 0
	for i := range s.config.Tasks {
		task := s.config.Tasks[i]
		if !task.enabled() {
			s.logger.Info("Task is disabled, skipping.", "task", task.Name)
			continue
		}

		_, err := s.cron.AddFunc(task.Cron, func() { s.execute(task) })
		if err != nil {
			s.logger.Error("Failed to register task", "task", task.Name, "error", err)
			continue
		}
		s.logger.Info("Registered task.", "task", task.Name, "cron", task.Cron)
		registered++
	}

	if registered == 0 {
		s.logger.Warn("No tasks registered, check the configuration.")
	}
	return registered
}

// Run starts the cron runner and blocks until ctx is canceled. Tasks
// already running when the context is canceled are waited for.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("Scheduler started, waiting for scheduled tasks.")
	<-ctx.Done()
	s.logger.Info("Shutting down scheduler.")
	<-s.cron.Stop().Done()
}

// execute runs one task under its timeout and logs its output.
func (s *Scheduler) execute(task TaskConfig) {
	timeout := task.TimeoutSeconds
	if timeout <= 0 {
		timeout = s.config.Scheduler.DefaultTimeoutSeconds
	}

	s.logger.Info("Executing task.", "task", task.Name, "args", task.Args, "timeout_seconds", timeout)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, task.Command, task.Args...)
	cmd.Dir = task.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	duration := time.Since(start)

	s.logLines(task.Name, slog.LevelInfo, &stdout)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logLines(task.Name, slog.LevelError, &stderr)
		s.logger.Error("Task exceeded timeout and was killed",
			"task", task.Name, "timeout_seconds", timeout, "duration", duration.Round(time.Millisecond))
	case err != nil:
		s.logLines(task.Name, slog.LevelError, &stderr)
		s.logger.Error("Task failed", "task", task.Name, "error", err, "duration", duration.Round(time.Millisecond))
	default:
		s.logLines(task.Name, slog.LevelWarn, &stderr)
		s.logger.Info("Task completed.", "task", task.Name, "duration", duration.Round(time.Millisecond))
	}
}

// logLines logs captured child output one line at a time so multi-line
// output stays readable in the structured log.
func (s *Scheduler) logLines(task string, level slog.Level, buf *bytes.Buffer) {
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		s.logger.Log(context.Background(), level, line, "task", task)
	}
}
