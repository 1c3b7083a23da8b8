package scheduler

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultTimeoutSeconds = 300

// TaskConfig describes one scheduled command.
type TaskConfig struct {
	// Name identifies the task in logs and as the cron job ID.
	Name string `yaml:"name"`
	// Command is the executable to run.
	Command string `yaml:"command"`
	// Args are passed to the command.
	Args []string `yaml:"args"`
	// Dir is the working directory; empty means the daemon's directory.
	Dir string `yaml:"dir"`
	// Cron is a standard 5-field cron expression.
	Cron string `yaml:"cron"`
	// TimeoutSeconds kills the task when exceeded; 0 uses the scheduler default.
	TimeoutSeconds int `yaml:"timeout"`
	// Enabled defaults to true; set false to keep a task configured but inactive.
	Enabled *bool `yaml:"enabled"`
}

func (t *TaskConfig) enabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// SchedulerConfig holds daemon-wide settings.
type SchedulerConfig struct {
	// DefaultTimeoutSeconds applies to tasks without their own timeout.
	DefaultTimeoutSeconds int `yaml:"default_timeout"`
}

// Config is the top-level scheduler configuration file.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tasks     []TaskConfig    `yaml:"tasks"`
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Scheduler.DefaultTimeoutSeconds <= 0 {
		c.Scheduler.DefaultTimeoutSeconds = defaultTimeoutSeconds
	}
}

// LoadConfig reads and validates the YAML scheduler configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Normalize()

	if len(cfg.Tasks) == 0 {
		return nil, fmt.Errorf("config file %s contains no tasks", path)
	}
	for i := range cfg.Tasks {
		if err := validateTask(&cfg.Tasks[i]); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// validateTask checks the required fields and that the cron expression
// parses.
func validateTask(t *TaskConfig) error {
	if t.Name == "" {
		return fmt.Errorf("task missing required field: name")
	}
	if t.Command == "" {
		return fmt.Errorf("task %q missing required field: command", t.Name)
	}
	if t.Cron == "" {
		return fmt.Errorf("task %q missing required field: cron", t.Name)
	}
	if _, err := cron.ParseStandard(t.Cron); err != nil {
		return fmt.Errorf("invalid cron expression for task %q: %w", t.Name, err)
	}
	return nil
}
