package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Swind/go-kthread/core"
	"gopkg.in/yaml.v3"
)

// KernelSection sizes the kernel tables and the priority bands
type KernelSection struct {
	ID              string `yaml:"id,omitempty"`
	ThreadCapacity  int    `yaml:"thread_capacity,omitempty"`
	TaskCapacity    int    `yaml:"task_capacity,omitempty"`
	StackCapacity   int    `yaml:"stack_capacity,omitempty"` // Default: thread_capacity
	StackSize       int    `yaml:"stack_size,omitempty"`
	PriorityLevels  int    `yaml:"priority_levels,omitempty"`
	HistoryCapacity int    `yaml:"history_capacity,omitempty"`
}

// LogSection selects the slog handler
type LogSection struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // text or json
}

// MetricsSection configures Prometheus export
type MetricsSection struct {
	Namespace string `yaml:"namespace,omitempty"`
	Listen    string `yaml:"listen,omitempty"` // Empty disables the HTTP endpoint
}

// ScenarioThread is a thread spawned into a scenario task
type ScenarioThread struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority,omitempty"`
}

// ScenarioTask is a task created by the run command
type ScenarioTask struct {
	Name         string           `yaml:"name"`
	Priority     int              `yaml:"priority,omitempty"`
	MainPriority int              `yaml:"main_priority,omitempty"`
	Threads      []ScenarioThread `yaml:"threads,omitempty"`
	Detach       []string         `yaml:"detach,omitempty"` // Threads detached again before the run
}

// Scenario describes tasks and threads to build on a fresh kernel
type Scenario struct {
	Tasks []ScenarioTask `yaml:"tasks"`
}

// File represents the top-level kthread.yml configuration
type File struct {
	Version  string         `yaml:"version"`
	Kernel   KernelSection  `yaml:"kernel,omitempty"`
	Log      LogSection     `yaml:"log,omitempty"`
	Metrics  MetricsSection `yaml:"metrics,omitempty"`
	Scenario *Scenario      `yaml:"scenario,omitempty"`
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted values
func (f *File) Validate() error {
	// Required: version
	if f.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", f.Version)
	}

	k := &f.Kernel
	if k.ThreadCapacity < 0 || k.TaskCapacity < 0 || k.StackCapacity < 0 ||
		k.StackSize < 0 || k.PriorityLevels < 0 || k.HistoryCapacity < 0 {
		return fmt.Errorf("kernel: capacities and sizes must not be negative")
	}
	if k.ThreadCapacity == 0 {
		k.ThreadCapacity = core.DefaultThreadCapacity
	}
	if k.TaskCapacity == 0 {
		k.TaskCapacity = core.DefaultTaskCapacity
	}
	if k.StackCapacity == 0 {
		k.StackCapacity = k.ThreadCapacity
	}
	if k.StackSize == 0 {
		k.StackSize = core.DefaultStackSize
	}
	if k.PriorityLevels == 0 {
		k.PriorityLevels = int(core.DefaultPriorityLevels)
	}
	if k.HistoryCapacity == 0 {
		k.HistoryCapacity = core.DefaultHistoryCapacity
	}

	switch f.Log.Level {
	case "":
		f.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: invalid level '%s' (must be debug, info, warn or error)", f.Log.Level)
	}
	switch f.Log.Format {
	case "":
		f.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log: invalid format '%s' (must be text or json)", f.Log.Format)
	}

	if f.Metrics.Namespace == "" {
		f.Metrics.Namespace = "kthread"
	}

	if f.Scenario != nil {
		if err := f.Scenario.validate(k); err != nil {
			return fmt.Errorf("scenario: %w", err)
		}
	}
	return nil
}

func (s *Scenario) validate(k *KernelSection) error {
	if len(s.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}
	if len(s.Tasks) > k.TaskCapacity {
		return fmt.Errorf("%d tasks exceed task_capacity %d", len(s.Tasks), k.TaskCapacity)
	}

	threads := 0
	tasksSeen := make(map[string]bool)
	for _, task := range s.Tasks {
		if task.Name == "" {
			return fmt.Errorf("task name is required")
		}
		if tasksSeen[task.Name] {
			return fmt.Errorf("duplicate task '%s'", task.Name)
		}
		tasksSeen[task.Name] = true

		threadsSeen := make(map[string]bool)
		for _, th := range task.Threads {
			if th.Name == "" {
				return fmt.Errorf("task '%s': thread name is required", task.Name)
			}
			if threadsSeen[th.Name] {
				return fmt.Errorf("task '%s': duplicate thread '%s'", task.Name, th.Name)
			}
			threadsSeen[th.Name] = true
		}
		for _, name := range task.Detach {
			if !threadsSeen[name] {
				return fmt.Errorf("task '%s': detach refers to unknown thread '%s'", task.Name, name)
			}
		}
		threads += 1 + len(task.Threads)
	}

	limit := min(k.ThreadCapacity, k.StackCapacity)
	if threads > limit {
		return fmt.Errorf("%d threads exceed capacity %d", threads, limit)
	}
	return nil
}

// Load reads and validates a configuration file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration data
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &file, nil
}

// KernelConfig converts the kernel section into a core.KernelConfig.
// Metrics and panic handling keep their core defaults.
func (f *File) KernelConfig(logger core.Logger) *core.KernelConfig {
	cfg := core.DefaultKernelConfig()
	cfg.ID = f.Kernel.ID
	cfg.ThreadCapacity = f.Kernel.ThreadCapacity
	cfg.TaskCapacity = f.Kernel.TaskCapacity
	cfg.StackSize = f.Kernel.StackSize
	cfg.Stacks = core.NewStackPool(f.Kernel.StackCapacity, f.Kernel.StackSize)
	cfg.Composer = core.BandedComposer{Levels: core.Priority(f.Kernel.PriorityLevels)}
	cfg.HistoryCapacity = f.Kernel.HistoryCapacity
	if logger != nil {
		cfg.Logger = logger
	}
	return cfg
}

// NewLogger builds a core.Logger writing to w with the configured level
// and format
func (f *File) NewLogger(w io.Writer) core.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(f.Log.Level)}

	var handler slog.Handler
	if f.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return core.NewSlogLogger(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
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
