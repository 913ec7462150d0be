package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tonic/internal/job"
	logx "tonic/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Jobs      JobsConfig      `json:"jobs"`

	// Cache and Render are optional; a nil section disables the sink.
	Cache  *CacheConfig  `json:"cache,omitempty"`
	Render *RenderConfig `json:"render,omitempty"`

	// Context is handed verbatim (decoded) to every job callback.
	Context json.RawMessage `json:"context,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls trigger evaluation.
type SchedulerConfig struct {
	// Timezone is an IANA name; empty means the local zone.
	Timezone string `json:"timezone,omitempty"`
	// Overlap is the policy for jobs that don't set one: skip, queue or allow.
	Overlap string `json:"overlap,omitempty"`
}

type JobsConfig struct {
	Dirs []string `json:"dirs"`
}

// CacheConfig controls the result cache.
//
// Example:
//
//	"cache": { "driver": "sqlite", "path": "./tonic.db" }
type CacheConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Name is the id of the cache pseudo-job. Default "cache".
	Name string `json:"name,omitempty"`
}

type RenderConfig struct {
	Template    string `json:"template"`
	Output      string `json:"output"`
	MinInterval string `json:"min_interval,omitempty"`
	Name        string `json:"name,omitempty"` // default "render"
}

// Validate checks values the decoder cannot.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if _, err := c.Scheduler.OverlapPolicy(); err != nil {
		return fmt.Errorf("scheduler.overlap: %w", err)
	}
	for i, d := range c.Jobs.Dirs {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("jobs.dirs[%d]: empty path", i)
		}
	}
	if c.Cache != nil {
		switch strings.ToLower(strings.TrimSpace(c.Cache.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver)
		}
		if _, err := ParseDurationField("cache.busy_timeout", c.Cache.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Render != nil {
		if strings.TrimSpace(c.Render.Template) == "" {
			return fmt.Errorf("render.template is required")
		}
		if strings.TrimSpace(c.Render.Output) == "" {
			return fmt.Errorf("render.output is required")
		}
		if _, err := ParseDurationField("render.min_interval", c.Render.MinInterval); err != nil {
			return err
		}
	}
	if len(c.Context) > 0 && !json.Valid(c.Context) {
		return fmt.Errorf("context: invalid JSON")
	}
	return nil
}

func (s SchedulerConfig) OverlapPolicy() (job.OverlapPolicy, error) {
	return job.ParseOverlap(s.Overlap)
}

// JobContext decodes the context section. A missing section yields nil.
func (c *Config) JobContext() (any, error) {
	if c == nil || len(c.Context) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(c.Context, &v); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return v, nil
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}
