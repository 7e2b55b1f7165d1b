package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/effectus/progressive-go/rules"
)

// options holds every command setting. Flags write into it directly; a runtime config file
// fills whatever the command line left unset.
type options struct {
	Document     string
	Subject      string
	TickInterval time.Duration
	Watch        bool
	MetricsAddr  string
	Unsafe       string
	GraphFormat  string
	Events       string
	Acceleration float64
	Ticks        int
}

func defaultOptions() options {
	return options{
		TickInterval: rules.DefaultInterval,
		Unsafe:       "warn",
		GraphFormat:  "json",
		Acceleration: 1,
		Ticks:        1,
	}
}

type runtimeConfig struct {
	Document string         `yaml:"document" json:"document"`
	Subject  string         `yaml:"subject" json:"subject"`
	Rules    rulesConfig    `yaml:"rules" json:"rules"`
	Metrics  httpConfig     `yaml:"metrics" json:"metrics"`
	Lint     lintConfig     `yaml:"lint" json:"lint"`
	Simulate simulateConfig `yaml:"simulate" json:"simulate"`
}

type rulesConfig struct {
	TickInterval string `yaml:"tick_interval" json:"tick_interval"`
	Watch        *bool  `yaml:"watch" json:"watch"`
}

type httpConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type lintConfig struct {
	Unsafe string `yaml:"unsafe" json:"unsafe"`
}

type simulateConfig struct {
	Acceleration *float64 `yaml:"acceleration" json:"acceleration"`
	Ticks        *int     `yaml:"ticks" json:"ticks"`
}

func loadRuntimeConfig(path string) (*runtimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &runtimeConfig{}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config yaml: %w", err)
		}
	}

	if cfg.Document != "" && !filepath.IsAbs(cfg.Document) {
		cfg.Document = filepath.Join(filepath.Dir(path), cfg.Document)
	}
	return cfg, nil
}

// applyRuntimeConfig copies config values into opts for every flag the user did not set.
func applyRuntimeConfig(cfg *runtimeConfig, opts *options, setFlag func(string) bool) error {
	if cfg == nil {
		return nil
	}

	if cfg.Document != "" {
		opts.Document = cfg.Document
	}
	if cfg.Subject != "" && !setFlag("subject") {
		opts.Subject = cfg.Subject
	}
	if cfg.Rules.TickInterval != "" && !setFlag("interval") {
		interval, err := time.ParseDuration(cfg.Rules.TickInterval)
		if err != nil {
			return fmt.Errorf("rules.tick_interval: %w", err)
		}
		opts.TickInterval = interval
	}
	if cfg.Rules.Watch != nil && !setFlag("watch") {
		opts.Watch = *cfg.Rules.Watch
	}
	if cfg.Metrics.Addr != "" && !setFlag("metrics-addr") {
		opts.MetricsAddr = cfg.Metrics.Addr
	}
	if cfg.Lint.Unsafe != "" && !setFlag("unsafe") {
		opts.Unsafe = cfg.Lint.Unsafe
	}
	if cfg.Simulate.Acceleration != nil && !setFlag("acceleration") {
		if *cfg.Simulate.Acceleration <= 0 {
			return fmt.Errorf("simulate.acceleration must be positive, got %v", *cfg.Simulate.Acceleration)
		}
		opts.Acceleration = *cfg.Simulate.Acceleration
	}
	if cfg.Simulate.Ticks != nil && !setFlag("ticks") {
		opts.Ticks = *cfg.Simulate.Ticks
	}
	return nil
}

// documentPath resolves the progression document from the positional argument or the
// runtime config.
func documentPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if opts.Document != "" {
		return opts.Document, nil
	}
	return "", fmt.Errorf("no progression document given (pass a path or set document in --config)")
}
