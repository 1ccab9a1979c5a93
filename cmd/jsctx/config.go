package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"gopkg.in/yaml.v3"
)

// config is the optional YAML configuration file of the CLI.
type config struct {
	// LogLevel is a syslog keyword (err, warning, info, debug, ...).
	LogLevel string `yaml:"log_level"`

	// Realm names the realm scripts run in.
	Realm string `yaml:"realm"`

	// PromiseJobRecycling toggles the context's promise job cache, if set.
	PromiseJobRecycling *bool `yaml:"promise_job_recycling,omitempty"`

	// GCThreshold is the number of bytes allocated after which an idle GC
	// is requested.
	GCThreshold uint64 `yaml:"gc_threshold"`

	// RateLimits bounds repeated log messages, per call site, and idle
	// GCs.
	RateLimits []rateLimit `yaml:"rate_limits"`
}

type rateLimit struct {
	Window time.Duration `yaml:"window"`
	Events int           `yaml:"events"`
}

func defaultConfig() *config {
	return &config{
		LogLevel:    "warning",
		Realm:       "main",
		GCThreshold: 64 << 20,
		RateLimits: []rateLimit{
			{Window: time.Second, Events: 10},
			{Window: time.Minute, Events: 100},
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := decodeConfig(bytes.NewReader(b), cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeConfig(r io.Reader, cfg *config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.validate()
}

func (c *config) validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Realm == "" {
		return errors.New("realm must not be empty")
	}
	if c.GCThreshold == 0 {
		return errors.New("gc_threshold must be positive")
	}
	for _, l := range c.RateLimits {
		if l.Window <= 0 || l.Events <= 0 {
			return fmt.Errorf("invalid rate limit: %d events per %s", l.Events, l.Window)
		}
	}
	return nil
}

func (c *config) rateLimits() map[time.Duration]int {
	if len(c.RateLimits) == 0 {
		return nil
	}
	m := make(map[time.Duration]int, len(c.RateLimits))
	for _, l := range c.RateLimits {
		m[l.Window] = l.Events
	}
	return m
}

func parseLevel(s string) (logiface.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	case "information", "informational":
		return logiface.LevelInformational, nil
	}
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("invalid log level %q", s)
}

// newLogger builds the JSON logger the CLI writes to w.
func newLogger(w io.Writer, cfg *config) (*logiface.Logger[logiface.Event], error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := []logiface.Option[*stumpy.Event]{
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	}
	if limits := cfg.rateLimits(); limits != nil {
		opts = append(opts, stumpy.L.WithCategoryRateLimits(limits))
	}
	return stumpy.L.New(opts...).Logger(), nil
}
