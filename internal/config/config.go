// Package config loads the runtime's tuning knobs (SPEC_FULL.md §2,
// C10): worker-pool size, nursery/shared-heap thresholds, safepoint
// interval, and log verbosity. It is grounded on the teacher's go.mod,
// which already carries gopkg.in/yaml.v2 as a dependency (originally
// pulled in for the addon-manifest codegen path, addons/Range/range.go's
// "//go:generate ... mkaddon addon.yaml addon.go") but never exercised
// from Go code; this package is its first real use, parsing a YAML
// document instead of hand-rolling flag-only configuration.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds every tunable named in SPEC_FULL.md §2's Configuration
// component. Zero value is invalid; use Default() or Load().
type Config struct {
	// Workers is the scheduler's OS worker-thread pool size (spec.md
	// §4.4). Zero means runtime.GOMAXPROCS(0).
	Workers int `yaml:"workers"`

	// SafepointInterval is the number of function-entry checkpoints
	// between each safepoint poll (spec.md §4.6 "every 256 calls").
	SafepointInterval int `yaml:"safepoint_interval"`

	// NurseryTriggerBytes is the per-fiber nursery's live-byte
	// collection threshold (internal/heap.DefaultNurseryTrigger).
	NurseryTriggerBytes int64 `yaml:"nursery_trigger_bytes"`

	// SharedTriggerBytes is the shared heap's allocated-bytes-since-
	// last-cycle threshold that requests a concurrent mark-sweep cycle.
	SharedTriggerBytes int64 `yaml:"shared_trigger_bytes"`

	// SharedCycleTimeout is the shared collector's time trigger
	// (internal/gc.Collector.SharedTimeout): a cycle is requested once
	// this long has passed since the last one.
	SharedCycleTimeout time.Duration `yaml:"shared_cycle_timeout"`

	// MarkWorkers is the concurrency limit passed to the collector's
	// parallel mark phase (internal/gc.RunSharedCycle).
	MarkWorkers int `yaml:"mark_workers"`

	// LogLevel is 0 (warnings only) .. 2 (debug/trace), consumed by
	// internal/diag.SetVerbosity.
	LogLevel int `yaml:"log_level"`
}

// Default returns the baseline configuration used when no -config file
// is given (SPEC_FULL.md §6 CLI supplement).
func Default() Config {
	return Config{
		Workers:             0,
		SafepointInterval:   256,
		NurseryTriggerBytes: 4 << 20,
		SharedTriggerBytes:  16 << 20,
		SharedCycleTimeout:  2 * time.Second,
		MarkWorkers:         4,
		LogLevel:            0,
	}
}

// Load reads a YAML configuration file, starting from Default() and
// overriding only the fields the document sets.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if cfg.SafepointInterval <= 0 {
		return cfg, fmt.Errorf("config: safepoint_interval must be positive")
	}
	return cfg, nil
}
