// Package harness wires one instance of every component into a single
// simulator, ticks them in the fixed order spec.md §2 names (coherence
// -> cache -> branch -> processor; coherence and branch have no tick of
// their own, so this collapses to cache -> processor, coherence being
// driven synchronously by cache and branch synchronously by processor's
// fetch stage), and runs until nothing changes. See spec.md §2, §4.4.
package harness

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/coherence"
	"github.com/sarchlab/oosim/processor"
	"github.com/sarchlab/oosim/simerr"
)

// Config holds one sub-configuration per component, mirroring the
// per-component flag groups of spec.md §6. Processors must agree across
// Branch, Coherence, and the number of per-core caches the Simulator
// builds.
type Config struct {
	Branch    branch.Config
	Cache     cache.Config
	Coherence coherence.Config
	Processor processor.Config
}

// DefaultConfig returns a small two-core machine using every
// component's own DefaultConfig, except Branch.Processors which is
// raised to match Coherence.Processors.
func DefaultConfig() Config {
	b := branch.DefaultConfig()
	coh := coherence.DefaultConfig()
	b.Processors = uint64(coh.Processors)
	return Config{
		Branch:    b,
		Cache:     cache.DefaultConfig(),
		Coherence: coh,
		Processor: processor.DefaultConfig(),
	}
}

// Validate checks cross-component agreement in addition to each
// component's own Validate.
func (c Config) Validate() error {
	if err := c.Branch.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Coherence.Validate(); err != nil {
		return err
	}
	if err := c.Processor.Validate(); err != nil {
		return err
	}
	if c.Branch.Processors != uint64(c.Coherence.Processors) {
		return simerr.NewConfigError("harness", "branch and coherence processor counts must agree")
	}
	return nil
}

// LoadConfig reads a whole-machine Config from a JSON file, starting
// from DefaultConfig so any field the file omits keeps its default
// rather than zeroing out.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read machine config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse machine config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes c to path as indented JSON, so a known-good machine
// configuration can be checked into a trace suite instead of
// reconstructed from a long CLI invocation every run.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize machine config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write machine config file: %w", err)
	}
	return nil
}
