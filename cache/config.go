// Package cache implements the set-associative L1 cache controller: hit/miss
// classification, LRU/RRIP replacement, an optional victim buffer,
// line-crossing split accesses, and the pending-request queue that
// interacts with coherence. See spec.md §4.2.
package cache

import "github.com/sarchlab/oosim/simerr"

// Config holds the parsed `-E/-s/-b/-i/-R` flags.
type Config struct {
	// Ways is E: lines per set.
	Ways int
	// SetBits is s: there are 2^s sets.
	SetBits uint64
	// BlockBits is b: block size is 2^b bytes.
	BlockBits uint64
	// VictimEntries is i: size of the fully-associative victim buffer.
	// Zero disables the victim buffer.
	VictimEntries int
	// RRIPBits is k: RRIP uses R = 2^k - 1 as the max RRPV. Zero
	// disables RRIP in favor of LRU.
	RRIPBits uint64
}

// DefaultConfig returns a small 4-way, 64-set, 64-byte-line cache with no
// victim buffer and LRU replacement.
func DefaultConfig() Config {
	return Config{
		Ways:      4,
		SetBits:   6,
		BlockBits: 6,
	}
}

// Sets returns 2^s.
func (c Config) Sets() int { return 1 << c.SetBits }

// BlockSize returns 2^b.
func (c Config) BlockSize() uint64 { return uint64(1) << c.BlockBits }

// RRIPMax returns R = 2^k - 1, or 0 if RRIP is disabled.
func (c Config) RRIPMax() uint64 {
	if c.RRIPBits == 0 {
		return 0
	}
	return (uint64(1) << c.RRIPBits) - 1
}

// UsesRRIP reports whether k > 0.
func (c Config) UsesRRIP() bool { return c.RRIPBits > 0 }

// Validate checks the configuration per spec.md §7's ConfigError
// taxonomy: E must be nonzero, and s+b must not overflow a 64-bit
// address space.
func (c Config) Validate() error {
	if c.Ways <= 0 {
		return simerr.NewConfigError("cache", "E must be positive")
	}
	if c.SetBits+c.BlockBits > 64 {
		return simerr.NewConfigError("cache", "s + b must be <= 64")
	}
	if c.VictimEntries < 0 {
		return simerr.NewConfigError("cache", "i must be non-negative")
	}
	if c.RRIPBits > 63 {
		return simerr.NewConfigError("cache", "R must fit in a uint64")
	}
	return nil
}
