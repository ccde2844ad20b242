// Package branch implements the branch predictor: a pattern-history table
// of 2-bit saturating counters, a branch target buffer, and (for
// history-bearing modes) a branch history register. See spec.md §4.1.
package branch

import (
	"github.com/sarchlab/oosim/simerr"
	"github.com/sarchlab/oosim/trace"
)

// Mode selects the PHT/BTB indexing scheme.
type Mode int

const (
	// ModeDefault indexes purely by PC bits.
	ModeDefault Mode = iota
	// ModeGShare XORs PC bits with the branch history register.
	ModeGShare
	// ModeGSelect ORs the PC bits with the branch history register
	// shifted left by s, then truncates to s bits; the truncation drops
	// every history bit, so the index equals the PC bits.
	ModeGSelect
	// ModeYehPatt is a recognized but unimplemented two-level predictor.
	ModeYehPatt
)

// ParseMode maps the `-g` flag's integer selector to a Mode, matching the
// original CADSS branch component's `g` argument.
func ParseMode(g uint64) (Mode, error) {
	switch g {
	case 0:
		return ModeDefault, nil
	case 1:
		return ModeGShare, nil
	case 2:
		return ModeGSelect, nil
	case 3:
		return ModeYehPatt, nil
	default:
		return 0, simerr.NewConfigError("branch", "unknown predictor mode selector")
	}
}

// Config holds the parsed `-p/-s/-b/-g` flags.
type Config struct {
	// Processors is the number of cores, each with independent predictor
	// state (PHT, BTB, BHR).
	Processors uint64
	// PHTBits is s: the PHT/BTB have 2^s entries.
	PHTBits uint64
	// BHRWidth is b: the width in bits of the branch history register.
	BHRWidth uint64
	// Mode selects the indexing scheme.
	Mode Mode
}

// DefaultConfig returns a single-core, 2^8-entry, 8-bit-history gshare
// configuration.
func DefaultConfig() Config {
	return Config{
		Processors: 1,
		PHTBits:    8,
		BHRWidth:   8,
		Mode:       ModeGShare,
	}
}

// Validate checks the configuration per spec.md §7's ConfigError taxonomy.
func (c Config) Validate() error {
	if c.Processors == 0 {
		return simerr.NewConfigError("branch", "processor count must be positive")
	}
	if c.PHTBits > 30 {
		return simerr.NewConfigError("branch", "s is too large (PHT would be unreasonably large)")
	}
	if c.BHRWidth > 63 {
		return simerr.NewConfigError("branch", "b must fit in a uint64")
	}
	if c.Mode == ModeYehPatt {
		return simerr.NewConfigError("branch", "yeh-patt predictor is not implemented")
	}
	return nil
}

// counter states: 0=strongly-not-taken ... 3=strongly-taken.
const (
	counterInitial = 1 // weakly-not-taken
	counterMax     = 3
	counterMin     = 0
)

type btbEntry struct {
	valid  bool
	tag    uint64
	target uint64
}

type coreState struct {
	counters []uint8
	btb      []btbEntry
	bhr      uint64
}

// Predictor is a per-core-indexed set of branch predictors sharing one
// configuration.
type Predictor struct {
	cfg     Config
	entries uint64 // 2^s
	bhrMask uint64
	cores   []coreState
}

// New builds a Predictor from cfg, or returns a ConfigError.
func New(cfg Config) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	entries := uint64(1) << cfg.PHTBits
	p := &Predictor{
		cfg:     cfg,
		entries: entries,
		bhrMask: bhrMask(cfg.BHRWidth),
		cores:   make([]coreState, cfg.Processors),
	}
	for i := range p.cores {
		p.cores[i] = newCoreState(entries)
	}
	return p, nil
}

func bhrMask(width uint64) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func newCoreState(entries uint64) coreState {
	cs := coreState{
		counters: make([]uint8, entries),
		btb:      make([]btbEntry, entries),
	}
	for i := range cs.counters {
		cs.counters[i] = counterInitial
	}
	return cs
}

// index computes the PHT/BTB index for the given PC under the configured
// mode, using the core's current BHR.
func (p *Predictor) index(cs *coreState, pc uint64) uint64 {
	pcBits := (pc >> 3) & (p.entries - 1)
	switch p.cfg.Mode {
	case ModeGShare:
		return (pcBits ^ cs.bhr) & (p.entries - 1)
	case ModeGSelect:
		return (pcBits | (cs.bhr << p.cfg.PHTBits)) & (p.entries - 1)
	default: // ModeDefault
		return pcBits
	}
}

// Predict both predicts and trains: it computes what the predictor would
// have predicted for op.PC, then updates all state from the known
// outcome op.NextPC, and returns the prediction it would have made.
func (p *Predictor) Predict(coreID int, op trace.Op) uint64 {
	cs := &p.cores[coreID]
	idx := p.index(cs, op.PC)

	var predicted uint64
	if cs.counters[idx] >= 2 && cs.btb[idx].valid {
		predicted = cs.btb[idx].target
	} else {
		predicted = op.PC + 4
	}

	taken := op.NextPC != op.PC+4
	if taken {
		if cs.counters[idx] < counterMax {
			cs.counters[idx]++
		}
		cs.btb[idx] = btbEntry{valid: true, tag: idx, target: op.NextPC}
	} else {
		if cs.counters[idx] > counterMin {
			cs.counters[idx]--
		}
	}

	if p.cfg.Mode == ModeGShare || p.cfg.Mode == ModeGSelect {
		bit := uint64(0)
		if taken {
			bit = 1
		}
		cs.bhr = ((cs.bhr << 1) | bit) & p.bhrMask
	}

	return predicted
}

// Counter returns the raw 2-bit saturating counter value at the index the
// given PC maps to for the given core, for tests and diagnostics.
func (p *Predictor) Counter(coreID int, pc uint64) uint8 {
	cs := &p.cores[coreID]
	return cs.counters[p.index(cs, pc)]
}
