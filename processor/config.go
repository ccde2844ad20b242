package processor

import "github.com/sarchlab/oosim/simerr"

// Config holds the parsed `-f/-d/-m/-j/-k/-c` flags.
type Config struct {
	// FetchWidth is F: operations pulled from the trace per tick.
	FetchWidth uint64
	// DispatchMul is D: dispatch_queue capacity multiplier.
	DispatchMul uint64
	// ScheduleMul is M: schedule_queue capacity multiplier.
	ScheduleMul uint64
	// FastFUs is J: number of 1-stage fast functional units.
	FastFUs uint64
	// LongFUs is K: number of 3-stage long functional units.
	LongFUs uint64
	// CDBs is C: number of common data buses.
	CDBs uint64
}

// DefaultConfig returns a modest two-wide configuration.
func DefaultConfig() Config {
	return Config{
		FetchWidth:  2,
		DispatchMul: 2,
		ScheduleMul: 2,
		FastFUs:     2,
		LongFUs:     1,
		CDBs:        2,
	}
}

// Validate checks the configuration per spec.md §7's ConfigError taxonomy.
func (c Config) Validate() error {
	if c.FetchWidth == 0 {
		return simerr.NewConfigError("processor", "fetch width must be positive")
	}
	if c.DispatchMul == 0 {
		return simerr.NewConfigError("processor", "dispatch multiplier must be positive")
	}
	if c.ScheduleMul == 0 {
		return simerr.NewConfigError("processor", "schedule multiplier must be positive")
	}
	if c.FastFUs == 0 && c.LongFUs == 0 {
		return simerr.NewConfigError("processor", "at least one fast or long FU is required")
	}
	if c.CDBs == 0 {
		return simerr.NewConfigError("processor", "at least one CDB is required")
	}
	return nil
}

// dispatchCap is D*(M*J + M*K).
func (c Config) dispatchCap() int {
	return int(c.DispatchMul * (c.ScheduleMul*c.FastFUs + c.ScheduleMul*c.LongFUs))
}

// fastScheduleCap is M*J.
func (c Config) fastScheduleCap() int { return int(c.ScheduleMul * c.FastFUs) }

// longScheduleCap is M*K.
func (c Config) longScheduleCap() int { return int(c.ScheduleMul * c.LongFUs) }

// numFUs is J+K, the width of the FU pipeline array.
func (c Config) numFUs() int { return int(c.FastFUs + c.LongFUs) }

// NumRegs is the fixed architectural register-file size.
const NumRegs = 33

// NoReg marks an absent register operand, matching trace.NoReg.
const NoReg = -1
