// Package processor implements the out-of-order scalar pipeline:
// register renaming via per-instruction tags, dispatch/schedule/
// execute/state-update stages, and a C-wide common data bus. See
// spec.md §4.4.
package processor

import (
	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/simerr"
	"github.com/sarchlab/oosim/trace"
)

// stallTicks is STALL_TIME: consecutive no-progress ticks before the
// watchdog emits a diagnostic. Diagnostic only, never fatal.
const stallTicks = 100000

// Stats reports whole-processor counters for diagnostics.
type Stats struct {
	Ticks        int64
	Instructions int64
}

// Processor is every core's pipeline, ticked together each cycle. Each
// core owns its own Tomasulo state but all cores share one monotonic
// tag allocator, matching the source's single global instruction/tag
// counters.
type Processor struct {
	cores []*Core
	tags  *tagAllocator

	tickCount     int64
	noProgressRun int64
	stall         error
	err           error
}

// New builds a Processor with one Core per cache/trace core id. caches
// must have one entry per core, in core-id order; bp is shared across
// cores (it is itself per-core-indexed internally).
func New(cfg Config, caches []*cache.Cache, bp *branch.Predictor, reader trace.Reader) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(caches) == 0 {
		return nil, simerr.NewConfigError("processor", "at least one core is required")
	}

	tags := newTagAllocator()
	p := &Processor{tags: tags}
	for i, c := range caches {
		p.cores = append(p.cores, newCore(i, cfg, c, bp, reader, tags))
	}
	return p, nil
}

// Err returns the first invariant violation observed, if any.
func (p *Processor) Err() error { return p.err }

// StallWarning returns the most recently raised stall diagnostic, if
// the watchdog has fired, and clears it (it is reported once).
func (p *Processor) StallWarning() error {
	w := p.stall
	p.stall = nil
	return w
}

// RegisterReady reports whether the given architectural register on
// core is currently ready, for diagnostics and tests.
func (p *Processor) RegisterReady(core, regID int) bool {
	return p.cores[core].regs[regID].ready
}

// RegisterValue reports an architectural register's committed value,
// for diagnostics and tests.
func (p *Processor) RegisterValue(core, regID int) uint64 {
	return p.cores[core].regs[regID].val
}

// PendingBranch reports whether core is stalled on an unresolved
// branch misprediction.
func (p *Processor) PendingBranch(core int) bool {
	return p.cores[core].pendingBranch
}

// PendingMem reports whether core has an outstanding memory request.
func (p *Processor) PendingMem(core int) bool {
	return p.cores[core].pendingMem
}

// Stats returns a snapshot of whole-processor counters.
func (p *Processor) Stats() Stats {
	var instrs int64
	for _, c := range p.cores {
		instrs += c.instrCount
	}
	return Stats{Ticks: p.tickCount, Instructions: instrs}
}

// Tick advances every core by one cycle and reports whether anything
// in the processor changed. The harness halts the simulation once a
// tick across all components reports no progress.
func (p *Processor) Tick() (bool, error) {
	p.tickCount++

	progress := false
	for _, c := range p.cores {
		coreProgress, err := c.tick()
		if err != nil {
			p.err = err
			return progress, err
		}
		if coreProgress {
			progress = true
		}
	}

	if progress {
		p.noProgressRun = 0
	} else {
		p.noProgressRun++
		if p.noProgressRun == stallTicks {
			p.stall = simerr.NewStallWarning(p.tickCount, "no progress across any core's pipeline, cache, or pending memory request")
		}
	}

	return progress, nil
}
