package harness

import (
	"fmt"
	"io"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/coherence"
	"github.com/sarchlab/oosim/interconnect"
	"github.com/sarchlab/oosim/processor"
	"github.com/sarchlab/oosim/trace"
)

// Simulator owns one instance of every component and the shared bus
// connecting coherence to every per-core cache.
type Simulator struct {
	caches    []*cache.Cache
	coherence *coherence.Unit
	branch    *branch.Predictor
	processor *processor.Processor

	ticks int64
}

// New builds a Simulator: one cache and one coherence-directory view
// per core, a shared bus, a shared branch predictor (itself indexed
// per core), and one Processor driving every core's pipeline. reader
// supplies trace operations for every core.
func New(cfg Config, reader trace.Reader) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bus := interconnect.NewBus()
	coh, err := coherence.New(cfg.Coherence, bus)
	if err != nil {
		return nil, err
	}

	bp, err := branch.New(cfg.Branch)
	if err != nil {
		return nil, err
	}

	n := cfg.Coherence.Processors
	caches := make([]*cache.Cache, n)
	for i := 0; i < n; i++ {
		c, err := cache.New(cfg.Cache, i, coh)
		if err != nil {
			return nil, err
		}
		caches[i] = c
	}

	proc, err := processor.New(cfg.Processor, caches, bp, reader)
	if err != nil {
		return nil, err
	}

	return &Simulator{caches: caches, coherence: coh, branch: bp, processor: proc}, nil
}

// Err returns the first invariant violation observed by any component,
// if any. Cache errors surface directly from Tick and need no separate
// check; only coherence and the processor accumulate state across
// ticks.
func (s *Simulator) Err() error {
	if err := s.coherence.Err(); err != nil {
		return err
	}
	return s.processor.Err()
}

// Tick advances every component by one cycle, in the order spec.md §2
// fixes (coherence -> cache -> branch -> processor; coherence reacts
// synchronously inside each cache's Tick, and branch reacts
// synchronously inside the processor's fetch stage, so only cache and
// processor have ticks of their own). It reports whether anything
// changed and the first error encountered, if fatal.
func (s *Simulator) Tick() (bool, error) {
	s.ticks++

	progress := false
	for _, c := range s.caches {
		if err := c.Tick(); err != nil {
			return progress, err
		}
	}
	if err := s.Err(); err != nil {
		return progress, err
	}

	tickProgress, err := s.processor.Tick()
	if tickProgress {
		progress = true
	}
	if err != nil {
		return progress, err
	}
	if err := s.Err(); err != nil {
		return progress, err
	}

	if w := s.processor.StallWarning(); w != nil && Verbose {
		fmt.Println(w)
	}

	return progress, nil
}

// Run ticks the Simulator until a cycle reports no progress anywhere,
// then writes the "Ticks - <N>\n" diagnostic line to out (a nil out
// skips the write). It returns the total tick count and the first
// fatal error encountered, if any.
func (s *Simulator) Run(out io.Writer) (int64, error) {
	for {
		progress, err := s.Tick()
		if err != nil {
			return s.ticks, err
		}
		if !progress {
			break
		}
	}

	if out != nil {
		if _, err := fmt.Fprintf(out, "Ticks - %d\n", s.ticks); err != nil {
			return s.ticks, err
		}
	}

	return s.ticks, nil
}

// Stats reports the processor's instruction/tick counters alongside
// every core's cache statistics.
type Stats struct {
	Processor processor.Stats
	Caches    []cache.Statistics
}

// Stats returns a snapshot of every component's counters.
func (s *Simulator) Stats() Stats {
	cstats := make([]cache.Statistics, len(s.caches))
	for i, c := range s.caches {
		cstats[i] = c.Stats()
	}
	return Stats{Processor: s.processor.Stats(), Caches: cstats}
}

// Verbose gates diagnostic output the way the source's DPRINTF does.
var Verbose = false
