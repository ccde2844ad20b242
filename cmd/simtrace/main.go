// Package main provides the simtrace entry point: a trace-driven
// out-of-order memory-hierarchy simulator wiring a branch predictor, a
// set-associative cache per core, a shared coherence unit, and a
// Tomasulo pipeline together and running them to completion.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/coherence"
	"github.com/sarchlab/oosim/harness"
	"github.com/sarchlab/oosim/processor"
	"github.com/sarchlab/oosim/trace"
)

var (
	// branch predictor flags: p/s/b/g
	p = flag.Uint64("p", 1, "number of processor cores")
	s = flag.Uint64("s", 8, "branch predictor: log2(PHT/BTB size)")
	b = flag.Uint64("b", 8, "branch predictor: BHR width in bits")
	g = flag.Uint64("g", 1, "branch predictor mode (0=default, 1=gshare, 2=gselect)")

	// cache flags: E/cs/cb/i/R
	cacheWays = flag.Int("E", 4, "cache: ways per set")
	cacheSets = flag.Uint64("cs", 6, "cache: log2(number of sets)")
	cacheBlk  = flag.Uint64("cb", 6, "cache: log2(block size in bytes)")
	victim    = flag.Int("i", 0, "cache: victim buffer entries (0 disables)")
	rrip      = flag.Uint64("R", 0, "cache: RRIP bits (0 uses LRU)")

	// coherence flags: c (protocol family; p=processor count is shared with branch's -p)
	protocol = flag.Uint64("c", 2, "coherence protocol (0=MI, 1=MSI, 2=MESI, 3=MESIF)")

	// processor flags: f/d/m/j/k/cdbs
	fetchWidth = flag.Uint64("f", 2, "processor: fetch width")
	dispatch   = flag.Uint64("d", 2, "processor: dispatch queue capacity multiplier")
	schedule   = flag.Uint64("m", 2, "processor: schedule queue capacity multiplier")
	fastFUs    = flag.Uint64("j", 2, "processor: number of fast (1-stage) functional units")
	longFUs    = flag.Uint64("k", 1, "processor: number of long (3-stage) functional units")
	cdbs       = flag.Uint64("cdbs", 2, "processor: number of common data buses")

	verbose    = flag.Bool("v", false, "verbose diagnostic output")
	configPath = flag.String("config", "", "path to a JSON machine configuration file (overrides the flags above)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: simtrace [options] <trace-file>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	harness.Verbose = *verbose

	tracePath := flag.Arg(0)
	f, err := os.Open(tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening trace: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	reader, err := trace.NewTextReader(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing trace: %v\n", err)
		os.Exit(1)
	}

	var cfg harness.Config
	if *configPath != "" {
		cfg, err = harness.LoadConfig(*configPath)
	} else {
		cfg, err = buildConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in configuration: %v\n", err)
		os.Exit(1)
	}

	sim, err := harness.New(cfg, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error constructing simulator: %v\n", err)
		os.Exit(1)
	}

	ticks, err := sim.Run(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Simulation aborted after %d ticks: %v\n", ticks, err)
		os.Exit(1)
	}

	if *verbose {
		stats := sim.Stats()
		fmt.Printf("Instructions: %d\n", stats.Processor.Instructions)
		for i, cs := range stats.Caches {
			fmt.Printf("Core %d cache: hits=%d misses=%d evictions=%d victim-hits=%d\n",
				i, cs.Hits, cs.Misses, cs.Evictions, cs.VictimHits)
		}
	}
}

func buildConfig() (harness.Config, error) {
	branchMode, err := branch.ParseMode(*g)
	if err != nil {
		return harness.Config{}, err
	}
	family, err := coherence.ParseFamily(*protocol)
	if err != nil {
		return harness.Config{}, err
	}

	cfg := harness.Config{
		Branch: branch.Config{
			Processors: *p,
			PHTBits:    *s,
			BHRWidth:   *b,
			Mode:       branchMode,
		},
		Cache: cache.Config{
			Ways:          *cacheWays,
			SetBits:       *cacheSets,
			BlockBits:     *cacheBlk,
			VictimEntries: *victim,
			RRIPBits:      *rrip,
		},
		Coherence: coherence.Config{
			Family:     family,
			Processors: int(*p),
		},
		Processor: processor.Config{
			FetchWidth:  *fetchWidth,
			DispatchMul: *dispatch,
			ScheduleMul: *schedule,
			FastFUs:     *fastFUs,
			LongFUs:     *longFUs,
			CDBs:        *cdbs,
		},
	}
	return cfg, cfg.Validate()
}
