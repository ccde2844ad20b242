package harness_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/coherence"
	"github.com/sarchlab/oosim/harness"
	"github.com/sarchlab/oosim/processor"
	"github.com/sarchlab/oosim/trace"
)

// fixedReader serves a fixed, ordered op list per core and then reports
// exhaustion, the same shape processor_test.go's fakeReader uses.
type fixedReader struct {
	ops [][]trace.Op
}

func (r *fixedReader) GetNextOp(coreID int) (trace.Op, bool) {
	if coreID < 0 || coreID >= len(r.ops) || len(r.ops[coreID]) == 0 {
		return trace.Op{}, false
	}
	op := r.ops[coreID][0]
	r.ops[coreID] = r.ops[coreID][1:]
	return op, true
}

func oneCoreConfig() harness.Config {
	return harness.Config{
		Branch:    branch.Config{Processors: 1, PHTBits: 4, BHRWidth: 4, Mode: branch.ModeGShare},
		Cache:     cache.DefaultConfig(),
		Coherence: coherence.Config{Family: coherence.MI, Processors: 1},
		Processor: processor.Config{
			FetchWidth:  2,
			DispatchMul: 2,
			ScheduleMul: 2,
			FastFUs:     2,
			LongFUs:     1,
			CDBs:        2,
		},
	}
}

var _ = Describe("Simulator", func() {
	It("rejects mismatched branch/coherence processor counts", func() {
		cfg := oneCoreConfig()
		cfg.Branch.Processors = 2
		_, err := harness.New(cfg, &fixedReader{ops: [][]trace.Op{{}}})
		Expect(err).To(HaveOccurred())
	})

	It("runs a short ALU trace to completion and counts every instruction", func() {
		reader := &fixedReader{ops: [][]trace.Op{{
			{Kind: trace.ALU, Dest: 1, Src: [2]int{2, 3}},
			{Kind: trace.ALU, Dest: 4, Src: [2]int{1, 5}},
			{Kind: trace.ALU, Dest: 6, Src: [2]int{4, 5}},
		}}}
		sim, err := harness.New(oneCoreConfig(), reader)
		Expect(err).NotTo(HaveOccurred())

		ticks, err := sim.Run(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ticks).To(BeNumerically(">", 0))
		Expect(sim.Stats().Processor.Instructions).To(Equal(int64(3)))
	})

	It("resolves a memory load end to end through cache and coherence", func() {
		reader := &fixedReader{ops: [][]trace.Op{{
			{Kind: trace.MemLoad, Addr: 0x100, Size: 4, Dest: 1, Src: [2]int{processor.NoReg, processor.NoReg}},
		}}}
		sim, err := harness.New(oneCoreConfig(), reader)
		Expect(err).NotTo(HaveOccurred())

		ticks, err := sim.Run(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ticks).To(BeNumerically(">", 0))
		Expect(sim.Stats().Caches[0].Misses).To(Equal(uint64(1)))
	})
})

var _ = Describe("Config file round-trip", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "harness-config-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	It("saves and loads a machine configuration", func() {
		original := oneCoreConfig()
		original.Processor.FetchWidth = 4

		path := filepath.Join(tempDir, "machine.json")
		Expect(original.SaveConfig(path)).To(Succeed())

		loaded, err := harness.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Processor.FetchWidth).To(Equal(uint64(4)))
		Expect(loaded.Coherence.Processors).To(Equal(1))
	})

	It("returns an error for a non-existent file", func() {
		_, err := harness.LoadConfig(filepath.Join(tempDir, "missing.json"))
		Expect(err).To(HaveOccurred())
	})

	It("returns an error for invalid JSON", func() {
		path := filepath.Join(tempDir, "invalid.json")
		Expect(os.WriteFile(path, []byte("not valid json"), 0o644)).To(Succeed())

		_, err := harness.LoadConfig(path)
		Expect(err).To(HaveOccurred())
	})
})
