package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/trace"
)

// fakeCoherence is a minimal Coherence double: PermReq grants immediately
// (or waits, per permWait), InvlReq always waits, and tests drive
// resolution explicitly via fire, mirroring how a real coherence unit's
// callback would arrive asynchronously.
type fakeCoherence struct {
	permWait bool
	cbs      map[int]func(kind cache.CacheCallbackKind, addr uint64)
}

func newFakeCoherence(permWait bool) *fakeCoherence {
	return &fakeCoherence{permWait: permWait, cbs: map[int]func(cache.CacheCallbackKind, uint64){}}
}

func (f *fakeCoherence) PermReq(isLoad bool, addr uint64, core int) bool { return f.permWait }
func (f *fakeCoherence) InvlReq(addr uint64, core int) bool             { return true }
func (f *fakeCoherence) RegisterCacheCallback(core int, cb func(cache.CacheCallbackKind, uint64)) {
	f.cbs[core] = cb
}
func (f *fakeCoherence) fire(core int, kind cache.CacheCallbackKind, addr uint64) {
	f.cbs[core](kind, addr)
}

var _ = Describe("Cache", func() {
	Describe("construction", func() {
		It("rejects zero ways", func() {
			cfg := cache.DefaultConfig()
			cfg.Ways = 0
			_, err := cache.New(cfg, 0, newFakeCoherence(false))
			Expect(err).To(HaveOccurred())
		})
	})

	// (S2) A direct-mapped (E=1), 2-set cache evicts the LRU line of a
	// set when a second address mapping to the same set arrives.
	Describe("S2: LRU eviction in a direct-mapped cache", func() {
		It("reports miss-evict on the second conflicting access", func() {
			cfg := cache.Config{Ways: 1, SetBits: 1, BlockBits: 4}
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			// Both addresses below map to set 0 (bit 4 selects the set,
			// address bits above that are the tag).
			var fired []int64
			load := func(addr uint64, tag int64) {
				op := trace.Op{Kind: trace.MemLoad, Addr: addr, Size: 1}
				Expect(c.MemoryRequest(op, tag, func(_ int, t int64) { fired = append(fired, t) })).To(Succeed())
				// two ticks: first resolves the perm node (no wait), second fires the callback.
				Expect(c.Tick()).To(Succeed())
				Expect(c.Tick()).To(Succeed())
			}

			load(0x000, 1) // miss, fills set 0 way 0
			Expect(fired).To(Equal([]int64{1}))
			load(0x100, 2) // same set, different tag: still free? no - way count is 1, so this evicts.
			// The miss-evict's invl node waits for a coherence callback on
			// the evicted block before the perm node and the request's
			// callback can resolve.
			Expect(fired).To(Equal([]int64{1}))
			fc.fire(0, cache.CallbackNoAction, 0x000)
			Expect(c.Tick()).To(Succeed())
			Expect(fired).To(Equal([]int64{1, 2}))
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
			Expect(c.Stats().Misses).To(Equal(uint64(2)))
		})
	})

	Describe("line-crossing accesses", func() {
		It("classifies both halves and resolves in order", func() {
			cfg := cache.Config{Ways: 2, SetBits: 2, BlockBits: 4} // 16-byte lines
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			op := trace.Op{Kind: trace.MemLoad, Addr: 0x0E, Size: 4} // spans [0x0E,0x12) -> crosses 0x10
			var done bool
			Expect(c.MemoryRequest(op, 7, func(_ int, tag int64) {
				done = true
				Expect(tag).To(Equal(int64(7)))
			})).To(Succeed())

			// two pending perm nodes, each resolved without wait; queue
			// drains after both are started, plus one tick for the callback.
			Expect(c.Tick()).To(Succeed())
			Expect(c.Tick()).To(Succeed())
			Expect(c.Tick()).To(Succeed())
			Expect(done).To(BeTrue())
			Expect(c.Stats().SecondaryAccess).To(Equal(uint64(1)))
		})
	})

	// (S6) A victim buffer absorbs an eviction from the main array and
	// serves the next access to that address as a hit.
	Describe("S6: victim buffer hit", func() {
		It("swaps an evicted line back into the main array on reuse", func() {
			cfg := cache.Config{Ways: 1, SetBits: 1, BlockBits: 4, VictimEntries: 1}
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			drain := func(addr uint64, tag int64) {
				op := trace.Op{Kind: trace.MemLoad, Addr: addr, Size: 1}
				Expect(c.MemoryRequest(op, tag, func(int, int64) {})).To(Succeed())
				Expect(c.Tick()).To(Succeed())
				Expect(c.Tick()).To(Succeed())
			}

			drain(0x000, 1) // fills set 0
			drain(0x100, 2) // conflict miss: 0x000's line spills into the victim buffer
			Expect(c.Stats().Evictions).To(Equal(uint64(0)), "the victim buffer should absorb this eviction")

			drain(0x000, 3) // should hit in the victim buffer and swap back into main
			Expect(c.Stats().VictimHits).To(Equal(uint64(1)))
		})
	})

	Describe("boundary: k=1 RRIP reduces to a two-state clock policy", func() {
		It("still evicts a line once a set with room for two fills with three", func() {
			cfg := cache.Config{Ways: 2, SetBits: 0, BlockBits: 4, RRIPBits: 1}
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			for i, addr := range []uint64{0x000, 0x100, 0x200} {
				op := trace.Op{Kind: trace.MemLoad, Addr: addr, Size: 1}
				Expect(c.MemoryRequest(op, int64(i), func(int, int64) {})).To(Succeed())
				Expect(c.Tick()).To(Succeed())
				Expect(c.Tick()).To(Succeed())
			}
			Expect(c.Stats().Evictions).To(Equal(uint64(1)))
		})
	})

	Describe("boundary: s=0 collapses to fully associative", func() {
		It("treats every address as mapping to the single set", func() {
			cfg := cache.Config{Ways: 4, SetBits: 0, BlockBits: 4}
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			for i, addr := range []uint64{0x000, 0x100, 0x200, 0x300} {
				op := trace.Op{Kind: trace.MemLoad, Addr: addr, Size: 1}
				Expect(c.MemoryRequest(op, int64(i), func(int, int64) {})).To(Succeed())
				Expect(c.Tick()).To(Succeed())
				Expect(c.Tick()).To(Succeed())
			}
			Expect(c.Stats().Misses).To(Equal(uint64(4)))
			Expect(c.Stats().Evictions).To(Equal(uint64(0)), "all four lines fit in one 4-way set")
		})
	})

	Describe("miss-evict on a secondary line-crossing access", func() {
		It("is reported as an invariant violation", func() {
			// Ways=1, two sets: the second half of a crossing access maps
			// to a different, already-occupied set, forcing a miss-evict
			// on the secondary access.
			cfg := cache.Config{Ways: 1, SetBits: 1, BlockBits: 4}
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			warm := trace.Op{Kind: trace.MemLoad, Addr: 0x110, Size: 1} // occupies set 1
			Expect(c.MemoryRequest(warm, 1, func(int, int64) {})).To(Succeed())
			Expect(c.Tick()).To(Succeed())
			Expect(c.Tick()).To(Succeed())

			crossing := trace.Op{Kind: trace.MemLoad, Addr: 0x00E, Size: 4} // crosses into set 1, tag differs
			err = c.MemoryRequest(crossing, 2, func(int, int64) {})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("queue resolution via an invalidation step", func() {
		It("resolves an invl node before its perm node, across ticks and a coherence callback", func() {
			cfg := cache.Config{Ways: 1, SetBits: 1, BlockBits: 4}
			fc := newFakeCoherence(false)
			c, err := cache.New(cfg, 0, fc)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.MemoryRequest(trace.Op{Kind: trace.MemLoad, Addr: 0x000, Size: 1}, 1, func(int, int64) {})).To(Succeed())
			Expect(c.Tick()).To(Succeed())
			Expect(c.Tick()).To(Succeed())

			var fired bool
			Expect(c.MemoryRequest(trace.Op{Kind: trace.MemLoad, Addr: 0x100, Size: 1}, 2, func(int, int64) {
				fired = true
			})).To(Succeed())

			Expect(c.Tick()).To(Succeed()) // starts the invl node, waits
			Expect(fired).To(BeFalse())
			fc.fire(0, cache.CallbackNoAction, 0x000) // coherence resolves the invalidation
			Expect(fired).To(BeFalse())                // perm node was resolved, callback still pending a tick
			Expect(c.Tick()).To(Succeed())
			Expect(fired).To(BeTrue())
		})
	})
})
