package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/oosim/simerr"
	"github.com/sarchlab/oosim/trace"
)

// Statistics tracks per-cache counters for diagnostics, mirroring the
// teacher's timing/cache.Statistics shape.
type Statistics struct {
	Hits            uint64
	Misses          uint64
	Evictions       uint64
	VictimHits      uint64
	SecondaryAccess uint64
}

// Cache is one core's L1 controller: tag/valid/dirty state lives in an
// Akita directory (the main array, plus a second one-set directory for
// the optional victim buffer); coherence permission state lives
// entirely in the Coherence collaborator, never here.
type Cache struct {
	cfg    Config
	coreID int
	coher  Coherence

	mainDir   *akitacache.DirectoryImpl
	victimDir *akitacache.DirectoryImpl // nil when VictimEntries == 0

	rrpvArr   []uint64 // indexed by setID*Ways+wayID; only used when cfg.UsesRRIP()
	iteration uint64

	queue []*MemRequest

	stats Statistics
}

// New builds a Cache for the given core, registering its coherence
// callback with coher.
func New(cfg Config, coreID int, coher Coherence) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	blockSize := int(cfg.BlockSize())
	c := &Cache{
		cfg:    cfg,
		coreID: coreID,
		coher:  coher,
		mainDir: akitacache.NewDirectory(
			cfg.Sets(), cfg.Ways, blockSize, akitacache.NewLRUVictimFinder(),
		),
		rrpvArr: make([]uint64, cfg.Sets()*cfg.Ways),
	}
	if cfg.VictimEntries > 0 {
		c.victimDir = akitacache.NewDirectory(
			1, cfg.VictimEntries, blockSize, akitacache.NewLRUVictimFinder(),
		)
	}
	coher.RegisterCacheCallback(coreID, c.onCoherenceCallback)
	return c, nil
}

// Stats returns a snapshot of this cache's counters.
func (c *Cache) Stats() Statistics { return c.stats }

// MemoryRequest enqueues a trace memory operation: it classifies one or
// two (if the access crosses a line boundary) block addresses against
// the cache arrays, builds the resulting PendingRequest chain, and
// appends the whole thing as one MemRequest. callback fires once every
// pending node in the chain has resolved through coherence.
func (c *Cache) MemoryRequest(op trace.Op, tag int64, callback func(core int, tag int64)) error {
	if op.Kind != trace.MemLoad && op.Kind != trace.MemStore {
		return simerr.NewInvariantViolation("cache", "n/a",
			"MemoryRequest called with non-memory op "+op.Kind.String())
	}
	isStore := op.Kind == trace.MemStore
	isLoad := !isStore
	blockSize := c.cfg.BlockSize()

	blockAddr := op.Addr &^ (blockSize - 1)
	res1, evicted1 := c.classify(blockAddr, isStore)

	req := &MemRequest{Core: c.coreID, Tag: tag, Callback: callback}
	req.Pending = append(req.Pending, pendingFor(res1, blockAddr, evicted1, isLoad)...)

	if (op.Addr%blockSize)+uint64(op.Size) > blockSize {
		c.stats.SecondaryAccess++
		nextAddr := (op.Addr + blockSize) &^ (blockSize - 1)
		res2, _ := c.classify(nextAddr, isStore)
		if res2 == ResultMissEvict {
			return simerr.NewInvariantViolationAddr("cache", "secondary-access", nextAddr,
				"miss-evict encountered on a secondary line-crossing access")
		}
		req.Pending = append(req.Pending, pendingFor(res2, nextAddr, 0, isLoad)...)
	}

	c.queue = append(c.queue, req)
	return nil
}

func pendingFor(res Result, addr, evictedAddr uint64, isLoad bool) []*PendingRequest {
	if res == ResultMissEvict {
		return []*PendingRequest{
			{Addr: evictedAddr, IsLoad: isLoad, Kind: PendingInvl, Result: res},
			{Addr: addr, IsLoad: isLoad, Kind: PendingPerm, Result: res},
		}
	}
	return []*PendingRequest{{Addr: addr, IsLoad: isLoad, Kind: PendingPerm, Result: res}}
}

// classify looks blockAddr up against the main array, then (on a main
// miss) the victim buffer, installing or evicting as needed, and
// reports what the access looked like from the tag array's point of
// view, plus, for a miss-evict, the address of the block that left the
// cache. Coherence permission is resolved separately by the pending
// queue; a "hit" here only means the data is present, not that write
// permission is held.
func (c *Cache) classify(blockAddr uint64, isStore bool) (Result, uint64) {
	if block := c.mainDir.Lookup(0, blockAddr); block != nil && block.IsValid {
		c.stats.Hits++
		c.touchMainHit(block)
		if isStore {
			block.IsDirty = true
		}
		return ResultHit, 0
	}

	if c.victimDir != nil {
		if vblock := c.victimDir.Lookup(0, blockAddr); vblock != nil && vblock.IsValid {
			c.stats.Hits++
			c.stats.VictimHits++
			c.swapFromVictim(vblock, blockAddr, isStore)
			return ResultHit, 0
		}
	}

	c.stats.Misses++
	victim := c.findMainVictim(blockAddr)
	evicted := victim.IsValid
	evictedAddr := victim.Tag
	evictedDirty := victim.IsDirty

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = isStore
	c.installMain(victim)

	if !evicted {
		return ResultMiss, 0
	}
	if c.victimDir == nil {
		c.stats.Evictions++
		return ResultMissEvict, evictedAddr
	}
	if vAddr, vEvicted := c.insertIntoVictim(evictedAddr, evictedDirty); vEvicted {
		c.stats.Evictions++
		return ResultMissEvict, vAddr
	}
	return ResultMiss, 0
}

// findMainVictim picks which line in blockAddr's set to reuse: LRU via
// the Akita directory's own victim finder when RRIP is disabled, or a
// hand-rolled RRPV sweep over that set's blocks when it is enabled. The
// sweep mirrors the directory's own Flush() pattern of walking
// GetSets() and mutating Block fields directly.
func (c *Cache) findMainVictim(blockAddr uint64) *akitacache.Block {
	probe := c.mainDir.FindVictim(blockAddr)
	if !c.cfg.UsesRRIP() {
		return probe
	}

	setBlocks := c.mainDir.GetSets()[probe.SetID].Blocks
	for _, b := range setBlocks {
		if !b.IsValid {
			return b
		}
	}
	rMax := c.cfg.RRIPMax()
	for {
		for _, b := range setBlocks {
			if c.rrpv(b) == rMax {
				return b
			}
		}
		for _, b := range setBlocks {
			c.bumpRRPV(b)
		}
	}
}

func (c *Cache) rrpvIndex(b *akitacache.Block) int {
	return b.SetID*c.cfg.Ways + b.WayID
}

func (c *Cache) rrpv(b *akitacache.Block) uint64 { return c.rrpvArr[c.rrpvIndex(b)] }

func (c *Cache) bumpRRPV(b *akitacache.Block) {
	i := c.rrpvIndex(b)
	if c.rrpvArr[i] < c.cfg.RRIPMax() {
		c.rrpvArr[i]++
	}
}

// installMain marks a freshly (re)filled line's replacement metadata:
// RRIP predicts an intermediate re-reference interval on fill; LRU
// treats a fill the same as any other visit.
func (c *Cache) installMain(b *akitacache.Block) {
	if c.cfg.UsesRRIP() {
		r := c.cfg.RRIPMax()
		if r > 0 {
			c.rrpvArr[c.rrpvIndex(b)] = r - 1
		}
		return
	}
	c.mainDir.Visit(b)
}

// touchMainHit marks a line as just reused: RRIP predicts near-term
// reuse (RRPV 0); LRU moves it to the front.
func (c *Cache) touchMainHit(b *akitacache.Block) {
	if c.cfg.UsesRRIP() {
		c.rrpvArr[c.rrpvIndex(b)] = 0
		return
	}
	c.mainDir.Visit(b)
}

// insertIntoVictim places an evicted main-array line into the (always
// LRU) victim buffer, reporting whatever it in turn evicted.
func (c *Cache) insertIntoVictim(addr uint64, dirty bool) (evictedAddr uint64, evicted bool) {
	victim := c.victimDir.FindVictim(addr)
	evicted = victim.IsValid
	if evicted {
		evictedAddr = victim.Tag
	}
	victim.Tag = addr
	victim.IsValid = true
	victim.IsDirty = dirty
	c.victimDir.Visit(victim)
	return evictedAddr, evicted
}

// swapFromVictim handles a victim-buffer hit: the main array's set is
// guaranteed full (a free line would have been filled directly instead
// of spilling to the victim buffer), so the line chosen by the
// replacement policy trades places with vblock.
func (c *Cache) swapFromVictim(vblock *akitacache.Block, blockAddr uint64, isStore bool) {
	mainVictim := c.findMainVictim(blockAddr)
	oldAddr := mainVictim.Tag
	oldDirty := mainVictim.IsDirty

	mainVictim.Tag = blockAddr
	mainVictim.IsValid = true
	mainVictim.IsDirty = vblock.IsDirty || isStore
	c.touchMainHit(mainVictim)

	vblock.Tag = oldAddr
	vblock.IsValid = true
	vblock.IsDirty = oldDirty
	c.victimDir.Visit(vblock)
}

// Tick advances the iteration counter and the pending-request queue by
// one step.
func (c *Cache) Tick() error {
	c.iteration++
	return c.advanceQueue()
}

// advanceQueue issues the next unstarted PendingRequest's coherence
// call, or, once a MemRequest's chain is fully resolved, fires its
// callback and pops the outer queue.
func (c *Cache) advanceQueue() error {
	if len(c.queue) == 0 {
		return nil
	}
	head := c.queue[0]
	p := head.headPending()
	if p == nil {
		cb := head.Callback
		core, tag := head.Core, head.Tag
		c.queue = c.queue[1:]
		if cb != nil {
			cb(core, tag)
		}
		return nil
	}
	if p.Started {
		return nil
	}
	p.Started = true

	switch p.Kind {
	case PendingPerm:
		if wait := c.coher.PermReq(p.IsLoad, p.Addr, c.coreID); !wait {
			head.popPending()
		}
	case PendingInvl:
		if wait := c.coher.InvlReq(p.Addr, c.coreID); !wait {
			return simerr.NewInvariantViolationAddr("cache", "invl-no-wait", p.Addr,
				"invalidation requests must always wait for a coherence callback")
		}
	}
	return nil
}

// onCoherenceCallback is registered with the Coherence collaborator at
// construction time and invoked whenever a pending request this cache
// issued resolves.
func (c *Cache) onCoherenceCallback(kind CacheCallbackKind, addr uint64) {
	if len(c.queue) == 0 {
		return
	}
	head := c.queue[0]
	if head.headPending() == nil {
		return
	}

	switch kind {
	case CallbackNoAction:
		head.popPending()
		_ = c.advanceQueue()
	case CallbackDataRecv:
		head.popPending()
	case CallbackInvalidate:
		// Snoop-driven invalidation of a line this cache holds isn't
		// acted on by the controller yet; the coherence unit still
		// tracks per-line state independently.
	}
}
