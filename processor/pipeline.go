package processor

import (
	"github.com/sarchlab/oosim/branch"
	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/simerr"
	"github.com/sarchlab/oosim/trace"
)

// tagAllocator hands out the two globally monotonic counters the
// pipeline needs: one names instructions (the rename tag and
// priority-queue key), the other names memory requests (the base tag
// wrapped into makeTag). Both are shared across every core, matching
// the single global `counter`/`globalTag` in the source.
type tagAllocator struct {
	instrTag int64
	memTag   int64
}

func newTagAllocator() *tagAllocator {
	return &tagAllocator{instrTag: 1, memTag: 1}
}

func (t *tagAllocator) nextInstrTag() int64 {
	v := t.instrTag
	t.instrTag++
	return v
}

func (t *tagAllocator) nextMemBaseTag() int64 {
	v := t.memTag
	t.memTag++
	return v
}

// makeTag packs a core id into the low byte of a memory request's tag,
// matching spec.md §6: `(core | (base_tag << 8))`.
func makeTag(core int, base int64) int64 {
	return int64(core) | (base << 8)
}

// Core is one Tomasulo out-of-order pipeline: its own register file,
// CDBs, FU pipeline, and dispatch/schedule/state-update queues, driving
// one cache and sharing one branch predictor (indexed by its core id).
//
// The source keeps a single global register file/CDB set/FU array
// shared across every `processorCount` iteration of one tick, which
// only ever ran with processorCount == 1. Multi-core here gives each
// core its own full Tomasulo state instead of reusing one shared copy,
// the natural reading of "an out-of-order pipeline per core" once more
// than one core is actually exercised.
type Core struct {
	id     int
	cfg    Config
	cache  *cache.Cache
	branch *branch.Predictor
	reader trace.Reader
	tags   *tagAllocator

	regs  [NumRegs]reg
	buses []cdb

	// fuPipeline[j] holds up to 3 in-flight slots; fast FUs (j < FastFUs)
	// use only slot 0 (one stage), long FUs use all three.
	fuPipeline [][3]*instr

	decodeQueue       *instrQueue // unused: fetch pushes directly to dispatchQueue
	dispatchQueue     *instrQueue
	longScheduleQueue *instrQueue
	fastScheduleQueue *instrQueue
	stateUpdateQueue  *instrQueue

	pendingBranch bool
	pendingMem    bool
	memOpTag      int64

	instrCount int64
}

func newCore(id int, cfg Config, c *cache.Cache, b *branch.Predictor, reader trace.Reader, tags *tagAllocator) *Core {
	core := &Core{
		id:                id,
		cfg:               cfg,
		cache:             c,
		branch:            b,
		reader:            reader,
		tags:              tags,
		buses:             make([]cdb, cfg.CDBs),
		fuPipeline:        make([][3]*instr, cfg.numFUs()),
		decodeQueue:       newQueue(0),
		dispatchQueue:     newQueue(cfg.dispatchCap()),
		longScheduleQueue: newQueue(cfg.longScheduleCap()),
		fastScheduleQueue: newQueue(cfg.fastScheduleCap()),
		stateUpdateQueue:  newQueue(0),
	}
	for i := range core.regs {
		core.regs[i].ready = true
	}
	return core
}

// onMemComplete is the memOpCallback registered with this core's cache.
func (core *Core) onMemComplete(_ int, tag int64) {
	if tag == core.memOpTag {
		core.pendingMem = false
		core.memOpTag = 0
	}
}

func findCDBByTag(buses []cdb, tag int64) int {
	for i := range buses {
		if buses[i].busy && buses[i].tag == tag {
			return i
		}
	}
	return -1
}

// tick advances this core by one cycle, in the five reverse-pipeline
// phases of spec.md §4.4. It returns whether anything changed.
func (core *Core) tick() (bool, error) {
	progress := false

	// (1) Result-bus writeback.
	for c := range core.buses {
		b := &core.buses[c]
		if !b.busy {
			continue
		}
		if b.regID >= 0 && core.regs[b.regID].tag == b.tag {
			core.regs[b.regID].ready = true
			core.regs[b.regID].val = b.val
		}
		b.busy = false
		progress = true
	}

	// (2) State-update: claim CDBs for up to len(buses) completions.
	completed := make([]*instr, 0, len(core.buses))
	for c := range core.buses {
		if core.stateUpdateQueue.empty() {
			break
		}
		ins := core.stateUpdateQueue.popFront()
		if ins.class != opBranch {
			core.buses[c] = cdb{busy: true, tag: ins.tag, val: 0, regID: ins.dest}
		}
		completed = append(completed, ins)
		progress = true
	}

	// (3) Execute advance.
	fastFUs := int(core.cfg.FastFUs)
	for j := range core.fuPipeline {
		var toQueue *instr
		if j < fastFUs {
			toQueue = core.fuPipeline[j][0]
			if toQueue != nil && toQueue.class == opMem && core.pendingMem {
				continue // stall: the memory op hasn't completed yet
			}
			core.fuPipeline[j][0] = nil
		} else {
			toQueue = core.fuPipeline[j][2]
			core.fuPipeline[j][2] = core.fuPipeline[j][1]
			core.fuPipeline[j][1] = core.fuPipeline[j][0]
			core.fuPipeline[j][0] = nil
		}
		if toQueue != nil {
			core.stateUpdateQueue.priorityInsert(toQueue)
			progress = true
		}
	}
	for _, slots := range core.fuPipeline {
		for _, s := range slots {
			if s != nil {
				progress = true
			}
		}
	}

	// (4) Schedule / dispatch.
	if err := core.scheduleFire(&progress); err != nil {
		return progress, err
	}
	if err := core.dispatchDrain(&progress); err != nil {
		return progress, err
	}
	core.scheduleSnoopCDBs(&progress)

	// (5) Fetch/decode.
	core.fetchDecode(&progress)

	// State-update (SU f): delete completed instructions from their
	// schedule queue at the end of the tick, after this tick's dispatch,
	// so the freed slots are available to the next tick's dispatch.
	for _, ins := range completed {
		if ins.class == opBranch {
			core.pendingBranch = false
		}
		q := core.fastScheduleQueue
		if ins.isLong {
			q = core.longScheduleQueue
		}
		if !q.deleteInstr(ins) {
			return progress, simerr.NewInvariantViolation("processor", "schedule-queue",
				"instruction completed state-update but was not found in its schedule queue")
		}
		progress = true
	}

	if core.pendingMem {
		progress = true
	}

	return progress, nil
}

// scheduleFire is stage (4)'s "schedule (fire)" half: scan both
// schedule queues in tag order, firing any entry whose operands are
// ready and whose FU class has a free slot.
func (core *Core) scheduleFire(progress *bool) error {
	fastFUs := int(core.cfg.FastFUs)
	queues := [2]*instrQueue{core.longScheduleQueue, core.fastScheduleQueue}
	for _, q := range queues {
		for _, rs := range q.items {
			if rs.fired {
				continue
			}
			ready := rs.src[0].ready && rs.src[1].ready
			if rs.class == opMem && core.pendingMem {
				ready = false
			}
			if !ready {
				continue
			}
			for j := range core.fuPipeline {
				isLongFU := j >= fastFUs
				if isLongFU != rs.isLong {
					continue
				}
				if core.fuPipeline[j][0] != nil {
					continue
				}
				core.fuPipeline[j][0] = rs
				if rs.class == opMem {
					core.pendingMem = true
					base := core.tags.nextMemBaseTag()
					tag := makeTag(core.id, base)
					core.memOpTag = tag
					if err := core.cache.MemoryRequest(rs.op, tag, core.onMemComplete); err != nil {
						return err
					}
				}
				rs.fu = j
				rs.fired = true
				*progress = true
				break
			}
		}
	}
	return nil
}

// dispatchDrain is stage (4)'s "dispatch" half: drains dispatch_queue
// into the matching schedule queue (by is_long) until both are full,
// renaming sources and the destination register as each instruction
// leaves.
func (core *Core) dispatchDrain(progress *bool) error {
	i := 0
	for i < core.dispatchQueue.len() {
		if core.longScheduleQueue.full() && core.fastScheduleQueue.full() {
			break
		}
		cur := core.dispatchQueue.items[i]
		target := core.fastScheduleQueue
		if cur.isLong {
			target = core.longScheduleQueue
		}
		if target.full() {
			i++
			continue
		}
		target.priorityInsert(cur)
		core.dispatchQueue.items = append(core.dispatchQueue.items[:i], core.dispatchQueue.items[i+1:]...)
		*progress = true

		for s := range cur.src {
			src := &cur.src[s]
			if src.regID == NoReg {
				src.ready = true
				continue
			}
			r := core.regs[src.regID]
			if r.ready {
				src.val = r.val
				src.ready = true
			} else {
				src.tag = r.tag
				src.ready = false
			}
		}
		if cur.dest != NoReg {
			core.regs[cur.dest].tag = cur.tag
			core.regs[cur.dest].ready = false
		}
	}
	return nil
}

// scheduleSnoopCDBs is stage (4)'s CDB snoop: any schedule-queue entry
// whose source is still unready picks up its value if the CDB carrying
// its producer's tag is broadcasting this tick.
func (core *Core) scheduleSnoopCDBs(progress *bool) {
	queues := [2]*instrQueue{core.longScheduleQueue, core.fastScheduleQueue}
	for _, q := range queues {
		for _, rs := range q.items {
			for s := range rs.src {
				src := &rs.src[s]
				if src.ready {
					continue
				}
				if idx := findCDBByTag(core.buses, src.tag); idx != -1 {
					src.ready = true
					src.val = core.buses[idx].val
					*progress = true
				}
			}
		}
	}
}

// fetchDecode is stage (5): pull up to FetchWidth ops from the trace,
// unless stalled on a branch misprediction or a full dispatch queue.
func (core *Core) fetchDecode(progress *bool) {
	for f := uint64(0); f < core.cfg.FetchWidth; f++ {
		if core.pendingBranch {
			break
		}
		if core.dispatchQueue.full() {
			break
		}

		op, ok := core.reader.GetNextOp(core.id)
		if !ok {
			continue
		}
		*progress = true
		core.instrCount++

		switch op.Kind {
		case trace.MemLoad, trace.MemStore:
			ins := newInstr(op, core.tags.nextInstrTag())
			core.dispatchQueue.pushBack(ins)
		case trace.Branch:
			predicted := core.branch.Predict(core.id, op)
			core.pendingBranch = predicted != op.NextPC
			ins := newInstr(op, core.tags.nextInstrTag())
			core.dispatchQueue.pushBack(ins)
		case trace.ALU, trace.ALULong:
			ins := newInstr(op, core.tags.nextInstrTag())
			core.dispatchQueue.pushBack(ins)
		}
	}
}
