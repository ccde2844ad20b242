package processor

import "github.com/sarchlab/oosim/trace"

// opClass distinguishes the three instruction shapes the pipeline cares
// about: everything else routes through the ALU/long-ALU FUs the same
// way, but memory and branch ops additionally drive the cache/branch
// collaborators.
type opClass int

const (
	opALU    opClass = iota - 1 // -1: a plain ALU/ALU_LONG op
	opMem                       // 0: MEM_LOAD/MEM_STORE
	opBranch                    // 1: BRANCH
)

// operand is a renamed copy of a source register, captured at dispatch
// time: either already valued (ready) or waiting on the tag that will
// eventually appear on a CDB.
type operand struct {
	regID int // NoReg if this source slot is unused
	ready bool
	val   uint64
	tag   int64
}

// instr is one in-flight instruction: a renamed copy of a trace op
// carrying its own tag, source operands, and functional-unit slot.
type instr struct {
	isLong bool
	class  opClass
	op     trace.Op
	fired  bool
	fu     int
	dest   int
	src    [2]operand
	tag    int64
}

func classify(op trace.Op) opClass {
	switch op.Kind {
	case trace.MemLoad, trace.MemStore:
		return opMem
	case trace.Branch:
		return opBranch
	default:
		return opALU
	}
}

func newInstr(op trace.Op, tag int64) *instr {
	return &instr{
		isLong: op.Kind == trace.ALULong,
		class:  classify(op),
		op:     op,
		dest:   op.Dest,
		src:    [2]operand{{regID: op.Src[0]}, {regID: op.Src[1]}},
		tag:    tag,
	}
}

// reg is one architectural register: ready when it holds a committed
// value, otherwise renamed to the tag of the instruction that will
// produce it.
type reg struct {
	ready bool
	tag   int64
	val   uint64
}

// cdb is one common data bus slot: busy for exactly the tick its
// broadcast is visible, then cleared.
type cdb struct {
	busy  bool
	tag   int64
	val   uint64
	regID int
}
