// Package trace defines the external trace-reader contract consumed by the
// processor pipeline and provides a reference text-format implementation.
//
// The simulator core never opens a file itself: it is handed anything
// satisfying Reader. TextReader exists so the harness and tests have a
// concrete, inspectable trace format to work with.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/oosim/simerr"
)

// OpKind enumerates the architectural operation kinds a trace can yield.
type OpKind int

const (
	// None is returned when a core's trace is exhausted for this tick.
	None OpKind = iota
	MemLoad
	MemStore
	Branch
	ALU
	ALULong
	End
)

// String renders an OpKind for diagnostics.
func (k OpKind) String() string {
	switch k {
	case None:
		return "NONE"
	case MemLoad:
		return "MEM_LOAD"
	case MemStore:
		return "MEM_STORE"
	case Branch:
		return "BRANCH"
	case ALU:
		return "ALU"
	case ALULong:
		return "ALU_LONG"
	case End:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// NoReg marks an absent register operand (dest_reg or src_reg).
const NoReg = -1

// Op is a single architectural operation read from a trace.
type Op struct {
	Kind    OpKind
	PC      uint64
	NextPC  uint64
	Addr    uint64
	Size    int
	Dest    int // [-1, 32]
	Src     [2]int
}

// Reader yields the next operation for a given core, or (Op{}, false)
// when that core's trace is exhausted.
type Reader interface {
	GetNextOp(coreID int) (Op, bool)
}

// TextReader parses a line-oriented trace format:
//
//	<core> <kind> <pc> <next_pc> <addr> <size> <dest> <src0> <src1>
//
// kind is one of: load store branch alu alu_long end. Register fields use
// -1 for "no register". Lines are split per-core into independent FIFO
// queues; GetNextOp pops the head of the requested core's queue.
type TextReader struct {
	queues map[int][]Op
}

// NewTextReader parses all lines from r into per-core queues. It returns a
// TraceFormatError on the first malformed line.
func NewTextReader(r io.Reader) (*TextReader, error) {
	tr := &TextReader{queues: make(map[int][]Op)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 9 {
			return nil, simerr.NewTraceFormatError(lineNo,
				fmt.Sprintf("expected 9 fields, got %d", len(fields)))
		}

		core, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "core id: "+err.Error())
		}

		kind, err := parseKind(fields[1])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, err.Error())
		}

		pc, err := parseHex(fields[2])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "pc: "+err.Error())
		}
		nextPC, err := parseHex(fields[3])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "next_pc: "+err.Error())
		}
		addr, err := parseHex(fields[4])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "addr: "+err.Error())
		}
		size, err := strconv.Atoi(fields[5])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "size: "+err.Error())
		}
		dest, err := strconv.Atoi(fields[6])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "dest_reg: "+err.Error())
		}
		src0, err := strconv.Atoi(fields[7])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "src_reg[0]: "+err.Error())
		}
		src1, err := strconv.Atoi(fields[8])
		if err != nil {
			return nil, simerr.NewTraceFormatError(lineNo, "src_reg[1]: "+err.Error())
		}

		if dest < NoReg || dest > 32 || src0 < NoReg || src0 > 32 || src1 < NoReg || src1 > 32 {
			return nil, simerr.NewTraceFormatError(lineNo, "register operand out of range [-1,32]")
		}

		tr.queues[core] = append(tr.queues[core], Op{
			Kind:   kind,
			PC:     pc,
			NextPC: nextPC,
			Addr:   addr,
			Size:   size,
			Dest:   dest,
			Src:    [2]int{src0, src1},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}

	return tr, nil
}

func parseKind(s string) (OpKind, error) {
	switch strings.ToLower(s) {
	case "load":
		return MemLoad, nil
	case "store":
		return MemStore, nil
	case "branch":
		return Branch, nil
	case "alu":
		return ALU, nil
	case "alu_long":
		return ALULong, nil
	case "end":
		return End, nil
	default:
		return None, fmt.Errorf("unknown op kind %q", s)
	}
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// GetNextOp pops the next operation for coreID, or (Op{}, false) if that
// core's queue is empty.
func (tr *TextReader) GetNextOp(coreID int) (Op, bool) {
	q := tr.queues[coreID]
	if len(q) == 0 {
		return Op{}, false
	}
	op := q[0]
	tr.queues[coreID] = q[1:]
	return op, true
}

// Remaining reports how many operations are still queued for coreID.
func (tr *TextReader) Remaining(coreID int) int {
	return len(tr.queues[coreID])
}
