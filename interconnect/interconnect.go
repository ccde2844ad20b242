// Package interconnect provides the minimal bus abstraction the
// coherence unit drives: a single global FIFO of bus transactions,
// replayed in arrival order to every registered target. spec.md lists
// the interconnect as an external collaborator and specifies only this
// interface; this is the simplest model that satisfies it.
package interconnect

// ReqType enumerates the bus transaction kinds a coherence unit can
// issue or observe.
type ReqType int

const (
	BusRd ReqType = iota
	BusWr
	Data
	Shared
)

func (t ReqType) String() string {
	switch t {
	case BusRd:
		return "BusRd"
	case BusWr:
		return "BusWr"
	case Data:
		return "Data"
	case Shared:
		return "Shared"
	default:
		return "?"
	}
}

// Target receives bus transactions in the order the Bus serializes
// them. Core is the id of the core that originated the transaction
// (for Data/Shared, the core the response is addressed to).
type Target interface {
	OnBusReq(reqType ReqType, addr uint64, core int)
}

type busEvent struct {
	reqType ReqType
	addr    uint64
	core    int
}

// Bus is a single global FIFO serializing every bus transaction across
// every registered target, so concurrent requesters observe requests
// in one deterministic total order.
type Bus struct {
	targets []Target
	queue   []busEvent
	draining bool
}

// NewBus returns an empty Bus.
func NewBus() *Bus { return &Bus{} }

// Register adds t as a recipient of every future transaction.
func (b *Bus) Register(t Target) {
	b.targets = append(b.targets, t)
}

// Request enqueues a transaction and, if no Drain is already in
// progress, immediately drains the queue. A transaction's snoop
// reactions may themselves call Request (e.g. a snooper responding
// with Data); those nest onto the same queue and are drained in the
// same pass, preserving FIFO order without reentrant draining.
func (b *Bus) Request(reqType ReqType, addr uint64, core int) {
	b.queue = append(b.queue, busEvent{reqType: reqType, addr: addr, core: core})
	if b.draining {
		return
	}
	b.drain()
}

func (b *Bus) drain() {
	b.draining = true
	defer func() { b.draining = false }()

	for len(b.queue) > 0 {
		ev := b.queue[0]
		b.queue = b.queue[1:]
		for _, t := range b.targets {
			t.OnBusReq(ev.reqType, ev.addr, ev.core)
		}
	}
}
