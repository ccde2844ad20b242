package coherence

import (
	"sort"

	"github.com/sarchlab/oosim/cache"
	"github.com/sarchlab/oosim/interconnect"
	"github.com/sarchlab/oosim/simerr"
)

// Unit is the shared, multi-core coherence directory: one per-(core,
// line) State, driven by every core's cache through PermReq/InvlReq and
// reporting back through each core's registered callback. It implements
// cache.Coherence.
type Unit struct {
	cfg Config
	bus *interconnect.Bus

	states    map[uint64]map[int]State
	callbacks map[int]func(kind cache.CacheCallbackKind, addr uint64)

	err error
}

// New builds a Unit for cfg, registering it with bus as the sole bus
// target (this Unit tracks every core's line state itself, so one
// target suffices to dispatch every snoop).
func New(cfg Config, bus *interconnect.Bus) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u := &Unit{
		cfg:       cfg,
		bus:       bus,
		states:    make(map[uint64]map[int]State),
		callbacks: make(map[int]func(cache.CacheCallbackKind, uint64)),
	}
	bus.Register(u)
	return u, nil
}

// Err returns the first invariant violation observed, if any. The
// harness checks this after every tick and aborts the simulation when
// it is non-nil.
func (u *Unit) Err() error { return u.err }

// StateAt exposes a line's per-core state for diagnostics and tests.
func (u *Unit) StateAt(addr uint64, core int) State {
	return u.stateOf(addr, core)
}

func (u *Unit) stateOf(addr uint64, core int) State {
	if m := u.states[addr]; m != nil {
		if s, ok := m[core]; ok {
			return s
		}
	}
	return Invalid
}

func (u *Unit) setState(addr uint64, core int, s State) {
	m := u.states[addr]
	if m == nil {
		m = make(map[int]State)
		u.states[addr] = m
	}
	m[core] = s
}

// RegisterCacheCallback implements cache.Coherence.
func (u *Unit) RegisterCacheCallback(core int, cb func(cache.CacheCallbackKind, uint64)) {
	u.callbacks[core] = cb
}

// PermReq implements cache.Coherence.
func (u *Unit) PermReq(isLoad bool, addr uint64, core int) bool {
	cur := u.stateOf(addr, core)
	if cur.IsTransient() {
		u.fault(cur, addr, "processor request observed on a transient coherence state")
		return true
	}

	next, permAvail, req, violation := cacheStep(u.cfg.Family, isLoad, cur)
	if violation {
		u.fault(cur, addr, "unsupported cache-side transition for this protocol")
		return true
	}

	u.setState(addr, core, next)
	if req != nil {
		u.bus.Request(*req, addr, core)
	}
	return !permAvail
}

// InvlReq implements cache.Coherence. A capacity eviction is purely
// local bookkeeping: it needs no snoop, since no other core's state
// depends on this core giving up its copy.
func (u *Unit) InvlReq(addr uint64, core int) bool {
	u.setState(addr, core, Invalid)
	if cb, ok := u.callbacks[core]; ok {
		cb(cache.CallbackNoAction, addr)
	}
	return true
}

func (u *Unit) fault(state State, addr uint64, reason string) {
	if u.err == nil {
		u.err = simerr.NewInvariantViolationAddr("coherence", state.String(), addr, reason)
	}
}

// OnBusReq implements interconnect.Target.
func (u *Unit) OnBusReq(reqType interconnect.ReqType, addr uint64, core int) {
	switch reqType {
	case interconnect.BusRd, interconnect.BusWr:
		u.handleRequest(reqType, addr, core)
	case interconnect.Data, interconnect.Shared:
		u.handleResponse(reqType, addr, core)
	}
}

// handleRequest dispatches a fresh BusRd/BusWr to every other core's
// snoop transition, then synthesizes a response from implicit main
// memory if nobody else could supply the data.
func (u *Unit) handleRequest(reqType interconnect.ReqType, addr uint64, requester int) {
	responded := false
	for _, peer := range u.peersWithState(addr) {
		if peer == requester {
			continue
		}
		cur := u.stateOf(addr, peer)
		if cur == Invalid {
			continue
		}
		next, emit := snoopStep(u.cfg.Family, reqType, cur)
		u.setState(addr, peer, next)
		if emit != nil {
			responded = true
			u.bus.Request(*emit, addr, requester)
		}
	}
	if !responded {
		u.bus.Request(interconnect.Data, addr, requester)
	}
}

// handleResponse resolves the requester's own transient state once a
// Data or Shared response addressed to it arrives.
func (u *Unit) handleResponse(reqType interconnect.ReqType, addr uint64, core int) {
	cur := u.stateOf(addr, core)
	if !cur.IsTransient() {
		return // no outstanding request on this address for this core
	}

	next, gotData := transientResolve(u.cfg.Family, reqType, cur)
	u.setState(addr, core, next)

	if u.cfg.Family == MESIF {
		u.rebalanceForward(addr)
	}

	if gotData {
		if cb, ok := u.callbacks[core]; ok {
			cb(cache.CallbackDataRecv, addr)
		}
	}
}

// rebalanceForward enforces this implementation's generalization of
// MESIF's single-F-owner rule: among the cores currently holding addr
// in a shared (non-exclusive) state, the lowest-numbered one holds
// Forward and every other one holds Shared.
func (u *Unit) rebalanceForward(addr uint64) {
	var candidates []int
	for core, s := range u.states[addr] {
		if isSharedLike(s) {
			candidates = append(candidates, core)
		}
	}
	if len(candidates) == 0 {
		return
	}
	sort.Ints(candidates)
	owner := candidates[0]
	for _, core := range candidates {
		want := Shared
		if core == owner {
			want = Forward
		}
		u.states[addr][core] = want
	}
}

func (u *Unit) peersWithState(addr uint64) []int {
	m := u.states[addr]
	cores := make([]int, 0, len(m))
	for core := range m {
		cores = append(cores, core)
	}
	sort.Ints(cores)
	return cores
}

// cacheStep computes a cache-initiated transition: the state and bus
// action that result from this core's own read/write request.
// Grounded directly on original_source/coherence-p5/protocol.c's
// cacheMI/cacheMSI/cacheMESI/cacheMESIF.
func cacheStep(family Family, isRead bool, state State) (next State, permAvail bool, busReq *interconnect.ReqType, violation bool) {
	busRd, busWr := interconnect.BusRd, interconnect.BusWr

	switch family {
	case MI:
		switch state {
		case Invalid:
			return InvalidModified, false, &busWr, false
		case Modified:
			return Modified, true, nil, false
		default:
			return state, false, nil, true
		}

	case MSI:
		switch state {
		case Invalid:
			if isRead {
				return InvalidShared, false, &busRd, false
			}
			return InvalidModified, false, &busWr, false
		case Shared:
			if isRead {
				return Shared, true, nil, false
			}
			return SharedModified, false, &busWr, false
		case Modified:
			return Modified, true, nil, false
		default:
			return state, false, nil, true
		}

	case MESI:
		switch state {
		case Invalid:
			if isRead {
				return InvalidRead, false, &busRd, false
			}
			return InvalidModified, false, &busWr, false
		case Shared:
			if isRead {
				return Shared, true, nil, false
			}
			return SharedModified, false, &busWr, false
		case Exclusive:
			if isRead {
				return Exclusive, true, nil, false
			}
			return Modified, true, nil, false // silent E -> M upgrade, no bus traffic
		case Modified:
			return Modified, true, nil, false
		default:
			return state, false, nil, true
		}

	case MESIF:
		switch state {
		case Invalid:
			if isRead {
				return InvalidRead, false, &busRd, false
			}
			return InvalidModified, false, &busWr, false
		case Shared:
			if isRead {
				return Shared, true, nil, false
			}
			return SharedModified, false, &busWr, false
		case Forward:
			if isRead {
				return Forward, true, nil, false
			}
			return ForwardModified, false, &busWr, false
		case Exclusive:
			if isRead {
				return Exclusive, true, nil, false
			}
			return Modified, true, nil, false
		case Modified:
			return Modified, true, nil, false
		default:
			return state, false, nil, true
		}
	}
	return state, false, nil, true
}

// snoopStep computes how a peer core holding state reacts to an
// incoming bus request from another core. It returns the peer's new
// state and, if the peer must respond, the bus transaction it emits
// back to the requester.
//
// The MSI table's S+BusRd case is a deliberate departure from
// original_source/coherence-p5/protocol.c's snoopMSI: that C switch is
// missing a break after SHARED_STATE, so a Shared line observing BusRd
// falls through into the INVALID_MODIFIED case body and is
// miscomputed. Fixed here to the conventional (and spec.md-consistent)
// "stays Shared, no response" behavior.
func snoopStep(family Family, reqType interconnect.ReqType, state State) (next State, emit *interconnect.ReqType) {
	data, shared := interconnect.Data, interconnect.Shared

	switch family {
	case MI:
		if state == Modified {
			return Invalid, &data
		}
		return state, nil

	case MSI:
		switch state {
		case Modified:
			// Either BusRd or BusWr fully invalidates the M-holder in
			// this protocol (MSI has no Exclusive/Forward state to
			// retain after giving up sole ownership).
			return Invalid, &data
		case Shared:
			if reqType == interconnect.BusWr {
				return Invalid, nil
			}
			return Shared, nil
		default:
			return state, nil
		}

	case MESI:
		switch state {
		case Modified:
			if reqType == interconnect.BusRd {
				return Shared, &shared
			}
			return Invalid, &data
		case Exclusive:
			if reqType == interconnect.BusRd {
				return Shared, &shared
			}
			return Invalid, nil
		case Shared:
			if reqType == interconnect.BusWr {
				return Invalid, nil
			}
			return Shared, nil
		default:
			return state, nil
		}

	case MESIF:
		switch state {
		case Modified:
			if reqType == interconnect.BusRd {
				return Shared, &shared
			}
			return Invalid, &data
		case Exclusive:
			if reqType == interconnect.BusRd {
				return Shared, &shared
			}
			return Invalid, nil
		case Forward:
			if reqType == interconnect.BusRd {
				return Shared, &shared
			}
			return Invalid, nil
		case Shared:
			if reqType == interconnect.BusWr {
				return Invalid, nil
			}
			return Shared, nil
		default:
			return state, nil
		}
	}
	return state, nil
}

// transientResolve computes how a core's own transient state resolves
// once a Data or Shared response addressed to it arrives. Returns
// whether this counts as a data_recv callback to the cache.
func transientResolve(family Family, reqType interconnect.ReqType, state State) (next State, gotData bool) {
	switch family {
	case MI:
		if state == InvalidModified {
			return Modified, true
		}
		return state, false

	case MSI:
		switch state {
		case InvalidModified, SharedModified:
			return Modified, true
		case InvalidShared:
			return Shared, true
		default:
			return state, false
		}

	case MESI:
		switch state {
		case InvalidModified, SharedModified:
			return Modified, true
		case InvalidRead:
			if reqType == interconnect.Data {
				return Exclusive, true
			}
			return Shared, true
		default:
			return state, false
		}

	case MESIF:
		switch state {
		case InvalidModified, SharedModified, ForwardModified:
			return Modified, true
		case InvalidRead:
			if reqType == interconnect.Data {
				return Exclusive, true
			}
			return Forward, true // a Shared-tagged response hands Forward to the new reader
		default:
			return state, false
		}
	}
	return state, false
}
