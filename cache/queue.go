package cache

// PendingKind selects which coherence call a PendingRequest resolves
// through: a permission request precedes the data being usable, an
// invalidation request precedes the line being evicted to make room.
type PendingKind int

const (
	PendingPerm PendingKind = iota
	PendingInvl
)

// Result classifies a classify() outcome. NA is part of the data model
// (spec.md §3) for a secondary line-crossing access that the original
// short-circuit would have skipped; this implementation always performs
// a full classify() on both halves of a split access, so NA is never
// produced here, only carried for data-model completeness.
type Result int

const (
	ResultHit Result = iota
	ResultMiss
	ResultMissEvict
	ResultNA
)

// PendingRequest is one coherence step within a MemRequest: either "get
// permission for addr" or "invalidate addr to make room".
type PendingRequest struct {
	Addr    uint64
	IsLoad  bool
	Kind    PendingKind
	Result  Result
	Started bool
}

// MemRequest is one call from the processor: one permission node per
// block touched (two blocks when the access splits across a line
// boundary), the first preceded by an invalidation node when its
// classification was a miss-evict, so one to three PendingRequest
// nodes in all, resolved in FIFO order before the processor's callback
// fires.
type MemRequest struct {
	Core     int
	Tag      int64
	Pending  []*PendingRequest
	Callback func(core int, tag int64)
}

func (m *MemRequest) headPending() *PendingRequest {
	if len(m.Pending) == 0 {
		return nil
	}
	return m.Pending[0]
}

func (m *MemRequest) popPending() {
	if len(m.Pending) > 0 {
		m.Pending = m.Pending[1:]
	}
}
