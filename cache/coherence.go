package cache

// CacheCallbackKind enumerates the notifications a Coherence unit sends
// back to a registered cache. See spec.md §4.3.
type CacheCallbackKind int

const (
	// CallbackNoAction completes an invalidation request without bus
	// traffic.
	CallbackNoAction CacheCallbackKind = iota
	// CallbackDataRecv completes a permission request: the line's data
	// (and the requested permission) is now available.
	CallbackDataRecv
	// CallbackInvalidate asks the cache to drop a line a peer is about
	// to write. Reserved for a future snoop-driven directory; the
	// current controller does not yet act on it.
	CallbackInvalidate
)

// Coherence is the cache's external collaborator: the bus-based
// coherence protocol unit. A cache never inspects or stores coherence
// state itself; it only asks for permission and waits for a callback.
type Coherence interface {
	// PermReq asks for read (isLoad) or write (!isLoad) permission on
	// addr for core. It returns true if the request must wait for a
	// CallbackDataRecv, or false if permission was already held and no
	// bus traffic was needed.
	PermReq(isLoad bool, addr uint64, core int) bool
	// InvlReq asks to invalidate addr (to make room for an incoming
	// line) for core. It always returns true: invalidation requests
	// always wait for a callback in this model.
	InvlReq(addr uint64, core int) bool
	// RegisterCacheCallback records the function the coherence unit
	// calls back on for the given core.
	RegisterCacheCallback(core int, cb func(kind CacheCallbackKind, addr uint64))
}
