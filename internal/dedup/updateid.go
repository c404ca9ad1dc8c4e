// Package dedup implements the two per-symbol dedup gates described in the
// engine design: a monotonic sequence gate for venues that provide
// update_ids, and an identifier-hash gate for venues that only provide
// opaque (often UUID) trade ids. Both are single-threaded — owned
// exclusively by the dedup worker that calls them — so neither needs
// internal locking.
package dedup

// UpdateIDGate accepts a per-symbol update_id iff it is strictly greater
// than the last accepted one. Initial state is 0, so any positive id is
// accepted on first sight.
type UpdateIDGate struct {
	last map[string]uint64
}

// NewUpdateIDGate returns an empty sequence gate.
func NewUpdateIDGate() *UpdateIDGate {
	return &UpdateIDGate{last: make(map[string]uint64)}
}

// Accept reports whether updateID is newer than the last accepted value
// for symbol, and if so records it as the new high-water mark.
func (g *UpdateIDGate) Accept(symbol string, updateID uint64) bool {
	if updateID > g.last[symbol] {
		g.last[symbol] = updateID
		return true
	}
	return false
}

// Last returns the last accepted update_id for symbol (0 if none yet).
func (g *UpdateIDGate) Last(symbol string) uint64 {
	return g.last[symbol]
}
