package dedup

import "github.com/cespare/xxhash/v2"

// IDHashCapacity bounds the number of recent identifier hashes a gate
// remembers per symbol before evicting the oldest.
const IDHashCapacity = 16384

// lruNode is an intrusive doubly-linked list node backing the per-symbol
// hash set's eviction order.
type lruNode struct {
	hash       uint64
	prev, next *lruNode
}

// idHashSet is a bounded, LRU-evicting set of 64-bit hashes for one symbol.
type idHashSet struct {
	capacity   int
	index      map[uint64]*lruNode
	head, tail *lruNode // head = most recent, tail = oldest
}

func newIDHashSet(capacity int) *idHashSet {
	return &idHashSet{capacity: capacity, index: make(map[uint64]*lruNode, capacity)}
}

func (s *idHashSet) insertFront(n *lruNode) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *idHashSet) evictOldest() {
	if s.tail == nil {
		return
	}
	delete(s.index, s.tail.hash)
	prev := s.tail.prev
	if prev != nil {
		prev.next = nil
	} else {
		s.head = nil
	}
	s.tail = prev
}

// accept reports whether hash is new, inserting it (evicting the least
// recently seen entry first if at capacity). A repeat sighting of a hash
// already in the set moves it to the front.
func (s *idHashSet) accept(hash uint64) bool {
	if n, present := s.index[hash]; present {
		if n != s.head {
			n.prev.next = n.next
			if n.next != nil {
				n.next.prev = n.prev
			} else {
				s.tail = n.prev
			}
			s.insertFront(n)
		}
		return false
	}
	if len(s.index) >= s.capacity {
		s.evictOldest()
	}
	n := &lruNode{hash: hash}
	s.insertFront(n)
	s.index[hash] = n
	return true
}

// IDHashGate gates on a non-cryptographic 64-bit hash of an opaque
// identifier (e.g. a venue's UUID trade id), bounded per symbol with LRU
// eviction so long-running symbols don't grow state without limit.
type IDHashGate struct {
	capacity int
	sets     map[string]*idHashSet
}

// NewIDHashGate returns an empty identifier-hash gate with the default
// per-symbol capacity.
func NewIDHashGate() *IDHashGate {
	return &IDHashGate{capacity: IDHashCapacity, sets: make(map[string]*idHashSet)}
}

// Accept hashes idBytes with xxhash and reports whether it has not been
// seen recently for symbol, recording it if so.
func (g *IDHashGate) Accept(symbol string, idBytes []byte) bool {
	return g.AcceptHash(symbol, xxhash.Sum64(idBytes))
}

// AcceptHash gates on an already-computed hash, for callers (like the
// pipeline worker) whose records already carry the hash in TradeID,
// computed once by the adaptor with Hash64.
func (g *IDHashGate) AcceptHash(symbol string, hash uint64) bool {
	set, ok := g.sets[symbol]
	if !ok {
		set = newIDHashSet(g.capacity)
		g.sets[symbol] = set
	}
	return set.accept(hash)
}

// Hash64 computes the gate's hash function for an identifier, exposed so
// adaptors can populate TradeRecord.TradeID consistently with what the
// gate will check.
func Hash64(idBytes []byte) uint64 {
	return xxhash.Sum64(idBytes)
}
