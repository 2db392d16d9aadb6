package pq

import "github.com/hexwheel/tickwheel/internal/pool"

// Key is a non-negative integer index into the priority queue's window
// (spec §3 "Key"). It is always within [0, PQ.MaxRepresentableKey()].
type Key = uint64

// element is the pooled record for one (key, payload) pair (spec §3
// "Element"). prev/next are intrusive circular-list pointers into the same
// pool, scoped to whichever level/slot currently owns the element; they are
// pool.NoIndex when the element is not linked into any slot (never true for
// a live, inserted element — every live element belongs to exactly one
// slot, per the element membership invariant).
type element struct {
	key        uint64
	at         int64 // original timestamp; only meaningful to the timingwheel layer
	value      any
	levelIndex int8
	prev, next pool.RawIndex
}
