// Package pq implements the bucketed multi-level priority queue underlying
// the timing wheel: O(1) insertion/removal/change-key and O(delta) bulk
// floor-raising over non-negative integer keys, via a lazy multi-level radix
// sort (spec.md §1–§2, "PQ").
//
// The element pool and handle discipline are provided by internal/pool; this
// package owns only the level/slot bookkeeping and the five core operations
// (Add, Remove, ChangeKey, MinElt, IncreaseMinAllowedKey) plus Iter/Clear.
//
// © 2025 tickwheel authors. MIT License.
package pq

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hexwheel/tickwheel/internal/diag"
	"github.com/hexwheel/tickwheel/internal/pool"
)

// PQ is a bucketed priority queue over non-negative integer keys bounded
// above by MaxRepresentableKey (spec §2 "PQ").
type PQ struct {
	pool             *pool.Pool[element]
	levels           []level
	length           int
	minElt           pool.Handle
	eltKeyLowerBound uint64
	maxRepresentable uint64
	diag             *diag.Diag
}

// New constructs an empty PQ whose levels are sized by levelBits (ordered
// lowest level first), each entry a positive bit-width and the total sum at
// most 61 (spec §3 "LevelBits"). d may be nil (a no-op diagnostics sink is
// used).
func New(levelBits []int, d *diag.Diag) (*PQ, error) {
	if len(levelBits) == 0 {
		return nil, ErrInvalidLevelBits
	}
	sum := 0
	for _, b := range levelBits {
		if b <= 0 {
			return nil, ErrInvalidLevelBits
		}
		sum += b
	}
	if sum > 61 {
		return nil, ErrInvalidLevelBits
	}
	if d == nil {
		d = diag.New(nil)
	}

	levels := make([]level, len(levelBits))
	var bitsPerSlot uint8
	for i, b := range levelBits {
		levels[i] = newLevel(uint8(b), bitsPerSlot, 0)
		bitsPerSlot += uint8(b)
	}

	return &PQ{
		pool:             pool.New[element](0),
		levels:           levels,
		minElt:           pool.NullHandle,
		eltKeyLowerBound: 0,
		maxRepresentable: uint64(1)<<uint(sum) - 1,
		diag:             d,
	}, nil
}

// Len returns the number of live elements.
func (p *PQ) Len() int { return p.length }

// MaxRepresentableKey returns the highest key this PQ can ever hold, derived
// from the sum of level bit-widths (spec §3 "Key").
func (p *PQ) MaxRepresentableKey() uint64 { return p.maxRepresentable }

// MinAllowedKey returns the current global floor, i.e. level 0's
// min_allowed_key.
func (p *PQ) MinAllowedKey() uint64 { return p.levels[0].minAllowedKey }

// MaxAllowedKey returns the current global ceiling, clamped to
// MaxRepresentableKey. Internally a level's max_allowed_key may transiently
// overshoot MaxRepresentableKey after a large IncreaseMinAllowedKey call;
// this accessor is where that overshoot is clamped for external callers
// (spec §9, "overshoot then clamp" open question — see SPEC_FULL.md §9.1).
func (p *PQ) MaxAllowedKey() uint64 {
	m := p.levels[len(p.levels)-1].maxAllowedKey
	if m > p.maxRepresentable {
		return p.maxRepresentable
	}
	return m
}

// NumLevels returns the number of configured levels.
func (p *PQ) NumLevels() int { return len(p.levels) }

// PoolLen and PoolCap expose pool occupancy/capacity for metrics.
func (p *PQ) PoolLen() int { return p.pool.Len() }
func (p *PQ) PoolCap() int { return p.pool.Cap() }

// LevelLen returns the element count currently held at level i.
func (p *PQ) LevelLen(i int) int { return p.levels[i].length }

// Peek returns the key/timestamp/value stored under h, without affecting
// caching or mutating the queue. Returns false if h is not a live handle.
func (p *PQ) Peek(h pool.Handle) (key Key, at int64, value any, ok bool) {
	e, err := p.pool.Resolve(h)
	if err != nil {
		return 0, 0, nil, false
	}
	return e.key, e.at, e.value, true
}

// levelFor returns the index of the lowest level whose max_allowed_key is at
// least key (spec §4.3 step 1). Callers must have already bounds-checked key
// against the global window; if no level qualifies (which bounds-checking
// should make impossible) this is an invariant violation.
func (p *PQ) levelFor(key uint64) int {
	for i := range p.levels {
		if key <= p.levels[i].maxAllowedKey {
			return i
		}
	}
	p.diag.Bug("pq: no level covers key", zap.Uint64("key", key))
	return -1
}

// appendToSlot links raw index idx at the tail of lv's slot s's circular
// list (spec §4.2 "Slot list"), grounded on clockpro.Clock.append but over
// pool.RawIndex rather than *metaNode.
func (p *PQ) appendToSlot(lv *level, s uint64, idx pool.RawIndex) {
	e := p.pool.At(idx)
	head := lv.slots[s]
	if head == pool.NoIndex {
		e.prev, e.next = idx, idx
		lv.slots[s] = idx
		return
	}
	tailIdx := p.pool.At(head).prev
	p.pool.At(tailIdx).next = idx
	e.prev = tailIdx
	e.next = head
	p.pool.At(head).prev = idx
}

// unlinkFromSlot removes idx (a current member) from lv's slot s's circular
// list, grounded on clockpro.Clock.remove.
func (p *PQ) unlinkFromSlot(lv *level, s uint64, idx pool.RawIndex) {
	e := p.pool.At(idx)
	if e.next == idx {
		lv.slots[s] = pool.NoIndex
	} else {
		p.pool.At(e.prev).next = e.next
		p.pool.At(e.next).prev = e.prev
		if lv.slots[s] == idx {
			lv.slots[s] = e.next
		}
	}
	e.prev, e.next = pool.NoIndex, pool.NoIndex
}

// reinsertExisting places an already-pooled element (idx) into whichever
// level/slot currently covers key, updating the element's stored key and
// level index and the destination level's bookkeeping. Used both by Add
// (for a freshly allocated element) and by ChangeKey/IncreaseMinAllowedKey
// (for an element being relocated) — "refiling going through the normal add
// path" per spec §4.6's correctness note.
func (p *PQ) reinsertExisting(idx pool.RawIndex, key uint64) {
	i := p.levelFor(key)
	lv := &p.levels[i]
	if key < lv.minAllowedKey {
		p.diag.Bug("pq: inter-level gap on insert",
			zap.Uint64("key", key), zap.Int("level", i))
	}
	e := p.pool.At(idx)
	e.key = key
	e.levelIndex = int8(i)
	s := lv.slotOf(key)
	p.appendToSlot(lv, s, idx)
	lv.length++
	p.length++
}

// SetAt updates the opaque timestamp stored alongside a live element,
// without touching its key, level, or slot placement. The timing-wheel
// layer uses this for Reschedule/RescheduleAtIntervalNum, where the element
// is relocated via ChangeKey and the caller-visible `at` is tracked
// separately from the key used for bucketing.
func (p *PQ) SetAt(h pool.Handle, at int64) error {
	e, err := p.pool.Resolve(h)
	if err != nil {
		return err
	}
	e.at = at
	return nil
}

// Add inserts value under key (spec §4.3). at is the caller's original
// timestamp, opaque to PQ itself; the timingwheel layer uses it, plain PQ
// callers may pass 0. Returns ErrKeyOutOfBounds if key falls outside the
// current global window.
func (p *PQ) Add(key Key, at int64, value any) (pool.Handle, error) {
	first := &p.levels[0]
	last := &p.levels[len(p.levels)-1]
	if key < first.minAllowedKey || key > last.maxAllowedKey {
		return pool.NullHandle, ErrKeyOutOfBounds
	}

	wasEmpty := p.length == 0
	h := p.pool.New(element{prev: pool.NoIndex, next: pool.NoIndex, at: at, value: value})
	idx := h.RawIndexOf()
	p.reinsertExisting(idx, key)

	if wasEmpty {
		p.minElt = h
		p.eltKeyLowerBound = key
	} else if key < p.eltKeyLowerBound {
		p.eltKeyLowerBound = key
		p.minElt = h
	}
	return h, nil
}

// Remove validates h and unlinks/frees the referenced element (spec §4.4).
func (p *PQ) Remove(h pool.Handle) error {
	e, err := p.pool.Resolve(h)
	if err != nil {
		return err
	}
	idx := h.RawIndexOf()
	lv := &p.levels[e.levelIndex]
	s := lv.slotOf(e.key)
	p.unlinkFromSlot(lv, s, idx)
	lv.length--
	p.length--
	if p.minElt == h {
		p.minElt = pool.NullHandle
	}
	p.pool.Free(h)
	return nil
}

// ChangeKey validates h, bounds-checks newKey, and relocates the element,
// preserving its handle (spec §4.4). Equivalent to Remove+Add except the
// handle stays valid.
func (p *PQ) ChangeKey(h pool.Handle, newKey Key) error {
	e, err := p.pool.Resolve(h)
	if err != nil {
		return err
	}
	first := &p.levels[0]
	last := &p.levels[len(p.levels)-1]
	if newKey < first.minAllowedKey || newKey > last.maxAllowedKey {
		return ErrKeyOutOfBounds
	}

	idx := h.RawIndexOf()
	oldLv := &p.levels[e.levelIndex]
	oldSlot := oldLv.slotOf(e.key)
	p.unlinkFromSlot(oldLv, oldSlot, idx)
	oldLv.length--
	p.length--

	wasMin := p.minElt == h
	p.reinsertExisting(idx, newKey)

	if newKey < p.eltKeyLowerBound {
		p.eltKeyLowerBound = newKey
		p.minElt = h
	} else if wasMin && newKey > p.eltKeyLowerBound {
		p.minElt = pool.NullHandle
	}
	return nil
}

// MinElt returns a handle to an element with the minimum key, or false if
// the queue is empty (spec §4.5). Worst case linear in slot count; the
// cached fast path makes the typical case O(1).
func (p *PQ) MinElt() (pool.Handle, bool) {
	if p.length == 0 {
		return pool.NullHandle, false
	}
	if p.minElt != pool.NullHandle {
		return p.minElt, true
	}

	var bestHandle pool.Handle
	var bestKey uint64
	haveBest := false

	for i := range p.levels {
		lv := &p.levels[i]
		if haveBest && lv.minAllowedKey >= bestKey {
			break
		}
		if lv.length == 0 {
			continue
		}

		floorStart := lv.minAllowedKey
		if p.eltKeyLowerBound > floorStart {
			floorStart = p.eltKeyLowerBound
		}
		floor := lv.minKeyInSameSlot(floorStart)
		s := lv.slotOf(floor)
		numSlots := lv.numSlots()
		found := false

		for n := uint64(0); n < numSlots; n++ {
			if haveBest && floor >= bestKey {
				break
			}
			head := lv.slots[s]
			if head != pool.NoIndex {
				if lv.bitsPerSlot == 0 {
					k := p.pool.At(head).key
					if !haveBest || k < bestKey {
						bestKey, bestHandle, haveBest = k, p.pool.HandleAt(head), true
					}
				} else {
					cur := head
					for {
						k := p.pool.At(cur).key
						if !haveBest || k < bestKey {
							bestKey, bestHandle, haveBest = k, p.pool.HandleAt(cur), true
						}
						cur = p.pool.At(cur).next
						if cur == head {
							break
						}
					}
				}
				found = true
				break
			}
			s = lv.nextSlot(s)
			floor += lv.keysPerSlot
		}
		if !found && lv.length > 0 && !haveBest {
			p.diag.Bug("pq: level reports elements but scan found none",
				zap.Int("level", i))
		}
	}

	if !haveBest {
		p.diag.Bug("pq: min scan found nothing despite non-zero length")
	}
	p.minElt = bestHandle
	p.eltKeyLowerBound = bestKey
	return bestHandle, true
}

// MinKey is a convenience wrapper around MinElt returning just the key.
func (p *PQ) MinKey() (Key, bool) {
	h, ok := p.MinElt()
	if !ok {
		return 0, false
	}
	e, _ := p.pool.Resolve(h)
	return e.key, true
}

// IncreaseMinAllowedKey raises the global floor to K, evicting every element
// whose key is below K (reported via onEvicted, in ascending-slot/
// insertion order) and refiling every survivor into the level now able to
// hold it (spec §4.6 — "the heart"). A no-op if K <= the current floor.
func (p *PQ) IncreaseMinAllowedKey(K Key, onEvicted func(pool.Handle)) error {
	if K > p.maxRepresentable {
		return ErrKeyTooLarge
	}
	if K <= p.levels[0].minAllowedKey {
		return nil
	}

	maxFloorSoFar := K
	for i := range p.levels {
		lv := &p.levels[i]
		oldMin := lv.minAllowedKey

		candidate := maxFloorSoFar &^ (lv.keysPerSlot - 1)
		if candidate < oldMin {
			candidate = oldMin
		}

		numSlots := lv.numSlots()
		slotIdx := lv.slotOf(oldMin)
		floor := oldMin
		var visited uint64

		for floor < candidate {
			if lv.length == 0 {
				break // fast path: nothing left to scan at this level
			}
			if visited >= numSlots {
				if lv.length != 0 {
					p.diag.Bug("pq: level not drained after a full slot cycle",
						zap.Int("level", i))
				}
				break
			}

			head := lv.slots[slotIdx]
			if head != pool.NoIndex {
				lv.slots[slotIdx] = pool.NoIndex
				cur := head
				for {
					next := p.pool.At(cur).next
					e := p.pool.At(cur)
					key := e.key
					e.prev, e.next = pool.NoIndex, pool.NoIndex
					lv.length--

					if key < K {
						p.length--
						h := p.pool.HandleAt(cur)
						if onEvicted != nil {
							onEvicted(h)
						}
						p.pool.Free(h)
					} else {
						p.length-- // reinsertExisting counts it again
						p.reinsertExisting(cur, key)
					}

					if next == head {
						break
					}
					cur = next
				}
			}

			slotIdx = lv.nextSlot(slotIdx)
			floor += lv.keysPerSlot
			visited++
		}

		lv.minAllowedKey = candidate
		lv.maxAllowedKey = candidate + lv.numAllowedKeys - 1

		if candidate == oldMin {
			break // no higher level needs updating
		}
		maxFloorSoFar = lv.maxAllowedKey + 1
	}

	if K > p.eltKeyLowerBound {
		p.minElt = pool.NullHandle
		p.eltKeyLowerBound = K
	}
	return nil
}

// RemoveFromLevelZeroWhere scans level 0's slot holding key — level 0 always
// has keys_per_slot = 1, so that slot holds only elements whose key equals
// key exactly — and removes every element for which pred(at, value) returns
// true, invoking onRemoved with its handle/at/value just before freeing it.
// Used by the timing-wheel layer's fire_past_alarms (spec §4.12), which
// reclaims alarms in the current interval that are already due by wall-clock
// time without advancing the clock.
func (p *PQ) RemoveFromLevelZeroWhere(key Key, pred func(at int64, value any) bool, onRemoved func(h pool.Handle, at int64, value any)) {
	lv := &p.levels[0]
	s := lv.slotOf(key)
	head := lv.slots[s]
	if head == pool.NoIndex {
		return
	}

	// Snapshot membership before mutating: removal reshapes the circular
	// list out from under a live traversal.
	members := []pool.RawIndex{head}
	for cur := p.pool.At(head).next; cur != head; cur = p.pool.At(cur).next {
		members = append(members, cur)
	}

	for _, idx := range members {
		e := p.pool.At(idx)
		if !pred(e.at, e.value) {
			continue
		}
		h := p.pool.HandleAt(idx)
		at, val := e.at, e.value
		p.unlinkFromSlot(lv, s, idx)
		lv.length--
		p.length--
		if p.minElt == h {
			p.minElt = pool.NullHandle
		}
		if onRemoved != nil {
			onRemoved(h, at, val)
		}
		p.pool.Free(h)
	}
}

// MaxAtForKey returns the largest `at` among live elements whose key equals
// key exactly, scanning, at each level whose window covers key, only the
// slot key maps to — never the whole queue (spec §4.14,
// "max_alarm_time_in_min_interval" is defined strictly over the
// minimum-keyed slot). Returns false if no live element currently carries
// this key.
func (p *PQ) MaxAtForKey(key Key) (int64, bool) {
	found := false
	var best int64
	for i := range p.levels {
		lv := &p.levels[i]
		if key < lv.minAllowedKey || key > lv.maxAllowedKey {
			continue
		}
		head := lv.slots[lv.slotOf(key)]
		if head == pool.NoIndex {
			continue
		}
		cur := head
		for {
			e := p.pool.At(cur)
			if e.key == key && (!found || e.at > best) {
				best = e.at
				found = true
			}
			cur = e.next
			if cur == head {
				break
			}
		}
	}
	return best, found
}

// Iter visits every live element exactly once, in unspecified order. f must
// not mutate the queue (spec §4.7).
func (p *PQ) Iter(f func(h pool.Handle, key Key, at int64, value any)) {
	for i := range p.levels {
		lv := &p.levels[i]
		if lv.length == 0 {
			continue
		}
		for _, head := range lv.slots {
			if head == pool.NoIndex {
				continue
			}
			cur := head
			for {
				e := p.pool.At(cur)
				f(p.pool.HandleAt(cur), e.key, e.at, e.value)
				cur = e.next
				if cur == head {
					break
				}
			}
		}
	}
}

// Clear frees every element and resets all per-level slot heads/lengths and
// the min-cache, while preserving each level's min_allowed_key/
// max_allowed_key (spec §4.7).
func (p *PQ) Clear() {
	for i := range p.levels {
		lv := &p.levels[i]
		for s, head := range lv.slots {
			if head == pool.NoIndex {
				continue
			}
			cur := head
			for {
				next := p.pool.At(cur).next
				p.pool.Free(p.pool.HandleAt(cur))
				if next == head {
					break
				}
				cur = next
			}
			lv.slots[s] = pool.NoIndex
		}
		lv.length = 0
	}
	p.length = 0
	p.minElt = pool.NullHandle
	p.eltKeyLowerBound = p.levels[0].minAllowedKey
}

// CheckInvariants walks every level and slot and verifies the universally
// quantified invariants from spec §8 (level-slot membership, inter-level
// window abutment, per-level alignment, length accounting, and the min
// cache's consistency with elt_key_lower_bound). It is O(n) and intended for
// tests and optional debug assertions, not the hot path.
func (p *PQ) CheckInvariants() error {
	total := 0
	for i := range p.levels {
		lv := &p.levels[i]
		if lv.minAllowedKey%lv.keysPerSlot != 0 {
			return fmt.Errorf("level %d: min_allowed_key %d not aligned to keys_per_slot %d",
				i, lv.minAllowedKey, lv.keysPerSlot)
		}
		if i+1 < len(p.levels) {
			next := &p.levels[i+1]
			if next.minAllowedKey > lv.maxAllowedKey+1 {
				return fmt.Errorf("levels %d/%d: gap between max_allowed_key %d and next min_allowed_key %d",
					i, i+1, lv.maxAllowedKey, next.minAllowedKey)
			}
		}

		cnt := 0
		for s, head := range lv.slots {
			if head == pool.NoIndex {
				continue
			}
			cur := head
			for {
				e := p.pool.At(cur)
				if lv.slotOf(e.key) != uint64(s) {
					return fmt.Errorf("level %d slot %d: element key %d maps to slot %d",
						i, s, e.key, lv.slotOf(e.key))
				}
				if e.key < lv.minAllowedKey || e.key > lv.maxAllowedKey {
					return fmt.Errorf("level %d: element key %d outside [%d,%d]",
						i, e.key, lv.minAllowedKey, lv.maxAllowedKey)
				}
				if int(e.levelIndex) != i {
					return fmt.Errorf("level %d: element stores levelIndex %d", i, e.levelIndex)
				}
				cnt++
				cur = e.next
				if cur == head {
					break
				}
			}
		}
		if cnt != lv.length {
			return fmt.Errorf("level %d: tracked length %d, counted %d", i, lv.length, cnt)
		}
		total += cnt
	}
	if total != p.length {
		return fmt.Errorf("pq: tracked length %d, counted %d", p.length, total)
	}
	if p.minElt != pool.NullHandle {
		e, err := p.pool.Resolve(p.minElt)
		if err != nil {
			return fmt.Errorf("min_elt handle invalid: %w", err)
		}
		if e.key != p.eltKeyLowerBound {
			return fmt.Errorf("min_elt key %d != elt_key_lower_bound %d", e.key, p.eltKeyLowerBound)
		}
		for h, k := range p.iterSeq() {
			if k < p.eltKeyLowerBound {
				return fmt.Errorf("element (handle %v) key %d below elt_key_lower_bound %d", h, k, p.eltKeyLowerBound)
			}
		}
	}
	return nil
}

// iterSeq is a small internal helper so CheckInvariants can range over
// elements without allocating a slice; Go's range-over-func requires the
// 1.23+ iterator shape, matching the teacher's go.mod toolchain version.
func (p *PQ) iterSeq() func(yield func(pool.Handle, Key) bool) {
	return func(yield func(pool.Handle, Key) bool) {
		for i := range p.levels {
			lv := &p.levels[i]
			for _, head := range lv.slots {
				if head == pool.NoIndex {
					continue
				}
				cur := head
				for {
					e := p.pool.At(cur)
					if !yield(p.pool.HandleAt(cur), e.key) {
						return
					}
					cur = e.next
					if cur == head {
						break
					}
				}
			}
		}
	}
}
