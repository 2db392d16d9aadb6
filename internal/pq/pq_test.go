package pq

import (
	"testing"

	"github.com/hexwheel/tickwheel/internal/pool"
)

func newTestPQ(t *testing.T, bits ...int) *PQ {
	t.Helper()
	p, err := New(bits, nil)
	if err != nil {
		t.Fatalf("New(%v): %v", bits, err)
	}
	return p
}

func TestNewRejectsBadLevelBits(t *testing.T) {
	cases := [][]int{nil, {}, {0, 4}, {-1}, {31, 31}}
	for _, c := range cases {
		if _, err := New(c, nil); err == nil {
			t.Errorf("New(%v): expected error, got nil", c)
		}
	}
}

func TestAddRemoveBasic(t *testing.T) {
	p := newTestPQ(t, 4, 4, 4)
	h, err := p.Add(10, 0, "a")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d, want 1", p.Len())
	}
	key, _, val, ok := p.Peek(h)
	if !ok || key != 10 || val != "a" {
		t.Fatalf("Peek = (%d,%v,%v), want (10,_,a)", key, ok, val)
	}
	if err := p.Remove(h); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if p.Len() != 0 {
		t.Fatalf("Len after remove = %d, want 0", p.Len())
	}
	if _, _, _, ok := p.Peek(h); ok {
		t.Fatalf("Peek after remove: still ok")
	}
}

func TestAddOutOfBounds(t *testing.T) {
	p := newTestPQ(t, 4, 4)
	max := p.MaxRepresentableKey()
	if _, err := p.Add(max+1, 0, nil); err != ErrKeyOutOfBounds {
		t.Fatalf("Add(max+1) = %v, want ErrKeyOutOfBounds", err)
	}
}

func TestMinEltTracksSmallest(t *testing.T) {
	p := newTestPQ(t, 4, 4, 4)
	keys := []Key{50, 3, 99, 7, 1}
	handles := make(map[Key]pool.Handle)
	for _, k := range keys {
		h, err := p.Add(k, 0, nil)
		if err != nil {
			t.Fatalf("Add(%d): %v", k, err)
		}
		handles[k] = h
	}
	h, ok := p.MinElt()
	if !ok {
		t.Fatalf("MinElt: empty")
	}
	k, _, _, _ := p.Peek(h)
	if k != 1 {
		t.Fatalf("MinElt key = %d, want 1", k)
	}

	if err := p.Remove(handles[1]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	k2, ok := p.MinKey()
	if !ok || k2 != 3 {
		t.Fatalf("MinKey after removing min = %d, want 3", k2)
	}
}

func TestChangeKeyPreservesHandle(t *testing.T) {
	p := newTestPQ(t, 4, 4, 4)
	h, err := p.Add(5, 0, "x")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := p.Add(1000, 0, "y"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.ChangeKey(h, 0); err != nil {
		t.Fatalf("ChangeKey: %v", err)
	}
	key, _, val, ok := p.Peek(h)
	if !ok || key != 0 || val != "x" {
		t.Fatalf("Peek after ChangeKey = (%d,%v,%v)", key, ok, val)
	}
	mh, ok := p.MinElt()
	if !ok || mh != h {
		t.Fatalf("MinElt after ChangeKey to new minimum did not follow handle")
	}
}

func TestChangeKeyOutOfBoundsLeavesElementInPlace(t *testing.T) {
	p := newTestPQ(t, 4, 4)
	h, err := p.Add(3, 0, "x")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	max := p.MaxRepresentableKey()
	if err := p.ChangeKey(h, max+1); err != ErrKeyOutOfBounds {
		t.Fatalf("ChangeKey(max+1) = %v, want ErrKeyOutOfBounds", err)
	}
	key, _, _, ok := p.Peek(h)
	if !ok || key != 3 {
		t.Fatalf("element moved despite rejected ChangeKey: key=%d ok=%v", key, ok)
	}
}

func TestIncreaseMinAllowedKeyEvictsBelowFloor(t *testing.T) {
	p := newTestPQ(t, 4, 4, 4)
	for _, k := range []Key{0, 1, 2, 100, 200, 4000} {
		if _, err := p.Add(k, 0, k); err != nil {
			t.Fatalf("Add(%d): %v", k, err)
		}
	}
	var evicted []pool.Handle
	if err := p.IncreaseMinAllowedKey(101, func(h pool.Handle) {
		evicted = append(evicted, h)
	}); err != nil {
		t.Fatalf("IncreaseMinAllowedKey: %v", err)
	}
	if len(evicted) != 4 {
		t.Fatalf("evicted %d elements, want 4 (0,1,2,100)", len(evicted))
	}
	if p.Len() != 2 {
		t.Fatalf("Len after raise = %d, want 2", p.Len())
	}
	if p.MinAllowedKey() < 101 {
		t.Fatalf("MinAllowedKey = %d, want >= 101", p.MinAllowedKey())
	}
	if err := p.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

func TestIncreaseMinAllowedKeyNoOpWhenNotHigher(t *testing.T) {
	p := newTestPQ(t, 4, 4)
	if _, err := p.Add(10, 0, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before := p.MinAllowedKey()
	if err := p.IncreaseMinAllowedKey(before, nil); err != nil {
		t.Fatalf("IncreaseMinAllowedKey: %v", err)
	}
	if p.MinAllowedKey() != before || p.Len() != 1 {
		t.Fatalf("no-op raise changed state: min=%d len=%d", p.MinAllowedKey(), p.Len())
	}
}

func TestIncreaseMinAllowedKeyRejectsTooLarge(t *testing.T) {
	p := newTestPQ(t, 4, 4)
	max := p.MaxRepresentableKey()
	if err := p.IncreaseMinAllowedKey(max+1, nil); err != ErrKeyTooLarge {
		t.Fatalf("IncreaseMinAllowedKey(max+1) = %v, want ErrKeyTooLarge", err)
	}
}

func TestIterVisitsEveryLiveElementOnce(t *testing.T) {
	p := newTestPQ(t, 4, 4, 4)
	want := map[Key]bool{1: true, 50: true, 4000: true}
	for k := range want {
		if _, err := p.Add(k, 0, nil); err != nil {
			t.Fatalf("Add(%d): %v", k, err)
		}
	}
	seen := map[Key]bool{}
	p.Iter(func(h pool.Handle, key Key, at int64, value any) {
		seen[key] = true
	})
	if len(seen) != len(want) {
		t.Fatalf("Iter saw %d elements, want %d", len(seen), len(want))
	}
	for k := range want {
		if !seen[k] {
			t.Errorf("Iter missed key %d", k)
		}
	}
}

func TestClearResetsButKeepsWindow(t *testing.T) {
	p := newTestPQ(t, 4, 4, 4)
	for _, k := range []Key{1, 2, 3} {
		if _, err := p.Add(k, 0, nil); err != nil {
			t.Fatalf("Add(%d): %v", k, err)
		}
	}
	minBefore, maxBefore := p.MinAllowedKey(), p.MaxAllowedKey()
	p.Clear()
	if p.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", p.Len())
	}
	if _, ok := p.MinElt(); ok {
		t.Fatalf("MinElt after Clear: still has an element")
	}
	if p.MinAllowedKey() != minBefore || p.MaxAllowedKey() != maxBefore {
		t.Fatalf("Clear changed window: min=%d max=%d, want min=%d max=%d",
			p.MinAllowedKey(), p.MaxAllowedKey(), minBefore, maxBefore)
	}
	if err := p.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants after Clear: %v", err)
	}
}

func TestCheckInvariantsOnRandomizedSequence(t *testing.T) {
	p := newTestPQ(t, 3, 3, 3, 3)
	live := map[pool.Handle]Key{}
	var floor Key
	seed := uint64(12345)
	next := func() uint64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return seed >> 33
	}

	for i := 0; i < 500; i++ {
		switch next() % 4 {
		case 0, 1:
			k := floor + next()%2048
			if k > p.MaxAllowedKey() {
				continue
			}
			h, err := p.Add(k, 0, k)
			if err != nil {
				continue
			}
			live[h] = k
		case 2:
			if len(live) == 0 {
				continue
			}
			for h := range live {
				_ = p.Remove(h)
				delete(live, h)
				break
			}
		case 3:
			raise := floor + next()%128
			if raise > p.MaxRepresentableKey() {
				continue
			}
			if err := p.IncreaseMinAllowedKey(raise, func(h pool.Handle) {
				delete(live, h)
			}); err != nil {
				continue
			}
			floor = p.MinAllowedKey()
		}
		if err := p.CheckInvariants(); err != nil {
			t.Fatalf("iteration %d: CheckInvariants: %v", i, err)
		}
	}
	if p.Len() != len(live) {
		t.Fatalf("final Len = %d, want %d", p.Len(), len(live))
	}
}
