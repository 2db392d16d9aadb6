package persist

import (
	"encoding/gob"
	"testing"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hexwheel/tickwheel/internal/pool"
	"github.com/hexwheel/tickwheel/pkg/timingwheel"
)

func init() {
	gob.Register(int64(0))
}

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("badger.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreate(t *testing.T, start int64, opts ...timingwheel.Option) *timingwheel.TimingWheel {
	t.Helper()
	tw, err := timingwheel.Create(start, opts...)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tw
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	src := mustCreate(t, 0, timingwheel.WithAlarmPrecision(0), timingwheel.WithLevelBits([]int{8}))

	for _, k := range []int64{10, 20, 30} {
		if _, err := src.Add(k, k); err != nil {
			t.Fatalf("Add(%d): %v", k, err)
		}
	}
	if err := Save(db, src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dst := mustCreate(t, 0, timingwheel.WithAlarmPrecision(0), timingwheel.WithLevelBits([]int{8}))
	if err := Load(db, dst, nil, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dst.Len() != 3 {
		t.Fatalf("Len after Load = %d, want 3", dst.Len())
	}

	var fired []int64
	if err := dst.AdvanceClock(31, func(h pool.Handle, at int64, value any) {
		fired = append(fired, value.(int64))
	}); err != nil {
		t.Fatalf("AdvanceClock: %v", err)
	}
	if len(fired) != 3 {
		t.Fatalf("fired %d alarms, want 3", len(fired))
	}
}

func TestLoadSkipsStaleAlarms(t *testing.T) {
	db := newTestDB(t)
	src := mustCreate(t, 0, timingwheel.WithAlarmPrecision(0), timingwheel.WithLevelBits([]int{8}))
	if _, err := src.Add(5, int64(99)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := Save(db, src); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// dst's clock already starts past the checkpointed alarm's time, so it
	// must be reported via onStale and never re-added.
	dst := mustCreate(t, 100, timingwheel.WithAlarmPrecision(0), timingwheel.WithLevelBits([]int{8}))

	var staleVals []int64
	if err := Load(db, dst, nil, func(h pool.Handle, at int64, value any) {
		staleVals = append(staleVals, value.(int64))
	}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dst.Len() != 0 {
		t.Fatalf("Len after Load of stale-only checkpoint = %d, want 0", dst.Len())
	}
	if len(staleVals) != 1 || staleVals[0] != 99 {
		t.Fatalf("staleVals = %v, want [99]", staleVals)
	}
}

func TestAlarmKeyOrdersByIntervalThenSeq(t *testing.T) {
	a := alarmKey(1, 0)
	b := alarmKey(1, 1)
	c := alarmKey(2, 0)
	if !(string(a) < string(b) && string(b) < string(c)) {
		t.Fatalf("alarmKey ordering broken: a=%x b=%x c=%x", a, b, c)
	}
}
