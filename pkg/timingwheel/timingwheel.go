// Package timingwheel maps wall-clock-style timestamps onto internal/pq's
// bucketed integer-key priority queue, giving callers a monotonic logical
// clock plus add/advance/fire/reschedule operations over time-indexed
// alarms (spec.md §2 "Timing wheel").
//
// © 2025 tickwheel authors. MIT License.
package timingwheel

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/hexwheel/tickwheel/internal/diag"
	"github.com/hexwheel/tickwheel/internal/pool"
	"github.com/hexwheel/tickwheel/internal/pq"
)

// FiredFunc is invoked once per alarm whose scheduled time has been reached,
// carrying its handle, original timestamp, and payload. It must not call
// any mutating operation on the TimingWheel (spec.md §4.6 "behavior during
// callback contract", reused verbatim for on_fired).
type FiredFunc func(h pool.Handle, at int64, value any)

// EvictedFunc is the (handle, key, value) eviction callback shape (spec.md
// §6, external interfaces). No function in this package takes one, and
// pq.IncreaseMinAllowedKey's own eviction callback receives only the handle.
type EvictedFunc func(h pool.Handle, key pq.Key, value any)

// TimingWheel holds a monotonic logical clock and the alarms scheduled
// against it (spec.md §3 "TimingWheel").
type TimingWheel struct {
	pq *pq.PQ

	precision      int
	start          int64
	maxIntervalNum pq.Key

	now                 int64
	nowIntervalNumStart int64
	alarmUpperBound     int64

	diag    *diag.Diag
	metrics metricsSink
}

// Create builds a TimingWheel anchored at start (nanoseconds since an
// epoch). start must be non-negative (spec.md §4.8).
func Create(start int64, opts ...Option) (*TimingWheel, error) {
	if start < 0 {
		return nil, ErrTimeBeforeEpoch
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	d := diag.New(cfg.logger)
	q, err := pq.New(cfg.levelBits, d)
	if err != nil {
		return nil, err
	}

	tw := &TimingWheel{
		pq:             q,
		precision:      cfg.alarmPrecision,
		start:          start,
		maxIntervalNum: pq.Key(uint64(math.MaxInt64) >> uint(cfg.alarmPrecision)),
		now:            -1, // sentinel below any legal `to`, forces the first AdvanceClock below to run
		diag:           d,
		metrics:        newMetricsSink(cfg.registry),
	}

	// The queue is empty, so a fired callback here would indicate a
	// construction-time bug, never legitimate behavior.
	if err := tw.AdvanceClock(start, func(pool.Handle, int64, any) {
		d.Bug("timingwheel: fired handler invoked while constructing an empty wheel")
	}); err != nil {
		return nil, err
	}
	return tw, nil
}

func (tw *TimingWheel) intervalNum(t int64) pq.Key {
	return pq.Key(t >> uint(tw.precision))
}

func (tw *TimingWheel) intervalNumStart(n pq.Key) int64 {
	return int64(uint64(n) << uint(tw.precision))
}

// effectiveMaxIntervalNum is the tighter of the two independent ceilings on
// representable interval numbers: the absolute 63-bit-nanosecond range
// (maxIntervalNum) and the queue's own bit-sliced window
// (pq.MaxRepresentableKey). spec.md does not name this interaction
// explicitly; treating either ceiling as equally "too far in the future"
// keeps AdvanceClock's error surface to the one sentinel spec.md §7 defines
// for it, rather than leaking a pq-level ErrKeyTooLarge through this layer.
func (tw *TimingWheel) effectiveMaxIntervalNum() pq.Key {
	m := tw.maxIntervalNum
	if tw.pq.MaxRepresentableKey() < uint64(m) {
		m = pq.Key(tw.pq.MaxRepresentableKey())
	}
	return m
}

func (tw *TimingWheel) recomputeAlarmUpperBound() {
	bound := tw.pq.MaxAllowedKey() + 1
	if bound > uint64(tw.maxIntervalNum) {
		bound = uint64(tw.maxIntervalNum)
	}
	tw.alarmUpperBound = tw.intervalNumStart(pq.Key(bound))
}

func (tw *TimingWheel) refreshMetrics() {
	tw.metrics.setPending(tw.pq.Len())
	for i := 0; i < tw.pq.NumLevels(); i++ {
		tw.metrics.setLevelLength(i, tw.pq.LevelLen(i))
	}
	tw.metrics.setPoolCapacity(tw.pq.PoolCap())
}

// Now returns the wheel's current logical clock.
func (tw *TimingWheel) Now() int64 { return tw.now }

// NowIntervalNumStart returns the start time of the current interval.
func (tw *TimingWheel) NowIntervalNumStart() int64 { return tw.nowIntervalNumStart }

// AlarmUpperBound returns the exclusive upper bound currently accepted by
// Add.
func (tw *TimingWheel) AlarmUpperBound() int64 { return tw.alarmUpperBound }

// Len returns the number of alarms currently scheduled.
func (tw *TimingWheel) Len() int { return tw.pq.Len() }

// Add schedules value to fire at or after at (spec.md §4.10).
func (tw *TimingWheel) Add(at int64, value any) (pool.Handle, error) {
	if at < tw.nowIntervalNumStart {
		return pool.NullHandle, ErrScheduledBeforeNow
	}
	if at >= tw.alarmUpperBound {
		return pool.NullHandle, ErrScheduledTooFarInFuture
	}
	key := tw.intervalNum(at)
	h, err := tw.pq.Add(key, at, value)
	if err != nil {
		tw.diag.Bug("timingwheel: bounds-checked Add rejected by pq",
			zap.Uint64("key", uint64(key)), zap.Error(err))
	}
	tw.refreshMetrics()
	return h, nil
}

// AddAtIntervalNum schedules value directly at the given interval number,
// bypassing the at→key conversion (spec.md §4.10). The stored timestamp is
// taken as the start of that interval.
func (tw *TimingWheel) AddAtIntervalNum(key pq.Key, value any) (pool.Handle, error) {
	if key < pq.Key(tw.pq.MinAllowedKey()) {
		return pool.NullHandle, ErrScheduledBeforeNow
	}
	upper := tw.pq.MaxAllowedKey() + 1
	if upper > uint64(tw.maxIntervalNum) {
		upper = uint64(tw.maxIntervalNum)
	}
	if uint64(key) >= upper {
		return pool.NullHandle, ErrScheduledTooFarInFuture
	}
	at := tw.intervalNumStart(key)
	h, err := tw.pq.Add(key, at, value)
	if err != nil {
		tw.diag.Bug("timingwheel: bounds-checked AddAtIntervalNum rejected by pq",
			zap.Uint64("key", uint64(key)), zap.Error(err))
	}
	tw.refreshMetrics()
	return h, nil
}

// AdvanceClock moves the logical clock forward to to, firing every alarm
// whose key has fallen below the new floor (spec.md §4.11). A to at or
// before the current now is a no-op (Open Question decision, DESIGN.md
// §"AdvanceClock no-op discipline").
func (tw *TimingWheel) AdvanceClock(to int64, onFired FiredFunc) error {
	if tw.intervalNum(to) > tw.effectiveMaxIntervalNum() {
		return ErrTimeTooFarInFuture
	}
	if to <= tw.now {
		return nil
	}

	began := time.Now()
	defer func() { tw.metrics.observeAdvanceDuration(time.Since(began)) }()

	tw.now = to
	key := tw.intervalNum(to)
	tw.nowIntervalNumStart = tw.intervalNumStart(key)

	var fired int
	if err := tw.pq.IncreaseMinAllowedKey(uint64(key), func(h pool.Handle) {
		_, at, value, ok := tw.pq.Peek(h)
		if !ok {
			tw.diag.Bug("timingwheel: evicted handle not resolvable during callback")
		}
		fired++
		if onFired != nil {
			onFired(h, at, value)
		}
	}); err != nil {
		tw.diag.Bug("timingwheel: AdvanceClock target rejected despite bounds check",
			zap.Uint64("key", uint64(key)), zap.Error(err))
	}

	tw.recomputeAlarmUpperBound()
	tw.metrics.addFired(fired)
	tw.refreshMetrics()
	return nil
}

// FirePastAlarms fires every alarm in the current interval whose stored
// timestamp has actually come due (at <= now), without advancing the clock
// (spec.md §4.12). Only level 0's slot for the current interval number is
// examined.
func (tw *TimingWheel) FirePastAlarms(onFired FiredFunc) {
	nowIntervalNum := tw.intervalNum(tw.nowIntervalNumStart)
	now := tw.now
	var fired int
	tw.pq.RemoveFromLevelZeroWhere(nowIntervalNum,
		func(at int64, _ any) bool { return at <= now },
		func(h pool.Handle, at int64, value any) {
			fired++
			if onFired != nil {
				onFired(h, at, value)
			}
		})
	tw.metrics.addFired(fired)
	tw.refreshMetrics()
}

// Remove cancels a scheduled alarm (spec.md §4.13).
func (tw *TimingWheel) Remove(h pool.Handle) error {
	if err := tw.pq.Remove(h); err != nil {
		return err
	}
	tw.refreshMetrics()
	return nil
}

// Mem reports whether h still refers to a live, scheduled alarm.
func (tw *TimingWheel) Mem(h pool.Handle) bool {
	_, _, _, ok := tw.pq.Peek(h)
	return ok
}

// Reschedule moves an existing alarm to a new time, preserving its handle
// (spec.md §4.13).
func (tw *TimingWheel) Reschedule(h pool.Handle, at int64) error {
	if !tw.Mem(h) {
		return pool.ErrInvalidHandle
	}
	if at < tw.nowIntervalNumStart {
		return ErrScheduledBeforeNow
	}
	if at >= tw.alarmUpperBound {
		return ErrScheduledTooFarInFuture
	}
	if err := tw.pq.ChangeKey(h, tw.intervalNum(at)); err != nil {
		return err
	}
	if err := tw.pq.SetAt(h, at); err != nil {
		tw.diag.Bug("timingwheel: SetAt failed right after a successful ChangeKey", zap.Error(err))
	}
	tw.refreshMetrics()
	return nil
}

// RescheduleAtIntervalNum is Reschedule's AddAtIntervalNum counterpart.
func (tw *TimingWheel) RescheduleAtIntervalNum(h pool.Handle, key pq.Key) error {
	if !tw.Mem(h) {
		return pool.ErrInvalidHandle
	}
	if key < pq.Key(tw.pq.MinAllowedKey()) {
		return ErrScheduledBeforeNow
	}
	upper := tw.pq.MaxAllowedKey() + 1
	if upper > uint64(tw.maxIntervalNum) {
		upper = uint64(tw.maxIntervalNum)
	}
	if uint64(key) >= upper {
		return ErrScheduledTooFarInFuture
	}
	if err := tw.pq.ChangeKey(h, key); err != nil {
		return err
	}
	if err := tw.pq.SetAt(h, tw.intervalNumStart(key)); err != nil {
		tw.diag.Bug("timingwheel: SetAt failed right after a successful ChangeKey", zap.Error(err))
	}
	tw.refreshMetrics()
	return nil
}

// Iter visits every currently scheduled alarm exactly once, in unspecified
// order (spec.md §4.7, exposed at the timing-wheel layer). f must not
// mutate the wheel.
func (tw *TimingWheel) Iter(f func(h pool.Handle, key pq.Key, at int64, value any)) {
	tw.pq.Iter(f)
}

// Clear removes every scheduled alarm without firing or evicting callbacks
// (spec.md §4.13).
func (tw *TimingWheel) Clear() {
	tw.pq.Clear()
	tw.refreshMetrics()
}

// MinAlarmIntervalNum returns the smallest key among scheduled alarms.
func (tw *TimingWheel) MinAlarmIntervalNum() (pq.Key, bool) {
	return tw.pq.MinKey()
}

// NextAlarmFiresAt returns the earliest to that would cause at least one
// alarm to fire on the next AdvanceClock call (spec.md §4.14).
func (tw *TimingWheel) NextAlarmFiresAt() (int64, bool) {
	k, ok := tw.pq.MinKey()
	if !ok {
		return 0, false
	}
	return tw.intervalNumStart(k + 1), true
}

// MaxAlarmTimeInMinInterval returns the largest stored timestamp among
// alarms sharing the minimum key (spec.md §4.14, §9 — defined strictly over
// the minimum-keyed slot, never over "the current interval" as wall-clock
// time).
func (tw *TimingWheel) MaxAlarmTimeInMinInterval() (int64, bool) {
	k, ok := tw.pq.MinKey()
	if !ok {
		return 0, false
	}
	return tw.pq.MaxAtForKey(k)
}

// CheckInvariants exposes the underlying queue's invariant checker plus the
// timing-wheel-specific invariant `now_interval_num == min_allowed_key_0`
// (spec.md §8, invariant 6).
func (tw *TimingWheel) CheckInvariants() error {
	if err := tw.pq.CheckInvariants(); err != nil {
		return err
	}
	if tw.intervalNum(tw.nowIntervalNumStart) != pq.Key(tw.pq.MinAllowedKey()) {
		tw.diag.Bug("timingwheel: now_interval_num diverged from pq.min_allowed_key_0")
	}
	return nil
}
