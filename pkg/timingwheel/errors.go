package timingwheel

import "errors"

// Sentinel errors for the timing-wheel layer, checked with errors.Is,
// matching the teacher's pkg/config.go error-value style and mapping
// directly onto spec.md §7's error taxonomy.
var (
	// ErrTimeBeforeEpoch is returned by Create when start < 0.
	ErrTimeBeforeEpoch = errors.New("timingwheel: time before epoch")

	// ErrTimeTooFarInFuture is returned by AdvanceClock when to exceeds the
	// configured representable time range.
	ErrTimeTooFarInFuture = errors.New("timingwheel: time too far in future")

	// ErrScheduledBeforeNow is returned by Add/Reschedule when at precedes
	// the start of the current interval.
	ErrScheduledBeforeNow = errors.New("timingwheel: scheduled time before now")

	// ErrScheduledTooFarInFuture is returned by Add/Reschedule when at is at
	// or beyond the current alarm upper bound.
	ErrScheduledTooFarInFuture = errors.New("timingwheel: scheduled time too far in future")
)
