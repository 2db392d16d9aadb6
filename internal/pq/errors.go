package pq

import "errors"

// Sentinel errors for the bucketed priority queue, matching the teacher's
// pkg/config.go style of package-level error values checked with errors.Is
// rather than typed exceptions.
var (
	// ErrKeyOutOfBounds is returned by Add/ChangeKey when the key falls
	// outside [levels[0].minAllowedKey, levels[last].maxAllowedKey].
	ErrKeyOutOfBounds = errors.New("pq: key out of bounds")

	// ErrKeyTooLarge is returned by IncreaseMinAllowedKey when the
	// requested floor exceeds MaxRepresentableKey.
	ErrKeyTooLarge = errors.New("pq: key too large")

	// ErrEmptyQueue names the empty-queue condition. No accessor in this
	// package returns it: MinElt and MinKey report an empty queue through
	// their boolean result, and there are no *_exn-shaped accessors.
	ErrEmptyQueue = errors.New("pq: empty queue")

	// ErrInvalidLevelBits is returned by New when levelBits violates the
	// sum <= 61 / each > 0 / non-empty constraint.
	ErrInvalidLevelBits = errors.New("pq: invalid level bits configuration")
)
