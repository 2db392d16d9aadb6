// Package diag centralises the BUG/WARN/DEBUG-style diagnostics used across
// the timing wheel, backed by zap so every caller gets consistent structured
// output regardless of which package raises it.
//
// The naming and severity split (Bug = fatal invariant violation, Warn =
// recoverable anomaly worth surfacing, Debug = verbose tracing) follows the
// logging call pattern found throughout timer-wheel style code in the wider
// Go ecosystem (e.g. intuitivelabs/wtimer's BUG()/WARN()/DBG() helpers) and
// the teacher's own "plug an external zap.Logger, never log on the hot path"
// discipline from pkg/config.go's WithLogger.
//
// © 2025 tickwheel authors. MIT License.
package diag

import "go.uber.org/zap"

// Diag wraps a logger. It carries no fields of its own: each line holds only
// the fields its call site passes, and neither the wheel's configuration nor
// its current key range is attached automatically.
type Diag struct {
	logger *zap.Logger
}

// New wraps l. A nil logger is replaced with zap.NewNop() so callers never
// need a nil check.
func New(l *zap.Logger) *Diag {
	if l == nil {
		l = zap.NewNop()
	}
	return &Diag{logger: l}
}

// Logger returns the underlying zap logger, e.g. for callers that want to
// add their own fields before calling back into Diag.
func (d *Diag) Logger() *zap.Logger { return d.logger }

// Bug logs msg at Error level with fields, then panics. Use for invariant
// violations and programmer errors (double-free, use-after-free of an
// internal handle, inter-level gaps) which spec.md §4.15/§7 classify as
// fatal assertions, never recoverable errors.
func (d *Diag) Bug(msg string, fields ...zap.Field) {
	d.logger.Error(msg, fields...)
	panic("tickwheel: " + msg)
}

// Warn logs a recoverable anomaly: something unexpected happened but the
// data structure remains consistent (e.g. a checkpointed alarm that Add
// rejects on reload in pkg/persist).
func (d *Diag) Warn(msg string, fields ...zap.Field) {
	d.logger.Warn(msg, fields...)
}

// Debug logs verbose tracing information; a Nop logger makes this free in
// production.
func (d *Diag) Debug(msg string, fields ...zap.Field) {
	d.logger.Debug(msg, fields...)
}
