package timingwheel

// config.go defines the timing wheel's configuration object and the set of
// functional options used to build it, following the teacher's
// pkg/config.go: a private config struct filled in by Option values, then
// validated once in applyOptions before anything is constructed.
//
// © 2025 tickwheel authors. MIT License.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultLevelBits is the level split used when WithLevelBits is not
// supplied: sum 61, i.e. roughly 2^61 representable intervals above the
// current minimum (spec.md §6).
var DefaultLevelBits = []int{11, 10, 10, 10, 10, 10}

// Option configures a TimingWheel at construction time.
type Option func(*config)

type config struct {
	alarmPrecision int
	levelBits      []int

	logger   *zap.Logger
	registry *prometheus.Registry
}

func defaultConfig() *config {
	bits := make([]int, len(DefaultLevelBits))
	copy(bits, DefaultLevelBits)
	return &config{
		alarmPrecision: 0,
		levelBits:      bits,
		logger:         zap.NewNop(),
		registry:       nil,
	}
}

// WithLogger plugs an external zap.Logger. The wheel never logs on the hot
// path (Add/Remove/AdvanceClock); only invariant failures and fatal
// assertions are emitted, via internal/diag.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil (the
// default) keeps the wheel on the no-op sink.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithLevelBits overrides the default level split. Each entry must be
// positive and the entries must sum to at most 61.
func WithLevelBits(bits []int) Option {
	return func(c *config) {
		cp := make([]int, len(bits))
		copy(cp, bits)
		c.levelBits = cp
	}
}

// WithAlarmPrecision sets the interval width to 2^p nanoseconds.
func WithAlarmPrecision(p int) Option {
	return func(c *config) {
		c.alarmPrecision = p
	}
}

var (
	errInvalidPrecision = errors.New("timingwheel: alarm precision must be >= 0")
	errInvalidLevelBits = errors.New("timingwheel: level bits must be non-empty, each > 0, summing to <= 61")
)

// applyOptions folds opts onto defaultConfig() and validates the result
// before any field is consumed by Create, matching spec.md §4.15's "raise
// before mutation" rule.
func applyOptions(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.alarmPrecision < 0 {
		return nil, errInvalidPrecision
	}
	if len(cfg.levelBits) == 0 {
		return nil, errInvalidLevelBits
	}
	sum := 0
	for _, b := range cfg.levelBits {
		if b <= 0 {
			return nil, errInvalidLevelBits
		}
		sum += b
	}
	if sum > 61 {
		return nil, errInvalidLevelBits
	}
	return cfg, nil
}
