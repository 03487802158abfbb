package secret

import (
	"github.com/bittensor-lab/pwledger/internal/memory"
	"github.com/bittensor-lab/pwledger/internal/metrics"
	"go.uber.org/zap"
)

type options struct {
	logger    *zap.Logger
	allocator memory.Allocator
	metrics   *metrics.Metrics
	tracking  bool
}

// Option configures a Secret
type Option func(*options)

// WithLogger sets the logger used for fatal platform failures and misuse
// reports. Defaults to zap.L().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAllocator sets the platform allocator. Defaults to memory.Default().
func WithAllocator(a memory.Allocator) Option {
	return func(o *options) {
		if a != nil {
			o.allocator = a
		}
	}
}

// WithMetrics records lifecycle events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithGuardTracking enables the live-window counter that reports
// overlapping windows and moves or wipes under an open window. Reports go
// through the logger's DPanic, so they panic with a development logger and
// are only logged otherwise. Disabled by default.
func WithGuardTracking(enabled bool) Option {
	return func(o *options) {
		o.tracking = enabled
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:    zap.L(),
		allocator: memory.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
