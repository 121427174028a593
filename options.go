package gpuproc

import (
	"context"
	"time"

	"github.com/uber-go/tally/v4"

	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/internal/dispatch"
)

// DevicePollInterval is the default period of the maintenance step that
// polls the backend for completed work.
const DevicePollInterval = dispatch.DefaultPollInterval

// DefaultQueueSize is the default capacity of the request queue.
const DefaultQueueSize = 256

// Clock supplies time to the actor loop. Tests substitute a manual clock to
// control maintenance ticks.
type Clock = dispatch.Clock

// Ticker delivers maintenance ticks.
type Ticker = dispatch.Ticker

// Option configures Start.
//
// Example:
//
//	th, err := gpuproc.Start(be, sender,
//	    gpuproc.WithCompositor(compositor),
//	    gpuproc.WithPollInterval(50*time.Millisecond))
type Option func(*options)

type options struct {
	ctx          context.Context
	compositor   extimage.Compositor
	images       *extimage.Publisher
	scope        tally.Scope
	clock        Clock
	pollInterval time.Duration
	queueSize    int
}

func defaultOptions() options {
	return options{
		ctx:          context.Background(),
		scope:        tally.NoopScope,
		clock:        dispatch.SystemClock{},
		pollInterval: DevicePollInterval,
		queueSize:    DefaultQueueSize,
	}
}

// WithCompositor sets the compositor notified about swap chain images.
// The default hands out keys and ignores notifications.
func WithCompositor(c extimage.Compositor) Option {
	return func(o *options) {
		o.compositor = c
	}
}

// WithPublisher sets the publisher frames are written to, so that a
// compositor created beforehand can read them.
func WithPublisher(p *extimage.Publisher) Option {
	return func(o *options) {
		o.images = p
	}
}

// WithMetrics reports actor metrics to scope.
func WithMetrics(scope tally.Scope) Option {
	return func(o *options) {
		if scope != nil {
			o.scope = scope
		}
	}
}

// WithPollInterval sets the maintenance period. Non-positive values keep
// the default.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithQueueSize sets the capacity of the request queue.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.queueSize = n
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithContext bounds the actor's lifetime by ctx. Cancelling it stops the
// loop as Exit would, without a reply.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}
