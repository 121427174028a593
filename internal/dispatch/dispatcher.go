// Package dispatch runs the GPU actor loop: it receives requests, executes
// them against a backend one at a time, and routes the results to reply
// channels, the script sender and the external image publisher.
//
// All state in this package is owned by the goroutine that calls Run.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/completion"
	"github.com/gogpu/gpuproc/internal/metrics"
	"github.com/gogpu/gpuproc/internal/present"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

// DefaultPollInterval is how often the backend is polled for completed work
// when no request forces it.
const DefaultPollInterval = 100 * time.Millisecond

// Config holds the collaborators of a Dispatcher. Backend and Script are
// required; the rest default when nil or zero.
type Config struct {
	Backend      backend.Backend
	Script       script.Sender
	Compositor   extimage.Compositor
	Images       *extimage.Publisher
	Metrics      *metrics.Metrics
	Clock        Clock
	PollInterval time.Duration
}

type handler func(d *Dispatcher, req request.Request) error

// Dispatcher executes requests. Create it with New and drive it with Run.
type Dispatcher struct {
	backend    backend.Backend
	script     script.Sender
	compositor extimage.Compositor
	images     *extimage.Publisher
	metrics    *metrics.Metrics
	clock      Clock
	interval   time.Duration

	handlers [request.KindCount]handler

	// devices maps live devices to the script pipeline that owns them.
	devices  map[gpucore.DeviceID]script.PipelineID
	surfaces map[extimage.ExternalID]*present.Surface
	ops      *completion.Registry
	// reinjected holds requests produced by the dispatcher itself. They run
	// before the next external request, in order.
	reinjected []request.Request
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("dispatch: %w", backend.ErrBackendNotAvailable)
	}
	if cfg.Script == nil {
		return nil, fmt.Errorf("dispatch: %w", script.ErrNilSender)
	}
	d := &Dispatcher{
		backend:    cfg.Backend,
		script:     cfg.Script,
		compositor: cfg.Compositor,
		images:     cfg.Images,
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
		interval:   cfg.PollInterval,
		handlers:   table(),
		devices:    make(map[gpucore.DeviceID]script.PipelineID),
		surfaces:   make(map[extimage.ExternalID]*present.Surface),
		ops:        completion.NewRegistry(),
	}
	if d.compositor == nil {
		d.compositor = &extimage.NopCompositor{}
	}
	if d.images == nil {
		d.images = extimage.NewPublisher()
	}
	if d.metrics == nil {
		d.metrics = metrics.New(nil)
	}
	if d.clock == nil {
		d.clock = SystemClock{}
	}
	if d.interval <= 0 {
		d.interval = DefaultPollInterval
	}
	return d, nil
}

// Images returns the publisher frames are published to.
func (d *Dispatcher) Images() *extimage.Publisher { return d.images }

// Run executes requests from in until an Exit request is handled, in is
// closed or ctx is cancelled. Every way out notifies script with
// script.Exit.
//
// Each iteration takes a re-injected request if there is one, then any
// ready request from in, and otherwise blocks until a request or a
// maintenance tick arrives. A tick that became due while a request ran is
// serviced right after it, so completions progress under constant load.
func (d *Dispatcher) Run(ctx context.Context, in <-chan request.Request) {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			d.stop("context done")
			return
		}

		req, ok := d.next(ctx, in, ticker)
		if !ok {
			return
		}
		if req == nil {
			continue
		}
		if d.handle(req) {
			return
		}

		select {
		case <-ticker.C():
			d.maintain()
		default:
		}
	}
}

// next returns the next request, or nil after servicing a tick. It returns
// false once the loop must end.
func (d *Dispatcher) next(ctx context.Context, in <-chan request.Request, ticker Ticker) (request.Request, bool) {
	if len(d.reinjected) > 0 {
		req := d.reinjected[0]
		d.reinjected[0] = nil
		d.reinjected = d.reinjected[1:]
		return req, true
	}

	select {
	case req, ok := <-in:
		return d.received(req, ok)
	default:
	}

	select {
	case <-ctx.Done():
		d.stop("context done")
		return nil, false
	case req, ok := <-in:
		return d.received(req, ok)
	case <-ticker.C():
		d.maintain()
		return nil, true
	}
}

func (d *Dispatcher) received(req request.Request, ok bool) (request.Request, bool) {
	if !ok {
		d.stop("request channel closed")
		return nil, false
	}
	if req == nil {
		slogger().Warn("dispatch: nil request ignored")
	}
	return req, true
}

// handle runs one request and reports whether the loop must end.
func (d *Dispatcher) handle(req request.Request) (exit bool) {
	kind := req.Kind()
	d.metrics.Request(kind.String())

	var h handler
	if kind.Valid() {
		h = d.handlers[kind]
	}
	if h == nil {
		slogger().Warn("dispatch: no handler for request", "kind", kind)
		d.metrics.RequestError(kind.String())
		return false
	}

	if err := d.run(h, req); err != nil {
		d.metrics.RequestError(kind.String())
		slogger().Warn("dispatch: request failed", "kind", kind, "err", err)
	}
	return kind == request.KindExit
}

// run calls h, turning a panic into an error so one bad request cannot take
// the actor down.
func (d *Dispatcher) run(h handler, req request.Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slogger().Error("dispatch: handler panicked", "kind", req.Kind(), "panic", r)
			switch x := r.(type) {
			case error:
				err = fmt.Errorf("panic: %w", x)
			default:
				err = fmt.Errorf("panic: %v", x)
			}
		}
	}()
	return h(d, req)
}

// maintain polls the backend so map callbacks fire.
func (d *Dispatcher) maintain() {
	start := d.clock.Now()
	if err := d.backend.Poll(false); err != nil {
		slogger().Warn("dispatch: backend poll failed", "err", err)
	}
	d.metrics.Maintenance(d.clock.Now().Sub(start))
	d.metrics.PendingMapsChanged(d.ops.Len())
}

func (d *Dispatcher) reinject(req request.Request) {
	d.reinjected = append(d.reinjected, req)
}

// stop tells script the actor is gone.
func (d *Dispatcher) stop(reason string) {
	slogger().Info("dispatch: stopping", "reason", reason)
	d.notify(script.Exit{})
}

// notify sends msg to script. Failures are transport errors and only logged.
func (d *Dispatcher) notify(msg script.Msg) {
	if err := d.script.Send(msg); err != nil {
		slogger().Warn("dispatch: script send failed", "msg", fmt.Sprintf("%T", msg), "err", err)
	}
}

// reply delivers v on a one-shot reply channel without blocking.
func reply[T any](ch chan<- T, v T, kind request.Kind) {
	if ch == nil {
		slogger().Warn("dispatch: request has no reply channel", "kind", kind)
		return
	}
	select {
	case ch <- v:
	default:
		slogger().Warn("dispatch: reply dropped, channel full", "kind", kind)
	}
}

// scoped reports the validation outcome of a scoped request to the pipeline
// owning device.
func (d *Dispatcher) scoped(device gpucore.DeviceID, scope gpucore.ScopeID, err error) {
	pipeline, ok := d.devices[device]
	if !ok {
		slogger().Warn("dispatch: validation result for unknown device dropped",
			"device", device, "scope", scope, "err", err)
		return
	}
	res := script.OpResult{Device: device, Scope: scope, Pipeline: pipeline}
	if err != nil {
		res.Error = err.Error()
	}
	d.notify(res)
}
