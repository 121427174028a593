package gpuproc

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/internal/dispatch"
	"github.com/gogpu/gpuproc/internal/metrics"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

var (
	// ErrDisabled is returned by Start when the actor cannot be created.
	// GPU support is then unavailable and no goroutine is left running.
	ErrDisabled = errors.New("gpuproc: GPU processing disabled")

	// ErrExited is returned when sending to an actor whose loop has ended.
	ErrExited = errors.New("gpuproc: actor has exited")

	errNilRequest = errors.New("gpuproc: nil request")
)

// Thread is a running GPU actor. Its methods are safe for concurrent use.
type Thread struct {
	requests chan request.Request
	images   *extimage.Publisher
	done     chan struct{}
	backend  string
}

// Start launches the actor on its own goroutine. The actor executes
// requests against be and reports to sender. be stays owned by the caller
// and should be closed after Done is closed.
func Start(be backend.Backend, sender script.Sender, opts ...Option) (*Thread, error) {
	if be == nil {
		return nil, fmt.Errorf("%w: no backend", ErrDisabled)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: no script sender", ErrDisabled)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	d, err := dispatch.New(dispatch.Config{
		Backend:      be,
		Script:       sender,
		Compositor:   o.compositor,
		Images:       o.images,
		Metrics:      metrics.New(o.scope),
		Clock:        o.clock,
		PollInterval: o.pollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDisabled, err)
	}

	t := &Thread{
		requests: make(chan request.Request, o.queueSize),
		images:   d.Images(),
		done:     make(chan struct{}),
		backend:  be.Name(),
	}
	go func() {
		defer close(t.done)
		d.Run(o.ctx, t.requests)
		slogger().Info("gpuproc: actor stopped", "backend", t.backend)
	}()
	slogger().Info("gpuproc: actor started", "backend", t.backend, "poll_interval", o.pollInterval)
	return t, nil
}

// Send queues req. It blocks while the queue is full and returns ErrExited
// once the loop has ended.
func (t *Thread) Send(req request.Request) error {
	if req == nil {
		return errNilRequest
	}
	select {
	case <-t.done:
		return ErrExited
	default:
	}
	select {
	case t.requests <- req:
		return nil
	case <-t.done:
		return ErrExited
	}
}

// SendContext is like Send but gives up when ctx is done.
func (t *Thread) SendContext(ctx context.Context, req request.Request) error {
	if req == nil {
		return errNilRequest
	}
	select {
	case <-t.done:
		return ErrExited
	default:
	}
	select {
	case t.requests <- req:
		return nil
	case <-t.done:
		return ErrExited
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Exit asks the actor to stop and waits until its loop has ended.
// Requests queued behind Exit are discarded.
func (t *Thread) Exit(ctx context.Context) error {
	ack := make(chan struct{}, 1)
	if err := t.SendContext(ctx, request.Exit{Reply: ack}); err != nil {
		return err
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Images returns the publisher compositors read frames from.
func (t *Thread) Images() *extimage.Publisher { return t.images }

// Done is closed when the loop has ended.
func (t *Thread) Done() <-chan struct{} { return t.done }
