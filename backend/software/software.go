// Package software provides a backend that keeps every GPU resource in host
// memory.
//
// Buffers and textures are byte slices. Copies, queue writes and render pass
// clears are executed on submit; shaders are compiled for validation but
// never run, so compute dispatches and draws only validate their arguments.
// Map requests resolve on the next Poll, since all submitted work has
// already completed by then.
//
// The backend is always available and is what tests and headless
// deployments use.
package software

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("software: backend closed")

// AdapterName is the name reported for the single software adapter.
const AdapterName = "gpuproc software rasterizer"

func init() {
	backend.Register(backend.BackendSoftware, func() (backend.Backend, error) {
		return New(), nil
	})
}

// Backend is the host-memory backend. It is safe for concurrent use.
type Backend struct {
	mu     sync.Mutex
	closed bool

	adapters map[gpucore.AdapterID]struct{}
	devices  map[gpucore.DeviceID]*device
	buffers  map[gpucore.BufferID]*buffer
	textures map[gpucore.TextureID]*texture
	views    map[gpucore.TextureViewID]*textureView
	encoders map[gpucore.CommandEncoderID]*encoder
	// objects holds the remaining kinds, which only need existence and a
	// descriptor for validation.
	objects map[gpucore.Kind]map[gpucore.RawID]any

	// pending lists buffers with a map request awaiting Poll.
	pending []gpucore.BufferID
	// due holds callbacks to fire on the next Poll.
	due []dueCallback
}

type dueCallback struct {
	cb     backend.MapCallback
	status backend.MapStatus
}

type device struct {
	adapter gpucore.AdapterID
	label   string
}

// New creates a software backend.
func New() *Backend {
	b := &Backend{}
	b.reset()
	return b
}

func (b *Backend) reset() {
	b.adapters = make(map[gpucore.AdapterID]struct{})
	b.devices = make(map[gpucore.DeviceID]*device)
	b.buffers = make(map[gpucore.BufferID]*buffer)
	b.textures = make(map[gpucore.TextureID]*texture)
	b.views = make(map[gpucore.TextureViewID]*textureView)
	b.encoders = make(map[gpucore.CommandEncoderID]*encoder)
	b.objects = make(map[gpucore.Kind]map[gpucore.RawID]any)
	b.pending = nil
	b.due = nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return backend.BackendSoftware }

// Variant returns gpucore.BackendSoftware.
func (b *Backend) Variant() gpucore.Backend { return gpucore.BackendSoftware }

func (b *Backend) lock() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// checkNew verifies id can be bound to a new resource.
func (b *Backend) checkNew(id gpucore.RawID, exists bool) error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero identifier", backend.ErrUnknownID)
	}
	if err := backend.CheckOwner(gpucore.BackendSoftware, id); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", backend.ErrIDInUse, id)
	}
	return nil
}

func unknown(kind gpucore.Kind, id gpucore.RawID) error {
	return fmt.Errorf("%w: %s %s", backend.ErrUnknownID, kind, id)
}

// RequestAdapter binds the first software identifier in ids.
func (b *Backend) RequestAdapter(_ gpucore.AdapterOptions, ids []gpucore.AdapterID) (gpucore.AdapterID, error) {
	if err := b.lock(); err != nil {
		return 0, err
	}
	defer b.mu.Unlock()

	id, err := backend.PickAdapter(gpucore.BackendSoftware, ids)
	if err != nil {
		return 0, err
	}
	b.adapters[id] = struct{}{}
	return id, nil
}

// AdapterInfo describes the software adapter.
func (b *Backend) AdapterInfo(adapter gpucore.AdapterID) (backend.AdapterInfo, error) {
	if err := b.lock(); err != nil {
		return backend.AdapterInfo{}, err
	}
	defer b.mu.Unlock()

	if _, ok := b.adapters[adapter]; !ok {
		return backend.AdapterInfo{}, unknown(gpucore.KindAdapter, adapter.Raw())
	}
	return backend.AdapterInfo{
		Name:       AdapterName,
		Vendor:     "gogpu",
		Driver:     "software",
		DeviceType: "cpu",
		Backend:    gpucore.BackendSoftware,
	}, nil
}

// RequestDevice creates a device on adapter.
func (b *Backend) RequestDevice(adapter gpucore.AdapterID, desc *gpucore.DeviceDescriptor, id gpucore.DeviceID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if _, ok := b.adapters[adapter]; !ok {
		return unknown(gpucore.KindAdapter, adapter.Raw())
	}
	_, exists := b.devices[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	if desc != nil && desc.RequiredFeatures != 0 {
		return backend.Invalid("RequestDevice", "software adapter supports no optional features (requested %#x)",
			uint64(desc.RequiredFeatures))
	}
	d := &device{adapter: adapter}
	if desc != nil {
		d.label = desc.Label
	}
	b.devices[id] = d
	slogger().Debug("software: device created", "device", id, "label", d.label)
	return nil
}

// DropDevice removes a device. Resources created on it stay valid until
// they are dropped themselves.
func (b *Backend) DropDevice(id gpucore.DeviceID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if _, ok := b.devices[id]; !ok {
		return unknown(gpucore.KindDevice, id.Raw())
	}
	delete(b.devices, id)
	return nil
}

func (b *Backend) device(id gpucore.DeviceID) error {
	if _, ok := b.devices[id]; !ok {
		return unknown(gpucore.KindDevice, id.Raw())
	}
	return nil
}

// Poll resolves pending map requests and fires due callbacks. Callbacks run
// on the calling goroutine without the backend lock held.
func (b *Backend) Poll(bool) error {
	if err := b.lock(); err != nil {
		return err
	}
	for _, id := range b.pending {
		buf, ok := b.buffers[id]
		if !ok {
			continue
		}
		offset, size := buf.mapping.Bounds()
		if cb := buf.mapping.Resolve(buf.data[offset : offset+size]); cb != nil {
			b.due = append(b.due, dueCallback{cb: cb, status: backend.MapStatusSuccess})
		}
	}
	b.pending = b.pending[:0]
	due := b.due
	b.due = nil
	b.mu.Unlock()

	if len(due) > 0 {
		slogger().Debug("software: poll", "callbacks", len(due))
	}
	for _, d := range due {
		d.cb(d.status)
	}
	return nil
}

// Close releases every resource. Pending map callbacks are dropped.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.reset()
	slogger().Debug("software: backend closed")
}

// Stats reports live resource counts, keyed by kind.
func (b *Backend) Stats() map[gpucore.Kind]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[gpucore.Kind]int{
		gpucore.KindAdapter:        len(b.adapters),
		gpucore.KindDevice:         len(b.devices),
		gpucore.KindBuffer:         len(b.buffers),
		gpucore.KindTexture:        len(b.textures),
		gpucore.KindTextureView:    len(b.views),
		gpucore.KindCommandEncoder: len(b.encoders),
	}
	for kind, objs := range b.objects {
		stats[kind] = len(objs)
	}
	return stats
}

var _ backend.Backend = (*Backend)(nil)
