// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package native provides a backend that drives a real GPU through the
// gogpu/wgpu HAL.
//
// Identifiers map to hal resources in per-kind tables. The HAL has no
// asynchronous buffer mapping, so it is emulated: a map request waits for
// the submission index current when it was made, Poll compares that index
// with Queue.PollCompleted and then copies the mapped range into a host
// shadow through Device.MapBuffer. Unmapping a write mapping copies the
// shadow back the same way.
//
// Two registrations are made: "native" opens the Vulkan HAL (the vulkan
// package must be linked in, e.g. with a blank import), and "noop" opens the
// wgpu noop HAL, which accepts all work and produces no output.
package native

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

// Package errors.
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("native: backend closed")

	// ErrNoGPU is returned when the instance exposes no adapter.
	ErrNoGPU = errors.New("native: no GPU adapter available")

	// ErrDeviceLost is returned when waiting for device work fails.
	ErrDeviceLost = errors.New("native: GPU device lost")
)

func init() {
	backend.Register(backend.BackendNative, func() (backend.Backend, error) { return New() })
	backend.Register(backend.BackendNoop, func() (backend.Backend, error) { return NewNoop() })
}

// instanceFactory is the part of a HAL API this package needs.
type instanceFactory interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Backend is the HAL backend. It is safe for concurrent use.
type Backend struct {
	mu      sync.Mutex
	name    string
	variant gpucore.Backend
	closed  bool

	instance hal.Instance
	exposed  []hal.ExposedAdapter
	// shared is an adopted host device; RequestDevice binds it instead of
	// opening an adapter.
	shared *device

	adapters   map[gpucore.AdapterID]*hal.ExposedAdapter
	devices    map[gpucore.DeviceID]*device
	buffers    map[gpucore.BufferID]*buffer
	textures   map[gpucore.TextureID]*texture
	views      map[gpucore.TextureViewID]*textureView
	samplers   map[gpucore.SamplerID]owned[hal.Sampler]
	shaders    map[gpucore.ShaderModuleID]owned[hal.ShaderModule]
	bgLayouts  map[gpucore.BindGroupLayoutID]owned[hal.BindGroupLayout]
	bindGroups map[gpucore.BindGroupID]owned[hal.BindGroup]
	pLayouts   map[gpucore.PipelineLayoutID]owned[hal.PipelineLayout]
	computes   map[gpucore.ComputePipelineID]owned[hal.ComputePipeline]
	renders    map[gpucore.RenderPipelineID]*renderPipeline
	encoders   map[gpucore.CommandEncoderID]*encoder

	pending []gpucore.BufferID
	due     []dueCallback
}

// owned pairs a hal resource with the device that created it.
type owned[T any] struct {
	dev *device
	raw T
}

type dueCallback struct {
	cb     backend.MapCallback
	status backend.MapStatus
}

// device is an open HAL device.
type device struct {
	raw   hal.Device
	queue hal.Queue
	// submitted is the index of the latest submit; completed is the latest
	// index the queue reported finished.
	submitted uint64
	completed uint64
	// inflight holds submitted command buffers until their index completes.
	inflight []submission
	// external devices belong to the host application and are not destroyed.
	external bool
	name     string
}

type submission struct {
	index uint64
	cmds  []hal.CommandBuffer
}

// retire frees the command buffers of every completed submission.
func (d *device) retire() {
	keep := d.inflight[:0]
	for _, s := range d.inflight {
		if s.index > d.completed {
			keep = append(keep, s)
			continue
		}
		for _, cmd := range s.cmds {
			d.raw.FreeCommandBuffer(cmd)
		}
	}
	d.inflight = keep
}

// New opens the Vulkan HAL. The vulkan package must be linked into the
// binary.
func New() (*Backend, error) {
	api, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan HAL not linked", backend.ErrBackendNotAvailable)
	}
	return open(backend.BackendNative, gpucore.BackendVulkan, api)
}

// NewNoop opens the wgpu noop HAL.
func NewNoop() (*Backend, error) {
	return open(backend.BackendNoop, gpucore.BackendEmpty, noop.API{})
}

func open(name string, variant gpucore.Backend, api instanceFactory) (*Backend, error) {
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	exposed := instance.EnumerateAdapters(nil)
	if len(exposed) == 0 {
		instance.Destroy()
		return nil, ErrNoGPU
	}
	b := newBackend(name, variant)
	b.instance = instance
	b.exposed = exposed
	slogger().Info("native: instance created", "backend", name, "adapters", len(exposed))
	return b, nil
}

// NewFromProvider adopts the device of a host application. The provider must
// also implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue. The adopted device is never destroyed by this backend.
func NewFromProvider(provider gpucontext.DeviceProvider, variant gpucore.Backend) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	if provider == nil {
		return nil, fmt.Errorf("native: nil device provider")
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}

	b := newBackend(backend.BackendNative, variant)
	b.shared = &device{raw: dev, queue: queue, external: true, name: "shared"}
	slogger().Info("native: adopted host device", "surface_format", provider.SurfaceFormat())
	return b, nil
}

func newBackend(name string, variant gpucore.Backend) *Backend {
	b := &Backend{name: name, variant: variant}
	b.reset()
	return b
}

func (b *Backend) reset() {
	b.adapters = make(map[gpucore.AdapterID]*hal.ExposedAdapter)
	b.devices = make(map[gpucore.DeviceID]*device)
	b.buffers = make(map[gpucore.BufferID]*buffer)
	b.textures = make(map[gpucore.TextureID]*texture)
	b.views = make(map[gpucore.TextureViewID]*textureView)
	b.samplers = make(map[gpucore.SamplerID]owned[hal.Sampler])
	b.shaders = make(map[gpucore.ShaderModuleID]owned[hal.ShaderModule])
	b.bgLayouts = make(map[gpucore.BindGroupLayoutID]owned[hal.BindGroupLayout])
	b.bindGroups = make(map[gpucore.BindGroupID]owned[hal.BindGroup])
	b.pLayouts = make(map[gpucore.PipelineLayoutID]owned[hal.PipelineLayout])
	b.computes = make(map[gpucore.ComputePipelineID]owned[hal.ComputePipeline])
	b.renders = make(map[gpucore.RenderPipelineID]*renderPipeline)
	b.encoders = make(map[gpucore.CommandEncoderID]*encoder)
	b.pending = nil
	b.due = nil
}

// Name returns the registry name of the backend.
func (b *Backend) Name() string { return b.name }

// Variant returns the backend selector of identifiers this backend owns.
func (b *Backend) Variant() gpucore.Backend { return b.variant }

func (b *Backend) lock() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (b *Backend) checkNew(id gpucore.RawID, exists bool) error {
	if id.IsZero() {
		return fmt.Errorf("%w: zero identifier", backend.ErrUnknownID)
	}
	if err := backend.CheckOwner(b.variant, id); err != nil {
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

func (b *Backend) device(id gpucore.DeviceID) (*device, error) {
	d, ok := b.devices[id]
	if !ok {
		return nil, unknown(gpucore.KindDevice, id.Raw())
	}
	return d, nil
}

// RequestAdapter binds the first identifier owned by this backend to the
// adapter best matching opts.
func (b *Backend) RequestAdapter(opts gpucore.AdapterOptions, ids []gpucore.AdapterID) (gpucore.AdapterID, error) {
	if err := b.lock(); err != nil {
		return 0, err
	}
	defer b.mu.Unlock()

	id, err := backend.PickAdapter(b.variant, ids)
	if err != nil {
		return 0, err
	}
	if b.shared != nil {
		b.adapters[id] = nil
		return id, nil
	}
	selected := selectAdapter(b.exposed, opts)
	if selected == nil {
		return 0, ErrNoGPU
	}
	b.adapters[id] = selected
	slogger().Info("native: adapter selected", "name", selected.Info.Name, "type", selected.Info.DeviceType)
	return id, nil
}

// selectAdapter prefers a hardware GPU of the requested power class.
func selectAdapter(exposed []hal.ExposedAdapter, opts gpucore.AdapterOptions) *hal.ExposedAdapter {
	if len(exposed) == 0 {
		return nil
	}
	preferred := gputypes.DeviceTypeDiscreteGPU
	fallback := gputypes.DeviceTypeIntegratedGPU
	if opts.PowerPreference != 0 && opts.PowerPreference != gputypes.PowerPreferenceHighPerformance {
		preferred, fallback = fallback, preferred
	}
	if !opts.ForceFallbackAdapter {
		for _, want := range []gputypes.DeviceType{preferred, fallback} {
			for i := range exposed {
				if exposed[i].Info.DeviceType == want {
					return &exposed[i]
				}
			}
		}
	}
	return &exposed[0]
}

// AdapterInfo describes a bound adapter.
func (b *Backend) AdapterInfo(adapter gpucore.AdapterID) (backend.AdapterInfo, error) {
	if err := b.lock(); err != nil {
		return backend.AdapterInfo{}, err
	}
	defer b.mu.Unlock()

	exposed, ok := b.adapters[adapter]
	if !ok {
		return backend.AdapterInfo{}, unknown(gpucore.KindAdapter, adapter.Raw())
	}
	if exposed == nil {
		return backend.AdapterInfo{Name: "shared device", Backend: b.variant}, nil
	}
	return backend.AdapterInfo{
		Name:       exposed.Info.Name,
		Driver:     b.name,
		DeviceType: fmt.Sprint(exposed.Info.DeviceType),
		Backend:    b.variant,
	}, nil
}

// RequestDevice opens a device on adapter, or binds the adopted host device.
func (b *Backend) RequestDevice(adapter gpucore.AdapterID, desc *gpucore.DeviceDescriptor, id gpucore.DeviceID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	exposed, ok := b.adapters[adapter]
	if !ok {
		return unknown(gpucore.KindAdapter, adapter.Raw())
	}
	_, exists := b.devices[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}

	var features gputypes.Features
	label := ""
	if desc != nil {
		features = desc.RequiredFeatures
		label = desc.Label
	}

	var d *device
	if exposed == nil {
		d = b.shared
		for _, other := range b.devices {
			if other == d {
				return fmt.Errorf("%w: shared device already bound", backend.ErrIDInUse)
			}
		}
	} else {
		openDev, err := exposed.Adapter.Open(features, gputypes.DefaultLimits())
		if err != nil {
			return fmt.Errorf("open device: %w", err)
		}
		d = &device{raw: openDev.Device, queue: openDev.Queue, name: label}
	}

	b.devices[id] = d
	return nil
}

// DropDevice waits for outstanding work, then destroys the device and every
// resource still created on it.
func (b *Backend) DropDevice(id gpucore.DeviceID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(id)
	if err != nil {
		return err
	}
	delete(b.devices, id)
	b.release(d)
	return nil
}

// release destroys everything created on d, then d itself. The caller holds
// the lock.
func (b *Backend) release(d *device) {
	if d.submitted > d.completed {
		if err := d.raw.WaitIdle(); err != nil {
			slogger().Warn("native: wait before device release failed", "err", err)
		}
		d.completed = d.submitted
	}
	d.retire()

	for id, enc := range b.encoders {
		if enc.dev == d {
			enc.discard()
			delete(b.encoders, id)
		}
	}
	for id, p := range b.renders {
		if p.dev == d {
			p.destroy()
			delete(b.renders, id)
		}
	}
	releaseAll(b.computes, d, d.raw.DestroyComputePipeline)
	releaseAll(b.bindGroups, d, d.raw.DestroyBindGroup)
	releaseAll(b.pLayouts, d, d.raw.DestroyPipelineLayout)
	releaseAll(b.bgLayouts, d, d.raw.DestroyBindGroupLayout)
	releaseAll(b.shaders, d, d.raw.DestroyShaderModule)
	releaseAll(b.samplers, d, d.raw.DestroySampler)
	for id, v := range b.views {
		if v.dev == d {
			d.raw.DestroyTextureView(v.raw)
			delete(b.views, id)
		}
	}
	for id, t := range b.textures {
		if t.dev == d {
			d.raw.DestroyTexture(t.raw)
			delete(b.textures, id)
		}
	}
	for id, buf := range b.buffers {
		if buf.dev == d {
			if cb := buf.mapping.Fail(); cb != nil {
				b.due = append(b.due, dueCallback{cb: cb, status: backend.MapStatusDeviceLost})
			}
			d.raw.DestroyBuffer(buf.raw)
			delete(b.buffers, id)
		}
	}

	if !d.external {
		d.raw.Destroy()
	}
}

func releaseAll[K comparable, T any](table map[K]owned[T], d *device, destroy func(T)) {
	for id, r := range table {
		if r.dev == d {
			destroy(r.raw)
			delete(table, id)
		}
	}
}

// Close releases every device and the instance. Pending map callbacks are
// dropped.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[*device]bool, len(b.devices))
	for _, d := range b.devices {
		if !seen[d] {
			seen[d] = true
			b.release(d)
		}
	}
	b.reset()
	if b.instance != nil {
		b.instance.Destroy()
		b.instance = nil
	}
}

var _ backend.Backend = (*Backend)(nil)
