// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package native

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

type fixture struct {
	t   *testing.T
	b   *Backend
	hub *gpucore.Hub
	dev gpucore.DeviceID
}

func newNoopFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := NewNoop()
	if err != nil {
		t.Fatalf("NewNoop() error = %v", err)
	}
	t.Cleanup(b.Close)
	return bindDevice(t, b)
}

func bindDevice(t *testing.T, b *Backend) *fixture {
	t.Helper()
	hub := gpucore.NewHub(b.Variant())
	adapter, err := b.RequestAdapter(gpucore.AdapterOptions{}, []gpucore.AdapterID{hub.Adapters.Alloc()})
	if err != nil {
		t.Fatalf("RequestAdapter() error = %v", err)
	}
	dev := hub.Devices.Alloc()
	if err := b.RequestDevice(adapter, &gpucore.DeviceDescriptor{Label: "test"}, dev); err != nil {
		t.Fatalf("RequestDevice() error = %v", err)
	}
	return &fixture{t: t, b: b, hub: hub, dev: dev}
}

func (f *fixture) buffer(desc gpucore.BufferDescriptor) gpucore.BufferID {
	f.t.Helper()
	id := f.hub.Buffers.Alloc()
	if err := f.b.CreateBuffer(f.dev, id, &desc); err != nil {
		f.t.Fatalf("CreateBuffer() error = %v", err)
	}
	return id
}

func (f *fixture) encode(record func(enc gpucore.CommandEncoderID) error) gpucore.CommandBufferID {
	f.t.Helper()
	enc := f.hub.CommandEncoders.Alloc()
	if err := f.b.CreateCommandEncoder(f.dev, enc); err != nil {
		f.t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	if err := record(enc); err != nil {
		f.t.Fatalf("record error = %v", err)
	}
	if err := f.b.CommandEncoderFinish(enc); err != nil {
		f.t.Fatalf("CommandEncoderFinish() error = %v", err)
	}
	return gpucore.CommandBufferOf(enc)
}

func TestRegistered(t *testing.T) {
	for _, name := range []string{backend.BackendNative, backend.BackendNoop} {
		if !backend.IsRegistered(name) {
			t.Errorf("backend %q not registered", name)
		}
	}
}

func TestNoopIdentity(t *testing.T) {
	f := newNoopFixture(t)
	if got := f.b.Name(); got != backend.BackendNoop {
		t.Errorf("Name() = %q, want %q", got, backend.BackendNoop)
	}
	if got := f.b.Variant(); got != gpucore.BackendEmpty {
		t.Errorf("Variant() = %v, want %v", got, gpucore.BackendEmpty)
	}
}

func TestRequestAdapterRejectsForeignIDs(t *testing.T) {
	b, err := NewNoop()
	if err != nil {
		t.Fatalf("NewNoop() error = %v", err)
	}
	defer b.Close()

	foreign := gpucore.NewHub(gpucore.BackendVulkan)
	if _, err := b.RequestAdapter(gpucore.AdapterOptions{}, []gpucore.AdapterID{foreign.Adapters.Alloc()}); err == nil {
		t.Fatal("RequestAdapter() with only foreign ids succeeded")
	}
}

func TestMapReadAfterCopy(t *testing.T) {
	f := newNoopFixture(t)
	const size = 64
	src := f.buffer(gpucore.BufferDescriptor{Size: size, Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst})
	dst := f.buffer(gpucore.BufferDescriptor{Size: size, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst})

	if err := f.b.QueueWriteBuffer(gpucore.QueueOf(f.dev), src, 0, make([]byte, size)); err != nil {
		t.Fatalf("QueueWriteBuffer() error = %v", err)
	}
	cmd := f.encode(func(enc gpucore.CommandEncoderID) error {
		return f.b.CopyBufferToBuffer(enc, src, 0, dst, 0, size)
	})
	if err := f.b.QueueSubmit(gpucore.QueueOf(f.dev), []gpucore.CommandBufferID{cmd}); err != nil {
		t.Fatalf("QueueSubmit() error = %v", err)
	}

	var status []backend.MapStatus
	if err := f.b.BufferMapAsync(dst, gputypes.MapModeRead, 0, size, func(s backend.MapStatus) {
		status = append(status, s)
	}); err != nil {
		t.Fatalf("BufferMapAsync() error = %v", err)
	}
	if len(status) != 0 {
		t.Fatalf("callback fired before Poll: %v", status)
	}
	if err := f.b.Poll(true); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(status) != 1 || status[0] != backend.MapStatusSuccess {
		t.Fatalf("callbacks = %v, want [Success]", status)
	}
	view, err := f.b.BufferGetMappedRange(dst, 0, size)
	if err != nil {
		t.Fatalf("BufferGetMappedRange() error = %v", err)
	}
	if len(view) != size {
		t.Errorf("len(view) = %d, want %d", len(view), size)
	}
	if err := f.b.BufferUnmap(dst); err != nil {
		t.Fatalf("BufferUnmap() error = %v", err)
	}
}

// mapNow maps id and polls until the callback reports success.
func (f *fixture) mapNow(id gpucore.BufferID, mode gputypes.MapMode, offset, size uint64) []byte {
	f.t.Helper()
	var status []backend.MapStatus
	if err := f.b.BufferMapAsync(id, mode, offset, size, func(s backend.MapStatus) {
		status = append(status, s)
	}); err != nil {
		f.t.Fatalf("BufferMapAsync() error = %v", err)
	}
	if err := f.b.Poll(true); err != nil {
		f.t.Fatalf("Poll() error = %v", err)
	}
	if len(status) != 1 || status[0] != backend.MapStatusSuccess {
		f.t.Fatalf("callbacks = %v, want [Success]", status)
	}
	view, err := f.b.BufferGetMappedRange(id, offset, size)
	if err != nil {
		f.t.Fatalf("BufferGetMappedRange() error = %v", err)
	}
	return view
}

func TestPartialWriteKeepsMappedContents(t *testing.T) {
	f := newNoopFixture(t)
	buf := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc})

	view := f.mapNow(buf, gputypes.MapModeWrite, 0, 16)
	for i := range view {
		view[i] = byte(i + 1)
	}
	if err := f.b.BufferUnmap(buf); err != nil {
		t.Fatalf("BufferUnmap() error = %v", err)
	}

	view = f.mapNow(buf, gputypes.MapModeWrite, 0, 16)
	if view[15] != 16 {
		t.Fatalf("write mapping starts with %v, want the current contents", view)
	}
	view[0] = 0xAA
	if err := f.b.BufferUnmap(buf); err != nil {
		t.Fatalf("BufferUnmap() error = %v", err)
	}

	view = f.mapNow(buf, gputypes.MapModeWrite, 0, 16)
	if view[0] != 0xAA || view[1] != 2 || view[15] != 16 {
		t.Errorf("contents after partial write = %v, want 0xAA then 2..16", view)
	}
	if err := f.b.BufferUnmap(buf); err != nil {
		t.Fatalf("BufferUnmap() error = %v", err)
	}
}

func TestSubmitCompletesThroughQueueIndex(t *testing.T) {
	f := newNoopFixture(t)
	src := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopySrc})
	dst := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst})
	for i := 0; i < 2; i++ {
		cmd := f.encode(func(enc gpucore.CommandEncoderID) error {
			return f.b.CopyBufferToBuffer(enc, src, 0, dst, 0, 16)
		})
		if err := f.b.QueueSubmit(gpucore.QueueOf(f.dev), []gpucore.CommandBufferID{cmd}); err != nil {
			t.Fatalf("QueueSubmit() error = %v", err)
		}
	}
	d := f.b.devices[f.dev]
	if d.submitted != 2 || len(d.inflight) != 2 {
		t.Fatalf("submitted = %d, inflight = %d; want 2, 2", d.submitted, len(d.inflight))
	}
	if err := f.b.Poll(false); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if d.completed != 2 || len(d.inflight) != 0 {
		t.Errorf("completed = %d, inflight = %d; want 2, 0", d.completed, len(d.inflight))
	}
}

func TestMapValidationSkipsCallback(t *testing.T) {
	f := newNoopFixture(t)
	buf := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopyDst})

	called := false
	err := f.b.BufferMapAsync(buf, gputypes.MapModeRead, 0, 16, func(backend.MapStatus) { called = true })
	if !errors.Is(err, backend.ErrMapUsageMismatch) {
		t.Fatalf("BufferMapAsync() error = %v, want ErrMapUsageMismatch", err)
	}
	if err := f.b.Poll(true); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if called {
		t.Error("callback invoked for a rejected request")
	}
}

func TestPendingMapAbortedBeforeCallback(t *testing.T) {
	tests := []struct {
		name  string
		abort func(f *fixture, id gpucore.BufferID) error
		want  backend.MapStatus
	}{
		{
			name:  "unmap",
			abort: func(f *fixture, id gpucore.BufferID) error { return f.b.BufferUnmap(id) },
			want:  backend.MapStatusUnmappedBeforeCallback,
		},
		{
			name:  "destroy",
			abort: func(f *fixture, id gpucore.BufferID) error { return f.b.DestroyBuffer(id) },
			want:  backend.MapStatusDestroyedBeforeCallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNoopFixture(t)
			buf := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapRead})

			var status []backend.MapStatus
			if err := f.b.BufferMapAsync(buf, gputypes.MapModeRead, 0, 16, func(s backend.MapStatus) {
				status = append(status, s)
			}); err != nil {
				t.Fatalf("BufferMapAsync() error = %v", err)
			}
			if err := tt.abort(f, buf); err != nil {
				t.Fatalf("abort error = %v", err)
			}
			if len(status) != 0 {
				t.Fatalf("callback fired before Poll: %v", status)
			}
			if err := f.b.Poll(false); err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if len(status) != 1 || status[0] != tt.want {
				t.Errorf("callbacks = %v, want [%v]", status, tt.want)
			}
		})
	}
}

func TestMappedAtCreation(t *testing.T) {
	f := newNoopFixture(t)
	buf := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageVertex, MappedAtCreation: true})

	view, err := f.b.BufferGetMappedRange(buf, 0, 16)
	if err != nil {
		t.Fatalf("BufferGetMappedRange() error = %v", err)
	}
	copy(view, []byte{1, 2, 3, 4})
	if err := f.b.BufferUnmap(buf); err != nil {
		t.Fatalf("BufferUnmap() error = %v", err)
	}
	if _, err := f.b.BufferGetMappedRange(buf, 0, 16); !errors.Is(err, backend.ErrNotMapped) {
		t.Errorf("BufferGetMappedRange() after unmap error = %v, want ErrNotMapped", err)
	}
}

func TestSubmitRejectsMappedBuffer(t *testing.T) {
	f := newNoopFixture(t)
	src := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopySrc, MappedAtCreation: true})
	dst := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopyDst})

	cmd := f.encode(func(enc gpucore.CommandEncoderID) error {
		return f.b.CopyBufferToBuffer(enc, src, 0, dst, 0, 16)
	})
	err := f.b.QueueSubmit(gpucore.QueueOf(f.dev), []gpucore.CommandBufferID{cmd})
	var verr *backend.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("QueueSubmit() error = %v, want ValidationError", err)
	}
}

func TestCopyTextureToBufferRejectsUnalignedStride(t *testing.T) {
	f := newNoopFixture(t)
	tex := f.hub.Textures.Alloc()
	if err := f.b.CreateTexture(f.dev, tex, &gpucore.TextureDescriptor{
		Size:   gpucore.Extent3D{Width: 4, Height: 4},
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageCopySrc,
	}); err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	buf := f.buffer(gpucore.BufferDescriptor{Size: 1024, Usage: gputypes.BufferUsageCopyDst})

	enc := f.hub.CommandEncoders.Alloc()
	if err := f.b.CreateCommandEncoder(f.dev, enc); err != nil {
		t.Fatalf("CreateCommandEncoder() error = %v", err)
	}
	err := f.b.CopyTextureToBuffer(enc,
		gpucore.TextureCopy{Texture: tex},
		gpucore.BufferCopy{Buffer: buf, Layout: gpucore.TextureDataLayout{BytesPerRow: 16}},
		gpucore.Extent3D{Width: 4, Height: 4, DepthOrArrayLayers: 1})
	var verr *backend.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("CopyTextureToBuffer() error = %v, want ValidationError", err)
	}
	if err := f.b.Drop(gpucore.KindCommandEncoder, enc.Raw()); err != nil {
		t.Fatalf("Drop(encoder) error = %v", err)
	}
}

func TestRenderPassAndReadback(t *testing.T) {
	f := newNoopFixture(t)
	const w, h = 8, 2
	tex := f.hub.Textures.Alloc()
	if err := f.b.CreateTexture(f.dev, tex, &gpucore.TextureDescriptor{
		Size:   gpucore.Extent3D{Width: w, Height: h},
		Format: gputypes.TextureFormatBGRA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	}); err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	view := f.hub.TextureViews.Alloc()
	if err := f.b.CreateTextureView(tex, view, nil); err != nil {
		t.Fatalf("CreateTextureView() error = %v", err)
	}
	stride := gpucore.PaddedBytesPerRow(w)
	buf := f.buffer(gpucore.BufferDescriptor{
		Size:  uint64(stride) * h,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})

	cmd := f.encode(func(enc gpucore.CommandEncoderID) error {
		if err := f.b.RunRenderPass(enc, &gpucore.RenderPass{
			ColorAttachments: []gpucore.ColorAttachment{{
				View:       view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 1, A: 1},
			}},
		}); err != nil {
			return err
		}
		return f.b.CopyTextureToBuffer(enc,
			gpucore.TextureCopy{Texture: tex},
			gpucore.BufferCopy{Buffer: buf, Layout: gpucore.TextureDataLayout{BytesPerRow: stride, RowsPerImage: h}},
			gpucore.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1})
	})
	if err := f.b.QueueSubmit(gpucore.QueueOf(f.dev), []gpucore.CommandBufferID{cmd}); err != nil {
		t.Fatalf("QueueSubmit() error = %v", err)
	}
	if got := f.b.textures[tex].state; got != gputypes.TextureUsageCopySrc {
		t.Errorf("texture state = %v, want CopySrc", got)
	}

	var status []backend.MapStatus
	if err := f.b.BufferMapAsync(buf, gputypes.MapModeRead, 0, uint64(stride)*h, func(s backend.MapStatus) {
		status = append(status, s)
	}); err != nil {
		t.Fatalf("BufferMapAsync() error = %v", err)
	}
	if err := f.b.Poll(true); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(status) != 1 || status[0] != backend.MapStatusSuccess {
		t.Fatalf("callbacks = %v, want [Success]", status)
	}
}

func TestBindGroupRejectsNonBufferBinding(t *testing.T) {
	f := newNoopFixture(t)
	layout := f.hub.BindGroupLayouts.Alloc()
	if err := f.b.CreateBindGroupLayout(f.dev, layout, &gpucore.BindGroupLayoutDescriptor{}); err != nil {
		t.Fatalf("CreateBindGroupLayout() error = %v", err)
	}
	err := f.b.CreateBindGroup(f.dev, f.hub.BindGroups.Alloc(), &gpucore.BindGroupDescriptor{
		Layout:  layout,
		Entries: []gpucore.BindGroupEntry{{Binding: 0, Resource: gpucore.SamplerBinding{}}},
	})
	var verr *backend.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("CreateBindGroup() error = %v, want ValidationError", err)
	}
}

func TestDropDeviceReleasesResources(t *testing.T) {
	f := newNoopFixture(t)
	buf := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageMapRead})

	var status []backend.MapStatus
	if err := f.b.BufferMapAsync(buf, gputypes.MapModeRead, 0, 16, func(s backend.MapStatus) {
		status = append(status, s)
	}); err != nil {
		t.Fatalf("BufferMapAsync() error = %v", err)
	}
	if err := f.b.DropDevice(f.dev); err != nil {
		t.Fatalf("DropDevice() error = %v", err)
	}
	if err := f.b.DestroyBuffer(buf); !errors.Is(err, backend.ErrUnknownID) {
		t.Errorf("DestroyBuffer() after DropDevice error = %v, want ErrUnknownID", err)
	}
	if err := f.b.Poll(false); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(status) != 1 || status[0] != backend.MapStatusDeviceLost {
		t.Errorf("callbacks = %v, want [DeviceLost]", status)
	}
}

func TestClose(t *testing.T) {
	b, err := NewNoop()
	if err != nil {
		t.Fatalf("NewNoop() error = %v", err)
	}
	b.Close()
	b.Close()
	if err := b.Poll(false); !errors.Is(err, ErrClosed) {
		t.Errorf("Poll() after Close error = %v, want ErrClosed", err)
	}
}

// plainProvider satisfies gpucontext.DeviceProvider without HAL access.
type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device { return nil }
func (plainProvider) Queue() gpucontext.Queue { return nil }
func (plainProvider) Adapter() gpucontext.Adapter { return nil }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (plainProvider) AdapterInfo() gpucontext.AdapterInfo { return gpucontext.AdapterInfo{} }

// halProvider exposes a noop HAL device the way host applications do.
type halProvider struct {
	plainProvider
	device hal.Device
	queue  hal.Queue
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any { return p.queue }

func TestNewFromProvider(t *testing.T) {
	if _, err := NewFromProvider(plainProvider{}, gpucore.BackendVulkan); err == nil {
		t.Error("NewFromProvider() accepted a provider without HAL access")
	}

	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	defer instance.Destroy()
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer openDev.Device.Destroy()

	b, err := NewFromProvider(halProvider{device: openDev.Device, queue: openDev.Queue}, gpucore.BackendVulkan)
	if err != nil {
		t.Fatalf("NewFromProvider() error = %v", err)
	}
	f := bindDevice(t, b)
	buf := f.buffer(gpucore.BufferDescriptor{Size: 16, Usage: gputypes.BufferUsageCopyDst})
	if err := f.b.QueueWriteBuffer(gpucore.QueueOf(f.dev), buf, 0, make([]byte, 16)); err != nil {
		t.Fatalf("QueueWriteBuffer() error = %v", err)
	}
	b.Close()
}
