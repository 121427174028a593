package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownID is returned when an identifier does not name a live resource.
	ErrUnknownID = errors.New("backend: unknown identifier")

	// ErrIDInUse is returned when a create request reuses a live identifier.
	ErrIDInUse = errors.New("backend: identifier already in use")

	// ErrWrongBackend is returned when an identifier belongs to another backend.
	ErrWrongBackend = errors.New("backend: identifier belongs to another backend")

	// ErrNoAdapter is returned when no adapter matches the request.
	ErrNoAdapter = errors.New("backend: no suitable adapter")

	// ErrUnsupported is returned for operations the backend cannot perform.
	ErrUnsupported = errors.New("backend: unsupported operation")
)

// ValidationError reports a request rejected by backend validation. The
// dispatcher forwards its text to script as a scoped operation result.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(op, format string, args ...any) error {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// AdapterInfo describes a physical adapter.
type AdapterInfo struct {
	Name       string
	Vendor     string
	Driver     string
	DeviceType string
	Backend    gpucore.Backend
}

// MapCallback receives the outcome of BufferMapAsync. It is invoked from
// Poll on the goroutine that called Poll.
type MapCallback func(MapStatus)

// Backend executes GPU work addressed by typed identifiers.
//
// Identifiers are allocated by the caller and bound to native resources by
// the Create* methods. A failed creation leaves the identifier unbound; later
// requests naming it fail with ErrUnknownID.
//
// Implementations are driven from a single goroutine but must tolerate
// Close being called from another one after that goroutine has stopped.
type Backend interface {
	// Name returns the registry name of the backend (e.g., "native").
	Name() string

	// Variant returns the backend selector stamped into identifiers this
	// backend owns.
	Variant() gpucore.Backend

	// RequestAdapter binds the first compatible identifier in ids to an
	// adapter and returns it.
	RequestAdapter(opts gpucore.AdapterOptions, ids []gpucore.AdapterID) (gpucore.AdapterID, error)
	AdapterInfo(adapter gpucore.AdapterID) (AdapterInfo, error)
	RequestDevice(adapter gpucore.AdapterID, desc *gpucore.DeviceDescriptor, id gpucore.DeviceID) error
	DropDevice(id gpucore.DeviceID) error

	CreateBuffer(device gpucore.DeviceID, id gpucore.BufferID, desc *gpucore.BufferDescriptor) error
	DestroyBuffer(id gpucore.BufferID) error
	CreateTexture(device gpucore.DeviceID, id gpucore.TextureID, desc *gpucore.TextureDescriptor) error
	DestroyTexture(id gpucore.TextureID) error
	CreateTextureView(texture gpucore.TextureID, id gpucore.TextureViewID, desc *gpucore.TextureViewDescriptor) error
	CreateSampler(device gpucore.DeviceID, id gpucore.SamplerID, desc *gpucore.SamplerDescriptor) error
	CreateShaderModule(device gpucore.DeviceID, id gpucore.ShaderModuleID, desc *gpucore.ShaderModuleDescriptor) error
	CreateBindGroupLayout(device gpucore.DeviceID, id gpucore.BindGroupLayoutID, desc *gpucore.BindGroupLayoutDescriptor) error
	CreateBindGroup(device gpucore.DeviceID, id gpucore.BindGroupID, desc *gpucore.BindGroupDescriptor) error
	CreatePipelineLayout(device gpucore.DeviceID, id gpucore.PipelineLayoutID, desc *gpucore.PipelineLayoutDescriptor) error
	CreateComputePipeline(device gpucore.DeviceID, id gpucore.ComputePipelineID, desc *gpucore.ComputePipelineDescriptor) error
	CreateRenderPipeline(device gpucore.DeviceID, id gpucore.RenderPipelineID, desc *gpucore.RenderPipelineDescriptor) error

	// Drop releases a resource of any kind without a dedicated destroy
	// method (views, samplers, shader modules, layouts, bind groups,
	// pipelines).
	Drop(kind gpucore.Kind, id gpucore.RawID) error

	CreateCommandEncoder(device gpucore.DeviceID, id gpucore.CommandEncoderID) error
	CopyBufferToBuffer(encoder gpucore.CommandEncoderID, src gpucore.BufferID, srcOffset uint64,
		dst gpucore.BufferID, dstOffset uint64, size uint64) error
	CopyTextureToBuffer(encoder gpucore.CommandEncoderID, src gpucore.TextureCopy,
		dst gpucore.BufferCopy, size gpucore.Extent3D) error
	RunComputePass(encoder gpucore.CommandEncoderID, pass *gpucore.ComputePass) error
	RunRenderPass(encoder gpucore.CommandEncoderID, pass *gpucore.RenderPass) error
	// CommandEncoderFinish closes the encoder. The resulting command buffer
	// is named gpucore.CommandBufferOf(encoder).
	CommandEncoderFinish(encoder gpucore.CommandEncoderID) error

	QueueSubmit(queue gpucore.QueueID, cmds []gpucore.CommandBufferID) error
	QueueWriteBuffer(queue gpucore.QueueID, buffer gpucore.BufferID, offset uint64, data []byte) error
	QueueWriteTexture(queue gpucore.QueueID, dst gpucore.TextureCopy, data []byte,
		layout gpucore.TextureDataLayout, size gpucore.Extent3D) error

	// BufferMapAsync starts mapping [offset, offset+size) of buffer. On a
	// nil return, callback is invoked exactly once from a later Poll (or
	// with UnmappedBeforeCallback/DestroyedBeforeCallback if the buffer is
	// unmapped or destroyed first). On an error return, callback is never
	// invoked.
	BufferMapAsync(buffer gpucore.BufferID, mode gputypes.MapMode, offset, size uint64, callback MapCallback) error
	// BufferGetMappedRange returns the host view of a mapped range. The
	// slice aliases backend memory and is valid until BufferUnmap.
	BufferGetMappedRange(buffer gpucore.BufferID, offset, size uint64) ([]byte, error)
	BufferUnmap(buffer gpucore.BufferID) error

	// Poll drives pending work forward and fires due map callbacks. With
	// wait set it blocks until all submitted work has completed.
	Poll(wait bool) error

	// Close releases every resource and the native instance.
	Close()
}

// CheckOwner returns ErrWrongBackend if id is not stamped with variant.
func CheckOwner(variant gpucore.Backend, id gpucore.RawID) error {
	if got := id.Backend(); got != variant {
		return fmt.Errorf("%w: %s owned by %s, not %s", ErrWrongBackend, id, got, variant)
	}
	return nil
}

// PickAdapter returns the first identifier in ids owned by variant.
func PickAdapter(variant gpucore.Backend, ids []gpucore.AdapterID) (gpucore.AdapterID, error) {
	for _, id := range ids {
		if !id.IsZero() && id.Backend() == variant {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: none of %d ids is a %s id", ErrNoAdapter, len(ids), variant)
}
