// Package request defines the operations the GPU actor executes.
//
// Every variant carries the identifiers it acts on; identifiers are
// allocated by the sender. Requests that produce a direct result carry a
// one-shot Reply channel, which the sender must create with capacity 1 since
// the actor never blocks on a reply. Requests that validate against a device
// carry a Scope; their outcome arrives later as a script.OpResult.
package request

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/script"
)

// Request is one operation for the actor.
type Request interface {
	Kind() Kind
}

// Result carries a value or the error that prevented it.
type Result[T any] struct {
	Value T
	Err   error
}

// AdapterResponse answers RequestAdapter.
type AdapterResponse struct {
	Adapter gpucore.AdapterID
	Name    string
	Info    backend.AdapterInfo
}

// DeviceResponse answers RequestDevice.
type DeviceResponse struct {
	Device     gpucore.DeviceID
	Queue      gpucore.QueueID
	Descriptor gpucore.DeviceDescriptor
}

// BufferMapAsync maps a buffer range. On success Reply receives a copy of
// the range; on failure Reply is closed. The mapping stays open until
// BufferMapComplete and UnmapBuffer.
type BufferMapAsync struct {
	Reply  chan<- []byte
	Buffer gpucore.BufferID
	Mode   gputypes.MapMode
	Offset uint64
	Size   uint64
}

// BufferMapComplete tells the actor the mapped bytes were consumed.
type BufferMapComplete struct {
	Buffer gpucore.BufferID
}

// UnmapBuffer ends a mapping. For write mappings Data is copied into
// [Offset, Offset+Size) first.
type UnmapBuffer struct {
	Buffer    gpucore.BufferID
	Data      []byte
	IsMapRead bool
	Offset    uint64
	Size      uint64
}

type CommandEncoderFinish struct {
	Encoder gpucore.CommandEncoderID
}

type CopyBufferToBuffer struct {
	Encoder           gpucore.CommandEncoderID
	Source            gpucore.BufferID
	SourceOffset      uint64
	Destination       gpucore.BufferID
	DestinationOffset uint64
	Size              uint64
}

type CreateCommandEncoder struct {
	Device  gpucore.DeviceID
	Encoder gpucore.CommandEncoderID
}

type RunComputePass struct {
	Encoder gpucore.CommandEncoderID
	Pass    *gpucore.ComputePass
}

type RunRenderPass struct {
	Encoder gpucore.CommandEncoderID
	Pass    *gpucore.RenderPass
}

// Scoped resource creation.

type CreateBindGroup struct {
	Device     gpucore.DeviceID
	Scope      gpucore.ScopeID
	BindGroup  gpucore.BindGroupID
	Descriptor gpucore.BindGroupDescriptor
}

type CreateBindGroupLayout struct {
	Device          gpucore.DeviceID
	Scope           gpucore.ScopeID
	BindGroupLayout gpucore.BindGroupLayoutID
	Descriptor      gpucore.BindGroupLayoutDescriptor
}

type CreatePipelineLayout struct {
	Device         gpucore.DeviceID
	Scope          gpucore.ScopeID
	PipelineLayout gpucore.PipelineLayoutID
	Descriptor     gpucore.PipelineLayoutDescriptor
}

type CreateComputePipeline struct {
	Device          gpucore.DeviceID
	Scope           gpucore.ScopeID
	ComputePipeline gpucore.ComputePipelineID
	Descriptor      gpucore.ComputePipelineDescriptor
}

type CreateRenderPipeline struct {
	Device         gpucore.DeviceID
	Scope          gpucore.ScopeID
	RenderPipeline gpucore.RenderPipelineID
	Descriptor     gpucore.RenderPipelineDescriptor
}

type CreateShaderModule struct {
	Device     gpucore.DeviceID
	Scope      gpucore.ScopeID
	Module     gpucore.ShaderModuleID
	Descriptor gpucore.ShaderModuleDescriptor
}

// Unscoped resource creation. Failures are only logged.

type CreateBuffer struct {
	Device     gpucore.DeviceID
	Buffer     gpucore.BufferID
	Descriptor gpucore.BufferDescriptor
}

type CreateSampler struct {
	Device     gpucore.DeviceID
	Sampler    gpucore.SamplerID
	Descriptor gpucore.SamplerDescriptor
}

type CreateTexture struct {
	Device     gpucore.DeviceID
	Texture    gpucore.TextureID
	Descriptor gpucore.TextureDescriptor
}

type CreateTextureView struct {
	Texture    gpucore.TextureID
	View       gpucore.TextureViewID
	Descriptor gpucore.TextureViewDescriptor
}

// CreateContext allocates an external image id for a new canvas.
type CreateContext struct {
	Reply chan<- extimage.ExternalID
}

// CreateSwapChain sets up presentation for ExternalID with the reserved
// staging buffer ids in Buffers. Reply receives the compositor image key.
type CreateSwapChain struct {
	Device     gpucore.DeviceID
	Buffers    []gpucore.BufferID
	ExternalID extimage.ExternalID
	Descriptor extimage.ImageDescriptor
	Reply      chan<- extimage.ImageKey
}

// DestroySwapChain releases a swap chain and its staging buffers.
type DestroySwapChain struct {
	ExternalID extimage.ExternalID
	ImageKey   extimage.ImageKey
}

// SwapChainPresent copies Texture into a staging buffer using the encoder
// id Encoder and publishes it once the copy can be read.
type SwapChainPresent struct {
	ExternalID extimage.ExternalID
	Texture    gpucore.TextureID
	Encoder    gpucore.CommandEncoderID
}

// PublishFrame is queued by the actor itself when a present readback
// completes.
type PublishFrame struct {
	Buffer     gpucore.BufferID
	ExternalID extimage.ExternalID
	Size       uint64
}

type DestroyBuffer struct {
	Buffer gpucore.BufferID
}

type DestroyTexture struct {
	Texture gpucore.TextureID
}

// DropResource releases a view, sampler, shader module, layout, bind group
// or pipeline.
type DropResource struct {
	Resource gpucore.Kind
	ID       gpucore.RawID
}

// RequestAdapter binds the first of IDs owned by the actor's backend.
type RequestAdapter struct {
	Reply   chan<- Result[AdapterResponse]
	Options gpucore.AdapterOptions
	IDs     []gpucore.AdapterID
}

// RequestDevice opens Device on Adapter for the script pipeline Pipeline.
type RequestDevice struct {
	Reply      chan<- Result[DeviceResponse]
	Adapter    gpucore.AdapterID
	Descriptor gpucore.DeviceDescriptor
	Device     gpucore.DeviceID
	Pipeline   script.PipelineID
}

type FreeDevice struct {
	Device gpucore.DeviceID
}

type Submit struct {
	Queue          gpucore.QueueID
	CommandBuffers []gpucore.CommandBufferID
}

type WriteBuffer struct {
	Queue  gpucore.QueueID
	Buffer gpucore.BufferID
	Offset uint64
	Data   []byte
}

type WriteTexture struct {
	Queue       gpucore.QueueID
	Destination gpucore.TextureCopy
	Layout      gpucore.TextureDataLayout
	Size        gpucore.Extent3D
	Data        []byte
}

// Exit stops the actor. Reply is signalled once the loop has ended its
// last iteration; requests queued after Exit are never executed.
type Exit struct {
	Reply chan<- struct{}
}

func (BufferMapAsync) Kind() Kind        { return KindBufferMapAsync }
func (BufferMapComplete) Kind() Kind     { return KindBufferMapComplete }
func (UnmapBuffer) Kind() Kind           { return KindUnmapBuffer }
func (CommandEncoderFinish) Kind() Kind  { return KindCommandEncoderFinish }
func (CopyBufferToBuffer) Kind() Kind    { return KindCopyBufferToBuffer }
func (CreateCommandEncoder) Kind() Kind  { return KindCreateCommandEncoder }
func (RunComputePass) Kind() Kind        { return KindRunComputePass }
func (RunRenderPass) Kind() Kind         { return KindRunRenderPass }
func (CreateBindGroup) Kind() Kind       { return KindCreateBindGroup }
func (CreateBindGroupLayout) Kind() Kind { return KindCreateBindGroupLayout }
func (CreatePipelineLayout) Kind() Kind  { return KindCreatePipelineLayout }
func (CreateComputePipeline) Kind() Kind { return KindCreateComputePipeline }
func (CreateRenderPipeline) Kind() Kind  { return KindCreateRenderPipeline }
func (CreateShaderModule) Kind() Kind    { return KindCreateShaderModule }
func (CreateBuffer) Kind() Kind          { return KindCreateBuffer }
func (CreateSampler) Kind() Kind         { return KindCreateSampler }
func (CreateTexture) Kind() Kind         { return KindCreateTexture }
func (CreateTextureView) Kind() Kind     { return KindCreateTextureView }
func (CreateContext) Kind() Kind         { return KindCreateContext }
func (CreateSwapChain) Kind() Kind       { return KindCreateSwapChain }
func (DestroySwapChain) Kind() Kind      { return KindDestroySwapChain }
func (SwapChainPresent) Kind() Kind      { return KindSwapChainPresent }
func (PublishFrame) Kind() Kind          { return KindPublishFrame }
func (DestroyBuffer) Kind() Kind         { return KindDestroyBuffer }
func (DestroyTexture) Kind() Kind        { return KindDestroyTexture }
func (DropResource) Kind() Kind          { return KindDropResource }
func (RequestAdapter) Kind() Kind        { return KindRequestAdapter }
func (RequestDevice) Kind() Kind         { return KindRequestDevice }
func (FreeDevice) Kind() Kind            { return KindFreeDevice }
func (Submit) Kind() Kind                { return KindSubmit }
func (WriteBuffer) Kind() Kind           { return KindWriteBuffer }
func (WriteTexture) Kind() Kind          { return KindWriteTexture }
func (Exit) Kind() Kind                  { return KindExit }
