package gpucore

import "github.com/gogpu/gputypes"

// PipelineLayoutDescriptor describes a pipeline layout.
type PipelineLayoutDescriptor struct {
	Label            string
	BindGroupLayouts []BindGroupLayoutID
}

// ProgrammableStage selects a shader entry point.
type ProgrammableStage struct {
	Module     ShaderModuleID
	EntryPoint string
}

// ComputePipelineDescriptor describes a compute pipeline.
type ComputePipelineDescriptor struct {
	Label   string
	Layout  PipelineLayoutID
	Compute ProgrammableStage
}

// VertexState is the vertex stage of a render pipeline.
type VertexState struct {
	ProgrammableStage
	Buffers []gputypes.VertexBufferLayout
}

// FragmentState is the optional fragment stage of a render pipeline.
type FragmentState struct {
	ProgrammableStage
	Targets []gputypes.ColorTargetState
}

// RenderPipelineDescriptor describes a render pipeline.
type RenderPipelineDescriptor struct {
	Label       string
	Layout      PipelineLayoutID
	Vertex      VertexState
	Fragment    *FragmentState
	Primitive   gputypes.PrimitiveState
	Multisample gputypes.MultisampleState
}

// ComputeCommand is one recorded compute pass command.
type ComputeCommand interface {
	computeCommand()
}

// RenderCommand is one recorded render pass command.
type RenderCommand interface {
	renderCommand()
}

// SetComputePipeline binds a compute pipeline.
type SetComputePipeline struct {
	Pipeline ComputePipelineID
}

// SetRenderPipeline binds a render pipeline.
type SetRenderPipeline struct {
	Pipeline RenderPipelineID
}

// SetBindGroup binds a bind group at Index. Valid in both pass kinds.
type SetBindGroup struct {
	Index          uint32
	Group          BindGroupID
	DynamicOffsets []uint32
}

// Dispatch launches compute workgroups.
type Dispatch struct {
	X, Y, Z uint32
}

// SetVertexBuffer binds a vertex buffer slot.
type SetVertexBuffer struct {
	Slot   uint32
	Buffer BufferID
	Offset uint64
}

// SetIndexBuffer binds the index buffer.
type SetIndexBuffer struct {
	Buffer BufferID
	Format gputypes.IndexFormat
	Offset uint64
}

// Draw issues a non-indexed draw.
type Draw struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

// DrawIndexed issues an indexed draw.
type DrawIndexed struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

func (SetComputePipeline) computeCommand() {}
func (SetBindGroup) computeCommand()       {}
func (Dispatch) computeCommand()           {}

func (SetRenderPipeline) renderCommand() {}
func (SetBindGroup) renderCommand()      {}
func (SetVertexBuffer) renderCommand()   {}
func (SetIndexBuffer) renderCommand()    {}
func (Draw) renderCommand()              {}
func (DrawIndexed) renderCommand()       {}

// ComputePass is a recorded compute pass, replayed by the backend into an
// open command encoder.
type ComputePass struct {
	Label    string
	Commands []ComputeCommand
}

// ColorAttachment is one render target of a render pass.
type ColorAttachment struct {
	View          TextureViewID
	ResolveTarget TextureViewID
	LoadOp        gputypes.LoadOp
	StoreOp       gputypes.StoreOp
	ClearValue    gputypes.Color
}

// RenderPass is a recorded render pass.
type RenderPass struct {
	Label            string
	ColorAttachments []ColorAttachment
	Commands         []RenderCommand
}
