package gpucore

import "fmt"

// RawID is the untyped 64-bit form of a resource identifier.
type RawID uint64

// Bit layout of a RawID.
const (
	indexBits   = 32
	epochBits   = 29
	backendBits = 3

	epochShift   = indexBits
	backendShift = indexBits + epochBits

	epochMask   = (1 << epochBits) - 1
	backendMask = (1 << backendBits) - 1
)

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID RawID = 0

// Backend selects the backend instance that owns a resource.
type Backend uint8

// Backend selectors. Values fit in three bits.
const (
	BackendEmpty Backend = iota
	BackendVulkan
	BackendMetal
	BackendDX12
	BackendGL
	BackendSoftware
)

func (b Backend) String() string {
	switch b {
	case BackendEmpty:
		return "empty"
	case BackendVulkan:
		return "vulkan"
	case BackendMetal:
		return "metal"
	case BackendDX12:
		return "dx12"
	case BackendGL:
		return "gl"
	case BackendSoftware:
		return "software"
	default:
		return fmt.Sprintf("Backend(%d)", uint8(b))
	}
}

// ZipID packs index, epoch and backend into a RawID.
// The epoch is truncated to 29 bits.
func ZipID(index, epoch uint32, backend Backend) RawID {
	return RawID(uint64(index) |
		uint64(epoch&epochMask)<<epochShift |
		uint64(backend&backendMask)<<backendShift)
}

// Unzip splits the identifier into its fields.
func (id RawID) Unzip() (index, epoch uint32, backend Backend) {
	index = uint32(id)
	epoch = uint32(id>>epochShift) & epochMask
	backend = Backend(id>>backendShift) & backendMask
	return index, epoch, backend
}

// Index returns the slot index.
func (id RawID) Index() uint32 { return uint32(id) }

// Epoch returns the recycle generation.
func (id RawID) Epoch() uint32 { return uint32(id>>epochShift) & epochMask }

// Backend returns the owning backend selector.
func (id RawID) Backend() Backend { return Backend(id>>backendShift) & backendMask }

// IsZero reports whether id is the invalid identifier.
func (id RawID) IsZero() bool { return id == InvalidID }

func (id RawID) String() string {
	idx, epoch, be := id.Unzip()
	return fmt.Sprintf("(%d,%d,%s)", idx, epoch, be)
}

// Kind names a resource kind.
type Kind uint8

// Resource kinds.
const (
	KindInvalid Kind = iota
	KindAdapter
	KindDevice
	KindQueue
	KindBuffer
	KindTexture
	KindTextureView
	KindSampler
	KindShaderModule
	KindBindGroupLayout
	KindBindGroup
	KindPipelineLayout
	KindComputePipeline
	KindRenderPipeline
	KindCommandEncoder
	KindCommandBuffer
	KindSwapChain

	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid:         "Invalid",
	KindAdapter:         "Adapter",
	KindDevice:          "Device",
	KindQueue:           "Queue",
	KindBuffer:          "Buffer",
	KindTexture:         "Texture",
	KindTextureView:     "TextureView",
	KindSampler:         "Sampler",
	KindShaderModule:    "ShaderModule",
	KindBindGroupLayout: "BindGroupLayout",
	KindBindGroup:       "BindGroup",
	KindPipelineLayout:  "PipelineLayout",
	KindComputePipeline: "ComputePipeline",
	KindRenderPipeline:  "RenderPipeline",
	KindCommandEncoder:  "CommandEncoder",
	KindCommandBuffer:   "CommandBuffer",
	KindSwapChain:       "SwapChain",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k names a real resource kind.
func (k Kind) Valid() bool { return k > KindInvalid && k < kindCount }

// marker ties a typed identifier to its resource kind.
type marker interface {
	kind() Kind
}

// ID is a typed resource identifier. The type parameter only carries the
// resource kind; all instantiations share the RawID layout.
type ID[M marker] RawID

// Raw returns the untyped identifier.
func (id ID[M]) Raw() RawID { return RawID(id) }

// Kind returns the resource kind named by the identifier type.
func (id ID[M]) Kind() Kind {
	var m M
	return m.kind()
}

// Backend returns the owning backend selector.
func (id ID[M]) Backend() Backend { return RawID(id).Backend() }

// IsZero reports whether id is the invalid identifier.
func (id ID[M]) IsZero() bool { return RawID(id) == InvalidID }

func (id ID[M]) String() string {
	return id.Kind().String() + RawID(id).String()
}

type (
	adapterKind         struct{}
	deviceKind          struct{}
	queueKind           struct{}
	bufferKind          struct{}
	textureKind         struct{}
	textureViewKind     struct{}
	samplerKind         struct{}
	shaderModuleKind    struct{}
	bindGroupLayoutKind struct{}
	bindGroupKind       struct{}
	pipelineLayoutKind  struct{}
	computePipelineKind struct{}
	renderPipelineKind  struct{}
	commandEncoderKind  struct{}
	commandBufferKind   struct{}
	swapChainKind       struct{}
)

func (adapterKind) kind() Kind         { return KindAdapter }
func (deviceKind) kind() Kind          { return KindDevice }
func (queueKind) kind() Kind           { return KindQueue }
func (bufferKind) kind() Kind          { return KindBuffer }
func (textureKind) kind() Kind         { return KindTexture }
func (textureViewKind) kind() Kind     { return KindTextureView }
func (samplerKind) kind() Kind         { return KindSampler }
func (shaderModuleKind) kind() Kind    { return KindShaderModule }
func (bindGroupLayoutKind) kind() Kind { return KindBindGroupLayout }
func (bindGroupKind) kind() Kind       { return KindBindGroup }
func (pipelineLayoutKind) kind() Kind  { return KindPipelineLayout }
func (computePipelineKind) kind() Kind { return KindComputePipeline }
func (renderPipelineKind) kind() Kind  { return KindRenderPipeline }
func (commandEncoderKind) kind() Kind  { return KindCommandEncoder }
func (commandBufferKind) kind() Kind   { return KindCommandBuffer }
func (swapChainKind) kind() Kind       { return KindSwapChain }

// Typed identifiers.
type (
	AdapterID         = ID[adapterKind]
	DeviceID          = ID[deviceKind]
	QueueID           = ID[queueKind]
	BufferID          = ID[bufferKind]
	TextureID         = ID[textureKind]
	TextureViewID     = ID[textureViewKind]
	SamplerID         = ID[samplerKind]
	ShaderModuleID    = ID[shaderModuleKind]
	BindGroupLayoutID = ID[bindGroupLayoutKind]
	BindGroupID       = ID[bindGroupKind]
	PipelineLayoutID  = ID[pipelineLayoutKind]
	ComputePipelineID = ID[computePipelineKind]
	RenderPipelineID  = ID[renderPipelineKind]
	CommandEncoderID  = ID[commandEncoderKind]
	CommandBufferID   = ID[commandBufferKind]
	SwapChainID       = ID[swapChainKind]
)

// QueueOf returns the queue of a device. Devices have exactly one queue and
// it shares the device identifier.
func QueueOf(device DeviceID) QueueID { return QueueID(device) }

// DeviceOf is the inverse of QueueOf.
func DeviceOf(queue QueueID) DeviceID { return DeviceID(queue) }

// CommandBufferOf returns the command buffer produced by finishing encoder.
func CommandBufferOf(encoder CommandEncoderID) CommandBufferID {
	return CommandBufferID(encoder)
}

// EncoderOf is the inverse of CommandBufferOf.
func EncoderOf(cmd CommandBufferID) CommandEncoderID { return CommandEncoderID(cmd) }

// ScopeID correlates a validation result with the request that caused it.
// Zero means the request carries no scope.
type ScopeID uint64

// NoScope is the zero ScopeID.
const NoScope ScopeID = 0
