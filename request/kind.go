package request

import "fmt"

// Kind identifies a request variant. Dispatch tables and metrics are keyed
// by it.
type Kind uint8

// Request kinds.
const (
	KindInvalid Kind = iota
	KindBufferMapAsync
	KindBufferMapComplete
	KindCommandEncoderFinish
	KindCopyBufferToBuffer
	KindCreateBindGroup
	KindCreateBindGroupLayout
	KindCreateBuffer
	KindCreateCommandEncoder
	KindCreateComputePipeline
	KindCreateContext
	KindCreatePipelineLayout
	KindCreateRenderPipeline
	KindCreateSampler
	KindCreateShaderModule
	KindCreateSwapChain
	KindCreateTexture
	KindCreateTextureView
	KindDestroyBuffer
	KindDestroySwapChain
	KindDestroyTexture
	KindDropResource
	KindExit
	KindFreeDevice
	KindRequestAdapter
	KindRequestDevice
	KindRunComputePass
	KindRunRenderPass
	KindSubmit
	KindSwapChainPresent
	KindUnmapBuffer
	KindPublishFrame
	KindWriteBuffer
	KindWriteTexture

	// KindCount is one past the last valid kind.
	KindCount
)

var kindNames = [KindCount]string{
	KindInvalid:               "Invalid",
	KindBufferMapAsync:        "BufferMapAsync",
	KindBufferMapComplete:     "BufferMapComplete",
	KindCommandEncoderFinish:  "CommandEncoderFinish",
	KindCopyBufferToBuffer:    "CopyBufferToBuffer",
	KindCreateBindGroup:       "CreateBindGroup",
	KindCreateBindGroupLayout: "CreateBindGroupLayout",
	KindCreateBuffer:          "CreateBuffer",
	KindCreateCommandEncoder:  "CreateCommandEncoder",
	KindCreateComputePipeline: "CreateComputePipeline",
	KindCreateContext:         "CreateContext",
	KindCreatePipelineLayout:  "CreatePipelineLayout",
	KindCreateRenderPipeline:  "CreateRenderPipeline",
	KindCreateSampler:         "CreateSampler",
	KindCreateShaderModule:    "CreateShaderModule",
	KindCreateSwapChain:       "CreateSwapChain",
	KindCreateTexture:         "CreateTexture",
	KindCreateTextureView:     "CreateTextureView",
	KindDestroyBuffer:         "DestroyBuffer",
	KindDestroySwapChain:      "DestroySwapChain",
	KindDestroyTexture:        "DestroyTexture",
	KindDropResource:          "DropResource",
	KindExit:                  "Exit",
	KindFreeDevice:            "FreeDevice",
	KindRequestAdapter:        "RequestAdapter",
	KindRequestDevice:         "RequestDevice",
	KindRunComputePass:        "RunComputePass",
	KindRunRenderPass:         "RunRenderPass",
	KindSubmit:                "Submit",
	KindSwapChainPresent:      "SwapChainPresent",
	KindUnmapBuffer:           "UnmapBuffer",
	KindPublishFrame:          "PublishFrame",
	KindWriteBuffer:           "WriteBuffer",
	KindWriteTexture:          "WriteTexture",
}

func (k Kind) String() string {
	if k < KindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k names a request variant.
func (k Kind) Valid() bool { return k > KindInvalid && k < KindCount }
