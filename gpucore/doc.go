// Package gpucore defines the resource identifier space shared by every
// participant of the GPU command actor: script-side objects that allocate
// identifiers, the actor that consumes them, and the backends that map them
// to native resources.
//
// # Identifiers
//
// Every resource is named by a 64-bit [RawID] split into three fields:
//
//	 63   61 60                    32 31                      0
//	+-------+------------------------+-------------------------+
//	|backend|         epoch          |          index          |
//	+-------+------------------------+-------------------------+
//
// The backend field selects which backend instance owns the resource. The
// epoch is bumped each time an index is recycled, so a stale identifier never
// aliases a live one.
//
// Typed identifiers ([BufferID], [TextureID], ...) are instantiations of the
// generic [ID] type and cannot be mixed up at compile time. A [QueueID] always
// equals the [DeviceID] it belongs to, and a [CommandBufferID] equals the
// [CommandEncoderID] it was finished from.
//
// # Allocation
//
// Identifiers are allocated outside the actor. [Hub] is the reference
// allocator: one [Identities] table per resource kind, safe for concurrent
// use. Identifiers are returned to the hub only after the owning resource is
// confirmed destroyed.
//
// # Descriptors
//
// Creation descriptors ([BufferDescriptor], [TextureDescriptor],
// [RenderPipelineDescriptor], ...) and recorded passes ([ComputePass],
// [RenderPass]) use the gputypes vocabulary for usages, formats and fixed
// function state.
package gpucore
