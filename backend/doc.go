// Package backend defines the GPU backend the processing thread drives.
//
// A Backend executes resource creation, command encoding, submission and
// buffer mapping addressed by identifiers the caller allocated. All calls
// come from one goroutine; map completions are delivered from Poll on that
// same goroutine.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime:
//
//	import _ "github.com/gogpu/gpuproc/backend/native"
//	import _ "github.com/gogpu/gpuproc/backend/software"
//
// # Backend Selection
//
// Use Default to open the best available backend, or Open to request one
// by name:
//
//	b, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer b.Close()
//
//	b, err = backend.Open(backend.BackendSoftware)
//
// # Buffer Mapping
//
// Mapping follows WebGPU: BufferMapAsync validates and records the request,
// the callback fires from a later Poll, BufferGetMappedRange exposes the
// host view and BufferUnmap ends the mapping. Backends track this with a
// Mapping per buffer.
//
// # Available Backends
//
//   - "native": wgpu HAL (Vulkan), real hardware
//   - "software": host memory, always available
//   - "noop": wgpu noop HAL, accepts everything and renders nothing
package backend
