// Package gpuproc runs a GPU command-processing actor.
//
// # Overview
//
// A page's script side never touches the GPU. It allocates resource
// identifiers, describes work as request values and sends them to a single
// actor goroutine that owns the GPU backend. The actor executes requests in
// arrival order, answers the ones that produce a value over one-shot reply
// channels, reports validation outcomes and identifier recycling back to
// script, and publishes presented canvas frames as external images a
// compositor can read.
//
// # Quick Start
//
//	be, _ := backend.Default()
//	defer be.Close()
//
//	toScript := script.NewChanSender(64)
//	th, err := gpuproc.Start(be, toScript)
//	if err != nil {
//	    // GPU support is disabled.
//	}
//	defer th.Exit(context.Background())
//
//	ids := make(chan extimage.ExternalID, 1)
//	_ = th.Send(request.CreateContext{Reply: ids})
//
// The integration/canvas package wraps these requests into a canvas
// context with swap chain configuration, presentation and resize.
//
// # Backends
//
// Backends register themselves by import:
//
//	import _ "github.com/gogpu/gpuproc/backend/native"   // wgpu HAL (Vulkan) and noop
//	import _ "github.com/gogpu/gpuproc/backend/software" // host memory
//
// # Presentation
//
// Each swap chain owns up to ten staging buffers. Presenting copies the
// canvas texture into a free staging buffer, maps it for reading and, once
// the map completes during a maintenance step, publishes the bytes and
// notifies the compositor. When every staging buffer is in flight the frame
// is dropped and the previous image stays visible.
//
// # Logging
//
// gpuproc is silent by default. See SetLogger.
package gpuproc
