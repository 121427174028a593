// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package canvas is the script-side half of a GPU canvas.
//
// A Context owns one external image. Configuring it creates a swap chain in
// the actor together with the texture the page renders into; presenting
// copies that texture into the external image the compositor displays:
//
//	texture (render) -> staging buffer (readback) -> external image -> compositor
//
// # Usage
//
//	hub := gpucore.NewHub(gpucore.BackendSoftware)
//	ctx, err := canvas.NewContext(thread, hub)
//	if err != nil {
//	    return err
//	}
//	defer ctx.Destroy()
//
//	chain, err := ctx.ConfigureSwapChain(canvas.SwapChainConfig{
//	    Device: device,
//	    Queue:  gpucore.QueueOf(device),
//	    Format: gputypes.TextureFormatBGRA8Unorm,
//	    Width:  800,
//	    Height: 600,
//	})
//	// render into chain.CurrentTexture() ...
//	_ = ctx.Present()
//
// Identifiers the actor hands back through script.Free are returned to the
// hub by a Recycler.
//
// # Thread Safety
//
// Context is NOT safe for concurrent use. Recycler runs on its own
// goroutine and only touches the hub, which is.
package canvas
