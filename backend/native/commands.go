// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package native

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

// encoder wraps a HAL command encoder. Commands are recorded straight into
// it; finishing produces the command buffer handed to QueueSubmit.
type encoder struct {
	dev      *device
	raw      hal.CommandEncoder
	finished bool
	cmd      hal.CommandBuffer
	// buffers lists every buffer the commands touch; none may be mapped at
	// submit.
	buffers []gpucore.BufferID
}

// discard releases the encoder or its unsubmitted command buffer.
func (e *encoder) discard() {
	if e.finished {
		e.dev.raw.FreeCommandBuffer(e.cmd)
		return
	}
	e.raw.DiscardEncoding()
}

// CreateCommandEncoder starts a command encoder on dev.
func (b *Backend) CreateCommandEncoder(dev gpucore.DeviceID, id gpucore.CommandEncoderID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.encoders[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	label := id.String()
	raw, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := raw.BeginEncoding(label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	b.encoders[id] = &encoder{dev: d, raw: raw}
	return nil
}

func (b *Backend) recording(id gpucore.CommandEncoderID) (*encoder, error) {
	enc, ok := b.encoders[id]
	if !ok {
		return nil, unknown(gpucore.KindCommandEncoder, id.Raw())
	}
	if enc.finished {
		return nil, backend.Invalid("encode", "command encoder %s is already finished", id)
	}
	return enc, nil
}

// bufferOn resolves a buffer that must live on the encoder's device.
func (b *Backend) bufferOn(enc *encoder, id gpucore.BufferID) (*buffer, error) {
	buf, ok := b.buffers[id]
	if !ok {
		return nil, unknown(gpucore.KindBuffer, id.Raw())
	}
	if buf.dev != enc.dev {
		return nil, backend.Invalid("encode", "buffer %s belongs to another device", id)
	}
	return buf, nil
}

// CopyBufferToBuffer records a buffer copy.
func (b *Backend) CopyBufferToBuffer(encID gpucore.CommandEncoderID, src gpucore.BufferID, srcOffset uint64,
	dst gpucore.BufferID, dstOffset uint64, size uint64) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	from, err := b.bufferOn(enc, src)
	if err != nil {
		return err
	}
	to, err := b.bufferOn(enc, dst)
	if err != nil {
		return err
	}
	const op = "CopyBufferToBuffer"
	switch {
	case src == dst:
		return backend.Invalid(op, "source and destination are the same buffer")
	case !from.desc.Usage.Contains(gputypes.BufferUsageCopySrc):
		return backend.Invalid(op, "source lacks CopySrc usage")
	case !to.desc.Usage.Contains(gputypes.BufferUsageCopyDst):
		return backend.Invalid(op, "destination lacks CopyDst usage")
	case size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0:
		return backend.Invalid(op, "offsets and size must be multiples of 4")
	case srcOffset+size > from.desc.Size:
		return backend.Invalid(op, "source range %d+%d exceeds size %d", srcOffset, size, from.desc.Size)
	case dstOffset+size > to.desc.Size:
		return backend.Invalid(op, "destination range %d+%d exceeds size %d", dstOffset, size, to.desc.Size)
	}

	enc.raw.CopyBufferToBuffer(from.raw, to.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	enc.buffers = append(enc.buffers, src, dst)
	return nil
}

// CopyTextureToBuffer records a texture readback. The texture is moved to
// the copy source state first.
func (b *Backend) CopyTextureToBuffer(encID gpucore.CommandEncoderID, src gpucore.TextureCopy,
	dst gpucore.BufferCopy, size gpucore.Extent3D) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	tex, ok := b.textures[src.Texture]
	if !ok {
		return unknown(gpucore.KindTexture, src.Texture.Raw())
	}
	buf, err := b.bufferOn(enc, dst.Buffer)
	if err != nil {
		return err
	}
	const op = "CopyTextureToBuffer"
	if tex.dev != enc.dev {
		return backend.Invalid(op, "texture %s belongs to another device", src.Texture)
	}
	if err := checkCopy(op, tex, src, size, dst.Layout); err != nil {
		return err
	}
	if !tex.desc.Usage.Contains(gputypes.TextureUsageCopySrc) {
		return backend.Invalid(op, "texture lacks CopySrc usage")
	}
	if !buf.desc.Usage.Contains(gputypes.BufferUsageCopyDst) {
		return backend.Invalid(op, "buffer lacks CopyDst usage")
	}
	if dst.Layout.BytesPerRow%gpucore.CopyBytesPerRowAlignment != 0 {
		return backend.Invalid(op, "bytes per row %d is not a multiple of %d",
			dst.Layout.BytesPerRow, gpucore.CopyBytesPerRowAlignment)
	}
	rows := dst.Layout.RowsPerImage
	if rows == 0 {
		rows = size.Height
	}
	need := dst.Layout.Offset + uint64(dst.Layout.BytesPerRow)*uint64(rows)*uint64(max(size.DepthOrArrayLayers, 1))
	if need > buf.desc.Size {
		return backend.Invalid(op, "copy needs %d bytes, buffer has %d", need, buf.desc.Size)
	}

	transition(enc.raw, tex, gputypes.TextureUsageCopySrc)
	enc.raw.CopyTextureToBuffer(tex.raw, buf.raw, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       dst.Layout.Offset,
			BytesPerRow:  dst.Layout.BytesPerRow,
			RowsPerImage: rows,
		},
		TextureBase: imageCopy(tex, src),
		Size:        extent(size),
	}})
	enc.buffers = append(enc.buffers, dst.Buffer)
	return nil
}

// checkCopy validates a texture region against tex.
func checkCopy(op string, tex *texture, at gpucore.TextureCopy, size gpucore.Extent3D, layout gpucore.TextureDataLayout) error {
	if at.MipLevel >= tex.desc.MipLevelCount {
		return backend.Invalid(op, "mip level %d out of range", at.MipLevel)
	}
	ts := tex.desc.Size
	o := at.Origin
	if o.X+size.Width > ts.Width || o.Y+size.Height > ts.Height ||
		o.Z+max(size.DepthOrArrayLayers, 1) > ts.DepthOrArrayLayers {
		return backend.Invalid(op, "region %v+%v exceeds texture size %v", o, size, ts)
	}
	bpp := gpucore.BytesPerPixel(tex.desc.Format)
	if bpp != 0 && uint64(layout.BytesPerRow) < uint64(size.Width)*uint64(bpp) {
		return backend.Invalid(op, "bytes per row %d is smaller than a row of %d texels",
			layout.BytesPerRow, size.Width)
	}
	return nil
}

func imageCopy(tex *texture, at gpucore.TextureCopy) hal.ImageCopyTexture {
	return hal.ImageCopyTexture{
		Texture:  tex.raw,
		MipLevel: at.MipLevel,
		Origin:   hal.Origin3D{X: at.Origin.X, Y: at.Origin.Y, Z: at.Origin.Z},
		Aspect:   gputypes.TextureAspectAll,
	}
}

func extent(size gpucore.Extent3D) hal.Extent3D {
	return hal.Extent3D{
		Width:              size.Width,
		Height:             size.Height,
		DepthOrArrayLayers: max(size.DepthOrArrayLayers, 1),
	}
}

// transition records a barrier moving tex to usage, if it is not already
// there.
func transition(enc hal.CommandEncoder, tex *texture, usage gputypes.TextureUsage) {
	if tex.state == usage {
		return
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: tex.raw,
		Usage: hal.TextureUsageTransition{
			OldUsage: tex.state,
			NewUsage: usage,
		},
	}})
	tex.state = usage
}

// RunComputePass records a compute pass. Every identifier is resolved
// before the pass begins, so an invalid command records nothing.
func (b *Backend) RunComputePass(encID gpucore.CommandEncoderID, pass *gpucore.ComputePass) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	const op = "RunComputePass"
	steps := make([]func(hal.ComputePassEncoder), 0, len(pass.Commands))
	bound := false
	for i, cmd := range pass.Commands {
		switch c := cmd.(type) {
		case gpucore.SetComputePipeline:
			p, ok := b.computes[c.Pipeline]
			if !ok {
				return unknown(gpucore.KindComputePipeline, c.Pipeline.Raw())
			}
			bound = true
			steps = append(steps, func(cp hal.ComputePassEncoder) { cp.SetPipeline(p.raw) })
		case gpucore.SetBindGroup:
			g, ok := b.bindGroups[c.Group]
			if !ok {
				return unknown(gpucore.KindBindGroup, c.Group.Raw())
			}
			steps = append(steps, func(cp hal.ComputePassEncoder) { cp.SetBindGroup(c.Index, g.raw, c.DynamicOffsets) })
		case gpucore.Dispatch:
			if !bound {
				return backend.Invalid(op, "command %d: dispatch without a pipeline", i)
			}
			steps = append(steps, func(cp hal.ComputePassEncoder) { cp.Dispatch(c.X, c.Y, c.Z) })
		default:
			return backend.Invalid(op, "command %d: unsupported %T", i, cmd)
		}
	}

	cp := enc.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: pass.Label})
	for _, step := range steps {
		step(cp)
	}
	cp.End()
	return nil
}

// RunRenderPass records a render pass. Attachment textures end the pass in
// the render attachment state.
func (b *Backend) RunRenderPass(encID gpucore.CommandEncoderID, pass *gpucore.RenderPass) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	const op = "RunRenderPass"
	if len(pass.ColorAttachments) == 0 {
		return backend.Invalid(op, "render pass has no color attachments")
	}

	var targets []*texture
	attachments := make([]hal.RenderPassColorAttachment, len(pass.ColorAttachments))
	for i, ca := range pass.ColorAttachments {
		view, ok := b.views[ca.View]
		if !ok {
			return unknown(gpucore.KindTextureView, ca.View.Raw())
		}
		tex := b.textures[view.texture]
		if !tex.desc.Usage.Contains(gputypes.TextureUsageRenderAttachment) {
			return backend.Invalid(op, "attachment %d: texture lacks RenderAttachment usage", i)
		}
		targets = append(targets, tex)
		attachments[i] = hal.RenderPassColorAttachment{
			View:       view.raw,
			LoadOp:     ca.LoadOp,
			StoreOp:    ca.StoreOp,
			ClearValue: ca.ClearValue,
		}
		if !ca.ResolveTarget.IsZero() {
			resolve, ok := b.views[ca.ResolveTarget]
			if !ok {
				return unknown(gpucore.KindTextureView, ca.ResolveTarget.Raw())
			}
			attachments[i].ResolveTarget = resolve.raw
			targets = append(targets, b.textures[resolve.texture])
		}
	}

	steps := make([]func(hal.RenderPassEncoder), 0, len(pass.Commands))
	bound := false
	for i, cmd := range pass.Commands {
		switch c := cmd.(type) {
		case gpucore.SetRenderPipeline:
			p, ok := b.renders[c.Pipeline]
			if !ok {
				return unknown(gpucore.KindRenderPipeline, c.Pipeline.Raw())
			}
			bound = true
			steps = append(steps, func(rp hal.RenderPassEncoder) { rp.SetPipeline(p.raw) })
		case gpucore.SetBindGroup:
			g, ok := b.bindGroups[c.Group]
			if !ok {
				return unknown(gpucore.KindBindGroup, c.Group.Raw())
			}
			steps = append(steps, func(rp hal.RenderPassEncoder) { rp.SetBindGroup(c.Index, g.raw, c.DynamicOffsets) })
		case gpucore.SetVertexBuffer:
			buf, err := b.bufferOn(enc, c.Buffer)
			if err != nil {
				return err
			}
			if !buf.desc.Usage.Contains(gputypes.BufferUsageVertex) {
				return backend.Invalid(op, "command %d: buffer lacks Vertex usage", i)
			}
			enc.buffers = append(enc.buffers, c.Buffer)
			steps = append(steps, func(rp hal.RenderPassEncoder) { rp.SetVertexBuffer(c.Slot, buf.raw, c.Offset) })
		case gpucore.SetIndexBuffer:
			buf, err := b.bufferOn(enc, c.Buffer)
			if err != nil {
				return err
			}
			if !buf.desc.Usage.Contains(gputypes.BufferUsageIndex) {
				return backend.Invalid(op, "command %d: buffer lacks Index usage", i)
			}
			enc.buffers = append(enc.buffers, c.Buffer)
			steps = append(steps, func(rp hal.RenderPassEncoder) { rp.SetIndexBuffer(buf.raw, c.Format, c.Offset) })
		case gpucore.Draw:
			if !bound {
				return backend.Invalid(op, "command %d: draw without a pipeline", i)
			}
			steps = append(steps, func(rp hal.RenderPassEncoder) {
				rp.Draw(c.VertexCount, c.InstanceCount, c.FirstVertex, c.FirstInstance)
			})
		case gpucore.DrawIndexed:
			if !bound {
				return backend.Invalid(op, "command %d: draw without a pipeline", i)
			}
			steps = append(steps, func(rp hal.RenderPassEncoder) {
				rp.DrawIndexed(c.IndexCount, c.InstanceCount, c.FirstIndex, c.BaseVertex, c.FirstInstance)
			})
		default:
			return backend.Invalid(op, "command %d: unsupported %T", i, cmd)
		}
	}

	for _, tex := range targets {
		if tex.state != 0 {
			transition(enc.raw, tex, gputypes.TextureUsageRenderAttachment)
		}
	}
	rp := enc.raw.BeginRenderPass(&hal.RenderPassDescriptor{
		Label:            pass.Label,
		ColorAttachments: attachments,
	})
	for _, step := range steps {
		step(rp)
	}
	rp.End()
	for _, tex := range targets {
		tex.state = gputypes.TextureUsageRenderAttachment
	}
	return nil
}

// CommandEncoderFinish ends recording.
func (b *Backend) CommandEncoderFinish(encID gpucore.CommandEncoderID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	cmd, err := enc.raw.EndEncoding()
	if err != nil {
		enc.raw.DiscardEncoding()
		delete(b.encoders, encID)
		return fmt.Errorf("end encoding: %w", err)
	}
	enc.cmd = cmd
	enc.finished = true
	return nil
}

// QueueSubmit submits finished command buffers. They are freed once the
// queue reports their submission complete.
func (b *Backend) QueueSubmit(queue gpucore.QueueID, cmds []gpucore.CommandBufferID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(gpucore.DeviceOf(queue))
	if err != nil {
		return err
	}
	raw := make([]hal.CommandBuffer, 0, len(cmds))
	for _, id := range cmds {
		enc, ok := b.encoders[gpucore.EncoderOf(id)]
		if !ok {
			return unknown(gpucore.KindCommandBuffer, id.Raw())
		}
		if !enc.finished {
			return backend.Invalid("QueueSubmit", "command buffer %s is not finished", id)
		}
		if enc.dev != d {
			return backend.Invalid("QueueSubmit", "command buffer %s belongs to another device", id)
		}
		for _, bufID := range enc.buffers {
			buf, ok := b.buffers[bufID]
			if !ok {
				return fmt.Errorf("QueueSubmit: %w", unknown(gpucore.KindBuffer, bufID.Raw()))
			}
			if buf.mapping.State() != backend.MapStateUnmapped {
				return backend.Invalid("QueueSubmit", "buffer %s is used while %s", bufID, buf.mapping.State())
			}
		}
		raw = append(raw, enc.cmd)
	}

	index, err := d.queue.Submit(raw)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	d.submitted = max(d.submitted, index)
	d.inflight = append(d.inflight, submission{index: index, cmds: raw})
	for _, id := range cmds {
		delete(b.encoders, gpucore.EncoderOf(id))
	}
	return nil
}

// QueueWriteBuffer uploads data through the queue.
func (b *Backend) QueueWriteBuffer(queue gpucore.QueueID, id gpucore.BufferID, offset uint64, data []byte) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(gpucore.DeviceOf(queue))
	if err != nil {
		return err
	}
	buf, ok := b.buffers[id]
	if !ok {
		return unknown(gpucore.KindBuffer, id.Raw())
	}
	const op = "QueueWriteBuffer"
	size := uint64(len(data))
	switch {
	case buf.dev != d:
		return backend.Invalid(op, "buffer %s belongs to another device", id)
	case !buf.desc.Usage.Contains(gputypes.BufferUsageCopyDst):
		return backend.Invalid(op, "buffer lacks CopyDst usage")
	case offset%4 != 0 || size%4 != 0:
		return backend.Invalid(op, "offset %d and size %d must be multiples of 4", offset, size)
	case offset+size > buf.desc.Size:
		return backend.Invalid(op, "range %d+%d exceeds size %d", offset, size, buf.desc.Size)
	case buf.mapping.State() != backend.MapStateUnmapped:
		return backend.Invalid(op, "buffer is %s", buf.mapping.State())
	}
	if size > 0 {
		if err := d.queue.WriteBuffer(buf.raw, offset, data); err != nil {
			return fmt.Errorf("write buffer: %w", err)
		}
	}
	return nil
}

// QueueWriteTexture uploads texel data through the queue.
func (b *Backend) QueueWriteTexture(queue gpucore.QueueID, dst gpucore.TextureCopy, data []byte,
	layout gpucore.TextureDataLayout, size gpucore.Extent3D) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(gpucore.DeviceOf(queue))
	if err != nil {
		return err
	}
	tex, ok := b.textures[dst.Texture]
	if !ok {
		return unknown(gpucore.KindTexture, dst.Texture.Raw())
	}
	const op = "QueueWriteTexture"
	if tex.dev != d {
		return backend.Invalid(op, "texture %s belongs to another device", dst.Texture)
	}
	if err := checkCopy(op, tex, dst, size, layout); err != nil {
		return err
	}
	rows := layout.RowsPerImage
	if rows == 0 {
		rows = size.Height
	}
	if size.Height > 0 {
		need := layout.Offset + uint64(layout.BytesPerRow)*uint64(rows)*uint64(max(size.DepthOrArrayLayers, 1)-1) +
			uint64(layout.BytesPerRow)*uint64(size.Height-1) +
			uint64(size.Width)*uint64(gpucore.BytesPerPixel(tex.desc.Format))
		if need > uint64(len(data)) {
			return backend.Invalid(op, "copy needs %d bytes, got %d", need, len(data))
		}
	}

	target := imageCopy(tex, dst)
	err = d.queue.WriteTexture(&target, data, &hal.ImageDataLayout{
		Offset:       layout.Offset,
		BytesPerRow:  layout.BytesPerRow,
		RowsPerImage: rows,
	}, ptr(extent(size)))
	if err != nil {
		return fmt.Errorf("write texture: %w", err)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// BufferMapAsync records a map request. It resolves on the first Poll that
// observes all work submitted so far as complete.
func (b *Backend) BufferMapAsync(id gpucore.BufferID, mode gputypes.MapMode, offset, size uint64,
	callback backend.MapCallback) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	buf, ok := b.buffers[id]
	if !ok {
		return unknown(gpucore.KindBuffer, id.Raw())
	}
	if err := buf.mapping.Begin(buf.desc.Usage, buf.desc.Size, mode, offset, size, callback); err != nil {
		return fmt.Errorf("map %s: %w", id, err)
	}
	buf.readyAt = buf.dev.submitted
	b.pending = append(b.pending, id)
	return nil
}

// BufferGetMappedRange returns a view of the host shadow of the mapping.
func (b *Backend) BufferGetMappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	buf, ok := b.buffers[id]
	if !ok {
		return nil, unknown(gpucore.KindBuffer, id.Raw())
	}
	return buf.mapping.Range(offset, size)
}

// BufferUnmap ends a mapping, copying the shadow of a write mapping back to
// the buffer. A
// pending request is reported as MapStatusUnmappedBeforeCallback on the next
// Poll.
func (b *Backend) BufferUnmap(id gpucore.BufferID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	buf, ok := b.buffers[id]
	if !ok {
		return unknown(gpucore.KindBuffer, id.Raw())
	}
	offset, _ := buf.mapping.Bounds()
	pending, written, err := buf.mapping.End()
	if err != nil {
		return fmt.Errorf("unmap %s: %w", id, err)
	}
	if pending != nil {
		b.due = append(b.due, dueCallback{cb: pending, status: backend.MapStatusUnmappedBeforeCallback})
	}
	if len(written) > 0 {
		if err := flush(buf, offset, written); err != nil {
			return fmt.Errorf("unmap %s: %w", id, err)
		}
	}
	return nil
}

// hostCopy runs fn on the host view of [offset, offset+size) of buf.
func hostCopy(buf *buffer, offset, size uint64, fn func(host []byte)) error {
	m, err := buf.dev.raw.MapBuffer(buf.raw, offset, size)
	if err != nil {
		return err
	}
	fn(unsafe.Slice((*byte)(m.Ptr), size))
	return buf.dev.raw.UnmapBuffer(buf.raw)
}

// readShadow returns a copy of the current contents of a mapped range.
func readShadow(buf *buffer, offset, size uint64) ([]byte, error) {
	shadow := make([]byte, size)
	if size == 0 {
		return shadow, nil
	}
	err := hostCopy(buf, offset, size, func(host []byte) { copy(shadow, host) })
	return shadow, err
}

// flush writes the shadow of a write mapping to the buffer. Buffers that
// are not host visible (mapped at creation only) go through the queue.
func flush(buf *buffer, offset uint64, data []byte) error {
	if !buf.desc.Usage.Contains(gputypes.BufferUsageMapWrite) {
		return buf.dev.queue.WriteBuffer(buf.raw, offset, data)
	}
	return hostCopy(buf, offset, uint64(len(data)), func(host []byte) { copy(host, data) })
}

// Poll advances device completion and resolves map requests whose work
// has completed. With wait set it blocks until all submitted work is done.
// Callbacks run without the backend lock held.
func (b *Backend) Poll(wait bool) error {
	if err := b.lock(); err != nil {
		return err
	}

	var pollErr error
	lost := make(map[*device]bool)
	for _, d := range b.devices {
		if d.submitted <= d.completed || lost[d] {
			continue
		}
		if wait {
			if err := d.raw.WaitIdle(); err != nil {
				slogger().Error("native: device wait failed", "device", d.name, "err", err)
				lost[d] = true
				pollErr = fmt.Errorf("%w: %w", ErrDeviceLost, err)
				continue
			}
			d.completed = d.submitted
		} else {
			d.completed = max(d.completed, d.queue.PollCompleted())
		}
		d.retire()
	}

	keep := b.pending[:0]
	for _, id := range b.pending {
		buf, ok := b.buffers[id]
		if !ok || buf.mapping.State() != backend.MapStatePending {
			continue
		}
		if lost[buf.dev] {
			if cb := buf.mapping.Fail(); cb != nil {
				b.due = append(b.due, dueCallback{cb: cb, status: backend.MapStatusDeviceLost})
			}
			continue
		}
		if buf.readyAt > buf.dev.completed {
			keep = append(keep, id)
			continue
		}
		// Write mappings start from the current contents too, since unmap
		// writes the whole range back.
		offset, size := buf.mapping.Bounds()
		shadow, err := readShadow(buf, offset, size)
		if err != nil {
			slogger().Warn("native: map readback failed", "buffer", id, "err", err)
			if cb := buf.mapping.Fail(); cb != nil {
				b.due = append(b.due, dueCallback{cb: cb, status: backend.MapStatusUnknown})
			}
			continue
		}
		if cb := buf.mapping.Resolve(shadow); cb != nil {
			b.due = append(b.due, dueCallback{cb: cb, status: backend.MapStatusSuccess})
		}
	}
	b.pending = keep
	due := b.due
	b.due = nil
	b.mu.Unlock()

	for _, d := range due {
		d.cb(d.status)
	}
	return pollErr
}
