package software

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

// encoder records commands as closures run in order on submit.
type encoder struct {
	device   gpucore.DeviceID
	finished bool
	ops      []func()
	// buffers lists every buffer the commands touch; none may be mapped
	// at submit.
	buffers []gpucore.BufferID
}

// CreateCommandEncoder starts a command encoder on dev.
func (b *Backend) CreateCommandEncoder(dev gpucore.DeviceID, id gpucore.CommandEncoderID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.device(dev); err != nil {
		return err
	}
	_, exists := b.encoders[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	b.encoders[id] = &encoder{device: dev}
	return nil
}

// recording returns an open encoder; the caller holds the lock.
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
	from, ok := b.buffers[src]
	if !ok {
		return unknown(gpucore.KindBuffer, src.Raw())
	}
	to, ok := b.buffers[dst]
	if !ok {
		return unknown(gpucore.KindBuffer, dst.Raw())
	}
	const op = "CopyBufferToBuffer"
	switch {
	case src == dst:
		return backend.Invalid(op, "source and destination are the same buffer")
	case !from.desc.Usage.Contains(gputypes.BufferUsageCopySrc):
		return backend.Invalid(op, "source buffer lacks CopySrc usage")
	case !to.desc.Usage.Contains(gputypes.BufferUsageCopyDst):
		return backend.Invalid(op, "destination buffer lacks CopyDst usage")
	case size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0:
		return backend.Invalid(op, "offsets and size must be multiples of 4")
	case srcOffset+size > from.desc.Size:
		return backend.Invalid(op, "source range %d+%d exceeds size %d", srcOffset, size, from.desc.Size)
	case dstOffset+size > to.desc.Size:
		return backend.Invalid(op, "destination range %d+%d exceeds size %d", dstOffset, size, to.desc.Size)
	}

	enc.buffers = append(enc.buffers, src, dst)
	enc.ops = append(enc.ops, func() {
		copy(to.data[dstOffset:dstOffset+size], from.data[srcOffset:srcOffset+size])
	})
	return nil
}

// CopyTextureToBuffer records a texture readback. The buffer layout must use
// a BytesPerRow aligned to gpucore.CopyBytesPerRowAlignment.
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
	buf, ok := b.buffers[dst.Buffer]
	if !ok {
		return unknown(gpucore.KindBuffer, dst.Buffer.Raw())
	}
	const op = "CopyTextureToBuffer"
	if !tex.desc.Usage.Contains(gputypes.TextureUsageCopySrc) {
		return backend.Invalid(op, "texture lacks CopySrc usage")
	}
	if !buf.desc.Usage.Contains(gputypes.BufferUsageCopyDst) {
		return backend.Invalid(op, "buffer lacks CopyDst usage")
	}
	if src.MipLevel != 0 {
		return backend.Invalid(op, "mip level %d out of range", src.MipLevel)
	}
	if dst.Layout.BytesPerRow%gpucore.CopyBytesPerRowAlignment != 0 {
		return backend.Invalid(op, "bytes per row %d is not a multiple of %d",
			dst.Layout.BytesPerRow, gpucore.CopyBytesPerRowAlignment)
	}
	region, err := checkRegion(op, tex, src.Origin, size, dst.Layout, buf.desc.Size)
	if err != nil {
		return err
	}

	enc.buffers = append(enc.buffers, dst.Buffer)
	enc.ops = append(enc.ops, func() {
		region.each(func(texOff, bufOff, n uint64) {
			copy(buf.data[bufOff:bufOff+n], tex.data[texOff:texOff+n])
		})
	})
	return nil
}

// copyRegion maps texture rows to linear memory rows.
type copyRegion struct {
	tex    *texture
	origin gpucore.Origin3D
	size   gpucore.Extent3D
	layout gpucore.TextureDataLayout
	rows   uint32
}

func (r copyRegion) each(fn func(texOff, linOff, n uint64)) {
	row := uint64(r.size.Width) * uint64(r.tex.bpp)
	for z := uint32(0); z < r.size.DepthOrArrayLayers; z++ {
		for y := uint32(0); y < r.size.Height; y++ {
			texOff := uint64(r.origin.Z+z)*uint64(r.tex.layerBytes()) +
				uint64(r.origin.Y+y)*uint64(r.tex.rowBytes()) +
				uint64(r.origin.X)*uint64(r.tex.bpp)
			linOff := r.layout.Offset + uint64(z)*uint64(r.rows)*uint64(r.layout.BytesPerRow) +
				uint64(y)*uint64(r.layout.BytesPerRow)
			fn(texOff, linOff, row)
		}
	}
}

// checkRegion validates a copy between tex and linear memory of linearSize
// bytes.
func checkRegion(op string, tex *texture, origin gpucore.Origin3D, size gpucore.Extent3D,
	layout gpucore.TextureDataLayout, linearSize uint64) (copyRegion, error) {
	if size.DepthOrArrayLayers == 0 {
		size.DepthOrArrayLayers = 1
	}
	ts := tex.desc.Size
	if uint64(origin.X)+uint64(size.Width) > uint64(ts.Width) ||
		uint64(origin.Y)+uint64(size.Height) > uint64(ts.Height) ||
		uint64(origin.Z)+uint64(size.DepthOrArrayLayers) > uint64(ts.DepthOrArrayLayers) {
		return copyRegion{}, backend.Invalid(op, "copy %dx%dx%d at %v exceeds texture %dx%dx%d",
			size.Width, size.Height, size.DepthOrArrayLayers, origin, ts.Width, ts.Height, ts.DepthOrArrayLayers)
	}
	row := size.Width * tex.bpp
	if layout.BytesPerRow < row {
		return copyRegion{}, backend.Invalid(op, "bytes per row %d smaller than row size %d", layout.BytesPerRow, row)
	}
	rows := layout.RowsPerImage
	if rows == 0 {
		rows = size.Height
	}
	if rows < size.Height {
		return copyRegion{}, backend.Invalid(op, "rows per image %d smaller than height %d", rows, size.Height)
	}
	if size.Width == 0 || size.Height == 0 {
		return copyRegion{tex: tex, origin: origin, size: size, layout: layout, rows: rows}, nil
	}
	last := layout.Offset +
		uint64(size.DepthOrArrayLayers-1)*uint64(rows)*uint64(layout.BytesPerRow) +
		uint64(size.Height-1)*uint64(layout.BytesPerRow) + uint64(row)
	if last > linearSize {
		return copyRegion{}, backend.Invalid(op, "copy needs %d bytes, linear data has %d", last, linearSize)
	}
	return copyRegion{tex: tex, origin: origin, size: size, layout: layout, rows: rows}, nil
}

// RunComputePass validates a compute pass. Dispatches have no effect.
func (b *Backend) RunComputePass(encID gpucore.CommandEncoderID, pass *gpucore.ComputePass) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if _, err := b.recording(encID); err != nil {
		return err
	}
	const op = "ComputePass"
	pipelineSet := false
	for i, cmd := range pass.Commands {
		switch c := cmd.(type) {
		case gpucore.SetComputePipeline:
			if _, ok := b.objects[gpucore.KindComputePipeline][c.Pipeline.Raw()]; !ok {
				return unknown(gpucore.KindComputePipeline, c.Pipeline.Raw())
			}
			pipelineSet = true
		case gpucore.SetBindGroup:
			if _, ok := b.objects[gpucore.KindBindGroup][c.Group.Raw()]; !ok {
				return unknown(gpucore.KindBindGroup, c.Group.Raw())
			}
		case gpucore.Dispatch:
			if !pipelineSet {
				return backend.Invalid(op, "command %d: dispatch without a pipeline", i)
			}
		default:
			return backend.Invalid(op, "command %d: unsupported %T", i, cmd)
		}
	}
	return nil
}

// RunRenderPass records the attachment clears of a render pass. Draws are
// validated but not rasterized.
func (b *Backend) RunRenderPass(encID gpucore.CommandEncoderID, pass *gpucore.RenderPass) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	const op = "RenderPass"
	if len(pass.ColorAttachments) == 0 {
		return backend.Invalid(op, "no color attachments")
	}

	var clears []func()
	for i, att := range pass.ColorAttachments {
		view, ok := b.views[att.View]
		if !ok {
			return unknown(gpucore.KindTextureView, att.View.Raw())
		}
		tex, ok := b.textures[view.texture]
		if !ok {
			return unknown(gpucore.KindTexture, view.texture.Raw())
		}
		if !tex.desc.Usage.Contains(gputypes.TextureUsageRenderAttachment) {
			return backend.Invalid(op, "attachment %d lacks RenderAttachment usage", i)
		}
		if att.LoadOp == gputypes.LoadOpClear {
			layer := view.desc.BaseArrayLayer
			texel := encodeColor(tex.desc.Format, att.ClearValue)
			clears = append(clears, func() { fillLayer(tex, layer, texel) })
		}
	}

	pipelineSet := false
	for i, cmd := range pass.Commands {
		switch c := cmd.(type) {
		case gpucore.SetRenderPipeline:
			if _, ok := b.objects[gpucore.KindRenderPipeline][c.Pipeline.Raw()]; !ok {
				return unknown(gpucore.KindRenderPipeline, c.Pipeline.Raw())
			}
			pipelineSet = true
		case gpucore.SetBindGroup:
			if _, ok := b.objects[gpucore.KindBindGroup][c.Group.Raw()]; !ok {
				return unknown(gpucore.KindBindGroup, c.Group.Raw())
			}
		case gpucore.SetVertexBuffer:
			if _, ok := b.buffers[c.Buffer]; !ok {
				return unknown(gpucore.KindBuffer, c.Buffer.Raw())
			}
			enc.buffers = append(enc.buffers, c.Buffer)
		case gpucore.SetIndexBuffer:
			if _, ok := b.buffers[c.Buffer]; !ok {
				return unknown(gpucore.KindBuffer, c.Buffer.Raw())
			}
			enc.buffers = append(enc.buffers, c.Buffer)
		case gpucore.Draw, gpucore.DrawIndexed:
			if !pipelineSet {
				return backend.Invalid(op, "command %d: draw without a pipeline", i)
			}
		default:
			return backend.Invalid(op, "command %d: unsupported %T", i, cmd)
		}
	}

	enc.ops = append(enc.ops, clears...)
	return nil
}

func fillLayer(tex *texture, layer uint32, texel []byte) {
	n := uint64(tex.layerBytes())
	start := uint64(layer) * n
	dst := tex.data[start : start+n]
	for i := 0; i < len(dst); i += len(texel) {
		copy(dst[i:], texel)
	}
}

// encodeColor converts a clear color to texel bytes of format.
func encodeColor(format gputypes.TextureFormat, c gputypes.Color) []byte {
	r, g, bl, a := unorm8(float64(c.R)), unorm8(float64(c.G)), unorm8(float64(c.B)), unorm8(float64(c.A))
	switch format {
	case gputypes.TextureFormatBGRA8Unorm:
		return []byte{bl, g, r, a}
	case gputypes.TextureFormatR8Unorm:
		return []byte{r}
	default:
		return []byte{r, g, bl, a}
	}
}

func unorm8(v float64) byte {
	return byte(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// CommandEncoderFinish closes the encoder into a command buffer.
func (b *Backend) CommandEncoderFinish(encID gpucore.CommandEncoderID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	enc, err := b.recording(encID)
	if err != nil {
		return err
	}
	enc.finished = true
	return nil
}

// QueueSubmit runs the command buffers in order and consumes them. Nothing
// runs if any buffer is invalid.
func (b *Backend) QueueSubmit(queue gpucore.QueueID, cmds []gpucore.CommandBufferID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	dev := gpucore.DeviceOf(queue)
	if err := b.device(dev); err != nil {
		return err
	}
	batch := make([]*encoder, 0, len(cmds))
	for _, id := range cmds {
		enc, ok := b.encoders[gpucore.EncoderOf(id)]
		if !ok {
			return unknown(gpucore.KindCommandBuffer, id.Raw())
		}
		if !enc.finished {
			return backend.Invalid("QueueSubmit", "command buffer %s is not finished", id)
		}
		if enc.device != dev {
			return backend.Invalid("QueueSubmit", "command buffer %s belongs to %s", id, enc.device)
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
		batch = append(batch, enc)
	}

	for i, enc := range batch {
		for _, op := range enc.ops {
			op()
		}
		delete(b.encoders, gpucore.EncoderOf(cmds[i]))
	}
	return nil
}

// QueueWriteBuffer copies data into buffer immediately.
func (b *Backend) QueueWriteBuffer(queue gpucore.QueueID, id gpucore.BufferID, offset uint64, data []byte) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.device(gpucore.DeviceOf(queue)); err != nil {
		return err
	}
	buf, ok := b.buffers[id]
	if !ok {
		return unknown(gpucore.KindBuffer, id.Raw())
	}
	const op = "QueueWriteBuffer"
	size := uint64(len(data))
	switch {
	case !buf.desc.Usage.Contains(gputypes.BufferUsageCopyDst):
		return backend.Invalid(op, "buffer lacks CopyDst usage")
	case offset%4 != 0 || size%4 != 0:
		return backend.Invalid(op, "offset %d and size %d must be multiples of 4", offset, size)
	case offset+size > buf.desc.Size:
		return backend.Invalid(op, "range %d+%d exceeds size %d", offset, size, buf.desc.Size)
	case buf.mapping.State() != backend.MapStateUnmapped:
		return backend.Invalid(op, "buffer is %s", buf.mapping.State())
	}
	copy(buf.data[offset:], data)
	return nil
}

// QueueWriteTexture copies data into a texture region immediately.
func (b *Backend) QueueWriteTexture(queue gpucore.QueueID, dst gpucore.TextureCopy, data []byte,
	layout gpucore.TextureDataLayout, size gpucore.Extent3D) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.device(gpucore.DeviceOf(queue)); err != nil {
		return err
	}
	tex, ok := b.textures[dst.Texture]
	if !ok {
		return unknown(gpucore.KindTexture, dst.Texture.Raw())
	}
	const op = "QueueWriteTexture"
	if !tex.desc.Usage.Contains(gputypes.TextureUsageCopyDst) {
		return backend.Invalid(op, "texture lacks CopyDst usage")
	}
	if dst.MipLevel != 0 {
		return backend.Invalid(op, "mip level %d out of range", dst.MipLevel)
	}
	region, err := checkRegion(op, tex, dst.Origin, size, layout, uint64(len(data)))
	if err != nil {
		return err
	}
	region.each(func(texOff, linOff, n uint64) {
		copy(tex.data[texOff:texOff+n], data[linOff:linOff+n])
	})
	return nil
}

// BufferMapAsync records a map request resolved by the next Poll.
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
	b.pending = append(b.pending, id)
	return nil
}

// BufferGetMappedRange returns a view of the buffer's memory.
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

// BufferUnmap ends a mapping. Writes through the mapped range already
// landed in the buffer. A pending request is reported as
// MapStatusUnmappedBeforeCallback on the next Poll.
func (b *Backend) BufferUnmap(id gpucore.BufferID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	buf, ok := b.buffers[id]
	if !ok {
		return unknown(gpucore.KindBuffer, id.Raw())
	}
	pending, _, err := buf.mapping.End()
	if err != nil {
		return fmt.Errorf("unmap %s: %w", id, err)
	}
	if pending != nil {
		b.due = append(b.due, dueCallback{cb: pending, status: backend.MapStatusUnmappedBeforeCallback})
	}
	return nil
}
