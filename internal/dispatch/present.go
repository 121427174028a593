package dispatch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/completion"
	"github.com/gogpu/gpuproc/internal/present"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

func (d *Dispatcher) createContext(req request.CreateContext) error {
	reply(req.Reply, d.images.NextID(), req.Kind())
	return nil
}

func (d *Dispatcher) createSwapChain(req request.CreateSwapChain) error {
	if _, ok := d.surfaces[req.ExternalID]; ok {
		closeReply(req.Reply)
		return fmt.Errorf("create swap chain: external image %d already has one", req.ExternalID)
	}
	desc := req.Descriptor
	desc.Stride = gpucore.PaddedBytesPerRow(desc.Width)

	key := d.compositor.GenerateImageKey()
	surface, err := present.NewSurface(req.Device, key, desc, req.Buffers)
	if err != nil {
		closeReply(req.Reply)
		return fmt.Errorf("create swap chain: %w", err)
	}
	reply(req.Reply, key, req.Kind())

	d.images.Register(req.ExternalID, desc, bytes.Repeat([]byte{0xFF}, int(desc.Size())))
	d.surfaces[req.ExternalID] = surface
	d.compositor.AddImage(key, desc, req.ExternalID)
	d.reportPool(req.ExternalID, surface)
	slogger().Debug("dispatch: swap chain created", "external_id", req.ExternalID,
		"width", desc.Width, "height", desc.Height, "stride", desc.Stride, "buffers", len(req.Buffers))
	return nil
}

func (d *Dispatcher) destroySwapChain(req request.DestroySwapChain) error {
	surface, ok := d.surfaces[req.ExternalID]
	if !ok {
		return fmt.Errorf("destroy swap chain: unknown external image %d", req.ExternalID)
	}
	delete(d.surfaces, req.ExternalID)
	d.images.Remove(req.ExternalID)
	if req.ImageKey != 0 && req.ImageKey != surface.Key {
		slogger().Warn("dispatch: swap chain destroyed with a stale image key",
			"external_id", req.ExternalID, "key", req.ImageKey, "want", surface.Key)
	}

	drained := surface.Pool.Drain()
	for _, id := range drained.Available {
		d.releaseStaging(id)
	}
	for _, id := range drained.Queued {
		d.ops.Drop(id)
		if err := d.backend.BufferUnmap(id); err != nil && !errors.Is(err, backend.ErrNotMapped) {
			slogger().Debug("dispatch: unmap of queued staging buffer failed", "buffer", id, "err", err)
		}
		d.releaseStaging(id)
	}
	for _, id := range drained.Abandoned {
		d.releaseStaging(id)
	}
	for _, id := range drained.Unassigned {
		d.notify(script.FreeBuffer(id))
	}

	d.compositor.DeleteImage(surface.Key)
	d.metrics.PendingMapsChanged(d.ops.Len())
	d.reportPool(req.ExternalID, surface)
	return nil
}

// releaseStaging destroys a staging buffer and returns its id to script.
func (d *Dispatcher) releaseStaging(id gpucore.BufferID) {
	if err := d.backend.DestroyBuffer(id); err != nil {
		slogger().Warn("dispatch: staging buffer destroy failed", "buffer", id, "err", err)
	}
	d.notify(script.FreeBuffer(id))
}

func (d *Dispatcher) swapChainPresent(req request.SwapChainPresent) error {
	surface, ok := d.surfaces[req.ExternalID]
	if !ok {
		return fmt.Errorf("present: unknown external image %d", req.ExternalID)
	}

	acq, err := surface.Pool.Acquire()
	if errors.Is(err, present.ErrNoStagingBuffer) {
		d.metrics.FrameDropped()
		slogger().Warn("present: no staging buffer available", "external_id", req.ExternalID)
		d.releaseEncoder(req.Encoder)
		return nil
	}
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	buffer := acq.Buffer
	if acq.Fresh {
		desc := gpucore.BufferDescriptor{
			Label: "swap chain staging",
			Size:  surface.FrameSize(),
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		}
		if err := d.backend.CreateBuffer(surface.Device, buffer, &desc); err != nil {
			slogger().Warn("present: staging buffer creation failed", "buffer", buffer, "err", err)
		}
	}
	if err := surface.Pool.Queue(buffer); err != nil {
		return fmt.Errorf("present: %w", err)
	}

	d.encodeReadback(surface, req, buffer)
	d.releaseEncoder(req.Encoder)

	op := completion.Op{
		Buffer:  buffer,
		Size:    surface.FrameSize(),
		Pathway: completion.Present,
		Surface: req.ExternalID,
	}
	if err := d.ops.Register(op); err != nil {
		d.abandon(surface, req.ExternalID, buffer)
		return fmt.Errorf("present: %w", err)
	}
	if err := d.backend.BufferMapAsync(buffer, gputypes.MapModeRead, 0, op.Size, d.mapCallback(buffer)); err != nil {
		d.ops.Drop(buffer)
		d.metrics.MapFailed()
		d.abandon(surface, req.ExternalID, buffer)
		return fmt.Errorf("present: map staging buffer: %w", err)
	}
	d.metrics.PendingMapsChanged(d.ops.Len())
	d.reportPool(req.ExternalID, surface)
	return nil
}

// encodeReadback records and submits the copy of the presented texture into
// buffer. Failures are logged; the map that follows reports the outcome.
func (d *Dispatcher) encodeReadback(surface *present.Surface, req request.SwapChainPresent, buffer gpucore.BufferID) {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"create encoder", func() error {
			return d.backend.CreateCommandEncoder(surface.Device, req.Encoder)
		}},
		{"copy texture", func() error {
			return d.backend.CopyTextureToBuffer(req.Encoder,
				gpucore.TextureCopy{Texture: req.Texture},
				gpucore.BufferCopy{Buffer: buffer, Layout: gpucore.TextureDataLayout{BytesPerRow: surface.Stride}},
				gpucore.Extent3D{Width: surface.Width, Height: surface.Height, DepthOrArrayLayers: 1})
		}},
		{"finish", func() error {
			return d.backend.CommandEncoderFinish(req.Encoder)
		}},
		{"submit", func() error {
			return d.backend.QueueSubmit(surface.Queue, []gpucore.CommandBufferID{gpucore.CommandBufferOf(req.Encoder)})
		}},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			slogger().Warn("present: readback "+s.name+" failed",
				"external_id", req.ExternalID, "buffer", buffer, "err", err)
		}
	}
}

// releaseEncoder returns the readback encoder id to script. Submission
// consumed the command buffer, or it was never created.
func (d *Dispatcher) releaseEncoder(id gpucore.CommandEncoderID) {
	d.notify(script.Free{Kind: gpucore.KindCommandEncoder, ID: id.Raw()})
}

// presentMapped handles the readback of a presented frame. Success queues
// a PublishFrame so publishing happens outside the backend callback.
func (d *Dispatcher) presentMapped(op completion.Op, status backend.MapStatus) {
	if status == backend.MapStatusSuccess {
		d.reinject(request.PublishFrame{Buffer: op.Buffer, ExternalID: op.Surface, Size: op.Size})
		return
	}
	d.metrics.MapFailed()
	slogger().Warn("present: frame readback failed", "external_id", op.Surface, "buffer", op.Buffer, "status", status)
	d.ops.Drop(op.Buffer)
	d.metrics.PendingMapsChanged(d.ops.Len())
	if surface, ok := d.surfaces[op.Surface]; ok {
		d.abandon(surface, op.Surface, op.Buffer)
	}
}

func (d *Dispatcher) abandon(surface *present.Surface, id extimage.ExternalID, buffer gpucore.BufferID) {
	if err := surface.Pool.Abandon(buffer); err != nil {
		slogger().Warn("present: abandon failed", "external_id", id, "buffer", buffer, "err", err)
	}
	d.reportPool(id, surface)
}

func (d *Dispatcher) publishFrame(req request.PublishFrame) error {
	op, ok := d.ops.Take(req.Buffer)
	if !ok {
		slogger().Debug("present: frame for a dropped readback ignored", "buffer", req.Buffer)
		return nil
	}
	d.metrics.PendingMapsChanged(d.ops.Len())
	defer func() {
		if err := d.backend.BufferUnmap(req.Buffer); err != nil {
			slogger().Warn("present: staging unmap failed", "buffer", req.Buffer, "err", err)
		}
	}()

	surface, ok := d.surfaces[op.Surface]
	if !ok {
		return nil
	}
	data, err := d.backend.BufferGetMappedRange(req.Buffer, 0, op.Size)
	if err != nil {
		d.abandon(surface, op.Surface, req.Buffer)
		return fmt.Errorf("present: read staging buffer: %w", err)
	}
	if err := d.images.Publish(op.Surface, append([]byte(nil), data...)); err != nil {
		slogger().Warn("present: publish failed", "external_id", op.Surface, "err", err)
	} else {
		d.compositor.UpdateImage(surface.Key, surface.Desc)
		d.metrics.FramePresented()
	}
	if err := surface.Pool.Complete(req.Buffer); err != nil {
		return fmt.Errorf("present: %w", err)
	}
	d.reportPool(op.Surface, surface)
	return nil
}

func (d *Dispatcher) reportPool(id extimage.ExternalID, surface *present.Surface) {
	u, a, q := surface.Pool.Counts()
	d.metrics.Pool(id, u, a, q)
}

// closeReply closes a reply channel so a waiting sender sees the failure.
func closeReply[T any](ch chan<- T) {
	if ch != nil {
		close(ch)
	}
}
