package dispatch

import (
	"fmt"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/completion"
	"github.com/gogpu/gpuproc/request"
)

func (d *Dispatcher) bufferMapAsync(req request.BufferMapAsync) error {
	op := completion.Op{
		Buffer:  req.Buffer,
		Offset:  req.Offset,
		Size:    req.Size,
		Pathway: completion.Direct,
		Reply:   req.Reply,
	}
	if err := d.ops.Register(op); err != nil {
		closeReply(req.Reply)
		return fmt.Errorf("map buffer: %w", err)
	}
	if err := d.backend.BufferMapAsync(req.Buffer, req.Mode, req.Offset, req.Size, d.mapCallback(req.Buffer)); err != nil {
		d.ops.Drop(req.Buffer)
		d.metrics.MapFailed()
		closeReply(req.Reply)
		return fmt.Errorf("map buffer: %w", err)
	}
	d.metrics.PendingMapsChanged(d.ops.Len())
	return nil
}

// mapCallback returns the trampoline handed to the backend. It captures
// only the buffer id; everything else is looked up when it fires, so an
// operation dropped in the meantime is ignored.
func (d *Dispatcher) mapCallback(buffer gpucore.BufferID) backend.MapCallback {
	return func(status backend.MapStatus) {
		op, ok := d.ops.Peek(buffer)
		if !ok {
			slogger().Debug("dispatch: late map completion ignored", "buffer", buffer, "status", status)
			return
		}
		switch op.Pathway {
		case completion.Direct:
			d.directMapped(op, status)
		case completion.Present:
			d.presentMapped(op, status)
		}
	}
}

// directMapped answers a script map request. A successful operation stays
// registered until BufferMapComplete.
func (d *Dispatcher) directMapped(op completion.Op, status backend.MapStatus) {
	if status != backend.MapStatusSuccess {
		d.metrics.MapFailed()
		slogger().Error("dispatch: buffer map failed", "buffer", op.Buffer, "status", status)
		d.ops.Drop(op.Buffer)
		closeReply(op.Reply)
		return
	}
	data, err := d.backend.BufferGetMappedRange(op.Buffer, op.Offset, op.Size)
	if err != nil {
		d.metrics.MapFailed()
		slogger().Error("dispatch: mapped range unavailable", "buffer", op.Buffer, "err", err)
		d.ops.Drop(op.Buffer)
		closeReply(op.Reply)
		return
	}
	reply(op.Reply, append([]byte(nil), data...), request.KindBufferMapAsync)
	d.ops.MarkAnswered(op.Buffer)
}

func (d *Dispatcher) bufferMapComplete(req request.BufferMapComplete) error {
	op, ok := d.ops.Peek(req.Buffer)
	if !ok {
		// Failed maps are dropped when their callback fires.
		slogger().Debug("dispatch: map complete for unknown buffer", "buffer", req.Buffer)
		return nil
	}
	if op.Pathway != completion.Direct {
		return fmt.Errorf("map complete: %s is mapped for presentation", req.Buffer)
	}
	d.ops.Drop(req.Buffer)
	d.metrics.PendingMapsChanged(d.ops.Len())
	return nil
}

// unmapBuffer ends a script mapping. A direct operation still registered
// for the buffer is retired here; one that never replied gets its reply
// closed.
func (d *Dispatcher) unmapBuffer(req request.UnmapBuffer) error {
	if op, ok := d.ops.Peek(req.Buffer); ok && op.Pathway == completion.Direct {
		d.ops.Drop(req.Buffer)
		if !op.Answered {
			closeReply(op.Reply)
		}
		d.metrics.PendingMapsChanged(d.ops.Len())
	}
	if !req.IsMapRead && len(req.Data) > 0 {
		if err := d.writeMapped(req); err != nil {
			slogger().Warn("dispatch: mapped write-back failed", "buffer", req.Buffer, "err", err)
		}
	}
	return d.backend.BufferUnmap(req.Buffer)
}

func (d *Dispatcher) writeMapped(req request.UnmapBuffer) error {
	dst, err := d.backend.BufferGetMappedRange(req.Buffer, req.Offset, req.Size)
	if err != nil {
		return err
	}
	if uint64(len(req.Data)) < req.Size {
		return fmt.Errorf("%d bytes supplied for a %d byte range", len(req.Data), req.Size)
	}
	copy(dst, req.Data[:req.Size])
	return nil
}
