package dispatch

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/completion"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

// errAdapter is the reply to a RequestAdapter that could not be served.
var errAdapter = errors.New("failed to get webgpu adapter")

// on adapts a handler for one concrete request type to the table signature.
func on[R request.Request](fn func(d *Dispatcher, req R) error) handler {
	return func(d *Dispatcher, req request.Request) error {
		r, ok := req.(R)
		if !ok {
			// Pointer forms are accepted so callers may send either.
			p, isPtr := any(req).(*R)
			if !isPtr || p == nil {
				return fmt.Errorf("dispatch: %T is not a %s request", req, req.Kind())
			}
			r = *p
		}
		return fn(d, r)
	}
}

func table() [request.KindCount]handler {
	var t [request.KindCount]handler

	t[request.KindRequestAdapter] = on((*Dispatcher).requestAdapter)
	t[request.KindRequestDevice] = on((*Dispatcher).requestDevice)
	t[request.KindFreeDevice] = on((*Dispatcher).freeDevice)
	t[request.KindExit] = on((*Dispatcher).exit)

	t[request.KindCreateBuffer] = on((*Dispatcher).createBuffer)
	t[request.KindCreateTexture] = on((*Dispatcher).createTexture)
	t[request.KindCreateTextureView] = on((*Dispatcher).createTextureView)
	t[request.KindCreateSampler] = on((*Dispatcher).createSampler)
	t[request.KindCreateShaderModule] = on((*Dispatcher).createShaderModule)
	t[request.KindCreateBindGroupLayout] = on((*Dispatcher).createBindGroupLayout)
	t[request.KindCreateBindGroup] = on((*Dispatcher).createBindGroup)
	t[request.KindCreatePipelineLayout] = on((*Dispatcher).createPipelineLayout)
	t[request.KindCreateComputePipeline] = on((*Dispatcher).createComputePipeline)
	t[request.KindCreateRenderPipeline] = on((*Dispatcher).createRenderPipeline)

	t[request.KindDestroyBuffer] = on((*Dispatcher).destroyBuffer)
	t[request.KindDestroyTexture] = on((*Dispatcher).destroyTexture)
	t[request.KindDropResource] = on((*Dispatcher).dropResource)

	t[request.KindCreateCommandEncoder] = on((*Dispatcher).createCommandEncoder)
	t[request.KindCopyBufferToBuffer] = on((*Dispatcher).copyBufferToBuffer)
	t[request.KindRunComputePass] = on((*Dispatcher).runComputePass)
	t[request.KindRunRenderPass] = on((*Dispatcher).runRenderPass)
	t[request.KindCommandEncoderFinish] = on((*Dispatcher).commandEncoderFinish)
	t[request.KindSubmit] = on((*Dispatcher).submit)
	t[request.KindWriteBuffer] = on((*Dispatcher).writeBuffer)
	t[request.KindWriteTexture] = on((*Dispatcher).writeTexture)

	t[request.KindBufferMapAsync] = on((*Dispatcher).bufferMapAsync)
	t[request.KindBufferMapComplete] = on((*Dispatcher).bufferMapComplete)
	t[request.KindUnmapBuffer] = on((*Dispatcher).unmapBuffer)

	t[request.KindCreateContext] = on((*Dispatcher).createContext)
	t[request.KindCreateSwapChain] = on((*Dispatcher).createSwapChain)
	t[request.KindDestroySwapChain] = on((*Dispatcher).destroySwapChain)
	t[request.KindSwapChainPresent] = on((*Dispatcher).swapChainPresent)
	t[request.KindPublishFrame] = on((*Dispatcher).publishFrame)

	return t
}

// Adapters and devices.

func (d *Dispatcher) requestAdapter(req request.RequestAdapter) error {
	id, err := d.backend.RequestAdapter(req.Options, req.IDs)
	if err != nil {
		reply(req.Reply, request.Result[request.AdapterResponse]{Err: errAdapter}, req.Kind())
		return fmt.Errorf("request adapter: %w", err)
	}
	info, err := d.backend.AdapterInfo(id)
	if err != nil {
		slogger().Warn("dispatch: adapter info unavailable", "adapter", id, "err", err)
	}
	slogger().Info("dispatch: adapter selected", "adapter", id, "name", info.Name, "backend", d.backend.Name())
	reply(req.Reply, request.Result[request.AdapterResponse]{
		Value: request.AdapterResponse{Adapter: id, Name: info.Name, Info: info},
	}, req.Kind())
	return nil
}

func (d *Dispatcher) requestDevice(req request.RequestDevice) error {
	desc := req.Descriptor
	if err := d.backend.RequestDevice(req.Adapter, &desc, req.Device); err != nil {
		reply(req.Reply, request.Result[request.DeviceResponse]{Err: err}, req.Kind())
		return fmt.Errorf("request device: %w", err)
	}
	d.devices[req.Device] = req.Pipeline
	reply(req.Reply, request.Result[request.DeviceResponse]{
		Value: request.DeviceResponse{
			Device:     req.Device,
			Queue:      gpucore.QueueOf(req.Device),
			Descriptor: desc,
		},
	}, req.Kind())
	return nil
}

func (d *Dispatcher) freeDevice(req request.FreeDevice) error {
	pipeline, ok := d.devices[req.Device]
	if !ok {
		return fmt.Errorf("free device: unknown device %s", req.Device)
	}
	delete(d.devices, req.Device)
	if err := d.backend.DropDevice(req.Device); err != nil {
		slogger().Warn("dispatch: drop device failed", "device", req.Device, "err", err)
	}
	d.notify(script.CleanDevice{Device: req.Device, Pipeline: pipeline})
	return nil
}

func (d *Dispatcher) exit(req request.Exit) error {
	d.stop("exit requested")
	if req.Reply != nil {
		reply(req.Reply, struct{}{}, req.Kind())
	}
	return nil
}

// Unscoped creation. Failures leave the id unbound and are only logged.

func (d *Dispatcher) createBuffer(req request.CreateBuffer) error {
	desc := req.Descriptor
	return d.backend.CreateBuffer(req.Device, req.Buffer, &desc)
}

func (d *Dispatcher) createTexture(req request.CreateTexture) error {
	desc := req.Descriptor
	return d.backend.CreateTexture(req.Device, req.Texture, &desc)
}

func (d *Dispatcher) createTextureView(req request.CreateTextureView) error {
	desc := req.Descriptor
	return d.backend.CreateTextureView(req.Texture, req.View, &desc)
}

func (d *Dispatcher) createSampler(req request.CreateSampler) error {
	desc := req.Descriptor
	return d.backend.CreateSampler(req.Device, req.Sampler, &desc)
}

// Scoped creation reports its outcome to script in every case.

func (d *Dispatcher) createShaderModule(req request.CreateShaderModule) error {
	desc := req.Descriptor
	err := d.backend.CreateShaderModule(req.Device, req.Module, &desc)
	d.scoped(req.Device, req.Scope, err)
	return err
}

func (d *Dispatcher) createBindGroupLayout(req request.CreateBindGroupLayout) error {
	desc := req.Descriptor
	err := d.backend.CreateBindGroupLayout(req.Device, req.BindGroupLayout, &desc)
	d.scoped(req.Device, req.Scope, err)
	return err
}

func (d *Dispatcher) createBindGroup(req request.CreateBindGroup) error {
	desc := req.Descriptor
	err := d.backend.CreateBindGroup(req.Device, req.BindGroup, &desc)
	d.scoped(req.Device, req.Scope, err)
	return err
}

func (d *Dispatcher) createPipelineLayout(req request.CreatePipelineLayout) error {
	desc := req.Descriptor
	err := d.backend.CreatePipelineLayout(req.Device, req.PipelineLayout, &desc)
	d.scoped(req.Device, req.Scope, err)
	return err
}

func (d *Dispatcher) createComputePipeline(req request.CreateComputePipeline) error {
	desc := req.Descriptor
	err := d.backend.CreateComputePipeline(req.Device, req.ComputePipeline, &desc)
	d.scoped(req.Device, req.Scope, err)
	return err
}

func (d *Dispatcher) createRenderPipeline(req request.CreateRenderPipeline) error {
	desc := req.Descriptor
	err := d.backend.CreateRenderPipeline(req.Device, req.RenderPipeline, &desc)
	d.scoped(req.Device, req.Scope, err)
	return err
}

// Destruction. The id goes back to script once the resource is released.

func (d *Dispatcher) destroyBuffer(req request.DestroyBuffer) error {
	for id, s := range d.surfaces {
		if s.Pool.Contains(req.Buffer) {
			return fmt.Errorf("destroy buffer: %s is a staging buffer of external image %d", req.Buffer, id)
		}
	}
	if op, ok := d.ops.Take(req.Buffer); ok {
		slogger().Debug("dispatch: pending map cancelled by destroy", "buffer", req.Buffer)
		if op.Pathway == completion.Direct && !op.Answered {
			closeReply(op.Reply)
		}
		d.metrics.PendingMapsChanged(d.ops.Len())
	}
	err := d.backend.DestroyBuffer(req.Buffer)
	d.notify(script.FreeBuffer(req.Buffer))
	return err
}

func (d *Dispatcher) destroyTexture(req request.DestroyTexture) error {
	err := d.backend.DestroyTexture(req.Texture)
	d.notify(script.Free{Kind: gpucore.KindTexture, ID: req.Texture.Raw()})
	return err
}

func (d *Dispatcher) dropResource(req request.DropResource) error {
	err := d.backend.Drop(req.Resource, req.ID)
	d.notify(script.Free{Kind: req.Resource, ID: req.ID})
	return err
}

// Commands. These pass straight through to the backend.

func (d *Dispatcher) createCommandEncoder(req request.CreateCommandEncoder) error {
	return d.backend.CreateCommandEncoder(req.Device, req.Encoder)
}

func (d *Dispatcher) copyBufferToBuffer(req request.CopyBufferToBuffer) error {
	return d.backend.CopyBufferToBuffer(req.Encoder, req.Source, req.SourceOffset,
		req.Destination, req.DestinationOffset, req.Size)
}

func (d *Dispatcher) runComputePass(req request.RunComputePass) error {
	if req.Pass == nil {
		return fmt.Errorf("run compute pass: nil pass on %s", req.Encoder)
	}
	return d.backend.RunComputePass(req.Encoder, req.Pass)
}

func (d *Dispatcher) runRenderPass(req request.RunRenderPass) error {
	if req.Pass == nil {
		return fmt.Errorf("run render pass: nil pass on %s", req.Encoder)
	}
	return d.backend.RunRenderPass(req.Encoder, req.Pass)
}

func (d *Dispatcher) commandEncoderFinish(req request.CommandEncoderFinish) error {
	return d.backend.CommandEncoderFinish(req.Encoder)
}

func (d *Dispatcher) submit(req request.Submit) error {
	return d.backend.QueueSubmit(req.Queue, req.CommandBuffers)
}

func (d *Dispatcher) writeBuffer(req request.WriteBuffer) error {
	return d.backend.QueueWriteBuffer(req.Queue, req.Buffer, req.Offset, req.Data)
}

func (d *Dispatcher) writeTexture(req request.WriteTexture) error {
	return d.backend.QueueWriteTexture(req.Queue, req.Destination, req.Data, req.Layout, req.Size)
}
