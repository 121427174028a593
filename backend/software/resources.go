package software

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

type buffer struct {
	device  gpucore.DeviceID
	desc    gpucore.BufferDescriptor
	data    []byte
	mapping backend.Mapping
}

type texture struct {
	device gpucore.DeviceID
	desc   gpucore.TextureDescriptor
	bpp    uint32
	// data holds layers back to back, each with tightly packed rows.
	data []byte
}

func (t *texture) rowBytes() uint32 { return t.desc.Size.Width * t.bpp }

func (t *texture) layerBytes() uint32 { return t.rowBytes() * t.desc.Size.Height }

type textureView struct {
	texture gpucore.TextureID
	desc    gpucore.TextureViewDescriptor
}

// CreateBuffer allocates a zeroed host buffer.
func (b *Backend) CreateBuffer(dev gpucore.DeviceID, id gpucore.BufferID, desc *gpucore.BufferDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.device(dev); err != nil {
		return err
	}
	_, exists := b.buffers[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	if desc.Usage == 0 {
		return backend.Invalid("CreateBuffer", "buffer %q has no usage", desc.Label)
	}
	if desc.MappedAtCreation && desc.Size%4 != 0 {
		return backend.Invalid("CreateBuffer", "mapped-at-creation size %d is not a multiple of 4", desc.Size)
	}
	readWrite := gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
	if desc.Usage&readWrite == readWrite {
		return backend.Invalid("CreateBuffer", "buffer %q has both MapRead and MapWrite usage", desc.Label)
	}

	buf := &buffer{device: dev, desc: *desc, data: make([]byte, desc.Size)}
	if desc.MappedAtCreation {
		buf.mapping.MapAtCreation(buf.data)
	}
	b.buffers[id] = buf
	return nil
}

// DestroyBuffer frees a buffer. A pending map request is reported as
// MapStatusDestroyedBeforeCallback on the next Poll.
func (b *Backend) DestroyBuffer(id gpucore.BufferID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	buf, ok := b.buffers[id]
	if !ok {
		return unknown(gpucore.KindBuffer, id.Raw())
	}
	if cb := buf.mapping.Fail(); cb != nil {
		b.due = append(b.due, dueCallback{cb: cb, status: backend.MapStatusDestroyedBeforeCallback})
	}
	delete(b.buffers, id)
	return nil
}

// CreateTexture allocates a host texture. Only color formats with a known
// texel size are supported.
func (b *Backend) CreateTexture(dev gpucore.DeviceID, id gpucore.TextureID, desc *gpucore.TextureDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.device(dev); err != nil {
		return err
	}
	_, exists := b.textures[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	size := desc.Size
	if size.Width == 0 || size.Height == 0 {
		return backend.Invalid("CreateTexture", "texture %q has zero size %dx%d", desc.Label, size.Width, size.Height)
	}
	if size.DepthOrArrayLayers == 0 {
		size.DepthOrArrayLayers = 1
	}
	if desc.MipLevelCount > 1 {
		return backend.Invalid("CreateTexture", "mipmapped textures are not supported")
	}
	if desc.SampleCount > 1 {
		return backend.Invalid("CreateTexture", "multisampled textures are not supported")
	}
	bpp := gpucore.BytesPerPixel(desc.Format)
	if bpp == 0 {
		return backend.Invalid("CreateTexture", "unsupported format %v", desc.Format)
	}

	tex := &texture{device: dev, desc: *desc, bpp: bpp}
	tex.desc.Size = size
	tex.data = make([]byte, uint64(tex.layerBytes())*uint64(size.DepthOrArrayLayers))
	b.textures[id] = tex
	return nil
}

// DestroyTexture frees a texture. Views of it become invalid.
func (b *Backend) DestroyTexture(id gpucore.TextureID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if _, ok := b.textures[id]; !ok {
		return unknown(gpucore.KindTexture, id.Raw())
	}
	delete(b.textures, id)
	return nil
}

// CreateTextureView creates a view of a texture.
func (b *Backend) CreateTextureView(tex gpucore.TextureID, id gpucore.TextureViewID, desc *gpucore.TextureViewDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	t, ok := b.textures[tex]
	if !ok {
		return unknown(gpucore.KindTexture, tex.Raw())
	}
	_, exists := b.views[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	if desc.Format != gputypes.TextureFormatUndefined && desc.Format != t.desc.Format {
		return backend.Invalid("CreateTextureView", "view format %v differs from texture format %v",
			desc.Format, t.desc.Format)
	}
	if desc.BaseArrayLayer >= t.desc.Size.DepthOrArrayLayers {
		return backend.Invalid("CreateTextureView", "base layer %d out of range", desc.BaseArrayLayer)
	}
	b.views[id] = &textureView{texture: tex, desc: *desc}
	return nil
}

// CreateSampler records a sampler.
func (b *Backend) CreateSampler(dev gpucore.DeviceID, id gpucore.SamplerID, desc *gpucore.SamplerDescriptor) error {
	return b.createObject(dev, gpucore.KindSampler, id.Raw(), *desc, nil)
}

// CreateShaderModule compiles WGSL to check it and records the module.
func (b *Backend) CreateShaderModule(dev gpucore.DeviceID, id gpucore.ShaderModuleID, desc *gpucore.ShaderModuleDescriptor) error {
	return b.createObject(dev, gpucore.KindShaderModule, id.Raw(), *desc, func() error {
		_, err := backend.ShaderSPIRV(desc)
		return err
	})
}

// CreateBindGroupLayout records a layout.
func (b *Backend) CreateBindGroupLayout(dev gpucore.DeviceID, id gpucore.BindGroupLayoutID, desc *gpucore.BindGroupLayoutDescriptor) error {
	return b.createObject(dev, gpucore.KindBindGroupLayout, id.Raw(), *desc, func() error {
		seen := make(map[uint32]bool, len(desc.Entries))
		for _, e := range desc.Entries {
			if seen[e.Binding] {
				return backend.Invalid("CreateBindGroupLayout", "duplicate binding %d", e.Binding)
			}
			seen[e.Binding] = true
		}
		return nil
	})
}

// CreateBindGroup checks every entry against the layout and the referenced
// resources.
func (b *Backend) CreateBindGroup(dev gpucore.DeviceID, id gpucore.BindGroupID, desc *gpucore.BindGroupDescriptor) error {
	return b.createObject(dev, gpucore.KindBindGroup, id.Raw(), *desc, func() error {
		obj, ok := b.objects[gpucore.KindBindGroupLayout][desc.Layout.Raw()]
		if !ok {
			return unknown(gpucore.KindBindGroupLayout, desc.Layout.Raw())
		}
		layout := obj.(gpucore.BindGroupLayoutDescriptor)
		if len(desc.Entries) != len(layout.Entries) {
			return backend.Invalid("CreateBindGroup", "%d entries for a layout with %d",
				len(desc.Entries), len(layout.Entries))
		}
		for _, e := range desc.Entries {
			if err := b.checkBinding(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) checkBinding(e gpucore.BindGroupEntry) error {
	switch r := e.Resource.(type) {
	case gpucore.BufferBinding:
		buf, ok := b.buffers[r.Buffer]
		if !ok {
			return unknown(gpucore.KindBuffer, r.Buffer.Raw())
		}
		if r.Offset+r.Size > buf.desc.Size {
			return backend.Invalid("CreateBindGroup", "binding %d range exceeds buffer size %d", e.Binding, buf.desc.Size)
		}
	case gpucore.SamplerBinding:
		if _, ok := b.objects[gpucore.KindSampler][r.Sampler.Raw()]; !ok {
			return unknown(gpucore.KindSampler, r.Sampler.Raw())
		}
	case gpucore.TextureViewBinding:
		if _, ok := b.views[r.View]; !ok {
			return unknown(gpucore.KindTextureView, r.View.Raw())
		}
	default:
		return backend.Invalid("CreateBindGroup", "binding %d has no resource", e.Binding)
	}
	return nil
}

// CreatePipelineLayout checks the referenced bind group layouts.
func (b *Backend) CreatePipelineLayout(dev gpucore.DeviceID, id gpucore.PipelineLayoutID, desc *gpucore.PipelineLayoutDescriptor) error {
	return b.createObject(dev, gpucore.KindPipelineLayout, id.Raw(), *desc, func() error {
		for _, l := range desc.BindGroupLayouts {
			if _, ok := b.objects[gpucore.KindBindGroupLayout][l.Raw()]; !ok {
				return unknown(gpucore.KindBindGroupLayout, l.Raw())
			}
		}
		return nil
	})
}

// CreateComputePipeline checks the layout and shader stage.
func (b *Backend) CreateComputePipeline(dev gpucore.DeviceID, id gpucore.ComputePipelineID, desc *gpucore.ComputePipelineDescriptor) error {
	return b.createObject(dev, gpucore.KindComputePipeline, id.Raw(), *desc, func() error {
		if err := b.checkLayout(desc.Layout); err != nil {
			return err
		}
		return b.checkStage("CreateComputePipeline", desc.Compute)
	})
}

// CreateRenderPipeline checks the layout, both stages and the color targets.
func (b *Backend) CreateRenderPipeline(dev gpucore.DeviceID, id gpucore.RenderPipelineID, desc *gpucore.RenderPipelineDescriptor) error {
	return b.createObject(dev, gpucore.KindRenderPipeline, id.Raw(), *desc, func() error {
		if err := b.checkLayout(desc.Layout); err != nil {
			return err
		}
		if err := b.checkStage("CreateRenderPipeline", desc.Vertex.ProgrammableStage); err != nil {
			return err
		}
		if desc.Fragment == nil {
			return nil
		}
		if err := b.checkStage("CreateRenderPipeline", desc.Fragment.ProgrammableStage); err != nil {
			return err
		}
		for i, target := range desc.Fragment.Targets {
			if gpucore.BytesPerPixel(target.Format) == 0 {
				return backend.Invalid("CreateRenderPipeline", "target %d has unsupported format %v", i, target.Format)
			}
		}
		return nil
	})
}

func (b *Backend) checkLayout(layout gpucore.PipelineLayoutID) error {
	if layout.IsZero() {
		return nil
	}
	if _, ok := b.objects[gpucore.KindPipelineLayout][layout.Raw()]; !ok {
		return unknown(gpucore.KindPipelineLayout, layout.Raw())
	}
	return nil
}

func (b *Backend) checkStage(op string, stage gpucore.ProgrammableStage) error {
	if _, ok := b.objects[gpucore.KindShaderModule][stage.Module.Raw()]; !ok {
		return unknown(gpucore.KindShaderModule, stage.Module.Raw())
	}
	if stage.EntryPoint == "" {
		return backend.Invalid(op, "missing entry point")
	}
	return nil
}

// createObject validates and records a resource that lives in objects.
// check runs with the lock held.
func (b *Backend) createObject(dev gpucore.DeviceID, kind gpucore.Kind, id gpucore.RawID, desc any, check func() error) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	if err := b.device(dev); err != nil {
		return err
	}
	table := b.objects[kind]
	_, exists := table[id]
	if err := b.checkNew(id, exists); err != nil {
		return err
	}
	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	if table == nil {
		table = make(map[gpucore.RawID]any)
		b.objects[kind] = table
	}
	table[id] = desc
	return nil
}

// Drop releases a view, sampler, shader module, layout, bind group or
// pipeline.
func (b *Backend) Drop(kind gpucore.Kind, id gpucore.RawID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	switch kind {
	case gpucore.KindTextureView:
		if _, ok := b.views[gpucore.TextureViewID(id)]; !ok {
			return unknown(kind, id)
		}
		delete(b.views, gpucore.TextureViewID(id))
		return nil
	case gpucore.KindCommandEncoder, gpucore.KindCommandBuffer:
		enc := gpucore.CommandEncoderID(id)
		if _, ok := b.encoders[enc]; !ok {
			return unknown(kind, id)
		}
		delete(b.encoders, enc)
		return nil
	case gpucore.KindSampler, gpucore.KindShaderModule, gpucore.KindBindGroupLayout, gpucore.KindBindGroup,
		gpucore.KindPipelineLayout, gpucore.KindComputePipeline, gpucore.KindRenderPipeline:
		if _, ok := b.objects[kind][id]; !ok {
			return unknown(kind, id)
		}
		delete(b.objects[kind], id)
		return nil
	default:
		return fmt.Errorf("%w: Drop(%s)", backend.ErrUnsupported, kind)
	}
}
