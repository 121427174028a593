// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpuproc/backend"
	"github.com/gogpu/gpuproc/gpucore"
)

type buffer struct {
	dev     *device
	raw     hal.Buffer
	desc    gpucore.BufferDescriptor
	mapping backend.Mapping
	// readyAt is the submission index a pending map waits for.
	readyAt uint64
}

type texture struct {
	dev  *device
	raw  hal.Texture
	desc gpucore.TextureDescriptor
	// state is the usage the texture was last transitioned to.
	state gputypes.TextureUsage
}

type textureView struct {
	dev     *device
	raw     hal.TextureView
	texture gpucore.TextureID
}

type renderPipeline struct {
	dev *device
	raw hal.RenderPipeline
	// implicit is the empty layout created for a pipeline without one.
	implicit hal.PipelineLayout
}

func (p *renderPipeline) destroy() {
	p.dev.raw.DestroyRenderPipeline(p.raw)
	if p.implicit != nil {
		p.dev.raw.DestroyPipelineLayout(p.implicit)
	}
}

// CreateBuffer creates a buffer. Mapped-at-creation buffers get CopyDst so
// the initial contents can be uploaded on unmap.
func (b *Backend) CreateBuffer(dev gpucore.DeviceID, id gpucore.BufferID, desc *gpucore.BufferDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
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

	usage := desc.Usage
	if desc.MappedAtCreation {
		usage |= gputypes.BufferUsageCopyDst
	}
	raw, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: usage,
	})
	if err != nil {
		return fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}

	buf := &buffer{dev: d, raw: raw, desc: *desc}
	if desc.MappedAtCreation {
		buf.mapping.MapAtCreation(make([]byte, desc.Size))
	}
	b.buffers[id] = buf
	return nil
}

// DestroyBuffer destroys a buffer. A pending map request is reported as
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
	buf.dev.raw.DestroyBuffer(buf.raw)
	return nil
}

// CreateTexture creates a texture. CopyDst is always added so queue writes
// work regardless of the requested usage.
func (b *Backend) CreateTexture(dev gpucore.DeviceID, id gpucore.TextureID, desc *gpucore.TextureDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.textures[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	if desc.Size.Width == 0 || desc.Size.Height == 0 {
		return backend.Invalid("CreateTexture", "texture %q has zero size %dx%d",
			desc.Label, desc.Size.Width, desc.Size.Height)
	}

	td := *desc
	if td.Size.DepthOrArrayLayers == 0 {
		td.Size.DepthOrArrayLayers = 1
	}
	if td.MipLevelCount == 0 {
		td.MipLevelCount = 1
	}
	if td.SampleCount == 0 {
		td.SampleCount = 1
	}
	if td.Dimension == 0 {
		td.Dimension = gputypes.TextureDimension2D
	}
	raw, err := d.raw.CreateTexture(&hal.TextureDescriptor{
		Label: td.Label,
		Size: hal.Extent3D{
			Width:              td.Size.Width,
			Height:             td.Size.Height,
			DepthOrArrayLayers: td.Size.DepthOrArrayLayers,
		},
		MipLevelCount: td.MipLevelCount,
		SampleCount:   td.SampleCount,
		Dimension:     td.Dimension,
		Format:        td.Format,
		Usage:         td.Usage | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create texture %q: %w", desc.Label, err)
	}
	b.textures[id] = &texture{dev: d, raw: raw, desc: td}
	return nil
}

// DestroyTexture destroys a texture and the views created from it.
func (b *Backend) DestroyTexture(id gpucore.TextureID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	tex, ok := b.textures[id]
	if !ok {
		return unknown(gpucore.KindTexture, id.Raw())
	}
	for vid, v := range b.views {
		if v.texture == id {
			tex.dev.raw.DestroyTextureView(v.raw)
			delete(b.views, vid)
		}
	}
	delete(b.textures, id)
	tex.dev.raw.DestroyTexture(tex.raw)
	return nil
}

// CreateTextureView creates a view of tex. Zero fields inherit from the
// texture.
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

	hd := &hal.TextureViewDescriptor{Aspect: gputypes.TextureAspectAll}
	if desc != nil {
		hd.Label = desc.Label
		hd.Format = desc.Format
		hd.Dimension = desc.Dimension
		hd.BaseMipLevel = desc.BaseMipLevel
		hd.MipLevelCount = desc.MipLevelCount
		hd.BaseArrayLayer = desc.BaseArrayLayer
		hd.ArrayLayerCount = desc.ArrayLayerCount
		if desc.Aspect != 0 {
			hd.Aspect = desc.Aspect
		}
	}
	raw, err := t.dev.raw.CreateTextureView(t.raw, hd)
	if err != nil {
		return fmt.Errorf("create texture view: %w", err)
	}
	b.views[id] = &textureView{dev: t.dev, raw: raw, texture: tex}
	return nil
}

// CreateSampler creates a sampler.
func (b *Backend) CreateSampler(dev gpucore.DeviceID, id gpucore.SamplerID, desc *gpucore.SamplerDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.samplers[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	raw, err := d.raw.CreateSampler(&hal.SamplerDescriptor{
		Label:        desc.Label,
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
	})
	if err != nil {
		return fmt.Errorf("create sampler %q: %w", desc.Label, err)
	}
	b.samplers[id] = owned[hal.Sampler]{dev: d, raw: raw}
	return nil
}

// CreateShaderModule compiles WGSL sources to SPIR-V before handing them to
// the HAL.
func (b *Backend) CreateShaderModule(dev gpucore.DeviceID, id gpucore.ShaderModuleID, desc *gpucore.ShaderModuleDescriptor) error {
	words, err := backend.ShaderSPIRV(desc)
	if err != nil {
		return err
	}

	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.shaders[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	raw, err := d.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return fmt.Errorf("create shader module %q: %w", desc.Label, err)
	}
	b.shaders[id] = owned[hal.ShaderModule]{dev: d, raw: raw}
	return nil
}

// CreateBindGroupLayout creates a bind group layout.
func (b *Backend) CreateBindGroupLayout(dev gpucore.DeviceID, id gpucore.BindGroupLayoutID, desc *gpucore.BindGroupLayoutDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.bgLayouts[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	raw, err := d.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: desc.Entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout %q: %w", desc.Label, err)
	}
	b.bgLayouts[id] = owned[hal.BindGroupLayout]{dev: d, raw: raw}
	return nil
}

// CreateBindGroup creates a bind group. Only buffer bindings are supported,
// since the HAL addresses samplers and views by native handles this backend
// does not expose.
func (b *Backend) CreateBindGroup(dev gpucore.DeviceID, id gpucore.BindGroupID, desc *gpucore.BindGroupDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.bindGroups[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	layout, ok := b.bgLayouts[desc.Layout]
	if !ok {
		return unknown(gpucore.KindBindGroupLayout, desc.Layout.Raw())
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		res, ok := e.Resource.(gpucore.BufferBinding)
		if !ok {
			return backend.Invalid("CreateBindGroup", "binding %d: %T is not supported by the %s backend",
				e.Binding, e.Resource, b.name)
		}
		buf, ok := b.buffers[res.Buffer]
		if !ok {
			return unknown(gpucore.KindBuffer, res.Buffer.Raw())
		}
		size := res.Size
		if size == 0 {
			if res.Offset > buf.desc.Size {
				return backend.Invalid("CreateBindGroup", "binding %d: offset %d beyond buffer size %d",
					e.Binding, res.Offset, buf.desc.Size)
			}
			size = buf.desc.Size - res.Offset
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: e.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.raw.NativeHandle(),
				Offset: res.Offset,
				Size:   size,
			},
		})
	}

	raw, err := d.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout.raw,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group %q: %w", desc.Label, err)
	}
	b.bindGroups[id] = owned[hal.BindGroup]{dev: d, raw: raw}
	return nil
}

// CreatePipelineLayout creates a pipeline layout.
func (b *Backend) CreatePipelineLayout(dev gpucore.DeviceID, id gpucore.PipelineLayoutID, desc *gpucore.PipelineLayoutDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.pLayouts[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	layouts := make([]hal.BindGroupLayout, len(desc.BindGroupLayouts))
	for i, l := range desc.BindGroupLayouts {
		bgl, ok := b.bgLayouts[l]
		if !ok {
			return unknown(gpucore.KindBindGroupLayout, l.Raw())
		}
		layouts[i] = bgl.raw
	}
	raw, err := d.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout %q: %w", desc.Label, err)
	}
	b.pLayouts[id] = owned[hal.PipelineLayout]{dev: d, raw: raw}
	return nil
}

// layout resolves a pipeline layout. A zero id yields an empty layout the
// caller owns.
func (b *Backend) layout(d *device, id gpucore.PipelineLayoutID, label string) (raw hal.PipelineLayout, implicit bool, err error) {
	if id == 0 {
		raw, err = d.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{Label: label + " (implicit layout)"})
		if err != nil {
			return nil, false, fmt.Errorf("create implicit layout: %w", err)
		}
		return raw, true, nil
	}
	l, ok := b.pLayouts[id]
	if !ok {
		return nil, false, unknown(gpucore.KindPipelineLayout, id.Raw())
	}
	return l.raw, false, nil
}

func (b *Backend) shader(id gpucore.ShaderModuleID) (hal.ShaderModule, error) {
	m, ok := b.shaders[id]
	if !ok {
		return nil, unknown(gpucore.KindShaderModule, id.Raw())
	}
	return m.raw, nil
}

// CreateComputePipeline creates a compute pipeline.
func (b *Backend) CreateComputePipeline(dev gpucore.DeviceID, id gpucore.ComputePipelineID, desc *gpucore.ComputePipelineDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.computes[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	module, err := b.shader(desc.Compute.Module)
	if err != nil {
		return err
	}
	if desc.Layout == 0 {
		return backend.Invalid("CreateComputePipeline", "pipeline %q needs an explicit layout", desc.Label)
	}
	layout, _, err := b.layout(d, desc.Layout, desc.Label)
	if err != nil {
		return err
	}
	raw, err := d.raw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.Compute.EntryPoint,
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline %q: %w", desc.Label, err)
	}
	b.computes[id] = owned[hal.ComputePipeline]{dev: d, raw: raw}
	return nil
}

// CreateRenderPipeline creates a render pipeline. Without a layout an empty
// one is created and destroyed with the pipeline.
func (b *Backend) CreateRenderPipeline(dev gpucore.DeviceID, id gpucore.RenderPipelineID, desc *gpucore.RenderPipelineDescriptor) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	d, err := b.device(dev)
	if err != nil {
		return err
	}
	_, exists := b.renders[id]
	if err := b.checkNew(id.Raw(), exists); err != nil {
		return err
	}
	vs, err := b.shader(desc.Vertex.Module)
	if err != nil {
		return err
	}
	hd := &hal.RenderPipelineDescriptor{
		Label: desc.Label,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: desc.Vertex.EntryPoint,
			Buffers:    desc.Vertex.Buffers,
		},
		Primitive:   desc.Primitive,
		Multisample: desc.Multisample,
	}
	if hd.Multisample.Count == 0 {
		hd.Multisample.Count = 1
		hd.Multisample.Mask = 0xFFFFFFFF
	}
	if desc.Fragment != nil {
		fs, err := b.shader(desc.Fragment.Module)
		if err != nil {
			return err
		}
		hd.Fragment = &hal.FragmentState{
			Module:     fs,
			EntryPoint: desc.Fragment.EntryPoint,
			Targets:    desc.Fragment.Targets,
		}
	}

	layout, implicit, err := b.layout(d, desc.Layout, desc.Label)
	if err != nil {
		return err
	}
	hd.Layout = layout
	raw, err := d.raw.CreateRenderPipeline(hd)
	if err != nil {
		if implicit {
			d.raw.DestroyPipelineLayout(layout)
		}
		return fmt.Errorf("create render pipeline %q: %w", desc.Label, err)
	}
	p := &renderPipeline{dev: d, raw: raw}
	if implicit {
		p.implicit = layout
	}
	b.renders[id] = p
	return nil
}

// Drop destroys a view, sampler, shader module, layout, bind group,
// pipeline or unsubmitted encoder.
func (b *Backend) Drop(kind gpucore.Kind, id gpucore.RawID) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.mu.Unlock()

	switch kind {
	case gpucore.KindTextureView:
		v, ok := b.views[gpucore.TextureViewID(id)]
		if !ok {
			return unknown(kind, id)
		}
		v.dev.raw.DestroyTextureView(v.raw)
		delete(b.views, gpucore.TextureViewID(id))
	case gpucore.KindCommandEncoder, gpucore.KindCommandBuffer:
		enc, ok := b.encoders[gpucore.CommandEncoderID(id)]
		if !ok {
			return unknown(kind, id)
		}
		enc.discard()
		delete(b.encoders, gpucore.CommandEncoderID(id))
	case gpucore.KindRenderPipeline:
		p, ok := b.renders[gpucore.RenderPipelineID(id)]
		if !ok {
			return unknown(kind, id)
		}
		p.destroy()
		delete(b.renders, gpucore.RenderPipelineID(id))
	case gpucore.KindSampler:
		return dropOwned(b.samplers, gpucore.SamplerID(id), kind, func(d *device, s hal.Sampler) { d.raw.DestroySampler(s) })
	case gpucore.KindShaderModule:
		return dropOwned(b.shaders, gpucore.ShaderModuleID(id), kind, func(d *device, m hal.ShaderModule) { d.raw.DestroyShaderModule(m) })
	case gpucore.KindBindGroupLayout:
		return dropOwned(b.bgLayouts, gpucore.BindGroupLayoutID(id), kind, func(d *device, l hal.BindGroupLayout) { d.raw.DestroyBindGroupLayout(l) })
	case gpucore.KindBindGroup:
		return dropOwned(b.bindGroups, gpucore.BindGroupID(id), kind, func(d *device, g hal.BindGroup) { d.raw.DestroyBindGroup(g) })
	case gpucore.KindPipelineLayout:
		return dropOwned(b.pLayouts, gpucore.PipelineLayoutID(id), kind, func(d *device, l hal.PipelineLayout) { d.raw.DestroyPipelineLayout(l) })
	case gpucore.KindComputePipeline:
		return dropOwned(b.computes, gpucore.ComputePipelineID(id), kind, func(d *device, p hal.ComputePipeline) { d.raw.DestroyComputePipeline(p) })
	default:
		return fmt.Errorf("%w: Drop(%s)", backend.ErrUnsupported, kind)
	}
	return nil
}

type rawKey interface {
	comparable
	Raw() gpucore.RawID
}

func dropOwned[K rawKey, T any](table map[K]owned[T], id K, kind gpucore.Kind, destroy func(*device, T)) error {
	r, ok := table[id]
	if !ok {
		return unknown(kind, id.Raw())
	}
	destroy(r.dev, r.raw)
	delete(table, id)
	return nil
}
