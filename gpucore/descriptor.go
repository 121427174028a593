package gpucore

import "github.com/gogpu/gputypes"

// Extent3D is the size of a texture region.
type Extent3D struct {
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
}

// Origin3D is a texel offset inside a texture.
type Origin3D struct {
	X, Y, Z uint32
}

// IsZero reports whether the origin is (0,0,0).
func (o Origin3D) IsZero() bool { return o == Origin3D{} }

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label            string
	Size             uint64
	Usage            gputypes.BufferUsage
	MappedAtCreation bool
}

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	Label         string
	Size          Extent3D
	MipLevelCount uint32
	SampleCount   uint32
	Dimension     gputypes.TextureDimension
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
}

// TextureViewDescriptor describes a view of an existing texture.
// Zero counts select all remaining levels or layers.
type TextureViewDescriptor struct {
	Label           string
	Format          gputypes.TextureFormat
	Dimension       gputypes.TextureViewDimension
	Aspect          gputypes.TextureAspect
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// SamplerDescriptor describes a sampler.
type SamplerDescriptor struct {
	Label        string
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
}

// ShaderModuleDescriptor carries shader source. Exactly one of WGSL or SPIRV
// should be set; WGSL is compiled to SPIR-V by the backend.
type ShaderModuleDescriptor struct {
	Label string
	WGSL  string
	SPIRV []uint32
}

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []gputypes.BindGroupLayoutEntry
}

// BindingResource is the resource bound at one bind group slot.
// Implemented by BufferBinding, SamplerBinding and TextureViewBinding.
type BindingResource interface {
	bindingResource()
}

// BufferBinding binds a range of a buffer. Size 0 binds to the end.
type BufferBinding struct {
	Buffer BufferID
	Offset uint64
	Size   uint64
}

// SamplerBinding binds a sampler.
type SamplerBinding struct {
	Sampler SamplerID
}

// TextureViewBinding binds a texture view.
type TextureViewBinding struct {
	View TextureViewID
}

func (BufferBinding) bindingResource()      {}
func (SamplerBinding) bindingResource()     {}
func (TextureViewBinding) bindingResource() {}

// BindGroupEntry is one slot of a bind group.
type BindGroupEntry struct {
	Binding  uint32
	Resource BindingResource
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	Label   string
	Layout  BindGroupLayoutID
	Entries []BindGroupEntry
}

// DeviceDescriptor describes a device request.
type DeviceDescriptor struct {
	Label            string
	RequiredFeatures gputypes.Features
}

// AdapterOptions filter adapter selection.
type AdapterOptions struct {
	PowerPreference      gputypes.PowerPreference
	ForceFallbackAdapter bool
}

// TextureDataLayout describes linear texel data in a buffer or host slice.
type TextureDataLayout struct {
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// TextureCopy names a texture subresource taking part in a copy.
type TextureCopy struct {
	Texture  TextureID
	MipLevel uint32
	Origin   Origin3D
}

// BufferCopy names a buffer taking part in a texture copy.
type BufferCopy struct {
	Buffer BufferID
	Layout TextureDataLayout
}
