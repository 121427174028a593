package gpucore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStaleID is returned when an identifier is freed twice or was never
// allocated by the manager.
var ErrStaleID = errors.New("gpucore: stale or foreign identifier")

// IdentityManager allocates raw identifiers for one resource kind.
// Freed indices are reused with their epoch incremented.
//
// IdentityManager is safe for concurrent use.
type IdentityManager struct {
	mu      sync.Mutex
	backend Backend
	epochs  []uint32 // current epoch per index
	live    []bool
	free    []uint32
}

// NewIdentityManager creates a manager stamping ids with backend.
func NewIdentityManager(backend Backend) *IdentityManager {
	m := &IdentityManager{}
	m.init(backend)
	return m
}

func (m *IdentityManager) init(backend Backend) {
	m.backend = backend
	// Index 0 with epoch 0 would zip to InvalidID, so it is never handed out.
	m.epochs = []uint32{0}
	m.live = []bool{true}
}

// Alloc returns a fresh identifier.
func (m *IdentityManager) Alloc() RawID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.epochs) == 0 {
		m.init(m.backend)
	}
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		m.live[idx] = true
		return ZipID(idx, m.epochs[idx], m.backend)
	}
	idx := uint32(len(m.epochs))
	m.epochs = append(m.epochs, 0)
	m.live = append(m.live, true)
	return ZipID(idx, 0, m.backend)
}

// Free returns id for reuse. The next allocation of the same index carries a
// higher epoch.
func (m *IdentityManager) Free(id RawID) error {
	idx, epoch, be := id.Unzip()

	m.mu.Lock()
	defer m.mu.Unlock()

	if idx == 0 || be != m.backend || int(idx) >= len(m.epochs) ||
		!m.live[idx] || m.epochs[idx] != epoch {
		return fmt.Errorf("%w: %s", ErrStaleID, id)
	}
	m.live[idx] = false
	m.epochs[idx] = (epoch + 1) & epochMask
	m.free = append(m.free, idx)
	return nil
}

// Live returns the number of identifiers currently allocated.
func (m *IdentityManager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.epochs) == 0 {
		return 0
	}
	return len(m.epochs) - 1 - len(m.free)
}

// Identities is a typed view over an IdentityManager.
type Identities[M marker] struct {
	m IdentityManager
}

// Alloc returns a fresh typed identifier.
func (t *Identities[M]) Alloc() ID[M] { return ID[M](t.m.Alloc()) }

// Free recycles id.
func (t *Identities[M]) Free(id ID[M]) error { return t.m.Free(RawID(id)) }

// Live returns the number of identifiers currently allocated.
func (t *Identities[M]) Live() int { return t.m.Live() }

// Hub holds one identity table per resource kind, all stamped with the same
// backend selector. It is the allocator used by script-side objects.
type Hub struct {
	Adapters         Identities[adapterKind]
	Devices          Identities[deviceKind]
	Buffers          Identities[bufferKind]
	Textures         Identities[textureKind]
	TextureViews     Identities[textureViewKind]
	Samplers         Identities[samplerKind]
	ShaderModules    Identities[shaderModuleKind]
	BindGroupLayouts Identities[bindGroupLayoutKind]
	BindGroups       Identities[bindGroupKind]
	PipelineLayouts  Identities[pipelineLayoutKind]
	ComputePipelines Identities[computePipelineKind]
	RenderPipelines  Identities[renderPipelineKind]
	CommandEncoders  Identities[commandEncoderKind]
}

// NewHub creates a hub for backend.
func NewHub(backend Backend) *Hub {
	h := &Hub{}
	for _, m := range h.managers() {
		m.init(backend)
	}
	return h
}

func (h *Hub) managers() map[Kind]*IdentityManager {
	return map[Kind]*IdentityManager{
		KindAdapter:         &h.Adapters.m,
		KindDevice:          &h.Devices.m,
		KindBuffer:          &h.Buffers.m,
		KindTexture:         &h.Textures.m,
		KindTextureView:     &h.TextureViews.m,
		KindSampler:         &h.Samplers.m,
		KindShaderModule:    &h.ShaderModules.m,
		KindBindGroupLayout: &h.BindGroupLayouts.m,
		KindBindGroup:       &h.BindGroups.m,
		KindPipelineLayout:  &h.PipelineLayouts.m,
		KindComputePipeline: &h.ComputePipelines.m,
		KindRenderPipeline:  &h.RenderPipelines.m,
		KindCommandEncoder:  &h.CommandEncoders.m,
	}
}

// Free recycles a raw identifier of the given kind. Queues and command
// buffers share their owner's identifier and are released through it.
func (h *Hub) Free(kind Kind, id RawID) error {
	switch kind {
	case KindQueue:
		kind = KindDevice
	case KindCommandBuffer:
		kind = KindCommandEncoder
	}
	m, ok := h.managers()[kind]
	if !ok {
		return fmt.Errorf("gpucore: no identity table for %s", kind)
	}
	return m.Free(id)
}
