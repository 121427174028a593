// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package canvas

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/present"
	"github.com/gogpu/gpuproc/request"
)

// Common errors returned by Context operations.
var (
	// ErrContextDestroyed is returned when operations are attempted on a
	// destroyed context.
	ErrContextDestroyed = errors.New("canvas: context is destroyed")

	// ErrInvalidDimensions is returned when width or height is zero.
	ErrInvalidDimensions = errors.New("canvas: invalid dimensions")

	// ErrUnsupportedFormat is returned for swap chain formats other than
	// BGRA8Unorm and RGBA8Unorm.
	ErrUnsupportedFormat = errors.New("canvas: unsupported swap chain format")

	// ErrNoSwapChain is returned by Present and Resize before a swap chain
	// is configured.
	ErrNoSwapChain = errors.New("canvas: no swap chain configured")

	// ErrSwapChainRejected is returned when the actor refuses a swap chain.
	ErrSwapChainRejected = errors.New("canvas: swap chain rejected")

	// ErrNoReply is returned when the actor stops before answering.
	ErrNoReply = errors.New("canvas: actor stopped before replying")

	// ErrNilSender is returned when a nil RequestSender is passed.
	ErrNilSender = errors.New("canvas: nil RequestSender")
)

// RequestSender delivers requests to the GPU actor. *gpuproc.Thread
// satisfies it.
type RequestSender interface {
	Send(request.Request) error
}

// doner is implemented by senders whose actor can stop. Waiting for a
// reply gives up once Done is closed.
type doner interface {
	Done() <-chan struct{}
}

// SwapChainConfig describes a swap chain.
type SwapChainConfig struct {
	Device gpucore.DeviceID
	Queue  gpucore.QueueID
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
	Width  uint32
	Height uint32
}

// SwapChain is a configured swap chain. It stays valid until the next
// ConfigureSwapChain, Resize or Destroy on its context.
type SwapChain struct {
	config  SwapChainConfig
	key     extimage.ImageKey
	buffers []gpucore.BufferID
	texture gpucore.TextureID
}

// CurrentTexture returns the texture presented by the next Present.
func (s *SwapChain) CurrentTexture() gpucore.TextureID { return s.texture }

// Config returns the configuration the chain was created with, with the
// forced usage flags applied.
func (s *SwapChain) Config() SwapChainConfig { return s.config }

// ImageKey returns the compositor key of the chain's image.
func (s *SwapChain) ImageKey() extimage.ImageKey { return s.key }

// Buffers returns the staging buffer ids handed to the actor.
func (s *SwapChain) Buffers() []gpucore.BufferID {
	return append([]gpucore.BufferID(nil), s.buffers...)
}

// Context is a canvas bound to one external image.
//
// Context is NOT safe for concurrent use.
type Context struct {
	sender    RequestSender
	hub       *gpucore.Hub
	id        extimage.ExternalID
	chain     *SwapChain
	destroyed bool
}

// NewContext asks the actor for an external image id and returns a context
// using it.
func NewContext(sender RequestSender, hub *gpucore.Hub) (*Context, error) {
	if sender == nil {
		return nil, ErrNilSender
	}
	if hub == nil {
		return nil, errors.New("canvas: nil hub")
	}

	reply := make(chan extimage.ExternalID, 1)
	if err := sender.Send(request.CreateContext{Reply: reply}); err != nil {
		return nil, fmt.Errorf("canvas: create context: %w", err)
	}
	id, err := await(sender, reply)
	if err != nil {
		return nil, fmt.Errorf("canvas: create context: %w", err)
	}
	slogger().Debug("canvas: context created", "external_id", id)
	return &Context{sender: sender, hub: hub, id: id}, nil
}

// ExternalID returns the id the compositor reads this canvas from.
func (c *Context) ExternalID() extimage.ExternalID { return c.id }

// SwapChain returns the current swap chain, or nil.
func (c *Context) SwapChain() *SwapChain { return c.chain }

// ConfigureSwapChain replaces the current swap chain with one described by
// cfg. RenderAttachment is always added to cfg.Usage.
func (c *Context) ConfigureSwapChain(cfg SwapChainConfig) (*SwapChain, error) {
	if c.destroyed {
		return nil, ErrContextDestroyed
	}
	if !gpucore.IsPresentableFormat(cfg.Format) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, cfg.Format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, cfg.Width, cfg.Height)
	}
	if err := c.destroyChain(); err != nil {
		return nil, err
	}
	cfg.Usage |= gputypes.TextureUsageRenderAttachment

	buffers := make([]gpucore.BufferID, present.BufferCount)
	for i := range buffers {
		buffers[i] = c.hub.Buffers.Alloc()
	}
	keys := make(chan extimage.ImageKey, 1)
	err := c.sender.Send(request.CreateSwapChain{
		Device:     cfg.Device,
		Buffers:    buffers,
		ExternalID: c.id,
		Descriptor: extimage.ImageDescriptor{
			Width:  cfg.Width,
			Height: cfg.Height,
			Stride: gpucore.PaddedBytesPerRow(cfg.Width),
			Format: cfg.Format,
		},
		Reply: keys,
	})
	if err == nil {
		var key extimage.ImageKey
		if key, err = await(c.sender, keys); err == nil {
			return c.createTexture(cfg, key, buffers)
		}
		if errors.Is(err, errClosed) {
			err = ErrSwapChainRejected
		}
	}
	c.freeBuffers(buffers)
	return nil, fmt.Errorf("canvas: configure swap chain: %w", err)
}

func (c *Context) createTexture(cfg SwapChainConfig, key extimage.ImageKey, buffers []gpucore.BufferID) (*SwapChain, error) {
	chain := &SwapChain{
		config:  cfg,
		key:     key,
		buffers: buffers,
		texture: c.hub.Textures.Alloc(),
	}
	// The chain is adopted before the texture request so that a failure
	// below is cleaned up by the next configure or Destroy.
	c.chain = chain

	err := c.sender.Send(request.CreateTexture{
		Device:  cfg.Device,
		Texture: chain.texture,
		Descriptor: gpucore.TextureDescriptor{
			Label:         "canvas",
			Size:          gpucore.Extent3D{Width: cfg.Width, Height: cfg.Height, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        cfg.Format,
			Usage:         cfg.Usage | gputypes.TextureUsageCopySrc,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("canvas: create texture: %w", err)
	}
	slogger().Debug("canvas: swap chain configured",
		"external_id", c.id, "width", cfg.Width, "height", cfg.Height, "format", cfg.Format)
	return chain, nil
}

// Present publishes the current texture to the compositor. The frame is
// dropped by the actor when every staging buffer is in flight.
func (c *Context) Present() error {
	if c.destroyed {
		return ErrContextDestroyed
	}
	if c.chain == nil {
		return ErrNoSwapChain
	}
	err := c.sender.Send(request.SwapChainPresent{
		ExternalID: c.id,
		Texture:    c.chain.texture,
		Encoder:    c.hub.CommandEncoders.Alloc(),
	})
	if err != nil {
		return fmt.Errorf("canvas: present: %w", err)
	}
	return nil
}

// Resize recreates the swap chain at the new size, keeping device, format
// and usage.
func (c *Context) Resize(width, height uint32) (*SwapChain, error) {
	if c.destroyed {
		return nil, ErrContextDestroyed
	}
	if c.chain == nil {
		return nil, ErrNoSwapChain
	}
	cfg := c.chain.config
	if cfg.Width == width && cfg.Height == height {
		return c.chain, nil
	}
	cfg.Width, cfg.Height = width, height
	return c.ConfigureSwapChain(cfg)
}

// Destroy releases the swap chain. The context cannot be used afterwards.
func (c *Context) Destroy() error {
	if c.destroyed {
		return nil
	}
	c.destroyed = true
	return c.destroyChain()
}

// destroyChain tears down the current chain. Staging buffer ids come back
// through script.Free; the texture is destroyed here.
func (c *Context) destroyChain() error {
	chain := c.chain
	if chain == nil {
		return nil
	}
	c.chain = nil

	err := c.sender.Send(request.DestroySwapChain{ExternalID: c.id, ImageKey: chain.key})
	if err != nil {
		return fmt.Errorf("canvas: destroy swap chain: %w", err)
	}
	if err := c.sender.Send(request.DestroyTexture{Texture: chain.texture}); err != nil {
		return fmt.Errorf("canvas: destroy texture: %w", err)
	}
	return nil
}

func (c *Context) freeBuffers(ids []gpucore.BufferID) {
	for _, id := range ids {
		if err := c.hub.Buffers.Free(id); err != nil {
			slogger().Warn("canvas: free staging buffer id", "buffer", id, "err", err)
		}
	}
}

var errClosed = errors.New("reply channel closed")

// await receives one reply. A closed channel yields errClosed.
func await[T any](sender RequestSender, reply <-chan T) (T, error) {
	var done <-chan struct{}
	if d, ok := sender.(doner); ok {
		done = d.Done()
	}
	select {
	case v, ok := <-reply:
		if !ok {
			return v, errClosed
		}
		return v, nil
	case <-done:
		// A reply sent just before the loop ended wins.
		select {
		case v, ok := <-reply:
			if ok {
				return v, nil
			}
		default:
		}
		var zero T
		return zero, ErrNoReply
	}
}
