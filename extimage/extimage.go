// Package extimage holds the most recently presented frame of every swap
// chain, shared between the GPU actor and the compositor.
//
// The actor publishes whole frames; the compositor reads them with Lock and
// Unlock. Both sides hold the publisher mutex only for map access, so a
// compositor read never waits on GPU work.
package extimage

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// ErrUnknownImage is returned when publishing to an id that was never
// registered or has been removed.
var ErrUnknownImage = errors.New("extimage: unknown external image")

// ExternalID identifies a canvas surface across the actor and the
// compositor.
type ExternalID uint64

// ImageKey is the compositor's handle for a registered image.
type ImageKey uint64

// ImageDescriptor describes the layout of published bytes.
type ImageDescriptor struct {
	Width  uint32
	Height uint32
	// Stride is the byte length of one row, including padding.
	Stride uint32
	Format gputypes.TextureFormat
	Opaque bool
}

// Size returns Stride*Height.
func (d ImageDescriptor) Size() uint64 { return uint64(d.Stride) * uint64(d.Height) }

// Image is a snapshot returned by Lock.
type Image struct {
	Data   []byte
	Width  uint32
	Height uint32
	Stride uint32
	Format gputypes.TextureFormat
}

// Empty reports whether the image has no pixels.
func (img Image) Empty() bool { return img.Width == 0 || img.Height == 0 || len(img.Data) == 0 }

type entry struct {
	desc ImageDescriptor
	data []byte
}

// Publisher is the shared external image map. It is safe for concurrent
// use.
type Publisher struct {
	next atomic.Uint64

	mu     sync.Mutex
	images map[ExternalID]*entry
	locked map[ExternalID][]byte
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		images: make(map[ExternalID]*entry),
		locked: make(map[ExternalID][]byte),
	}
}

// NextID allocates a new external id. Ids start at 1 and are never reused.
func (p *Publisher) NextID() ExternalID {
	return ExternalID(p.next.Add(1))
}

// Register creates or replaces the image for id. initial becomes owned by
// the publisher.
func (p *Publisher) Register(id ExternalID, desc ImageDescriptor, initial []byte) {
	p.mu.Lock()
	p.images[id] = &entry{desc: desc, data: initial}
	p.mu.Unlock()
}

// Publish replaces the bytes of id. data becomes owned by the publisher.
func (p *Publisher) Publish(id ExternalID, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.images[id]
	if !ok {
		return ErrUnknownImage
	}
	e.data = data
	return nil
}

// Descriptor returns the layout registered for id.
func (p *Publisher) Descriptor(id ExternalID) (ImageDescriptor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.images[id]
	if !ok {
		return ImageDescriptor{}, false
	}
	return e.desc, true
}

// Remove deletes id. It reports whether the image existed.
func (p *Publisher) Remove(id ExternalID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.images[id]
	delete(p.images, id)
	delete(p.locked, id)
	return ok
}

// Len returns the number of registered images.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.images)
}

// Lock returns a copy of the current bytes of id, held until Unlock. An
// unknown id yields an empty 0x0 image.
func (p *Publisher) Lock(id ExternalID) Image {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.images[id]
	if !ok {
		return Image{}
	}
	data := append([]byte(nil), e.data...)
	p.locked[id] = data
	return Image{
		Data:   data,
		Width:  e.desc.Width,
		Height: e.desc.Height,
		Stride: e.desc.Stride,
		Format: e.desc.Format,
	}
}

// Unlock releases the copy made by Lock.
func (p *Publisher) Unlock(id ExternalID) {
	p.mu.Lock()
	delete(p.locked, id)
	p.mu.Unlock()
}
