package extimage

import (
	"sync"
	"sync/atomic"
)

// Compositor is the display service that shows external images. The actor
// registers an image per swap chain and notifies the compositor whenever a
// new frame is published; the compositor then reads it through Publisher.
type Compositor interface {
	GenerateImageKey() ImageKey
	AddImage(key ImageKey, desc ImageDescriptor, id ExternalID)
	UpdateImage(key ImageKey, desc ImageDescriptor)
	DeleteImage(key ImageKey)
}

// NopCompositor hands out keys and ignores every notification.
type NopCompositor struct {
	next atomic.Uint64
}

// GenerateImageKey returns keys starting at 1.
func (c *NopCompositor) GenerateImageKey() ImageKey { return ImageKey(c.next.Add(1)) }

// AddImage does nothing.
func (*NopCompositor) AddImage(ImageKey, ImageDescriptor, ExternalID) {}

// UpdateImage does nothing.
func (*NopCompositor) UpdateImage(ImageKey, ImageDescriptor) {}

// DeleteImage does nothing.
func (*NopCompositor) DeleteImage(ImageKey) {}

// RecordingCompositor counts calls and tracks live images. It is safe for
// concurrent use.
type RecordingCompositor struct {
	next atomic.Uint64

	mu      sync.Mutex
	images  map[ImageKey]ExternalID
	descs   map[ImageKey]ImageDescriptor
	added   int
	updated int
	deleted int
}

// NewRecordingCompositor creates a RecordingCompositor.
func NewRecordingCompositor() *RecordingCompositor {
	return &RecordingCompositor{
		images: make(map[ImageKey]ExternalID),
		descs:  make(map[ImageKey]ImageDescriptor),
	}
}

// GenerateImageKey returns keys starting at 1.
func (c *RecordingCompositor) GenerateImageKey() ImageKey { return ImageKey(c.next.Add(1)) }

// AddImage records a new image.
func (c *RecordingCompositor) AddImage(key ImageKey, desc ImageDescriptor, id ExternalID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images[key] = id
	c.descs[key] = desc
	c.added++
}

// UpdateImage records a content change.
func (c *RecordingCompositor) UpdateImage(key ImageKey, desc ImageDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descs[key] = desc
	c.updated++
}

// DeleteImage forgets an image.
func (c *RecordingCompositor) DeleteImage(key ImageKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, key)
	delete(c.descs, key)
	c.deleted++
}

// CompositorStats is a snapshot of RecordingCompositor counters.
type CompositorStats struct {
	Live    int
	Added   int
	Updated int
	Deleted int
}

// Stats returns the current counters.
func (c *RecordingCompositor) Stats() CompositorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CompositorStats{Live: len(c.images), Added: c.added, Updated: c.updated, Deleted: c.deleted}
}

// Image returns the external id and descriptor registered under key.
func (c *RecordingCompositor) Image(key ImageKey) (ExternalID, ImageDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.images[key]
	return id, c.descs[key], ok
}

var (
	_ Compositor = (*NopCompositor)(nil)
	_ Compositor = (*RecordingCompositor)(nil)
)
