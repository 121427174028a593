// Package present holds swap chain state: the staging buffer pool that
// frames are read back through and the surface description it belongs to.
package present

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
)

// BufferCount is the number of staging buffers reserved per swap chain.
const BufferCount = 10

var (
	// ErrNoStagingBuffer is returned by Acquire when every buffer is in flight.
	ErrNoStagingBuffer = errors.New("present: no staging buffer available")

	// ErrPoolInvariant is returned when a pool operation would leave the lists
	// overlapping or over capacity, or names a buffer in the wrong list.
	ErrPoolInvariant = errors.New("present: pool invariant violated")
)

// Pool tracks the staging buffers of one swap chain in three ordered lists.
//
// Unassigned ids are reserved but have no backend buffer yet. Available
// buffers exist and hold no frame in flight. Queued buffers have a copy and
// a readback pending. A buffer moves unassigned → queued → available →
// queued ..., and only Complete moves it from queued to available.
//
// A Pool is owned by the actor goroutine and is not synchronized.
type Pool struct {
	capacity   int
	unassigned []gpucore.BufferID
	available  []gpucore.BufferID
	queued     []gpucore.BufferID
	// abandoned buffers failed their readback. They are never reused but
	// are still released with the pool.
	abandoned []gpucore.BufferID
}

// NewPool creates a pool whose buffers are all unassigned. It fails if ids
// holds more than BufferCount entries or repeats one.
func NewPool(ids []gpucore.BufferID) (*Pool, error) {
	if len(ids) > BufferCount {
		return nil, fmt.Errorf("%w: %d buffers exceed the limit of %d", ErrPoolInvariant, len(ids), BufferCount)
	}
	p := &Pool{capacity: BufferCount, unassigned: slices.Clone(ids)}
	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

// Acquired is a buffer handed out by Acquire.
type Acquired struct {
	Buffer gpucore.BufferID
	// Fresh is set when the id came from the unassigned list and the
	// caller must create the backend buffer.
	Fresh bool
}

// Acquire takes a buffer for the next frame, preferring one that already
// exists. The buffer is in no list until it is passed to Queue.
func (p *Pool) Acquire() (Acquired, error) {
	if len(p.available) > 0 {
		id := p.available[0]
		p.available = p.available[1:]
		return Acquired{Buffer: id}, nil
	}
	if len(p.unassigned) > 0 {
		id := p.unassigned[0]
		p.unassigned = p.unassigned[1:]
		return Acquired{Buffer: id, Fresh: true}, nil
	}
	return Acquired{}, ErrNoStagingBuffer
}

// Queue marks an acquired buffer as carrying a frame.
func (p *Pool) Queue(id gpucore.BufferID) error {
	if id.IsZero() || p.Contains(id) {
		return fmt.Errorf("%w: %s queued while already pooled", ErrPoolInvariant, id)
	}
	if p.total() >= p.capacity {
		return fmt.Errorf("%w: queueing %s exceeds capacity %d", ErrPoolInvariant, id, p.capacity)
	}
	p.queued = append(p.queued, id)
	return nil
}

// Complete returns a queued buffer whose frame was published.
func (p *Pool) Complete(id gpucore.BufferID) error {
	i := slices.Index(p.queued, id)
	if i < 0 {
		return fmt.Errorf("%w: completing %s, which is not queued", ErrPoolInvariant, id)
	}
	p.queued = slices.Delete(p.queued, i, i+1)
	p.available = append(p.available, id)
	return nil
}

// Abandon retires a queued buffer whose readback failed.
func (p *Pool) Abandon(id gpucore.BufferID) error {
	i := slices.Index(p.queued, id)
	if i < 0 {
		return fmt.Errorf("%w: abandoning %s, which is not queued", ErrPoolInvariant, id)
	}
	p.queued = slices.Delete(p.queued, i, i+1)
	p.abandoned = append(p.abandoned, id)
	return nil
}

// Drained is the content of a pool at teardown.
type Drained struct {
	Unassigned []gpucore.BufferID
	Available  []gpucore.BufferID
	Queued     []gpucore.BufferID
	Abandoned  []gpucore.BufferID
}

// Drain empties the pool and returns what it held.
func (p *Pool) Drain() Drained {
	d := Drained{
		Unassigned: p.unassigned,
		Available:  p.available,
		Queued:     p.queued,
		Abandoned:  p.abandoned,
	}
	p.unassigned, p.available, p.queued, p.abandoned = nil, nil, nil, nil
	return d
}

// Counts returns the lengths of the unassigned, available and queued lists.
func (p *Pool) Counts() (unassigned, available, queued int) {
	return len(p.unassigned), len(p.available), len(p.queued)
}

// Contains reports whether id is in any list, abandoned included.
func (p *Pool) Contains(id gpucore.BufferID) bool {
	return p.contains(id) || slices.Contains(p.abandoned, id)
}

func (p *Pool) contains(id gpucore.BufferID) bool {
	return slices.Contains(p.unassigned, id) ||
		slices.Contains(p.available, id) ||
		slices.Contains(p.queued, id)
}

func (p *Pool) total() int {
	return len(p.unassigned) + len(p.available) + len(p.queued) + len(p.abandoned)
}

// check verifies the lists are disjoint and within capacity.
func (p *Pool) check() error {
	if n := p.total(); n > p.capacity {
		return fmt.Errorf("%w: %d buffers exceed capacity %d", ErrPoolInvariant, n, p.capacity)
	}
	seen := make(map[gpucore.BufferID]struct{}, p.total())
	for _, list := range [][]gpucore.BufferID{p.unassigned, p.available, p.queued, p.abandoned} {
		for _, id := range list {
			if id.IsZero() {
				return fmt.Errorf("%w: zero buffer id", ErrPoolInvariant)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: %s appears twice", ErrPoolInvariant, id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

// Surface is the presentation state of one external image.
type Surface struct {
	Device gpucore.DeviceID
	Queue  gpucore.QueueID
	Width  uint32
	Height uint32
	Stride uint32
	Key    extimage.ImageKey
	Desc   extimage.ImageDescriptor
	Pool   *Pool
}

// NewSurface builds the state of a swap chain over ids.
func NewSurface(device gpucore.DeviceID, key extimage.ImageKey, desc extimage.ImageDescriptor,
	ids []gpucore.BufferID) (*Surface, error) {
	pool, err := NewPool(ids)
	if err != nil {
		return nil, err
	}
	return &Surface{
		Device: device,
		Queue:  gpucore.QueueOf(device),
		Width:  desc.Width,
		Height: desc.Height,
		Stride: desc.Stride,
		Key:    key,
		Desc:   desc,
		Pool:   pool,
	}, nil
}

// FrameSize is the byte size of one staging buffer.
func (s *Surface) FrameSize() uint64 {
	return uint64(s.Stride) * uint64(s.Height)
}
