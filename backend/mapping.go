package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Mapping errors.
var (
	// ErrAlreadyMapped is returned when mapping a buffer that is mapped or has a mapping pending.
	ErrAlreadyMapped = errors.New("backend: buffer is already mapped or mapping is pending")

	// ErrNotMapped is returned when accessing the mapped range of an unmapped buffer.
	ErrNotMapped = errors.New("backend: buffer is not mapped")

	// ErrMapPending is returned when accessing a buffer whose mapping has not completed.
	ErrMapPending = errors.New("backend: buffer mapping is pending")

	// ErrInvalidMapMode is returned when mapping with an invalid mode.
	ErrInvalidMapMode = errors.New("backend: invalid map mode")

	// ErrInvalidMapRange is returned when the map range is out of bounds or misaligned.
	ErrInvalidMapRange = errors.New("backend: map range out of bounds")

	// ErrMapUsageMismatch is returned when the map mode does not match buffer usage.
	ErrMapUsageMismatch = errors.New("backend: map mode does not match buffer usage flags")

	// ErrNilCallback is returned when BufferMapAsync is called without a callback.
	ErrNilCallback = errors.New("backend: map callback is nil")
)

// MapAlignment is the required alignment of map offsets and sizes.
const MapAlignment uint64 = 8

// MapState is the mapping state of a buffer.
type MapState int

const (
	// MapStateUnmapped means the buffer is not mapped.
	MapStateUnmapped MapState = iota
	// MapStatePending means a map operation is pending.
	MapStatePending
	// MapStateMapped means the buffer is mapped.
	MapStateMapped
)

func (s MapState) String() string {
	switch s {
	case MapStateUnmapped:
		return "Unmapped"
	case MapStatePending:
		return "Pending"
	case MapStateMapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// MapStatus is the outcome delivered to a MapCallback.
type MapStatus int

const (
	MapStatusSuccess MapStatus = iota
	MapStatusValidationError
	MapStatusUnknown
	MapStatusDeviceLost
	MapStatusDestroyedBeforeCallback
	MapStatusUnmappedBeforeCallback
	MapStatusMappingAlreadyPending
	MapStatusOffsetOutOfRange
	MapStatusSizeOutOfRange
)

func (s MapStatus) String() string {
	switch s {
	case MapStatusSuccess:
		return "Success"
	case MapStatusValidationError:
		return "ValidationError"
	case MapStatusUnknown:
		return "Unknown"
	case MapStatusDeviceLost:
		return "DeviceLost"
	case MapStatusDestroyedBeforeCallback:
		return "DestroyedBeforeCallback"
	case MapStatusUnmappedBeforeCallback:
		return "UnmappedBeforeCallback"
	case MapStatusMappingAlreadyPending:
		return "MappingAlreadyPending"
	case MapStatusOffsetOutOfRange:
		return "OffsetOutOfRange"
	case MapStatusSizeOutOfRange:
		return "SizeOutOfRange"
	default:
		return fmt.Sprintf("MapStatus(%d)", int(s))
	}
}

// Mapping tracks the map state of one buffer. Backends keep one per buffer
// and guard it with their own lock; Mapping itself is not synchronized.
//
// The zero value is an unmapped buffer.
type Mapping struct {
	state    MapState
	mode     gputypes.MapMode
	offset   uint64
	size     uint64
	callback MapCallback
	data     []byte
}

// State returns the current map state.
func (m *Mapping) State() MapState { return m.state }

// Mode returns the mode of the pending or active mapping.
func (m *Mapping) Mode() gputypes.MapMode { return m.mode }

// Bounds returns the buffer range of the pending or active mapping.
func (m *Mapping) Bounds() (offset, size uint64) { return m.offset, m.size }

// Begin validates a map request against a buffer of the given usage and
// size and moves the mapping to pending. On error the state is unchanged
// and callback is not retained.
func (m *Mapping) Begin(usage gputypes.BufferUsage, bufferSize uint64,
	mode gputypes.MapMode, offset, size uint64, callback MapCallback) error {
	if m.state != MapStateUnmapped {
		return ErrAlreadyMapped
	}
	if callback == nil {
		return ErrNilCallback
	}
	if err := ValidateMap(usage, bufferSize, mode, offset, size); err != nil {
		return err
	}

	m.state = MapStatePending
	m.mode = mode
	m.offset = offset
	m.size = size
	m.callback = callback
	return nil
}

// MapAtCreation marks a new buffer as mapped for writing over its whole
// range, backed by data.
func (m *Mapping) MapAtCreation(data []byte) {
	*m = Mapping{
		state: MapStateMapped,
		mode:  gputypes.MapModeWrite,
		size:  uint64(len(data)),
		data:  data,
	}
}

// Resolve completes a pending mapping with data, the host view of the
// mapped range. It returns the callback to invoke with MapStatusSuccess, or
// nil if no mapping was pending.
func (m *Mapping) Resolve(data []byte) MapCallback {
	if m.state != MapStatePending {
		return nil
	}
	cb := m.callback
	m.callback = nil
	m.data = data
	m.state = MapStateMapped
	return cb
}

// Fail aborts a pending mapping and returns its callback, or nil if no
// mapping was pending.
func (m *Mapping) Fail() MapCallback {
	if m.state != MapStatePending {
		return nil
	}
	cb := m.callback
	m.reset()
	return cb
}

// Range returns the host view of [offset, offset+size). Offsets are
// relative to the buffer, not to the mapped region.
func (m *Mapping) Range(offset, size uint64) ([]byte, error) {
	switch m.state {
	case MapStatePending:
		return nil, ErrMapPending
	case MapStateUnmapped:
		return nil, ErrNotMapped
	}
	if offset < m.offset {
		return nil, fmt.Errorf("%w: offset %d is before mapped region start %d",
			ErrInvalidMapRange, offset, m.offset)
	}
	if offset+size > m.offset+m.size {
		return nil, fmt.Errorf("%w: offset %d + size %d exceeds mapped region end %d",
			ErrInvalidMapRange, offset, size, m.offset+m.size)
	}
	start := offset - m.offset
	return m.data[start : start+size : start+size], nil
}

// End unmaps the buffer. If a mapping was still pending its callback is
// returned so the caller can report MapStatusUnmappedBeforeCallback or
// MapStatusDestroyedBeforeCallback. For an active write mapping, written
// holds the mapped bytes the caller must flush to the buffer.
func (m *Mapping) End() (pending MapCallback, written []byte, err error) {
	switch m.state {
	case MapStateUnmapped:
		return nil, nil, ErrNotMapped
	case MapStatePending:
		pending = m.callback
	case MapStateMapped:
		if m.mode == gputypes.MapModeWrite {
			written = m.data
		}
	}
	m.reset()
	return pending, written, nil
}

func (m *Mapping) reset() {
	*m = Mapping{}
}

// ValidateMap checks a map request the way WebGPU does: a single mode
// allowed by the buffer usage and an in-bounds, 8-byte aligned range. A
// size that reaches the end of the buffer need not be aligned.
func ValidateMap(usage gputypes.BufferUsage, bufferSize uint64, mode gputypes.MapMode, offset, size uint64) error {
	switch mode {
	case gputypes.MapModeRead:
		if !usage.Contains(gputypes.BufferUsageMapRead) {
			return fmt.Errorf("%w: buffer does not have MapRead usage", ErrMapUsageMismatch)
		}
	case gputypes.MapModeWrite:
		if !usage.Contains(gputypes.BufferUsageMapWrite) {
			return fmt.Errorf("%w: buffer does not have MapWrite usage", ErrMapUsageMismatch)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMapMode, mode)
	}

	if offset > bufferSize {
		return fmt.Errorf("%w: offset %d > buffer size %d", ErrInvalidMapRange, offset, bufferSize)
	}
	if size > bufferSize-offset {
		return fmt.Errorf("%w: offset %d + size %d > buffer size %d", ErrInvalidMapRange, offset, size, bufferSize)
	}
	if offset%MapAlignment != 0 {
		return fmt.Errorf("%w: offset %d must be %d-byte aligned", ErrInvalidMapRange, offset, MapAlignment)
	}
	if size%MapAlignment != 0 && size != bufferSize-offset {
		return fmt.Errorf("%w: size %d must be %d-byte aligned", ErrInvalidMapRange, size, MapAlignment)
	}
	return nil
}
