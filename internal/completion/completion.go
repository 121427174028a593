// Package completion tracks buffer map operations between the request that
// started them and the backend callback that finishes them.
//
// Backend callbacks close over the buffer id only. When a callback fires it
// looks its operation up here; an operation that was dropped in the meantime
// (because the buffer or its swap chain was destroyed) is simply absent, so
// late completions are ignored without further bookkeeping.
package completion

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
)

// ErrAlreadyPending is returned when registering a second operation for a
// buffer that already has one.
var ErrAlreadyPending = errors.New("completion: map operation already pending for buffer")

// Pathway tells a completion where its result goes.
type Pathway uint8

const (
	// Direct maps answer a script BufferMapAsync request.
	Direct Pathway = iota + 1
	// Present maps read back a swap chain frame.
	Present
)

func (p Pathway) String() string {
	switch p {
	case Direct:
		return "direct"
	case Present:
		return "present"
	default:
		return fmt.Sprintf("Pathway(%d)", uint8(p))
	}
}

// Op is one pending map operation.
type Op struct {
	Buffer  gpucore.BufferID
	Offset  uint64
	Size    uint64
	Pathway Pathway

	// Surface is set for Present operations.
	Surface extimage.ExternalID
	// Reply is set for Direct operations.
	Reply chan<- []byte
	// Answered is set once Reply has carried the mapped bytes.
	Answered bool
}

// Registry holds pending operations keyed by buffer. It is owned by the
// actor goroutine and is not synchronized.
type Registry struct {
	ops map[gpucore.BufferID]Op
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[gpucore.BufferID]Op)}
}

// Register records op. At most one operation per buffer may be pending.
func (r *Registry) Register(op Op) error {
	if _, ok := r.ops[op.Buffer]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyPending, op.Buffer)
	}
	r.ops[op.Buffer] = op
	return nil
}

// Take removes and returns the operation for buffer.
func (r *Registry) Take(buffer gpucore.BufferID) (Op, bool) {
	op, ok := r.ops[buffer]
	if ok {
		delete(r.ops, buffer)
	}
	return op, ok
}

// Peek returns the operation for buffer without removing it.
func (r *Registry) Peek(buffer gpucore.BufferID) (Op, bool) {
	op, ok := r.ops[buffer]
	return op, ok
}

// MarkAnswered records that the operation for buffer has replied.
func (r *Registry) MarkAnswered(buffer gpucore.BufferID) {
	if op, ok := r.ops[buffer]; ok {
		op.Answered = true
		r.ops[buffer] = op
	}
}

// Drop discards the operation for buffer and reports whether there was one.
func (r *Registry) Drop(buffer gpucore.BufferID) bool {
	_, ok := r.ops[buffer]
	delete(r.ops, buffer)
	return ok
}

// Len returns the number of pending operations.
func (r *Registry) Len() int { return len(r.ops) }
