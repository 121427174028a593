// Package script defines the messages the GPU actor sends back to the
// script side: identifier recycling, device cleanup, scoped validation
// results and the exit notification.
package script

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpuproc/gpucore"
)

// ErrQueueFull is returned by ChanSender when the channel has no free slot.
var ErrQueueFull = errors.New("script: message queue full")

// ErrNilSender is returned by sending through a nil ChanSender.
var ErrNilSender = errors.New("script: nil sender")

// PipelineID names the script event loop that owns a device.
type PipelineID uint64

// Msg is one script-bound message. The set is closed: Free, Exit,
// CleanDevice and OpResult.
type Msg interface {
	scriptMsg()
}

// Free returns an identifier to the script-side allocator. It is sent after
// the resource is destroyed, or for identifiers that were reserved but never
// materialized.
type Free struct {
	Kind gpucore.Kind
	ID   gpucore.RawID
}

// FreeBuffer is the Free message for a buffer.
func FreeBuffer(id gpucore.BufferID) Free {
	return Free{Kind: gpucore.KindBuffer, ID: id.Raw()}
}

// Exit reports that the actor stopped.
type Exit struct{}

// CleanDevice asks the owning pipeline to forget a freed device.
type CleanDevice struct {
	Device   gpucore.DeviceID
	Pipeline PipelineID
}

// OpResult reports the validation outcome of a scoped request. An empty
// Error means success.
type OpResult struct {
	Device   gpucore.DeviceID
	Scope    gpucore.ScopeID
	Pipeline PipelineID
	Error    string
}

// OK reports whether the operation validated.
func (r OpResult) OK() bool { return r.Error == "" }

func (Free) scriptMsg()        {}
func (Exit) scriptMsg()        {}
func (CleanDevice) scriptMsg() {}
func (OpResult) scriptMsg()    {}

func (m Free) String() string { return fmt.Sprintf("Free(%s %s)", m.Kind, m.ID) }

func (m OpResult) String() string {
	if m.OK() {
		return fmt.Sprintf("OpResult(%s scope=%d: ok)", m.Device, m.Scope)
	}
	return fmt.Sprintf("OpResult(%s scope=%d: %s)", m.Device, m.Scope, m.Error)
}

// Sender delivers messages to the script side. Implementations must not
// block the caller for long; the actor calls Send from its only goroutine.
type Sender interface {
	Send(Msg) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Msg) error

// Send calls f(m).
func (f SenderFunc) Send(m Msg) error { return f(m) }

// ChanSender delivers messages over a buffered channel without blocking.
type ChanSender chan Msg

// NewChanSender returns a ChanSender with the given capacity.
func NewChanSender(capacity int) ChanSender { return make(ChanSender, capacity) }

// Send enqueues m, or returns ErrQueueFull.
func (c ChanSender) Send(m Msg) error {
	if c == nil {
		return ErrNilSender
	}
	select {
	case c <- m:
		return nil
	default:
		return fmt.Errorf("%w: dropping %T", ErrQueueFull, m)
	}
}
