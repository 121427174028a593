package backend

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

const readUsage = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst

func TestValidateMap(t *testing.T) {
	tests := []struct {
		name    string
		usage   gputypes.BufferUsage
		mode    gputypes.MapMode
		offset  uint64
		size    uint64
		wantErr error
	}{
		{"read whole", readUsage, gputypes.MapModeRead, 0, 64, nil},
		{"read tail unaligned size", readUsage, gputypes.MapModeRead, 8, 56, nil},
		{"no mode", readUsage, 0, 0, 64, ErrInvalidMapMode},
		{"write on read buffer", readUsage, gputypes.MapModeWrite, 0, 64, ErrMapUsageMismatch},
		{"read on write buffer", gputypes.BufferUsageMapWrite, gputypes.MapModeRead, 0, 64, ErrMapUsageMismatch},
		{"offset past end", readUsage, gputypes.MapModeRead, 72, 0, ErrInvalidMapRange},
		{"size past end", readUsage, gputypes.MapModeRead, 8, 64, ErrInvalidMapRange},
		{"misaligned offset", readUsage, gputypes.MapModeRead, 4, 8, ErrInvalidMapRange},
		{"misaligned size", readUsage, gputypes.MapModeRead, 0, 12, ErrInvalidMapRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMap(tt.usage, 64, tt.mode, tt.offset, tt.size)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateMap() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMap() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMappingLifecycle(t *testing.T) {
	var m Mapping
	var got []MapStatus
	cb := func(s MapStatus) { got = append(got, s) }

	if err := m.Begin(readUsage, 64, gputypes.MapModeRead, 0, 16, cb); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if m.State() != MapStatePending {
		t.Fatalf("State() = %v, want Pending", m.State())
	}
	if _, err := m.Range(0, 16); !errors.Is(err, ErrMapPending) {
		t.Errorf("Range() while pending error = %v, want ErrMapPending", err)
	}
	if err := m.Begin(readUsage, 64, gputypes.MapModeRead, 0, 16, cb); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("second Begin() error = %v, want ErrAlreadyMapped", err)
	}

	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	resolved := m.Resolve(data)
	if resolved == nil {
		t.Fatal("Resolve() returned nil callback")
	}
	resolved(MapStatusSuccess)
	if m.Resolve(data) != nil {
		t.Error("Resolve() on mapped buffer returned a callback")
	}

	view, err := m.Range(4, 4)
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if view[0] != 4 || len(view) != 4 {
		t.Errorf("Range(4, 4) = %v", view)
	}
	if _, err := m.Range(8, 16); !errors.Is(err, ErrInvalidMapRange) {
		t.Errorf("Range() past mapping error = %v, want ErrInvalidMapRange", err)
	}

	pending, written, err := m.End()
	if err != nil || pending != nil || written != nil {
		t.Errorf("End() = (%v, %v, %v), want nothing for a read mapping", pending != nil, written, err)
	}
	if _, _, err := m.End(); !errors.Is(err, ErrNotMapped) {
		t.Errorf("End() twice error = %v, want ErrNotMapped", err)
	}
	if len(got) != 1 || got[0] != MapStatusSuccess {
		t.Errorf("callbacks = %v, want [Success]", got)
	}
}

func TestMappingEndWhilePending(t *testing.T) {
	var m Mapping
	fired := false
	if err := m.Begin(readUsage, 64, gputypes.MapModeRead, 0, 64, func(MapStatus) { fired = true }); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	pending, _, err := m.End()
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if pending == nil {
		t.Fatal("End() did not return the pending callback")
	}
	if fired {
		t.Error("End() invoked the callback itself")
	}
	if m.State() != MapStateUnmapped {
		t.Errorf("State() = %v, want Unmapped", m.State())
	}
}

func TestMappingWriteReturnsData(t *testing.T) {
	var m Mapping
	if err := m.Begin(gputypes.BufferUsageMapWrite, 16, gputypes.MapModeWrite, 0, 16, func(MapStatus) {}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	buf := make([]byte, 16)
	m.Resolve(buf)
	view, _ := m.Range(0, 16)
	view[3] = 0xAB

	_, written, err := m.End()
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if len(written) != 16 || written[3] != 0xAB {
		t.Errorf("End() written = %v", written)
	}
}

func TestMappingBeginErrorKeepsState(t *testing.T) {
	var m Mapping
	if err := m.Begin(readUsage, 64, gputypes.MapModeRead, 0, 64, nil); !errors.Is(err, ErrNilCallback) {
		t.Errorf("Begin(nil) error = %v, want ErrNilCallback", err)
	}
	if err := m.Begin(readUsage, 64, gputypes.MapModeRead, 0, 128, func(MapStatus) {}); err == nil {
		t.Error("Begin(out of range) error = nil")
	}
	if m.State() != MapStateUnmapped {
		t.Errorf("State() = %v, want Unmapped", m.State())
	}
	if m.Fail() != nil {
		t.Error("Fail() on unmapped buffer returned a callback")
	}
}

func TestMapStatusString(t *testing.T) {
	if got := MapStatusDestroyedBeforeCallback.String(); got != "DestroyedBeforeCallback" {
		t.Errorf("String() = %q", got)
	}
	if got := MapStatus(99).String(); got != "MapStatus(99)" {
		t.Errorf("String() = %q", got)
	}
	if got := MapStateMapped.String(); got != "Mapped" {
		t.Errorf("String() = %q", got)
	}
}
