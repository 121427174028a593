package dispatch

import (
	"bytes"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/metrics"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

func TestDirectMapRead(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(16, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	f.send(request.WriteBuffer{Queue: gpucore.QueueOf(f.dev), Buffer: buf, Data: want})

	reply := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: reply, Buffer: buf, Mode: gputypes.MapModeRead, Offset: 8, Size: 8})
	select {
	case <-reply:
		t.Fatal("map answered before the backend was polled")
	default:
	}

	f.poll()
	got, ok := <-reply
	if !ok {
		t.Fatal("reply closed, want mapped bytes")
	}
	if !bytes.Equal(got, want[8:]) {
		t.Errorf("mapped bytes = %v, want %v", got, want[8:])
	}
	if f.d.ops.Len() != 1 {
		t.Errorf("pending ops after success = %d, want 1 until BufferMapComplete", f.d.ops.Len())
	}

	f.send(request.BufferMapComplete{Buffer: buf})
	f.send(request.UnmapBuffer{Buffer: buf, IsMapRead: true, Offset: 8, Size: 8})
	if f.d.ops.Len() != 0 {
		t.Errorf("pending ops = %d, want 0", f.d.ops.Len())
	}

	// The buffer can be mapped again.
	again := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: again, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.poll()
	if got := <-again; !bytes.Equal(got, want) {
		t.Errorf("second map = %v, want %v", got, want)
	}
}

func TestDirectMapRejected(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(16, gputypes.BufferUsageCopyDst) // not mappable

	reply := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: reply, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	if _, ok := <-reply; ok {
		t.Error("reply received data, want closed channel")
	}
	if f.d.ops.Len() != 0 {
		t.Errorf("pending ops = %d, want 0", f.d.ops.Len())
	}
	if got := f.counter(metrics.MapsFailed, nil); got != 1 {
		t.Errorf("maps_failed = %d, want 1", got)
	}
}

func TestDuplicateMapRejected(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(16, gputypes.BufferUsageMapRead)

	first := make(chan []byte, 1)
	second := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: first, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.send(request.BufferMapAsync{Reply: second, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.poll()

	if _, ok := <-first; !ok {
		t.Error("first map failed")
	}
	select {
	case v, ok := <-second:
		if ok {
			t.Errorf("second map answered %v, want closed reply", v)
		}
	default:
		t.Error("second map reply left open")
	}
}

func TestUnmapRetiresDirectMap(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(16, gputypes.BufferUsageMapRead)

	first := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: first, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.poll()
	if _, ok := <-first; !ok {
		t.Fatal("first map failed")
	}
	f.send(request.UnmapBuffer{Buffer: buf, IsMapRead: true, Size: 16})
	if got := f.d.ops.Len(); got != 0 {
		t.Errorf("pending ops after unmap = %d, want 0", got)
	}

	second := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: second, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.poll()
	if v, ok := <-second; !ok || len(v) != 16 {
		t.Errorf("second map = (%v, %v), want 16 bytes", v, ok)
	}
}

func TestUnmapClosesUnansweredMap(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(16, gputypes.BufferUsageMapRead)

	reply := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: reply, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.send(request.UnmapBuffer{Buffer: buf, IsMapRead: true, Size: 16})
	f.poll()
	select {
	case v, ok := <-reply:
		if ok {
			t.Errorf("map answered %v after unmap, want closed reply", v)
		}
	default:
		t.Error("map reply left open after unmap")
	}
}

func TestUnmapWritesBack(t *testing.T) {
	f := newFixture(t)
	src := f.buffer(8, gputypes.BufferUsageMapWrite|gputypes.BufferUsageCopySrc)
	dst := f.buffer(8, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)

	reply := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: reply, Buffer: src, Mode: gputypes.MapModeWrite, Size: 8})
	f.poll()
	<-reply
	f.send(request.BufferMapComplete{Buffer: src})
	payload := []byte{9, 8, 7, 6, 5, 4, 3, 2}
	f.send(request.UnmapBuffer{Buffer: src, Data: payload, Size: 8})

	enc := f.hub.CommandEncoders.Alloc()
	f.send(request.CreateCommandEncoder{Device: f.dev, Encoder: enc})
	f.send(request.CopyBufferToBuffer{Encoder: enc, Source: src, Destination: dst, Size: 8})
	f.send(request.CommandEncoderFinish{Encoder: enc})
	f.send(request.Submit{Queue: gpucore.QueueOf(f.dev), CommandBuffers: []gpucore.CommandBufferID{gpucore.CommandBufferOf(enc)}})

	read := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: read, Buffer: dst, Mode: gputypes.MapModeRead, Size: 8})
	f.poll()
	if got := <-read; !bytes.Equal(got, payload) {
		t.Errorf("copied bytes = %v, want %v", got, payload)
	}
}

func TestDestroyCancelsPendingMap(t *testing.T) {
	f := newFixture(t)
	buf := f.buffer(16, gputypes.BufferUsageMapRead)

	reply := make(chan []byte, 1)
	f.send(request.BufferMapAsync{Reply: reply, Buffer: buf, Mode: gputypes.MapModeRead, Size: 16})
	f.send(request.DestroyBuffer{Buffer: buf})
	if _, ok := <-reply; ok {
		t.Error("reply received data after destroy, want closed channel")
	}
	if f.d.ops.Len() != 0 {
		t.Errorf("pending ops = %d, want 0", f.d.ops.Len())
	}

	// The late DestroyedBeforeCallback completion is ignored.
	f.poll()
	msgs := f.messages()
	if len(msgs) != 1 || msgs[0] != script.FreeBuffer(buf) {
		t.Errorf("script messages = %v, want [%v]", msgs, script.FreeBuffer(buf))
	}
}
