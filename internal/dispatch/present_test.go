package dispatch

import (
	"bytes"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/backend/software"
	"github.com/gogpu/gpuproc/extimage"
	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/internal/metrics"
	"github.com/gogpu/gpuproc/internal/present"
	"github.com/gogpu/gpuproc/request"
	"github.com/gogpu/gpuproc/script"
)

const (
	chainWidth  = 4
	chainHeight = 2
)

// chain is a swap chain set up through the dispatcher.
type chain struct {
	id      extimage.ExternalID
	key     extimage.ImageKey
	buffers []gpucore.BufferID
	texture gpucore.TextureID
}

func (f *fixture) swapChain(buffers int) chain {
	f.t.Helper()
	ids := make(chan extimage.ExternalID, 1)
	f.send(request.CreateContext{Reply: ids})
	c := chain{id: <-ids}
	for i := 0; i < buffers; i++ {
		c.buffers = append(c.buffers, f.hub.Buffers.Alloc())
	}

	keys := make(chan extimage.ImageKey, 1)
	f.send(request.CreateSwapChain{
		Device:     f.dev,
		Buffers:    c.buffers,
		ExternalID: c.id,
		Descriptor: extimage.ImageDescriptor{
			Width:  chainWidth,
			Height: chainHeight,
			Format: gputypes.TextureFormatBGRA8Unorm,
		},
		Reply: keys,
	})
	key, ok := <-keys
	if !ok {
		f.t.Fatal("CreateSwapChain reply closed")
	}
	c.key = key

	c.texture = f.hub.Textures.Alloc()
	f.send(request.CreateTexture{
		Device:  f.dev,
		Texture: c.texture,
		Descriptor: gpucore.TextureDescriptor{
			Size:          gpucore.Extent3D{Width: chainWidth, Height: chainHeight, DepthOrArrayLayers: 1},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        gputypes.TextureFormatBGRA8Unorm,
			Usage: gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc |
				gputypes.TextureUsageCopyDst,
		},
	})
	return c
}

// fill writes a solid color into the chain texture.
func (f *fixture) fill(c chain, b byte) {
	f.t.Helper()
	data := bytes.Repeat([]byte{b}, chainWidth*chainHeight*4)
	f.send(request.WriteTexture{
		Queue:       gpucore.QueueOf(f.dev),
		Destination: gpucore.TextureCopy{Texture: c.texture},
		Layout:      gpucore.TextureDataLayout{BytesPerRow: chainWidth * 4},
		Size:        gpucore.Extent3D{Width: chainWidth, Height: chainHeight, DepthOrArrayLayers: 1},
		Data:        data,
	})
}

func (f *fixture) present(c chain) {
	f.send(request.SwapChainPresent{ExternalID: c.id, Texture: c.texture, Encoder: f.hub.CommandEncoders.Alloc()})
}

func (f *fixture) locked(c chain) extimage.Image {
	img := f.d.Images().Lock(c.id)
	f.d.Images().Unlock(c.id)
	return img
}

func TestCreateSwapChain(t *testing.T) {
	f := newFixture(t)
	c := f.swapChain(present.BufferCount)

	img := f.locked(c)
	stride := gpucore.PaddedBytesPerRow(chainWidth)
	if img.Stride != stride || img.Width != chainWidth || img.Height != chainHeight {
		t.Errorf("image layout = %dx%d/%d, want %dx%d/%d",
			img.Width, img.Height, img.Stride, chainWidth, chainHeight, stride)
	}
	if len(img.Data) != int(stride*chainHeight) {
		t.Fatalf("image has %d bytes, want %d", len(img.Data), stride*chainHeight)
	}
	for i, b := range img.Data {
		if b != 0xFF {
			t.Fatalf("initial byte %d = %#x, want 0xff", i, b)
		}
	}
	if id, desc, ok := f.compositor.Image(c.key); !ok || id != c.id || desc.Stride != stride {
		t.Errorf("compositor image = %d, %+v, %v; want %d with stride %d", id, desc, ok, c.id, stride)
	}
	s := f.d.surfaces[c.id]
	if u, a, q := s.Pool.Counts(); u != present.BufferCount || a != 0 || q != 0 {
		t.Errorf("pool = %d/%d/%d, want all unassigned", u, a, q)
	}
}

func TestCreateSwapChainTooManyBuffers(t *testing.T) {
	f := newFixture(t)
	buffers := make([]gpucore.BufferID, present.BufferCount+1)
	for i := range buffers {
		buffers[i] = f.hub.Buffers.Alloc()
	}
	keys := make(chan extimage.ImageKey, 1)
	f.send(request.CreateSwapChain{
		Device:     f.dev,
		Buffers:    buffers,
		ExternalID: 1,
		Descriptor: extimage.ImageDescriptor{Width: 1, Height: 1},
		Reply:      keys,
	})
	if _, ok := <-keys; ok {
		t.Error("CreateSwapChain with too many buffers replied with a key")
	}
	if len(f.d.surfaces) != 0 || f.d.Images().Len() != 0 {
		t.Error("rejected swap chain left state behind")
	}
}

func TestPresentPublishesFrame(t *testing.T) {
	f := newFixture(t)
	c := f.swapChain(present.BufferCount)
	f.fill(c, 0x42)

	f.present(c)
	if img := f.locked(c); img.Data[0] != 0xFF {
		t.Errorf("image changed before readback: Data[0] = %#x", img.Data[0])
	}
	f.poll()

	img := f.locked(c)
	stride := int(img.Stride)
	for y := 0; y < chainHeight; y++ {
		row := img.Data[y*stride : y*stride+chainWidth*4]
		if !bytes.Equal(row, bytes.Repeat([]byte{0x42}, chainWidth*4)) {
			t.Errorf("row %d = %v, want all 0x42", y, row)
		}
	}
	if got := f.compositor.Stats().Updated; got != 1 {
		t.Errorf("compositor updates = %d, want 1", got)
	}
	if got := f.counter(metrics.FramesPresented, nil); got != 1 {
		t.Errorf("frames_presented = %d, want 1", got)
	}
	if u, a, q := f.d.surfaces[c.id].Pool.Counts(); u != present.BufferCount-1 || a != 1 || q != 0 {
		t.Errorf("pool = %d/%d/%d, want %d/1/0", u, a, q, present.BufferCount-1)
	}

	// The next frame reuses the available buffer.
	f.fill(c, 0x07)
	f.present(c)
	f.poll()
	if img := f.locked(c); img.Data[0] != 0x07 {
		t.Errorf("second frame Data[0] = %#x, want 0x07", img.Data[0])
	}
	if u, a, _ := f.d.surfaces[c.id].Pool.Counts(); u != present.BufferCount-1 || a != 1 {
		t.Errorf("pool after reuse = %d unassigned, %d available", u, a)
	}
}

func TestPresentDropsWhenExhausted(t *testing.T) {
	f := newFixture(t)
	c := f.swapChain(present.BufferCount)
	f.fill(c, 0x10)

	for i := 0; i < present.BufferCount; i++ {
		f.present(c)
	}
	f.present(c)

	if got := f.counter(metrics.FramesDropped, nil); got != 1 {
		t.Errorf("frames_dropped = %d, want 1", got)
	}
	if img := f.locked(c); img.Data[0] != 0xFF {
		t.Errorf("dropped frame changed the image: Data[0] = %#x", img.Data[0])
	}
	if f.d.ops.Len() != present.BufferCount {
		t.Errorf("pending ops = %d, want %d", f.d.ops.Len(), present.BufferCount)
	}

	f.poll()
	if got := f.counter(metrics.FramesPresented, nil); got != present.BufferCount {
		t.Errorf("frames_presented = %d, want %d", got, present.BufferCount)
	}
	if img := f.locked(c); img.Data[0] != 0x10 {
		t.Errorf("Data[0] after poll = %#x, want 0x10", img.Data[0])
	}
}

func TestPresentUnknownSurface(t *testing.T) {
	f := newFixture(t)
	f.send(request.SwapChainPresent{ExternalID: 77, Encoder: f.hub.CommandEncoders.Alloc()})
	if got := f.counter(metrics.RequestErrors, map[string]string{metrics.TagKind: "SwapChainPresent"}); got != 1 {
		t.Errorf("request_errors{SwapChainPresent} = %d, want 1", got)
	}
}

// unmapCounter records the buffers the dispatcher unmaps.
type unmapCounter struct {
	*software.Backend
	unmapped []gpucore.BufferID
}

func (u *unmapCounter) BufferUnmap(id gpucore.BufferID) error {
	u.unmapped = append(u.unmapped, id)
	return u.Backend.BufferUnmap(id)
}

func TestDestroySwapChainReleasesEveryBuffer(t *testing.T) {
	be := &unmapCounter{Backend: software.New()}
	f := newFixtureWith(t, be)
	c := f.swapChain(present.BufferCount)
	f.fill(c, 0x33)

	// Two frames published, then one left in flight.
	f.present(c)
	f.present(c)
	f.poll()
	f.present(c)
	s := f.d.surfaces[c.id]
	unassigned, available, queued := s.Pool.Counts()
	if unassigned != present.BufferCount-2 || available != 1 || queued != 1 {
		t.Fatalf("pool before destroy = %d/%d/%d", unassigned, available, queued)
	}
	f.messages()
	buffersBefore := be.Stats()[gpucore.KindBuffer]
	be.unmapped = nil

	f.send(request.DestroySwapChain{ExternalID: c.id, ImageKey: c.key})
	f.poll()

	if got := buffersBefore - be.Stats()[gpucore.KindBuffer]; got != available+queued {
		t.Errorf("buffers destroyed = %d, want %d", got, available+queued)
	}
	if len(be.unmapped) != queued {
		t.Errorf("unmaps = %d, want %d (one per queued buffer)", len(be.unmapped), queued)
	}

	freed := make(map[gpucore.RawID]bool)
	for _, m := range f.messages() {
		if free, ok := m.(script.Free); ok && free.Kind == gpucore.KindBuffer {
			if freed[free.ID] {
				t.Errorf("buffer %s freed twice", free.ID)
			}
			freed[free.ID] = true
		}
	}
	for _, id := range c.buffers {
		if !freed[id.Raw()] {
			t.Errorf("buffer %s not returned to script", id)
		}
	}
	if f.d.ops.Len() != 0 {
		t.Errorf("pending ops = %d, want 0", f.d.ops.Len())
	}
	if f.d.Images().Len() != 0 {
		t.Errorf("publisher still holds %d images", f.d.Images().Len())
	}
	if st := f.compositor.Stats(); st.Deleted != 1 || st.Live != 0 {
		t.Errorf("compositor stats = %+v, want one deletion", st)
	}
	if got := f.counter(metrics.FramesPresented, nil); got != 2 {
		t.Errorf("frames_presented = %d, want 2 (in-flight frame must not publish)", got)
	}
}

func TestDestroyUnknownSwapChain(t *testing.T) {
	f := newFixture(t)
	f.send(request.DestroySwapChain{ExternalID: 5})
	if msgs := f.messages(); len(msgs) != 0 {
		t.Errorf("script messages = %v, want none", msgs)
	}
}

func TestPresentReturnsEncoder(t *testing.T) {
	f := newFixture(t)
	c := f.swapChain(1)
	f.messages()

	encoders := []gpucore.CommandEncoderID{f.hub.CommandEncoders.Alloc(), f.hub.CommandEncoders.Alloc()}
	for _, enc := range encoders {
		// The second present finds the only staging buffer in flight.
		f.send(request.SwapChainPresent{ExternalID: c.id, Texture: c.texture, Encoder: enc})
	}

	var got []gpucore.RawID
	for _, m := range f.messages() {
		if free, ok := m.(script.Free); ok && free.Kind == gpucore.KindCommandEncoder {
			got = append(got, free.ID)
		}
	}
	if len(got) != 2 || got[0] != encoders[0].Raw() || got[1] != encoders[1].Raw() {
		t.Errorf("freed encoders = %v, want %v and %v", got, encoders[0], encoders[1])
	}
}

func TestDestroyBufferRejectsStagingBuffer(t *testing.T) {
	f := newFixture(t)
	c := f.swapChain(present.BufferCount)
	f.fill(c, 0x21)
	f.present(c)
	f.poll()
	f.messages()

	staging := c.buffers[0]
	f.send(request.DestroyBuffer{Buffer: staging})
	if got := f.counter(metrics.RequestErrors, map[string]string{metrics.TagKind: "DestroyBuffer"}); got != 1 {
		t.Errorf("request_errors{DestroyBuffer} = %d, want 1", got)
	}
	if msgs := f.messages(); len(msgs) != 0 {
		t.Errorf("messages after rejected destroy = %v, want none", msgs)
	}

	f.send(request.DestroySwapChain{ExternalID: c.id, ImageKey: c.key})
	frees := 0
	for _, m := range f.messages() {
		if free, ok := m.(script.Free); ok && free.ID == staging.Raw() {
			frees++
		}
	}
	if frees != 1 {
		t.Errorf("staging buffer freed %d times, want 1", frees)
	}
}
