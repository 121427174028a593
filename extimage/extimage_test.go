package extimage

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
)

func testDesc() ImageDescriptor {
	return ImageDescriptor{Width: 2, Height: 2, Stride: 256, Format: gputypes.TextureFormatBGRA8Unorm}
}

func TestNextIDMonotonic(t *testing.T) {
	p := NewPublisher()
	for want := ExternalID(1); want <= 3; want++ {
		if got := p.NextID(); got != want {
			t.Errorf("NextID() = %d, want %d", got, want)
		}
	}
}

func TestLockUnknownIsEmpty(t *testing.T) {
	p := NewPublisher()
	img := p.Lock(42)
	if !img.Empty() {
		t.Errorf("Lock(unknown) = %+v, want empty image", img)
	}
	if img.Width != 0 || img.Height != 0 {
		t.Errorf("Lock(unknown) size = %dx%d, want 0x0", img.Width, img.Height)
	}
	p.Unlock(42)
}

func TestPublishAndLock(t *testing.T) {
	p := NewPublisher()
	id := p.NextID()
	desc := testDesc()
	p.Register(id, desc, bytes.Repeat([]byte{0xFF}, int(desc.Size())))

	img := p.Lock(id)
	if img.Width != 2 || img.Height != 2 || img.Stride != 256 {
		t.Errorf("Lock() layout = %dx%d/%d, want 2x2/256", img.Width, img.Height, img.Stride)
	}
	if len(img.Data) != int(desc.Size()) || img.Data[0] != 0xFF {
		t.Fatalf("Lock() before publish returned %d bytes starting %#x, want %d bytes of 0xFF",
			len(img.Data), img.Data[0], desc.Size())
	}
	p.Unlock(id)

	frame := make([]byte, desc.Size())
	frame[0] = 7
	if err := p.Publish(id, frame); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	img = p.Lock(id)
	if img.Data[0] != 7 {
		t.Errorf("Lock() after publish Data[0] = %d, want 7", img.Data[0])
	}

	frame[0] = 9
	if img.Data[0] != 7 {
		t.Error("locked image aliases the published buffer")
	}
	p.Unlock(id)
}

func TestPublishUnknown(t *testing.T) {
	p := NewPublisher()
	if err := p.Publish(5, []byte{1}); !errors.Is(err, ErrUnknownImage) {
		t.Errorf("Publish(unknown) error = %v, want ErrUnknownImage", err)
	}
}

func TestRemove(t *testing.T) {
	p := NewPublisher()
	id := p.NextID()
	p.Register(id, testDesc(), nil)
	if !p.Remove(id) {
		t.Error("Remove() = false, want true")
	}
	if p.Remove(id) {
		t.Error("second Remove() = true, want false")
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}

func TestConcurrentLockAndPublish(t *testing.T) {
	p := NewPublisher()
	id := p.NextID()
	desc := testDesc()
	p.Register(id, desc, make([]byte, desc.Size()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			frame := bytes.Repeat([]byte{byte(i)}, int(desc.Size()))
			_ = p.Publish(id, frame)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			img := p.Lock(id)
			first := img.Data[0]
			for _, b := range img.Data {
				if b != first {
					t.Errorf("torn frame: saw %d and %d", first, b)
					break
				}
			}
			p.Unlock(id)
		}
	}()
	wg.Wait()
}

func TestRecordingCompositor(t *testing.T) {
	c := NewRecordingCompositor()
	k1 := c.GenerateImageKey()
	k2 := c.GenerateImageKey()
	if k1 == k2 {
		t.Fatalf("GenerateImageKey() returned %d twice", k1)
	}
	c.AddImage(k1, testDesc(), 1)
	c.UpdateImage(k1, testDesc())
	c.DeleteImage(k1)

	want := CompositorStats{Live: 0, Added: 1, Updated: 1, Deleted: 1}
	if got := c.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if _, _, ok := c.Image(k1); ok {
		t.Error("Image() found a deleted key")
	}
}
