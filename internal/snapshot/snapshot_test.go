package snapshot

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpuproc/extimage"
)

// solid builds a padded 4-byte image with every pixel set to px.
func solid(w, h, stride uint32, format gputypes.TextureFormat, px [4]byte) extimage.Image {
	data := make([]byte, stride*h)
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			copy(data[y*stride+x*4:], px[:])
		}
		for i := y*stride + w*4; i < (y+1)*stride; i++ {
			data[i] = 0xEE
		}
	}
	return extimage.Image{Data: data, Width: w, Height: h, Stride: stride, Format: format}
}

func TestToImage(t *testing.T) {
	tests := []struct {
		name   string
		format gputypes.TextureFormat
		px     [4]byte
		want   color.RGBA
	}{
		{"rgba", gputypes.TextureFormatRGBA8Unorm, [4]byte{10, 20, 30, 255}, color.RGBA{10, 20, 30, 255}},
		{"bgra", gputypes.TextureFormatBGRA8Unorm, [4]byte{10, 20, 30, 255}, color.RGBA{30, 20, 10, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ToImage(solid(3, 2, 256, tt.format, tt.px))
			if err != nil {
				t.Fatalf("ToImage() error = %v", err)
			}
			if got := img.Bounds(); got != image.Rect(0, 0, 3, 2) {
				t.Errorf("Bounds() = %v, want 3x2", got)
			}
			for y := 0; y < 2; y++ {
				for x := 0; x < 3; x++ {
					if got := img.RGBAAt(x, y); got != tt.want {
						t.Errorf("RGBAAt(%d, %d) = %v, want %v", x, y, got, tt.want)
					}
				}
			}
		})
	}
}

func TestToImageErrors(t *testing.T) {
	short := solid(4, 2, 256, gputypes.TextureFormatRGBA8Unorm, [4]byte{})
	short.Data = short.Data[:200]

	tests := []struct {
		name string
		img  extimage.Image
	}{
		{"empty", extimage.Image{}},
		{"narrow stride", extimage.Image{Data: make([]byte, 16), Width: 4, Height: 1, Stride: 8, Format: gputypes.TextureFormatRGBA8Unorm}},
		{"short data", short},
		{"format", solid(4, 1, 256, gputypes.TextureFormatR8Unorm, [4]byte{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ToImage(tt.img); err == nil {
				t.Error("ToImage() succeeded")
			}
		})
	}
	if _, err := ToImage(extimage.Image{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("ToImage(empty) error = %v, want ErrEmpty", err)
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name    string
		w, h    int
		maxSide int
		want    image.Rectangle
	}{
		{"fits", 40, 20, 64, image.Rect(0, 0, 40, 20)},
		{"no limit", 400, 200, 0, image.Rect(0, 0, 400, 200)},
		{"wide", 400, 200, 100, image.Rect(0, 0, 100, 50)},
		{"tall", 100, 400, 100, image.Rect(0, 0, 25, 100)},
		{"sliver", 1000, 1, 10, image.Rect(0, 0, 10, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
			if got := Thumbnail(src, tt.maxSide).Bounds(); got != tt.want {
				t.Errorf("Thumbnail() bounds = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThumbnailKeepsColor(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 64, 64))
	c := color.RGBA{200, 100, 50, 255}
	for i := 0; i < len(src.Pix); i += 4 {
		copy(src.Pix[i:], []byte{c.R, c.G, c.B, c.A})
	}
	got := Thumbnail(src, 8).RGBAAt(4, 4)
	near := func(a, b uint8) bool { return a-b <= 1 || b-a <= 1 }
	if !near(got.R, c.R) || !near(got.G, c.G) || !near(got.B, c.B) || !near(got.A, c.A) {
		t.Errorf("thumbnail pixel = %v, want %v", got, c)
	}
}

func TestCapture(t *testing.T) {
	p := extimage.NewPublisher()
	id := p.NextID()
	desc := extimage.ImageDescriptor{Width: 4, Height: 2, Stride: 256, Format: gputypes.TextureFormatBGRA8Unorm}
	p.Register(id, desc, solid(4, 2, 256, desc.Format, [4]byte{0, 0, 255, 255}).Data)

	img, err := Capture(p, id, 0)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if got, want := img.RGBAAt(0, 0), (color.RGBA{255, 0, 0, 255}); got != want {
		t.Errorf("pixel = %v, want %v", got, want)
	}
	if _, err := Capture(p, id+1, 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("Capture(unknown) error = %v, want ErrEmpty", err)
	}
}

func TestSavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	src := image.NewRGBA(image.Rect(0, 0, 3, 5))
	if err := SavePNG(path, src); err != nil {
		t.Fatalf("SavePNG() error = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if got.Bounds() != src.Bounds() {
		t.Errorf("decoded bounds = %v, want %v", got.Bounds(), src.Bounds())
	}
}
