// Package snapshot turns published external images into Go images for
// inspection and dumps.
package snapshot

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/gpuproc/extimage"
)

// ErrEmpty is returned for images without pixels, such as the result of
// locking an unknown id.
var ErrEmpty = errors.New("snapshot: empty image")

// ToImage converts the bytes of a locked image to RGBA, dropping row
// padding and swizzling BGRA.
func ToImage(img extimage.Image) (*image.RGBA, error) {
	if img.Empty() {
		return nil, ErrEmpty
	}
	w, h, stride := int(img.Width), int(img.Height), int(img.Stride)
	if stride < w*4 || len(img.Data) < stride*(h-1)+w*4 {
		return nil, fmt.Errorf("snapshot: %d bytes do not hold %dx%d at stride %d", len(img.Data), w, h, stride)
	}
	bgra := img.Format == gputypes.TextureFormatBGRA8Unorm
	if !bgra && img.Format != gputypes.TextureFormatRGBA8Unorm {
		return nil, fmt.Errorf("snapshot: unsupported format %v", img.Format)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.Data[y*stride : y*stride+w*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+w*4]
		copy(dst, src)
		if bgra {
			for i := 0; i < len(dst); i += 4 {
				dst[i], dst[i+2] = dst[i+2], dst[i]
			}
		}
	}
	return out, nil
}

// Thumbnail scales src so that its longer side is at most maxSide. Images
// that already fit are returned unscaled.
func Thumbnail(src *image.RGBA, maxSide int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return src
	}
	if w >= h {
		h = max(1, h*maxSide/w)
		w = maxSide
	} else {
		w = max(1, w*maxSide/h)
		h = maxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// Capture locks id in p and converts the current frame.
func Capture(p *extimage.Publisher, id extimage.ExternalID, maxSide int) (*image.RGBA, error) {
	img := p.Lock(id)
	defer p.Unlock(id)

	rgba, err := ToImage(img)
	if err != nil {
		return nil, fmt.Errorf("snapshot: external image %d: %w", id, err)
	}
	return Thumbnail(rgba, maxSide), nil
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
