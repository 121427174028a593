package gpucore

import "github.com/gogpu/gputypes"

// CopyBytesPerRowAlignment is the required alignment of BytesPerRow in
// buffer-texture copies.
const CopyBytesPerRowAlignment = 256

// PaddedBytesPerRow returns the staging row stride for a 4-byte-per-pixel
// surface of the given width.
//
// The stride is always strictly greater than width*4: the low bits are
// filled and one is added, so an already aligned row still gains a full
// alignment block. Surfaces, staging buffers and compositor descriptors all
// agree on this value.
func PaddedBytesPerRow(width uint32) uint32 {
	return ((width * 4) | (CopyBytesPerRowAlignment - 1)) + 1
}

// AlignedBytesPerRow rounds bytesPerRow up to the copy alignment.
func AlignedBytesPerRow(bytesPerRow uint32) uint32 {
	return (bytesPerRow + CopyBytesPerRowAlignment - 1) &^ (CopyBytesPerRowAlignment - 1)
}

// BytesPerPixel returns the texel size of a color format, or 0 for formats
// the copy paths do not handle.
func BytesPerPixel(format gputypes.TextureFormat) uint32 {
	switch format {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	default:
		return 0
	}
}

// IsPresentableFormat reports whether a swap chain may use format.
func IsPresentableFormat(format gputypes.TextureFormat) bool {
	return format == gputypes.TextureFormatRGBA8Unorm || format == gputypes.TextureFormatBGRA8Unorm
}
