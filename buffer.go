package denoise

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Buffer is a row-major interleaved pixel buffer with no row padding.
// len(Pix) must equal Width*Height*Channels.
type Buffer[T Element] struct {
	Pix      []T
	Width    int
	Height   int
	Channels int
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer[T Element](width, height, channels int) Buffer[T] {
	return Buffer[T]{
		Pix:      make([]T, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
}

// Validate checks the buffer's dimensions against its length. It does not
// check that the channel count is supported, see [Resolve].
func (b Buffer[T]) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrInvalidBuffer, b.Width, b.Height)
	} else if b.Channels <= 0 {
		return fmt.Errorf("%w: %d channels", ErrInvalidBuffer, b.Channels)
	} else if len(b.Pix) != b.NumPixels()*b.Channels {
		return fmt.Errorf("%w: length %d does not match %dx%dx%d", ErrInvalidBuffer, len(b.Pix), b.Width, b.Height, b.Channels)
	}
	return nil
}

// NumPixels returns Width*Height.
func (b Buffer[T]) NumPixels() int {
	return b.Width * b.Height
}

// At returns the channels of the pixel at (x, y). The returned slice aliases Pix.
func (b Buffer[T]) At(x, y int) []T {
	off := (y*b.Width + x) * b.Channels
	return b.Pix[off : off+b.Channels]
}

// PadRGB expands 3 channel pixels to 4 channels by appending a zero element to each pixel.
func PadRGB[T Element](dst, src []T) []T {
	for i := 0; i+2 < len(src); i += 3 {
		dst = append(dst, src[i], src[i+1], src[i+2], 0)
	}
	return dst
}

// StripRGBA removes the fourth element of each 4 channel pixel, the inverse of [PadRGB].
func StripRGBA[T Element](dst, src []T) []T {
	for i := 0; i+3 < len(src); i += 4 {
		dst = append(dst, src[i], src[i+1], src[i+2])
	}
	return dst
}

var errShortImageData = errors.New("image data length mismatch")

// encodeSampled converts host elements to the little endian float32
// layout of the sampled input image.
func encodeSampled[T Element](dst []byte, src []T) ([]byte, error) {
	if len(dst) != 4*len(src) {
		return nil, errShortImageData
	}
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(float32(v)))
	}
	return dst, nil
}

// decodeStorage converts a downloaded storage image in the layout of format f back to host elements.
func decodeStorage[T Element](dst []T, src []byte, f TexelFormat) ([]T, error) {
	bpc := f.BytesPerTexel() / f.Channels()
	if len(src) != len(dst)*bpc {
		return nil, errShortImageData
	}
	switch {
	case f.IsFloat():
		for i := range dst {
			dst[i] = T(math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:])))
		}
	case bpc == 1:
		for i := range dst {
			dst[i] = T(src[i])
		}
	case bpc == 2:
		for i := range dst {
			dst[i] = T(binary.LittleEndian.Uint16(src[2*i:]))
		}
	default:
		return nil, fmt.Errorf("cannot decode %s", f)
	}
	return dst, nil
}
