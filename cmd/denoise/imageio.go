package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/soypat/denoise"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

var errUnsupportedModel = errors.New("unsupported color model, only 8 and 16 bit gray, RGB, RGBA and paletted images are supported")

// layout is the color model of a decoded image.
type layout uint8

const (
	layoutGray layout = iota + 1
	layoutGray16
	layoutRGBA
	layoutNRGBA
	layoutRGBA64
	layoutNRGBA64
)

// raster holds decoded pixels in a denoise buffer of the image's bit depth.
// Opaque color images are held as 3 channel buffers.
type raster struct {
	layout layout
	rect   image.Rectangle
	b8     denoise.Buffer[uint8]
	b16    denoise.Buffer[uint16]
}

func (r raster) depth() int {
	if r.layout == layoutGray || r.layout == layoutRGBA || r.layout == layoutNRGBA {
		return 8
	}
	return 16
}

func (r raster) channels() int {
	if r.depth() == 8 {
		return r.b8.Channels
	}
	return r.b16.Channels
}

func colorChannels(opaque bool) int {
	if opaque {
		return 3
	}
	return 4
}

func fromImage(img image.Image) (raster, error) {
	r := raster{rect: img.Bounds()}
	w, h := r.rect.Dx(), r.rect.Dy()
	switch m := img.(type) {
	case *image.Gray:
		r.layout = layoutGray
		r.b8 = unpack8(m.Pix, m.Stride, w, h, 1, 1)
	case *image.RGBA:
		r.layout = layoutRGBA
		r.b8 = unpack8(m.Pix, m.Stride, w, h, 4, colorChannels(m.Opaque()))
	case *image.NRGBA:
		r.layout = layoutNRGBA
		r.b8 = unpack8(m.Pix, m.Stride, w, h, 4, colorChannels(m.Opaque()))
	case *image.Paletted:
		// Palette indices cannot be averaged; filter the expanded colors.
		nrgba := image.NewNRGBA(m.Bounds())
		draw.Draw(nrgba, nrgba.Bounds(), m, m.Bounds().Min, draw.Src)
		r.layout = layoutNRGBA
		r.b8 = unpack8(nrgba.Pix, nrgba.Stride, w, h, 4, colorChannels(nrgba.Opaque()))
	case *image.Gray16:
		r.layout = layoutGray16
		r.b16 = unpack16(m.Pix, m.Stride, w, h, 1, 1)
	case *image.RGBA64:
		r.layout = layoutRGBA64
		r.b16 = unpack16(m.Pix, m.Stride, w, h, 4, colorChannels(m.Opaque()))
	case *image.NRGBA64:
		r.layout = layoutNRGBA64
		r.b16 = unpack16(m.Pix, m.Stride, w, h, 4, colorChannels(m.Opaque()))
	default:
		return raster{}, fmt.Errorf("%w: got %T", errUnsupportedModel, img)
	}
	return r, nil
}

// unpack8 copies the first ch of every srcCh samples of each pixel.
func unpack8(pix []uint8, stride, w, h, srcCh, ch int) denoise.Buffer[uint8] {
	b := denoise.NewBuffer[uint8](w, h, ch)
	i := 0
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			i += copy(b.Pix[i:i+ch], row[x*srcCh:x*srcCh+ch])
		}
	}
	return b
}

// unpack16 is unpack8 for big endian 16 bit samples.
func unpack16(pix []uint8, stride, w, h, srcCh, ch int) denoise.Buffer[uint16] {
	b := denoise.NewBuffer[uint16](w, h, ch)
	i := 0
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				b.Pix[i] = binary.BigEndian.Uint16(row[2*(x*srcCh+c):])
				i++
			}
		}
	}
	return b
}

// toImage rebuilds an image of the raster's color model. Alpha of 3 channel rasters is opaque.
func (r raster) toImage() image.Image {
	rect := image.Rect(0, 0, r.rect.Dx(), r.rect.Dy())
	switch r.layout {
	case layoutGray:
		m := image.NewGray(rect)
		pack8(m.Pix, r.b8, 1)
		return m
	case layoutRGBA:
		m := image.NewRGBA(rect)
		pack8(m.Pix, r.b8, 4)
		return m
	case layoutNRGBA:
		m := image.NewNRGBA(rect)
		pack8(m.Pix, r.b8, 4)
		return m
	case layoutGray16:
		m := image.NewGray16(rect)
		pack16(m.Pix, r.b16, 1)
		return m
	case layoutRGBA64:
		m := image.NewRGBA64(rect)
		pack16(m.Pix, r.b16, 4)
		return m
	default:
		m := image.NewNRGBA64(rect)
		pack16(m.Pix, r.b16, 4)
		return m
	}
}

func pack8(dst []uint8, b denoise.Buffer[uint8], dstCh int) {
	for p := 0; p < b.NumPixels(); p++ {
		px := dst[p*dstCh : (p+1)*dstCh]
		copy(px, b.Pix[p*b.Channels:(p+1)*b.Channels])
		if b.Channels < dstCh {
			px[dstCh-1] = 0xff
		}
	}
}

func pack16(dst []uint8, b denoise.Buffer[uint16], dstCh int) {
	for p := 0; p < b.NumPixels(); p++ {
		px := dst[2*p*dstCh : 2*(p+1)*dstCh]
		for c := 0; c < b.Channels; c++ {
			binary.BigEndian.PutUint16(px[2*c:], b.Pix[p*b.Channels+c])
		}
		if b.Channels < dstCh {
			binary.BigEndian.PutUint16(px[2*(dstCh-1):], 0xffff)
		}
	}
}

func isTIFF(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".tif" || ext == ".tiff"
}

func readImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var img image.Image
	if isTIFF(path) {
		img, err = tiff.Decode(f)
	} else {
		img, err = png.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if isTIFF(path) {
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	} else {
		err = png.Encode(f, img)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
