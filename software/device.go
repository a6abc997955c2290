// Package software implements a denoise device on the CPU. Kernels are
// evaluated in Go with the same arithmetic as the generated WGSL so that
// results can be compared against accelerator devices.
package software

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/soypat/denoise"
	"golang.org/x/sync/errgroup"
)

const workgroupSize = 8

var (
	errReleased     = errors.New("use of released resource")
	errForeign      = errors.New("resource not created by this device")
	errSizeMismatch = errors.New("size mismatch")
)

// Device runs denoise kernels on the CPU.
type Device struct {
	mu      sync.Mutex
	workers int
}

// Option configures a [Device].
type Option func(*Device)

// WithWorkers sets the number of goroutines evaluating a dispatch.
// Values below 1 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Device) { d.workers = n }
}

// New returns a CPU device.
func New(opts ...Option) *Device {
	d := &Device{}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = runtime.GOMAXPROCS(0)
	}
	return d
}

var _ denoise.Device = (*Device)(nil)

// Name implements [denoise.Device].
func (d *Device) Name() string { return "software" }

type image struct {
	desc     denoise.ImageDesc
	data     []byte
	released bool
}

func (img *image) Desc() denoise.ImageDesc { return img.desc }
func (img *image) Release()                { img.released = true; img.data = nil }

// NewImage implements [denoise.Device].
func (d *Device) NewImage(desc denoise.ImageDesc) (denoise.Image, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("image %q: bad size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Format.BytesPerTexel() <= 0 {
		return nil, fmt.Errorf("image %q: undefined format %s", desc.Label, desc.Format)
	}
	return &image{desc: desc, data: make([]byte, desc.Size())}, nil
}

type kernel struct {
	v denoise.Variant
}

func (k *kernel) Variant() denoise.Variant { return k.v }
func (k *kernel) Release()                 {}

// Compile implements [denoise.Device]. Software kernels are interpreted so
// compilation only checks the variant is one this device can evaluate.
func (d *Device) Compile(v denoise.Variant) (denoise.Kernel, error) {
	if ch := v.Channels(); ch != 1 && ch != 4 {
		return nil, fmt.Errorf("%s: %d channels", v.Name(), ch)
	}
	return &kernel{v: v}, nil
}

// Submit implements [denoise.Device]. Jobs run to completion before Submit returns.
func (d *Device) Submit(job denoise.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch j := job.(type) {
	case denoise.UploadJob:
		dst, err := d.image(j.Dst, denoise.UsageCopyDst)
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		} else if len(j.Data) != len(dst.data) {
			return fmt.Errorf("upload %q: %w: %d != %d bytes", dst.desc.Label, errSizeMismatch, len(j.Data), len(dst.data))
		}
		copy(dst.data, j.Data)
	case denoise.DownloadJob:
		src, err := d.image(j.Src, denoise.UsageCopySrc)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		} else if len(j.Dst) != len(src.data) {
			return fmt.Errorf("download %q: %w: %d != %d bytes", src.desc.Label, errSizeMismatch, len(j.Dst), len(src.data))
		}
		copy(j.Dst, src.data)
	case denoise.DispatchJob:
		return d.dispatch(j)
	default:
		return fmt.Errorf("unknown job %T", job)
	}
	return nil
}

func (d *Device) image(img denoise.Image, usage denoise.ImageUsage) (*image, error) {
	im, ok := img.(*image)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errForeign, img)
	} else if im.released {
		return nil, fmt.Errorf("%w: image %q", errReleased, im.desc.Label)
	} else if im.desc.Usage&usage == 0 {
		return nil, fmt.Errorf("image %q lacks usage %#x", im.desc.Label, usage)
	}
	return im, nil
}

func (d *Device) dispatch(j denoise.DispatchJob) error {
	k, ok := j.Kernel.(*kernel)
	if !ok {
		return fmt.Errorf("dispatch: %w: %T", errForeign, j.Kernel)
	}
	v := k.v
	stage := v.Key().Stage
	dstUsage := denoise.UsageStorage
	if stage == denoise.StageRasterized {
		dstUsage = denoise.UsageRenderTarget
	}
	src, err := d.image(j.Src, denoise.UsageSampled)
	if err != nil {
		return fmt.Errorf("dispatch %s: input: %w", v.Name(), err)
	}
	dst, err := d.image(j.Dst, dstUsage)
	if err != nil {
		return fmt.Errorf("dispatch %s: output: %w", v.Name(), err)
	}
	switch {
	case src.desc.Format != v.Sampled():
		return fmt.Errorf("dispatch %s: input format %s, want %s", v.Name(), src.desc.Format, v.Sampled())
	case dst.desc.Format != v.Key().Format:
		return fmt.Errorf("dispatch %s: output format %s, want %s", v.Name(), dst.desc.Format, v.Key().Format)
	case src.desc.Width != dst.desc.Width || src.desc.Height != dst.desc.Height:
		return fmt.Errorf("dispatch %s: %w: input %dx%d output %dx%d", v.Name(), errSizeMismatch,
			src.desc.Width, src.desc.Height, dst.desc.Width, dst.desc.Height)
	case j.Uniforms.Width != uint32(dst.desc.Width) || j.Uniforms.Height != uint32(dst.desc.Height):
		return fmt.Errorf("dispatch %s: %w: uniforms %dx%d", v.Name(), errSizeMismatch, j.Uniforms.Width, j.Uniforms.Height)
	}
	if v.Key().Algorithm == denoise.AlgorithmRadial {
		scratch, err := d.image(j.Scratch, denoise.UsageStorage)
		if err != nil {
			return fmt.Errorf("dispatch %s: intermediate: %w", v.Name(), err)
		} else if scratch.desc.Format != denoise.FormatR32Float {
			return fmt.Errorf("dispatch %s: intermediate format %s", v.Name(), scratch.desc.Format)
		}
	}

	f := newFilter(v, decodeFloats(src.data), dst.data, j.Uniforms)
	if stage == denoise.StageRasterized {
		return d.draw(f)
	}
	return d.compute(f)
}

// compute evaluates one invocation per pixel over a grid of 8x8 workgroups.
// Invocations outside the image are discarded.
func (d *Device) compute(f *filter) error {
	groupsX := (f.w + workgroupSize - 1) / workgroupSize
	groupsY := (f.h + workgroupSize - 1) / workgroupSize
	var g errgroup.Group
	g.SetLimit(d.workers)
	for gy := 0; gy < groupsY; gy++ {
		for gx := 0; gx < groupsX; gx++ {
			g.Go(func() error {
				for ly := 0; ly < workgroupSize; ly++ {
					for lx := 0; lx < workgroupSize; lx++ {
						x, y := gx*workgroupSize+lx, gy*workgroupSize+ly
						if x >= f.w || y >= f.h {
							continue
						}
						f.store(x, y, f.denoise(float32(x), float32(y)))
					}
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// draw rasterizes the fullscreen quad and shades each covered pixel at its floored fragment position.
func (d *Device) draw(f *filter) error {
	var g errgroup.Group
	g.SetLimit(d.workers)
	band := max(1, (f.h+d.workers-1)/d.workers)
	for y0 := 0; y0 < f.h; y0 += band {
		y1 := min(f.h, y0+band)
		g.Go(func() error {
			rasterize(fullscreenQuad, f.w, f.h, y0, y1, func(x, y int) {
				f.store(x, y, f.denoise(float32(x), float32(y)))
			})
			return nil
		})
	}
	return g.Wait()
}

func decodeFloats(b []byte) []float32 {
	f := make([]float32, len(b)/4)
	for i := range f {
		f[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return f
}
