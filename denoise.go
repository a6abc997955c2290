// Package denoise implements an edge preserving smart denoise filter executed on
// an accelerator. A kernel is generated per combination of output texel format,
// execution stage, color filtering mode and algorithm; [Denoise] picks the
// variant matching a host buffer and round-trips the buffer through device memory.
package denoise

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Params are the denoise filter parameters. All must be positive.
type Params struct {
	// Sigma is the standard deviation of the spatial gaussian in pixels.
	Sigma float32
	// KSigma multiplies Sigma to give the radius of the sampled disk.
	KSigma float32
	// Threshold is the standard deviation of the range gaussian over
	// intensities normalized to [0,1]. Lower values preserve more edges.
	Threshold float32
}

// DefaultParams returns {Sigma: 7, KSigma: 3, Threshold: 0.195}.
func DefaultParams() Params {
	return Params{Sigma: 7, KSigma: 3, Threshold: 0.195}
}

// Validate returns an error wrapping [ErrInvalidParams] if any parameter is not positive.
func (p Params) Validate() error {
	// Negated comparisons also catch NaN.
	if !(p.Sigma > 0) || !(p.KSigma > 0) || !(p.Threshold > 0) {
		return fmt.Errorf("%w: sigma=%v kSigma=%v threshold=%v must be positive", ErrInvalidParams, p.Sigma, p.KSigma, p.Threshold)
	}
	return nil
}

// Radius returns the radius in pixels of the sampled disk, KSigma*Sigma
// rounded half to even as kernels do.
func (p Params) Radius() int {
	return int(math.RoundToEven(float64(p.KSigma * p.Sigma)))
}

// Context owns a device and the kernels compiled on it. It is created
// once by the program's entry point and passed to every [Denoise] call.
// Calls sharing a Context are serialized on the device queue.
type Context struct {
	dev  Device
	sel  *Selector
	algo Algorithm
}

// Option configures a [Context].
type Option func(*Context)

// WithAlgorithm sets the kernel algorithm. The default is [AlgorithmSmart].
func WithAlgorithm(a Algorithm) Option {
	return func(c *Context) { c.algo = a }
}

// NewContext returns a Context running kernels on dev.
func NewContext(dev Device, opts ...Option) *Context {
	c := &Context{
		dev:  dev,
		sel:  NewSelector(dev),
		algo: AlgorithmSmart,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Device returns the context's device.
func (c *Context) Device() Device { return c.dev }

// Algorithm returns the kernel algorithm used by the context.
func (c *Context) Algorithm() Algorithm { return c.algo }

// Close releases compiled kernels. The device itself is owned by the caller.
func (c *Context) Close() {
	c.sel.Release()
}

// Denoise filters buf on the context's device and returns a newly allocated
// buffer of the same element type, dimensions and channel count. buf is not modified.
//
// The buffer is uploaded to a sampled float image, filtered by the kernel
// variant for (storage format, stage, hsv, algorithm) and downloaded again,
// each step as one blocking device job. 3 channel buffers are padded to 4
// channels on-device; the padding is never visible to the caller.
func Denoise[T Element](c *Context, buf Buffer[T], stage Stage, params Params, hsv bool) (Buffer[T], error) {
	if err := buf.Validate(); err != nil {
		return Buffer[T]{}, err
	}
	if err := params.Validate(); err != nil {
		return Buffer[T]{}, err
	}
	elem := ElemTypeOf[T]()
	fd, err := Resolve(elem, buf.Channels)
	if err != nil {
		return Buffer[T]{}, err
	}
	key := Key{Format: fd.Storage, Stage: stage, HSV: hsv, Algorithm: c.algo}
	kernel, err := c.sel.Select(key)
	if err != nil {
		return Buffer[T]{}, err
	}
	log := slogger().With("device", c.dev.Name(), "variant", kernel.Variant().Name())

	pix := buf.Pix
	if buf.Channels == 3 {
		pix = PadRGB(make([]T, 0, buf.NumPixels()*4), buf.Pix)
	}
	w, h := buf.Width, buf.Height

	input, err := c.newImage(ImageDesc{Label: "denoise_input", Width: w, Height: h,
		Format: fd.Sampled, Usage: UsageSampled | UsageCopyDst})
	if err != nil {
		return Buffer[T]{}, err
	}
	defer input.Release()
	upload, err := encodeSampled(make([]byte, 4*len(pix)), pix)
	if err != nil {
		return Buffer[T]{}, err
	}
	if err = c.submit(log, "upload", UploadJob{Dst: input, Data: upload}); err != nil {
		return Buffer[T]{}, err
	}

	outUsage := UsageCopySrc | UsageStorage
	if stage == StageRasterized {
		outUsage = UsageCopySrc | UsageRenderTarget
	}
	output, err := c.newImage(ImageDesc{Label: "denoise_output", Width: w, Height: h,
		Format: fd.Storage, Usage: outUsage})
	if err != nil {
		return Buffer[T]{}, err
	}
	defer output.Release()

	var scratch Image
	if c.algo == AlgorithmRadial {
		scratch, err = c.newImage(ImageDesc{Label: "denoise_radial_intermediate", Width: w, Height: h,
			Format: FormatR32Float, Usage: UsageStorage})
		if err != nil {
			return Buffer[T]{}, err
		}
		defer scratch.Release()
	}

	err = c.submit(log, "dispatch", DispatchJob{
		Kernel:  kernel,
		Src:     input,
		Dst:     output,
		Scratch: scratch,
		Uniforms: Uniforms{
			Width:     uint32(w),
			Height:    uint32(h),
			Sigma:     params.Sigma,
			KSigma:    params.KSigma,
			Threshold: params.Threshold,
		},
	})
	if err != nil {
		return Buffer[T]{}, err
	}

	raw := make([]byte, output.Desc().Size())
	if err = c.submit(log, "download", DownloadJob{Src: output, Dst: raw}); err != nil {
		return Buffer[T]{}, err
	}
	result, err := decodeStorage(make([]T, w*h*fd.OutputChannels), raw, fd.Storage)
	if err != nil {
		return Buffer[T]{}, fmt.Errorf("%w: download: %w", ErrDevice, err)
	}
	if buf.Channels == 3 {
		result = StripRGBA(make([]T, 0, buf.NumPixels()*3), result)
	}
	return Buffer[T]{Pix: result, Width: w, Height: h, Channels: buf.Channels}, nil
}

func (c *Context) newImage(desc ImageDesc) (Image, error) {
	img, err := c.dev.NewImage(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate %s %dx%d %s: %w", ErrDevice, desc.Label, desc.Width, desc.Height, desc.Format, err)
	}
	return img, nil
}

func (c *Context) submit(log *slog.Logger, step string, job Job) error {
	start := time.Now()
	if err := c.dev.Submit(job); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDevice, step, err)
	}
	log.Debug("job complete", "step", step, "duration", time.Since(start))
	return nil
}
