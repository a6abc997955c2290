package denoise

import (
	"encoding/binary"
	"math"
)

// Device is an accelerator that holds images and runs denoise kernels.
// Implementations serialize Submit calls on a single queue.
type Device interface {
	// Name identifies the device for logging.
	Name() string
	// NewImage allocates a device-resident 2D image.
	NewImage(desc ImageDesc) (Image, error)
	// Compile loads the kernel for a variant. It may be expensive and is
	// called at most once per variant by a [Selector].
	Compile(v Variant) (Kernel, error)
	// Submit records job as one command buffer, submits it and blocks until
	// the device signals its completion.
	Submit(job Job) error
}

// ImageUsage is a bit set of the ways an image is bound.
type ImageUsage uint8

const (
	UsageSampled ImageUsage = 1 << iota
	UsageStorage
	UsageRenderTarget
	UsageCopySrc
	UsageCopyDst
)

// ImageDesc describes a device image. Host-side image data is tightly packed
// in rows of Width texels of Format.BytesPerTexel() bytes, little endian.
type ImageDesc struct {
	Label  string
	Width  int
	Height int
	Format TexelFormat
	Usage  ImageUsage
}

// Size returns the tightly packed host size of the image in bytes.
func (d ImageDesc) Size() int {
	return d.Width * d.Height * d.Format.BytesPerTexel()
}

// Image is a device-resident image owned by whoever created it.
type Image interface {
	Desc() ImageDesc
	Release()
}

// Kernel is a loaded kernel program, shared read-only once compiled.
type Kernel interface {
	Variant() Variant
	Release()
}

// Job is one self-contained unit of device work. The set of jobs is closed:
// [UploadJob], [DispatchJob] and [DownloadJob].
type Job interface {
	isJob()
}

// UploadJob copies host data into Dst. len(Data) must equal Dst.Desc().Size().
type UploadJob struct {
	Dst  Image
	Data []byte
}

// DispatchJob runs Kernel reading Src and writing every texel of Dst.
// Scratch is an optional intermediate image reserved by the radial algorithm.
type DispatchJob struct {
	Kernel   Kernel
	Src      Image
	Dst      Image
	Scratch  Image
	Uniforms Uniforms
}

// DownloadJob copies Src into host memory Dst. len(Dst) must equal Src.Desc().Size().
type DownloadJob struct {
	Src Image
	Dst []byte
}

func (UploadJob) isJob()   {}
func (DispatchJob) isJob() {}
func (DownloadJob) isJob() {}

// Uniforms are the per-invocation kernel parameters.
type Uniforms struct {
	Width     uint32
	Height    uint32
	Sigma     float32
	KSigma    float32
	Threshold float32
}

// UniformsSize is the size of the uniform block in bytes, padded to 16 byte alignment.
const UniformsSize = 32

// Bytes serializes u into the kernel's uniform block layout.
func (u Uniforms) Bytes() []byte {
	b := make([]byte, UniformsSize)
	binary.LittleEndian.PutUint32(b[0:], u.Width)
	binary.LittleEndian.PutUint32(b[4:], u.Height)
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(u.Sigma))
	binary.LittleEndian.PutUint32(b[12:], math.Float32bits(u.KSigma))
	binary.LittleEndian.PutUint32(b[16:], math.Float32bits(u.Threshold))
	return b
}
