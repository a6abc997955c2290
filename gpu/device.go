// Package gpu implements a denoise device on WebGPU.
package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/soypat/denoise"
	"github.com/soypat/denoise/shader"
)

const (
	workgroupSize = 8
	// copyRowAlignment is the required bytes per row alignment of texture to buffer copies.
	copyRowAlignment = 256
)

var errForeign = errors.New("resource not created by this device")

// Device runs denoise kernels on a WebGPU device. All jobs are submitted to
// one queue and Submit waits for the queue to drain.
type Device struct {
	mu       sync.Mutex
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string
	owned    bool
}

var _ denoise.Device = (*Device)(nil)

// Open requests a high performance adapter and a device on it.
// Release must be called to free them.
func Open() (*Device, error) {
	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, errors.New("webgpu not available")
	}
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	info := adapter.GetInfo()
	slogger().Info("webgpu adapter", "name", info.Name, "backend", info.BackendType)
	return &Device{
		instance: instance,
		adapter:  adapter,
		device:   device,
		queue:    device.GetQueue(),
		name:     "webgpu:" + info.Name,
		owned:    true,
	}, nil
}

// New wraps an existing device and queue. Release does not free them.
func New(device *wgpu.Device, queue *wgpu.Queue) *Device {
	return &Device{device: device, queue: queue, name: "webgpu"}
}

// Release frees the device if it was created by [Open].
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.owned {
		return
	}
	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	d.owned = false
}

// Name implements [denoise.Device].
func (d *Device) Name() string { return d.name }

type image struct {
	desc denoise.ImageDesc
	// texel is the format of the texture, wider than desc.Format for
	// storage images of formats WebGPU cannot bind as storage.
	texel denoise.TexelFormat
	tex   *wgpu.Texture
	view  *wgpu.TextureView
}

func (img *image) Desc() denoise.ImageDesc { return img.desc }

func (img *image) Release() {
	if img.view != nil {
		img.view.Release()
		img.view = nil
	}
	if img.tex != nil {
		img.tex.Release()
		img.tex = nil
	}
}

// NewImage implements [denoise.Device].
func (d *Device) NewImage(desc denoise.ImageDesc) (denoise.Image, error) {
	texel := desc.Format
	if desc.Usage&denoise.UsageStorage != 0 {
		texel = storageTexel(desc.Format)
	}
	format, err := textureFormat(texel)
	if err != nil {
		return nil, err
	}
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Usage:         textureUsage(desc.Usage),
		Dimension:     wgpu.TextureDimension2D,
		Size:          extent(desc),
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("texture %q: %w", desc.Label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("texture view %q: %w", desc.Label, err)
	}
	return &image{desc: desc, texel: texel, tex: tex, view: view}, nil
}

// storageTexel returns the format a storage image of f is allocated with.
func storageTexel(f denoise.TexelFormat) denoise.TexelFormat {
	switch f {
	case denoise.FormatR8Uint, denoise.FormatR16Uint:
		return denoise.FormatR32Uint
	}
	return f
}

func textureFormat(f denoise.TexelFormat) (wgpu.TextureFormat, error) {
	switch f {
	case denoise.FormatR8Uint:
		return wgpu.TextureFormatR8Uint, nil
	case denoise.FormatR16Uint:
		return wgpu.TextureFormatR16Uint, nil
	case denoise.FormatR32Uint:
		return wgpu.TextureFormatR32Uint, nil
	case denoise.FormatR32Float:
		return wgpu.TextureFormatR32Float, nil
	case denoise.FormatRGBA8Uint:
		return wgpu.TextureFormatRGBA8Uint, nil
	case denoise.FormatRGBA16Uint:
		return wgpu.TextureFormatRGBA16Uint, nil
	case denoise.FormatRGBA32Float:
		return wgpu.TextureFormatRGBA32Float, nil
	}
	return wgpu.TextureFormatUndefined, fmt.Errorf("no webgpu texture format for %s", f)
}

func textureUsage(u denoise.ImageUsage) (tu wgpu.TextureUsage) {
	if u&denoise.UsageSampled != 0 {
		tu |= wgpu.TextureUsageTextureBinding
	}
	if u&denoise.UsageStorage != 0 {
		tu |= wgpu.TextureUsageStorageBinding
	}
	if u&denoise.UsageRenderTarget != 0 {
		tu |= wgpu.TextureUsageRenderAttachment
	}
	if u&denoise.UsageCopySrc != 0 {
		tu |= wgpu.TextureUsageCopySrc
	}
	if u&denoise.UsageCopyDst != 0 {
		tu |= wgpu.TextureUsageCopyDst
	}
	return tu
}

func extent(desc denoise.ImageDesc) wgpu.Extent3D {
	return wgpu.Extent3D{Width: uint32(desc.Width), Height: uint32(desc.Height), DepthOrArrayLayers: 1}
}

func (d *Device) image(img denoise.Image) (*image, error) {
	im, ok := img.(*image)
	if !ok || im == nil {
		return nil, fmt.Errorf("%w: %T", errForeign, img)
	} else if im.tex == nil {
		return nil, fmt.Errorf("image %q released", im.desc.Label)
	}
	return im, nil
}

// Submit implements [denoise.Device].
func (d *Device) Submit(job denoise.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch j := job.(type) {
	case denoise.UploadJob:
		return d.upload(j)
	case denoise.DispatchJob:
		return d.dispatch(j)
	case denoise.DownloadJob:
		return d.download(j)
	}
	return fmt.Errorf("unknown job %T", job)
}

func (d *Device) upload(j denoise.UploadJob) error {
	dst, err := d.image(j.Dst)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if dst.texel != dst.desc.Format {
		return fmt.Errorf("upload %q: cannot write widened storage image", dst.desc.Label)
	} else if len(j.Data) != dst.desc.Size() {
		return fmt.Errorf("upload %q: %d bytes, want %d", dst.desc.Label, len(j.Data), dst.desc.Size())
	}
	size := extent(dst.desc)
	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: dst.tex, Aspect: wgpu.TextureAspectAll},
		j.Data,
		&wgpu.TextureDataLayout{
			BytesPerRow:  uint32(dst.desc.Width * dst.texel.BytesPerTexel()),
			RowsPerImage: uint32(dst.desc.Height),
		},
		&size,
	)
	// Queued writes are flushed by the next submission, so submit an empty
	// command buffer and wait on it.
	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("command encoder: %w", err)
	}
	defer encoder.Release()
	return d.finish(encoder)
}

func (d *Device) dispatch(j denoise.DispatchJob) error {
	k, ok := j.Kernel.(*kernel)
	if !ok {
		return fmt.Errorf("dispatch: %w: %T", errForeign, j.Kernel)
	}
	v := k.v
	src, err := d.image(j.Src)
	if err != nil {
		return fmt.Errorf("dispatch %s: input: %w", v.Name(), err)
	}
	dst, err := d.image(j.Dst)
	if err != nil {
		return fmt.Errorf("dispatch %s: output: %w", v.Name(), err)
	}
	wantOut := v.Key().Format
	if k.compute != nil {
		wantOut = v.StorageTexel()
	}
	switch {
	case src.texel != v.Sampled():
		return fmt.Errorf("dispatch %s: input format %s, want %s", v.Name(), src.texel, v.Sampled())
	case dst.texel != wantOut:
		return fmt.Errorf("dispatch %s: output format %s, want %s", v.Name(), dst.texel, wantOut)
	case src.desc.Width != dst.desc.Width || src.desc.Height != dst.desc.Height:
		return fmt.Errorf("dispatch %s: input %dx%d output %dx%d", v.Name(),
			src.desc.Width, src.desc.Height, dst.desc.Width, dst.desc.Height)
	}
	if v.Key().Algorithm == denoise.AlgorithmRadial {
		if _, err := d.image(j.Scratch); err != nil {
			return fmt.Errorf("dispatch %s: intermediate: %w", v.Name(), err)
		}
	}

	uniforms, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "denoise_uniforms",
		Size:  denoise.UniformsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("uniform buffer: %w", err)
	}
	defer uniforms.Release()
	d.queue.WriteBuffer(uniforms, 0, j.Uniforms.Bytes())

	entries := []wgpu.BindGroupEntry{
		{Binding: shader.BindingInput, TextureView: src.view},
		{Binding: shader.BindingUniforms, Buffer: uniforms, Size: denoise.UniformsSize},
	}
	if k.compute != nil {
		entries = append(entries, wgpu.BindGroupEntry{Binding: shader.BindingOutput, TextureView: dst.view})
	}
	bindGroup, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   v.Name(),
		Layout:  k.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("bind group: %w", err)
	}
	defer bindGroup.Release()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("command encoder: %w", err)
	}
	defer encoder.Release()

	w, h := uint32(dst.desc.Width), uint32(dst.desc.Height)
	if k.compute != nil {
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(k.compute)
		pass.SetBindGroup(0, bindGroup, nil)
		pass.DispatchWorkgroups((w+workgroupSize-1)/workgroupSize, (h+workgroupSize-1)/workgroupSize, 1)
		pass.End()
		pass.Release()
	} else {
		pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			ColorAttachments: []wgpu.RenderPassColorAttachment{{
				View:    dst.view,
				LoadOp:  wgpu.LoadOpClear,
				StoreOp: wgpu.StoreOpStore,
			}},
		})
		pass.SetPipeline(k.render)
		pass.SetBindGroup(0, bindGroup, nil)
		pass.Draw(6, 1, 0, 0)
		pass.End()
		pass.Release()
	}
	return d.finish(encoder)
}

// finish submits the encoded commands and waits for the queue to drain.
func (d *Device) finish(encoder *wgpu.CommandEncoder) error {
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	defer cmd.Release()
	d.queue.Submit(cmd)
	d.device.Poll(true, nil)
	return nil
}

func (d *Device) download(j denoise.DownloadJob) error {
	src, err := d.image(j.Src)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	} else if len(j.Dst) != src.desc.Size() {
		return fmt.Errorf("download %q: %d bytes, want %d", src.desc.Label, len(j.Dst), src.desc.Size())
	}
	w, h := src.desc.Width, src.desc.Height
	rowBytes := w * src.texel.BytesPerTexel()
	paddedRow := (rowBytes + copyRowAlignment - 1) / copyRowAlignment * copyRowAlignment
	size := uint64(paddedRow * h)

	staging, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "denoise_readback",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("staging buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("command encoder: %w", err)
	}
	defer encoder.Release()
	copySize := extent(src.desc)
	encoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{Texture: src.tex, Aspect: wgpu.TextureAspectAll},
		&wgpu.ImageCopyBuffer{
			Buffer: staging,
			Layout: wgpu.TextureDataLayout{BytesPerRow: uint32(paddedRow), RowsPerImage: uint32(h)},
		},
		&copySize,
	)
	if err := d.finish(encoder); err != nil {
		return err
	}

	done := make(chan error, 1)
	staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("map failed: %v", status)
			return
		}
		done <- nil
	})
	d.device.Poll(true, nil)
	if err := <-done; err != nil {
		return err
	}
	defer staging.Unmap()
	mapped := staging.GetMappedRange(0, uint(size))

	dstRow := w * src.desc.Format.BytesPerTexel()
	for y := 0; y < h; y++ {
		row := mapped[y*paddedRow : y*paddedRow+rowBytes]
		out := j.Dst[y*dstRow : (y+1)*dstRow]
		if src.texel == src.desc.Format {
			copy(out, row)
			continue
		}
		narrow(out, row, src.desc.Format)
	}
	return nil
}

// narrow converts a row of r32uint texels to the packed layout of f.
func narrow(dst, src []byte, f denoise.TexelFormat) {
	for i := 0; 4*i+3 < len(src); i++ {
		v := binary.LittleEndian.Uint32(src[4*i:])
		switch f {
		case denoise.FormatR8Uint:
			dst[i] = uint8(v)
		case denoise.FormatR16Uint:
			binary.LittleEndian.PutUint16(dst[2*i:], uint16(v))
		}
	}
}
