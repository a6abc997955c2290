package gpu

import (
	"fmt"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/soypat/denoise"
	"github.com/soypat/denoise/shader"
)

type kernel struct {
	v          denoise.Variant
	module     *wgpu.ShaderModule
	bindLayout *wgpu.BindGroupLayout
	layout     *wgpu.PipelineLayout
	compute    *wgpu.ComputePipeline
	render     *wgpu.RenderPipeline
}

func (k *kernel) Variant() denoise.Variant { return k.v }

func (k *kernel) Release() {
	if k.compute != nil {
		k.compute.Release()
	}
	if k.render != nil {
		k.render.Release()
	}
	if k.layout != nil {
		k.layout.Release()
	}
	if k.bindLayout != nil {
		k.bindLayout.Release()
	}
	if k.module != nil {
		k.module.Release()
	}
}

// Compile implements [denoise.Device]. It renders the variant's WGSL and
// creates its pipeline with an explicit layout, since the input image is an
// unfilterable float texture.
func (d *Device) Compile(v denoise.Variant) (denoise.Kernel, error) {
	start := time.Now()
	src, err := v.Source()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k := &kernel{v: v}
	if err := d.buildPipeline(k, src); err != nil {
		k.Release()
		return nil, err
	}
	slogger().Debug("pipeline created", "variant", v.Name(), "duration", time.Since(start))
	return k, nil
}

func (d *Device) buildPipeline(k *kernel, src string) error {
	v := k.v
	var err error
	k.module, err = d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          v.Name(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: src},
	})
	if err != nil {
		return fmt.Errorf("shader module: %w", err)
	}

	compute := v.Key().Stage == denoise.StageCompute
	visibility := wgpu.ShaderStageFragment
	if compute {
		visibility = wgpu.ShaderStageCompute
	}
	entries := []wgpu.BindGroupLayoutEntry{
		{
			Binding:    shader.BindingInput,
			Visibility: visibility,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		},
		{
			Binding:    shader.BindingUniforms,
			Visibility: visibility,
			Buffer: wgpu.BufferBindingLayout{
				Type:           wgpu.BufferBindingTypeUniform,
				MinBindingSize: denoise.UniformsSize,
			},
		},
	}
	var outFormat wgpu.TextureFormat
	if compute {
		outFormat, err = textureFormat(v.StorageTexel())
		if err != nil {
			return err
		}
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    shader.BindingOutput,
			Visibility: visibility,
			StorageTexture: wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        outFormat,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		})
	} else {
		outFormat, err = textureFormat(v.Key().Format)
		if err != nil {
			return err
		}
	}
	k.bindLayout, err = d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   v.Name(),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("bind group layout: %w", err)
	}
	k.layout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            v.Name(),
		BindGroupLayouts: []*wgpu.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("pipeline layout: %w", err)
	}

	if compute {
		k.compute, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  v.Name(),
			Layout: k.layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     k.module,
				EntryPoint: shader.ComputeEntryPoint,
			},
		})
		if err != nil {
			return fmt.Errorf("compute pipeline: %w", err)
		}
		return nil
	}
	k.render, err = d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  v.Name(),
		Layout: k.layout,
		Vertex: wgpu.VertexState{
			Module:     k.module,
			EntryPoint: shader.VertexEntryPoint,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		Fragment: &wgpu.FragmentState{
			Module:     k.module,
			EntryPoint: shader.FragmentEntryPoint,
			Targets: []wgpu.ColorTargetState{{
				Format:    outFormat,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("render pipeline: %w", err)
	}
	return nil
}
