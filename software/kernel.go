package software

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/soypat/denoise"
)

const (
	invSqrtOf2Pi = 0.3989422804014327
	invPi        = 0.3183098861837907
)

type vec4 [4]float32

// filter evaluates the smart denoise kernel of one variant over a sampled
// float image. It reproduces the WGSL kernel operation by operation.
type filter struct {
	src  []float32 // Sampled input, ch floats per texel.
	w, h int
	ch   int
	max  float32
	hsv  bool
	mask vec4

	integer bool
	out     denoise.TexelFormat
	dst     []byte

	radius              float32
	radQ                float32
	invSigmaQx2         float32
	invSigmaQx2Pi       float32
	invThresholdSqx2    float32
	invThresholdSqrt2Pi float32
}

func newFilter(v denoise.Variant, src []float32, dst []byte, u denoise.Uniforms) *filter {
	f := &filter{
		src:     src,
		w:       int(u.Width),
		h:       int(u.Height),
		ch:      v.Channels(),
		max:     v.MaxValue(),
		hsv:     v.Key().HSV,
		integer: v.Integer(),
		out:     v.Key().Format,
		dst:     dst,
	}
	for i, on := range v.RangeMask() {
		if on {
			f.mask[i] = 1
		}
	}
	f.radius = roundEven(u.KSigma * u.Sigma)
	f.radQ = f.radius * f.radius
	f.invSigmaQx2 = 0.5 / (u.Sigma * u.Sigma)
	f.invSigmaQx2Pi = invPi * f.invSigmaQx2
	f.invThresholdSqx2 = 0.5 / (u.Threshold * u.Threshold)
	f.invThresholdSqrt2Pi = invSqrtOf2Pi / u.Threshold
	return f
}

// fetch reads one texel with repeat addressing.
func (f *filter) fetch(x, y int) (v vec4) {
	x = ((x % f.w) + f.w) % f.w
	y = ((y % f.h) + f.h) % f.h
	off := (y*f.w + x) * f.ch
	copy(v[:f.ch], f.src[off:off+f.ch])
	return v
}

// sampleRaw filters bilinearly at (cx, cy) in pixel units with texel centers at half integers.
func (f *filter) sampleRaw(cx, cy float32) (r vec4) {
	sx, sy := cx-0.5, cy-0.5
	x0, y0 := math32.Floor(sx), math32.Floor(sy)
	fx, fy := sx-x0, sy-y0
	px, py := int(x0), int(y0)
	a := f.fetch(px, py)
	b := f.fetch(px+1, py)
	c := f.fetch(px, py+1)
	d := f.fetch(px+1, py+1)
	for i := 0; i < f.ch; i++ {
		top := a[i] + (b[i]-a[i])*fx
		bottom := c[i] + (d[i]-c[i])*fx
		r[i] = top + (bottom-top)*fy
	}
	return r
}

func (f *filter) load(cx, cy float32) vec4 {
	raw := f.sampleRaw(cx, cy)
	for i := 0; i < f.ch; i++ {
		raw[i] /= f.max
	}
	if f.hsv {
		return rgbToHSV(raw)
	}
	return raw
}

// denoise returns the filtered working value of the pixel whose sampling coordinate is (cx, cy).
func (f *filter) denoise(cx, cy float32) vec4 {
	centr := f.load(cx, cy)
	var zBuff float32
	var aBuff vec4
	for x := -f.radius; x <= f.radius; x++ {
		pt := math32.Sqrt(math32.Max(f.radQ-x*x, 0))
		for y := -pt; y <= pt; y++ {
			blur := math32.Exp(-(x*x+y*y)*f.invSigmaQx2) * f.invSigmaQx2Pi
			walk := f.load(cx+x, cy+y)
			var dc vec4
			var dot float32
			for i := 0; i < f.ch; i++ {
				dc[i] = (walk[i] - centr[i]) * f.mask[i]
				dot += dc[i] * dc[i]
			}
			delta := math32.Exp(-dot*f.invThresholdSqx2) * f.invThresholdSqrt2Pi * blur
			zBuff += delta
			for i := 0; i < f.ch; i++ {
				aBuff[i] += delta * dc[i]
			}
		}
	}
	for i := 0; i < f.ch; i++ {
		centr[i] += aBuff[i] / zBuff
	}
	return centr
}

// store encodes working value w into the output texel at (x, y).
func (f *filter) store(x, y int, w vec4) {
	if f.hsv {
		w = hsvToRGB(w)
	}
	bpc := f.out.BytesPerTexel() / f.ch
	off := (y*f.w + x) * f.ch * bpc
	for i := 0; i < f.ch; i++ {
		v := w[i] * f.max
		if !f.integer {
			binary.LittleEndian.PutUint32(f.dst[off+4*i:], math.Float32bits(v))
			continue
		}
		v = roundEven(v)
		if v < 0 {
			v = 0
		} else if v > f.max {
			v = f.max
		}
		switch bpc {
		case 1:
			f.dst[off+i] = uint8(v)
		case 2:
			binary.LittleEndian.PutUint16(f.dst[off+2*i:], uint16(v))
		}
	}
}

func roundEven(v float32) float32 {
	return float32(math.RoundToEven(float64(v)))
}

func rgbToHSV(c vec4) vec4 {
	mx := math32.Max(c[0], math32.Max(c[1], c[2]))
	mn := math32.Min(c[0], math32.Min(c[1], c[2]))
	d := mx - mn
	var h float32
	if d > 0 {
		switch mx {
		case c[0]:
			h = (c[1] - c[2]) / d
			if h < 0 {
				h += 6
			}
		case c[1]:
			h = (c[2]-c[0])/d + 2
		default:
			h = (c[0]-c[1])/d + 4
		}
		h /= 6
	}
	var s float32
	if mx > 0 {
		s = d / mx
	}
	return vec4{h, s, mx, c[3]}
}

func hsvToRGB(c vec4) vec4 {
	h6 := (c[0] - math32.Floor(c[0])) * 6
	i := math32.Floor(h6)
	f := h6 - i
	v, s := c[2], c[1]
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch int(i) {
	case 0:
		return vec4{v, t, p, c[3]}
	case 1:
		return vec4{q, v, p, c[3]}
	case 2:
		return vec4{p, v, t, c[3]}
	case 3:
		return vec4{p, q, v, c[3]}
	case 4:
		return vec4{t, p, v, c[3]}
	default:
		return vec4{v, p, q, c[3]}
	}
}
