package denoise

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/soypat/denoise/shader"
)

// Stage is the kernel execution model.
type Stage uint8

const (
	stageUndefined Stage = iota // undefined
	// StageCompute dispatches the kernel over a grid of 8x8 workgroups.
	StageCompute // compute
	// StageRasterized draws a fullscreen quad so that one fragment
	// is shaded per output pixel.
	StageRasterized // fragment
)

func (s Stage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageRasterized:
		return "fragment"
	default:
		return "Stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseStage parses "compute" or "fragment".
func ParseStage(s string) (Stage, error) {
	for _, st := range stages {
		if s == st.String() {
			return st, nil
		}
	}
	return stageUndefined, fmt.Errorf("unknown stage %q, use fragment or compute", s)
}

// Algorithm selects the denoise kernel family.
type Algorithm uint8

const (
	algorithmUndefined Algorithm = iota // undefined
	// AlgorithmSmart is the dual gaussian weighted average.
	AlgorithmSmart // smart
	// AlgorithmRadial reserves an intermediate single channel image for a radial
	// optimization. Its kernel currently computes the same weighted average as Smart.
	AlgorithmRadial // radial
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmSmart:
		return "smart"
	case AlgorithmRadial:
		return "radial"
	default:
		return "Algorithm(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParseAlgorithm parses "smart" or "radial".
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range algorithms {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return algorithmUndefined, fmt.Errorf("unknown algorithm %q, use smart or radial", s)
}

var (
	stages     = []Stage{StageCompute, StageRasterized}
	algorithms = []Algorithm{AlgorithmSmart, AlgorithmRadial}
)

// Key identifies one kernel variant. HSV is only valid for multi-channel formats.
type Key struct {
	Format    TexelFormat
	Stage     Stage
	HSV       bool
	Algorithm Algorithm
}

func (k Key) String() string {
	return fmt.Sprintf("(%s, %s, hsv=%t, %s)", k.Format, k.Stage, k.HSV, k.Algorithm)
}

// formatSpec is one row of the canonical variant table. Every kernel
// variant, the dispatch table and [Resolve] are derived from these rows.
type formatSpec struct {
	// Format is the output (storage) texel format.
	Format TexelFormat
	// Sampled is the input texel format. Inputs are always uploaded as 32-bit floats.
	Sampled TexelFormat
	// Elem is the host element type stored in Format.
	Elem ElemType
	// MaxValue is the numeric ceiling of Format. Intensities are normalized by it.
	MaxValue float32
	// Swizzle selects the channels of a sampled texel the kernel works on.
	Swizzle string
	// Working is the WGSL accumulation type.
	Working string
	// Output is the WGSL type written to the output texel.
	Output string
	// StorageTexel is the WGSL storage texel format used by compute kernels.
	// It is wider than Format where WebGPU has no storage support for Format.
	StorageTexel TexelFormat
	// Integer is set for integer outputs, which are rounded and clamped to MaxValue.
	Integer bool
	// HSV is set when a hue/value isolated variant is generated for the row.
	HSV bool
}

var formatTable = []formatSpec{
	{Format: FormatR8Uint, Sampled: FormatR32Float, Elem: ElemU8, MaxValue: 255, Swizzle: "r",
		Working: "f32", Output: "vec4<u32>", StorageTexel: FormatR32Uint, Integer: true},
	{Format: FormatR16Uint, Sampled: FormatR32Float, Elem: ElemU16, MaxValue: 65535, Swizzle: "r",
		Working: "f32", Output: "vec4<u32>", StorageTexel: FormatR32Uint, Integer: true},
	{Format: FormatR32Float, Sampled: FormatR32Float, Elem: ElemF32, MaxValue: 1, Swizzle: "r",
		Working: "f32", Output: "vec4<f32>", StorageTexel: FormatR32Float},
	{Format: FormatRGBA8Uint, Sampled: FormatRGBA32Float, Elem: ElemU8, MaxValue: 255, Swizzle: "rgba",
		Working: "vec4<f32>", Output: "vec4<u32>", StorageTexel: FormatRGBA8Uint, Integer: true, HSV: true},
	{Format: FormatRGBA16Uint, Sampled: FormatRGBA32Float, Elem: ElemU16, MaxValue: 65535, Swizzle: "rgba",
		Working: "vec4<f32>", Output: "vec4<u32>", StorageTexel: FormatRGBA16Uint, Integer: true, HSV: true},
	{Format: FormatRGBA32Float, Sampled: FormatRGBA32Float, Elem: ElemF32, MaxValue: 1, Swizzle: "rgba",
		Working: "vec4<f32>", Output: "vec4<f32>", StorageTexel: FormatRGBA32Float, HSV: true},
}

// Variant is one specialized denoise kernel. Variants are only obtained
// from [Variants] or [Lookup] and are immutable.
type Variant struct {
	key  Key
	spec formatSpec
}

// Key returns the dispatch key of the variant.
func (v Variant) Key() Key { return v.key }

// Name returns the variant's artifact name, e.g. denoise_compute_rgba8uint_smart_hsv.
func (v Variant) Name() string {
	name := "denoise_" + v.key.Stage.String() + "_" + v.key.Format.String() + "_" + v.key.Algorithm.String()
	if v.key.HSV {
		name += "_hsv"
	}
	return name
}

// Channels returns the channel count the kernel works on: 1 or 4.
func (v Variant) Channels() int { return len(v.spec.Swizzle) }

// MaxValue returns the output format's numeric ceiling used for normalization and clamping.
func (v Variant) MaxValue() float32 { return v.spec.MaxValue }

// Integer reports whether the output is rounded and clamped to integers.
func (v Variant) Integer() bool { return v.spec.Integer }

// Sampled returns the input image format the kernel reads.
func (v Variant) Sampled() TexelFormat { return v.spec.Sampled }

// StorageTexel returns the texel format compute kernels write to.
// It differs from Key().Format when the accelerator lacks storage support for the latter.
func (v Variant) StorageTexel() TexelFormat { return v.spec.StorageTexel }

// RangeMask returns per-channel flags of the channels that take part in range
// weighting and filtering. Unmasked channels keep the center pixel value.
// In hue/value mode channels are (h, s, v, a).
func (v Variant) RangeMask() [4]bool {
	if v.Channels() == 1 {
		return [4]bool{true}
	}
	if v.key.HSV {
		return [4]bool{true, false, true, false}
	}
	return [4]bool{true, true, true, true}
}

// Source renders the variant's WGSL kernel source.
func (v Variant) Source() (string, error) {
	return shader.Render(v.shaderSpec())
}

func (v Variant) shaderSpec() shader.Spec {
	return shader.Spec{
		Name:         v.Name(),
		Stage:        v.key.Stage.String(),
		Algorithm:    v.key.Algorithm.String(),
		HSV:          v.key.HSV,
		OutputFormat: v.key.Format.String(),
		StorageTexel: v.spec.StorageTexel.String(),
		MaxValue:     wgslFloat(v.spec.MaxValue),
		Swizzle:      v.spec.Swizzle,
		Working:      v.spec.Working,
		Output:       v.spec.Output,
		RangeMask:    v.RangeMask(),
		Integer:      v.spec.Integer,
		Vector:       v.Channels() > 1,
	}
}

func wgslFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// enumerate crosses the table rows with every stage, algorithm and applicable
// hsv mode. A row that is inconsistent with its own format, such as an hsv
// variant requested for a single channel format, is a contract violation
// and fails the whole enumeration.
func enumerate(table []formatSpec) ([]Variant, error) {
	var variants []Variant
	seen := make(map[Key]bool)
	for _, row := range table {
		ch := row.Format.Channels()
		switch {
		case ch < 1:
			return nil, fmt.Errorf("variant table: undefined format %s", row.Format)
		case len(row.Swizzle) != ch:
			return nil, fmt.Errorf("variant table: %s swizzle %q does not match %d channels", row.Format, row.Swizzle, ch)
		case row.Sampled.Channels() != ch || !row.Sampled.IsFloat():
			return nil, fmt.Errorf("variant table: %s sampled as %s", row.Format, row.Sampled)
		case row.StorageTexel.Channels() != ch:
			return nil, fmt.Errorf("variant table: %s stored as %s", row.Format, row.StorageTexel)
		case row.Integer == row.Format.IsFloat():
			return nil, fmt.Errorf("variant table: %s integer flag mismatch", row.Format)
		case row.HSV && ch == 1:
			return nil, fmt.Errorf("variant table: hue/value variant requested for single channel format %s", row.Format)
		case !(row.MaxValue > 0):
			return nil, fmt.Errorf("variant table: %s non-positive max value", row.Format)
		}
		hsvModes := []bool{false}
		if row.HSV {
			hsvModes = append(hsvModes, true)
		}
		for _, st := range stages {
			for _, algo := range algorithms {
				for _, hsv := range hsvModes {
					k := Key{Format: row.Format, Stage: st, HSV: hsv, Algorithm: algo}
					if seen[k] {
						return nil, fmt.Errorf("variant table: duplicate variant %s", k)
					}
					seen[k] = true
					variants = append(variants, Variant{key: k, spec: row})
				}
			}
		}
	}
	if len(variants) == 0 {
		return nil, errors.New("variant table: empty")
	}
	slices.SortFunc(variants, func(a, b Variant) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	return variants, nil
}

var (
	allVariants []Variant
	dispatch    map[Key]Variant
)

func init() {
	var err error
	allVariants, err = enumerate(formatTable)
	if err != nil {
		panic(err)
	}
	dispatch = make(map[Key]Variant, len(allVariants))
	for _, v := range allVariants {
		dispatch[v.key] = v
	}
}

// Variants returns every generated variant sorted by name.
func Variants() []Variant {
	return slices.Clone(allVariants)
}

// Lookup returns the variant registered for k. Matching is exact; it returns
// an error wrapping [ErrUnimplementedVariant] when k was never generated.
func Lookup(k Key) (Variant, error) {
	v, ok := dispatch[k]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %s", ErrUnimplementedVariant, k)
	}
	return v, nil
}
