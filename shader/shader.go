// Package shader renders the WGSL source of denoise kernel variants from a
// single embedded template.
package shader

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
)

//go:embed denoise.wgsl.tmpl
var denoiseTemplate string

var tmpl = template.Must(template.New("denoise").Funcs(template.FuncMap{
	"flag": func(b bool) string {
		if b {
			return "1.0"
		}
		return "0.0"
	},
}).Parse(denoiseTemplate))

// Entry points of rendered kernels.
const (
	ComputeEntryPoint  = "main"
	VertexEntryPoint   = "vs_main"
	FragmentEntryPoint = "fs_main"
)

// Bindings of group 0 shared by all kernels.
const (
	BindingInput    = 0
	BindingOutput   = 1 // Compute kernels only.
	BindingUniforms = 2
)

// Spec holds the substitutions of one kernel variant.
type Spec struct {
	// Name is the variant's artifact name.
	Name string
	// Stage is "compute" or "fragment".
	Stage string
	// Algorithm is "smart" or "radial".
	Algorithm string
	HSV       bool
	// OutputFormat is the WGSL texel format of the output image.
	OutputFormat string
	// StorageTexel is the WGSL storage texel format written by compute kernels.
	StorageTexel string
	// MaxValue is a WGSL float literal.
	MaxValue string
	// Swizzle selects working channels from a sampled texel: "r" or "rgba".
	Swizzle string
	// Working is the WGSL accumulation type.
	Working string
	// Output is the WGSL type of an encoded output texel.
	Output string
	// RangeMask flags the channels taking part in range weighting.
	RangeMask [4]bool
	Integer   bool
	Vector    bool
}

func (s Spec) validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("empty name"))
	}
	if s.Stage != "compute" && s.Stage != "fragment" {
		errs = append(errs, fmt.Errorf("bad stage %q", s.Stage))
	}
	if s.Vector != (len(s.Swizzle) == 4) {
		errs = append(errs, fmt.Errorf("swizzle %q inconsistent with vector=%t", s.Swizzle, s.Vector))
	}
	if s.HSV && !s.Vector {
		errs = append(errs, errors.New("hsv requires 4 channels"))
	}
	if s.MaxValue == "" || s.Working == "" || s.Output == "" || s.OutputFormat == "" || s.StorageTexel == "" {
		errs = append(errs, errors.New("missing type substitution"))
	}
	return errors.Join(errs...)
}

// Render returns the WGSL source of the kernel described by s.
func Render(s Spec) (string, error) {
	if err := s.validate(); err != nil {
		return "", fmt.Errorf("shader %s: %w", s.Name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, s); err != nil {
		return "", fmt.Errorf("shader %s: %w", s.Name, err)
	}
	return sb.String(), nil
}
