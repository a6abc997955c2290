package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gogpu/naga"
	"github.com/soypat/denoise"
	"github.com/spf13/cobra"
)

const manifestName = "variants.txt"

type genOptions struct {
	out      string
	validate bool
	spirv    bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	var opts genOptions
	cmd := &cobra.Command{
		Use:           "denoise-gen",
		Short:         "Generate WGSL sources of all denoise kernel variants",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(cmd.ErrOrStderr(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.out, "out", "./wgsl", "output directory")
	flags.BoolVar(&opts.validate, "validate", true, "compile every variant to SPIR-V with naga")
	flags.BoolVar(&opts.spirv, "spirv", false, "also write compiled .spv files, implies --validate")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "be verbose")
	return cmd
}

// generate writes every variant to opts.out. All variants are attempted and
// every failure is reported.
func generate(log io.Writer, opts genOptions) error {
	if err := os.MkdirAll(opts.out, 0777); err != nil {
		return err
	}
	var manifest bytes.Buffer
	var errs []error
	variants := denoise.Variants()
	for _, v := range variants {
		k := v.Key()
		name := v.Name() + ".wgsl"
		src, err := v.Source()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.WriteFile(filepath.Join(opts.out, name), []byte(src), 0666); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(&manifest, "%-11s %-8s hsv=%-5t %-6s %s\n", k.Format, k.Stage, k.HSV, k.Algorithm, name)
		if !opts.validate && !opts.spirv {
			continue
		}
		spv, err := naga.Compile(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if opts.spirv {
			if err := os.WriteFile(filepath.Join(opts.out, v.Name()+".spv"), spv, 0666); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if opts.verbose {
			fmt.Fprintf(log, "%s: %d bytes SPIR-V\n", name, len(spv))
		}
	}
	if err := os.WriteFile(filepath.Join(opts.out, manifestName), manifest.Bytes(), 0666); err != nil {
		errs = append(errs, err)
	}
	if opts.verbose {
		fmt.Fprintf(log, "wrote %d variants to %s\n", len(variants), opts.out)
	}
	return errors.Join(errs...)
}
