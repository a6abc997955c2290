package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/soypat/denoise"
	"github.com/soypat/denoise/gpu"
	"github.com/soypat/denoise/internal/logging"
	"github.com/soypat/denoise/software"
	"github.com/spf13/cobra"
)

var errUsage = errors.New("usage")

func newRootCmd() *cobra.Command {
	var (
		hsv       bool
		algorithm string
		backend   string
		logLevel  string
		logFormat string
	)
	cmd := &cobra.Command{
		Use:   "denoise <input> <output> <fragment|compute> [sigma kSigma threshold]",
		Short: "Edge preserving smart denoise of 8 and 16 bit images",
		Long: `Denoise filters an 8 or 16 bit grayscale, RGB or RGBA PNG/TIFF image with a
dual gaussian weighted average and writes the result in the input's color model and bit depth.
sigma, kSigma and threshold must be given together or not at all (defaults 7 3 0.195).`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 && len(args) != 6 {
				return fmt.Errorf("%w: want 3 or 6 arguments, got %d", errUsage, len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
			denoise.SetLogger(log)
			gpu.SetLogger(log)
			defer denoise.SetLogger(nil)
			defer gpu.SetLogger(nil)

			settings, err := parseSettings(args[2:], algorithm, hsv)
			if err != nil {
				return err
			}
			dev, release, err := openDevice(backend, log)
			if err != nil {
				return err
			}
			defer release()
			ctx := denoise.NewContext(dev, denoise.WithAlgorithm(settings.Algorithm))
			defer ctx.Close()
			return run(ctx, log, args[0], args[1], settings)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&hsv, "hsv", false, "filter hue and value only, keeping saturation and alpha (color images)")
	flags.StringVar(&algorithm, "algorithm", "smart", "denoise algorithm: smart or radial")
	flags.StringVar(&backend, "backend", "auto", "device: auto, gpu or software")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	return cmd
}

// parseSettings applies the stage and optional parameter arguments through
// the settings controls, which range check them.
func parseSettings(args []string, algorithm string, hsv bool) (denoise.Settings, error) {
	settings := denoise.DefaultSettings()
	stage, err := denoise.ParseStage(args[0])
	if err != nil {
		return settings, fmt.Errorf("%w: %w", errUsage, err)
	}
	algo, err := denoise.ParseAlgorithm(algorithm)
	if err != nil {
		return settings, fmt.Errorf("%w: %w", errUsage, err)
	}
	values := map[string]any{"stage": stage, "algorithm": algo, "hsv": hsv}
	for i, name := range []string{"sigma", "ksigma", "threshold"} {
		if len(args) == 1 {
			break
		}
		v, err := strconv.ParseFloat(args[1+i], 32)
		if err != nil {
			return settings, fmt.Errorf("%w: %s: %w", errUsage, name, err)
		}
		values[name] = float32(v)
	}
	for _, ctl := range settings.Controls() {
		name, _ := ctl.Describe()
		v, ok := values[name]
		if !ok {
			continue
		}
		if err := ctl.ChangeValue(v); err != nil {
			return settings, fmt.Errorf("%w: %w", errUsage, err)
		}
	}
	return settings, nil
}

func openDevice(backend string, log *slog.Logger) (denoise.Device, func(), error) {
	switch backend {
	case "software":
		return software.New(), func() {}, nil
	case "gpu", "auto":
		dev, err := gpu.Open()
		if err == nil {
			return dev, dev.Release, nil
		} else if backend == "gpu" {
			return nil, nil, fmt.Errorf("%w: %w", denoise.ErrDevice, err)
		}
		log.Warn("webgpu unavailable, using software device", "err", err)
		return software.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown backend %q", errUsage, backend)
}

func run(ctx *denoise.Context, log *slog.Logger, input, output string, s denoise.Settings) error {
	img, err := readImage(input)
	if err != nil {
		return err
	}
	r, err := fromImage(img)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	log.Info("denoising", "input", input, "size", r.rect.Size(), "channels", r.channels(),
		"depth", r.depth(), "stage", s.Stage, "algorithm", s.Algorithm, "hsv", s.HSV, "radius", s.Params.Radius())
	start := time.Now()
	switch r.depth() {
	case 8:
		r.b8, err = denoise.Denoise(ctx, r.b8, s.Stage, s.Params, s.HSV)
	default:
		r.b16, err = denoise.Denoise(ctx, r.b16, s.Stage, s.Params, s.HSV)
	}
	if err != nil {
		return err
	}
	log.Info("denoised", "device", ctx.Device().Name(), "duration", time.Since(start))
	return writeImage(output, r.toImage())
}
