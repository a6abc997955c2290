package software

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/soypat/denoise"
	"golang.org/x/sync/errgroup"
)

var smallParams = denoise.Params{Sigma: 1.5, KSigma: 2, Threshold: 0.195}

var stages = []denoise.Stage{denoise.StageCompute, denoise.StageRasterized}

func uniformBuffer[T denoise.Element](w, h int, px []T) denoise.Buffer[T] {
	b := denoise.NewBuffer[T](w, h, len(px))
	for i := range b.Pix {
		b.Pix[i] = px[i%len(px)]
	}
	return b
}

func randomBuffer[T denoise.Element](rng *rand.Rand, w, h, ch int, max float64) denoise.Buffer[T] {
	b := denoise.NewBuffer[T](w, h, ch)
	for i := range b.Pix {
		v := rng.Float64() * max
		if max > 1 {
			v = math.Round(v)
		}
		b.Pix[i] = T(v)
	}
	return b
}

func checkUniform[T denoise.Element](t *testing.T, ctx *denoise.Context, px []T, tol float64) {
	t.Helper()
	in := uniformBuffer(9, 7, px)
	for _, stage := range stages {
		hsvModes := []bool{false}
		if len(px) > 1 {
			hsvModes = append(hsvModes, true)
		}
		for _, hsv := range hsvModes {
			out, err := denoise.Denoise(ctx, in, stage, smallParams, hsv)
			if err != nil {
				t.Fatalf("%T x%d %s hsv=%t: %v", px[0], len(px), stage, hsv, err)
			}
			for i, got := range out.Pix {
				want := px[i%len(px)]
				if math.Abs(float64(got)-float64(want)) > tol {
					t.Fatalf("%T x%d %s hsv=%t: element %d = %v, want %v", px[0], len(px), stage, hsv, i, got, want)
				}
			}
		}
	}
}

func TestUniformImageUnchanged(t *testing.T) {
	ctx := denoise.NewContext(New())
	defer ctx.Close()
	checkUniform(t, ctx, []uint8{93}, 0)
	checkUniform(t, ctx, []uint8{37, 200, 90}, 0)
	checkUniform(t, ctx, []uint8{37, 200, 90, 255}, 0)
	checkUniform(t, ctx, []uint16{40000}, 0)
	checkUniform(t, ctx, []uint16{1000, 40000, 65535}, 0)
	checkUniform(t, ctx, []uint16{1000, 40000, 65535, 12}, 0)
	checkUniform(t, ctx, []float32{0.3}, 1e-4)
	checkUniform(t, ctx, []float32{0.25, 0.5, 0.75}, 1e-4)
	checkUniform(t, ctx, []float32{0.25, 0.5, 0.75, 1}, 1e-4)
}

func TestImpulseIsSpread(t *testing.T) {
	ctx := denoise.NewContext(New())
	defer ctx.Close()
	in := denoise.NewBuffer[uint8](4, 4, 1)
	in.Pix[1*4+1] = 255
	out, err := denoise.Denoise(ctx, in, denoise.StageCompute, denoise.DefaultParams(), false)
	if err != nil {
		t.Fatal(err)
	}
	nonzero := 0
	for i, v := range out.Pix {
		if v > 64 {
			t.Errorf("pixel %d = %d exceeds bilinear footprint of impulse", i, v)
		}
		if v != 0 {
			nonzero++
		}
	}
	if nonzero < 2 {
		t.Errorf("impulse not spread, %d nonzero pixels: %v", nonzero, out.Pix)
	}
}

func TestFlatRegionPreserved(t *testing.T) {
	ctx := denoise.NewContext(New())
	defer ctx.Close()
	const w, h, flat = 24, 12, 40
	rng := rand.New(rand.NewSource(1))
	in := denoise.NewBuffer[uint8](w, h, 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(flat)
			if x >= w/2 {
				v = uint8(200 + rng.Intn(56))
			}
			in.Pix[y*w+x] = v
		}
	}
	params := denoise.Params{Sigma: 2, KSigma: 2, Threshold: 0.195}
	if params.Radius() != 4 {
		t.Fatalf("radius = %d", params.Radius())
	}
	for _, stage := range stages {
		out, err := denoise.Denoise(ctx, in, stage, params, false)
		if err != nil {
			t.Fatal(err)
		}
		for y := 0; y < h; y++ {
			for x := 5; x <= 7; x++ {
				if got := out.At(x, y)[0]; got != flat {
					t.Errorf("%s: flat pixel (%d,%d) = %d, want %d", stage, x, y, got, flat)
				}
			}
		}
	}
}

func TestStagesAndAlgorithmsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	in := randomBuffer[uint8](rng, 19, 13, 4, 255)
	smart := denoise.NewContext(New())
	defer smart.Close()
	radial := denoise.NewContext(New(), denoise.WithAlgorithm(denoise.AlgorithmRadial))
	defer radial.Close()

	want, err := denoise.Denoise(smart, in, denoise.StageCompute, smallParams, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, ctx := range []*denoise.Context{smart, radial} {
		for _, stage := range stages {
			got, err := denoise.Denoise(ctx, in, stage, smallParams, true)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want.Pix, got.Pix); diff != "" {
				t.Errorf("%s %s mismatch (-want +got):\n%s", ctx.Algorithm(), stage, diff)
			}
		}
	}
}

func TestThreeChannelMatchesPaddedAlpha(t *testing.T) {
	ctx := denoise.NewContext(New())
	defer ctx.Close()
	rng := rand.New(rand.NewSource(7))
	rgb := randomBuffer[uint16](rng, 11, 6, 3, 65535)
	rgba := denoise.Buffer[uint16]{
		Pix:      denoise.PadRGB(nil, rgb.Pix),
		Width:    rgb.Width,
		Height:   rgb.Height,
		Channels: 4,
	}
	got, err := denoise.Denoise(ctx, rgb, denoise.StageCompute, smallParams, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Channels != 3 || len(got.Pix) != len(rgb.Pix) {
		t.Fatalf("got %d channels, %d elements", got.Channels, len(got.Pix))
	}
	want, err := denoise.Denoise(ctx, rgba, denoise.StageCompute, smallParams, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(denoise.StripRGBA(nil, want.Pix), got.Pix); diff != "" {
		t.Errorf("rgb mismatch (-want +got):\n%s", diff)
	}
}

func TestInputNotModified(t *testing.T) {
	ctx := denoise.NewContext(New())
	defer ctx.Close()
	rng := rand.New(rand.NewSource(3))
	in := randomBuffer[float32](rng, 10, 10, 1, 1)
	orig := append([]float32(nil), in.Pix...)
	out, err := denoise.Denoise(ctx, in, denoise.StageRasterized, smallParams, false)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, in.Pix); diff != "" {
		t.Errorf("input modified (-want +got):\n%s", diff)
	}
	if out.Width != in.Width || out.Height != in.Height || out.Channels != in.Channels {
		t.Errorf("output shape %dx%dx%d", out.Width, out.Height, out.Channels)
	}
}

func TestWorkersDoNotChangeResult(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	in := randomBuffer[uint8](rng, 21, 17, 1, 255)
	serial := denoise.NewContext(New(WithWorkers(1)))
	defer serial.Close()
	parallel := denoise.NewContext(New(WithWorkers(8)))
	defer parallel.Close()
	for _, stage := range stages {
		want, err := denoise.Denoise(serial, in, stage, smallParams, false)
		if err != nil {
			t.Fatal(err)
		}
		got, err := denoise.Denoise(parallel, in, stage, smallParams, false)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(want.Pix, got.Pix); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", stage, diff)
		}
	}
}

type countingDevice struct {
	*Device
	compiles atomic.Int32
}

func (d *countingDevice) Compile(v denoise.Variant) (denoise.Kernel, error) {
	d.compiles.Add(1)
	return d.Device.Compile(v)
}

func TestConcurrentCallsCompileOnce(t *testing.T) {
	dev := &countingDevice{Device: New()}
	ctx := denoise.NewContext(dev)
	defer ctx.Close()
	rng := rand.New(rand.NewSource(5))
	in := randomBuffer[uint8](rng, 8, 8, 1, 255)

	const calls = 8
	results := make([]denoise.Buffer[uint8], calls)
	var g errgroup.Group
	for i := range calls {
		g.Go(func() error {
			var err error
			results[i], err = denoise.Denoise(ctx, in, denoise.StageCompute, smallParams, false)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := dev.compiles.Load(); n != 1 {
		t.Errorf("compiled %d times", n)
	}
	for i := 1; i < calls; i++ {
		if diff := cmp.Diff(results[0].Pix, results[i].Pix); diff != "" {
			t.Errorf("call %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDenoiseErrors(t *testing.T) {
	dev := &countingDevice{Device: New()}
	ctx := denoise.NewContext(dev)
	defer ctx.Close()
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"two channels", func() error {
			_, err := denoise.Denoise(ctx, denoise.NewBuffer[uint8](2, 2, 2), denoise.StageCompute, smallParams, false)
			return err
		}, denoise.ErrUnsupportedFormat},
		{"hsv single channel", func() error {
			_, err := denoise.Denoise(ctx, denoise.NewBuffer[uint16](2, 2, 1), denoise.StageRasterized, smallParams, true)
			return err
		}, denoise.ErrUnimplementedVariant},
		{"zero sigma", func() error {
			_, err := denoise.Denoise(ctx, denoise.NewBuffer[uint8](2, 2, 1), denoise.StageCompute, denoise.Params{KSigma: 1, Threshold: 1}, false)
			return err
		}, denoise.ErrInvalidParams},
		{"short buffer", func() error {
			_, err := denoise.Denoise(ctx, denoise.Buffer[float32]{Pix: make([]float32, 3), Width: 2, Height: 2, Channels: 1}, denoise.StageCompute, smallParams, false)
			return err
		}, denoise.ErrInvalidBuffer},
		{"undefined stage", func() error {
			_, err := denoise.Denoise(ctx, denoise.NewBuffer[uint8](2, 2, 1), denoise.Stage(0), smallParams, false)
			return err
		}, denoise.ErrUnimplementedVariant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if !errors.Is(err, tt.want) {
				t.Fatalf("got error %v, want %v", err, tt.want)
			}
		})
	}
	if n := dev.compiles.Load(); n != 0 {
		t.Errorf("failed calls compiled %d kernels", n)
	}
}

func TestSubmitRejectsBadJobs(t *testing.T) {
	dev := New()
	img, err := dev.NewImage(denoise.ImageDesc{Label: "a", Width: 2, Height: 2,
		Format: denoise.FormatR8Uint, Usage: denoise.UsageCopyDst | denoise.UsageCopySrc})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Submit(denoise.UploadJob{Dst: img, Data: make([]byte, 3)}); !errors.Is(err, errSizeMismatch) {
		t.Errorf("short upload: %v", err)
	}
	data := []byte{1, 2, 3, 4}
	if err := dev.Submit(denoise.UploadJob{Dst: img, Data: data}); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := dev.Submit(denoise.DownloadJob{Src: img, Dst: got}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(data, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
	img.Release()
	if err := dev.Submit(denoise.DownloadJob{Src: img, Dst: got}); !errors.Is(err, errReleased) {
		t.Errorf("download of released image: %v", err)
	}
}

func TestContextSerializesOnDevice(t *testing.T) {
	ctx := denoise.NewContext(New(WithWorkers(2)))
	defer ctx.Close()
	rng := rand.New(rand.NewSource(9))
	var mu sync.Mutex
	seen := make(map[denoise.Stage]int)
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stage := stages[i%2]
			mu.Lock()
			in := randomBuffer[float32](rng, 6, 5, 4, 1)
			mu.Unlock()
			if _, err := denoise.Denoise(ctx, in, stage, smallParams, i%2 == 0); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[stage]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if seen[denoise.StageCompute] != 2 || seen[denoise.StageRasterized] != 2 {
		t.Errorf("completed calls per stage: %v", seen)
	}
}

func TestHueValueModeKeepsSaturation(t *testing.T) {
	ctx := denoise.NewContext(New())
	defer ctx.Close()
	// Red and pink stripes share hue and value and differ only in saturation.
	red := []float32{1, 0, 0, 1}
	pink := []float32{1, 0.5, 0.5, 1}
	in := denoise.NewBuffer[float32](16, 8, 4)
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			px := red
			if (x/4)%2 == 1 {
				px = pink
			}
			copy(in.At(x, y), px)
		}
	}
	params := denoise.Params{Sigma: 3, KSigma: 2, Threshold: 0.4}
	interior := []int{1, 2, 3, 5, 6, 7}
	for _, stage := range stages {
		out, err := denoise.Denoise(ctx, in, stage, params, true)
		if err != nil {
			t.Fatal(err)
		}
		for y := 0; y < in.Height; y++ {
			for _, x := range interior {
				if diff := cmp.Diff(in.At(x, y), out.At(x, y)); diff != "" {
					t.Fatalf("%s hsv: pixel (%d,%d) changed (-want +got):\n%s", stage, x, y, diff)
				}
			}
		}

		out, err = denoise.Denoise(ctx, in, stage, params, false)
		if err != nil {
			t.Fatal(err)
		}
		if cmp.Equal(in.At(5, 3), out.At(5, 3)) {
			t.Errorf("%s direct: saturation stripe not filtered: %v", stage, out.At(5, 3))
		}
	}
}
