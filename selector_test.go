package denoise

import (
	"errors"
	"sync"
	"testing"
)

func TestSelectorCompilesOncePerKey(t *testing.T) {
	dev := &fakeDevice{}
	sel := NewSelector(dev)
	key := Key{Format: FormatRGBA8Uint, Stage: StageCompute, HSV: true, Algorithm: AlgorithmSmart}
	var wg sync.WaitGroup
	kernels := make([]Kernel, 16)
	for i := range kernels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k, err := sel.Select(key)
			if err != nil {
				t.Error(err)
			}
			kernels[i] = k
		}()
	}
	wg.Wait()
	if n := dev.compiles.Load(); n != 1 {
		t.Errorf("compiled %d times", n)
	}
	for _, k := range kernels {
		if k != kernels[0] {
			t.Fatal("select returned distinct kernels for one key")
		}
	}
	other := key
	other.Stage = StageRasterized
	if _, err := sel.Select(other); err != nil {
		t.Fatal(err)
	}
	if n := dev.compiles.Load(); n != 2 {
		t.Errorf("compiled %d times after second key", n)
	}
	sel.Release()
	for _, k := range dev.kernels {
		if !k.released {
			t.Errorf("%s not released", k.v.Name())
		}
	}
}

func TestSelectorCompileFailure(t *testing.T) {
	dev := &fakeDevice{compileErr: errors.New("pipeline creation failed")}
	sel := NewSelector(dev)
	defer sel.Release()
	key := Key{Format: FormatR16Uint, Stage: StageCompute, Algorithm: AlgorithmRadial}
	for range 3 {
		_, err := sel.Select(key)
		if !errors.Is(err, ErrDevice) {
			t.Fatalf("got %v", err)
		}
	}
	if n := dev.compiles.Load(); n != 1 {
		t.Errorf("compiled %d times", n)
	}
	_, err := sel.Select(Key{Format: FormatR16Uint, Stage: StageCompute, HSV: true, Algorithm: AlgorithmSmart})
	if !errors.Is(err, ErrUnimplementedVariant) {
		t.Errorf("got %v", err)
	}
}
