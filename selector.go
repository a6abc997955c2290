package denoise

import (
	"fmt"
	"sync"
	"time"
)

// Selector resolves variant keys to compiled kernels of one device.
// Kernels are compiled on first use of their key and cached for the
// lifetime of the Selector. It is safe for concurrent use.
type Selector struct {
	dev     Device
	mu      sync.Mutex
	kernels map[Key]*kernelEntry
}

type kernelEntry struct {
	once   sync.Once
	kernel Kernel
	err    error
}

// NewSelector returns a Selector compiling kernels on dev.
func NewSelector(dev Device) *Selector {
	return &Selector{
		dev:     dev,
		kernels: make(map[Key]*kernelEntry),
	}
}

// Select returns the kernel for key. It returns an error wrapping
// [ErrUnimplementedVariant] if no variant was generated for key, or
// [ErrDevice] if the device failed to compile it. Compilation, successful
// or not, happens at most once per key.
func (s *Selector) Select(key Key) (Kernel, error) {
	v, err := Lookup(key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	e := s.kernels[key]
	if e == nil {
		e = &kernelEntry{}
		s.kernels[key] = e
	}
	s.mu.Unlock()

	e.once.Do(func() {
		start := time.Now()
		e.kernel, e.err = s.dev.Compile(v)
		if e.err != nil {
			e.err = fmt.Errorf("%w: compile %s: %w", ErrDevice, v.Name(), e.err)
			return
		}
		slogger().Debug("kernel compiled", "variant", v.Name(), "device", s.dev.Name(), "duration", time.Since(start))
	})
	return e.kernel, e.err
}

// Release releases all compiled kernels. The Selector must not be used afterwards.
func (s *Selector) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.kernels {
		if e.kernel != nil {
			e.kernel.Release()
		}
		delete(s.kernels, key)
	}
}
