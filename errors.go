package denoise

import "errors"

// Error kinds. Errors returned by this module wrap exactly one of these
// and can be identified with [errors.Is].
var (
	// ErrUnsupportedFormat is returned for element type and channel
	// combinations outside of {u8,u16,f32} x {1,3,4}.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnimplementedVariant is returned when no kernel was generated for a
	// (format, stage, hsv, algorithm) key.
	ErrUnimplementedVariant = errors.New("unimplemented variant")
	// ErrDevice is returned on accelerator failures such as image allocation,
	// kernel compilation or job submission.
	ErrDevice = errors.New("device failure")
	// ErrInvalidParams is returned for non-positive sigma, kSigma or threshold.
	ErrInvalidParams = errors.New("invalid denoise parameters")
	// ErrInvalidBuffer is returned when a buffer's length does not match its dimensions.
	ErrInvalidBuffer = errors.New("invalid pixel buffer")
)
