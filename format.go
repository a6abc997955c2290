package denoise

import (
	"fmt"
)

// Element is the set of host pixel element types a [Buffer] may hold.
type Element interface {
	uint8 | uint16 | float32
}

// ElemType identifies the host element type of a pixel buffer.
type ElemType uint8

const (
	elemUndefined ElemType = iota // undefined
	ElemU8                        // u8
	ElemU16                       // u16
	ElemF32                       // f32
)

func (e ElemType) String() string {
	switch e {
	case ElemU8:
		return "u8"
	case ElemU16:
		return "u16"
	case ElemF32:
		return "f32"
	default:
		return fmt.Sprintf("ElemType(%d)", uint8(e))
	}
}

// Size returns the size in bytes of one element.
func (e ElemType) Size() int {
	switch e {
	case ElemU8:
		return 1
	case ElemU16:
		return 2
	case ElemF32:
		return 4
	}
	return -1
}

// ElemTypeOf returns the ElemType of T.
func ElemTypeOf[T Element]() ElemType {
	var z T
	switch any(z).(type) {
	case uint8:
		return ElemU8
	case uint16:
		return ElemU16
	case float32:
		return ElemF32
	}
	return elemUndefined
}

// TexelFormat is an accelerator-native texel layout. Names follow WGSL texel format naming.
type TexelFormat uint8

const (
	formatUndefined   TexelFormat = iota // undefined
	FormatR8Uint                         // r8uint
	FormatR16Uint                        // r16uint
	FormatR32Uint                        // r32uint
	FormatR32Float                       // r32float
	FormatRGBA8Uint                      // rgba8uint
	FormatRGBA16Uint                     // rgba16uint
	FormatRGBA32Float                    // rgba32float
)

func (f TexelFormat) String() string {
	switch f {
	case FormatR8Uint:
		return "r8uint"
	case FormatR16Uint:
		return "r16uint"
	case FormatR32Uint:
		return "r32uint"
	case FormatR32Float:
		return "r32float"
	case FormatRGBA8Uint:
		return "rgba8uint"
	case FormatRGBA16Uint:
		return "rgba16uint"
	case FormatRGBA32Float:
		return "rgba32float"
	default:
		return fmt.Sprintf("TexelFormat(%d)", uint8(f))
	}
}

// Channels returns the number of channels per texel or -1 if undefined.
func (f TexelFormat) Channels() int {
	switch f {
	case FormatR8Uint, FormatR16Uint, FormatR32Uint, FormatR32Float:
		return 1
	case FormatRGBA8Uint, FormatRGBA16Uint, FormatRGBA32Float:
		return 4
	}
	return -1
}

// BytesPerTexel returns the tightly packed size of one texel in bytes.
func (f TexelFormat) BytesPerTexel() int {
	switch f {
	case FormatR8Uint:
		return 1
	case FormatR16Uint:
		return 2
	case FormatR32Uint, FormatR32Float, FormatRGBA8Uint:
		return 4
	case FormatRGBA16Uint:
		return 8
	case FormatRGBA32Float:
		return 16
	}
	return -1
}

// IsFloat reports whether texel channels are 32-bit floating point.
func (f TexelFormat) IsFloat() bool {
	return f == FormatR32Float || f == FormatRGBA32Float
}

// FormatDescriptor pairs the formats used on-device for a given host buffer layout.
type FormatDescriptor struct {
	// Sampled is the format of the readable input image.
	Sampled TexelFormat
	// Storage is the format of the writable output image.
	Storage TexelFormat
	// OutputChannels is the channel count used on-device. 3 channel
	// host data is padded to 4 since accelerators lack 3 channel storage formats.
	OutputChannels int
}

// Resolve maps a host element type and channel count to the on-device formats.
// It succeeds for exactly {u8,u16,f32} x {1,3,4} and returns an error
// wrapping [ErrUnsupportedFormat] otherwise.
//
// Formats come from the same table the kernel variants are generated from,
// so a resolved storage format always names a generated variant.
func Resolve(elem ElemType, channels int) (FormatDescriptor, error) {
	outChannels := channels
	switch channels {
	case 1, 4:
	case 3:
		outChannels = 4
	default:
		return FormatDescriptor{}, fmt.Errorf("%w: %d channels of %s", ErrUnsupportedFormat, channels, elem)
	}
	for i := range formatTable {
		row := &formatTable[i]
		if row.Elem == elem && row.Format.Channels() == outChannels {
			return FormatDescriptor{
				Sampled:        row.Sampled,
				Storage:        row.Format,
				OutputChannels: outChannels,
			}, nil
		}
	}
	return FormatDescriptor{}, fmt.Errorf("%w: %d channels of %s", ErrUnsupportedFormat, channels, elem)
}
