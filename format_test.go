package denoise

import (
	"errors"
	"testing"
)

func TestResolveTotality(t *testing.T) {
	elems := []ElemType{ElemU8, ElemU16, ElemF32, elemUndefined}
	for _, elem := range elems {
		for ch := -1; ch <= 6; ch++ {
			fd, err := Resolve(elem, ch)
			supported := elem != elemUndefined && (ch == 1 || ch == 3 || ch == 4)
			if !supported {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("Resolve(%s, %d) = %+v, %v; want unsupported format", elem, ch, fd, err)
				}
				continue
			}
			if err != nil {
				t.Errorf("Resolve(%s, %d): %v", elem, ch, err)
				continue
			}
			wantCh := ch
			if ch == 3 {
				wantCh = 4
			}
			if fd.OutputChannels != wantCh || fd.Storage.Channels() != wantCh || fd.Sampled.Channels() != wantCh {
				t.Errorf("Resolve(%s, %d) = %+v: channel mismatch", elem, ch, fd)
			}
			if !fd.Sampled.IsFloat() {
				t.Errorf("Resolve(%s, %d): sampled format %s not float", elem, ch, fd.Sampled)
			}
			if (elem == ElemF32) != fd.Storage.IsFloat() {
				t.Errorf("Resolve(%s, %d): storage format %s", elem, ch, fd.Storage)
			}
			if got := fd.Storage.BytesPerTexel() / wantCh; got != elem.Size() {
				t.Errorf("Resolve(%s, %d): %d bytes per channel, want %d", elem, ch, got, elem.Size())
			}
		}
	}
}

func TestElemTypeOf(t *testing.T) {
	if ElemTypeOf[uint8]() != ElemU8 || ElemTypeOf[uint16]() != ElemU16 || ElemTypeOf[float32]() != ElemF32 {
		t.Error("unexpected element type mapping")
	}
}

func TestTexelFormatNames(t *testing.T) {
	want := map[TexelFormat]string{
		FormatR8Uint:      "r8uint",
		FormatR16Uint:     "r16uint",
		FormatR32Uint:     "r32uint",
		FormatR32Float:    "r32float",
		FormatRGBA8Uint:   "rgba8uint",
		FormatRGBA16Uint:  "rgba16uint",
		FormatRGBA32Float: "rgba32float",
	}
	for f, name := range want {
		if f.String() != name {
			t.Errorf("%d: got %q, want %q", f, f.String(), name)
		}
	}
	if formatUndefined.Channels() != -1 || formatUndefined.BytesPerTexel() != -1 {
		t.Error("undefined format has a layout")
	}
}
