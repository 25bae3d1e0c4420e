package codec

import (
	"testing"

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
)

func TestEncodePNG_DecodeAny_RoundTrip(t *testing.T) {
	g := kernels.NewGray(4, 4)
	g.Set(0, 0, 10)
	g.Set(3, 3, 250)

	data, err := EncodePNG(g)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	back, err := DecodeAny(data)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if back.At(0, 0) != 10 || back.At(3, 3) != 250 {
		t.Fatalf("round-trip lost pixel values: got %d, %d", back.At(0, 0), back.At(3, 3))
	}
}

func TestDecodeAny_RejectsUnrecognizedFormat(t *testing.T) {
	_, err := DecodeAny([]byte("not an image"))
	if err == nil || !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected invalid_input for garbage input, got %v", err)
	}
}

func TestEncodeMaskPNG_DecodeMaskPNG_PreservesForegroundPixels(t *testing.T) {
	m := kernels.NewMask(4, 4)
	m.Set(1, 1, true)
	m.Set(2, 2, true)

	data, err := EncodeMaskPNG(m)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}

	back, err := DecodeMaskPNG(data)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !back.At(1, 1) || !back.At(2, 2) {
		t.Fatalf("expected foreground pixels to survive round-trip")
	}
	if back.At(0, 0) {
		t.Fatalf("expected background pixel to remain background")
	}
}
