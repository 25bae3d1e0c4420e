// Package codec implements the "image codec" collaborator named out of
// scope in spec §1: decode/encode of the image formats the pipeline's
// HTTP surface accepts. The core packages (kernels, stages) never import
// image/jpeg or image/tiff directly — they work in kernels.Gray/Mask and
// leave codec to translate at the edges.
package codec

import (
	"bytes"
	"image"
	"image/png"

	_ "image/jpeg" // registers the "jpeg" format with image.Decode

	_ "golang.org/x/image/tiff" // registers the "tiff" format with image.Decode

	"github.com/edwin0419/particlelab/internal/errs"
	"github.com/edwin0419/particlelab/internal/kernels"
)

// DecodeAny decodes PNG, JPEG, or TIFF bytes into a Gray buffer,
// sniffing the format the way image.Decode does.
func DecodeAny(data []byte) (*kernels.Gray, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.InvalidInputf("unrecognized image format: %v", err)
	}
	return kernels.FromImage(img), nil
}

// EncodePNG encodes a Gray buffer as 8-bit grayscale PNG bytes.
func EncodePNG(g *kernels.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, g.ToImage()); err != nil {
		return nil, errs.Internalf(err, "failed to encode PNG")
	}
	return buf.Bytes(), nil
}

// EncodeMaskPNG encodes a binary mask as 8-bit PNG with values strictly
// {0, 255} (spec §9 "Mask serialization").
func EncodeMaskPNG(m *kernels.Mask) ([]byte, error) {
	return EncodePNG(m.ToGray())
}

// DecodeMaskPNG decodes PNG bytes into a binary mask, reading any value
// >= 128 as foreground (spec §9).
func DecodeMaskPNG(data []byte) (*kernels.Mask, error) {
	g, err := DecodeAny(data)
	if err != nil {
		return nil, err
	}
	return kernels.MaskFromGray(g), nil
}

// EncodeRGBAPNG encodes a standard library RGBA image (used by the
// label-visualization and overlay outputs) as PNG bytes.
func EncodeRGBAPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errs.Internalf(err, "failed to encode PNG")
	}
	return buf.Bytes(), nil
}
