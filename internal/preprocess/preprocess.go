// Package preprocess turns a captured photo into the normalized
// channel-planar float32 tensor the classifier expects.
package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	"github.com/whiskeygoggles/goggles/internal/apperr"
	"github.com/whiskeygoggles/goggles/internal/assets"
)

const (
	// Size is the square input resolution of the model.
	Size     = 224
	Channels = 3
	// TensorLen is the length of every tensor produced here.
	TensorLen = Channels * Size * Size
)

// Shape is the NCHW input shape for a single image.
var Shape = []int64{1, Channels, Size, Size}

// Decode reads encoded image bytes, applying any EXIF orientation so phone
// photos are upright. Undecodable data and empty images are InvalidImage.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, apperr.Newf(apperr.KindInvalidImage, "decode", "empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidImage, "decode", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperr.Newf(apperr.KindInvalidImage, "decode", "image has zero size (%dx%d)", b.Dx(), b.Dy())
	}
	return img, nil
}

// Tensor resizes img to Size×Size and writes (v/255 - mean[c]) / std[c] for
// each pixel into a channel-planar buffer: all R values row-major, then all
// G, then all B. Alpha is ignored.
func Tensor(img image.Image, ms assets.MeanStd) ([]float32, error) {
	if img == nil {
		return nil, apperr.Newf(apperr.KindInvalidImage, "preprocess", "nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperr.Newf(apperr.KindInvalidImage, "preprocess", "image has zero size (%dx%d)", b.Dx(), b.Dy())
	}

	resized := resize.Resize(Size, Size, img, resize.Lanczos3)
	rb := resized.Bounds()

	var scale, shift [Channels]float64
	for c := 0; c < Channels; c++ {
		scale[c] = 1 / (255 * ms.Std[c])
		shift[c] = ms.Mean[c] / ms.Std[c]
	}

	const plane = Size * Size
	data := make([]float32, TensorLen)
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			px := color.NRGBAModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.NRGBA)
			i := y*Size + x
			data[i] = float32(float64(px.R)*scale[0] - shift[0])
			data[plane+i] = float32(float64(px.G)*scale[1] - shift[1])
			data[2*plane+i] = float32(float64(px.B)*scale[2] - shift[2])
		}
	}
	return data, nil
}

// FromBytes decodes data and builds its tensor. Cancellation is checked
// between the decode and resize steps.
func FromBytes(ctx context.Context, data []byte, ms assets.MeanStd) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Tensor(img, ms)
}
