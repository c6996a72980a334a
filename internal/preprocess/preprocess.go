// Package preprocess turns uploaded image bytes into model input tensors.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/classify-web/internal/model"
)

var ErrUnsupportedImage = errors.New("unsupported image format")

// DefaultSize is the square input resolution of MobileNet-style models.
const DefaultSize = 224

type Preprocessor struct {
	size   int
	layout model.Layout
}

func New(size int, layout model.Layout) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	if layout == "" {
		layout = model.LayoutNHWC
	}
	return &Preprocessor{size: size, layout: layout}
}

// ForModel builds a Preprocessor matching the classifier's input.
func ForModel(m model.Metadata) *Preprocessor {
	return New(m.ImageSize, m.Layout)
}

func (p *Preprocessor) Size() int {
	return p.size
}

// Prepare decodes raw image bytes and returns a single-item batch tensor.
func (p *Preprocessor) Prepare(data []byte) ([]float32, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Tensor(img), nil
}

// Decode reads any registered format, applying EXIF orientation. WebP goes
// through libwebp first, with the pure-Go decoder as fallback.
func Decode(data []byte) (image.Image, error) {
	if isWebP(data) {
		if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
			return img, nil
		}
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// Tensor resizes img to the model resolution and scales RGB values to [0,1].
// Alpha is dropped.
func (p *Preprocessor) Tensor(img image.Image) []float32 {
	rgb := imaging.Clone(img)
	resized := resize.Resize(uint(p.size), uint(p.size), rgb, resize.Bicubic)
	src := imaging.Clone(resized)

	width, height := src.Bounds().Dx(), src.Bounds().Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			r := float32(px[0]) / 255.0
			g := float32(px[1]) / 255.0
			b := float32(px[2]) / 255.0

			pixelIndex := y*width + x
			if p.layout == model.LayoutNCHW {
				data[pixelIndex] = r
				data[plane+pixelIndex] = g
				data[2*plane+pixelIndex] = b
			} else {
				data[3*pixelIndex] = r
				data[3*pixelIndex+1] = g
				data[3*pixelIndex+2] = b
			}
		}
	}
	return data
}
