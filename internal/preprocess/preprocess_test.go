package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/Brownie44l1/classify-web/internal/model"
)

// createTestImage creates a solid image of the given colour
func createTestImage(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNewDefaults(t *testing.T) {
	p := New(0, "")
	assert.Equal(t, DefaultSize, p.Size())
	assert.Equal(t, model.LayoutNHWC, p.layout)

	p = ForModel(model.Metadata{ImageSize: 96, Layout: model.LayoutNCHW})
	assert.Equal(t, 96, p.Size())
	assert.Equal(t, model.LayoutNCHW, p.layout)
}

func TestTensorNHWC(t *testing.T) {
	p := New(8, model.LayoutNHWC)
	data := p.Tensor(createTestImage(40, 20, color.RGBA{255, 0, 51, 255}))

	require.Len(t, data, 8*8*3)
	for i := 0; i < 8*8; i++ {
		assert.InDelta(t, 1.0, data[3*i], 0.01)
		assert.InDelta(t, 0.0, data[3*i+1], 0.01)
		assert.InDelta(t, 0.2, data[3*i+2], 0.01)
	}
}

func TestTensorNCHW(t *testing.T) {
	p := New(4, model.LayoutNCHW)
	data := p.Tensor(createTestImage(10, 10, color.RGBA{0, 255, 0, 255}))

	require.Len(t, data, 3*4*4)
	plane := 16
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 0.0, data[i], 0.01)
		assert.InDelta(t, 1.0, data[plane+i], 0.01)
		assert.InDelta(t, 0.0, data[2*plane+i], 0.01)
	}
}

func TestTensorDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 0, G: 0, B: 255, A: 255})
		}
	}
	data := New(6, model.LayoutNHWC).Tensor(img)

	require.Len(t, data, 6*6*3)
	for _, v := range data {
		assert.True(t, v >= 0 && v <= 1, "value %f out of range", v)
	}
	assert.InDelta(t, 1.0, data[2], 0.01)
}

func TestTensorGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 5, 5))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	data := New(5, model.LayoutNHWC).Tensor(img)

	require.Len(t, data, 5*5*3)
	for _, v := range data {
		assert.InDelta(t, 128.0/255.0, v, 0.01)
	}
}

func TestPreparePNG(t *testing.T) {
	p := New(16, model.LayoutNHWC)
	data, err := p.Prepare(encodePNG(t, createTestImage(32, 32, color.RGBA{255, 255, 255, 255})))
	require.NoError(t, err)
	require.Len(t, data, 16*16*3)
	assert.InDelta(t, 1.0, data[0], 0.01)
}

func TestPrepareJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, createTestImage(30, 30, color.RGBA{0, 0, 0, 255}), &jpeg.Options{Quality: 95}))

	data, err := New(10, model.LayoutNHWC).Prepare(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, data, 10*10*3)
	assert.InDelta(t, 0.0, data[0], 0.02)
}

func TestPrepareRejectsGarbage(t *testing.T) {
	_, err := New(8, "").Prepare([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestDecodeWebP(t *testing.T) {
	src := createTestImage(12, 6, color.RGBA{10, 200, 30, 255})
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, src, &webp.Options{Lossless: true}))
	require.True(t, isWebP(buf.Bytes()))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
	r, g, b, _ := img.At(3, 3).RGBA()
	assert.Equal(t, []uint32{10, 200, 30}, []uint32{r >> 8, g >> 8, b >> 8})

	// the pure-Go decoder is registered for the same bytes
	pure, err := imaging.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), pure.Bounds())
}

func TestDecodeTruncatedWebP(t *testing.T) {
	_, err := Decode([]byte("RIFF\x00\x00\x00\x00WEBPVP8 "))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestDecodeOtherFormats(t *testing.T) {
	src := createTestImage(9, 7, color.RGBA{255, 255, 255, 255})
	encoders := map[string]func(*bytes.Buffer) error{
		"gif":  func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) },
		"bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, src) },
		"tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, src, nil) },
	}

	for name, encode := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, encode(&buf))

			img, err := Decode(buf.Bytes())
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 9, 7), img.Bounds())

			data, err := New(4, "").Prepare(buf.Bytes())
			require.NoError(t, err)
			require.Len(t, data, 4*4*3)
			assert.InDelta(t, 1.0, data[0], 0.01)
		})
	}
}

// exifOrientation builds an APP1 segment holding only the orientation tag.
func exifOrientation(o byte) []byte {
	payload := []byte("Exif\x00\x00")
	payload = append(payload, 'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08)
	payload = append(payload, 0x00, 0x01)
	payload = append(payload, 0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, o, 0x00, 0x00)
	payload = append(payload, 0x00, 0x00, 0x00, 0x00)

	n := len(payload) + 2
	return append([]byte{0xff, 0xe1, byte(n >> 8), byte(n)}, payload...)
}

func TestDecodeAppliesEXIFOrientation(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			if x < 8 {
				src.Set(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				src.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 100}))
	raw := buf.Bytes()

	// insert APP1 right after SOI; orientation 6 means rotate 90 degrees clockwise
	oriented := append([]byte{}, raw[:2]...)
	oriented = append(oriented, exifOrientation(6)...)
	oriented = append(oriented, raw[2:]...)

	img, err := Decode(oriented)
	require.NoError(t, err)
	require.Equal(t, 8, img.Bounds().Dx())
	require.Equal(t, 16, img.Bounds().Dy())

	r, _, b, _ := img.At(4, 2).RGBA()
	assert.Greater(t, r, b, "left half should end up on top")
	r, _, b, _ = img.At(4, 13).RGBA()
	assert.Greater(t, b, r, "right half should end up at the bottom")

	plain, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, 16, plain.Bounds().Dx())
}

func BenchmarkPrepare(b *testing.B) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, createTestImage(640, 480, color.RGBA{10, 20, 30, 255})); err != nil {
		b.Fatal(err)
	}
	p := New(DefaultSize, model.LayoutNHWC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Prepare(buf.Bytes()); err != nil {
			b.Fatal(err)
		}
	}
}
