package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kakigoori/internal/models"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
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

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func TestProbeAcceptsJPEGAndPNG(t *testing.T) {
	c := New(Options{})

	info, err := c.Probe(encodeJPEG(t, solid(200, 100, color.NRGBA{R: 200, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, Info{Format: "jpeg", Width: 200, Height: 100}, info)
	enc, err := info.Encoding()
	require.NoError(t, err)
	assert.Equal(t, models.EncodingJPEG, enc)

	info, err = c.Probe(encodePNG(t, solid(30, 40, color.NRGBA{G: 10, A: 128})))
	require.NoError(t, err)
	enc, err = info.Encoding()
	require.NoError(t, err)
	assert.Equal(t, models.EncodingPNG, enc)
	assert.Equal(t, 30, info.Width)
	assert.Equal(t, 40, info.Height)
}

func TestProbeRejectsOtherFormats(t *testing.T) {
	c := New(Options{})

	var buf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	require.NoError(t, gif.Encode(&buf, pal, nil))

	info, err := c.Probe(buf.Bytes())
	require.NoError(t, err)
	_, err = info.Encoding()
	assert.ErrorIs(t, err, models.ErrUnsupportedMediaType)

	_, err = c.Probe([]byte("definitely not an image"))
	assert.ErrorIs(t, err, models.ErrUnsupportedMediaType)
}

func TestFitPreservesAspectAndNeverUpscales(t *testing.T) {
	c := New(Options{})
	src := solid(1200, 800, color.NRGBA{B: 255, A: 255})

	out := c.Fit(src, 600, 600)
	assert.Equal(t, 600, out.Bounds().Dx())
	assert.Equal(t, 400, out.Bounds().Dy())

	out = c.Fit(src, 2400, 1600)
	assert.Equal(t, 1200, out.Bounds().Dx())
	assert.Equal(t, 800, out.Bounds().Dy())
}

func TestEncodeBaselinePicksFormatByAlpha(t *testing.T) {
	c := New(Options{JPEGQuality: 80})

	data, enc, err := c.EncodeBaseline(solid(10, 10, color.NRGBA{R: 1, A: 255}), false)
	require.NoError(t, err)
	assert.Equal(t, models.EncodingJPEG, enc)
	info, err := c.Probe(data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", info.Format)

	data, enc, err = c.EncodeBaseline(solid(10, 10, color.NRGBA{R: 1, A: 255}), true)
	require.NoError(t, err)
	assert.Equal(t, models.EncodingPNG, enc)
	info, err = c.Probe(data)
	require.NoError(t, err)
	assert.Equal(t, "png", info.Format)
}

func TestHasAlphaChannelFollowsDecodedModel(t *testing.T) {
	c := New(Options{})
	decode := func(data []byte) image.Image {
		img, err := c.Decode(data)
		require.NoError(t, err)
		return img
	}

	// Opaque NRGBA is written as an RGB PNG without alpha.
	assert.False(t, HasAlphaChannel(decode(encodePNG(t, solid(4, 4, color.NRGBA{R: 9, A: 255})))))
	assert.True(t, HasAlphaChannel(decode(encodePNG(t, solid(4, 4, color.NRGBA{R: 9, A: 40})))))
	assert.False(t, HasAlphaChannel(decode(encodeJPEG(t, solid(4, 4, color.NRGBA{R: 9, A: 255})))))

	// Every pixel is opaque but the palette has a transparent entry.
	pal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{
		color.NRGBA{B: 200, A: 255},
		color.NRGBA{},
	})
	assert.True(t, HasAlphaChannel(decode(encodePNG(t, pal))))

	opaquePal := image.NewPaletted(image.Rect(0, 0, 4, 4), color.Palette{color.Black, color.White})
	assert.False(t, HasAlphaChannel(decode(encodePNG(t, opaquePal))))

	assert.False(t, HasAlphaChannel(image.NewGray(image.Rect(0, 0, 1, 1))))
	assert.True(t, HasAlphaChannel(image.NewAlpha(image.Rect(0, 0, 1, 1))))
}

func TestEncodeRejectsWorkerEncodings(t *testing.T) {
	c := New(Options{})
	_, err := c.Encode(solid(2, 2, color.NRGBA{A: 255}), models.EncodingAVIF)
	assert.Error(t, err)
}

func TestFlattenIsOpaque(t *testing.T) {
	img := solid(8, 8, color.NRGBA{R: 255, A: 0})
	require.False(t, img.Opaque())

	flat := Flatten(img)
	opaque, ok := flat.(interface{ Opaque() bool })
	require.True(t, ok)
	assert.True(t, opaque.Opaque())
	r, g, b, _ := flat.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestDecodeRoundTrip(t *testing.T) {
	c := New(Options{AutoOrientation: true})
	img, err := c.Decode(encodePNG(t, solid(64, 32, color.NRGBA{G: 255, A: 255})))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())

	_, err = c.Decode([]byte{0x00, 0x01})
	assert.Error(t, err)
}

// withOrientation inserts an EXIF APP1 segment carrying the given
// orientation tag right after the JPEG SOI marker.
func withOrientation(t *testing.T, data []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8)

	tiff := []byte{
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08, // big endian header, IFD at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, // Orientation, SHORT, count 1
		byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	length := len(payload) + 2

	var out bytes.Buffer
	out.Write(data[:2])
	out.Write([]byte{0xFF, 0xE1, byte(length >> 8), byte(length)})
	out.Write(payload)
	out.Write(data[2:])
	return out.Bytes()
}

func TestDecodeAppliesExifOrientation(t *testing.T) {
	src := withOrientation(t, encodeJPEG(t, solid(64, 32, color.NRGBA{R: 90, A: 255})), 6)

	info, err := New(Options{}).Probe(src)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 32, info.Height)

	img, err := New(Options{AutoOrientation: true}).Decode(src)
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())

	img, err = New(Options{AutoOrientation: false}).Decode(src)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}
