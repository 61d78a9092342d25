// Package codec wraps the image primitives the service needs: format probing,
// orientation-aware decoding, box fitting and the two baseline encoders.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	// Registered so probing can name formats it then rejects.
	_ "golang.org/x/image/webp"

	"kakigoori/internal/models"
)

type Options struct {
	JPEGQuality     int
	AutoOrientation bool
	Filter          imaging.ResampleFilter
}

// Codec holds its configuration per instance; nothing here touches
// package-level decoder state.
type Codec struct {
	opts Options
}

func New(opts Options) *Codec {
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = 90
	}
	if opts.Filter.Support == 0 {
		opts.Filter = imaging.Lanczos
	}
	return &Codec{opts: opts}
}

func NewFromConfig(cfg models.CodecConfig) *Codec {
	return New(Options{JPEGQuality: cfg.JPEGQuality, AutoOrientation: cfg.AutoOrientation})
}

type Info struct {
	Format string // registered decoder name: jpeg, png, gif, webp, ...
	Width  int
	Height int
}

// Encoding maps the probed format to a stored original encoding.
func (i Info) Encoding() (models.Encoding, error) {
	switch i.Format {
	case "jpeg":
		return models.EncodingJPEG, nil
	case "png":
		return models.EncodingPNG, nil
	}
	return "", fmt.Errorf("format %q: %w", i.Format, models.ErrUnsupportedMediaType)
}

// Probe reads only the header of data.
func (c *Codec) Probe(data []byte) (Info, error) {
	const op = "codec.Probe"

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%s: %v: %w", op, err, models.ErrUnsupportedMediaType)
	}
	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func (c *Codec) Decode(data []byte) (image.Image, error) {
	const op = "codec.Decode"

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(c.opts.AutoOrientation))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return img, nil
}

// Fit scales img down to fit inside width x height keeping the aspect ratio.
// Images already inside the box are returned unscaled.
func (c *Codec) Fit(img image.Image, width, height int) image.Image {
	return imaging.Fit(img, width, height, c.opts.Filter)
}

func (c *Codec) Encode(img image.Image, enc models.Encoding) ([]byte, error) {
	const op = "codec.Encode"

	var buf bytes.Buffer
	var err error
	switch enc {
	case models.EncodingJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.opts.JPEGQuality))
	case models.EncodingPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		return nil, fmt.Errorf("%s: %s cannot be encoded inline", op, enc)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, enc, err)
	}
	return buf.Bytes(), nil
}

// EncodeBaseline writes PNG when the source carries an alpha channel and
// JPEG otherwise. When the preferred encoder fails the image is flattened
// onto white and written as JPEG.
func (c *Codec) EncodeBaseline(img image.Image, alpha bool) ([]byte, models.Encoding, error) {
	preferred := models.EncodingJPEG
	if alpha {
		preferred = models.EncodingPNG
	}

	data, err := c.Encode(img, preferred)
	if err == nil {
		return data, preferred, nil
	}

	data, err = c.Encode(Flatten(img), models.EncodingJPEG)
	if err != nil {
		return nil, "", err
	}
	return data, models.EncodingJPEG, nil
}

// HasAlphaChannel reports whether a decoded image's color model carries
// alpha, whatever its pixel values. Call it on the decoder output: resampled
// images are always NRGBA.
func HasAlphaChannel(img image.Image) bool {
	if _, ok := img.(*image.NYCbCrA); ok {
		return true
	}
	switch m := img.ColorModel().(type) {
	case color.Palette:
		for _, entry := range m {
			if _, _, _, a := entry.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	}
	switch img.ColorModel() {
	case color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}

// Flatten composites img over an opaque white canvas.
func Flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
