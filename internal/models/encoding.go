package models

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Encoding is the stored file type of a variant. The values are persisted
// as-is in the file_type columns.
type Encoding string

const (
	EncodingJPEG   Encoding = "jpg"
	EncodingPNG    Encoding = "png"
	EncodingWebP   Encoding = "webp"
	EncodingAVIF   Encoding = "avif"
	EncodingJPEGLI Encoding = "jpegli"
)

// TargetEncodings are produced only by external workers.
var TargetEncodings = []Encoding{EncodingAVIF, EncodingWebP, EncodingJPEGLI}

// OriginalEncodings are the formats accepted on intake and produced inline.
var OriginalEncodings = []Encoding{EncodingJPEG, EncodingPNG}

func (e Encoding) IsOriginal() bool {
	return e == EncodingJPEG || e == EncodingPNG
}

func (e Encoding) IsTarget() bool {
	return e == EncodingAVIF || e == EncodingWebP || e == EncodingJPEGLI
}

// FileName is the object name inside a size directory.
func (e Encoding) FileName() string {
	if e == EncodingJPEGLI {
		return "jpegli.jpg"
	}
	return "image." + string(e)
}

func (e Encoding) ContentType() string {
	switch e {
	case EncodingJPEG, EncodingJPEGLI:
		return "image/jpeg"
	case EncodingPNG:
		return "image/png"
	case EncodingWebP:
		return "image/webp"
	case EncodingAVIF:
		return "image/avif"
	}
	return "application/octet-stream"
}

// ImagePrefix is the blob directory for an image: {hex[:2]}/{hex[2:4]}/{hex}.
func ImagePrefix(id uuid.UUID) string {
	h := hexID(id)
	return h[:2] + "/" + h[2:4] + "/" + h
}

func VariantKey(id uuid.UUID, width, height int, enc Encoding) string {
	return fmt.Sprintf("%s/%d-%d/%s", ImagePrefix(id), width, height, enc.FileName())
}

func hexID(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}
