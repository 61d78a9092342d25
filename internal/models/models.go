package models

import (
	"time"

	"github.com/google/uuid"
)

// CurrentModelVersion is the storage layout every new image is created with.
// Version 1 images keep their blobs in the flat legacy layout until upgraded.
const CurrentModelVersion = 2

type Image struct {
	ID               uuid.UUID `db:"id"`
	CreationDate     time.Time `db:"creation_date"`
	Uploaded         bool      `db:"uploaded"` // false until the full-size variant and its tasks exist
	OriginalName     string    `db:"original_name"`
	OriginalMimeType string    `db:"original_mime_type"`
	OriginalMD5      string    `db:"original_md5"`
	// Legacy availability hints. Negotiation reads the variant catalog instead.
	IsWebPAvailable   bool `db:"is_webp_available"`
	IsAVIFAvailable   bool `db:"is_avif_available"`
	IsJPEGLIAvailable bool `db:"is_jpegli_available"`
	ModelVersion      int  `db:"model_version"`
	Width             int  `db:"width"`
	Height            int  `db:"height"`
}

// Usable reports whether readers may serve the image.
func (i *Image) Usable() bool {
	return i.Uploaded && i.Width > 0 && i.Height > 0
}

// IsFullSize reports whether w x h are the image's canonical dimensions.
func (i *Image) IsFullSize(width, height int) bool {
	return i.Width == width && i.Height == height
}

type Variant struct {
	ID         int64     `db:"id"`
	ImageID    uuid.UUID `db:"image_id"`
	Width      int       `db:"width"`
	Height     int       `db:"height"`
	Encoding   Encoding  `db:"file_type"`
	IsFullSize bool      `db:"is_full_size"`
}

// Key returns the blob key the variant's bytes live under.
func (v *Variant) Key() string {
	return VariantKey(v.ImageID, v.Width, v.Height, v.Encoding)
}

type VariantTask struct {
	ID             uuid.UUID `db:"id"`
	CreatedAt      time.Time `db:"created_at"`
	ImageID        uuid.UUID `db:"image_id"`
	Width          int       `db:"width"`
	Height         int       `db:"height"`
	SourceEncoding Encoding  `db:"original_file_type"`
	TargetEncoding Encoding  `db:"file_type"`
}

// Age is how long the task has been pending as of now.
func (t *VariantTask) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

type AuthorizationKey struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	CanUploadImage   bool      `db:"can_upload_image" json:"can_upload_image"`
	CanUploadVariant bool      `db:"can_upload_variant" json:"can_upload_variant"`
}
