package images

import (
	"fmt"

	"kakigoori/internal/models"
)

// ThumbnailEdge is the longest side of the thumbnail box.
const ThumbnailEdge = 600

// ThumbnailBox is the thumbnail size for img: longest side 600, aspect kept.
func ThumbnailBox(img *models.Image) (width, height int) {
	if img.Height > img.Width {
		return max(ThumbnailEdge*img.Width/img.Height, 1), ThumbnailEdge
	}
	return ThumbnailEdge, max(ThumbnailEdge*img.Height/img.Width, 1)
}

// ScaleToHeight keeps the aspect ratio and never exceeds the source size.
func ScaleToHeight(img *models.Image, height int) (int, int, error) {
	if height <= 0 {
		return 0, 0, fmt.Errorf("height %d: %w", height, models.ErrBadRequest)
	}
	if height >= img.Height {
		return img.Width, img.Height, nil
	}
	return max(height*img.Width/img.Height, 1), height, nil
}

// ScaleToWidth keeps the aspect ratio and never exceeds the source size.
func ScaleToWidth(img *models.Image, width int) (int, int, error) {
	if width <= 0 {
		return 0, 0, fmt.Errorf("width %d: %w", width, models.ErrBadRequest)
	}
	if width >= img.Width {
		return img.Width, img.Height, nil
	}
	return width, max(width*img.Height/img.Width, 1), nil
}
