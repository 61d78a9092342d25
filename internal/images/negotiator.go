package images

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
)

const (
	ModeAuto     = "auto"
	ModeOriginal = "original"
)

var (
	autoPreference     = []models.Encoding{models.EncodingAVIF, models.EncodingWebP, models.EncodingJPEGLI, models.EncodingJPEG, models.EncodingPNG}
	originalPreference = []models.Encoding{models.EncodingJPEG, models.EncodingPNG}
)

// AcceptSet is the set of encodings a client declared it can decode.
type AcceptSet map[models.Encoding]bool

// ParseAccept reads the media types of an Accept header. Only avif and webp
// matter: every client is assumed to decode JPEG and PNG.
func ParseAccept(header string) AcceptSet {
	set := AcceptSet{}
	for _, part := range strings.Split(header, ",") {
		mediaType, _, _ := strings.Cut(part, ";")
		switch strings.ToLower(strings.TrimSpace(mediaType)) {
		case "image/avif":
			set[models.EncodingAVIF] = true
		case "image/webp":
			set[models.EncodingWebP] = true
		}
	}
	return set
}

// Target is where the bytes of the chosen variant live.
type Target struct {
	Variant   models.Variant
	Key       string
	Generated bool
}

type Negotiator struct {
	catalog   *Catalog
	generator *Generator
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewNegotiator(catalog *Catalog, generator *Generator, m *metrics.Metrics, log *slog.Logger) *Negotiator {
	return &Negotiator{catalog: catalog, generator: generator, metrics: m, log: log}
}

// Resolve picks the variant of img at width x height to serve. requested is
// "auto", "original" or an encoding name. Only auto and original may fall
// through to inline generation; an explicitly requested encoding that does
// not exist yet is ErrVariantNotAvailable.
func (n *Negotiator) Resolve(ctx context.Context, img *models.Image, width, height int, requested string, accepted AcceptSet) (*Target, error) {
	const op = "images.Resolve"

	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%s: size %dx%d: %w", op, width, height, models.ErrBadRequest)
	}

	variants, err := n.catalog.Find(ctx, img.ID, width, height)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var order []models.Encoding
	switch requested {
	case ModeAuto:
		order = autoPreference
	case ModeOriginal:
		order = originalPreference
	default:
		order = []models.Encoding{models.Encoding(requested)}
	}

	byEncoding := make(map[models.Encoding]models.Variant, len(variants))
	for _, v := range variants {
		byEncoding[v.Encoding] = v
	}

	candidates := 0
	for _, enc := range order {
		if _, ok := byEncoding[enc]; ok {
			candidates++
		}
	}

	if candidates == 0 {
		if requested != ModeAuto && requested != ModeOriginal {
			n.metrics.ObserveResolution("explicit", "not_available")
			return nil, fmt.Errorf("%s: %s at %dx%d: %w", op, requested, width, height, models.ErrVariantNotAvailable)
		}

		v, err := n.generator.Generate(ctx, img, width, height)
		if err != nil {
			n.metrics.ObserveResolution(requested, "failed")
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		n.metrics.ObserveResolution(requested, "generated")
		return &Target{Variant: *v, Key: v.Key(), Generated: true}, nil
	}

	for _, enc := range order {
		if requested == ModeAuto && (enc == models.EncodingAVIF || enc == models.EncodingWebP) && !accepted[enc] {
			continue
		}
		v, ok := byEncoding[enc]
		if !ok {
			continue
		}
		n.metrics.ObserveResolution(modeLabel(requested), "existing")
		return &Target{Variant: v, Key: v.Key()}, nil
	}

	n.metrics.ObserveResolution(modeLabel(requested), "not_found")
	return nil, fmt.Errorf("%s: no servable variant at %dx%d: %w", op, width, height, models.ErrNotFound)
}

func modeLabel(requested string) string {
	if requested == ModeAuto || requested == ModeOriginal {
		return requested
	}
	return "explicit"
}
