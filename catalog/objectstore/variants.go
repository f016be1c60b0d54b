// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package objectstore

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Variant names a resized encoding of a photo.
type Variant string

// The variant set, ordered smallest to largest.
const (
	VariantThumbnail Variant = "thumbnail"
	VariantSmall     Variant = "small"
	VariantMedium    Variant = "medium"
	VariantLarge     Variant = "large"
	VariantOriginal  Variant = "original"
)

// AllVariants lists every variant in upload order.
var AllVariants = []Variant{
	VariantThumbnail, VariantSmall, VariantMedium, VariantLarge, VariantOriginal,
}

// EssentialVariants is the fallback subset uploaded when the full set
// would overrun the remaining budget.
var EssentialVariants = []Variant{
	VariantThumbnail, VariantMedium, VariantOriginal,
}

type variantSpec struct {
	maxWidth  int
	maxHeight int
	quality   int
}

// The variant table is contractual; changing it invalidates
// already-uploaded keys.
var variantSpecs = map[Variant]variantSpec{
	VariantThumbnail: {maxWidth: 150, maxHeight: 150, quality: 70},
	VariantSmall:     {maxWidth: 320, maxHeight: 240, quality: 75},
	VariantMedium:    {maxWidth: 640, maxHeight: 480, quality: 80},
	VariantLarge:     {maxWidth: 1024, maxHeight: 768, quality: 85},
	VariantOriginal:  {quality: 90},
}

// Key returns the deterministic object key for a photo variant.
// Originals carry no suffix.
func Key(businessID, photoID string, variant Variant) string {
	if variant == VariantOriginal {
		return fmt.Sprintf("businesses/%s/photos/%s.jpg", businessID, photoID)
	}
	return fmt.Sprintf("businesses/%s/photos/%s-%s.jpg", businessID, photoID, variant)
}

// ProcessVariant decodes the image honoring EXIF orientation, resizes
// it to fit inside the variant's bounding box without upscaling, and
// re-encodes it as JPEG at the variant's quality.
func ProcessVariant(data []byte, variant Variant) (_ []byte, width, height int, err error) {
	spec, ok := variantSpecs[variant]
	if !ok {
		return nil, 0, 0, Error.New("unknown variant %q", variant)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, Error.New("decode failed: %v", err)
	}

	if spec.maxWidth > 0 && spec.maxHeight > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > spec.maxWidth || bounds.Dy() > spec.maxHeight {
			img = imaging.Fit(img, spec.maxWidth, spec.maxHeight, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(spec.quality)); err != nil {
		return nil, 0, 0, Error.New("encode failed: %v", err)
	}

	bounds := img.Bounds()
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}
