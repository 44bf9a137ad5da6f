// Package simulate implements the visual simulation pipeline: validate
// the customer's photo, compute a paintable-region mask, normalize the
// paint description for the image-edit provider, and produce a
// composite. Images travel as opaque handles through an in-memory
// store; raw bytes never reach model context.
package simulate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	_ "image/jpeg" // register decoders for DecodeConfig/Decode
)

// Sentinel errors.
var (
	// ErrInvalidImage indicates a payload that is not a usable photo:
	// wrong format, oversized, or undecodable. Never retried.
	ErrInvalidImage = errors.New("invalid image")

	// ErrImageNotFound indicates an unknown or expired image handle.
	ErrImageNotFound = errors.New("image not found")

	// ErrSimulationFailed indicates the provider could not produce a
	// composite after retries.
	ErrSimulationFailed = errors.New("simulation failed")
)

// Image dimension ceiling; anything larger is rejected as invalid
// rather than resized.
const maxImageDimension = 8192

// ValidateImage checks that data is a PNG or JPEG within the byte and
// dimension ceilings. Returns the detected format.
func ValidateImage(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInvalidImage, len(data), maxBytes)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: undecodable payload: %v", ErrInvalidImage, err)
	}
	if format != "png" && format != "jpeg" {
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, format)
	}
	if cfg.Width < 1 || cfg.Height < 1 || cfg.Width > maxImageDimension || cfg.Height > maxImageDimension {
		return "", fmt.Errorf("%w: dimensions %dx%d out of range", ErrInvalidImage, cfg.Width, cfg.Height)
	}
	return format, nil
}

// WallMask computes a paintable-region mask with a single luminance
// pass: large bright areas (walls, ceilings) go white (editable),
// darker regions (furniture, frames, shadows) go black. The provider's
// own segmentation refines the selection; the mask keeps it away from
// obviously unpaintable regions.
func WallMask(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	mask := image.NewGray(bounds)

	// First pass: mean luminance.
	var sum, count uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum += uint64(luminance(img.At(x, y)))
			count++
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	mean := sum / count

	// Second pass: threshold at 80% of the mean, so dim but uniform
	// walls still count as paintable.
	threshold := mean * 8 / 10
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if uint64(luminance(img.At(x, y))) >= threshold {
				mask.SetGray(x, y, color.Gray{Y: 255})
			} else {
				mask.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, mask); err != nil {
		return nil, fmt.Errorf("encoding mask: %w", err)
	}
	return buf.Bytes(), nil
}

// luminance returns the Rec. 601 luma of a pixel, in 16-bit range.
func luminance(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (299*r + 587*g + 114*b) / 1000
}
