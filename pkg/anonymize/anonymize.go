// Package anonymize applies visual redactions (blur, pixelate, mask) to
// detected regions of a frame. Pixels outside every clamped bounding box
// are left bit-identical to the input.
package anonymize

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"

	"github.com/mediamask/mediamask/pkg/models"
)

// maskColor fills masked regions. Solid black, matching the usual
// redaction look.
var maskColor = color.NRGBA{R: 0, G: 0, B: 0, A: 255}

// Apply redacts every detection region in place. Boxes are processed in
// detection-list order, so a pixel covered by several boxes ends up with
// the last box's redaction.
func Apply(frame *models.Frame, detections []models.Detection, opts models.JobOptions) error {
	for _, det := range detections {
		box := det.Box.Clamp(frame.Width(), frame.Height())
		if box.Empty() {
			continue
		}
		switch opts.Method {
		case models.MethodBlur:
			blurRegion(frame.Img, box, opts.BlurKernelSize)
		case models.MethodPixelate:
			pixelateRegion(frame.Img, box, opts.PixelateBlocks)
		case models.MethodMask:
			maskRegion(frame.Img, box)
		default:
			return fmt.Errorf("invalid anonymization method: %s", opts.Method)
		}
	}
	return nil
}

// regionRect converts a clamped box to an image.Rectangle in img space
func regionRect(box models.BBox) image.Rectangle {
	return image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H)
}

// blurRegion applies a Gaussian blur confined to the box. The kernel
// size is normalized to the nearest odd value >= 3 and mapped to a sigma
// covering +/-3 standard deviations.
func blurRegion(img *image.NRGBA, box models.BBox, kernelSize int) {
	kernelSize = models.NormalizeKernelSize(kernelSize)
	sigma := float64(kernelSize) / 6.0

	rect := regionRect(box)
	roi := imaging.Crop(img, rect)
	blurred := imaging.Blur(roi, sigma)
	draw.Draw(img, rect, blurred, image.Point{}, draw.Src)
}

// pixelateRegion downsamples the box to a blocks x blocks grid and
// scales it back with nearest-neighbor, producing visible blocking.
func pixelateRegion(img *image.NRGBA, box models.BBox, blocks int) {
	if blocks < 2 {
		blocks = 2
	}

	rect := regionRect(box)
	roi := imaging.Crop(img, rect)
	small := imaging.Resize(roi, blocks, blocks, imaging.Linear)
	pixelated := imaging.Resize(small, box.W, box.H, imaging.NearestNeighbor)
	draw.Draw(img, rect, pixelated, image.Point{}, draw.Src)
}

// maskRegion fills the box with a solid color
func maskRegion(img *image.NRGBA, box models.BBox) {
	draw.Draw(img, regionRect(box), image.NewUniform(maskColor), image.Point{}, draw.Src)
}
