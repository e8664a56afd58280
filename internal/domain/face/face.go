// Package face turns a decoded frame into the face crops found in it.
//
// The detection algorithm itself sits behind Detector; backends live in
// internal/adapters/detector.
package face

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"iter"
)

// Detector locates faces in an image. Rectangles are in the image's
// coordinate space and may extend past its bounds.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) ([]image.Rectangle, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	return f(ctx, img)
}

// Extractor produces face crops from frames.
type Extractor struct {
	detector Detector
	minSize  int
}

// NewExtractor builds an Extractor on top of d.
func NewExtractor(d Detector, opts ...Option) *Extractor {
	e := &Extractor{detector: d}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs detection once and returns the crops lazily, in detector
// order. Boxes are clipped to the image bounds; boxes with no overlap, or
// below the minimum size, are skipped. Zero detections yield an empty
// sequence and a nil error.
//
// Detector errors are wrapped in ErrDetection.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (iter.Seq[image.Image], error) {
	boxes, err := e.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetection, err)
	}
	bounds := img.Bounds()

	return func(yield func(image.Image) bool) {
		for _, box := range boxes {
			r := Clamp(box, bounds)
			if r.Empty() {
				continue
			}
			if e.minSize > 0 && (r.Dx() < e.minSize || r.Dy() < e.minSize) {
				continue
			}
			if !yield(Crop(img, r)) {
				return
			}
		}
	}, nil
}

// Clamp clips r to bounds. The result may be empty.
func Clamp(r, bounds image.Rectangle) image.Rectangle {
	return r.Canon().Intersect(bounds)
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Crop returns the r region of img. Images exposing SubImage share pixels
// with the source; others are copied into a fresh RGBA.
func Crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
