// Package haar detects faces with an OpenCV Haar cascade through gocv.
package haar

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/okian/facewatch/internal/domain/face"
)

// Detector runs a CascadeClassifier. gocv classifiers are not safe for
// concurrent use, so calls are serialised.
type Detector struct {
	mu         sync.Mutex
	classifier *gocv.CascadeClassifier
}

// New loads the cascade XML at path, e.g. haarcascade_frontalface_default.xml.
func New(path string) (*Detector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		_ = c.Close()
		return nil, fmt.Errorf("%w: load cascade %s", face.ErrDetectorUnavailable, path)
	}
	return &Detector{classifier: &c}, nil
}

// Detect implements face.Detector.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert to mat: %w", err)
	}
	defer func() { _ = mat.Close() }()

	gray := gocv.NewMat()
	defer func() { _ = gray.Close() }()
	gocv.CvtColor(mat, &gray, gocv.ColorRGBToGray)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.classifier == nil {
		return nil, face.ErrDetectorUnavailable
	}
	rects := d.classifier.DetectMultiScale(gray)

	off := img.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(off)
	}
	return rects, nil
}

// Close releases the classifier.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.classifier == nil {
		return nil
	}
	err := d.classifier.Close()
	d.classifier = nil
	return err
}
