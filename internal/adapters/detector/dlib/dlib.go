// Package dlib detects faces with dlib's frontal face detector through
// github.com/Kagami/go-face.
package dlib

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	goface "github.com/Kagami/go-face"

	"github.com/okian/facewatch/internal/domain/face"
)

// Detector wraps a go-face recognizer. The underlying dlib objects are not
// safe for concurrent use, so calls are serialised.
type Detector struct {
	mu  sync.Mutex
	rec *goface.Recognizer
	cnn bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithCNN switches from the HOG detector to the CNN detector. It needs
// mmod_human_face_detector.dat in the model directory.
func WithCNN() Option {
	return func(d *Detector) { d.cnn = true }
}

// New loads the dlib models from modelDir.
func New(modelDir string, opts ...Option) (*Detector, error) {
	rec, err := goface.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: load dlib models from %s: %v", face.ErrDetectorUnavailable, modelDir, err)
	}
	d := &Detector{rec: rec}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Detect implements face.Detector. go-face only reads JPEG, so the image is
// re-encoded before detection.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode for dlib: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		return nil, face.ErrDetectorUnavailable
	}

	var (
		faces []goface.Face
		err   error
	)
	if d.cnn {
		faces, err = d.rec.RecognizeCNN(buf.Bytes())
	} else {
		faces, err = d.rec.Recognize(buf.Bytes())
	}
	if err != nil {
		return nil, err
	}

	// go-face reports rectangles relative to a zero-origin image.
	off := img.Bounds().Min
	out := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		out = append(out, f.Rectangle.Add(off))
	}
	return out, nil
}

// Close frees the dlib models.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
