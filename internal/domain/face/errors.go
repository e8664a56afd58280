package face

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrDecode marks frame bytes that are not a decodable image.
	ErrDecode = errors.New("frame decode failed")
	// ErrDetection wraps every error returned by a Detector.
	ErrDetection = errors.New("face detection failed")
	// ErrDetectorUnavailable is returned by detectors that cannot run at all,
	// e.g. a missing model. Frames hitting it are dropped rather than treated
	// as containing no faces.
	ErrDetectorUnavailable = errors.New("face detector unavailable")
)
