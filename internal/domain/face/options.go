package face

// Option configures an Extractor.
type Option func(*Extractor)

// WithMinSize drops detections narrower or shorter than px pixels after
// clamping. Zero disables the filter.
func WithMinSize(px int) Option {
	return func(e *Extractor) {
		if px >= 0 {
			e.minSize = px
		}
	}
}
