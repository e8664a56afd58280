package upload

import "errors"

// ErrUpload marks any failed crop upload: transport error, non-200 status
// or an unreadable response.
var ErrUpload = errors.New("face upload failed")
