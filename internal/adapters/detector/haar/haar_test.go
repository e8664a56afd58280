package haar_test

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okian/facewatch/internal/adapters/detector/haar"
	"github.com/okian/facewatch/internal/domain/face"
)

func TestNewMissingCascade(t *testing.T) {
	_, err := haar.New(filepath.Join(t.TempDir(), "missing.xml"))
	require.ErrorIs(t, err, face.ErrDetectorUnavailable)
}

func TestDetectBlankImage(t *testing.T) {
	path := os.Getenv("FACEWATCH_TEST_HAAR_CASCADE")
	if path == "" {
		t.Skip("FACEWATCH_TEST_HAAR_CASCADE not set")
	}
	d, err := haar.New(path)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	boxes, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)
	require.Empty(t, boxes)
}
