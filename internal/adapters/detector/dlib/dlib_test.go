package dlib_test

import (
	"context"
	"errors"
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okian/facewatch/internal/adapters/detector/dlib"
	"github.com/okian/facewatch/internal/domain/face"
)

func TestNewMissingModels(t *testing.T) {
	_, err := dlib.New(t.TempDir())
	require.Error(t, err)
	require.True(t, errors.Is(err, face.ErrDetectorUnavailable))
}

func TestDetectBlankImage(t *testing.T) {
	dir := os.Getenv("FACEWATCH_TEST_DLIB_MODELS")
	if dir == "" {
		t.Skip("FACEWATCH_TEST_DLIB_MODELS not set")
	}
	d, err := dlib.New(dir)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	boxes, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)))
	require.NoError(t, err)
	require.Empty(t, boxes)

	require.NoError(t, d.Close())
	_, err = d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.ErrorIs(t, err, face.ErrDetectorUnavailable)
}
