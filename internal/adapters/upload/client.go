// Package upload sends face crops to the ingestion service over HTTP.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default upload configuration constants.
const (
	defaultTimeout = 10 * time.Second
	defaultQuality = 90

	// FieldName and FileName match what POST /upload_face reads.
	FieldName = "file"
	FileName  = "face.jpg"

	// RequestIDHeader correlates consumer and service logs for one upload.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 1 << 16
)

// Client uploads crops to <base>/upload_face.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	quality  int
}

// New builds a client for the ingestion service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/upload_face",
		http:     &http.Client{},
		timeout:  defaultTimeout,
		quality:  defaultQuality,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	FaceID string `json:"face_id"`
}

// Upload encodes crop as JPEG and posts it. No retries happen here; every
// failure wraps ErrUpload.
func (c *Client) Upload(ctx context.Context, crop image.Image) (string, error) {
	var img bytes.Buffer
	if err := jpeg.Encode(&img, crop, &jpeg.Options{Quality: c.quality}); err != nil {
		return "", fmt.Errorf("%w: encode jpeg: %v", ErrUpload, err)
	}
	return c.UploadBytes(ctx, img.Bytes())
}

// UploadBytes posts already-encoded JPEG bytes.
func (c *Client) UploadBytes(ctx context.Context, data []byte) (string, error) {
	body, contentType, err := multipartBody(data)
	if err != nil {
		return "", fmt.Errorf("%w: build form: %v", ErrUpload, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUpload, resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpload, err)
	}
	if out.FaceID == "" {
		return "", fmt.Errorf("%w: response has no face_id", ErrUpload)
	}
	return out.FaceID, nil
}

func multipartBody(data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldName, FileName))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
