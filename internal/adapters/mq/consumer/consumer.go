// Package consumer turns queued frames into uploaded face crops.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/facewatch/internal/adapters/mq/queue"
	"github.com/okian/facewatch/internal/domain/face"
	"github.com/okian/facewatch/pkg/logger"
	"github.com/okian/facewatch/pkg/metrics"
)

// ErrEmptyFrame is reported for deliveries carrying no image bytes.
var ErrEmptyFrame = errors.New("empty frame")

// Extractor finds face crops in a decoded frame.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) (iter.Seq[image.Image], error)
}

// Uploader delivers one crop to the ingestion service and returns its id.
type Uploader interface {
	Upload(ctx context.Context, crop image.Image) (string, error)
}

// Stats counts what the consumer has done since it started.
type Stats struct {
	Frames        int64
	Dropped       int64
	Requeued      int64
	Faces         int64
	Uploaded      int64
	UploadsFailed int64
	// Lost counts crops abandoned because shutdown interrupted their frame
	// after its first upload had started.
	Lost int64
}

// Consumer pulls frames one at a time, extracts faces and uploads each crop.
// Every pulled frame is acknowledged once processing was attempted, whatever
// happened to its crops. A frame interrupted by cancellation before any of its
// uploads started is requeued instead.
type Consumer struct {
	source    queue.Source
	extractor Extractor
	uploader  Uploader
	name      string

	uploadConcurrency int

	frames        atomic.Int64
	dropped       atomic.Int64
	requeued      atomic.Int64
	faces         atomic.Int64
	uploaded      atomic.Int64
	uploadsFailed atomic.Int64
	lost          atomic.Int64

	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger logger.Logger
}

// New creates a consumer with configuration options.
func New(source queue.Source, extractor Extractor, uploader Uploader, opts ...Option) *Consumer {
	c := &Consumer{
		source:            source,
		extractor:         extractor,
		uploader:          uploader,
		name:              "consumer",
		uploadConcurrency: 1,
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
		logger:            logger.Get().Named("consumer"),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.name != "consumer" {
		c.logger = c.logger.Named(c.name)
	}

	return c
}

// Run processes frames until ctx is cancelled, Shutdown is called or the
// source is closed. Source errors other than closure are returned.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.done)

	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.shutdown:
			cancel()
		case <-pullCtx.Done():
		}
	}()

	c.logger.Info(ctx, "consumer started", logger.Int("upload_concurrency", c.uploadConcurrency))
	for {
		if pullCtx.Err() != nil {
			c.logger.Info(ctx, "consumer stopping")
			return nil
		}

		d, err := c.source.Pull(pullCtx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrClosed):
			c.logger.Info(ctx, "source closed, consumer stopping")
			return nil
		case pullCtx.Err() != nil:
			c.logger.Info(ctx, "consumer stopping")
			return nil
		default:
			return fmt.Errorf("pull frame: %w", err)
		}

		c.handle(ctx, d)
	}
}

// Shutdown stops pulling new frames and waits for the in-flight one.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Frames:        c.frames.Load(),
		Dropped:       c.dropped.Load(),
		Requeued:      c.requeued.Load(),
		Faces:         c.faces.Load(),
		Uploaded:      c.uploaded.Load(),
		UploadsFailed: c.uploadsFailed.Load(),
		Lost:          c.lost.Load(),
	}
}

func (c *Consumer) handle(ctx context.Context, d queue.Delivery) {
	start := time.Now()
	c.frames.Add(1)
	metrics.RecordFrameConsumed()

	frame := d.Frame()
	ctx = logger.WithFields(ctx, logger.Uint8("priority", frame.Priority))

	if c.process(ctx, frame) {
		c.requeued.Add(1)
		if err := d.Nack(true); err != nil {
			c.logger.Error(ctx, "requeue frame", logger.Error(err))
		}
		return
	}

	if err := d.Ack(); err != nil {
		c.logger.Error(ctx, "ack frame", logger.Error(err))
	}
	metrics.RecordFrameLatency(float64(time.Since(start).Milliseconds()))
}

// process reports whether the frame should be requeued. That is only the
// case when it was interrupted before any crop upload started; once one has,
// the frame is acked and crops left unsent are counted as lost so that no
// crop is ever delivered twice.
func (c *Consumer) process(ctx context.Context, frame queue.Frame) bool {
	if frame.Empty() {
		c.drop(ctx, "empty", ErrEmptyFrame)
		return false
	}
	img, format, err := face.Decode(frame.Data)
	if err != nil {
		c.drop(ctx, "decode", err)
		return false
	}

	detectStart := time.Now()
	crops, err := c.extractor.Extract(ctx, img)
	metrics.RecordDetectionLatency(float64(time.Since(detectStart).Milliseconds()))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return true
	case errors.Is(err, face.ErrDetectorUnavailable):
		c.logger.Warn(ctx, "detector unavailable, dropping frame", logger.Error(err))
		c.drop(ctx, "detect", err)
		return false
	default:
		c.logger.Debug(ctx, "detection failed, treating as no faces",
			logger.String("format", format), logger.Error(err))
		return false
	}

	var lost int64
	if c.uploadConcurrency > 1 {
		started, n := c.uploadParallel(ctx, crops)
		if !started {
			return true
		}
		lost = n
	} else {
		started := false
		for crop := range crops {
			if ctx.Err() != nil {
				if !started {
					return true
				}
				lost++
				continue
			}
			started = true
			c.faces.Add(1)
			metrics.RecordFacesDetected(1)
			if c.upload(ctx, crop) {
				lost++
			}
		}
	}

	if lost > 0 {
		c.lost.Add(lost)
		c.logger.Warn(ctx, "frame interrupted after uploads began, remaining crops lost",
			logger.Int("lost", int(lost)))
	}
	return false
}

// uploadParallel reports whether any upload started and how many crops were
// not delivered because ctx ended.
func (c *Consumer) uploadParallel(ctx context.Context, crops iter.Seq[image.Image]) (bool, int64) {
	var (
		g       errgroup.Group
		started bool
		lost    atomic.Int64
	)
	g.SetLimit(c.uploadConcurrency)

	for crop := range crops {
		if ctx.Err() != nil {
			if !started {
				break
			}
			lost.Add(1)
			continue
		}
		started = true
		c.faces.Add(1)
		metrics.RecordFacesDetected(1)
		g.Go(func() error {
			if c.upload(ctx, crop) {
				lost.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return started, lost.Load()
}

// upload sends one crop. Failures are logged and counted, never retried. It
// reports whether the failure came from cancellation.
func (c *Consumer) upload(ctx context.Context, crop image.Image) bool {
	start := time.Now()
	id, err := c.uploader.Upload(ctx, crop)
	ms := float64(time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			metrics.RecordUpload("interrupted", ms)
			return true
		}
		c.uploadsFailed.Add(1)
		metrics.RecordUpload("failure", ms)
		c.logger.Error(ctx, "upload face failed",
			logger.Int("width", crop.Bounds().Dx()),
			logger.Int("height", crop.Bounds().Dy()),
			logger.Error(err),
		)
		return false
	}
	c.uploaded.Add(1)
	metrics.RecordUpload("success", ms)
	c.logger.Debug(ctx, "face uploaded", logger.String("face_id", id))
	return false
}

func (c *Consumer) drop(ctx context.Context, reason string, err error) {
	c.dropped.Add(1)
	metrics.RecordFrameDropped(reason)
	c.logger.Warn(ctx, "frame dropped", logger.String("reason", reason), logger.Error(err))
}
