package consumer_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/okian/facewatch/internal/adapters/mq/consumer"
	"github.com/okian/facewatch/internal/adapters/mq/queue"
	"github.com/okian/facewatch/internal/domain/face"
	logging "github.com/okian/facewatch/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

type mockUploader struct {
	mu    sync.Mutex
	sizes []image.Rectangle
	fail  map[int]error // fails the nth upload (0-based)
	block chan struct{} // when set, uploads wait for it or ctx
	// blockFrom is the first upload (0-based) that waits on block.
	blockFrom int
	calls     int
}

func (m *mockUploader) Upload(ctx context.Context, crop image.Image) (string, error) {
	m.mu.Lock()
	n := m.calls
	m.calls++
	block := m.block
	m.mu.Unlock()

	if block != nil && n >= m.blockFrom {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[n]; ok {
		return "", err
	}
	m.sizes = append(m.sizes, crop.Bounds())
	return "id", nil
}

func (m *mockUploader) uploaded() []image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]image.Rectangle(nil), m.sizes...)
}

func pngFrame(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func fixedBoxes(rs ...image.Rectangle) *face.Extractor {
	return face.NewExtractor(face.DetectorFunc(func(context.Context, image.Image) ([]image.Rectangle, error) {
		return rs, nil
	}))
}

// runUntilDrained publishes frames, closes the queue and runs the consumer
// until it returns.
func runUntilDrained(c *consumer.Consumer, q *queue.InMemoryQueue) error {
	_ = q.Close()
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		return errors.New("consumer did not finish")
	}
}

func TestConsumer(t *testing.T) {
	convey.Convey("Given a consumer on an in-memory queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue()
		up := &mockUploader{fail: map[int]error{}}

		convey.Convey("When a frame has two faces", func() {
			c := consumer.New(q, fixedBoxes(image.Rect(0, 0, 10, 10), image.Rect(20, 20, 60, 60)), up)
			convey.So(q.Publish(ctx, pngFrame(50, 50), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.Convey("Then both clipped crops are uploaded and the frame acked", func() {
				convey.So(up.uploaded(), convey.ShouldResemble, []image.Rectangle{
					image.Rect(0, 0, 10, 10), image.Rect(20, 20, 50, 50),
				})
				convey.So(q.Inflight(), convey.ShouldEqual, 0)
				convey.So(c.Stats().Uploaded, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When a corrupt frame precedes a valid one", func() {
			c := consumer.New(q, fixedBoxes(image.Rect(0, 0, 5, 5)), up)
			convey.So(q.Publish(ctx, []byte("garbage"), 5), convey.ShouldBeNil)
			convey.So(q.Publish(ctx, pngFrame(20, 20), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.Convey("Then the corrupt one is dropped and the loop continues", func() {
				stats := c.Stats()
				convey.So(stats.Frames, convey.ShouldEqual, 2)
				convey.So(stats.Dropped, convey.ShouldEqual, 1)
				convey.So(len(up.uploaded()), convey.ShouldEqual, 1)
				convey.So(q.Inflight(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When a frame carries no bytes", func() {
			c := consumer.New(q, fixedBoxes(image.Rect(0, 0, 5, 5)), up)
			convey.So(q.Publish(ctx, nil, 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.Convey("Then it is dropped and acked without detection", func() {
				convey.So(c.Stats().Dropped, convey.ShouldEqual, 1)
				convey.So(up.calls, convey.ShouldEqual, 0)
				convey.So(q.Inflight(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When detection finds nothing", func() {
			c := consumer.New(q, fixedBoxes(), up)
			convey.So(q.Publish(ctx, pngFrame(20, 20), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.So(up.calls, convey.ShouldEqual, 0)
			convey.So(c.Stats().Frames, convey.ShouldEqual, 1)
		})

		convey.Convey("When one upload fails", func() {
			up.fail[0] = errors.New("connection refused")
			c := consumer.New(q, fixedBoxes(image.Rect(0, 0, 5, 5), image.Rect(5, 5, 10, 10)), up)
			convey.So(q.Publish(ctx, pngFrame(20, 20), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.Convey("Then the rest still upload, nothing is retried and the frame is acked", func() {
				convey.So(up.calls, convey.ShouldEqual, 2)
				convey.So(len(up.uploaded()), convey.ShouldEqual, 1)
				convey.So(c.Stats().UploadsFailed, convey.ShouldEqual, 1)
				convey.So(q.Len(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the detector is unavailable", func() {
			ext := face.NewExtractor(face.DetectorFunc(func(context.Context, image.Image) ([]image.Rectangle, error) {
				return nil, face.ErrDetectorUnavailable
			}))
			c := consumer.New(q, ext, up)
			convey.So(q.Publish(ctx, pngFrame(20, 20), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.So(c.Stats().Dropped, convey.ShouldEqual, 1)
			convey.So(up.calls, convey.ShouldEqual, 0)
		})

		convey.Convey("When detection fails softly", func() {
			ext := face.NewExtractor(face.DetectorFunc(func(context.Context, image.Image) ([]image.Rectangle, error) {
				return nil, errors.New("model hiccup")
			}))
			c := consumer.New(q, ext, up)
			convey.So(q.Publish(ctx, pngFrame(20, 20), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.Convey("Then the frame counts as zero faces, not a drop", func() {
				convey.So(c.Stats().Dropped, convey.ShouldEqual, 0)
				convey.So(up.calls, convey.ShouldEqual, 0)
				convey.So(q.Inflight(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When uploads run in parallel", func() {
			c := consumer.New(q,
				fixedBoxes(image.Rect(0, 0, 5, 5), image.Rect(5, 5, 10, 10), image.Rect(10, 10, 15, 15)),
				up, consumer.WithUploadConcurrency(3), consumer.WithName("parallel"))
			convey.So(q.Publish(ctx, pngFrame(20, 20), 1), convey.ShouldBeNil)
			convey.So(runUntilDrained(c, q), convey.ShouldBeNil)

			convey.So(len(up.uploaded()), convey.ShouldEqual, 3)
			convey.So(c.Stats().Faces, convey.ShouldEqual, 3)
		})
	})
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func stop(cancel context.CancelFunc, errc <-chan error) error {
	cancel()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		return errors.New("consumer did not stop")
	}
}

func TestConsumerInterruption(t *testing.T) {
	convey.Convey("Given a consumer blocked in detection", t, func() {
		q := queue.NewInMemoryQueue()
		up := &mockUploader{fail: map[int]error{}}
		detecting := make(chan struct{}, 1)
		ext := face.NewExtractor(face.DetectorFunc(func(ctx context.Context, _ image.Image) ([]image.Rectangle, error) {
			detecting <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		}))
		c := consumer.New(q, ext, up)
		convey.So(q.Publish(context.Background(), pngFrame(20, 20), 1), convey.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- c.Run(ctx) }()
		<-detecting

		convey.Convey("When the context is cancelled", func() {
			err := stop(cancel, errc)

			convey.Convey("Then the untouched frame is requeued for redelivery", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.Len(), convey.ShouldEqual, 1)
				convey.So(q.Inflight(), convey.ShouldEqual, 0)
				convey.So(c.Stats().Requeued, convey.ShouldEqual, 1)
				convey.So(up.calls, convey.ShouldEqual, 0)
			})
		})
	})

	convey.Convey("Given a two-face frame whose second upload hangs", t, func() {
		q := queue.NewInMemoryQueue()
		up := &mockUploader{fail: map[int]error{}, block: make(chan struct{}), blockFrom: 1}
		boxes := fixedBoxes(image.Rect(0, 0, 5, 5), image.Rect(10, 10, 15, 15))
		c := consumer.New(q, boxes, up)
		convey.So(q.Publish(context.Background(), pngFrame(20, 20), 1), convey.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- c.Run(ctx) }()
		waitFor(func() bool {
			up.mu.Lock()
			defer up.mu.Unlock()
			return up.calls == 2
		})

		convey.Convey("When the context is cancelled", func() {
			err := stop(cancel, errc)

			convey.Convey("Then the frame is acked and the second crop is lost", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(q.Len(), convey.ShouldEqual, 0)
				convey.So(q.Inflight(), convey.ShouldEqual, 0)
				stats := c.Stats()
				convey.So(stats.Requeued, convey.ShouldEqual, 0)
				convey.So(stats.Uploaded, convey.ShouldEqual, 1)
				convey.So(stats.Lost, convey.ShouldEqual, 1)
			})

			convey.Convey("And draining the queue with a fresh consumer uploads nothing twice", func() {
				again := &mockUploader{fail: map[int]error{}}
				convey.So(runUntilDrained(consumer.New(q, boxes, again), q), convey.ShouldBeNil)
				convey.So(again.calls, convey.ShouldEqual, 0)
				convey.So(up.uploaded(), convey.ShouldResemble, []image.Rectangle{image.Rect(0, 0, 5, 5)})
			})
		})
	})

	convey.Convey("Given parallel uploads where one hangs", t, func() {
		q := queue.NewInMemoryQueue()
		up := &mockUploader{fail: map[int]error{}, block: make(chan struct{}), blockFrom: 1}
		c := consumer.New(q,
			fixedBoxes(image.Rect(0, 0, 5, 5), image.Rect(10, 10, 15, 15)),
			up, consumer.WithUploadConcurrency(2))
		convey.So(q.Publish(context.Background(), pngFrame(20, 20), 1), convey.ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- c.Run(ctx) }()
		waitFor(func() bool { return len(up.uploaded()) == 1 })
		waitFor(func() bool {
			up.mu.Lock()
			defer up.mu.Unlock()
			return up.calls == 2
		})

		convey.Convey("When the context is cancelled", func() {
			convey.So(stop(cancel, errc), convey.ShouldBeNil)

			convey.Convey("Then the frame is acked, not requeued", func() {
				convey.So(q.Len(), convey.ShouldEqual, 0)
				convey.So(c.Stats().Requeued, convey.ShouldEqual, 0)
				convey.So(c.Stats().Lost, convey.ShouldEqual, 1)
			})
		})
	})
}

func TestConsumerShutdown(t *testing.T) {
	convey.Convey("Given an idle running consumer", t, func() {
		q := queue.NewInMemoryQueue()
		c := consumer.New(q, fixedBoxes(), &mockUploader{})
		go func() { _ = c.Run(context.Background()) }()
		time.Sleep(10 * time.Millisecond)

		convey.Convey("When Shutdown is called", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			convey.So(c.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(c.Shutdown(ctx), convey.ShouldBeNil)
		})
	})
}
