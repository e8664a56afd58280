package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/okian/facewatch/internal/adapters/hub"
	"github.com/okian/facewatch/internal/adapters/repository"
	service "github.com/okian/facewatch/internal/app"
	"github.com/okian/facewatch/internal/domain/model"
	"github.com/okian/facewatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// brokenStore fails every operation.
type brokenStore struct{ repository.Store }

var errDisk = errors.New("disk on fire")

func (brokenStore) Insert(context.Context, model.FaceRecord) error { return errDisk }
func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errDisk }
func (brokenStore) ListRecent(context.Context, int) ([]string, error) {
	return nil, errDisk
}
func (brokenStore) Count(context.Context) (int, error) { return 0, errDisk }
func (brokenStore) Close() error { return nil }

// recordingConn is a viewer that remembers what it was sent.
type recordingConn struct {
	mu     sync.Mutex
	msgs   []string
	closed chan struct{}
	once   sync.Once
}

func newRecordingConn() *recordingConn { return &recordingConn{closed: make(chan struct{})} }

func (c *recordingConn) Send(msg string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingConn) Receive() error {
	<-c.closed
	return errors.New("closed")
}

func (c *recordingConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *recordingConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

// subscribe attaches conn through the service and waits until it is live.
func subscribe(ctx context.Context, svc *service.Service, h *hub.Hub, conn hub.Conn) {
	before := h.Count()
	go func() { _ = svc.Subscribe(ctx, conn) }()
	deadline := time.Now().Add(time.Second)
	for h.Count() == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(repository.NewMemStore(), hub.New())
		ctx := context.Background()

		Convey("When it has not been started", func() {
			_, err := svc.Upload(ctx, []byte("x"))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)

			stats, err := svc.GetStats(ctx)
			So(err, ShouldBeNil)
			So(stats.Started, ShouldBeFalse)
		})

		Convey("When started and stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			stats, err := svc.GetStats(ctx)
			So(err, ShouldBeNil)
			So(stats.Started, ShouldBeTrue)
			So(stats.RecentLimit, ShouldEqual, 5)

			svc.Stop(ctx)
			svc.Stop(ctx)
			stats, _ = svc.GetStats(ctx)
			So(stats.Started, ShouldBeFalse)
		})
	})
}

func TestService_Upload(t *testing.T) {
	Convey("Given a started service with one viewer", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := hub.New()
		n := 0
		svc := service.New(repository.NewMemStore(), h,
			service.WithIDGenerator(func() string { n++; return fmt.Sprintf("face-%d", n) }),
			service.WithStatsInterval(10*time.Millisecond),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(context.Background())

		viewer := newRecordingConn()
		subscribe(ctx, svc, h, viewer)
		So(h.Count(), ShouldEqual, 1)

		Convey("When uploading an image", func() {
			img := []byte{0xff, 0xd8, 0x01, 0x02}
			id, err := svc.Upload(ctx, img)

			Convey("Then it is retrievable byte for byte and announced", func() {
				So(err, ShouldBeNil)
				So(id, ShouldEqual, "face-1")

				got, err := svc.GetFace(ctx, id)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, img)

				So(waitFor(func() bool { return len(viewer.messages()) == 1 }), ShouldBeTrue)
				So(viewer.messages(), ShouldResemble, []string{"face-1"})
			})
		})

		Convey("When uploading an empty payload", func() {
			_, err := svc.Upload(ctx, nil)

			Convey("Then it is rejected and nobody is notified", func() {
				So(errors.Is(err, service.ErrEmptyImage), ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				So(viewer.messages(), ShouldBeEmpty)
			})
		})

		Convey("When uploading three faces", func() {
			for i := 0; i < 3; i++ {
				_, err := svc.Upload(ctx, []byte{byte(i + 1)})
				So(err, ShouldBeNil)
			}

			Convey("Then they are listed newest first", func() {
				ids, err := svc.ListRecent(ctx, 0)
				So(err, ShouldBeNil)
				So(ids, ShouldResemble, []string{"face-3", "face-2", "face-1"})
			})

			Convey("Then the count shows in stats", func() {
				stats, err := svc.GetStats(ctx)
				So(err, ShouldBeNil)
				So(stats.Faces, ShouldEqual, 3)
				So(stats.Viewers, ShouldEqual, 1)
			})
		})

		Convey("When more than the limit were uploaded", func() {
			for i := 0; i < 7; i++ {
				_, err := svc.Upload(ctx, []byte{byte(i + 1)})
				So(err, ShouldBeNil)
			}
			ids, err := svc.ListRecent(ctx, 0)
			So(err, ShouldBeNil)
			So(len(ids), ShouldEqual, 5)
			So(ids[0], ShouldEqual, "face-7")
		})

		Convey("When asking for an unknown id", func() {
			_, err := svc.GetFace(ctx, "nope")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_DefaultIDs(t *testing.T) {
	Convey("Given a started service with the default id generator", t, func() {
		ctx := context.Background()
		svc := service.New(repository.NewMemStore(), hub.New())
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)

		Convey("When uploading concurrently", func() {
			const uploads = 50
			var (
				mu   sync.Mutex
				wg   sync.WaitGroup
				ids  = make(map[string][]byte, uploads)
				errs []error
			)
			for i := 0; i < uploads; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					img := []byte(fmt.Sprintf("face-%d", i))
					id, err := svc.Upload(ctx, img)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					ids[id] = img
				}(i)
			}
			wg.Wait()

			Convey("Then every id is distinct and resolves to its own bytes", func() {
				So(errs, ShouldBeEmpty)
				So(len(ids), ShouldEqual, uploads)
				for id, img := range ids {
					_, err := uuid.Parse(id)
					So(err, ShouldBeNil)
					got, err := svc.GetFace(ctx, id)
					So(err, ShouldBeNil)
					So(got, ShouldResemble, img)
				}
			})
		})
	})
}

func TestService_StorageFailure(t *testing.T) {
	Convey("Given a service whose store is failing", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := hub.New()
		svc := service.New(brokenStore{}, h)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(context.Background())

		viewer := newRecordingConn()
		subscribe(ctx, svc, h, viewer)

		Convey("When uploading", func() {
			_, err := svc.Upload(ctx, []byte("img"))

			Convey("Then a storage error is returned and no notification is sent", func() {
				So(errors.Is(err, service.ErrStorage), ShouldBeTrue)
				So(errors.Is(err, errDisk), ShouldBeTrue)
				time.Sleep(20 * time.Millisecond)
				So(viewer.messages(), ShouldBeEmpty)
			})
		})

		Convey("When reading", func() {
			_, err := svc.GetFace(ctx, "A")
			So(errors.Is(err, service.ErrStorage), ShouldBeTrue)
			So(errors.Is(err, service.ErrNotFound), ShouldBeFalse)

			_, err = svc.ListRecent(ctx, 5)
			So(errors.Is(err, service.ErrStorage), ShouldBeTrue)
		})
	})
}

func TestService_Viewers(t *testing.T) {
	Convey("Given two subscribed viewers", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := hub.New()
		svc := service.New(repository.NewMemStore(), h, service.WithIDGenerator(func() string { return "A" }))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(context.Background())

		v1, v2 := newRecordingConn(), newRecordingConn()
		subscribe(ctx, svc, h, v1)
		subscribe(ctx, svc, h, v2)
		So(h.Count(), ShouldEqual, 2)

		Convey("When a face with id A is uploaded", func() {
			id, err := svc.Upload(ctx, []byte("jpeg-bytes"))
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "A")

			Convey("Then both receive A and A is listed and fetchable", func() {
				So(waitFor(func() bool { return len(v1.messages()) == 1 && len(v2.messages()) == 1 }), ShouldBeTrue)
				So(v1.messages()[0], ShouldEqual, "A")
				So(v2.messages()[0], ShouldEqual, "A")

				ids, err := svc.ListRecent(ctx, 0)
				So(err, ShouldBeNil)
				So(ids[0], ShouldEqual, "A")

				img, err := svc.GetFace(ctx, "A")
				So(err, ShouldBeNil)
				So(string(img), ShouldEqual, "jpeg-bytes")
			})
		})

		Convey("When one viewer disconnects", func() {
			_ = v1.Close()
			So(waitFor(func() bool { return h.Count() == 1 }), ShouldBeTrue)

			Convey("Then only the other is notified", func() {
				_, err := svc.Upload(ctx, []byte("x"))
				So(err, ShouldBeNil)
				So(waitFor(func() bool { return len(v2.messages()) == 1 }), ShouldBeTrue)
				So(v1.messages(), ShouldBeEmpty)
			})
		})
	})
}

func TestService_Clock(t *testing.T) {
	Convey("Given a service whose clock never advances", t, func() {
		ctx := context.Background()
		frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		n := 0
		svc := service.New(repository.NewMemStore(), hub.New(),
			service.WithClock(func() time.Time { return frozen }),
			service.WithIDGenerator(func() string { n++; return fmt.Sprintf("f%d", n) }),
			service.WithRecentLimit(2),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)

		Convey("When three faces share a timestamp", func() {
			for i := 0; i < 3; i++ {
				_, err := svc.Upload(ctx, []byte{byte(i + 1)})
				So(err, ShouldBeNil)
			}

			Convey("Then arrival order still decides recency", func() {
				ids, err := svc.ListRecent(ctx, 0)
				So(err, ShouldBeNil)
				So(ids, ShouldResemble, []string{"f3", "f2"})
				So(svc.RecentLimit(), ShouldEqual, 2)
			})
		})
	})
}
