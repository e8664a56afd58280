package main

import (
	"context"
	"fmt"
	"io"

	"github.com/okian/facewatch/internal/adapters/detector/dlib"
	"github.com/okian/facewatch/internal/adapters/detector/haar"
	"github.com/okian/facewatch/internal/adapters/hub"
	"github.com/okian/facewatch/internal/adapters/mq/queue"
	"github.com/okian/facewatch/internal/adapters/repository"
	"github.com/okian/facewatch/internal/adapters/upload"
	service "github.com/okian/facewatch/internal/app"
	"github.com/okian/facewatch/internal/config"
	"github.com/okian/facewatch/internal/domain/face"
	"github.com/okian/facewatch/pkg/logger"
)

// broker is a frame queue usable from both ends.
type broker interface {
	queue.Source
	Publish(ctx context.Context, data []byte, priority uint8) error
}

// detector is a face.Detector holding native resources.
type detector interface {
	face.Detector
	io.Closer
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		return repository.NewPGStore(ctx, cfg.Store.Postgres.DSN(),
			repository.WithMaxConns(cfg.Store.Postgres.MaxConns))
	case config.StoreSQLite:
		return repository.NewSQLiteStore(cfg.Store.SQLite.Path,
			repository.WithBusyTimeout(cfg.Store.SQLite.BusyTimeout))
	case config.StoreMemory:
		return repository.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("%w: store.driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
	}
}

func openBroker(ctx context.Context, cfg *config.Config) (broker, error) {
	b := cfg.Broker
	switch b.Driver {
	case config.BrokerAMQP:
		return queue.DialAMQP(ctx, b.AMQP.URL(),
			queue.WithQueueName(b.Queue),
			queue.WithPriority(b.Priority, b.MaxPriority),
			queue.WithPrefetch(b.Prefetch),
			queue.WithDurable(b.Durable),
		)
	case config.BrokerMemory:
		return queue.NewInMemoryQueue(
			queue.WithCapacity(b.BufferSize),
			queue.WithMaxPriority(b.MaxPriority),
		), nil
	default:
		return nil, fmt.Errorf("%w: broker.driver %q", config.ErrInvalidConfig, b.Driver)
	}
}

func openDetector(cfg *config.Config) (detector, error) {
	switch cfg.Detector.Driver {
	case config.DetectorDlib:
		var opts []dlib.Option
		if cfg.Detector.CNN {
			opts = append(opts, dlib.WithCNN())
		}
		return dlib.New(cfg.Detector.ModelDir, opts...)
	case config.DetectorHaar:
		if cfg.Detector.CascadePath == "" {
			return nil, fmt.Errorf("%w: detector.cascade_path is required for haar", config.ErrInvalidConfig)
		}
		return haar.New(cfg.Detector.CascadePath)
	default:
		return nil, fmt.Errorf("%w: detector.driver %q", config.ErrInvalidConfig, cfg.Detector.Driver)
	}
}

func newUploader(cfg *config.Config) *upload.Client {
	return upload.New(cfg.Ingest.URL,
		upload.WithTimeout(cfg.Upload.Timeout),
		upload.WithJPEGQuality(cfg.Upload.JPEGQuality),
	)
}

func newService(cfg *config.Config, store repository.Store, log logger.Logger) *service.Service {
	h := hub.New(
		hub.WithSendTimeout(cfg.Hub.SendTimeout),
		hub.WithSendBuffer(cfg.Hub.SendBuffer),
		hub.WithLogger(log.Named("hub")),
	)
	return service.New(store, h,
		service.WithRecentLimit(cfg.RecentLimit),
		service.WithLogger(log.Named("ingestion")),
	)
}
