package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/facewatch/internal/adapters/mq/consumer"
	"github.com/okian/facewatch/internal/adapters/mq/queue"
	"github.com/okian/facewatch/internal/config"
	"github.com/okian/facewatch/internal/domain/face"
	"github.com/okian/facewatch/pkg/logger"
)

func newConsumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Pull frames from the broker, detect faces and upload the crops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.Broker.Driver == config.BrokerMemory {
				a.log.Warn(ctx, "consuming from an in-memory broker; nothing outside this process can publish")
			}
			b, err := openBroker(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("open broker: %w", err)
			}
			defer func() { _ = b.Close() }()
			return runConsume(ctx, a, b)
		},
	}
}

// runConsume processes frames from source until ctx is cancelled. On
// cancellation the in-flight frame gets shutdownTimeout to finish before it
// is interrupted and requeued.
func runConsume(ctx context.Context, a *app, source queue.Source) error {
	log := a.log.Named("consume")

	det, err := openDetector(a.cfg)
	if err != nil {
		return fmt.Errorf("open detector: %w", err)
	}
	defer func() { _ = det.Close() }()

	c := consumer.New(source,
		face.NewExtractor(det, face.WithMinSize(a.cfg.Detector.MinSize)),
		newUploader(a.cfg),
		consumer.WithName(a.cfg.Broker.Queue),
		consumer.WithLogger(a.log.Named("consumer")),
		consumer.WithUploadConcurrency(a.cfg.Upload.Concurrency),
	)

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(runCtx) }()

	select {
	case err := <-errCh:
		logConsumerStats(ctx, log, c.Stats())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "interrupting in-flight frame", logger.Error(err))
		cancelRun()
	}
	err = <-errCh
	logConsumerStats(ctx, log, c.Stats())
	return err
}

func logConsumerStats(ctx context.Context, log logger.Logger, s consumer.Stats) {
	log.Info(ctx, "consumer stopped",
		logger.Any("frames", s.Frames),
		logger.Any("dropped", s.Dropped),
		logger.Any("requeued", s.Requeued),
		logger.Any("faces", s.Faces),
		logger.Any("uploaded", s.Uploaded),
		logger.Any("uploads_failed", s.UploadsFailed),
		logger.Any("lost", s.Lost),
	)
}
