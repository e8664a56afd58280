package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/facewatch/internal/config"
	"github.com/okian/facewatch/internal/domain/face"
	"github.com/okian/facewatch/pkg/logger"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		priority uint8
		repeat   int
		check    bool
	)

	cmd := &cobra.Command{
		Use:   "publish FILE...",
		Short: "Push image files onto the frame queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			ctx := cmd.Context()
			log := a.log.Named("publish")
			if a.cfg.Broker.Driver == config.BrokerMemory {
				return fmt.Errorf("%w: publish needs a shared broker, not %q", config.ErrInvalidConfig, config.BrokerMemory)
			}

			frames := make([][]byte, 0, len(files))
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				if check {
					_, format, err := face.Decode(data)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					log.Debug(ctx, "frame decoded", logger.String("file", path), logger.String("format", format))
				}
				frames = append(frames, data)
			}

			b, err := openBroker(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("open broker: %w", err)
			}
			defer func() { _ = b.Close() }()

			published := 0
			for i := 0; i < repeat; i++ {
				for j, data := range frames {
					if err := b.Publish(ctx, data, priority); err != nil {
						return fmt.Errorf("publish %s: %w", files[j], err)
					}
					published++
				}
			}
			log.Info(ctx, "frames published",
				logger.Int("count", published),
				logger.Uint8("priority", priority),
				logger.String("queue", a.cfg.Broker.Queue),
			)
			return nil
		},
	}

	cmd.Flags().Uint8VarP(&priority, "priority", "p", 0, "message priority, clamped to broker.max_priority")
	cmd.Flags().IntVarP(&repeat, "repeat", "n", 1, "publish every file this many times")
	cmd.Flags().BoolVar(&check, "check", true, "refuse files that do not decode as images")
	return cmd
}
