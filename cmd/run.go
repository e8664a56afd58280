package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/facewatch/internal/adapters/http/api"
	"github.com/okian/facewatch/internal/config"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion service and the frame consumer in one process",
		Long: "Run the ingestion service and the frame consumer in one process.\n" +
			"With broker.driver=memory, frames are accepted on POST /frames.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := openBroker(ctx, a.cfg)
			if err != nil {
				return fmt.Errorf("open broker: %w", err)
			}
			defer func() { _ = b.Close() }()

			var frames api.FramePublisher
			if a.cfg.Broker.Driver == config.BrokerMemory {
				frames = b
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return runServe(gctx, a, frames) })
			g.Go(func() error { return runConsume(gctx, a, b) })
			return g.Wait()
		},
	}
}
