package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/facewatch/internal/config"
	"github.com/okian/facewatch/pkg/logger"
	"github.com/okian/facewatch/pkg/metrics"
)

// app carries what every subcommand needs once the root has initialised.
type app struct {
	cfg *config.Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	var (
		a          = &app{}
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:           "facewatch",
		Short:         "Detect faces in queued frames and stream them to live viewers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv("FACEWATCH_CONFIG", configPath); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
				return err
			}
			a.log = logger.Get()

			// Apply configured log level (fallback to info on invalid input)
			if err := logger.SetLevelString(cfg.LogLevel); err != nil {
				a.log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
				_ = logger.SetLevelString("info")
			}
			metrics.SetEnabled(cfg.Metrics.Enabled)
			metrics.SetRefreshInterval(cfg.Metrics.RefreshInterval)

			a.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides FACEWATCH_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newConsumeCmd(a),
		newRunCmd(a),
		newPublishCmd(a),
	)
	return root
}
