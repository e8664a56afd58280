package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/facewatch/internal/adapters/http/api"
	"github.com/okian/facewatch/internal/adapters/http/swagger"
	"github.com/okian/facewatch/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, nil)
		},
	}
}

// runServe serves the ingestion API until ctx is cancelled. A non-nil
// frames publisher enables POST /frames.
func runServe(ctx context.Context, a *app, frames api.FramePublisher) error {
	log := a.log.Named("serve")

	store, err := openStore(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	svc := newService(a.cfg, store, a.log)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop(context.Background())

	go startSystemMetricsUpdater(ctx)

	opts := []api.Option{
		api.WithMaxUploadBytes(a.cfg.MaxUploadBytes),
		api.WithLogger(a.log.Named("api")),
	}
	if frames != nil {
		opts = append(opts, api.WithFramePublisher(frames))
	}
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, opts...).Register(ctx, mux)

	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", a.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Websocket viewers are hijacked and untracked by Shutdown; Stop closes them.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	svc.Stop(shutdownCtx)

	log.Info(ctx, "server stopped")
	return nil
}
