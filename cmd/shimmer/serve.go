package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/shimmer/internal/config"
	"github.com/hazyhaar/shimmer/shield"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP measurement API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8090", "listen address")
	engineFlags(cmd.Flags())
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	path, err := config.ResolvePath(a.configPath)
	if err != nil {
		return err
	}
	rt, err := a.openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	eg, egctx := errgroup.WithContext(ctx)

	// Chrome comes up in the background; /healthz reports 503 until it does.
	eg.Go(func() error {
		if err := rt.browser.Start(egctx); err != nil {
			return fmt.Errorf("serve: browser: %w", err)
		}
		a.logger.Info("shimmer: browser ready")
		return nil
	})

	if path != "" {
		eg.Go(func() error {
			return config.Watch(egctx, config.WatchConfig{
				Path:  path,
				Flags: a.flags,
				OnChange: func(cfg *config.Config) {
					rt.engine.SetAmbient(cfg.Shimmer)
				},
				Logger: a.logger,
			})
		})
	}

	srv := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: rt.engine.Router(shield.Options{
			MaxBody:    a.cfg.Server.MaxBody,
			RateLimit:  a.cfg.Server.RateLimit,
			RateWindow: a.cfg.Server.RateWindow,
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		a.logger.Info("shimmer: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("shimmer: shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
