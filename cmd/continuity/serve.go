package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ersonp/continuity/internal/infrastructure/httpapi"
)

// cacheGCInterval is how often the check cache's value log is compacted.
const cacheGCInterval = 10 * time.Minute

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serves every registered book over HTTP until interrupted. Metrics are exposed at /metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, addr)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default: server.addr from config)")

	return cmd
}

func runServe(cmd *cobra.Command, addr string) error {
	ctx := cmd.Context()

	return withDeps(ctx, func(d *Deps) error {
		if addr == "" {
			addr = d.Config.Server.Addr
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewRouter(d.Engine, d.Registry, d.Logger),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			d.Logger.Info("http server listening", "addr", addr, "books", len(d.Books.Books))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve http: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), d.Config.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			d.Logger.Info("http server stopped")
			return nil
		})

		if d.Cache != nil {
			g.Go(func() error {
				d.Cache.RunGC(gctx, cacheGCInterval, d.Logger)
				return nil
			})
		}

		return g.Wait()
	})
}
