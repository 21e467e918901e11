package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/1F47E/geo-viewport-cache/pkg/app"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve viewport queries over HTTP",
	Long: `Start the HTTP API. The cache snapshot is restored from the configured
store on start and written back on shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	log := logging.With("serve")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, closeProvider, err := app.OpenProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	st, closeStore, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	cache := app.NewCache(cfg, p)
	if st != nil {
		if _, err := cache.Load(ctx, st); err != nil {
			// a bad snapshot must not keep the server down
			log.Warn().Err(err).Msg("starting with an empty cache")
		}
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DefaultMax:      cfg.Cache.DefaultMax,
		RateLimit:       cfg.Server.RateLimit,
		RateWindow:      cfg.Server.RateWindow,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, cache)

	runErr := srv.Run(ctx)

	if st != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := cache.Save(saveCtx, st); err != nil {
			log.Error().Err(err).Msg("failed to persist cache")
		}
	}
	return runErr
}
