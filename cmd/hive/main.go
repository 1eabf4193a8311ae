package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/cspellhq/hivenode/internal/config"
	"github.com/cspellhq/hivenode/internal/hive"
	"github.com/cspellhq/hivenode/internal/hiveapi"
	"github.com/cspellhq/hivenode/internal/logging"
)

func main() {
	logging.Init("hive", nil)

	cmd := &cli.Command{
		Name:  "hive",
		Usage: "runs the hivenode federation coordinator",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the hive HTTP server",
				Action: serve,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, _ *cli.Command) error {
	cfg := config.LoadHive()
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := hive.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := hive.RunMigrations(ctx, pool.Pool); err != nil {
		return err
	}

	router := hiveapi.New(&hiveapi.Deps{
		Store:     hive.NewStore(pool),
		Nodes:     hiveapi.NewNodeRegistry(),
		JWTSecret: cfg.JWTSecret,
	})

	go func() {
		if err := router.Start(cfg.ListenAddr); err != nil {
			slog.Error("[HIVE] server stopped", "error", err)
		}
	}()
	slog.Info("[HIVE] listening", "addr", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	slog.Info("[HIVE] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}
