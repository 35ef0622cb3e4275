package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"replaytrim/internal/api"
	"replaytrim/internal/config"
	"replaytrim/internal/logger"
	"replaytrim/internal/probecache"
	"replaytrim/internal/replay"
	"replaytrim/internal/trim"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the replay trim daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.NewLogger(cfg.LogLevel)
	log.Infof("starting replay trim daemon")
	log.Infof("buffer length: %s", replay.FormatDuration(cfg.BufferLengthSeconds))

	engine := trim.New(log)
	probes := probecache.New(log)
	probes.Start()
	manager := replay.NewManager(log, cfg, engine, probes)
	manager.Start()

	router := api.New(manager, engine, log)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve on %s: %w", cfg.ListenAddr, err)
	case sig := <-quit:
		log.Infof("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	manager.Stop()
	probes.Stop()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Infof("server exited gracefully")
	return nil
}
