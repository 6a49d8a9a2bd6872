package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/iamcos/cutoffdb/internal/histsync"
	"github.com/iamcos/cutoffdb/internal/server"
	"github.com/iamcos/cutoffdb/internal/validation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the cutoff store over HTTP",
	Long: `Run the HTTP API. Discovery engines POST discovered cutoffs, backtest
schedulers validate windows and check history sufficiency, and history-sync
workers report progress that clients can watch over WebSocket. Prometheus
metrics are exposed on /metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}

	tracker := histsync.NewTracker()
	svc := validation.New(st, tracker)
	srv := server.New(cfg.Server, st, svc, tracker)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
