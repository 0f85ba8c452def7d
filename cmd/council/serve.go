package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/nuka-council/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the run API:

  GET  /api/health
  GET  /api/workflows
  POST /api/runs                  start a run and wait for its verdict
  POST /api/runs/stream           start a run and stream steps as SSE
  GET  /api/runs/{thread}         latest checkpoint
  POST /api/runs/{thread}/resume
  GET  /api/history
  GET  /metrics`,
	RunE: serve,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default server.port)")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.close()

	opts := []api.Option{
		api.WithMetrics(a.metrics.Handler()),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
	}
	if a.history != nil {
		opts = append(opts, api.WithHistory(a.history))
	}
	if a.router != nil {
		opts = append(opts, api.WithProviders(a.router.IDs()))
	}
	handler := api.NewHandler(a.service, logger, opts...)

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	if port == 0 {
		port = 3210
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Council listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Council...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
