package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunk-transcriber/api/rest/handlers"
	"chunk-transcriber/api/rest/routes"
	"chunk-transcriber/app"
	"chunk-transcriber/config"
	"chunk-transcriber/core/monitoring"
	"chunk-transcriber/core/scheduler"
	"chunk-transcriber/logging"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:           "transcriber-server",
		Short:         "Run the chunked transcription HTTP service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if err := serve(cfg, logger); err != nil {
				logger.WithError(err).Error("server stopped with error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file (default .env when present)")
	return cmd
}

func serve(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Workers:   cfg.SchedulerWorkers,
		QueueSize: cfg.SchedulerQueueSize,
	}, core.Table, core.Runner, logger)
	if err != nil {
		return err
	}
	sched.Start(ctx)

	monitor := monitoring.NewJobMonitor(core.Table, cfg.MonitorInterval, logger)
	go monitor.Start(ctx)

	exporter := monitoring.NewMetricsExporter(core.Table, core.Runner, sched)
	jobHandler := handlers.NewJobHandler(core.Table, core.Events, sched, core.Store, handlers.JobHandlerConfig{
		UploadDir:      app.UploadDir(cfg),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Defaults:       app.DefaultOptions(cfg),
	}, logger)
	dashboardHandler := handlers.NewDashboardHandler(core.Table, exporter, cfg.MaxUploadBytes(), logger)

	r := mux.NewRouter()
	routes.SetupRoutes(r, jobHandler, dashboardHandler)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":    cfg.ServerPort,
			"workers": cfg.SchedulerWorkers,
			"storage": core.Store.Backend(),
		}).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("shutting down server")
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server forced to shutdown")
	}
	cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler did not drain before timeout")
	}
	logger.Info("server exited")
	return nil
}
