package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/image-lifecycle/internal/bus"
	"github.com/ironsheep/image-lifecycle/internal/command"
	"github.com/ironsheep/image-lifecycle/internal/config"
	"github.com/ironsheep/image-lifecycle/internal/imaging"
	"github.com/ironsheep/image-lifecycle/internal/logging"
	"github.com/ironsheep/image-lifecycle/internal/metrics"
	"github.com/ironsheep/image-lifecycle/internal/registry"
	"github.com/ironsheep/image-lifecycle/internal/shell"
	"github.com/ironsheep/image-lifecycle/internal/storage"
	"github.com/ironsheep/image-lifecycle/internal/worker"
)

// run wires every component, drives the shell until exit and tears down in
// order: commands, tasks, workers, then the bus.
func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, interactive bool) error {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: cfg.Logging.Outputs,
	})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Debug("starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", GitCommit))

	store, err := storage.NewLocal(cfg.Storage.ImagesDir, cfg.Storage.ProcessedDir)
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		stopMetrics, err := serveMetrics(cfg.Metrics.Addr, m, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	cache := imaging.NewImageCache()
	pool := worker.New(cfg.Workers.Size, imaging.NewTransformer(cache), logger.Named("worker"))
	pool.SetBusyGauge(m.WorkersBusy)
	pool.Start()

	b := bus.New(out, cfg.Shell.BusBuffer, logger.Named("bus"))
	b.SetCounter(m.MessagesTotal)
	b.Start()

	mgr := command.NewManager(command.Deps{
		Images:        registry.NewImageRegistry(store),
		Tasks:         registry.NewTaskRegistry(),
		Pool:          pool,
		Storage:       store,
		Bus:           b,
		Cache:         cache,
		Metrics:       m,
		Logger:        logger.Named("command"),
		DeleteTimeout: cfg.Workers.DeleteTimeout,
	})

	sh := shell.New(mgr, in, shell.Options{
		Async:           cfg.Shell.Async,
		Interactive:     interactive,
		ShutdownTimeout: cfg.Workers.ShutdownTimeout,
		Prompt:          b,
		Logger:          logger.Named("shell"),
	})

	err = sh.Run(ctx)
	pool.Stop()
	b.Close()
	logger.Debug("stopped", zap.Int("cached_images", cache.Len()))
	return err
}

// serveMetrics exposes /metrics on addr and returns a function that stops
// the listener.
func serveMetrics(addr string, m *metrics.Metrics, logger *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
