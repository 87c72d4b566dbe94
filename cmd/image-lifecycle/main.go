package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/image-lifecycle/internal/config"
	"github.com/ironsheep/image-lifecycle/internal/shell"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var (
		imagesDir     string
		processedDir  string
		workers       int
		deleteTimeout time.Duration
		logLevel      string
		logDev        bool
		metricsAddr   string
		async         bool
	)

	root := &cobra.Command{
		Use:   "image-lifecycle",
		Short: "Interactive coordinator for image add, process and delete",
		Long: `image-lifecycle reads commands from stdin and manages a registry of images.

Transformations run on a fixed worker pool; deleting an image waits for every
transformation already running on it. Configuration comes from IMGLC_*
environment variables, overridden by flags.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("images-dir") {
				cfg.Storage.ImagesDir = imagesDir
			}
			if flags.Changed("processed-dir") {
				cfg.Storage.ProcessedDir = processedDir
			}
			if flags.Changed("workers") {
				cfg.Workers.Size = workers
			}
			if flags.Changed("delete-timeout") {
				cfg.Workers.DeleteTimeout = deleteTimeout
			}
			if flags.Changed("log-level") {
				cfg.Logging.Level = logLevel
			}
			if flags.Changed("log-dev") {
				cfg.Logging.Development = logDev
			}
			if flags.Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
			}
			if flags.Changed("async") {
				cfg.Shell.Async = async
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, os.Stdin, os.Stdout, shell.IsTerminal(os.Stdin))
		},
	}

	f := root.Flags()
	f.StringVar(&imagesDir, "images-dir", "", "directory for imported images (IMGLC_IMAGES_DIR)")
	f.StringVar(&processedDir, "processed-dir", "", "directory for transformation output (IMGLC_PROCESSED_DIR)")
	f.IntVar(&workers, "workers", 0, "number of concurrent transformations (IMGLC_WORKERS)")
	f.DurationVar(&deleteTimeout, "delete-timeout", 0, "how long delete waits for running tasks, e.g. 2m (IMGLC_DELETE_TIMEOUT)")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (IMGLC_LOG_LEVEL)")
	f.BoolVar(&logDev, "log-dev", false, "human-readable logs on stderr (IMGLC_LOG_DEV)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (IMGLC_METRICS_ADDR)")
	f.BoolVar(&async, "async", false, "run each command on its own goroutine (IMGLC_ASYNC)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "image-lifecycle %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	})

	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
