package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/abtreece/propsort/pkg/log"
	"github.com/abtreece/propsort/pkg/metrics"
	"github.com/abtreece/propsort/pkg/render"
	"github.com/abtreece/propsort/pkg/service"
	"github.com/abtreece/propsort/pkg/sources"
)

// prepare merges the config file and environment into cli and cfg and
// validates the result.
func prepare(cli *CLI, cfg *sources.Config) error {
	if err := loadConfigFile(cli, cfg); err != nil {
		return err
	}
	processEnv(cfg)
	applyDefaultNodes(cfg)
	applyConnectionFlags(cli, cfg)
	return validate(cli, *cfg)
}

func renderConfig(cli *CLI, src sources.Source) render.Config {
	return render.Config{
		Source:        src,
		Prefix:        cli.Prefix,
		Keys:          cli.Key,
		KeyStyle:      render.KeyStyle(cli.KeyStyle),
		Dest:          cli.Dest,
		Comment:       cli.Comment,
		Timestamp:     cli.Timestamp,
		EscapeUnicode: cli.EscapeUnicode,
		Mode:          cli.Mode,
		Uid:           -1,
		Gid:           -1,
		Noop:          cli.Noop,
		ShowDiff:      cli.Diff,
		DiffContext:   cli.DiffContext,
		ColorDiff:     cli.Color,
		KeepStageFile: cli.KeepStageFile,
	}
}

// run is shared by every source subcommand.
func run(cli *CLI, cfg sources.Config) error {
	if err := prepare(cli, &cfg); err != nil {
		return err
	}
	if cli.LogLevel != "" {
		log.SetLevel(cli.LogLevel)
	}
	if cli.LogFormat != "" {
		log.SetFormat(cli.LogFormat)
	}

	log.Info("Starting propsort %s", Version)
	log.Info("Source set to %s", cfg.Source)

	src, err := sources.New(cfg)
	if err != nil {
		return err
	}
	resource, err := render.NewResource(renderConfig(cli, src))
	if err != nil {
		closeSource(src)
		return err
	}

	if cli.Onetime {
		defer closeSource(src)
		return render.Once(context.Background(), resource)
	}
	return serve(cli, src, resource)
}

func closeSource(src sources.Source) {
	if c, ok := src.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warning("Failed to close source: %v", err)
		}
	}
}

// serve keeps resource in sync until SIGINT or SIGTERM, then shuts down.
func serve(cli *CLI, src sources.Source, resource *render.Resource) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cli.MetricsAddr != "" {
		metrics.Initialize()
		metricsServer = &http.Server{
			Addr:              cli.MetricsAddr,
			Handler:           metrics.NewServeMux(src),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("Serving metrics on %s", cli.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed: %v", err)
			}
		}()
	}

	notifier := service.NewSystemdNotifier(cli.SystemdNotify, cli.WatchdogInterval)
	notifier.StartWatchdog(ctx)

	reloads := service.NewReloadManager()
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reloads.Trigger()
			}
		}
	}()

	opts := render.Options{
		Reloads: reloads,
		OnFirstSync: func() {
			if err := notifier.NotifyReady(); err != nil {
				log.Warning("%v", err)
			}
		},
		OnReload: func() {
			if err := notifier.NotifyReloading(); err != nil {
				log.Warning("%v", err)
			}
		},
	}
	var processor render.Processor
	if cli.Watch {
		processor = render.WatchProcessor(resource, opts)
	} else {
		processor = render.IntervalProcessor(resource, time.Duration(cli.Interval)*time.Second, opts)
	}

	var inFlight sync.WaitGroup
	inFlight.Add(1)
	errc := make(chan error, 1)
	go func() {
		defer inFlight.Done()
		errc <- processor.Process(ctx)
	}()

	var procErr error
	select {
	case <-ctx.Done():
		log.Info("Captured shutdown signal. Exiting...")
	case procErr = <-errc:
		stop()
	}

	if err := notifier.NotifyStopping(); err != nil {
		log.Warning("%v", err)
	}
	shutdown := service.NewShutdownManager(cli.ShutdownTimeout, metricsServer, src, &inFlight)
	if err := shutdown.Shutdown(context.Background()); err != nil {
		return errors.Join(procErr, err)
	}
	if procErr != nil {
		return fmt.Errorf("processor stopped: %w", procErr)
	}
	return nil
}
