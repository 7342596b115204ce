package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/faiz501/bharat-industry/internal/control"
	"github.com/faiz501/bharat-industry/internal/events"
	"github.com/faiz501/bharat-industry/internal/proxy"
	"github.com/faiz501/bharat-industry/internal/worker"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy, the control API and the cleanup schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	server, err := proxy.New(cfg, a.host)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	// pages keep working online while the worker installs
	go func() {
		_, err := a.register(ctx)
		if err == nil {
			return
		}
		prev, perr := a.resumePrevious(ctx)
		switch {
		case perr != nil:
			logrus.Errorf("Worker not installed, requests pass through: %v (resume failed: %v)", err, perr)
		case prev != nil:
			logrus.Warnf("Worker not installed, %s stays in control: %v", prev.Version(), err)
		default:
			logrus.Errorf("Worker not installed, requests pass through: %v", err)
		}
	}()

	if cfg.Events.NATSURL != "" {
		bridge, err := events.Connect(cfg.Events, a.host)
		if err != nil {
			return err
		}
		defer func() {
			if err := bridge.Close(); err != nil {
				logrus.Warnf("Failed to close NATS bridge: %v", err)
			}
		}()
	}

	interval, err := cfg.GetCleanupInterval()
	if err != nil {
		return fmt.Errorf("invalid cleanup interval: %w", err)
	}
	if interval > 0 {
		go runCleanup(ctx, a.host, interval)
	}

	errs := make(chan error, 2)
	go func() { errs <- server.Start(ctx) }()
	running := 1
	if cfg.Server.ControlPort > 0 {
		go func() { errs <- control.New(cfg, a.host, a.hub).Start(ctx) }()
		running++
	}

	var firstErr error
	for range running {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			// bring the other listener down with the failed one
			cancel()
		}
	}
	return firstErr
}

// runCleanup fires the cache-cleanup periodic sync on a fixed interval
func runCleanup(ctx context.Context, host *worker.Host, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.Infof("Cache cleanup every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := host.Dispatch(ctx, worker.Event{Kind: worker.EventPeriodicSync, Tag: worker.TagCacheCleanup})
			switch {
			case errors.Is(err, worker.ErrNoWorker):
				logrus.Debugf("Skipping cache cleanup, no active worker")
			case err != nil:
				logrus.Errorf("Cache cleanup failed: %v", err)
			}
		}
	}
}
