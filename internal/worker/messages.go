package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/eviction"
)

func (w *Worker) message(ctx context.Context, ev Event) (Result, error) {
	switch ev.Message.Type {
	case MessageSkipWaiting:
		return Result{}, w.SkipWaiting(ctx)
	case MessageGetCacheSize:
		size, err := w.CacheSize(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("failed to compute cache size: %w", err)
		}
		return Result{Reply: CacheSizeReply{CacheSize: size}}, nil
	default:
		logrus.Debugf("Ignoring message of type %q", ev.Message.Type)
		return Result{}, nil
	}
}

// SkipWaiting asks for immediate activation. A worker already waiting is
// activated through its host right away.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	host := w.host
	waiting := w.state == StateInstalled
	w.mu.Unlock()

	if !waiting || host == nil {
		return nil
	}
	return host.activate(ctx, w)
}

func (w *Worker) sync(ctx context.Context, ev Event) (Result, error) {
	if ev.Tag != TagContactForm {
		logrus.Debugf("Ignoring sync tag %q", ev.Tag)
		return Result{}, nil
	}
	if err := w.syncer.Sync(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to sync %s: %w", ev.Tag, err)
	}
	return Result{}, nil
}

func (w *Worker) periodicSync(ctx context.Context, ev Event) (Result, error) {
	if ev.Tag != TagCacheCleanup {
		logrus.Debugf("Ignoring periodic sync tag %q", ev.Tag)
		return Result{}, nil
	}
	_, err := w.Cleanup(ctx)
	return Result{}, err
}

// Cleanup sweeps dynamic entries older than the configured max age.
// Returns the number of entries removed.
func (w *Worker) Cleanup(ctx context.Context) (int, error) {
	h, ok, err := w.existing(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		w.log().Debug("Nothing to clean up, partitions are not installed")
		return 0, nil
	}

	start := time.Now()
	removed, err := eviction.ExpireOlderThan(ctx, h.Dynamic, w.maxAge, w.now())
	if err != nil {
		return removed, fmt.Errorf("failed to clean up %s: %w", h.Dynamic.Name(), err)
	}

	w.log().WithFields(logrus.Fields{
		"removed":  removed,
		"duration": time.Since(start).String(),
	}).Info("Cache cleanup complete")
	return removed, nil
}
