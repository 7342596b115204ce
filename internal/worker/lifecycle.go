package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/partition"
	"github.com/faiz501/bharat-industry/internal/strategy"
)

// InstallError reports a manifest entry that could not be pre-cached
type InstallError struct {
	URL string
	Err error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("failed to pre-cache %s: %v", e.URL, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

type precacheItem struct {
	partition cache.Partition
	req       *http.Request
	resp      *http.Response
	key       string
	// previous is the entry the write replaced, restored on rollback
	previous *http.Response
}

func (w *Worker) install(ctx context.Context, _ Event) (Result, error) {
	w.mu.Lock()
	if w.state != StateParsed && w.state != StateRedundant {
		state := w.state
		w.mu.Unlock()
		return Result{}, fmt.Errorf("%w: cannot install from %s", ErrInvalidState, state)
	}
	w.state = StateInstalling
	w.mu.Unlock()

	w.log().Info("Installing worker")

	if err := w.precache(ctx); err != nil {
		w.setState(StateRedundant)
		w.log().Errorf("Installation failed: %v", err)
		return Result{}, err
	}

	w.mu.Lock()
	w.skipWaiting = true
	w.mu.Unlock()
	w.setState(StateInstalled)

	w.log().Info("Installation complete")
	return Result{}, nil
}

// precache fetches the whole manifest before writing anything, so a single
// failure leaves the partitions untouched.
func (w *Worker) precache(ctx context.Context) error {
	h, err := w.handles(ctx)
	if err != nil {
		return err
	}

	var items []*precacheItem
	lists := []struct {
		partition cache.Partition
		urls      []string
	}{
		{partition: h.Static, urls: w.registry.Static.Precache},
		{partition: h.Images, urls: w.registry.Images.Precache},
	}
	for _, list := range lists {
		for _, ref := range list.urls {
			u, err := w.resolve(ref)
			if err != nil {
				return &InstallError{URL: ref, Err: err}
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return &InstallError{URL: ref, Err: err}
			}
			items = append(items, &precacheItem{partition: list.partition, req: req})
		}
	}

	w.log().Infof("Caching %d static assets and %d critical images", len(w.registry.Static.Precache), len(w.registry.Images.Precache))

	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item *precacheItem) {
			defer wg.Done()

			resp, err := w.network.Fetch(ctx, item.req)
			if err != nil {
				errs[i] = &InstallError{URL: item.req.URL.String(), Err: err}
				return
			}
			if !strategy.Cacheable(resp) {
				_ = resp.Body.Close()
				errs[i] = &InstallError{URL: item.req.URL.String(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
				return
			}
			item.resp = resp
		}(i, item)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, item := range items {
			if item.resp != nil {
				_ = item.resp.Body.Close()
			}
		}
		return err
	}

	for i, item := range items {
		err := w.write(ctx, item)
		if err != nil {
			if item.previous != nil {
				_ = item.previous.Body.Close()
			}
			w.rollback(ctx, items[:i])
			for _, rest := range items[i+1:] {
				_ = rest.resp.Body.Close()
			}
			return fmt.Errorf("failed to store %s: %w", item.req.URL, err)
		}
	}
	for _, item := range items {
		if item.previous != nil {
			_ = item.previous.Body.Close()
		}
	}
	return nil
}

// write stores one pre-cached response, remembering what it replaced
func (w *Worker) write(ctx context.Context, item *precacheItem) error {
	defer func() { _ = item.resp.Body.Close() }()

	key, err := cache.Key(item.req)
	if err != nil {
		return err
	}
	previous, err := item.partition.Get(ctx, key)
	if err != nil {
		return err
	}
	item.key = key
	item.previous = previous
	return item.partition.Put(ctx, item.req, item.resp)
}

// rollback undoes the writes of a failed install, newest first. Entries that
// existed before the install are put back rather than deleted.
func (w *Worker) rollback(ctx context.Context, items []*precacheItem) {
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		var err error
		if item.previous != nil {
			err = item.partition.Put(ctx, item.req, item.previous)
			_ = item.previous.Body.Close()
		} else {
			_, err = item.partition.Delete(ctx, item.key)
		}
		if err != nil {
			w.log().Warnf("Failed to roll back %s: %v", item.key, err)
		}
	}
}

func (w *Worker) activate(ctx context.Context, _ Event) (Result, error) {
	w.mu.Lock()
	if w.state != StateInstalled {
		state := w.state
		w.mu.Unlock()
		return Result{}, fmt.Errorf("%w: cannot activate from %s", ErrInvalidState, state)
	}
	w.state = StateActivating
	w.mu.Unlock()

	w.log().Info("Activating worker")

	if err := w.reclaim(ctx); err != nil {
		w.setState(StateInstalled)
		return Result{}, err
	}

	h, err := w.handles(ctx)
	if err != nil {
		w.setState(StateInstalled)
		return Result{}, err
	}

	if err := w.takeControl(ctx, h); err != nil {
		w.setState(StateInstalled)
		return Result{}, err
	}

	if err := saveDeployment(ctx, w.storage, w.deployment()); err != nil {
		w.log().Warnf("Failed to record active version, a restart will reinstall: %v", err)
	}

	w.log().Info("Activation complete")
	return Result{}, nil
}

// takeControl builds the fetch handlers over h and starts controlling pages
func (w *Worker) takeControl(ctx context.Context, h partition.Handles) error {
	rootPage, err := w.resolve("/index.html")
	if err != nil {
		return err
	}

	handlers := strategy.NewHandlers(w.registry, h, w.storage, w.network, rootPage)

	w.mu.Lock()
	w.handlers = handlers
	w.state = StateActivated
	w.mu.Unlock()

	if err := w.clients.Claim(ctx, w.version); err != nil {
		w.log().Warnf("Failed to claim clients: %v", err)
	}
	return nil
}

// reclaim deletes every partition that is not part of this version
func (w *Worker) reclaim(ctx context.Context) error {
	names, err := w.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list partitions: %w", err)
	}

	for _, name := range names {
		if w.registry.Allowed(name) {
			continue
		}
		w.log().Infof("Deleting old cache: %s", name)
		if _, err := w.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("failed to delete old cache %s: %w", name, err)
		}
	}
	return nil
}

// supersede retires the worker once a newer version is active
func (w *Worker) supersede() {
	w.mu.Lock()
	w.handlers = nil
	w.mu.Unlock()
	w.setState(StateSuperseded)
}
