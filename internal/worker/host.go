package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// HostOptions configures install retries
type HostOptions struct {
	// InstallRetries is the number of retries after a failed install
	InstallRetries int
	// RetryInterval is the first backoff interval; defaults to one second
	RetryInterval time.Duration
}

// Host plays the part of the browser: it installs worker versions, keeps
// the active one, and routes events to it.
type Host struct {
	opts HostOptions

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

// NewHost creates a host with no worker
func NewHost(opts HostOptions) *Host {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	return &Host{opts: opts}
}

// Register hands control to w. A version already deployed on the storage is
// resumed from its partitions; a new one is installed, retrying with
// exponential backoff, and activated as soon as it asks to skip waiting.
// The previously active worker is superseded, and stays active when w
// fails to install.
func (h *Host) Register(ctx context.Context, w *Worker) error {
	err := h.Resume(ctx, w)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNothingToResume) {
		logrus.Warnf("Cannot resume %s, installing: %v", w.Version(), err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.opts.RetryInterval

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := w.Dispatch(ctx, Event{Kind: EventInstall})
		if errors.Is(err, ErrInvalidState) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(h.opts.InstallRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logrus.Warnf("Install attempt %d failed, retrying in %s: %v", attempt, next, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to install %s: %w", w.Version(), err)
	}

	h.mu.Lock()
	h.waiting = w
	h.mu.Unlock()

	w.mu.RLock()
	skip := w.skipWaiting
	w.mu.RUnlock()
	if !skip {
		return nil
	}
	return h.activate(ctx, w)
}

// Resume hands control to w straight from the partitions of its last
// activation, without installing. It fails with ErrNothingToResume when the
// storage holds no complete deployment of w's version.
func (h *Host) Resume(ctx context.Context, w *Worker) error {
	w.mu.Lock()
	w.host = h
	w.mu.Unlock()

	if err := w.resume(ctx); err != nil {
		return err
	}
	h.promote(w)
	return nil
}

// activate runs the activate event of a waiting worker and hands it control
func (h *Host) activate(ctx context.Context, w *Worker) error {
	if _, err := w.Dispatch(ctx, Event{Kind: EventActivate}); err != nil {
		return fmt.Errorf("failed to activate %s: %w", w.Version(), err)
	}
	h.promote(w)
	return nil
}

// promote makes w the active worker and retires the previous one
func (h *Host) promote(w *Worker) {
	h.mu.Lock()
	previous := h.active
	h.active = w
	if h.waiting == w {
		h.waiting = nil
	}
	h.mu.Unlock()

	if previous != nil && previous != w {
		previous.supersede()
		logrus.Infof("Worker %s superseded by %s", previous.Version(), w.Version())
	}
}

// Active returns the controlling worker, or nil
func (h *Host) Active() *Worker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

// Waiting returns the installed worker waiting to activate, or nil
func (h *Host) Waiting() *Worker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waiting
}

// Fetch lets the active worker answer req. It reports false when the
// request should go to the network untouched.
func (h *Host) Fetch(ctx context.Context, req *http.Request) (*http.Response, bool) {
	w := h.Active()
	if w == nil {
		return nil, false
	}

	res, err := w.Dispatch(ctx, Event{Kind: EventFetch, Request: req})
	if err != nil {
		logrus.Errorf("Fetch handler failed for %s: %v", req.URL, err)
		return nil, false
	}
	return res.Response, res.Response != nil
}

// Message delivers a page message. SKIP_WAITING goes to the waiting worker
// when there is one; everything else goes to the active worker.
func (h *Host) Message(ctx context.Context, msg Message) (Result, error) {
	h.mu.RLock()
	target := h.active
	if msg.Type == MessageSkipWaiting && h.waiting != nil {
		target = h.waiting
	}
	h.mu.RUnlock()

	if target == nil {
		return Result{}, ErrNoWorker
	}
	return target.Dispatch(ctx, Event{Kind: EventMessage, Message: msg})
}

// Dispatch delivers any other event to the active worker
func (h *Host) Dispatch(ctx context.Context, ev Event) (Result, error) {
	w := h.Active()
	if w == nil {
		return Result{}, ErrNoWorker
	}
	return w.Dispatch(ctx, ev)
}
