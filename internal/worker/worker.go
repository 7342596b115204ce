// Package worker implements the offline worker: its lifecycle
// (install, activate, superseded) and the dispatch table that routes every
// host event to a handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/partition"
	"github.com/faiz501/bharat-industry/internal/strategy"
)

var (
	// ErrUnknownEvent is returned for an event kind with no handler
	ErrUnknownEvent = errors.New("unknown event kind")
	// ErrInvalidState is returned for a lifecycle step out of order
	ErrInvalidState = errors.New("invalid lifecycle state")
	// ErrNotificationNotFound is returned when clicking a closed notification
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNoWorker is returned by a host with no worker to receive an event
	ErrNoWorker = errors.New("no active worker")
)

// State is the lifecycle state of a worker
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled // waiting
	StateActivating
	StateActivated
	StateSuperseded
	StateRedundant // install failed
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "waiting"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Options configures a worker version
type Options struct {
	Version  string
	Registry partition.Registry
	Storage  cache.Storage
	Network  strategy.Network
	// Origin resolves relative request and manifest URLs
	Origin *url.URL
	// Clients defaults to logging only
	Clients Clients
	// Syncer defaults to ContactFormSyncer
	Syncer Syncer
	// MaxAge is the age past which dynamic entries are swept
	MaxAge time.Duration
	// Now defaults to time.Now
	Now func() time.Time
}

// Worker is one version of the offline worker. Its partition handles are
// opened at install and passed explicitly to the fetch handlers.
type Worker struct {
	id       string
	version  string
	registry partition.Registry
	storage  cache.Storage
	network  strategy.Network
	origin   *url.URL
	clients  Clients
	syncer   Syncer
	maxAge   time.Duration
	now      func() time.Time

	table map[EventKind]Handler

	mu            sync.RWMutex
	state         State
	skipWaiting   bool
	host          *Host
	partitions    *partition.Handles
	handlers      *strategy.Handlers
	notifications map[string]Notification
}

// New creates a worker in the parsed state
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Network == nil {
		return nil, fmt.Errorf("network is required")
	}
	if opts.Origin == nil || !opts.Origin.IsAbs() {
		return nil, fmt.Errorf("absolute origin URL is required")
	}

	w := &Worker{
		id:            uuid.NewString(),
		version:       opts.Version,
		registry:      opts.Registry,
		storage:       opts.Storage,
		network:       opts.Network,
		origin:        opts.Origin,
		clients:       opts.Clients,
		syncer:        opts.Syncer,
		maxAge:        opts.MaxAge,
		now:           opts.Now,
		notifications: make(map[string]Notification),
	}
	if w.clients == nil {
		w.clients = logClients{}
	}
	if w.syncer == nil {
		w.syncer = ContactFormSyncer{}
	}
	if w.now == nil {
		w.now = time.Now
	}

	w.table = map[EventKind]Handler{
		EventInstall:           w.install,
		EventActivate:          w.activate,
		EventFetch:             w.fetch,
		EventMessage:           w.message,
		EventSync:              w.sync,
		EventPeriodicSync:      w.periodicSync,
		EventPush:              w.push,
		EventNotificationClick: w.notificationClick,
	}
	return w, nil
}

// Dispatch routes ev to its handler
func (w *Worker) Dispatch(ctx context.Context, ev Event) (Result, error) {
	handler, ok := w.table[ev.Kind]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}
	return handler(ctx, ev)
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Version() string {
	return w.version
}

func (w *Worker) Registry() partition.Registry {
	return w.registry
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"version": w.version,
		"worker":  w.id,
	})
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()

	w.log().WithField("from", prev.String()).Debugf("Worker %s", s)
}

// handles opens the partitions once and keeps them for the worker's life
func (w *Worker) handles(ctx context.Context) (partition.Handles, error) {
	w.mu.RLock()
	h := w.partitions
	w.mu.RUnlock()
	if h != nil {
		return *h, nil
	}

	opened, err := w.registry.Open(ctx, w.storage)
	if err != nil {
		return partition.Handles{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partitions == nil {
		w.partitions = &opened
	}
	return *w.partitions, nil
}

// resolve turns a manifest or page-relative reference into an absolute URL
func (w *Worker) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", ref, err)
	}
	return w.origin.ResolveReference(u), nil
}

// existing returns the worker's partitions without creating them
func (w *Worker) existing(ctx context.Context) (partition.Handles, bool, error) {
	w.mu.RLock()
	h := w.partitions
	w.mu.RUnlock()
	if h != nil {
		return *h, true, nil
	}
	return w.registry.Lookup(ctx, w.storage)
}

// CacheSize counts the live entries of the three partitions. A version that
// was never installed has none.
func (w *Worker) CacheSize(ctx context.Context) (partition.Size, error) {
	h, ok, err := w.existing(ctx)
	if err != nil || !ok {
		return partition.Size{}, err
	}
	return h.Size(ctx)
}
