package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/control"
	"github.com/faiz501/bharat-industry/internal/manifest"
	"github.com/faiz501/bharat-industry/internal/partition"
	"github.com/faiz501/bharat-industry/internal/strategy"
	"github.com/faiz501/bharat-industry/internal/worker"
)

// app holds what every command shares: the store, the host and the page hub
type app struct {
	cfg     *config.Config
	storage cache.Storage
	host    *worker.Host
	hub     *control.Hub
}

func newApp(cfg *config.Config) (*app, error) {
	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	host := worker.NewHost(worker.HostOptions{InstallRetries: cfg.Lifecycle.InstallRetries})
	return &app{
		cfg:     cfg,
		storage: storage,
		host:    host,
		hub:     control.NewHub(host),
	}, nil
}

func openStorage(cfg config.StorageConfig) (cache.Storage, error) {
	switch cfg.Driver {
	case "memory":
		return cache.NewMemory(), nil
	case "sqlite":
		storage, err := cache.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open partition store: %w", err)
		}
		logrus.Debugf("Partition store: %s", cfg.DSN)
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// newWorker builds the worker version described by the config
func (a *app) newWorker() (*worker.Worker, error) {
	m, err := manifest.FromConfig(a.cfg.Manifest)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return a.buildWorker(a.cfg.Lifecycle.Version, partition.NewRegistry(a.cfg.Partitions, m.Static, m.Images))
}

func (a *app) buildWorker(version string, registry partition.Registry) (*worker.Worker, error) {
	timeout, err := a.cfg.GetNetworkTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid network timeout: %w", err)
	}
	maxAge, err := a.cfg.GetCleanupMaxAge()
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup max age: %w", err)
	}
	origin, err := url.Parse(a.cfg.Origin.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL: %w", err)
	}

	return worker.New(worker.Options{
		Version:  version,
		Registry: registry,
		Storage:  a.storage,
		Network:  strategy.NewHTTPNetwork(timeout),
		Origin:   origin,
		Clients:  a.hub,
		MaxAge:   maxAge,
	})
}

// register installs and activates the configured worker version
func (a *app) register(ctx context.Context) (*worker.Worker, error) {
	w, err := a.newWorker()
	if err != nil {
		return nil, err
	}
	if err := a.host.Register(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// resumePrevious gives control back to the last activated version when the
// configured one could not be installed. It returns nil when there is
// nothing to fall back to.
func (a *app) resumePrevious(ctx context.Context) (*worker.Worker, error) {
	if active := a.host.Active(); active != nil {
		return active, nil
	}

	d, ok, err := worker.LastDeployment(ctx, a.storage)
	if err != nil {
		return nil, err
	}
	if !ok || d.Version == a.cfg.Lifecycle.Version {
		return nil, nil
	}

	w, err := a.buildWorker(d.Version, d.Registry(partition.NewRegistry(a.cfg.Partitions, nil, nil)))
	if err != nil {
		return nil, err
	}
	if err := a.host.Resume(ctx, w); err != nil {
		if errors.Is(err, worker.ErrNothingToResume) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}

func (a *app) close() {
	if err := a.storage.Close(); err != nil {
		logrus.Warnf("Failed to close partition store: %v", err)
	}
}
