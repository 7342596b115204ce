package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/partition"
)

// ErrNothingToResume is returned when the storage holds no complete
// deployment of a worker's version
var ErrNothingToResume = errors.New("no deployment to resume")

const deploymentKey = "active-worker"

// Deployment records the last activated version and its partitions. A
// process restarted on the same storage resumes it without installing.
type Deployment struct {
	Version string `json:"version"`
	Static  string `json:"static"`
	Dynamic string `json:"dynamic"`
	Images  string `json:"images"`
}

// Registry returns r with its partitions renamed to the deployed ones
func (d Deployment) Registry(r partition.Registry) partition.Registry {
	r.Static.Name = d.Static
	r.Dynamic.Name = d.Dynamic
	r.Images.Name = d.Images
	return r
}

// LastDeployment reads the deployment recorded by the last activation
func LastDeployment(ctx context.Context, storage cache.Storage) (Deployment, bool, error) {
	raw, err := storage.Meta(ctx, deploymentKey)
	if err != nil {
		return Deployment{}, false, err
	}
	if raw == "" {
		return Deployment{}, false, nil
	}

	var d Deployment
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Deployment{}, false, fmt.Errorf("invalid deployment record: %w", err)
	}
	return d, true, nil
}

func saveDeployment(ctx context.Context, storage cache.Storage, d Deployment) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return storage.SetMeta(ctx, deploymentKey, string(raw))
}

func (w *Worker) deployment() Deployment {
	return Deployment{
		Version: w.version,
		Static:  w.registry.Static.Name,
		Dynamic: w.registry.Dynamic.Name,
		Images:  w.registry.Images.Name,
	}
}

// resume takes control straight from the partitions of the recorded
// deployment. The worker goes from parsed to active without installing.
func (w *Worker) resume(ctx context.Context) error {
	d, ok, err := LastDeployment(ctx, w.storage)
	if err != nil {
		return err
	}
	if !ok || d != w.deployment() {
		return ErrNothingToResume
	}

	h, ok, err := w.registry.Lookup(ctx, w.storage)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: partitions of %s are missing", ErrNothingToResume, w.version)
	}

	w.mu.Lock()
	if w.state != StateParsed {
		state := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: cannot resume from %s", ErrInvalidState, state)
	}
	w.state = StateActivating
	w.partitions = &h
	w.mu.Unlock()

	if err := w.takeControl(ctx, h); err != nil {
		w.setState(StateParsed)
		return err
	}
	w.log().Info("Resumed from stored partitions")
	return nil
}
