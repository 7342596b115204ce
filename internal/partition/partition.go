// Package partition names the three cache partitions of a worker version and
// the policy attached to each.
package partition

import (
	"context"
	"fmt"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/config"
)

// Policy is the fixed configuration of one partition
type Policy struct {
	Name string
	// MaxEntries bounds the partition; zero means unbounded
	MaxEntries int
	// Precache lists the URLs populated at install
	Precache []string
}

// Registry holds the policies of the current version
type Registry struct {
	Static  Policy
	Dynamic Policy
	Images  Policy
}

// NewRegistry builds the registry from configuration and the install manifest
func NewRegistry(cfg config.PartitionsConfig, staticAssets, criticalImages []string) Registry {
	return Registry{
		Static: Policy{
			Name:       cfg.Static.Name,
			MaxEntries: cfg.Static.MaxEntries,
			Precache:   append([]string(nil), staticAssets...),
		},
		Dynamic: Policy{
			Name:       cfg.Dynamic.Name,
			MaxEntries: cfg.Dynamic.MaxEntries,
		},
		Images: Policy{
			Name:       cfg.Images.Name,
			MaxEntries: cfg.Images.MaxEntries,
			Precache:   append([]string(nil), criticalImages...),
		},
	}
}

// Names returns the partition allow-list
func (r Registry) Names() []string {
	return []string{r.Static.Name, r.Dynamic.Name, r.Images.Name}
}

// Allowed reports whether name belongs to the current version
func (r Registry) Allowed(name string) bool {
	for _, n := range r.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Handles are the opened partitions passed to fetch handlers
type Handles struct {
	Static  cache.Partition
	Dynamic cache.Partition
	Images  cache.Partition
}

// Open opens (creating when absent) the three partitions
func (r Registry) Open(ctx context.Context, storage cache.Storage) (Handles, error) {
	var h Handles
	var err error

	if h.Static, err = storage.Open(ctx, r.Static.Name); err != nil {
		return Handles{}, fmt.Errorf("failed to open static partition: %w", err)
	}
	if h.Dynamic, err = storage.Open(ctx, r.Dynamic.Name); err != nil {
		return Handles{}, fmt.Errorf("failed to open dynamic partition: %w", err)
	}
	if h.Images, err = storage.Open(ctx, r.Images.Name); err != nil {
		return Handles{}, fmt.Errorf("failed to open image partition: %w", err)
	}
	return h, nil
}

// Lookup returns the three partitions only when all of them already exist
func (r Registry) Lookup(ctx context.Context, storage cache.Storage) (Handles, bool, error) {
	var parts [3]cache.Partition
	for i, name := range r.Names() {
		p, ok, err := storage.Lookup(ctx, name)
		if err != nil {
			return Handles{}, false, err
		}
		if !ok {
			return Handles{}, false, nil
		}
		parts[i] = p
	}
	return Handles{Static: parts[0], Dynamic: parts[1], Images: parts[2]}, true, nil
}

// Size is the live entry count of each partition
type Size struct {
	Static  int `json:"static"`
	Dynamic int `json:"dynamic"`
	Images  int `json:"images"`
	Total   int `json:"total"`
}

// Size counts the entries of the three partitions
func (h Handles) Size(ctx context.Context) (Size, error) {
	var s Size
	var err error

	if s.Static, err = h.Static.Len(ctx); err != nil {
		return Size{}, err
	}
	if s.Dynamic, err = h.Dynamic.Len(ctx); err != nil {
		return Size{}, err
	}
	if s.Images, err = h.Images.Len(ctx); err != nil {
		return Size{}, err
	}
	s.Total = s.Static + s.Dynamic + s.Images
	return s, nil
}
