// Handles persistent storage of HTTP responses in named partitions
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrMethodNotCacheable is returned when a non-GET request is used as a key
var ErrMethodNotCacheable = errors.New("only GET requests can be cached")

// Storage holds the named partitions of a worker
type Storage interface {
	// Open returns the partition with the given name, creating it if absent
	Open(ctx context.Context, name string) (Partition, error)
	// Lookup returns an existing partition and never creates one
	Lookup(ctx context.Context, name string) (Partition, bool, error)
	// Names lists existing partitions in creation order
	Names(ctx context.Context) ([]string, error)
	// Delete removes a partition and all of its entries.
	// Reports whether the partition existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Meta returns a value stored next to the partitions, "" when unset
	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	Close() error
}

// Partition is a persistent key to response mapping.
// Keys are returned oldest first, where age is the time of the last Put.
type Partition interface {
	Name() string
	// Match returns the stored response for req, or nil, nil on a miss
	Match(ctx context.Context, req *http.Request) (*http.Response, error)
	// Get returns the stored response for a key, or nil, nil on a miss
	Get(ctx context.Context, key string) (*http.Response, error)
	// Put stores or refreshes the response for req. A refreshed entry
	// becomes the newest one.
	Put(ctx context.Context, req *http.Request, resp *http.Response) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Key returns the canonical identity of a request: method and absolute URL
// without fragment.
func Key(req *http.Request) (string, error) {
	if req.Method != http.MethodGet && req.Method != "" {
		return "", fmt.Errorf("%w: %s %s", ErrMethodNotCacheable, req.Method, req.URL)
	}
	if req.URL == nil || !req.URL.IsAbs() {
		return "", fmt.Errorf("request URL must be absolute: %v", req.URL)
	}

	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return http.MethodGet + " " + u.String(), nil
}

// MatchAny looks req up in every partition, in creation order. Partitions
// deleted while the lookup runs are skipped, not re-created.
func MatchAny(ctx context.Context, storage Storage, req *http.Request) (*http.Response, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	for _, name := range names {
		partition, ok, err := storage.Lookup(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to open partition %s: %w", name, err)
		}
		if !ok {
			continue
		}
		resp, err := partition.Match(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}
