// Package eviction bounds partition growth. Both operations are best effort:
// concurrent writers may briefly push a partition over its limit, and the
// next write brings it back.
package eviction

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/cache"
)

// EnforceLimit deletes the oldest entries of p until at most maxEntries
// remain. Age is insertion order; cache hits do not count.
// A maxEntries of zero or less means unbounded. Returns the number deleted.
func EnforceLimit(ctx context.Context, p cache.Partition, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	keys, err := p.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list keys of %s: %w", p.Name(), err)
	}
	if len(keys) <= maxEntries {
		return 0, nil
	}

	deleted := 0
	for _, key := range keys[:len(keys)-maxEntries] {
		ok, err := p.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("failed to evict %s from %s: %w", key, p.Name(), err)
		}
		if ok {
			deleted++
		}
	}

	logrus.Debugf("Evicted %d entries from %s (limit %d)", deleted, p.Name(), maxEntries)
	return deleted, nil
}

// ExpireOlderThan deletes every entry of p whose stored Date header is more
// than maxAge before now. Entries without a parseable Date are kept.
// Returns the number deleted.
func ExpireOlderThan(ctx context.Context, p cache.Partition, maxAge time.Duration, now time.Time) (int, error) {
	keys, err := p.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list keys of %s: %w", p.Name(), err)
	}

	deleted := 0
	for _, key := range keys {
		resp, err := p.Get(ctx, key)
		if err != nil {
			logrus.Warnf("Skipping unreadable entry %s in %s: %v", key, p.Name(), err)
			continue
		}
		if resp == nil {
			continue // removed concurrently
		}
		_ = resp.Body.Close()

		dateHeader := resp.Header.Get("Date")
		if dateHeader == "" {
			continue
		}
		stamp, err := http.ParseTime(dateHeader)
		if err != nil {
			continue
		}

		if now.Sub(stamp) > maxAge {
			ok, err := p.Delete(ctx, key)
			if err != nil {
				return deleted, fmt.Errorf("failed to expire %s from %s: %w", key, p.Name(), err)
			}
			if ok {
				deleted++
			}
		}
	}

	logrus.Debugf("Expired %d entries from %s (max age %s)", deleted, p.Name(), maxAge)
	return deleted, nil
}
