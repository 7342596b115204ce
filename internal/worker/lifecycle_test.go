package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/strategy"
)

// brokenWrites fails every write of one URL
type brokenWrites struct {
	cache.Storage
	key string
}

func (s brokenWrites) Open(ctx context.Context, name string) (cache.Partition, error) {
	p, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return brokenPartition{Partition: p, key: s.key}, nil
}

type brokenPartition struct {
	cache.Partition
	key string
}

func (p brokenPartition) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	if key, _ := cache.Key(req); key == p.key {
		return errors.New("disk full")
	}
	return p.Partition.Put(ctx, req, resp)
}

func TestFailedWriteRestoresPreviousEntries(t *testing.T) {
	ctx := context.Background()
	env := newEnv()
	memory := env.storage

	// left by an earlier install of the same partition
	static, err := memory.Open(ctx, "bharat-static-v1")
	require.NoError(t, err)
	home, _ := http.NewRequest(http.MethodGet, origin+"/index.html", nil)
	require.NoError(t, static.Put(ctx, home, strategy.NewResponse(home, http.StatusOK, "text/html", "old home")))

	env.storage = brokenWrites{Storage: memory, key: "GET https://bharat.example/css/style.css"}
	w := env.worker(t, "v1", defaultPartitions())

	_, err = w.Dispatch(ctx, Event{Kind: EventInstall})
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, StateRedundant, w.State())

	// "/" was new and is gone; "/index.html" is back to what it was
	assert.Equal(t, []string{"GET https://bharat.example/index.html"}, keysOf(t, memory, "bharat-static-v1"))
	resp, err := static.Match(ctx, home)
	require.NoError(t, err)
	require.NotNil(t, resp)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "old home", string(b))
}

func TestInstallRejectsPartialContent(t *testing.T) {
	env := newEnv()
	w := env.worker(t, "v1", defaultPartitions())
	env.network.status = map[string]int{"https://bharat.example/images/hero-img.webp": http.StatusPartialContent}

	_, err := w.Dispatch(context.Background(), Event{Kind: EventInstall})
	var installErr *InstallError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, "https://bharat.example/images/hero-img.webp", installErr.URL)
	assert.Empty(t, keysOf(t, env.storage, "bharat-static-v1"))
}

func TestMaintenanceDoesNotCreatePartitions(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	w := env.worker(t, "v1", defaultPartitions())

	size, err := w.CacheSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size.Total)

	removed, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}
