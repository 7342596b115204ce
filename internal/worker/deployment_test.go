package worker

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/strategy"
)

func TestRestartOfflineResumesStoredPartitions(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "partitions.sqlite")

	storage, err := cache.OpenSQLite(dsn)
	require.NoError(t, err)
	env := newEnv()
	env.storage = storage
	_, _ = activeWorker(t, env)
	require.NoError(t, storage.Close())

	// the process comes back while the origin is down
	storage, err = cache.OpenSQLite(dsn)
	require.NoError(t, err)
	defer func() { _ = storage.Close() }()
	env.storage = storage
	env.network.setOffline(true)
	calls := env.network.calls

	host := NewHost(HostOptions{InstallRetries: 0, RetryInterval: time.Millisecond})
	w := env.worker(t, "v1", defaultPartitions())
	require.NoError(t, host.Register(ctx, w))
	assert.Equal(t, StateActivated, w.State())
	assert.Same(t, w, host.Active())
	assert.Equal(t, calls, env.network.calls, "resuming does not install")

	req, _ := http.NewRequest(http.MethodGet, origin+"/css/style.css", nil)
	resp, ok := host.Fetch(ctx, req)
	require.True(t, ok)
	assert.Equal(t, strategy.CacheHit, resp.Header.Get(strategy.CacheHeader))

	// an uncached page falls back to the stored root page
	page, _ := http.NewRequest(http.MethodGet, origin+"/team.html", nil)
	resp, ok = host.Fetch(ctx, page)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strategy.CacheHit, resp.Header.Get(strategy.CacheHeader))
}

func TestActivateRecordsDeployment(t *testing.T) {
	env := newEnv()
	ctx := context.Background()

	_, ok, err := LastDeployment(ctx, env.storage)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _ = activeWorker(t, env)

	d, ok, err := LastDeployment(ctx, env.storage)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Deployment{
		Version: "v1",
		Static:  "bharat-static-v1",
		Dynamic: "bharat-dynamic-v1",
		Images:  "bharat-images-v1",
	}, d)
}

func TestResumeNeedsCompleteDeployment(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	_, _ = activeWorker(t, env)

	// another version was never deployed here
	other := env.worker(t, "v2", defaultPartitions())
	err := NewHost(HostOptions{}).Resume(ctx, other)
	assert.True(t, errors.Is(err, ErrNothingToResume))
	assert.Equal(t, StateParsed, other.State())

	// same version, but a partition is gone
	_, err = env.storage.Delete(ctx, "bharat-images-v1")
	require.NoError(t, err)
	again := env.worker(t, "v1", defaultPartitions())
	err = NewHost(HostOptions{}).Resume(ctx, again)
	assert.True(t, errors.Is(err, ErrNothingToResume))
	assert.Equal(t, StateParsed, again.State())
}

func TestRegisterReinstallsIncompleteDeployment(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	_, _ = activeWorker(t, env)

	_, err := env.storage.Delete(ctx, "bharat-static-v1")
	require.NoError(t, err)
	calls := env.network.calls

	host := NewHost(HostOptions{RetryInterval: time.Millisecond})
	w := env.worker(t, "v1", defaultPartitions())
	require.NoError(t, host.Register(ctx, w))
	assert.Equal(t, StateActivated, w.State())
	assert.Equal(t, calls+6, env.network.calls)
	assert.Len(t, keysOf(t, env.storage, "bharat-static-v1"), 4)
}

func TestFailedUpgradeKeepsActiveWorker(t *testing.T) {
	env := newEnv()
	ctx := context.Background()
	host, v1 := activeWorker(t, env)

	env.network.setOffline(true)
	next := config.PartitionsConfig{
		Static:  config.PartitionConfig{Name: "bharat-static-v2"},
		Dynamic: config.PartitionConfig{Name: "bharat-dynamic-v2", MaxEntries: 50},
		Images:  config.PartitionConfig{Name: "bharat-images-v2", MaxEntries: 20},
	}
	v2 := env.worker(t, "v2", next)
	require.Error(t, host.Register(ctx, v2))

	assert.Same(t, v1, host.Active())
	assert.Equal(t, StateActivated, v1.State())

	d, ok, err := LastDeployment(ctx, env.storage)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", d.Version)

	req, _ := http.NewRequest(http.MethodGet, origin+"/css/style.css", nil)
	resp, ok := host.Fetch(ctx, req)
	require.True(t, ok)
	assert.Equal(t, strategy.CacheHit, resp.Header.Get(strategy.CacheHeader))
}

func TestDeploymentRegistry(t *testing.T) {
	env := newEnv()
	w := env.worker(t, "v1", defaultPartitions())
	d := Deployment{Version: "v0", Static: "s0", Dynamic: "d0", Images: "i0"}

	r := d.Registry(w.Registry())
	assert.Equal(t, []string{"s0", "d0", "i0"}, r.Names())
	assert.Equal(t, w.Registry().Dynamic.MaxEntries, r.Dynamic.MaxEntries)
}
