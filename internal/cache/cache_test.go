package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(body string) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newGet(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// storages returns one instance of every backend
func storages(t *testing.T) map[string]Storage {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "partitions.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Storage{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		rawURL  string
		want    string
		wantErr error
	}{
		{
			name:   "absolute URL",
			method: http.MethodGet,
			rawURL: "https://example.com/css/style.css?v=2",
			want:   "GET https://example.com/css/style.css?v=2",
		},
		{
			name:   "fragment stripped",
			method: http.MethodGet,
			rawURL: "https://example.com/team.html#lead",
			want:   "GET https://example.com/team.html",
		},
		{
			name:    "POST rejected",
			method:  http.MethodPost,
			rawURL:  "https://example.com/contact",
			wantErr: ErrMethodNotCacheable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.rawURL, nil)
			require.NoError(t, err)

			got, err := Key(req)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeyRejectsRelativeURL(t *testing.T) {
	req := newGet(t, "/index.html")
	_, err := Key(req)
	assert.Error(t, err)
}

func TestPartitionPutMatch(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, err := storage.Open(ctx, "bharat-static-v1")
			require.NoError(t, err)

			req := newGet(t, "https://example.com/css/style.css")

			miss, err := p.Match(ctx, req)
			require.NoError(t, err)
			assert.Nil(t, miss)

			resp := newResponse("body { color: red }")
			require.NoError(t, p.Put(ctx, req, resp))
			// the stored response is still readable by the caller
			assert.Equal(t, "body { color: red }", readBody(t, resp))

			hit, err := p.Match(ctx, req)
			require.NoError(t, err)
			require.NotNil(t, hit)
			assert.Equal(t, http.StatusOK, hit.StatusCode)
			assert.Equal(t, "text/plain", hit.Header.Get("Content-Type"))
			assert.Equal(t, "body { color: red }", readBody(t, hit))
			assert.Same(t, req, hit.Request)
		})
	}
}

func TestPartitionPutRejectsNonGet(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, err := storage.Open(ctx, "bharat-dynamic-v1")
			require.NoError(t, err)

			req, err := http.NewRequest(http.MethodPost, "https://example.com/contact", nil)
			require.NoError(t, err)

			err = p.Put(ctx, req, newResponse("ok"))
			assert.True(t, errors.Is(err, ErrMethodNotCacheable))

			n, err := p.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestPartitionKeysInsertionOrder(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, err := storage.Open(ctx, "bharat-images-v1")
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				req := newGet(t, "https://example.com/images/"+strconv.Itoa(i)+".png")
				require.NoError(t, p.Put(ctx, req, newResponse("img")))
			}

			// a hit does not reorder
			_, err = p.Match(ctx, newGet(t, "https://example.com/images/0.png"))
			require.NoError(t, err)

			keys, err := p.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{
				"GET https://example.com/images/0.png",
				"GET https://example.com/images/1.png",
				"GET https://example.com/images/2.png",
			}, keys)

			// a rewrite makes the entry the newest
			require.NoError(t, p.Put(ctx, newGet(t, "https://example.com/images/0.png"), newResponse("img2")))
			keys, err = p.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, "GET https://example.com/images/0.png", keys[2])

			n, err := p.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestPartitionDelete(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, err := storage.Open(ctx, "bharat-dynamic-v1")
			require.NoError(t, err)

			req := newGet(t, "https://example.com/data/config.json")
			require.NoError(t, p.Put(ctx, req, newResponse("{}")))

			key, err := Key(req)
			require.NoError(t, err)

			deleted, err := p.Delete(ctx, key)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = p.Delete(ctx, key)
			require.NoError(t, err)
			assert.False(t, deleted)

			resp, err := p.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, resp)
		})
	}
}

func TestStorageNamesAndDelete(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, n := range []string{"bharat-static-v0", "bharat-static-v1", "bharat-images-v1"} {
				p, err := storage.Open(ctx, n)
				require.NoError(t, err)
				require.NoError(t, p.Put(ctx, newGet(t, "https://example.com/"+n), newResponse(n)))
			}

			// opening an existing partition does not duplicate it
			_, err := storage.Open(ctx, "bharat-static-v1")
			require.NoError(t, err)

			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"bharat-static-v0", "bharat-static-v1", "bharat-images-v1"}, names)

			deleted, err := storage.Delete(ctx, "bharat-static-v0")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = storage.Delete(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, deleted)

			names, err = storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"bharat-static-v1", "bharat-images-v1"}, names)

			// entries went with the partition
			p, err := storage.Open(ctx, "bharat-static-v0")
			require.NoError(t, err)
			n, err := p.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestMatchAny(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := storage.Open(ctx, "bharat-images-v1")
			require.NoError(t, err)
			static, err := storage.Open(ctx, "bharat-static-v1")
			require.NoError(t, err)

			req := newGet(t, "https://example.com/index.html")
			require.NoError(t, static.Put(ctx, req, newResponse("<html>home</html>")))

			resp, err := MatchAny(ctx, storage, req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, "<html>home</html>", readBody(t, resp))

			resp, err = MatchAny(ctx, storage, newGet(t, "https://example.com/missing.html"))
			require.NoError(t, err)
			assert.Nil(t, resp)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "partitions.sqlite")

	storage, err := OpenSQLite(dsn)
	require.NoError(t, err)
	p, err := storage.Open(ctx, "bharat-static-v1")
	require.NoError(t, err)
	require.NoError(t, p.Put(ctx, newGet(t, "https://example.com/js/main.js"), newResponse("main()")))
	require.NoError(t, storage.Close())

	storage, err = OpenSQLite(dsn)
	require.NoError(t, err)
	defer func() { _ = storage.Close() }()

	p, err = storage.Open(ctx, "bharat-static-v1")
	require.NoError(t, err)
	resp, err := p.Match(ctx, newGet(t, "https://example.com/js/main.js"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "main()", readBody(t, resp))
}

func TestStorageLookup(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			p, ok, err := storage.Lookup(ctx, "bharat-static-v1")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, p)

			// a missed lookup does not create the partition
			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)

			opened, err := storage.Open(ctx, "bharat-static-v1")
			require.NoError(t, err)
			req := newGet(t, "https://example.com/css/style.css")
			require.NoError(t, opened.Put(ctx, req, newResponse("body{}")))

			p, ok, err = storage.Lookup(ctx, "bharat-static-v1")
			require.NoError(t, err)
			require.True(t, ok)
			resp, err := p.Match(ctx, req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, "body{}", readBody(t, resp))
		})
	}
}

// staleNames reports partitions that were deleted after being listed
type staleNames struct {
	Storage
	names []string
}

func (s staleNames) Names(context.Context) ([]string, error) {
	return s.names, nil
}

func TestMatchAnySkipsDeletedPartitions(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			static, err := storage.Open(ctx, "bharat-static-v2")
			require.NoError(t, err)
			req := newGet(t, "https://example.com/index.html")
			require.NoError(t, static.Put(ctx, req, newResponse("<html>v2</html>")))

			listed := staleNames{Storage: storage, names: []string{"bharat-static-v1", "bharat-static-v2"}}
			resp, err := MatchAny(ctx, listed, req)
			require.NoError(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, "<html>v2</html>", readBody(t, resp))

			names, err := storage.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"bharat-static-v2"}, names)
		})
	}
}

func TestStorageMeta(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, err := storage.Meta(ctx, "active-worker")
			require.NoError(t, err)
			assert.Empty(t, v)

			require.NoError(t, storage.SetMeta(ctx, "active-worker", "v1"))
			require.NoError(t, storage.SetMeta(ctx, "active-worker", "v2"))

			v, err = storage.Meta(ctx, "active-worker")
			require.NoError(t, err)
			assert.Equal(t, "v2", v)
		})
	}
}

func TestSQLiteMetaPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "partitions.sqlite")

	storage, err := OpenSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, storage.SetMeta(ctx, "active-worker", `{"version":"v1"}`))
	require.NoError(t, storage.Close())

	storage, err = OpenSQLite(dsn)
	require.NoError(t, err)
	defer func() { _ = storage.Close() }()

	v, err := storage.Meta(ctx, "active-worker")
	require.NoError(t, err)
	assert.Equal(t, `{"version":"v1"}`, v)
}
