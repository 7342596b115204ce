package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/partition"
	"github.com/faiz501/bharat-industry/internal/proxy"
	"github.com/faiz501/bharat-industry/internal/strategy"
	"github.com/faiz501/bharat-industry/internal/worker"
)

// fixture_upstream creates a test origin that serves every path and can be
// switched offline
func fixture_upstream(offline *atomic.Bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		if offline.Load() {
			// drop the connection like an unreachable network
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		switch filepath.Ext(requ.URL.Path) {
		case ".json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"path": "` + requ.URL.Path + `"}`))
		case ".webp", ".jpeg":
			w.Header().Set("Content-Type", "image/webp")
			_, _ = w.Write([]byte("image " + requ.URL.Path))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("Hello from upstream " + requ.URL.Path))
		}
	}))
}

// fixture_config creates a test config backed by SQLite in tempDir with a
// small local manifest
func fixture_config(originURL, tempDir string) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Origin.URL = originURL
	cfg.Storage.DSN = filepath.Join(tempDir, "partitions.sqlite")
	cfg.Manifest = config.ManifestConfig{
		Static: []string{"/", "/index.html", "/css/style.css", "/js/main.js"},
		Images: []string{"/images/logo.webp", "/images/hero-img.webp"},
	}
	return &cfg
}

// fixture_host opens the store and registers the configured worker version
func fixture_host(ctx context.Context, cfg *config.Config, storage cache.Storage, host *worker.Host) (*worker.Worker, error) {
	origin, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return nil, err
	}
	maxAge, err := cfg.GetCleanupMaxAge()
	if err != nil {
		return nil, err
	}

	w, err := worker.New(worker.Options{
		Version:  cfg.Lifecycle.Version,
		Registry: partition.NewRegistry(cfg.Partitions, cfg.Manifest.Static, cfg.Manifest.Images),
		Storage:  storage,
		Network:  strategy.NewHTTPNetwork(2 * time.Second),
		Origin:   origin,
		MaxAge:   maxAge,
	})
	if err != nil {
		return nil, err
	}
	return w, host.Register(ctx, w)
}

// fixture_proxy creates a proxy server in front of host and returns the
// server, test server, and HTTP client
func fixture_proxy(cfg *config.Config, host *worker.Host) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg, host)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
