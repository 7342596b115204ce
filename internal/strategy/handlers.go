package strategy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/eviction"
	"github.com/faiz501/bharat-industry/internal/partition"
)

// CacheHeader tells the page where a response came from
const CacheHeader = "X-Cache"

const (
	CacheHit     = "HIT"
	CacheMiss    = "MISS"
	CacheOffline = "OFFLINE"
)

// Handlers answers classified requests from the partitions of one worker
type Handlers struct {
	registry   partition.Registry
	partitions partition.Handles
	storage    cache.Storage
	network    Network
	rootPage   *url.URL
}

// NewHandlers creates the fetch handlers. rootPage is the page served to
// navigations that fail with nothing cached.
func NewHandlers(registry partition.Registry, partitions partition.Handles, storage cache.Storage, network Network, rootPage *url.URL) *Handlers {
	return &Handlers{
		registry:   registry,
		partitions: partitions,
		storage:    storage,
		network:    network,
		rootPage:   rootPage,
	}
}

// Handle answers req, which must carry an absolute URL. It reports false for
// requests this layer does not handle; those go to the network untouched.
// A handled request always gets a response.
func (h *Handlers) Handle(ctx context.Context, req *http.Request) (*http.Response, bool) {
	class, ok := Classify(req)
	if !ok {
		return nil, false
	}

	logrus.Debugf("Handling %s request: %s", class, req.URL)

	switch class {
	case Static:
		return h.handleStatic(ctx, req), true
	case Image:
		return h.handleImage(ctx, req), true
	case API:
		return h.handleAPI(ctx, req), true
	default:
		return h.handlePage(ctx, req), true
	}
}

// cache first, then network
func (h *Handlers) handleStatic(ctx context.Context, req *http.Request) *http.Response {
	if resp := h.lookup(ctx, h.partitions.Static, req); resp != nil {
		logrus.Infof("Serving static asset from cache: %s", req.URL)
		return tag(resp, CacheHit)
	}

	resp, err := h.network.Fetch(ctx, req)
	if err != nil {
		logrus.Warnf("Static asset unavailable offline %s: %v", req.URL, err)
		return tag(offlineStaticResponse(req), CacheOffline)
	}

	if Cacheable(resp) {
		h.store(ctx, h.partitions.Static, h.registry.Static.MaxEntries, req, resp)
	}
	return tag(resp, CacheMiss)
}

// cache first, then network, bounded
func (h *Handlers) handleImage(ctx context.Context, req *http.Request) *http.Response {
	if resp := h.lookup(ctx, h.partitions.Images, req); resp != nil {
		logrus.Infof("Serving image from cache: %s", req.URL)
		return tag(resp, CacheHit)
	}

	resp, err := h.network.Fetch(ctx, req)
	if err != nil {
		logrus.Warnf("Image unavailable offline %s: %v", req.URL, err)
		return tag(placeholderImageResponse(req), CacheOffline)
	}

	if Cacheable(resp) {
		h.store(ctx, h.partitions.Images, h.registry.Images.MaxEntries, req, resp)
	}
	return tag(resp, CacheMiss)
}

// network first, then cache
func (h *Handlers) handleAPI(ctx context.Context, req *http.Request) *http.Response {
	resp, err := h.network.Fetch(ctx, req)
	if err == nil {
		if Cacheable(resp) {
			logrus.Infof("Caching API response: %s", req.URL)
			h.store(ctx, h.partitions.Dynamic, h.registry.Dynamic.MaxEntries, req, resp)
		}
		return tag(resp, CacheMiss)
	}

	logrus.Warnf("Network failed for %s: %v", req.URL, err)
	if cached := h.lookup(ctx, h.partitions.Dynamic, req); cached != nil {
		logrus.Infof("Serving API response from cache: %s", req.URL)
		return tag(cached, CacheHit)
	}
	return tag(offlineJSONResponse(req), CacheOffline)
}

// network first, then cache, then the cached root page
func (h *Handlers) handlePage(ctx context.Context, req *http.Request) *http.Response {
	resp, err := h.network.Fetch(ctx, req)
	if err == nil {
		if Cacheable(resp) {
			h.store(ctx, h.partitions.Dynamic, h.registry.Dynamic.MaxEntries, req, resp)
		}
		return tag(resp, CacheMiss)
	}

	logrus.Warnf("Network failed for %s: %v", req.URL, err)
	if cached := h.lookup(ctx, h.partitions.Dynamic, req); cached != nil {
		logrus.Infof("Serving page from cache: %s", req.URL)
		return tag(cached, CacheHit)
	}

	if h.rootPage != nil {
		rootReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.rootPage.String(), nil)
		if err == nil {
			root, err := cache.MatchAny(ctx, h.storage, rootReq)
			if err != nil {
				logrus.Errorf("Failed to get cached root page: %v", err)
			} else if root != nil {
				logrus.Infof("Serving cached root page for %s", req.URL)
				root.Request = req
				return tag(root, CacheHit)
			}
		}
	}
	return tag(offlinePageResponse(req), CacheOffline)
}

// lookup treats read failures as misses
func (h *Handlers) lookup(ctx context.Context, p cache.Partition, req *http.Request) *http.Response {
	resp, err := p.Match(ctx, req)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", req.URL, err)
		return nil
	}
	return resp
}

// store writes resp and trims the partition back to its limit.
// Failures are logged only.
func (h *Handlers) store(ctx context.Context, p cache.Partition, limit int, req *http.Request, resp *http.Response) {
	// the write outlives a page that hangs up
	ctx = context.WithoutCancel(ctx)

	if err := p.Put(ctx, req, resp); err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", req.URL, err)
		return
	}
	if _, err := eviction.EnforceLimit(ctx, p, limit); err != nil {
		logrus.Errorf("Failed to enforce limit on %s: %v", p.Name(), err)
	}
}

// Cacheable reports whether resp may be stored: a complete 2xx response.
// Partial content from a range request is never stored.
func Cacheable(resp *http.Response) bool {
	if resp.StatusCode == http.StatusPartialContent {
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func tag(resp *http.Response, source string) *http.Response {
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(CacheHeader, source)
	return resp
}
