package strategy

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Network performs the network leg of a fetch. An error means the network
// could not be reached; any HTTP status is a successful fetch.
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPNetwork fetches over HTTP with a bounded timeout
type HTTPNetwork struct {
	client *http.Client
}

// NewHTTPNetwork creates a network leg with the given request timeout
func NewHTTPNetwork(timeout time.Duration) *HTTPNetwork {
	return &HTTPNetwork{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch issues a fresh outgoing copy of req
func (n *HTTPNetwork) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Copy headers
	for key, values := range req.Header {
		for _, value := range values {
			out.Header.Add(key, value)
		}
	}
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Proxy-Authorization")

	resp, err := n.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, err)
	}
	return resp, nil
}

// NetworkFunc adapts a function to the Network interface
type NetworkFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f NetworkFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}
