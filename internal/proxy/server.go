// Package proxy puts the offline worker in front of real traffic. Requests
// reach it either as forward-proxy requests (optionally with TLS
// interception) or as plain requests to the origin, and every GET is offered
// to the active worker before it goes to the network.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/strategy"
	"github.com/faiz501/bharat-industry/internal/worker"
)

// Server represents the offline caching proxy server
type Server struct {
	config *config.Config
	host   *worker.Host
	origin *url.URL
	proxy  *goproxy.ProxyHttpServer
}

// New creates a new proxy server routing requests to host
func New(cfg *config.Config, host *worker.Host) (*Server, error) {
	origin, err := url.Parse(cfg.Origin.URL)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("invalid origin URL %q", cfg.Origin.URL)
	}

	s := &Server{
		config: cfg,
		host:   host,
		origin: origin,
		proxy:  goproxy.NewProxyHttpServer(),
	}
	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.CertStore = newCertStore()
	s.proxy.NonproxyHandler = http.HandlerFunc(s.handleDirect)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest(isGet).DoFunc(s.handleRequest)
	s.proxy.OnResponse().DoFunc(logForwarded)

	return s, nil
}

// GetProxy returns the underlying goproxy server
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.proxy,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		go func() {
			if err := s.StartTransparentHTTPS(ctx, addr); err != nil {
				logrus.Errorf("Transparent HTTPS listener stopped: %v", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Starting offline proxy on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.origin)
	logrus.Infof("TLS interception: %t", s.config.Server.HTTPS.Enabled)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var isGet = goproxy.ReqConditionFunc(func(requ *http.Request, _ *goproxy.ProxyCtx) bool {
	return requ.Method == http.MethodGet
})

// handleRequest offers requ to the active worker. A nil response lets
// goproxy forward the request untouched.
func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp, ok := s.host.Fetch(requ.Context(), requ)
	if !ok {
		logrus.Debugf("Passing through: %s %s", requ.Method, requ.URL)
		return requ, nil
	}

	ctx.UserData = resp.Header.Get(strategy.CacheHeader)
	logrus.Infof("Answered by worker: %s %s -> %d", requ.Method, requ.URL, resp.StatusCode)
	return requ, resp
}

// handleDirect serves requests addressed to the proxy itself by resolving
// them against the origin and running them through the proxy pipeline
func (s *Server) handleDirect(w http.ResponseWriter, requ *http.Request) {
	out := requ.Clone(requ.Context())
	out.URL = s.origin.ResolveReference(&url.URL{
		Path:     requ.URL.Path,
		RawPath:  requ.URL.RawPath,
		RawQuery: requ.URL.RawQuery,
	})
	out.Host = out.URL.Host
	out.RequestURI = ""

	s.proxy.ServeHTTP(w, out)
}

func logForwarded(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil || ctx.Req == nil || ctx.UserData != nil {
		return resp
	}
	logrus.Infof("Forwarded request: %s %s -> %d", ctx.Req.Method, getTargetURL(ctx.Req), resp.StatusCode)
	return resp
}
