package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faiz501/bharat-industry/internal/cache"
	"github.com/faiz501/bharat-industry/internal/config"
	"github.com/faiz501/bharat-industry/internal/partition"
	"github.com/faiz501/bharat-industry/internal/strategy"
	"github.com/faiz501/bharat-industry/internal/worker"
)

type fixture struct {
	cfg    *config.Config
	host   *worker.Host
	hub    *Hub
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	host := worker.NewHost(worker.HostOptions{RetryInterval: time.Millisecond})
	hub := NewHub(host)
	server := httptest.NewServer(New(&cfg, host, hub).Handler())
	t.Cleanup(server.Close)

	return &fixture{cfg: &cfg, host: host, hub: hub, server: server}
}

// register installs and activates a worker whose network always answers
func (f *fixture) register(t *testing.T) *worker.Worker {
	t.Helper()

	network := strategy.NetworkFunc(func(_ context.Context, req *http.Request) (*http.Response, error) {
		return strategy.NewResponse(req, http.StatusOK, "text/plain", "ok"), nil
	})
	origin, _ := url.Parse("https://bharat.example")

	w, err := worker.New(worker.Options{
		Version:  f.cfg.Lifecycle.Version,
		Registry: partition.NewRegistry(f.cfg.Partitions, []string{"/", "/css/style.css"}, []string{"/images/logo.webp"}),
		Storage:  cache.NewMemory(),
		Network:  network,
		Origin:   origin,
		Clients:  f.hub,
	})
	require.NoError(t, err)
	require.NoError(t, f.host.Register(context.Background(), w))
	return w
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/sw/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	want := f.hub.Len() + 1
	require.Eventually(t, func() bool { return f.hub.Len() >= want }, time.Second, 5*time.Millisecond)
	return ws
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readPageMessage(t *testing.T, ws *websocket.Conn) PageMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg PageMessage
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, "none", health.State)

	f.register(t)

	resp, err = http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "active", health.State)
	assert.Equal(t, "bharat-industries-v1.2", health.Version)
}

func TestMessages(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sw/messages", `{"type":"GET_CACHE_SIZE"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.register(t)

	resp = f.post(t, "/sw/messages", `{"type":"GET_CACHE_SIZE"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply worker.CacheSizeReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, partition.Size{Static: 2, Images: 1, Total: 3}, reply.CacheSize)

	resp = f.post(t, "/sw/messages", `{"type":"SKIP_WAITING"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.post(t, "/sw/messages", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocketReplyChannel(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ws := f.dial(t)

	require.NoError(t, ws.WriteJSON(worker.Message{Type: worker.MessageGetCacheSize}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply worker.CacheSizeReply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.Equal(t, 3, reply.CacheSize.Total)
}

func TestClaimBroadcastsControllerChange(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	f.register(t)

	msg := readPageMessage(t, ws)
	assert.Equal(t, TypeControllerChange, msg.Type)
	assert.Equal(t, "bharat-industries-v1.2", msg.Version)
}

func TestPushAndClick(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	ws := f.dial(t)

	resp := f.post(t, "/sw/push", `{"title":"Diwali offer","body":"10% off","data":{"url":"/products.html"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var n worker.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&n))

	msg := readPageMessage(t, ws)
	assert.Equal(t, TypeNotification, msg.Type)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, n.ID, msg.Notification.ID)
	assert.Equal(t, "Diwali offer", msg.Notification.Title)

	resp = f.post(t, "/sw/notifications/"+n.ID+"/click", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	msg = readPageMessage(t, ws)
	assert.Equal(t, TypeOpenWindow, msg.Type)
	assert.Equal(t, "/products.html", msg.URL)

	resp = f.post(t, "/sw/notifications/"+n.ID+"/click", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushWithoutPayload(t *testing.T) {
	f := newFixture(t)
	f.register(t)

	resp := f.post(t, "/sw/push", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.post(t, "/sw/push", "not json")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestSyncTriggers(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/sw/sync/contact-form", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.register(t)

	for _, path := range []string{
		"/sw/sync/contact-form",
		"/sw/sync/unknown",
		"/sw/periodicsync/cache-cleanup",
	} {
		resp := f.post(t, path, "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, path)
	}
}
