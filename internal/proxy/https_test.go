package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faiz501/bharat-industry/internal/worker"
)

func TestDumbResponseWriterSwallowsConnectReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	w := dumbResponseWriter{server}

	n, err := w.Write([]byte("HTTP/1.0 200 OK\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 19, n)

	go func() {
		_, _ = w.Write([]byte("hello"))
	}()
	buf := make([]byte, 5)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestTransparentHTTPSStopsWithContext(t *testing.T) {
	s, err := New(fixtureConfig("http://localhost:8000"), worker.NewHost(worker.HostOptions{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.StartTransparentHTTPS(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transparent listener did not stop")
	}
}

func TestTransparentHTTPSInvalidAddress(t *testing.T) {
	s, err := New(fixtureConfig("http://localhost:8000"), worker.NewHost(worker.HostOptions{}))
	require.NoError(t, err)

	assert.Error(t, s.StartTransparentHTTPS(context.Background(), "256.0.0.1:bad"))
}
