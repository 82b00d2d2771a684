package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loyalnexus/internal/config"
	"loyalnexus/internal/server"
)

func TestRouterServesHealthAndMetrics(t *testing.T) {
	r := server.NewRouter("servertest")
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("pong")) })
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "loyalnexus_servertest_requests_total")
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func testConfig(t *testing.T) config.ServerConfig {
	cfg := config.Default().Server
	cfg.Port = freePort(t)
	cfg.ShutdownTimeout = config.Duration{Duration: time.Second}
	return cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loopStopped := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, testConfig(t), http.NotFoundHandler(), slog.New(slog.DiscardHandler),
			func(ctx context.Context) error {
				<-ctx.Done()
				close(loopStopped)
				return ctx.Err()
			})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	<-loopStopped
}

func TestRunReturnsLoopFailure(t *testing.T) {
	boom := errors.New("worker crashed")
	err := server.Run(context.Background(), testConfig(t), http.NotFoundHandler(), slog.New(slog.DiscardHandler),
		func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
