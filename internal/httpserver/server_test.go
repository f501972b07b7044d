package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	srv := New(Config{Port: 8080}, http.NotFoundHandler())

	if srv.inner.Addr != ":8080" {
		t.Fatalf("expected :8080 got %s", srv.inner.Addr)
	}
	if srv.inner.ReadHeaderTimeout != 5*time.Second {
		t.Fatalf("unexpected read header timeout %v", srv.inner.ReadHeaderTimeout)
	}
	if srv.inner.WriteTimeout != 30*time.Second || srv.inner.IdleTimeout != time.Minute {
		t.Fatalf("unexpected timeouts %v %v", srv.inner.WriteTimeout, srv.inner.IdleTimeout)
	}
}

func TestServeStopsWhenContextIsCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := New(Config{}, handler)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln, logger)
	}()

	resp, err := http.Get("http://" + ln.Addr().String())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected 418 got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
