package identity

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

type recordingGateway struct {
	mu    sync.Mutex
	calls []Identity
	err   error
	// failures makes the first n calls fail with err.
	failures int
}

func (g *recordingGateway) Upsert(_ context.Context, identity Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, identity)
	if g.err != nil && (g.failures == 0 || len(g.calls) <= g.failures) {
		return g.err
	}
	return nil
}

func (g *recordingGateway) Calls() []Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Identity(nil), g.calls...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
