package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDedupingGatewaySuppressesRepeats(t *testing.T) {
	base := &recordingGateway{}
	gateway := NewDedupingGateway(base, time.Minute)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	gateway.now = func() time.Time { return now }

	ctx := context.Background()
	id := Identity{ID: "u1", DisplayName: "Ana", AvatarURL: "https://img/1.png"}

	if err := gateway.Upsert(ctx, id); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := gateway.Upsert(ctx, id); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := len(base.Calls()); got != 1 {
		t.Fatalf("expected one delivery got %d", got)
	}

	changed := id
	changed.DisplayName = "Ana Maria"
	if err := gateway.Upsert(ctx, changed); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := len(base.Calls()); got != 2 {
		t.Fatalf("expected changed identity to be delivered, got %d calls", got)
	}

	now = now.Add(2 * time.Minute)
	if err := gateway.Upsert(ctx, changed); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := len(base.Calls()); got != 3 {
		t.Fatalf("expected delivery after ttl, got %d calls", got)
	}
}

func TestDedupingGatewayDoesNotCacheFailures(t *testing.T) {
	base := &recordingGateway{err: errors.New("directory down")}
	gateway := NewDedupingGateway(base, time.Minute)
	id := Identity{ID: "u1", DisplayName: "Ana"}

	for i := 0; i < 2; i++ {
		if err := gateway.Upsert(context.Background(), id); err == nil {
			t.Fatal("expected error from base gateway")
		}
	}
	if got := len(base.Calls()); got != 2 {
		t.Fatalf("expected both attempts forwarded got %d", got)
	}
}
