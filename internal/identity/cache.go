package identity

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	identity Identity
	expires  time.Time
}

// DedupingGateway wraps another Gateway and drops an upsert when the same
// identity was delivered within the TTL.
type DedupingGateway struct {
	base Gateway
	ttl  time.Duration
	now  func() time.Time

	mu    sync.Mutex
	items map[string]cacheEntry
}

// NewDedupingGateway returns a Gateway that suppresses repeated identical upserts.
func NewDedupingGateway(base Gateway, ttl time.Duration) *DedupingGateway {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &DedupingGateway{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

// Upsert forwards the identity unless an identical one was recently delivered.
func (g *DedupingGateway) Upsert(ctx context.Context, identity Identity) error {
	now := g.now()

	g.mu.Lock()
	entry, ok := g.items[identity.ID]
	g.mu.Unlock()
	if ok && entry.identity == identity && now.Before(entry.expires) {
		return nil
	}

	if err := g.base.Upsert(ctx, identity); err != nil {
		return err
	}

	g.mu.Lock()
	g.items[identity.ID] = cacheEntry{identity: identity, expires: now.Add(g.ttl)}
	g.gcLocked(now)
	g.mu.Unlock()

	return nil
}

func (g *DedupingGateway) gcLocked(now time.Time) {
	for id, entry := range g.items {
		if !now.Before(entry.expires) {
			delete(g.items, id)
		}
	}
}
