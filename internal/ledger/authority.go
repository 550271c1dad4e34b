package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// AuthorityCache fetches and caches the admin authority configured on the
// ledger. The authority changes rarely, so one query per TTL is enough.
type AuthorityCache struct {
	fetch     func(ctx context.Context) (string, error)
	mu        sync.RWMutex
	value     string
	lastFetch time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewAuthorityCache(fetch func(ctx context.Context) (string, error), ttl time.Duration) *AuthorityCache {
	return &AuthorityCache{
		fetch: fetch,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the cached authority, refreshing it once stale.
func (a *AuthorityCache) Get(ctx context.Context) (string, error) {
	// Fast path: cached
	a.mu.RLock()
	if a.value != "" && a.now().Sub(a.lastFetch) <= a.ttl {
		v := a.value
		a.mu.RUnlock()
		return v, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	// Double-check under lock
	if a.value != "" && a.now().Sub(a.lastFetch) <= a.ttl {
		return a.value, nil
	}
	v, err := a.fetch(ctx)
	if err != nil {
		return "", err
	}
	a.value = v
	a.lastFetch = a.now()
	return v, nil
}

// Verify checks that identity is the ledger's admin authority.
func (a *AuthorityCache) Verify(ctx context.Context, identity string) error {
	authority, err := a.Get(ctx)
	if err != nil {
		return fmt.Errorf("read admin authority: %w", err)
	}
	if !sameIdentity(authority, identity) {
		return fmt.Errorf("signer %s is not the admin authority %s", identity, authority)
	}
	return nil
}

func sameIdentity(a, b string) bool {
	norm := func(s string) string { return strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "0X") }
	return norm(a) != "" && norm(a) == norm(b)
}
