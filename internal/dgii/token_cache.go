package dgii

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// safetyMargin is subtracted from the authority's stated token lifetime so a
// token can never expire mid-request.
const safetyMargin = 5 * time.Minute

// defaultTokenTTL applies when the authority response carries no parseable
// expiry.
const defaultTokenTTL = time.Hour

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// tokenCache holds per-tenant bearer tokens in memory. Concurrent misses for
// one tenant collapse into a single handshake; other tenants are unaffected.
// Tokens are never persisted.
type tokenCache struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	tokens map[uuid.UUID]cachedToken
	group  singleflight.Group
}

func newTokenCache(clock clockwork.Clock) *tokenCache {
	return &tokenCache{
		clock:  clock,
		tokens: make(map[uuid.UUID]cachedToken),
	}
}

// get returns a fresh cached token or runs fetch through singleflight.
// fetch must return the token and its absolute expiry (margin already
// applied by the caller of get).
func (tc *tokenCache) get(ctx context.Context, tenantID uuid.UUID, fetch func(ctx context.Context) (string, time.Time, error)) (string, error) {
	if tok, ok := tc.lookup(tenantID); ok {
		return tok, nil
	}

	v, err, _ := tc.group.Do(tenantID.String(), func() (interface{}, error) {
		// Another flight may have filled the cache while we queued.
		if tok, ok := tc.lookup(tenantID); ok {
			return tok, nil
		}
		token, expiresAt, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		tc.mu.Lock()
		tc.tokens[tenantID] = cachedToken{token: token, expiresAt: expiresAt}
		tc.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (tc *tokenCache) lookup(tenantID uuid.UUID) (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	entry, ok := tc.tokens[tenantID]
	if !ok || !tc.clock.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

// invalidate drops the tenant's token, forcing a new handshake on the next
// get. Called after the authority answers 401.
func (tc *tokenCache) invalidate(tenantID uuid.UUID) {
	tc.mu.Lock()
	delete(tc.tokens, tenantID)
	tc.mu.Unlock()
}
