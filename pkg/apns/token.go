package apns

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/sideshow/apns2/token"
)

// Apple rejects provider tokens older than an hour and throttles tokens
// regenerated more often than every 20 minutes.
const (
	DefaultTokenTTL = time.Duration(token.TokenTimeout) * time.Second
	refreshMargin   = 5 * time.Minute
)

// TokenCache owns the ES256 provider token used as the APNs bearer
// credential. Token refreshes proactively, refreshMargin before the TTL runs
// out. Two goroutines may regenerate at once; the last one stored wins.
type TokenCache struct {
	token *token.Token
	ttl   time.Duration
	now   func() time.Time

	mu       sync.RWMutex
	issuedAt time.Time
}

// NewTokenCache caps ttl at the lifetime the apns2 client itself enforces, so
// the client never regenerates behind the cache's back.
func NewTokenCache(keyID, teamID string, key *ecdsa.PrivateKey, ttl time.Duration) *TokenCache {
	if ttl <= refreshMargin || ttl > DefaultTokenTTL {
		ttl = DefaultTokenTTL
	}
	return &TokenCache{
		token: &token.Token{AuthKey: key, KeyID: keyID, TeamID: teamID},
		ttl:   ttl,
		now:   time.Now,
	}
}

// LoadKey reads a .p8 signing key.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := token.AuthKeyFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load apns key %s: %w", path, err)
	}
	return key, nil
}

// Token returns a valid provider token, signing a new one when none has been
// issued or the current one is inside the refresh margin.
func (c *TokenCache) Token() (string, error) {
	now := c.now()
	c.mu.RLock()
	issuedAt := c.issuedAt
	c.mu.RUnlock()
	if !issuedAt.IsZero() && now.Before(issuedAt.Add(c.ttl-refreshMargin)) {
		return c.bearer(), nil
	}

	c.token.Lock()
	_, err := c.token.Generate()
	bearer := c.token.Bearer
	c.token.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to sign apns provider token: %w", err)
	}
	c.mu.Lock()
	c.issuedAt = now
	c.mu.Unlock()
	return bearer, nil
}

// Invalidate forces the next Token call to sign afresh, e.g. after
// ExpiredProviderToken.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.issuedAt = time.Time{}
	c.mu.Unlock()
}

func (c *TokenCache) bearer() string {
	c.token.Lock()
	defer c.token.Unlock()
	return c.token.Bearer
}
