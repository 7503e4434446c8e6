package accessor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefreshFunc fetches a fresh bearer token (e.g. Cesium ion's
// /v1/assets/{id}/endpoint handshake) and the duration it remains valid.
type RefreshFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// RefreshingTokenSource deduplicates concurrent refreshes with
// singleflight, the way GraphCache.GetOrBuild deduplicates concurrent
// cache-miss builds for the same key: many tiles fetched in the same
// frame hitting an expired token should trigger exactly one refresh
// request, not one per tile.
type RefreshingTokenSource struct {
	refresh RefreshFunc

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	flight singleflight.Group
}

func NewRefreshingTokenSource(refresh RefreshFunc) *RefreshingTokenSource {
	return &RefreshingTokenSource{refresh: refresh}
}

func (s *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token, expiresAt := s.token, s.expiresAt
	s.mu.RUnlock()

	if token != "" && time.Now().Before(expiresAt) {
		return token, nil
	}

	v, err, _ := s.flight.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: another goroutine may have already
		// refreshed while we were waiting to enter Do.
		s.mu.RLock()
		token, expiresAt := s.token, s.expiresAt
		s.mu.RUnlock()
		if token != "" && time.Now().Before(expiresAt) {
			return token, nil
		}

		newToken, ttl, err := s.refresh(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = newToken
		s.expiresAt = time.Now().Add(ttl)
		s.mu.Unlock()

		return newToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Refresh bypasses the TTL check and unconditionally requests a new
// token, deduplicating concurrent callers onto the same in-flight
// refresh as Token. It implements loader.AuthRefresher: a 401 means the
// cached token was rejected by the server even though it still looks
// unexpired by TTL, so the loader calls this instead of Token.
func (s *RefreshingTokenSource) Refresh(ctx context.Context) error {
	_, err, _ := s.flight.Do("refresh", func() (interface{}, error) {
		newToken, ttl, err := s.refresh(ctx)
		if err != nil {
			return "", err
		}

		s.mu.Lock()
		s.token = newToken
		s.expiresAt = time.Now().Add(ttl)
		s.mu.Unlock()

		return newToken, nil
	})
	return err
}
