// Package accessor implements the asset accessor of spec.md §6.2: the
// HTTP fetch boundary the loader's worker goroutines call through,
// grounded on the teacher's internal/persistence/r2s3.Client (plain
// net/http, context-scoped requests, a fixed client timeout, and
// fmt.Errorf %w wrapping instead of a custom error stack).
package accessor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPAccessor implements loader.Accessor over net/http. It does not
// retry: a non-401 failure terminates the tile at Failed (spec.md §7),
// and a 401 is only retried through the loader's AuthRefresh-then-revert
// path, never by re-fetching directly.
type HTTPAccessor struct {
	Client      *http.Client
	TokenSource TokenSource // optional; nil means no Authorization header
	UserAgent   string
}

// TokenSource supplies a bearer token for authenticated tile servers
// (e.g. Cesium ion). It is expected to be backed by RefreshingTokenSource
// so concurrent fetches share one refresh.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

func NewHTTPAccessor(tokenSource TokenSource) *HTTPAccessor {
	return &HTTPAccessor{
		Client:      &http.Client{Timeout: 30 * time.Second},
		TokenSource: tokenSource,
		UserAgent:   "tilestream/1.0",
	}
}

func (a *HTTPAccessor) Fetch(ctx context.Context, url string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("accessor: new request: %w", err)
	}
	req.Header.Set("User-Agent", a.UserAgent)

	if a.TokenSource != nil {
		token, err := a.TokenSource.Token(ctx)
		if err != nil {
			return nil, "", 0, fmt.Errorf("accessor: refresh token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("accessor: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("accessor: read body %s: %w", url, err)
	}

	return data, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}
