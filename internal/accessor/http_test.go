package accessor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPAccessorFetchReturnsBodyContentTypeAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "model/gltf-binary")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("glTF-bytes"))
	}))
	defer srv.Close()

	a := NewHTTPAccessor(nil)
	data, contentType, status, err := a.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "glTF-bytes" {
		t.Fatalf("data = %q", data)
	}
	if contentType != "model/gltf-binary" {
		t.Fatalf("contentType = %q", contentType)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
}

func TestHTTPAccessorFetchPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewHTTPAccessor(nil)
	_, _, status, err := a.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestHTTPAccessorFetchSendsBearerTokenFromTokenSource(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewHTTPAccessor(fixedTokenSource{token: "abc123"})
	if _, _, _, err := a.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("Authorization header = %q, want %q", gotAuth, "Bearer abc123")
	}
}

func TestHTTPAccessorFetchOmitsAuthorizationWithoutTokenSource(t *testing.T) {
	var gotAuth string
	sawRequest := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawRequest = true
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewHTTPAccessor(nil)
	if _, _, _, err := a.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !sawRequest {
		t.Fatalf("expected the server to receive a request")
	}
	if gotAuth != "" {
		t.Fatalf("Authorization header = %q, want empty", gotAuth)
	}
}

func TestHTTPAccessorFetchPropagatesTokenSourceError(t *testing.T) {
	a := NewHTTPAccessor(erroringTokenSource{})
	_, _, _, err := a.Fetch(context.Background(), "http://example.test/tile.b3dm")
	if err == nil {
		t.Fatalf("expected an error when the token source fails")
	}
}

func TestHTTPAccessorFetchRejectsMalformedURL(t *testing.T) {
	a := NewHTTPAccessor(nil)
	_, _, _, err := a.Fetch(context.Background(), "://bad-url")
	if err == nil {
		t.Fatalf("expected an error for a malformed URL")
	}
}

type fixedTokenSource struct{ token string }

func (f fixedTokenSource) Token(ctx context.Context) (string, error) { return f.token, nil }

type erroringTokenSource struct{}

func (erroringTokenSource) Token(ctx context.Context) (string, error) {
	return "", context.DeadlineExceeded
}
