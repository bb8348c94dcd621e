package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestTokenCache(t *testing.T, handler http.HandlerFunc) (*TokenCache, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tc := NewTokenCache("ding123", "secret", server.Client())
	tc.endpoint = server.URL
	return tc, server
}

func TestTokenCacheReuse(t *testing.T) {
	var calls atomic.Int32
	tc, _ := newTestTokenCache(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["appKey"] != "ding123" || body["appSecret"] != "secret" {
			t.Errorf("unexpected credentials: %v", body)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken": "tok-1",
			"expireIn":    7200,
		})
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := tc.Token(ctx)
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if tok != "tok-1" {
			t.Fatalf("Token() = %q, want tok-1", tok)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1", got)
	}
}

func TestTokenCacheRefreshNearExpiry(t *testing.T) {
	var calls atomic.Int32
	tc, _ := newTestTokenCache(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken": "tok-fresh",
			"expireIn":    7200,
		})
	})

	// Seed a token inside the safety margin.
	tc.current.Store(&oauth2.Token{
		AccessToken: "tok-stale",
		Expiry:      time.Now().Add(30 * time.Second),
	})

	tok, err := tc.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-fresh" {
		t.Errorf("Token() = %q, want tok-fresh", tok)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1", got)
	}
}

func TestTokenCacheErrorPropagates(t *testing.T) {
	tc, _ := newTestTokenCache(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"Forbidden"}`, http.StatusForbidden)
	})

	if _, err := tc.Token(context.Background()); err == nil {
		t.Fatal("Token() error = nil, want failure")
	}
}

func TestTokenCacheRejectsEmptyToken(t *testing.T) {
	tc, _ := newTestTokenCache(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"expireIn": 7200})
	})

	if _, err := tc.Token(context.Background()); err == nil {
		t.Fatal("Token() error = nil, want missing accessToken failure")
	}
}
