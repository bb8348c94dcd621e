package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/zhaopengme/dingclaw/pkg/logger"
)

// tokenSafetyMargin is how close to expiry a cached token may get before
// it is refreshed instead of returned.
const tokenSafetyMargin = 60 * time.Second

// TokenCache lazily fetches and caches one access token per credential
// pair. The cache is a single lock-free slot: concurrent callers may race
// into redundant refreshes, which is harmless since refresh is idempotent
// and the latest token wins.
type TokenCache struct {
	clientID     string
	clientSecret string
	endpoint     string
	httpClient   *http.Client

	current atomic.Pointer[oauth2.Token]
}

func NewTokenCache(clientID, clientSecret string, httpClient *http.Client) *TokenCache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenCache{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     defaultAPIBase + "/v1.0/oauth2/accessToken",
		httpClient:   httpClient,
	}
}

// Token returns the cached access token while it has more than 60s of
// validity left, refreshing it from the identity endpoint otherwise.
// Refresh failures propagate uninterpreted; the caller decides.
func (tc *TokenCache) Token(ctx context.Context) (string, error) {
	if tok := tc.current.Load(); tok != nil && time.Until(tok.Expiry) > tokenSafetyMargin {
		return tok.AccessToken, nil
	}
	return tc.refresh(ctx)
}

func (tc *TokenCache) refresh(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"appKey":    tc.clientID,
		"appSecret": tc.clientSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed: %d - %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"accessToken"`
		ExpireIn    int64  `json:"expireIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token response missing accessToken")
	}

	tok := &oauth2.Token{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(result.ExpireIn) * time.Second),
	}
	tc.current.Store(tok)

	logger.DebugCF("dingtalk", "Access token refreshed", map[string]interface{}{
		"expire_in": result.ExpireIn,
	})
	return tok.AccessToken, nil
}
