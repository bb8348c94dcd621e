// DingClaw - DingTalk Stream channel gateway
// Thin client over DingTalk's HTTP surface: session webhook replies,
// token issuing and robot media transfer.

package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAPIBase  = "https://api.dingtalk.com"
	defaultOAPIBase = "https://oapi.dingtalk.com"
)

// Client talks to DingTalk's robot APIs for one account.
type Client struct {
	robotCode  string
	apiBase    string
	oapiBase   string
	httpClient *http.Client
	tokens     *TokenCache
	mediaDir   string
}

func NewClient(clientID, clientSecret, robotCode string) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &Client{
		robotCode:  robotCode,
		apiBase:    defaultAPIBase,
		oapiBase:   defaultOAPIBase,
		httpClient: httpClient,
		tokens:     NewTokenCache(clientID, clientSecret, httpClient),
	}
}

// SetBaseURLs overrides the API hosts, for tests and proxied deployments.
func (c *Client) SetBaseURLs(apiBase, oapiBase string) {
	c.apiBase = apiBase
	c.oapiBase = oapiBase
	c.tokens.endpoint = apiBase + "/v1.0/oauth2/accessToken"
}

// AccessToken exposes the cached token, used by the status probe.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// RobotCode returns the configured robot identifier (may be empty).
func (c *Client) RobotCode() string {
	return c.robotCode
}

// SendToWebhook posts one composed reply to a per-conversation session
// webhook. atUserID, when set, mentions that user in group chats.
func (c *Client) SendToWebhook(ctx context.Context, webhook string, body OutboundBody, atUserID string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		// The webhook itself authenticates the conversation; send anyway.
		token = ""
	}

	payload := map[string]interface{}{}
	switch body.Kind {
	case "markdown":
		payload["msgtype"] = "markdown"
		payload["markdown"] = map[string]string{
			"title": body.Title,
			"text":  body.Text,
		}
	default:
		payload["msgtype"] = "text"
		payload["text"] = map[string]string{
			"content": body.Text,
		}
	}
	if atUserID != "" {
		payload["at"] = map[string]interface{}{
			"atUserIds": []string{atUserID},
			"isAtAll":   false,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-acs-dingtalk-access-token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook send failed: %d - %s", resp.StatusCode, string(respBody))
	}

	return nil
}
