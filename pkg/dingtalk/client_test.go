package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendToWebhookText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expireIn": 7200})
	})

	var got map[string]interface{}
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		if token := r.Header.Get("x-acs-dingtalk-access-token"); token != "tok" {
			t.Errorf("token header = %q, want tok", token)
		}
		json.NewDecoder(r.Body).Decode(&got)
	})
	c, server := newTestClient(t, mux)

	body := ComposeOutbound("hello", false)
	if err := c.SendToWebhook(context.Background(), server.URL+"/webhook", body, ""); err != nil {
		t.Fatalf("SendToWebhook error = %v", err)
	}

	if got["msgtype"] != "text" {
		t.Errorf("msgtype = %v, want text", got["msgtype"])
	}
	text, _ := got["text"].(map[string]interface{})
	if text["content"] != "hello" {
		t.Errorf("content = %v, want hello", text["content"])
	}
	if _, present := got["at"]; present {
		t.Error("at block present without atUserID")
	}
}

func TestSendToWebhookMarkdownWithMention(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expireIn": 7200})
	})

	var got map[string]interface{}
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	})
	c, server := newTestClient(t, mux)

	body := ComposeOutbound("# Report\nall green", false)
	if err := c.SendToWebhook(context.Background(), server.URL+"/webhook", body, "u42"); err != nil {
		t.Fatalf("SendToWebhook error = %v", err)
	}

	if got["msgtype"] != "markdown" {
		t.Fatalf("msgtype = %v, want markdown", got["msgtype"])
	}
	md, _ := got["markdown"].(map[string]interface{})
	if md["title"] != "Report" {
		t.Errorf("title = %v, want Report", md["title"])
	}
	at, _ := got["at"].(map[string]interface{})
	users, _ := at["atUserIds"].([]interface{})
	if len(users) != 1 || users[0] != "u42" {
		t.Errorf("atUserIds = %v, want [u42]", users)
	}
	if at["isAtAll"] != false {
		t.Errorf("isAtAll = %v, want false", at["isAtAll"])
	}
}

func TestSendToWebhookWithoutToken(t *testing.T) {
	// Token endpoint down: the webhook call still goes out, just without
	// the token header.
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/oauth2/accessToken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	delivered := false
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		delivered = true
		if token := r.Header.Get("x-acs-dingtalk-access-token"); token != "" {
			t.Errorf("token header = %q, want empty", token)
		}
	})
	c, server := newTestClient(t, mux)

	if err := c.SendToWebhook(context.Background(), server.URL+"/webhook", ComposeOutbound("hi", false), ""); err != nil {
		t.Fatalf("SendToWebhook error = %v", err)
	}
	if !delivered {
		t.Error("webhook never called")
	}
}

func TestSendToWebhookNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errcode":310000}`, http.StatusBadRequest)
	}))
	defer server.Close()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"accessToken": "tok", "expireIn": 7200})
	}))

	if err := c.SendToWebhook(context.Background(), server.URL, ComposeOutbound("hi", false), ""); err == nil {
		t.Fatal("SendToWebhook error = nil, want failure on 400")
	}
}
