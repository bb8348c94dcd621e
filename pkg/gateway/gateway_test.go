package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zhaopengme/dingclaw/pkg/bus"
	"github.com/zhaopengme/dingclaw/pkg/channels"
	"github.com/zhaopengme/dingclaw/pkg/session"
)

func inboundText(senderName, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "dingtalk",
		AccountID:  "default",
		SenderID:   "u1",
		SenderName: senderName,
		ChatID:     "conv-1",
		ChatType:   "direct",
		Body:       senderName + ": " + text,
		SessionKey: "agent:main:main",
		Metadata:   map[string]string{},
	}
}

func TestBodyText(t *testing.T) {
	msg := inboundText("Alice", "/help")
	if got := bodyText(msg); got != "/help" {
		t.Errorf("bodyText() = %q, want /help", got)
	}

	// Bodies without the sender label pass through untouched.
	msg.Body = "raw text"
	if got := bodyText(msg); got != "raw text" {
		t.Errorf("bodyText() = %q, want raw text", got)
	}
}

func TestHandleCommandHelp(t *testing.T) {
	g := New(bus.NewMessageBus(), nil, session.NewSessionManager(""), nil)

	resp, handled := g.handleCommand(bus.InboundMessage{}, "/help")
	if !handled {
		t.Fatal("/help should be handled")
	}
	for _, cmd := range []string{"/start", "/status", "/clear"} {
		if !strings.Contains(resp, cmd) {
			t.Errorf("/help output missing %s", cmd)
		}
	}
}

func TestHandleCommandStart(t *testing.T) {
	g := New(bus.NewMessageBus(), nil, session.NewSessionManager(""), nil)

	resp, handled := g.handleCommand(bus.InboundMessage{}, "/start")
	if !handled || resp == "" {
		t.Fatalf("/start: handled=%v resp=%q", handled, resp)
	}
}

func TestHandleCommandClear(t *testing.T) {
	storage := t.TempDir()
	sessions := session.NewSessionManager(storage)
	if err := sessions.RecordInbound(inboundText("Alice", "hello")); err != nil {
		t.Fatal(err)
	}

	g := New(bus.NewMessageBus(), nil, sessions, nil)

	resp, handled := g.handleCommand(inboundText("Alice", "/clear"), "/clear")
	if !handled {
		t.Fatal("/clear should be handled")
	}
	if strings.Contains(resp, "Failed") {
		t.Errorf("clear failed: %s", resp)
	}
	if history := sessions.History("agent:main:main"); len(history) != 0 {
		t.Errorf("history len = %d after clear, want 0", len(history))
	}
}

func TestHandleCommandUnknownFallsThrough(t *testing.T) {
	g := New(bus.NewMessageBus(), nil, session.NewSessionManager(""), nil)

	if _, handled := g.handleCommand(bus.InboundMessage{}, "/frobnicate"); handled {
		t.Error("unknown command reported as handled")
	}
}

func TestHandleInboundDeliversReplies(t *testing.T) {
	broker := bus.NewMessageBus()
	defer broker.Close()

	var delivered []bus.OutboundMessage
	broker.RegisterDelivery(channels.DeliveryKey("default"), func(msg bus.OutboundMessage) error {
		delivered = append(delivered, msg)
		return nil
	})

	sessions := session.NewSessionManager(t.TempDir())
	responder := func(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error) {
		return []bus.OutboundMessage{
			{Content: "first"},
			{Content: "second", Markdown: true},
		}, nil
	}

	g := New(broker, nil, sessions, responder)
	g.handleInbound(context.Background(), inboundText("Alice", "hello"))

	if len(delivered) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(delivered))
	}
	if delivered[0].Content != "first" || delivered[1].Content != "second" {
		t.Errorf("delivered = %+v", delivered)
	}
	if delivered[0].ChatID != "conv-1" || delivered[0].AccountID != "default" {
		t.Errorf("reply targeting = %+v, want inherited from inbound", delivered[0])
	}

	history := sessions.History("agent:main:main")
	if len(history) != 2 {
		t.Fatalf("history len = %d, want 2 outbound entries", len(history))
	}
	for _, entry := range history {
		if entry.Role != "assistant" {
			t.Errorf("entry role = %q, want assistant", entry.Role)
		}
	}
}

func TestHandleInboundResponderError(t *testing.T) {
	broker := bus.NewMessageBus()
	defer broker.Close()

	var delivered []bus.OutboundMessage
	broker.RegisterDelivery(channels.DeliveryKey("default"), func(msg bus.OutboundMessage) error {
		delivered = append(delivered, msg)
		return nil
	})

	responder := func(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error) {
		return nil, errors.New("model exploded")
	}

	g := New(broker, nil, session.NewSessionManager(""), responder)
	g.handleInbound(context.Background(), inboundText("Alice", "hello"))

	// The failure is logged only; nothing reaches the conversation.
	if len(delivered) != 0 {
		t.Fatalf("delivered %d messages, want none after responder failure", len(delivered))
	}
}

func TestHandleInboundFailedDeliveryContinues(t *testing.T) {
	broker := bus.NewMessageBus()
	defer broker.Close()

	var attempts int
	broker.RegisterDelivery(channels.DeliveryKey("default"), func(msg bus.OutboundMessage) error {
		attempts++
		if attempts == 1 {
			return errors.New("webhook expired")
		}
		return nil
	})

	responder := func(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error) {
		return []bus.OutboundMessage{{Content: "a"}, {Content: "b"}}, nil
	}

	g := New(broker, nil, session.NewSessionManager(""), responder)
	g.handleInbound(context.Background(), inboundText("Alice", "hello"))

	if attempts != 2 {
		t.Errorf("delivery attempts = %d, want 2 (failure must not stop later replies)", attempts)
	}
}

func TestHandleInboundRemovesTempMedia(t *testing.T) {
	broker := bus.NewMessageBus()
	defer broker.Close()
	broker.RegisterDelivery(channels.DeliveryKey("default"), func(msg bus.OutboundMessage) error {
		return nil
	})

	mediaPath := filepath.Join(t.TempDir(), "media.png")
	if err := os.WriteFile(mediaPath, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	responder := func(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error) {
		if _, err := os.Stat(msg.MediaPath); err != nil {
			t.Errorf("media missing during dispatch: %v", err)
		}
		return nil, nil
	}

	g := New(broker, nil, session.NewSessionManager(""), responder)

	msg := inboundText("Alice", "look at this")
	msg.MediaPath = mediaPath
	msg.MediaType = "image/png"
	g.handleInbound(context.Background(), msg)

	if _, err := os.Stat(mediaPath); !os.IsNotExist(err) {
		t.Error("temp media not removed after dispatch cycle")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	broker := bus.NewMessageBus()
	defer broker.Close()

	g := New(broker, nil, session.NewSessionManager(""), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on cancel")
	}
}
