// DingClaw - DingTalk Stream channel gateway
// Gateway: consumes inbound envelopes, answers control commands, drives
// the responder and delivers its replies back through the channel layer.

package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zhaopengme/dingclaw/pkg/bus"
	"github.com/zhaopengme/dingclaw/pkg/channels"
	"github.com/zhaopengme/dingclaw/pkg/logger"
	"github.com/zhaopengme/dingclaw/pkg/session"
)

// Responder produces the reply payloads for one inbound message. The
// host wires its own implementation; DeliverReplies handles the rest.
type Responder func(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error)

type Gateway struct {
	broker   bus.Broker
	channels *channels.Manager
	sessions *session.SessionManager
	respond  Responder
}

func New(broker bus.Broker, cm *channels.Manager, sessions *session.SessionManager, respond Responder) *Gateway {
	return &Gateway{
		broker:   broker,
		channels: cm,
		sessions: sessions,
		respond:  respond,
	}
}

func (g *Gateway) Run(ctx context.Context) error {
	for {
		msg, ok := g.broker.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		g.handleInbound(ctx, msg)
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	// Temp media lives only for one dispatch cycle.
	if msg.MediaPath != "" {
		defer os.Remove(msg.MediaPath)
	}

	text := bodyText(msg)

	if strings.HasPrefix(text, "/") {
		if response, handled := g.handleCommand(msg, text); handled {
			if response != "" {
				g.reply(msg, bus.OutboundMessage{
					Channel:   msg.Channel,
					AccountID: msg.AccountID,
					ChatID:    msg.ChatID,
					Content:   response,
					Metadata:  map[string]string{"at_user_id": msg.Metadata["at_user_id"]},
				})
			}
			return
		}
		// Unrecognized commands fall through to the responder.
	}

	if g.respond == nil {
		return
	}

	replies, err := g.respond(ctx, msg)
	if err != nil {
		// Failures stay out of the chat. The log is the only surface.
		logger.ErrorCF("gateway", "Responder failed", map[string]interface{}{
			"session": msg.SessionKey,
			"error":   err.Error(),
		})
		return
	}

	for _, out := range replies {
		if out.ChatID == "" {
			out.ChatID = msg.ChatID
		}
		if out.Channel == "" {
			out.Channel = msg.Channel
		}
		if out.AccountID == "" {
			out.AccountID = msg.AccountID
		}
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		if _, ok := out.Metadata["at_user_id"]; !ok {
			out.Metadata["at_user_id"] = msg.Metadata["at_user_id"]
		}
		g.reply(msg, out)
	}
}

// reply delivers one outbound payload through the channel's registered
// delivery handler and records it into the session. Each attempt's
// outcome is logged individually; a failed attempt never stops later
// ones.
func (g *Gateway) reply(inbound bus.InboundMessage, out bus.OutboundMessage) {
	handler, ok := g.broker.GetDelivery(channels.DeliveryKey(out.AccountID))
	if !ok {
		logger.ErrorCF("gateway", "No delivery handler registered", map[string]interface{}{
			"channel": out.Channel,
			"account": out.AccountID,
		})
		return
	}

	if err := handler(out); err != nil {
		logger.ErrorCF("gateway", "Reply delivery failed", map[string]interface{}{
			"account": out.AccountID,
			"chat_id": out.ChatID,
			"error":   err.Error(),
		})
		return
	}

	if inbound.SessionKey != "" {
		if err := g.sessions.RecordOutbound(inbound.SessionKey, out.Content); err != nil {
			logger.WarnCF("gateway", "Session record failed", map[string]interface{}{
				"session": inbound.SessionKey,
				"error":   err.Error(),
			})
		}
	}
}

func (g *Gateway) handleCommand(msg bus.InboundMessage, text string) (string, bool) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", false
	}

	switch parts[0] {
	case "/start":
		return "Hello! I am DingClaw 🦞", true

	case "/help":
		return `/start - Start the bot
/status - Show channel status
/clear - Clear current session history
/help - Show this help message`, true

	case "/status":
		if g.channels == nil {
			return "Channel manager not initialized", true
		}
		var b strings.Builder
		for _, s := range g.channels.Status() {
			state := "stopped"
			if s.Running {
				state = "running"
			}
			fmt.Fprintf(&b, "%s/%s: %s\n", s.Channel, s.AccountID, state)
		}
		return strings.TrimRight(b.String(), "\n"), true

	case "/clear":
		if msg.SessionKey == "" {
			return "No active session", true
		}
		if err := g.sessions.Clear(msg.SessionKey); err != nil {
			return fmt.Sprintf("Failed to clear session: %v", err), true
		}
		return "🧹 Session cleared, let's start over.", true
	}

	return "", false
}

// bodyText strips the sender label off the envelope body, leaving the
// text the sender actually typed.
func bodyText(msg bus.InboundMessage) string {
	return strings.TrimSpace(strings.TrimPrefix(msg.Body, msg.SenderName+":"))
}
