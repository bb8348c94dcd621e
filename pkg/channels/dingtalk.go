// DingClaw - DingTalk Stream channel gateway
// DingTalk channel: one persistent Stream connection per account, inbound
// event pipeline and session-webhook replies.

package channels

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	sdkclient "github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	sdklogger "github.com/open-dingtalk/dingtalk-stream-sdk-go/logger"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/payload"

	"github.com/zhaopengme/dingclaw/pkg/bus"
	"github.com/zhaopengme/dingclaw/pkg/config"
	"github.com/zhaopengme/dingclaw/pkg/dingtalk"
	"github.com/zhaopengme/dingclaw/pkg/logger"
	"github.com/zhaopengme/dingclaw/pkg/routing"
	"github.com/zhaopengme/dingclaw/pkg/session"
	"github.com/zhaopengme/dingclaw/pkg/utils"
)

const thinkingText = "🤔 Thinking..."

// sdkLogBridge forwards the stream SDK's internal logging into ours.
type sdkLogBridge struct{}

func (l *sdkLogBridge) Debugf(format string, args ...interface{}) {
	logger.DebugC("dingtalk-sdk", fmt.Sprintf(format, args...))
}
func (l *sdkLogBridge) Infof(format string, args ...interface{}) {
	logger.InfoC("dingtalk-sdk", fmt.Sprintf(format, args...))
}
func (l *sdkLogBridge) Warningf(format string, args ...interface{}) {
	logger.WarnC("dingtalk-sdk", fmt.Sprintf(format, args...))
}
func (l *sdkLogBridge) Errorf(format string, args ...interface{}) {
	logger.ErrorC("dingtalk-sdk", fmt.Sprintf(format, args...))
}
func (l *sdkLogBridge) Fatalf(format string, args ...interface{}) {
	logger.ErrorC("dingtalk-sdk", fmt.Sprintf(format, args...))
}

func init() {
	sdklogger.SetLogger(&sdkLogBridge{})
}

// DingTalkChannel implements Channel for one DingTalk robot account.
type DingTalkChannel struct {
	*BaseChannel
	config   config.DingTalkConfig
	api      *dingtalk.Client
	resolver *routing.RouteResolver
	sessions *session.SessionManager
	webhooks *webhookCache
	dedup    *messageDedup

	mu     sync.Mutex
	client *sdkclient.StreamClient
}

func NewDingTalkChannel(
	accountID string,
	cfg config.DingTalkConfig,
	broker bus.Broker,
	resolver *routing.RouteResolver,
	sessions *session.SessionManager,
) (*DingTalkChannel, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("dingtalk account %q: client_id and client_secret are required", accountID)
	}

	base := NewBaseChannel("dingtalk", accountID, broker, cfg.AllowFrom)

	return &DingTalkChannel{
		BaseChannel: base,
		config:      cfg,
		api:         dingtalk.NewClient(cfg.ClientID, cfg.ClientSecret, cfg.RobotCode),
		resolver:    resolver,
		sessions:    sessions,
		webhooks:    newWebhookCache(),
		dedup:       newMessageDedup(1000),
	}, nil
}

// API exposes the account's vendor client, used by the status probe.
func (c *DingTalkChannel) API() *dingtalk.Client {
	return c.api
}

func (c *DingTalkChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	extras := map[string]string{}
	if c.config.RobotCode != "" {
		extras["robotCode"] = c.config.RobotCode
	}

	client := sdkclient.NewStreamClient(
		sdkclient.WithAppCredential(sdkclient.NewAppCredentialConfig(c.config.ClientID, c.config.ClientSecret)),
		sdkclient.WithAutoReconnect(true),
		sdkclient.WithExtras(extras),
	)
	client.RegisterChatBotCallbackRouter(c.onCallback)
	client.RegisterAllEventRouter(c.onEvent)

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("dingtalk stream connect: %w", err)
	}

	c.client = client

	// The reply dispatcher reaches this account through the bus.
	c.Broker().RegisterDelivery(DeliveryKey(c.AccountID()), c.deliver)

	c.setRunning(true)
	logger.InfoCF("dingtalk", "DingTalk channel started (stream mode)", map[string]interface{}{
		"account":    c.AccountID(),
		"robot_code": c.config.RobotCode,
	})
	return nil
}

// Stop closes the stream connection. Safe to call repeatedly.
func (c *DingTalkChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	c.client.Close()
	c.client = nil

	c.setRunning(false)
	logger.InfoCF("dingtalk", "DingTalk channel stopped", map[string]interface{}{
		"account": c.AccountID(),
	})
	return nil
}

// DeliveryKey is the bus registration key for an account's delivery
// handler.
func DeliveryKey(accountID string) string {
	return "dingtalk:" + accountID
}

// onEvent acknowledges non-chatbot event frames so the vendor does not
// redeliver them. The gateway only acts on chatbot messages.
func (c *DingTalkChannel) onEvent(ctx context.Context, df *payload.DataFrame) (*payload.DataFrameResponse, error) {
	logger.DebugCF("dingtalk", "Event frame acknowledged", map[string]interface{}{
		"account": c.AccountID(),
		"type":    df.Type,
	})
	return payload.NewSuccessDataFrameResponse(), nil
}

// onCallback is invoked by the SDK once per received frame. A non-nil
// error makes the SDK acknowledge the frame as failed; the connection
// stays up either way.
func (c *DingTalkChannel) onCallback(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	if err := c.handleMessage(ctx, data); err != nil {
		logger.ErrorCF("dingtalk", "Inbound handling failed", map[string]interface{}{
			"account": c.AccountID(),
			"error":   err.Error(),
		})
		return nil, err
	}
	return []byte("{}"), nil
}

// handleMessage runs the per-event pipeline: decode, fetch media, resolve
// the route, record the session, optionally acknowledge with a thinking
// message, then hand the envelope to the host dispatch pipeline. Only
// session recording failures abort; everything else degrades.
func (c *DingTalkChannel) handleMessage(ctx context.Context, data *chatbot.BotCallbackDataModel) error {
	if data == nil {
		return nil
	}

	content := dingtalk.ExtractContent(data)
	if content.Text == "" {
		// A normal ignore outcome, not an error.
		return nil
	}

	if c.dedup.seen(c.dedupKey(data.MsgId)) {
		logger.DebugCF("dingtalk", "Skipping duplicate message", map[string]interface{}{
			"msg_id": data.MsgId,
		})
		return nil
	}

	senderID := data.SenderStaffId
	if senderID == "" {
		senderID = data.SenderId
	}
	senderNick := data.SenderNick
	if senderNick == "" {
		senderNick = "Unknown"
	}
	isDirect := data.ConversationType == "1"

	if !c.authorized(senderID, data.ConversationId, isDirect) {
		return nil
	}
	if !isDirect && c.config.MentionOnly && !data.IsInAtList {
		return nil
	}

	text := content.Text
	if !isDirect && data.IsInAtList {
		text = stripLeadingMention(text)
		if text == "" {
			return nil
		}
	}

	c.webhooks.set(data.ConversationId, senderID, data.SessionWebhook, data.SessionWebhookExpiredTime)

	// Inbound media is optional: a failed download still delivers the
	// message, just without the attachment.
	var media *dingtalk.MediaFile
	if content.MediaRef != "" && c.config.RobotCode != "" {
		var err error
		media, err = c.api.DownloadMedia(ctx, content.MediaRef)
		if err != nil {
			logger.WarnCF("dingtalk", "Media download failed", map[string]interface{}{
				"account": c.AccountID(),
				"type":    content.MediaType,
				"error":   err.Error(),
			})
			media = nil
		}
	}

	peer := &routing.RoutePeer{Kind: "group", ID: data.ConversationId}
	if isDirect {
		peer = &routing.RoutePeer{Kind: "direct", ID: senderID}
	}
	route := c.resolver.ResolveRoute(routing.RouteInput{
		Channel:   c.Name(),
		AccountID: c.AccountID(),
		Peer:      peer,
	})

	chatType := "group"
	to := "dingtalk:" + data.ConversationId
	if isDirect {
		chatType = "direct"
		to = "dingtalk:" + senderID
	}

	envelope := bus.InboundMessage{
		Channel:    c.Name(),
		AccountID:  c.AccountID(),
		SenderID:   senderID,
		SenderName: senderNick,
		ChatID:     data.ConversationId,
		ChatType:   chatType,
		From:       "dingtalk:" + senderID,
		To:         to,
		Body:       fmt.Sprintf("%s: %s", senderNick, text),
		AgentID:    route.AgentID,
		SessionKey: route.SessionKey,
		MessageID:  data.MsgId,
		CreatedAt:  data.CreateAt,
		Metadata: map[string]string{
			"msg_type":           content.MessageType,
			"conversation_title": data.ConversationTitle,
		},
	}
	if media != nil {
		envelope.MediaPath = media.Path
		envelope.MediaType = media.MimeType
	}
	if !isDirect {
		// Group replies mention the original sender.
		envelope.Metadata["at_user_id"] = senderID
	}

	if err := c.sessions.RecordInbound(envelope); err != nil {
		// Pipeline-fatal: the frame gets a negative acknowledgment.
		if media != nil {
			os.Remove(media.Path)
		}
		return fmt.Errorf("record session: %w", err)
	}

	if c.config.ShowThinking {
		go c.sendThinking(data.SessionWebhook)
	}

	logger.InfoCF("dingtalk", "Message received", map[string]interface{}{
		"account":   c.AccountID(),
		"sender":    senderNick,
		"chat_type": chatType,
		"preview":   utils.Truncate(text, 80),
	})

	c.Broker().PublishInbound(envelope)
	c.dedup.mark(c.dedupKey(data.MsgId))
	return nil
}

// stripLeadingMention drops the "@Bot" token left at the front of group
// texts when the robot is mentioned. Text with no leading mention passes
// through untouched.
func stripLeadingMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "@") {
		return text
	}
	idx := strings.IndexAny(trimmed, "  \t")
	if idx < 0 {
		// The whole text is the mention token.
		return ""
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed[idx:], "  \t"))
}

func (c *DingTalkChannel) dedupKey(msgID string) string {
	robotKey := c.config.RobotCode
	if robotKey == "" {
		robotKey = c.config.ClientID
	}
	return robotKey + ":" + msgID
}

// authorized applies the account's dm/group policies. Allowlists match on
// normalized identifiers (channel prefixes stripped).
func (c *DingTalkChannel) authorized(senderID, conversationID string, isDirect bool) bool {
	if isDirect {
		if c.config.DMPolicy == "allowlist" && !c.IsAllowed(senderID) {
			logger.WarnCF("dingtalk", "DM blocked by allowlist", map[string]interface{}{
				"sender_id": senderID,
			})
			return false
		}
		return true
	}
	if c.config.GroupPolicy == "allowlist" && !c.IsAllowed(conversationID) {
		logger.WarnCF("dingtalk", "Group blocked by allowlist", map[string]interface{}{
			"conversation_id": conversationID,
		})
		return false
	}
	return true
}

// sendThinking posts the placeholder reply. Failures are logged, never
// propagated.
func (c *DingTalkChannel) sendThinking(webhook string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body := dingtalk.ComposeOutbound(thinkingText, false)
	if err := c.api.SendToWebhook(ctx, webhook, body, ""); err != nil {
		logger.WarnCF("dingtalk", "Thinking message failed", map[string]interface{}{
			"account": c.AccountID(),
			"error":   err.Error(),
		})
	}
}

// deliver sends one reply payload back into the originating conversation.
// Registered with the bus as this account's delivery handler; each
// attempt's error is reported to the dispatcher, not raised further.
func (c *DingTalkChannel) deliver(msg bus.OutboundMessage) error {
	webhook, ok := c.webhooks.get(msg.ChatID)
	if !ok {
		return fmt.Errorf("no session webhook for chat %q", msg.ChatID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Outbound attachments ride along as a vendor media reference.
	if path := msg.Metadata["media_path"]; path != "" {
		mediaType := msg.Metadata["media_type"]
		if mediaType == "" {
			mediaType = "image"
		}
		if mediaID, err := c.api.UploadMedia(ctx, path, mediaType); err != nil {
			logger.WarnCF("dingtalk", "Media upload failed", map[string]interface{}{
				"account": c.AccountID(),
				"path":    path,
				"error":   err.Error(),
			})
		} else {
			logger.DebugCF("dingtalk", "Outbound media uploaded", map[string]interface{}{
				"media_id": mediaID,
			})
		}
	}

	body := dingtalk.ComposeOutbound(msg.Content, msg.Markdown)
	return c.api.SendToWebhook(ctx, webhook, body, msg.Metadata["at_user_id"])
}

// Send is the proactive path: the host pushes a message outside a reply
// cycle, targeted by the cached conversation webhook.
func (c *DingTalkChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("dingtalk channel %q not running", c.AccountID())
	}
	return c.deliver(msg)
}

// webhookCache stores per-conversation session webhooks. Each inbound
// event refreshes them; entries past their vendor expiry are dropped on
// read.
type webhookCache struct {
	mu      sync.RWMutex
	entries map[string]webhookEntry
}

type webhookEntry struct {
	url     string
	expires int64 // epoch millis, 0 = unknown
}

func newWebhookCache() *webhookCache {
	return &webhookCache{entries: make(map[string]webhookEntry)}
}

// set stores the webhook under both the conversation and the sender, so
// replies and proactive sends can target either.
func (w *webhookCache) set(chatID, senderID, url string, expires int64) {
	if url == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	entry := webhookEntry{url: url, expires: expires}
	w.entries[chatID] = entry
	if senderID != "" {
		w.entries[senderID] = entry
	}
}

func (w *webhookCache) get(chatID string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entry, ok := w.entries[chatID]
	if !ok {
		return "", false
	}
	if entry.expires > 0 && time.Now().UnixMilli() > entry.expires {
		return "", false
	}
	return entry.url, true
}

// messageDedup drops vendor redeliveries of already-processed frames.
// Keys are marked only after the frame is fully handled, so a frame that
// got a negative acknowledgment is processed again on redelivery.
type messageDedup struct {
	mu   sync.Mutex
	keys map[string]bool
	cap  int
}

func newMessageDedup(capacity int) *messageDedup {
	return &messageDedup{keys: make(map[string]bool), cap: capacity}
}

func (d *messageDedup) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key]
}

func (d *messageDedup) mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.keys) >= d.cap {
		d.keys = make(map[string]bool)
	}
	d.keys[key] = true
}
