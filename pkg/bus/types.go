package bus

// InboundMessage is the canonical envelope built from a channel event.
// From/To carry channel-prefixed peer identities ("dingtalk:u123");
// SessionKey and AgentID are filled in by route resolution.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id,omitempty"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	ChatType   string            `json:"chat_type"` // "direct" or "group"
	From       string            `json:"from"`
	To         string            `json:"to"`
	Body       string            `json:"body"`
	MediaPath  string            `json:"media_path,omitempty"`
	MediaType  string            `json:"media_type,omitempty"`
	AgentID    string            `json:"agent_id,omitempty"`
	SessionKey string            `json:"session_key,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	CreatedAt  int64             `json:"created_at,omitempty"` // epoch millis from the vendor event
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one reply payload headed back to a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	AccountID string            `json:"account_id,omitempty"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Markdown  bool              `json:"markdown,omitempty"` // force markdown rendering
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DeliveryHandler delivers one outbound payload. Channels register one per
// account; the dispatcher reports each attempt's result instead of raising.
type DeliveryHandler func(OutboundMessage) error
