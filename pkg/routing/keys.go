package routing

import (
	"fmt"
	"strings"
)

// RoutePeer identifies the conversation partner: a user for direct chats,
// a conversation for group chats.
type RoutePeer struct {
	Kind string // "direct" or "group"
	ID   string
}

// DMScope controls whether direct chats share the agent's main session or
// get one session per peer.
type DMScope string

const (
	DMScopeMain    DMScope = "main"
	DMScopePerPeer DMScope = "per-peer"
)

const (
	DefaultAgentID   = "main"
	DefaultAccountID = "default"
)

// NormalizeAgentID lowercases and trims an agent ID, falling back to the
// default agent when empty.
func NormalizeAgentID(id string) string {
	trimmed := strings.ToLower(strings.TrimSpace(id))
	if trimmed == "" {
		return DefaultAgentID
	}
	return trimmed
}

// NormalizeAccountID lowercases and trims an account ID, falling back to
// the default account when empty.
func NormalizeAccountID(id string) string {
	trimmed := strings.ToLower(strings.TrimSpace(id))
	if trimmed == "" {
		return DefaultAccountID
	}
	return trimmed
}

// SessionKeyParams carries everything needed to build a peer session key.
type SessionKeyParams struct {
	AgentID   string
	Channel   string
	AccountID string
	Peer      *RoutePeer
	DMScope   DMScope
}

// BuildAgentMainSessionKey returns the agent's shared main session key.
func BuildAgentMainSessionKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", NormalizeAgentID(agentID))
}

// BuildAgentPeerSessionKey returns the session key for a peer conversation.
// Direct chats collapse into the agent's main session under DMScopeMain.
func BuildAgentPeerSessionKey(p SessionKeyParams) string {
	agentID := NormalizeAgentID(p.AgentID)
	if p.Peer == nil || strings.TrimSpace(p.Peer.ID) == "" {
		return BuildAgentMainSessionKey(agentID)
	}
	if p.Peer.Kind == "direct" && p.DMScope != DMScopePerPeer {
		return BuildAgentMainSessionKey(agentID)
	}
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s",
		agentID,
		strings.ToLower(strings.TrimSpace(p.Channel)),
		NormalizeAccountID(p.AccountID),
		strings.ToLower(strings.TrimSpace(p.Peer.Kind)),
		p.Peer.ID,
	)
}
