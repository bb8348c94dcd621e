package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/zhaopengme/dingclaw/pkg/bus"
)

// Channel is one connected messaging account.
type Channel interface {
	Name() string
	AccountID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	name      string
	accountID string
	broker    bus.Broker
	running   atomic.Bool
	allowList []string
}

func NewBaseChannel(name, accountID string, broker bus.Broker, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		accountID: accountID,
		broker:    broker,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) AccountID() string {
	return c.accountID
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}

// NormalizeID strips the channel prefixes users paste from logs or config
// examples ("dingtalk:u123", "dd:u123", "ding:u123" all mean "u123").
func NormalizeID(id string) string {
	trimmed := strings.TrimSpace(id)
	for _, prefix := range []string{"dingtalk:", "dd:", "ding:"} {
		if strings.HasPrefix(trimmed, prefix) {
			return trimmed[len(prefix):]
		}
	}
	return trimmed
}

// IsAllowed reports whether an identifier passes the allowlist. An empty
// allowlist or a "*" entry allows everyone. Comparison is done on
// normalized, case-folded identifiers.
func (c *BaseChannel) IsAllowed(id string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	normalized := strings.ToLower(NormalizeID(id))
	for _, allowed := range c.allowList {
		entry := strings.TrimSpace(allowed)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		if strings.ToLower(NormalizeID(entry)) == normalized {
			return true
		}
	}
	return false
}

func (c *BaseChannel) Broker() bus.Broker {
	return c.broker
}
