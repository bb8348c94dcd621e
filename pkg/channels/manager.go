// DingClaw - DingTalk Stream channel gateway
package channels

import (
	"context"
	"fmt"
	"sort"

	"github.com/zhaopengme/dingclaw/pkg/bus"
	"github.com/zhaopengme/dingclaw/pkg/config"
	"github.com/zhaopengme/dingclaw/pkg/logger"
	"github.com/zhaopengme/dingclaw/pkg/routing"
	"github.com/zhaopengme/dingclaw/pkg/session"
)

// Manager owns every configured channel account and their lifecycle.
type Manager struct {
	channels map[string]Channel
	broker   bus.Broker
}

// AccountStatus is one account's snapshot for the status surfaces.
type AccountStatus struct {
	Channel   string `json:"channel"`
	AccountID string `json:"account_id"`
	RobotCode string `json:"robot_code,omitempty"`
	Running   bool   `json:"running"`
}

func NewManager(
	cfg *config.Config,
	broker bus.Broker,
	resolver *routing.RouteResolver,
	sessions *session.SessionManager,
) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		broker:   broker,
	}

	for _, account := range cfg.DingTalkAccountList() {
		if err := account.Validate(); err != nil {
			return nil, err
		}
		ch, err := NewDingTalkChannel(account.ID, account.Config, broker, resolver, sessions)
		if err != nil {
			return nil, err
		}
		m.channels[account.ID] = ch
	}

	if len(m.channels) == 0 {
		return nil, fmt.Errorf("no enabled dingtalk accounts in config")
	}

	return m, nil
}

func (m *Manager) StartAll(ctx context.Context) error {
	for id, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start dingtalk account %q: %w", id, err)
		}
	}
	logger.InfoCF("channels", "All channels started", map[string]interface{}{
		"count": len(m.channels),
	})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for id, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"account": id,
				"error":   err.Error(),
			})
		}
	}
}

// Get returns a channel by account ID.
func (m *Manager) Get(accountID string) (Channel, bool) {
	ch, ok := m.channels[accountID]
	return ch, ok
}

// Send routes a proactive message to the matching account.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	accountID := msg.AccountID
	if accountID == "" {
		accountID = routing.DefaultAccountID
	}
	ch, ok := m.channels[accountID]
	if !ok {
		return fmt.Errorf("unknown dingtalk account %q", accountID)
	}
	return ch.Send(ctx, msg)
}

// Status reports every managed account, ordered by account ID.
func (m *Manager) Status() []AccountStatus {
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	statuses := make([]AccountStatus, 0, len(m.channels))
	for _, id := range ids {
		ch := m.channels[id]
		status := AccountStatus{
			Channel:   ch.Name(),
			AccountID: id,
			Running:   ch.IsRunning(),
		}
		if dt, ok := ch.(*DingTalkChannel); ok {
			status.RobotCode = dt.config.RobotCode
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Probe verifies each account's credentials against the vendor API.
func (m *Manager) Probe(ctx context.Context) map[string]string {
	results := make(map[string]string, len(m.channels))
	for id, ch := range m.channels {
		dt, ok := ch.(*DingTalkChannel)
		if !ok {
			continue
		}
		if _, err := dt.API().AccessToken(ctx); err != nil {
			results[id] = err.Error()
		} else {
			results[id] = "ok"
		}
	}
	return results
}
