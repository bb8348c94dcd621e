// DingClaw - DingTalk Stream channel gateway
// License: MIT
//
// Copyright (c) 2026 DingClaw contributors

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts a bare string and
// JSON numbers, so allow_from can be "u1" or ["123", 123].
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = []string{s}
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents   AgentsConfig   `json:"agents"`
	Bindings []AgentBinding `json:"bindings,omitempty"`
	Session  SessionConfig  `json:"session,omitzero"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
	List     []AgentConfig `json:"list,omitempty"`
}

type AgentDefaults struct {
	Workspace string `env:"DINGCLAW_AGENTS_WORKSPACE" json:"workspace"`
}

type AgentConfig struct {
	ID      string `json:"id"`
	Default bool   `json:"default,omitempty"`
}

// AgentBinding maps a channel-specific match to an agent.
type AgentBinding struct {
	AgentID string       `json:"agent_id"`
	Match   BindingMatch `json:"match"`
}

type BindingMatch struct {
	Channel   string     `json:"channel"`
	AccountID string     `json:"account_id,omitempty"`
	Peer      *PeerMatch `json:"peer,omitempty"`
}

type PeerMatch struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type SessionConfig struct {
	DMScope string `env:"DINGCLAW_SESSION_DM_SCOPE" json:"dm_scope,omitempty"`
}

type ChannelsConfig struct {
	// DingTalk is the single-account shape; DingTalkAccounts adds
	// named accounts on top of (or instead of) it.
	DingTalk         DingTalkConfig            `json:"dingtalk"`
	DingTalkAccounts map[string]DingTalkConfig `json:"dingtalk_accounts,omitempty"`
}

type DingTalkConfig struct {
	Enabled      bool                `env:"DINGCLAW_CHANNELS_DINGTALK_ENABLED"       json:"enabled"`
	Name         string              `env:"DINGCLAW_CHANNELS_DINGTALK_NAME"          json:"name,omitempty"`
	ClientID     string              `env:"DINGCLAW_CHANNELS_DINGTALK_CLIENT_ID"     json:"client_id"`
	ClientSecret string              `env:"DINGCLAW_CHANNELS_DINGTALK_CLIENT_SECRET" json:"client_secret"`
	RobotCode    string              `env:"DINGCLAW_CHANNELS_DINGTALK_ROBOT_CODE"    json:"robot_code,omitempty"`
	DMPolicy     string              `env:"DINGCLAW_CHANNELS_DINGTALK_DM_POLICY"     json:"dm_policy,omitempty"`
	GroupPolicy  string              `env:"DINGCLAW_CHANNELS_DINGTALK_GROUP_POLICY"  json:"group_policy,omitempty"`
	MentionOnly  bool                `env:"DINGCLAW_CHANNELS_DINGTALK_MENTION_ONLY"  json:"mention_only,omitempty"`
	AllowFrom    FlexibleStringSlice `env:"DINGCLAW_CHANNELS_DINGTALK_ALLOW_FROM"    json:"allow_from,omitempty"`
	ShowThinking bool                `env:"DINGCLAW_CHANNELS_DINGTALK_SHOW_THINKING" json:"show_thinking"`
	Debug        bool                `env:"DINGCLAW_CHANNELS_DINGTALK_DEBUG"         json:"debug,omitempty"`
}

// GatewayConfig holds the control surface (RPC probe) settings.
type GatewayConfig struct {
	Host string `env:"DINGCLAW_GATEWAY_HOST" json:"host"`
	Port int    `env:"DINGCLAW_GATEWAY_PORT" json:"port"`
}

// DingTalkAccount is one resolved account entry: the account ID plus its
// normalized configuration.
type DingTalkAccount struct {
	ID     string
	Config DingTalkConfig
}

// DefaultConfig returns the baseline configuration that a loaded file or
// env overrides are applied on top of.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace: filepath.Join(home, ".dingclaw", "workspace"),
			},
		},
		Channels: ChannelsConfig{
			DingTalk: DingTalkConfig{
				DMPolicy:     "open",
				GroupPolicy:  "open",
				ShowThinking: true,
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
	}
}

// Load reads the config file at path (if it exists), then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// WorkspacePath returns the agent workspace directory.
func (c *Config) WorkspacePath() string {
	return c.Agents.Defaults.Workspace
}

// SessionsPath returns the directory session transcripts are stored in.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.WorkspacePath(), "sessions")
}

func (c *Config) normalize() {
	c.Channels.DingTalk = normalizeDingTalk(c.Channels.DingTalk)
	for id, acc := range c.Channels.DingTalkAccounts {
		c.Channels.DingTalkAccounts[id] = normalizeDingTalk(acc)
	}
}

func normalizeDingTalk(cfg DingTalkConfig) DingTalkConfig {
	if strings.TrimSpace(cfg.DMPolicy) == "" {
		cfg.DMPolicy = "open"
	}
	if strings.TrimSpace(cfg.GroupPolicy) == "" {
		cfg.GroupPolicy = "open"
	}
	return cfg
}

// DingTalkAccountList enumerates the enabled DingTalk accounts. Named
// accounts win over the single-account shape when both are present; the
// single-account shape is exposed under the "default" account ID.
func (c *Config) DingTalkAccountList() []DingTalkAccount {
	var accounts []DingTalkAccount

	if len(c.Channels.DingTalkAccounts) > 0 {
		ids := make([]string, 0, len(c.Channels.DingTalkAccounts))
		for id := range c.Channels.DingTalkAccounts {
			ids = append(ids, id)
		}
		// Stable order for startup logging and tests.
		sort.Strings(ids)
		for _, id := range ids {
			acc := c.Channels.DingTalkAccounts[id]
			if !acc.Enabled {
				continue
			}
			accounts = append(accounts, DingTalkAccount{ID: id, Config: acc})
		}
		return accounts
	}

	if c.Channels.DingTalk.Enabled {
		accounts = append(accounts, DingTalkAccount{ID: "default", Config: c.Channels.DingTalk})
	}
	return accounts
}

// Validate rejects accounts that cannot start: missing credentials are a
// configuration-fatal error, caught before any connection is attempted.
func (a DingTalkAccount) Validate() error {
	if strings.TrimSpace(a.Config.ClientID) == "" || strings.TrimSpace(a.Config.ClientSecret) == "" {
		return fmt.Errorf("dingtalk account %q: client_id and client_secret are required", a.ID)
	}
	return nil
}
