package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zhaopengme/dingclaw/pkg/bus"
)

// Entry is one recorded turn of a conversation.
type Entry struct {
	Role      string `json:"role"` // "user" or "assistant"
	Sender    string `json:"sender,omitempty"`
	Content   string `json:"content"`
	MediaPath string `json:"media_path,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Time      int64  `json:"time"` // epoch millis
}

type Session struct {
	Key     string    `json:"key"`
	Entries []Entry   `json:"entries"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// lastRoute remembers where the most recent direct-chat message came from,
// so proactive sends know which conversation to target.
type lastRoute struct {
	Channel   string `json:"channel"`
	AccountID string `json:"account_id,omitempty"`
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Updated   int64  `json:"updated"`
}

type SessionManager struct {
	sessions map[string]*Session
	routes   map[string]lastRoute // agentID -> last direct-chat route
	mu       sync.RWMutex
	storage  string
}

func NewSessionManager(storage string) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		routes:   make(map[string]lastRoute),
		storage:  storage,
	}

	if storage != "" {
		os.MkdirAll(storage, 0755)
		sm.loadSessions()
	}

	return sm
}

// RecordInbound persists an inbound envelope into its session transcript
// and, for direct chats, updates the agent's last-route pointer.
func (sm *SessionManager) RecordInbound(msg bus.InboundMessage) error {
	ts := msg.CreatedAt
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	sm.append(msg.SessionKey, Entry{
		Role:      "user",
		Sender:    msg.From,
		Content:   msg.Body,
		MediaPath: msg.MediaPath,
		MediaType: msg.MediaType,
		Time:      ts,
	})

	if msg.ChatType == "direct" && msg.AgentID != "" {
		sm.mu.Lock()
		sm.routes[msg.AgentID] = lastRoute{
			Channel:   msg.Channel,
			AccountID: msg.AccountID,
			ChatID:    msg.ChatID,
			SenderID:  msg.SenderID,
			Updated:   time.Now().UnixMilli(),
		}
		sm.mu.Unlock()
	}

	return sm.Save(msg.SessionKey)
}

// RecordOutbound appends a delivered reply to the session transcript.
func (sm *SessionManager) RecordOutbound(sessionKey, content string) error {
	sm.append(sessionKey, Entry{
		Role:    "assistant",
		Content: content,
		Time:    time.Now().UnixMilli(),
	})
	return sm.Save(sessionKey)
}

// LastRoute returns where the agent's most recent direct chat came from.
func (sm *SessionManager) LastRoute(agentID string) (channel, accountID, chatID string, ok bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	r, ok := sm.routes[agentID]
	return r.Channel, r.AccountID, r.ChatID, ok
}

func (sm *SessionManager) append(key string, entry Entry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[key]
	if !ok {
		session = &Session{
			Key:     key,
			Entries: []Entry{},
			Created: time.Now(),
		}
		sm.sessions[key] = session
	}

	session.Entries = append(session.Entries, entry)
	session.Updated = time.Now()
}

// History returns a copy of the session transcript.
func (sm *SessionManager) History(key string) []Entry {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[key]
	if !ok {
		return []Entry{}
	}

	entries := make([]Entry, len(session.Entries))
	copy(entries, session.Entries)
	return entries
}

// Clear drops a session's transcript and persists the empty state.
func (sm *SessionManager) Clear(key string) error {
	sm.mu.Lock()
	session, ok := sm.sessions[key]
	if ok {
		session.Entries = []Entry{}
		session.Updated = time.Now()
	}
	sm.mu.Unlock()

	if !ok {
		return nil
	}
	return sm.Save(key)
}

// sanitizeFilename converts a session key into a cross-platform safe
// filename. Keys contain ':' which is the volume separator on Windows.
func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

func (sm *SessionManager) Save(key string) error {
	if sm.storage == "" {
		return nil
	}

	filename := sanitizeFilename(key)

	// Keep the session file strictly inside sm.storage: reject "..",
	// absolute paths, separators, and OS-reserved device names.
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return os.ErrInvalid
	}

	// Snapshot under read lock, then do slow file I/O after unlock.
	sm.mu.RLock()
	stored, ok := sm.sessions[key]
	if !ok {
		sm.mu.RUnlock()
		return nil
	}

	snapshot := Session{
		Key:     stored.Key,
		Created: stored.Created,
		Updated: stored.Updated,
	}
	if len(stored.Entries) > 0 {
		snapshot.Entries = make([]Entry, len(stored.Entries))
		copy(snapshot.Entries, stored.Entries)
	} else {
		snapshot.Entries = []Entry{}
	}
	sm.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	sessionPath := filepath.Join(sm.storage, filename+".json")
	tmpFile, err := os.CreateTemp(sm.storage, "session-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (sm *SessionManager) loadSessions() error {
	files, err := os.ReadDir(sm.storage)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(sm.storage, file.Name()))
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.Key == "" {
			continue
		}

		sm.sessions[session.Key] = &session
	}

	return nil
}
