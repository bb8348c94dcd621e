// DingClaw - DingTalk Stream channel gateway
// License: MIT
//
// Copyright (c) 2026 DingClaw contributors

package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	level atomic.Int32

	mu  sync.Mutex
	out = os.Stderr
)

func init() {
	level.Store(int32(INFO))
}

// SetLevel sets the minimum level that will be written.
func SetLevel(l Level) {
	level.Store(int32(l))
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "?"
}

func logf(l Level, channel, msg string, fields map[string]interface{}) {
	if l < Level(level.Load()) {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(l.String())
	b.WriteString("] [")
	b.WriteString(channel)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')

	mu.Lock()
	out.WriteString(b.String())
	mu.Unlock()
}

// DebugC logs a debug message scoped to a channel.
func DebugC(channel, msg string) { logf(DEBUG, channel, msg, nil) }

// DebugCF logs a debug message with structured fields.
func DebugCF(channel, msg string, fields map[string]interface{}) { logf(DEBUG, channel, msg, fields) }

// InfoC logs an info message scoped to a channel.
func InfoC(channel, msg string) { logf(INFO, channel, msg, nil) }

// InfoCF logs an info message with structured fields.
func InfoCF(channel, msg string, fields map[string]interface{}) { logf(INFO, channel, msg, fields) }

// WarnC logs a warning scoped to a channel.
func WarnC(channel, msg string) { logf(WARN, channel, msg, nil) }

// WarnCF logs a warning with structured fields.
func WarnCF(channel, msg string, fields map[string]interface{}) { logf(WARN, channel, msg, fields) }

// ErrorC logs an error scoped to a channel.
func ErrorC(channel, msg string) { logf(ERROR, channel, msg, nil) }

// ErrorCF logs an error with structured fields.
func ErrorCF(channel, msg string, fields map[string]interface{}) { logf(ERROR, channel, msg, fields) }
