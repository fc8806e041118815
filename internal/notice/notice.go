// Package notice delivers short human-facing notices (toasts) to whatever presents them.
package notice

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

type Notifier interface {
	Notify(level Level, message string)
}

// Feed logs every notice and keeps the most recent ones for the local API.
type Feed struct {
	mu     sync.Mutex
	max    int
	recent []Notice
}

func NewFeed(max int) *Feed {
	if max <= 0 {
		max = 50
	}
	return &Feed{max: max}
}

func (f *Feed) Notify(level Level, message string) {
	n := Notice{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		Time:    time.Now().UTC(),
	}

	switch level {
	case LevelError:
		log.Error("notice", "message", message)
	case LevelWarning:
		log.Warn("notice", "message", message)
	default:
		log.Info("notice", "level", string(level), "message", message)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, n)
	if over := len(f.recent) - f.max; over > 0 {
		f.recent = append([]Notice(nil), f.recent[over:]...)
	}
}

// Recent returns the kept notices, newest first.
func (f *Feed) Recent() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notice, 0, len(f.recent))
	for i := len(f.recent) - 1; i >= 0; i-- {
		out = append(out, f.recent[i])
	}
	return out
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(Level, string) {}
