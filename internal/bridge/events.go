package bridge

import (
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
)

type GlobalState int

const (
	StateUninitialized GlobalState = iota
	StateInitializing
	StateReady
)

func (s GlobalState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

type TopicState string

const (
	TopicProposed TopicState = "proposed"
	TopicApproved TopicState = "approved"
	TopicActive   TopicState = "active"
	TopicClosed   TopicState = "closed"
)

type EventKind string

const (
	EventStateChanged    EventKind = "state_changed"
	EventSessionApproved EventKind = "session_approved"
	EventSessionRejected EventKind = "session_rejected"
	EventSessionClosed   EventKind = "session_closed"
	EventRequestAnswered EventKind = "request_answered"
	EventTransportLost   EventKind = "transport_lost"
)

// Event is a lifecycle notification for subscribers.
type Event struct {
	Kind   EventKind
	State  GlobalState
	Topic  string
	App    *sessions.ConnectedApp
	Method string
	// Err is set for rejected proposals and failed requests.
	Err error
}

const subscriberBuffer = 32

// Subscribe returns a channel of lifecycle events and a func that ends the subscription.
// Events are dropped for subscribers that fall behind.
func (b *Bridge) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.subsMu.Lock()
	b.subs[ch] = struct{}{}
	b.subsMu.Unlock()

	return ch, func() {
		b.subsMu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.subsMu.Unlock()
	}
}

func (b *Bridge) publish(ev Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Warn("bridge: subscriber behind, dropping event", "kind", string(ev.Kind), "topic", ev.Topic)
		}
	}
}

func (b *Bridge) closeSubscribers() {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}
