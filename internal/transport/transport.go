// Package transport defines what the bridge needs from the session protocol layer:
// pairing, approve/reject, respond, disconnect, the live session list and an event stream.
// Key agreement and payload encryption live entirely behind this interface.
package transport

import (
	"context"
	"encoding/json"
)

type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons,omitempty"`
}

// Namespace is one entry of a proposal's required/optional map or of an approved session.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
	Accounts []string `json:"accounts,omitempty"`
}

type Proposal struct {
	ID           uint64               `json:"id"`
	PairingTopic string               `json:"pairingTopic"`
	Required     map[string]Namespace `json:"requiredNamespaces"`
	Optional     map[string]Namespace `json:"optionalNamespaces"`
	Proposer     Metadata             `json:"proposer"`
}

type Request struct {
	ID      uint64          `json:"id"`
	Topic   string          `json:"topic"`
	ChainID string          `json:"chainId,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type Session struct {
	Topic      string               `json:"topic"`
	Namespaces map[string]Namespace `json:"namespaces"`
	Peer       Metadata             `json:"peer"`
	Expiry     int64                `json:"expiry,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Response answers one Request. Exactly one of Result and Error is set.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type Reason struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type EventKind string

const (
	EventProposal EventKind = "session_proposal"
	EventRequest  EventKind = "session_request"
	EventDelete   EventKind = "session_delete"
)

type Event struct {
	Kind     EventKind
	Proposal *Proposal
	Request  *Request
	// Topic is set for EventDelete.
	Topic string
}

type Client interface {
	Pair(ctx context.Context, uri string) error
	Approve(ctx context.Context, proposalID uint64, namespaces map[string]Namespace) (Session, error)
	Reject(ctx context.Context, proposalID uint64, reason Reason) error
	Respond(ctx context.Context, topic string, resp Response) error
	Disconnect(ctx context.Context, topic string, reason Reason) error
	Sessions(ctx context.Context) ([]Session, error)
	// Events is closed when the client shuts down.
	Events() <-chan Event
	Close() error
}

// Dialer builds a connected Client. The bridge calls it at most once per successful initialization.
type Dialer interface {
	Dial(ctx context.Context) (Client, error)
}

type DialerFunc func(ctx context.Context) (Client, error)

func (f DialerFunc) Dial(ctx context.Context) (Client, error) { return f(ctx) }
