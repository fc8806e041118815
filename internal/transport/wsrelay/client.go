// Package wsrelay implements transport.Client against a sign-client sidecar that
// speaks JSON-RPC 2.0 over a websocket. The sidecar owns the relay connection and
// all pairing cryptography; this side only sees decrypted proposals and requests.
package wsrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
)

const (
	methodInit       = "wc_init"
	methodPair       = "wc_pair"
	methodApprove    = "wc_approveSession"
	methodReject     = "wc_rejectSession"
	methodRespond    = "wc_respond"
	methodDisconnect = "wc_disconnectSession"
	methodSessions   = "wc_getSessions"

	defaultCallTimeout = 30 * time.Second
	pingInterval       = 20 * time.Second
	pongWait           = 60 * time.Second
	eventBuffer        = 64
)

var ErrClosed = errors.New("relay connection closed")

type Config struct {
	URL         string
	ProjectID   string
	Metadata    transport.Metadata
	CallTimeout time.Duration
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

type message struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      *uint64             `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Params  json.RawMessage     `json:"params,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *transport.RPCError `json:"error,omitempty"`
}

type Client struct {
	cfg  Config
	conn *websocket.Conn

	writeMu sync.Mutex

	nextID    atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan message

	// notifications queue in inbox so the read loop never waits on Events() readers
	inboxMu   sync.Mutex
	inbox     []transport.Event
	inboxWake chan struct{}

	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Client = (*Client)(nil)

// NewDialer adapts Dial to the transport.Dialer the bridge initializes with.
func NewDialer(cfg Config) transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context) (transport.Client, error) {
		return Dial(ctx, cfg)
	})
}

// Dial connects to the sidecar and registers the project id and wallet metadata.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("wsrelay: empty url")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("X-Project-Id", cfg.ProjectID)

	conn, _, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial relay %s", cfg.URL)
	}

	c := &Client{
		cfg:       cfg,
		conn:      conn,
		pending:   make(map[uint64]chan message),
		inboxWake: make(chan struct{}, 1),
		events:    make(chan transport.Event, eventBuffer),
		done:      make(chan struct{}),
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop()
	go c.pumpEvents()

	params := map[string]any{"projectId": cfg.ProjectID, "metadata": cfg.Metadata}
	if err := c.call(ctx, methodInit, params, nil); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "relay init")
	}

	log.Info("wsrelay: connected", "url", cfg.URL)
	return c, nil
}

func (c *Client) Pair(ctx context.Context, uri string) error {
	return c.call(ctx, methodPair, map[string]string{"uri": uri}, nil)
}

func (c *Client) Approve(ctx context.Context, proposalID uint64, namespaces map[string]transport.Namespace) (transport.Session, error) {
	var s transport.Session
	err := c.call(ctx, methodApprove, map[string]any{"id": proposalID, "namespaces": namespaces}, &s)
	return s, err
}

func (c *Client) Reject(ctx context.Context, proposalID uint64, reason transport.Reason) error {
	return c.call(ctx, methodReject, map[string]any{"id": proposalID, "reason": reason}, nil)
}

func (c *Client) Respond(ctx context.Context, topic string, resp transport.Response) error {
	return c.call(ctx, methodRespond, map[string]any{"topic": topic, "response": resp}, nil)
}

func (c *Client) Disconnect(ctx context.Context, topic string, reason transport.Reason) error {
	return c.call(ctx, methodDisconnect, map[string]any{"topic": topic, "reason": reason}, nil)
}

func (c *Client) Sessions(ctx context.Context) ([]transport.Session, error) {
	var out []transport.Session
	if err := c.call(ctx, methodSessions, struct{}{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Events() <-chan transport.Event { return c.events }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrapf(err, "%s: encode params", method)
	}

	id := c.nextID.Add(1)
	ch := make(chan message, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(message{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}); err != nil {
		return errors.Wrapf(err, "%s: write", method)
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s", method)
	case <-c.done:
		return errors.Wrapf(ErrClosed, "%s", method)
	case <-timer.C:
		return errors.Newf("%s: no reply after %s", method, c.cfg.CallTimeout)
	case resp, ok := <-ch:
		if !ok {
			return errors.Wrapf(ErrClosed, "%s", method)
		}
		if resp.Error != nil {
			return errors.Wrapf(resp.Error, "%s", method)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return errors.Wrapf(err, "%s: decode result", method)
		}
		return nil
	}
}

func (c *Client) write(m message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(m)
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				log.Warn("wsrelay: ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		_ = c.Close()
	}()

	for {
		var m message
		if err := c.conn.ReadJSON(&m); err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn("wsrelay: connection lost", "error", err)
				} else {
					log.Info("wsrelay: read loop exiting", "error", err)
				}
			}
			return
		}

		if m.Method == "" && m.ID != nil {
			c.deliver(m)
			continue
		}
		if m.Method != "" {
			ev, err := decodeEvent(m)
			if err != nil {
				log.Warn("wsrelay: dropping malformed notification", "method", m.Method, "error", err)
				continue
			}
			c.queueEvent(ev)
		}
	}
}

func (c *Client) queueEvent(ev transport.Event) {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, ev)
	c.inboxMu.Unlock()

	select {
	case c.inboxWake <- struct{}{}:
	default:
	}
}

// pumpEvents moves queued notifications to Events() in arrival order and closes
// it once the connection is done.
func (c *Client) pumpEvents() {
	defer close(c.events)

	for {
		c.inboxMu.Lock()
		if len(c.inbox) == 0 {
			c.inboxMu.Unlock()
			select {
			case <-c.inboxWake:
				continue
			case <-c.done:
				return
			}
		}
		ev := c.inbox[0]
		c.inbox[0] = transport.Event{}
		c.inbox = c.inbox[1:]
		c.inboxMu.Unlock()

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) deliver(m message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[*m.ID]
	c.pendingMu.Unlock()
	if !ok {
		log.Warn("wsrelay: reply for unknown call", "id", *m.ID)
		return
	}
	ch <- m
}

func decodeEvent(m message) (transport.Event, error) {
	switch transport.EventKind(m.Method) {
	case transport.EventProposal:
		var p transport.Proposal
		if err := json.Unmarshal(m.Params, &p); err != nil {
			return transport.Event{}, err
		}
		return transport.Event{Kind: transport.EventProposal, Proposal: &p}, nil

	case transport.EventRequest:
		var r transport.Request
		if err := json.Unmarshal(m.Params, &r); err != nil {
			return transport.Event{}, err
		}
		if r.Topic == "" {
			return transport.Event{}, errors.New("request without topic")
		}
		return transport.Event{Kind: transport.EventRequest, Request: &r}, nil

	case transport.EventDelete:
		var d struct {
			Topic string `json:"topic"`
		}
		if err := json.Unmarshal(m.Params, &d); err != nil {
			return transport.Event{}, err
		}
		if d.Topic == "" {
			return transport.Event{}, errors.New("delete without topic")
		}
		return transport.Event{Kind: transport.EventDelete, Topic: d.Topic}, nil

	default:
		return transport.Event{}, errors.Newf("unknown notification %q", m.Method)
	}
}
