package bridge

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/namespace"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
)

// run consumes transport events until the client's stream ends.
// Deletes are handled inline, proposals in their own goroutine and requests
// on per-topic workers, so nothing here waits on the wallet.
func (b *Bridge) run(client transport.Client) {
	defer b.wg.Done()

	for ev := range client.Events() {
		b.dispatch(client, ev)
	}

	b.mu.Lock()
	lost := b.client == client && !b.closed
	var workers map[string]*worker
	if lost {
		b.client = nil
		workers = b.workers
		b.workers = make(map[string]*worker)
		// answers that went to the dead client may be redelivered on the next one
		b.answered.Purge()
	}
	b.mu.Unlock()

	if !lost {
		return
	}
	for _, w := range workers {
		w.stop()
	}
	log.Warn("bridge: transport event stream ended", "workers", len(workers))
	b.setState(StateUninitialized)
	b.publish(Event{Kind: EventTransportLost})
}

func (b *Bridge) dispatch(client transport.Client, ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("bridge: event handler panicked", "kind", string(ev.Kind), "panic", r)
		}
	}()

	switch ev.Kind {
	case transport.EventProposal:
		if ev.Proposal != nil {
			b.startProposal(client, *ev.Proposal)
		}
	case transport.EventRequest:
		if ev.Request != nil {
			b.handleRequest(client, *ev.Request)
		}
	case transport.EventDelete:
		b.handleDelete(ev.Topic)
	default:
		log.Warn("bridge: ignoring unknown event", "kind", string(ev.Kind))
	}
}

func (b *Bridge) startProposal(client transport.Client, p transport.Proposal) {
	b.mu.Lock()
	if _, dup := b.proposals[p.ID]; dup {
		b.mu.Unlock()
		log.Info("bridge: dropping redelivered proposal", "id", p.ID)
		return
	}
	b.proposals[p.ID] = TopicProposed
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			delete(b.proposals, p.ID)
			b.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Error("bridge: proposal handler panicked", "id", p.ID, "panic", r)
				ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), b.cfg.RespondTimeout)
				defer cancel()
				b.reject(ctx, client, p, transport.ReasonUserRejected("Internal error."), errors.Newf("panic: %v", r))
			}
		}()
		b.handleProposal(client, p)
	}()
}

func (b *Bridge) handleProposal(client transport.Client, p transport.Proposal) {
	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.RespondTimeout)
	defer cancel()

	name := p.Proposer.Name
	if name == "" {
		name = unknownAppName
	}
	log.Info("bridge: session proposal", "id", p.ID, "proposer", name, "url", p.Proposer.URL)

	account, ok := b.wallet.CurrentAccount(ctx)
	if !ok {
		b.reject(ctx, client, p, transport.ReasonUserRejected("No wallet connected."), ErrNoWalletConnected)
		return
	}

	res, err := namespace.Negotiate(namespace.Input{
		Required:     p.Required,
		Optional:     p.Optional,
		Supported:    b.cfg.Supported,
		DefaultChain: b.cfg.DefaultChain,
		Account:      account,
	})
	if err != nil {
		var unsupported *namespace.UnsupportedChainError
		if errors.As(err, &unsupported) {
			b.reject(ctx, client, p, transport.ReasonUnsupportedChains("Unsupported chain "+unsupported.Chain), err)
			return
		}
		b.reject(ctx, client, p, transport.ReasonUserRejected(err.Error()), err)
		return
	}

	session, err := client.Approve(ctx, p.ID, res.Namespaces())
	if err != nil {
		b.reject(ctx, client, p, transport.ReasonUserRejected("Approval failed."), errors.Wrap(err, "approve"))
		return
	}
	if session.Topic == "" {
		log.Error("bridge: transport approved without a topic", "proposal", p.ID)
		b.metrics.Proposal("rejected")
		return
	}

	b.mu.Lock()
	b.topics[session.Topic] = TopicApproved
	b.mu.Unlock()

	app := sessions.ConnectedApp{
		ID:          session.Topic,
		Topic:       session.Topic,
		Name:        name,
		URL:         p.Proposer.URL,
		ChainID:     b.primaryChain(ctx, res),
		Accounts:    res.Accounts,
		ConnectedAt: time.Now().UTC(),
	}
	if len(p.Proposer.Icons) > 0 {
		app.Icon = p.Proposer.Icons[0]
	}

	if err := b.store.Add(app); err != nil {
		// an approved session we cannot remember must not stay open
		log.Error("bridge: persisting session failed, closing it", "topic", session.Topic, "error", err)
		if derr := client.Disconnect(ctx, session.Topic, transport.ReasonUserDisconnected()); derr != nil {
			log.Warn("bridge: closing unpersisted session failed", "topic", session.Topic, "error", derr)
		}
		b.closeTopic(session.Topic)
		b.metrics.Proposal("rejected")
		b.notifier.Notify(notice.LevelError, "Failed to connect to "+name)
		return
	}

	b.mu.Lock()
	open := b.openCountLocked()
	b.mu.Unlock()
	b.metrics.SetSessions(open)
	b.metrics.Proposal("approved")

	log.Info("bridge: session approved", "topic", session.Topic, "app", name, "chains", res.Chains)
	b.notifier.Notify(notice.LevelSuccess, "Connected to "+name)
	b.publish(Event{Kind: EventSessionApproved, Topic: session.Topic, App: &app})
}

func (b *Bridge) reject(ctx context.Context, client transport.Client, p transport.Proposal, reason transport.Reason, cause error) {
	log.Warn("bridge: rejecting proposal", "id", p.ID, "code", reason.Code, "reason", reason.Message, "error", cause)
	if err := client.Reject(ctx, p.ID, reason); err != nil {
		log.Error("bridge: reject failed", "id", p.ID, "error", err)
	}
	b.metrics.Proposal("rejected")
	b.notifier.Notify(notice.LevelError, "Connection rejected: "+reason.Message)
	b.publish(Event{Kind: EventSessionRejected, Err: cause})
}

// primaryChain prefers the wallet's current chain when it was approved.
func (b *Bridge) primaryChain(ctx context.Context, res namespace.Result) uint64 {
	current, ok := b.wallet.CurrentChain(ctx)
	if !ok {
		return res.PrimaryChain
	}
	want := "eip155:" + strconv.FormatUint(current, 10)
	for _, c := range res.Chains {
		if c == want {
			return current
		}
	}
	return res.PrimaryChain
}

func requestKey(topic string, id uint64) string {
	return topic + "#" + strconv.FormatUint(id, 10)
}

func (b *Bridge) handleRequest(client transport.Client, r transport.Request) {
	b.mu.Lock()
	state, known := b.topics[r.Topic]
	if !known || state == TopicClosed {
		b.mu.Unlock()
		log.Warn("bridge: request for unknown session", "topic", r.Topic, "id", r.ID, "method", r.Method)
		b.metrics.Request(r.Method, "unknown_topic", 0)
		b.respondAsync(client, r.Topic, transport.ErrorResponse(r.ID, transport.CodeSessionNotFound, "Session not found"))
		return
	}

	key := requestKey(r.Topic, r.ID)
	if b.answered.Contains(key) {
		b.mu.Unlock()
		log.Info("bridge: dropping redelivered request", "topic", r.Topic, "id", r.ID)
		b.metrics.Request(r.Method, "duplicate", 0)
		return
	}
	b.answered.Add(key, struct{}{})

	w := b.workers[r.Topic]
	if w == nil {
		w = newWorker(b, r.Topic)
		b.workers[r.Topic] = w
		b.wg.Add(1)
		go w.loop()
	}
	b.mu.Unlock()

	limited := !b.limiter.Allow(r.Topic, time.Now())
	w.enqueue(PendingRequest{ID: r.ID, Topic: r.Topic, Method: r.Method, Params: r.Params, client: client, limited: limited})
}

func (b *Bridge) respondAsync(client transport.Client, topic string, resp transport.Response) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.respond(client, topic, resp)
	}()
}

func (b *Bridge) respond(client transport.Client, topic string, resp transport.Response) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(b.ctx), b.cfg.RespondTimeout)
	defer cancel()
	if err := client.Respond(ctx, topic, resp); err != nil {
		log.Error("bridge: respond failed", "topic", topic, "id", resp.ID, "error", err)
	}
}

func (b *Bridge) handleDelete(topic string) {
	log.Info("bridge: session deleted by peer", "topic", topic)

	var name string
	for _, app := range b.store.List() {
		if app.Topic == topic {
			name = app.Name
		}
	}
	if err := b.store.Remove(topic); err != nil {
		log.Error("bridge: removing deleted session failed", "topic", topic, "error", err)
	}
	b.closeTopic(topic)
	if name != "" {
		b.notifier.Notify(notice.LevelInfo, name+" disconnected")
	}
}
