// Package bridge is the session state machine between dApps on the transport and
// the host wallet. It owns the transport client, answers every session request
// exactly once and keeps the session store in step with the transport.
package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/pairing"
	"github.com/quantumauth-io/wc-bridge/internal/ratelimit"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDialTimeout    = 30 * time.Second
	defaultRequestTimeout = 5 * time.Minute
	defaultRespondTimeout = 30 * time.Second
	defaultDedupeSize     = 4096
	defaultDedupeTTL      = 10 * time.Minute

	unknownAppName = "Unknown App"
)

// Wallet is what the bridge needs from the host wallet.
type Wallet interface {
	CurrentAccount(ctx context.Context) (string, bool)
	CurrentChain(ctx context.Context) (uint64, bool)
	Send(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// Store is the durable session list. Only the bridge writes to it.
type Store interface {
	List() []sessions.ConnectedApp
	Add(app sessions.ConnectedApp) error
	Remove(topic string) error
	Clear() error
	Reconcile(liveTopics map[string]struct{}) ([]string, error)
}

type Config struct {
	ProjectID    string
	DefaultChain uint64
	// Supported is the chain allowlist offered to dApps.
	Supported []uint64

	DialTimeout    time.Duration
	RequestTimeout time.Duration
	RespondTimeout time.Duration

	DedupeSize int
	DedupeTTL  time.Duration

	// Per-topic request rate. Zero disables limiting.
	RequestsPerSecond float64
	RequestBurst      int
}

type Bridge struct {
	cfg      Config
	dialer   transport.Dialer
	wallet   Wallet
	store    Store
	notifier notice.Notifier
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	initGroup singleflight.Group

	mu     sync.Mutex
	state  GlobalState
	client transport.Client
	topics map[string]TopicState
	// proposals being negotiated, by proposal id
	proposals map[uint64]TopicState
	workers   map[string]*worker
	answered  *expirable.LRU[string, struct{}]
	limiter   *ratelimit.MapLimiter
	closed    bool

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

func New(cfg Config, dialer transport.Dialer, wallet Wallet, store Store, notifier notice.Notifier, m *metrics.Metrics) *Bridge {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RespondTimeout <= 0 {
		cfg.RespondTimeout = defaultRespondTimeout
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = defaultDedupeSize
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if notifier == nil {
		notifier = notice.Discard{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:       cfg,
		dialer:    dialer,
		wallet:    wallet,
		store:     store,
		notifier:  notifier,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		topics:    make(map[string]TopicState),
		proposals: make(map[uint64]TopicState),
		workers:   make(map[string]*worker),
		answered:  expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeTTL),
		limiter:   ratelimit.New(cfg.RequestsPerSecond, cfg.RequestBurst, cfg.DedupeTTL),
		subs:      make(map[chan Event]struct{}),
	}
}

func (b *Bridge) State() GlobalState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TopicState reports the state of topic; unknown topics report false.
func (b *Bridge) TopicState(topic string) (TopicState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.topics[topic]
	return s, ok
}

// ProposalState reports TopicProposed while proposal id is being negotiated.
func (b *Bridge) ProposalState(id uint64) (TopicState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.proposals[id]
	return s, ok
}

func (b *Bridge) Sessions() []sessions.ConnectedApp { return b.store.List() }

// Initialize dials the transport once. Concurrent callers share the in-flight attempt;
// calls after success are no-ops. A failed attempt leaves the bridge uninitialized.
func (b *Bridge) Initialize(ctx context.Context) error {
	if strings.TrimSpace(b.cfg.ProjectID) == "" {
		return errors.Wrap(ErrConfiguration, "relay project id is not set")
	}

	b.mu.Lock()
	switch {
	case b.closed:
		b.mu.Unlock()
		return ErrClosed
	case b.state == StateReady:
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	ch := b.initGroup.DoChan("init", func() (any, error) {
		// the dial outlives any single caller's ctx
		dialCtx, cancel := context.WithTimeout(b.ctx, b.cfg.DialTimeout)
		defer cancel()
		return nil, b.initialize(dialCtx)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (b *Bridge) initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateReady {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	b.setState(StateInitializing)

	client, err := b.dialer.Dial(ctx)
	if err != nil {
		b.setState(StateUninitialized)
		log.Warn("bridge: transport dial failed", "error", err)
		return errors.Wrap(errors.Mark(err, ErrConnectivity), "dial transport")
	}

	live, err := client.Sessions(ctx)
	if err != nil {
		_ = client.Close()
		b.setState(StateUninitialized)
		return errors.Wrap(errors.Mark(err, ErrConnectivity), "list live sessions")
	}

	kept := b.reconcile(ctx, client, live)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = client.Close()
		return ErrClosed
	}
	b.client = client
	keep := make(map[string]struct{}, len(kept))
	for _, topic := range kept {
		keep[topic] = struct{}{}
		b.topics[topic] = TopicApproved
	}
	// sessions that did not survive a reconnect
	for topic, s := range b.topics {
		if _, ok := keep[topic]; !ok && (s == TopicApproved || s == TopicActive) {
			b.topics[topic] = TopicClosed
		}
	}
	b.mu.Unlock()
	b.metrics.SetSessions(len(kept))

	b.wg.Add(1)
	go b.run(client)

	b.setState(StateReady)
	log.Info("bridge: ready", "sessions", len(kept))
	return nil
}

// reconcile drops stored records the transport no longer knows and disconnects
// live sessions that have no stored record. It returns the topics kept.
func (b *Bridge) reconcile(ctx context.Context, client transport.Client, live []transport.Session) []string {
	liveTopics := make(map[string]struct{}, len(live))
	for _, s := range live {
		liveTopics[s.Topic] = struct{}{}
	}

	dropped, err := b.store.Reconcile(liveTopics)
	if err != nil {
		log.Error("bridge: reconcile store failed", "error", err)
	}
	for _, topic := range dropped {
		log.Info("bridge: pruned stale session", "topic", topic)
	}

	stored := make(map[string]struct{})
	for _, app := range b.store.List() {
		stored[app.Topic] = struct{}{}
	}

	var kept []string
	for _, s := range live {
		if _, ok := stored[s.Topic]; ok {
			kept = append(kept, s.Topic)
			continue
		}
		log.Info("bridge: disconnecting orphan session", "topic", s.Topic, "peer", s.Peer.Name)
		if err := client.Disconnect(ctx, s.Topic, transport.ReasonUserDisconnected()); err != nil {
			log.Warn("bridge: orphan disconnect failed", "topic", s.Topic, "error", err)
		}
	}
	return kept
}

// Pair hands a pairing URI to the transport. A session exists only once the
// resulting proposal has been approved.
func (b *Bridge) Pair(ctx context.Context, uri string) error {
	u, err := pairing.Parse(uri)
	if err != nil {
		return err
	}

	if _, ok := b.wallet.CurrentAccount(ctx); !ok {
		return ErrNoWalletConnected
	}

	if err := b.Initialize(ctx); err != nil {
		return err
	}

	client, err := b.currentClient()
	if err != nil {
		return err
	}

	log.Info("bridge: pairing", "uri", u.Redacted())
	if err := client.Pair(ctx, u.Raw); err != nil {
		return errors.Wrap(errors.Mark(err, ErrConnectivity), "pair")
	}
	return nil
}

// Disconnect ends one session. The stored record is removed even when notifying
// the peer fails; that failure is still returned.
func (b *Bridge) Disconnect(ctx context.Context, topic string) error {
	var transportErr error
	if client, err := b.currentClient(); err == nil {
		if err := client.Disconnect(ctx, topic, transport.ReasonUserDisconnected()); err != nil {
			log.Warn("bridge: peer disconnect failed", "topic", topic, "error", err)
			transportErr = errors.Wrapf(err, "disconnect %s", topic)
		}
	}

	storeErr := b.store.Remove(topic)
	b.closeTopic(topic)
	return errors.CombineErrors(storeErr, transportErr)
}

// DisconnectAll ends every session the transport knows about plus any stored
// ones, then clears the store whatever the individual outcomes.
func (b *Bridge) DisconnectAll(ctx context.Context) error {
	var errs error

	topics := make(map[string]bool)
	for _, app := range b.store.List() {
		topics[app.Topic] = false
	}

	client, err := b.currentClient()
	if err == nil {
		live, err := client.Sessions(ctx)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "list live sessions"))
			// fall back to notifying what we know locally
			for t := range topics {
				topics[t] = true
			}
		}
		for _, s := range live {
			topics[s.Topic] = true
		}
	}

	for topic, isLive := range topics {
		if isLive && client != nil {
			if err := client.Disconnect(ctx, topic, transport.ReasonUserDisconnected()); err != nil {
				log.Warn("bridge: peer disconnect failed", "topic", topic, "error", err)
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "disconnect %s", topic))
			}
		}
		b.closeTopic(topic)
	}

	if err := b.store.Clear(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "clear sessions"))
	}
	log.Info("bridge: disconnected all sessions", "count", len(topics))
	return errs
}

// Close stops the event loop and every worker and closes the transport client.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	client := b.client
	b.client = nil
	workers := b.workers
	b.workers = make(map[string]*worker)
	b.mu.Unlock()

	b.cancel()
	for _, w := range workers {
		w.stop()
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	b.wg.Wait()
	b.setState(StateUninitialized)
	b.closeSubscribers()
	return err
}

func (b *Bridge) currentClient() (transport.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.state != StateReady || b.client == nil {
		return nil, ErrNotReady
	}
	return b.client, nil
}

func (b *Bridge) setState(s GlobalState) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()

	if prev == s {
		return
	}
	log.Info("bridge: state", "from", prev.String(), "to", s.String())
	b.metrics.SetBridgeState(int(s))
	b.publish(Event{Kind: EventStateChanged, State: s})
}

// closeTopic marks topic closed and lets its worker drain.
func (b *Bridge) closeTopic(topic string) {
	b.mu.Lock()
	_, known := b.topics[topic]
	b.topics[topic] = TopicClosed
	w := b.workers[topic]
	delete(b.workers, topic)
	open := b.openCountLocked()
	b.mu.Unlock()

	if w != nil {
		w.stop()
	}
	b.limiter.Forget(topic)
	b.metrics.SetSessions(open)
	if known {
		b.publish(Event{Kind: EventSessionClosed, Topic: topic})
	}
}

func (b *Bridge) openCountLocked() int {
	n := 0
	for _, s := range b.topics {
		if s == TopicApproved || s == TopicActive {
			n++
		}
	}
	return n
}
