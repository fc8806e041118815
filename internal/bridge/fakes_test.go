package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
	"github.com/stretchr/testify/require"
)

const walletAddr = "0x0000000000000000000000000000000000000AAA"

type approveCall struct {
	ProposalID uint64
	Namespaces map[string]transport.Namespace
}

type rejectCall struct {
	ProposalID uint64
	Reason     transport.Reason
}

type respondCall struct {
	Topic string
	Resp  transport.Response
}

type fakeTransport struct {
	events chan transport.Event

	mu             sync.Mutex
	live           []transport.Session
	nextTopic      string
	pairErr        error
	disconnectErrs map[string]error
	pairs          []string
	approvals      []approveCall
	rejects        []rejectCall
	disconnects    []string
	closed         bool

	responses chan respondCall
}

func newFakeTransport(live ...string) *fakeTransport {
	f := &fakeTransport{
		events:         make(chan transport.Event, 64),
		disconnectErrs: map[string]error{},
		nextTopic:      "T-approved",
		responses:      make(chan respondCall, 64),
	}
	for _, topic := range live {
		f.live = append(f.live, transport.Session{Topic: topic})
	}
	return f
}

func (f *fakeTransport) Pair(_ context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, uri)
	return f.pairErr
}

func (f *fakeTransport) Approve(_ context.Context, id uint64, ns map[string]transport.Namespace) (transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, approveCall{ProposalID: id, Namespaces: ns})
	s := transport.Session{Topic: f.nextTopic, Namespaces: ns}
	f.live = append(f.live, s)
	return s, nil
}

func (f *fakeTransport) Reject(_ context.Context, id uint64, reason transport.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, rejectCall{ProposalID: id, Reason: reason})
	return nil
}

func (f *fakeTransport) Respond(_ context.Context, topic string, resp transport.Response) error {
	f.responses <- respondCall{Topic: topic, Resp: resp}
	return nil
}

func (f *fakeTransport) Disconnect(_ context.Context, topic string, _ transport.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, topic)
	if err := f.disconnectErrs[topic]; err != nil {
		return err
	}
	for i, s := range f.live {
		if s.Topic == topic {
			f.live = append(f.live[:i], f.live[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeTransport) Sessions(context.Context) ([]transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Session(nil), f.live...), nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) push(ev transport.Event) { f.events <- ev }

func (f *fakeTransport) snapshot() (approvals []approveCall, rejects []rejectCall, disconnects, pairs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approveCall(nil), f.approvals...),
		append([]rejectCall(nil), f.rejects...),
		append([]string(nil), f.disconnects...),
		append([]string(nil), f.pairs...)
}

func (f *fakeTransport) waitResponse(t *testing.T) respondCall {
	t.Helper()
	select {
	case r := <-f.responses:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no response sent")
		return respondCall{}
	}
}

func (f *fakeTransport) assertNoResponse(t *testing.T) {
	t.Helper()
	select {
	case r := <-f.responses:
		t.Fatalf("unexpected response %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

type countingDialer struct {
	client *fakeTransport
	delay  time.Duration
	err    error
	dials  atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context) (transport.Client, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.client, nil
}

type sendCall struct {
	Method string
	Params json.RawMessage
}

type fakeWallet struct {
	account string
	chain   uint64

	mu    sync.Mutex
	sends []sendCall
	// handle overrides the default "0xhash" answer.
	handle func(method string, params json.RawMessage) (json.RawMessage, error)
	// accountGate, when set, holds CurrentAccount until it is closed.
	accountGate chan struct{}
}

func (w *fakeWallet) CurrentAccount(ctx context.Context) (string, bool) {
	if w.accountGate != nil {
		select {
		case <-w.accountGate:
		case <-ctx.Done():
			return "", false
		}
	}
	return w.account, w.account != ""
}

func (w *fakeWallet) CurrentChain(context.Context) (uint64, bool) {
	return w.chain, w.chain != 0
}

func (w *fakeWallet) Send(_ context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	w.mu.Lock()
	w.sends = append(w.sends, sendCall{Method: method, Params: params})
	handle := w.handle
	w.mu.Unlock()

	if handle != nil {
		return handle(method, params)
	}
	return json.RawMessage(`"0xhash"`), nil
}

func (w *fakeWallet) calls() []sendCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sendCall(nil), w.sends...)
}

type codedErr struct{ code int }

func (e codedErr) Error() string  { return "rejected by user" }
func (e codedErr) ErrorCode() int { return e.code }

var errBoom = errors.New("boom")

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond)
}
