package hostwallet

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "0x00000000000000000000000000000000000000aa"

type codedErr struct {
	code int
	msg  string
}

func (e codedErr) Error() string  { return e.msg }
func (e codedErr) ErrorCode() int { return e.code }

// fakeProvider answers from a fixed table; missing methods fail with err.
type fakeProvider struct {
	name    string
	answers map[string]string
	err     error

	mu    sync.Mutex
	calls []string
	last  json.RawMessage
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Request(_ context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.last = params
	f.mu.Unlock()

	if out, ok := f.answers[method]; ok {
		return json.RawMessage(out), nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, errors.Newf("%s: method %s not handled", f.name, method)
}

func connected(name string) *fakeProvider {
	return &fakeProvider{name: name, answers: map[string]string{
		"eth_accounts":        `["` + addr + `"]`,
		"eth_requestAccounts": `["` + addr + `"]`,
		"eth_chainId":         `"0x89"`,
		"eth_sendTransaction": `"0xhash"`,
	}}
}

func unavailable(name string) *fakeProvider {
	return &fakeProvider{name: name, err: errors.Wrap(ErrProviderUnavailable, name)}
}

func TestPrimaryServesWhenHealthy(t *testing.T) {
	t.Parallel()

	primary, injected := connected("primary"), connected("injected")
	a := NewAdapter(primary, injected)

	acct, ok := a.CurrentAccount(context.Background())
	require.True(t, ok)
	assert.Equal(t, addr, acct)

	chain, ok := a.CurrentChain(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(137), chain)

	assert.Empty(t, injected.calls)
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := &fakeProvider{name: "primary", err: errors.New("boom")}
	injected := connected("injected")
	a := NewAdapter(primary, injected)
	m := metrics.New()
	a.SetMetrics(m)

	acct, err := a.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr, acct)
	assert.Equal(t, []string{"eth_requestAccounts"}, primary.calls)

	expected := `
# HELP wcb_wallet_provider_failures_total Wallet calls the primary provider failed.
# TYPE wcb_wallet_provider_failures_total counter
wcb_wallet_provider_failures_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "wcb_wallet_provider_failures_total"))
}

func TestConnectWithoutProviders(t *testing.T) {
	t.Parallel()

	_, err := NewAdapter().Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoProviderAvailable)

	_, err = NewAdapter(unavailable("primary"), unavailable("injected")).Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestConnectUserRejected(t *testing.T) {
	t.Parallel()

	rejecting := &fakeProvider{name: "injected", err: codedErr{code: CodeUserRejected, msg: "User rejected the request."}}
	_, err := NewAdapter(unavailable("primary"), rejecting).Connect(context.Background())
	assert.True(t, errors.Is(err, ErrUserRejected))
}

func TestSendRequiresAccount(t *testing.T) {
	t.Parallel()

	noAccounts := &fakeProvider{name: "primary", answers: map[string]string{"eth_accounts": `[]`}}
	_, err := NewAdapter(noAccounts).Send(context.Background(), "eth_sendTransaction", json.RawMessage(`[{}]`))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendPassesParamsThrough(t *testing.T) {
	t.Parallel()

	p := connected("primary")
	params := json.RawMessage(`[{"from":"0xaa","to":"0xbb","value":"0x0","data":"0x"}]`)

	out, err := NewAdapter(p).Send(context.Background(), "eth_sendTransaction", params)
	require.NoError(t, err)
	assert.JSONEq(t, `"0xhash"`, string(out))
	assert.Equal(t, string(params), string(p.last))
}

func TestSendCompositeErrorKeepsFallbackCode(t *testing.T) {
	t.Parallel()

	primary := connected("primary")
	delete(primary.answers, "eth_sendTransaction")
	primary.err = errors.New("primary exploded")

	injected := connected("injected")
	delete(injected.answers, "eth_sendTransaction")
	injected.err = codedErr{code: 4100, msg: "unauthorized"}

	_, err := NewAdapter(primary, injected).Send(context.Background(), "eth_sendTransaction", json.RawMessage(`[]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)

	code, ok := ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, 4100, code)
	assert.Equal(t, "unauthorized", ErrorMessage(err))
	assert.Contains(t, err.Error(), "primary exploded")
	assert.Contains(t, err.Error(), "unauthorized")
}

type blockingProvider struct {
	*fakeProvider
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (b *blockingProvider) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		m := b.maxSeen.Load()
		if n <= m || b.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return b.fakeProvider.Request(ctx, method, params)
}

func TestSendIsSerialized(t *testing.T) {
	t.Parallel()

	p := &blockingProvider{fakeProvider: connected("primary")}
	a := NewAdapter(p)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Send(context.Background(), "eth_sendTransaction", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), p.maxSeen.Load())
}

type walletService struct{}

func (walletService) Accounts() []string      { return []string{addr} }
func (walletService) ChainId() hexutil.Uint64 { return 10 }
func (walletService) SendTransaction(tx map[string]any) (string, error) {
	if tx["to"] == nil {
		return "", codedErr{code: -32602, msg: "missing to"}
	}
	return "0x" + tx["to"].(string)[2:], nil
}

func TestRPCProviderAgainstServer(t *testing.T) {
	t.Parallel()

	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", walletService{}))
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		hs.Close()
		srv.Stop()
	})

	p := NewPrimaryHostProvider(hs.URL)
	t.Cleanup(p.Close)
	a := NewAdapter(p, NewInjectedProvider(""))

	chain, ok := a.CurrentChain(context.Background())
	require.True(t, ok)
	assert.Equal(t, uint64(10), chain)

	out, err := a.Send(context.Background(), "eth_sendTransaction", json.RawMessage(`[{"to":"0xbeef"}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `"0xbeef"`, string(out))

	_, err = a.Send(context.Background(), "eth_sendTransaction", json.RawMessage(`[{}]`))
	code, ok := ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, -32602, code)
}

func TestUnconfiguredProviderIsUnavailable(t *testing.T) {
	t.Parallel()

	_, err := NewInjectedProvider("  ").Request(context.Background(), "eth_accounts", nil)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
}

// gatedProvider holds eth_sendTransaction until release is closed.
type gatedProvider struct {
	*fakeProvider
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if method == "eth_sendTransaction" {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.fakeProvider.Request(ctx, method, params)
}

func TestReadsDoNotWaitForPendingSend(t *testing.T) {
	t.Parallel()

	p := &gatedProvider{fakeProvider: connected("primary"), entered: make(chan struct{}), release: make(chan struct{})}
	a := NewAdapter(p)

	done := make(chan error, 1)
	go func() {
		_, err := a.Send(context.Background(), "eth_sendTransaction", json.RawMessage(`[{}]`))
		done <- err
	}()
	<-p.entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	acct, ok := a.CurrentAccount(ctx)
	require.True(t, ok)
	assert.Equal(t, addr, acct)
	chain, ok := a.CurrentChain(ctx)
	require.True(t, ok)
	assert.Equal(t, uint64(137), chain)

	close(p.release)
	require.NoError(t, <-done)
}

func TestSendRefusesByNameParams(t *testing.T) {
	t.Parallel()

	p := connected("primary")
	_, err := NewAdapter(p).Send(context.Background(), "eth_sendTransaction", json.RawMessage(` {"to":"0xbb"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrByNameParams))

	code, ok := ErrorCode(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidParams, code)
	assert.Empty(t, p.calls)

	_, err = splitParams(json.RawMessage(`{"a":1}`))
	assert.True(t, errors.Is(err, ErrByNameParams))

	args, err := splitParams(json.RawMessage(`["0x1", {"b":2}]`))
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, json.RawMessage(`{"b":2}`), args[1])
}
