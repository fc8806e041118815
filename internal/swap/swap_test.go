package swap

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/hostwallet"
	"github.com/quantumauth-io/wc-bridge/internal/kvstore"
	"github.com/quantumauth-io/wc-bridge/internal/monitor"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	from   = "0x00000000000000000000000000000000000000aa"
	txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

type wallet struct {
	account string
	result  string
	err     error
	params  json.RawMessage
}

func (w *wallet) CurrentAccount(context.Context) (string, bool) { return w.account, w.account != "" }

func (w *wallet) Send(_ context.Context, _ string, params json.RawMessage) (json.RawMessage, error) {
	w.params = params
	if w.err != nil {
		return nil, w.err
	}
	return json.RawMessage(w.result), nil
}

type watcher struct {
	mu      sync.Mutex
	watched []string
}

func (w *watcher) Watch(_ context.Context, h string, _ uint64) (<-chan monitor.Update, error) {
	w.mu.Lock()
	w.watched = append(w.watched, h)
	w.mu.Unlock()
	ch := make(chan monitor.Update)
	close(ch)
	return ch, nil
}

type explorer struct{}

func (explorer) ExplorerTxURL(_ uint64, h string) string { return "https://polygonscan.com/tx/" + h }

type notices struct {
	mu  sync.Mutex
	got []string
}

func (n *notices) Notify(_ notice.Level, msg string) {
	n.mu.Lock()
	n.got = append(n.got, msg)
	n.mu.Unlock()
}

func quote() Quote {
	return Quote{
		Aggregator: "squid",
		FromAmount: "1000000",
		ToAmount:   "999000",
		Route: Route{
			To:       "0x00000000000000000000000000000000000000bb",
			Data:     "0xdeadbeef",
			Value:    "0x0",
			Gas:      "0x5208",
			GasPrice: "0x3b9aca00",
		},
	}
}

func TestTransactionParamsCopiesRoute(t *testing.T) {
	t.Parallel()

	params, err := TransactionParams(from, quote().Route)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"from":"`+from+`","to":"0x00000000000000000000000000000000000000bb","data":"0xdeadbeef","value":"0x0","gas":"0x5208","gasPrice":"0x3b9aca00"}]`, string(params))

	params, err = TransactionParams(from, Route{To: "0xbb"})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"from":"`+from+`","to":"0xbb"}]`, string(params))

	_, err = TransactionParams(from, Route{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestExecuteRecordsPendingAndWatches(t *testing.T) {
	t.Parallel()

	h := history.NewStore(kvstore.NewMemory())
	w := &wallet{account: from, result: `"` + txHash + `"`}
	wt := &watcher{}
	n := &notices{}
	e := NewExecutor(context.Background(), w, h, wt, explorer{}, n)

	rec, err := e.Execute(context.Background(), Request{Quote: quote(), FromChain: 137, ToChain: 42161, FromToken: "USDC", ToToken: "USDC"})
	require.NoError(t, err)

	assert.Equal(t, txHash, rec.TxHash)
	assert.Equal(t, history.StatusPending, rec.Status)
	assert.Equal(t, "https://polygonscan.com/tx/"+txHash, rec.ExplorerURL)
	assert.Equal(t, "squid", rec.Aggregator)

	list := h.List()
	require.Len(t, list, 1)
	assert.Equal(t, txHash, list[0].TxHash)
	assert.Equal(t, []string{txHash}, wt.watched)
	assert.Equal(t, []string{"Transaction submitted! Hash: 0x5c504ed4..."}, n.got)
}

func TestExecuteWithoutWallet(t *testing.T) {
	t.Parallel()

	n := &notices{}
	e := NewExecutor(context.Background(), &wallet{}, history.NewStore(kvstore.NewMemory()), &watcher{}, explorer{}, n)
	_, err := e.Execute(context.Background(), Request{Quote: quote(), FromChain: 1})
	assert.ErrorIs(t, err, hostwallet.ErrNotConnected)
	require.Len(t, n.got, 1)
	assert.Contains(t, n.got[0], "Swap failed")
}

func TestExecuteWalletFailureRecordsNothing(t *testing.T) {
	t.Parallel()

	h := history.NewStore(kvstore.NewMemory())
	e := NewExecutor(context.Background(), &wallet{account: from, err: errors.New("user denied")}, h, &watcher{}, explorer{}, nil)
	_, err := e.Execute(context.Background(), Request{Quote: quote(), FromChain: 1})
	assert.Error(t, err)
	assert.Empty(t, h.List())
}

func TestExecuteRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	e := NewExecutor(context.Background(), &wallet{account: from, result: `"0x1234"`}, history.NewStore(kvstore.NewMemory()), &watcher{}, explorer{}, nil)
	_, err := e.Execute(context.Background(), Request{Quote: quote(), FromChain: 1})
	assert.ErrorIs(t, err, ErrInvalidHash)
}
