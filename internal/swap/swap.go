// Package swap submits an already-quoted swap route through the host wallet and
// tracks the resulting transaction.
package swap

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/hostwallet"
	"github.com/quantumauth-io/wc-bridge/internal/monitor"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
)

var (
	ErrNoRoute     = errors.New("quote has no executable route")
	ErrInvalidHash = errors.New("wallet returned an invalid transaction hash")
)

// Route is the executable transaction of a quote, copied into eth_sendTransaction as is.
type Route struct {
	To       string `json:"to"`
	Data     string `json:"data,omitempty"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

// Quote is a normalized aggregator quote. Its correctness is the aggregator's concern.
type Quote struct {
	Aggregator  string  `json:"aggregator"`
	FromAmount  string  `json:"fromAmount"`
	ToAmount    string  `json:"toAmount"`
	Rate        float64 `json:"rate"`
	GasCostUSD  float64 `json:"gasCostUSD"`
	FeeCostUSD  float64 `json:"feeCostUSD"`
	PriceImpact float64 `json:"priceImpact"`
	Route       Route   `json:"route"`
}

type Request struct {
	Quote     Quote  `json:"quote"`
	FromChain uint64 `json:"fromChain"`
	ToChain   uint64 `json:"toChain"`
	FromToken string `json:"fromToken"`
	ToToken   string `json:"toToken"`
}

type Wallet interface {
	CurrentAccount(ctx context.Context) (string, bool)
	Send(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

type Recorder interface {
	Add(rec history.TransactionRecord) (history.TransactionRecord, error)
}

type Watcher interface {
	Watch(ctx context.Context, txHash string, chainID uint64) (<-chan monitor.Update, error)
}

type Explorer interface {
	ExplorerTxURL(chainID uint64, txHash string) string
}

type Executor struct {
	wallet   Wallet
	recorder Recorder
	watcher  Watcher
	explorer Explorer
	notifier notice.Notifier
	// watchCtx outlives the request that submitted the swap
	watchCtx context.Context
}

func NewExecutor(watchCtx context.Context, wallet Wallet, recorder Recorder, watcher Watcher, explorer Explorer, notifier notice.Notifier) *Executor {
	if notifier == nil {
		notifier = notice.Discard{}
	}
	return &Executor{
		wallet:   wallet,
		recorder: recorder,
		watcher:  watcher,
		explorer: explorer,
		notifier: notifier,
		watchCtx: watchCtx,
	}
}

// TransactionParams builds the eth_sendTransaction params for route sent from from.
func TransactionParams(from string, r Route) (json.RawMessage, error) {
	if strings.TrimSpace(r.To) == "" {
		return nil, ErrNoRoute
	}
	tx := map[string]string{"from": from, "to": r.To}
	for k, v := range map[string]string{"data": r.Data, "value": r.Value, "gas": r.Gas, "gasPrice": r.GasPrice} {
		if v != "" {
			tx[k] = v
		}
	}
	b, err := json.Marshal([]any{tx})
	if err != nil {
		return nil, errors.Wrap(err, "encode transaction")
	}
	return b, nil
}

// Execute sends the quote's route, records it as pending and starts monitoring it.
func (e *Executor) Execute(ctx context.Context, req Request) (history.TransactionRecord, error) {
	rec, err := e.execute(ctx, req)
	if err != nil {
		e.notifier.Notify(notice.LevelError, "Swap failed: "+hostwallet.ErrorMessage(err))
		return history.TransactionRecord{}, err
	}
	return rec, nil
}

func (e *Executor) execute(ctx context.Context, req Request) (history.TransactionRecord, error) {
	if req.FromChain == 0 {
		return history.TransactionRecord{}, errors.New("missing source chain")
	}

	from, ok := e.wallet.CurrentAccount(ctx)
	if !ok {
		return history.TransactionRecord{}, hostwallet.ErrNotConnected
	}

	params, err := TransactionParams(from, req.Quote.Route)
	if err != nil {
		return history.TransactionRecord{}, err
	}

	out, err := e.wallet.Send(ctx, "eth_sendTransaction", params)
	if err != nil {
		return history.TransactionRecord{}, err
	}

	var txHash string
	if err := json.Unmarshal(out, &txHash); err != nil {
		return history.TransactionRecord{}, errors.Wrapf(ErrInvalidHash, "%s", string(out))
	}
	if len(common.FromHex(txHash)) != common.HashLength {
		return history.TransactionRecord{}, errors.Wrapf(ErrInvalidHash, "%q", txHash)
	}

	rec, err := e.recorder.Add(history.TransactionRecord{
		TxHash:      txHash,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		FromAmount:  req.Quote.FromAmount,
		ToAmount:    req.Quote.ToAmount,
		FromChain:   req.FromChain,
		ToChain:     req.ToChain,
		Aggregator:  req.Quote.Aggregator,
		Status:      history.StatusPending,
		ExplorerURL: e.explorer.ExplorerTxURL(req.FromChain, txHash),
	})
	if err != nil {
		// the transaction is out; losing the record must not hide that
		log.Error("swap: recording transaction failed", "txHash", txHash, "error", err)
		rec = history.TransactionRecord{TxHash: txHash, FromChain: req.FromChain, Status: history.StatusPending}
	}

	log.Info("swap: transaction submitted", "txHash", txHash, "chainId", req.FromChain, "aggregator", req.Quote.Aggregator)
	e.notifier.Notify(notice.LevelInfo, "Transaction submitted! Hash: "+shortHash(txHash)+"...")

	updates, err := e.watcher.Watch(e.watchCtx, txHash, req.FromChain)
	if err != nil {
		log.Warn("swap: not monitoring transaction", "txHash", txHash, "error", err)
		return rec, nil
	}
	go func() {
		for range updates {
		}
	}()
	return rec, nil
}

func shortHash(h string) string {
	if len(h) <= 10 {
		return h
	}
	return h[:10]
}
