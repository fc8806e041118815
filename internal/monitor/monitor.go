// Package monitor polls a chain for the receipt of a submitted transaction.
package monitor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 60

	MsgConfirmed = "Transaction confirmed!"
	MsgFailed    = "Transaction failed"
	MsgChecking  = "Transaction submitted! (checking status...)"
)

var ErrInvalidHash = errors.New("invalid transaction hash")

type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Resolver returns the read-only client for a chain.
type Resolver func(ctx context.Context, chainID uint64) (ReceiptFetcher, error)

// Recorder receives terminal statuses.
type Recorder interface {
	UpdateStatus(txHash string, status history.Status) error
}

type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Update is one observation sent on a Watch channel. A channel carries exactly
// one Update: terminal (completed/failed) or the non-terminal timeout.
type Update struct {
	TxHash   string
	ChainID  uint64
	Status   history.Status
	Terminal bool
	Attempts int
	Receipt  *types.Receipt
}

type Monitor struct {
	cfg      Config
	resolve  Resolver
	recorder Recorder
	notifier notice.Notifier
	metrics  *metrics.Metrics
}

func New(cfg Config, resolve Resolver, recorder Recorder, notifier notice.Notifier, m *metrics.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if notifier == nil {
		notifier = notice.Discard{}
	}
	return &Monitor{cfg: cfg, resolve: resolve, recorder: recorder, notifier: notifier, metrics: m}
}

// Watch polls in the background until a receipt arrives, the attempt budget
// runs out, or ctx is done. Cancellation closes the channel without an Update.
func (m *Monitor) Watch(ctx context.Context, txHash string, chainID uint64) (<-chan Update, error) {
	b, err := hexutil.Decode(txHash)
	if err != nil || len(b) != common.HashLength {
		return nil, errors.Wrapf(ErrInvalidHash, "%q", txHash)
	}

	out := make(chan Update, 1)
	go m.poll(ctx, common.BytesToHash(b), txHash, chainID, out)
	return out, nil
}

func (m *Monitor) poll(ctx context.Context, hash common.Hash, txHash string, chainID uint64, out chan<- Update) {
	defer close(out)

	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			timer.Reset(m.cfg.Interval)
		}
		select {
		case <-ctx.Done():
			log.Info("monitor: stopped", "txHash", txHash, "attempts", attempt-1)
			return
		case <-timer.C:
		}

		receipt, err := m.fetch(ctx, hash, chainID)
		if err != nil {
			// not mined yet, or the endpoint hiccuped; both mean try again
			continue
		}

		status := history.StatusFailed
		if receipt.Status == types.ReceiptStatusSuccessful {
			status = history.StatusCompleted
		}
		m.finish(txHash, status)
		out <- Update{
			TxHash:   txHash,
			ChainID:  chainID,
			Status:   status,
			Terminal: true,
			Attempts: attempt,
			Receipt:  receipt,
		}
		return
	}

	log.Info("monitor: attempt budget exhausted", "txHash", txHash, "attempts", m.cfg.MaxAttempts)
	m.metrics.Transaction("timeout")
	m.notifier.Notify(notice.LevelInfo, MsgChecking)
	out <- Update{
		TxHash:   txHash,
		ChainID:  chainID,
		Status:   history.StatusPending,
		Attempts: m.cfg.MaxAttempts,
	}
}

func (m *Monitor) fetch(ctx context.Context, hash common.Hash, chainID uint64) (*types.Receipt, error) {
	client, err := m.resolve(ctx, chainID)
	if err != nil {
		return nil, err
	}
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, errors.New("empty receipt")
	}
	return receipt, nil
}

func (m *Monitor) finish(txHash string, status history.Status) {
	log.Info("monitor: transaction resolved", "txHash", txHash, "status", status)
	m.metrics.Transaction(string(status))

	if m.recorder != nil {
		if err := m.recorder.UpdateStatus(txHash, status); err != nil {
			log.Warn("monitor: could not record status", "txHash", txHash, "error", err)
		}
	}

	if status == history.StatusCompleted {
		m.notifier.Notify(notice.LevelSuccess, MsgConfirmed)
		return
	}
	m.notifier.Notify(notice.LevelError, MsgFailed)
}
