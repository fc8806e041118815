// Package history keeps the local transaction history and user settings.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
	"github.com/quantumauth-io/wc-bridge/internal/kvstore"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type TransactionRecord struct {
	ID          string    `json:"id"`
	TxHash      string    `json:"txHash"`
	FromToken   string    `json:"fromToken,omitempty"`
	ToToken     string    `json:"toToken,omitempty"`
	FromAmount  string    `json:"fromAmount,omitempty"`
	ToAmount    string    `json:"toAmount,omitempty"`
	FromChain   uint64    `json:"fromChain"`
	ToChain     uint64    `json:"toChain,omitempty"`
	Aggregator  string    `json:"aggregator,omitempty"`
	Status      Status    `json:"status"`
	ExplorerURL string    `json:"explorerUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Store struct {
	mu  sync.Mutex
	kv  kvstore.Store
	now func() time.Time
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv, now: func() time.Time { return time.Now().UTC() }}
}

// Add stores rec as the newest entry, evicting the oldest beyond the cap.
func (s *Store) Add(rec TransactionRecord) (TransactionRecord, error) {
	if strings.TrimSpace(rec.TxHash) == "" {
		return TransactionRecord{}, errors.New("history: empty tx hash")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	next := make([]TransactionRecord, 0, len(list)+1)
	next = append(next, rec)
	next = append(next, list...)
	if len(next) > constants.MaxTransactionHistory {
		next = next[:constants.MaxTransactionHistory]
	}
	if err := s.kv.Put(constants.TransactionHistoryKey, next); err != nil {
		return TransactionRecord{}, errors.Wrap(err, "persist history")
	}
	return rec, nil
}

// List returns the history newest first.
func (s *Store) List() []TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) Get(txHash string) (TransactionRecord, bool) {
	for _, r := range s.List() {
		if strings.EqualFold(r.TxHash, txHash) {
			return r, true
		}
	}
	return TransactionRecord{}, false
}

// UpdateStatus applies a pending -> completed|failed transition.
// Repeating the current terminal status is a no-op.
func (s *Store) UpdateStatus(txHash string, status Status) error {
	if !status.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "to %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.load()
	for i := range list {
		if !strings.EqualFold(list[i].TxHash, txHash) {
			continue
		}
		switch list[i].Status {
		case status:
			return nil
		case StatusPending:
		default:
			return errors.Wrapf(ErrInvalidTransition, "%s -> %s", list[i].Status, status)
		}
		list[i].Status = status
		list[i].UpdatedAt = s.now()
		if err := s.kv.Put(constants.TransactionHistoryKey, list); err != nil {
			return errors.Wrap(err, "persist history")
		}
		log.Info("history: status updated", "txHash", txHash, "status", status)
		return nil
	}
	return errors.Wrapf(ErrNotFound, "%s", txHash)
}

// Clear forgets every transaction record. Settings are kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(constants.TransactionHistoryKey); err != nil {
		return errors.Wrap(err, "clear history")
	}
	log.Info("history: cleared")
	return nil
}

func (s *Store) load() []TransactionRecord {
	var list []TransactionRecord
	if _, err := s.kv.Get(constants.TransactionHistoryKey, &list); err != nil {
		log.Warn("history: discarding unreadable history", "error", err)
		return []TransactionRecord{}
	}
	if list == nil {
		list = []TransactionRecord{}
	}
	return list
}
