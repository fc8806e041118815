package chains

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

var ErrUnknownChain = errors.New("unknown chain")

type ResolvedChain struct {
	NetworkName string
	Name        string
	ChainID     uint64
	RPC         string
	Explorer    string
}

// Service resolves configured chains and caches one read-only client per chain.
type Service struct {
	cfg     Config
	byChain map[uint64]ResolvedChain

	mu      sync.Mutex
	clients map[uint64]*ethclient.Client
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	byChain := make(map[uint64]ResolvedChain, len(cfg.Networks))
	for key, n := range cfg.Networks {
		name := strings.TrimSpace(n.Name)
		if name == "" {
			name = key
		}
		byChain[n.ChainID] = ResolvedChain{
			NetworkName: key,
			Name:        name,
			ChainID:     n.ChainID,
			RPC:         strings.TrimSpace(n.RPC),
			Explorer:    strings.TrimRight(strings.TrimSpace(n.Explorer), "/"),
		}
	}

	return &Service{
		cfg:     cfg,
		byChain: byChain,
		clients: make(map[uint64]*ethclient.Client),
	}, nil
}

func (s *Service) DefaultChain() uint64 { return s.cfg.DefaultChain }

// Supported returns the allowlist of chain ids, default chain first then ascending.
func (s *Service) Supported() []uint64 {
	ids := sortedChainIDs(s.cfg.Networks)
	out := make([]uint64, 0, len(ids))
	out = append(out, s.cfg.DefaultChain)
	for _, id := range ids {
		if id != s.cfg.DefaultChain {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) Resolve(chainID uint64) (ResolvedChain, error) {
	rc, ok := s.byChain[chainID]
	if !ok {
		return ResolvedChain{}, errors.Wrapf(ErrUnknownChain, "chain %d", chainID)
	}
	return rc, nil
}

// ExplorerTxURL returns "<explorer>/tx/<hash>", or "" for chains without an explorer.
func (s *Service) ExplorerTxURL(chainID uint64, txHash string) string {
	rc, ok := s.byChain[chainID]
	if !ok || rc.Explorer == "" {
		return ""
	}
	return rc.Explorer + "/tx/" + txHash
}

// Client returns (and caches) the read-only client for chainID.
func (s *Service) Client(ctx context.Context, chainID uint64) (*ethclient.Client, error) {
	s.mu.Lock()
	if existing := s.clients[chainID]; existing != nil {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	rc, err := s.Resolve(chainID)
	if err != nil {
		return nil, err
	}
	if rc.RPC == "" {
		return nil, errors.Newf("chain %d has no rpc configured", chainID)
	}

	// dial outside the lock
	dialed, err := ethclient.DialContext(ctx, rc.RPC)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", rc.NetworkName)
	}

	s.mu.Lock()
	if existing := s.clients[chainID]; existing != nil {
		s.mu.Unlock()
		dialed.Close()
		return existing, nil
	}
	s.clients[chainID] = dialed
	s.mu.Unlock()

	log.Info("chain client dialed", "chainId", chainID, "network", rc.NetworkName)
	return dialed, nil
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		c.Close()
		delete(s.clients, id)
	}
}
