package hostwallet

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/rpc"
)

var ErrProviderUnavailable = errors.New("provider unavailable")

// Provider is one EIP-1193 style wallet endpoint.
type Provider interface {
	Name() string
	Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// RPCProvider reaches a wallet over JSON-RPC. The client is dialed on first use.
type RPCProvider struct {
	name string
	url  string

	mu     sync.Mutex
	client *rpc.Client
}

// NewPrimaryHostProvider is the wallet of the hosting application.
func NewPrimaryHostProvider(url string) *RPCProvider {
	return &RPCProvider{name: "primary", url: strings.TrimSpace(url)}
}

// NewInjectedProvider is the generic injected wallet tried when the host wallet fails.
func NewInjectedProvider(url string) *RPCProvider {
	return &RPCProvider{name: "injected", url: strings.TrimSpace(url)}
}

func (p *RPCProvider) Name() string { return p.name }

func (p *RPCProvider) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	args, err := splitParams(params)
	if err != nil {
		return nil, err
	}

	var out json.RawMessage
	if err := c.CallContext(ctx, &out, method, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *RPCProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
}

func (p *RPCProvider) dial(ctx context.Context) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	if p.url == "" {
		return nil, errors.Wrapf(ErrProviderUnavailable, "%s: not configured", p.name)
	}

	c, err := rpc.DialContext(ctx, p.url)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrProviderUnavailable), "%s: dial", p.name)
	}
	p.client = c
	return c, nil
}

// splitParams keeps each positional param as its original JSON so values are relayed byte for byte.
// go-ethereum's rpc.Client only sends positional params, so anything but an array is refused.
func splitParams(params json.RawMessage) ([]any, error) {
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !strings.HasPrefix(trimmed, "[") {
		return nil, errors.Wrapf(ErrByNameParams, "params %.16s", trimmed)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, errors.Wrap(err, "decode params")
	}
	args := make([]any, 0, len(raw))
	for _, r := range raw {
		args = append(args, r)
	}
	return args, nil
}

func isByName(params json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(params)), "{")
}
