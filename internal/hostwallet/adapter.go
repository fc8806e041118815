// Package hostwallet wraps the single authoritative wallet behind a fixed-priority
// provider chain: the host provider first, the injected provider second.
package hostwallet

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/metrics"
)

var (
	ErrNoProviderAvailable = errors.New("no wallet provider available")
	ErrUserRejected        = errors.New("user rejected the request")
	ErrNotConnected        = errors.New("wallet not connected")
	ErrRequestFailed       = errors.New("wallet request failed")
	// ErrByNameParams is returned for object params; providers only take positional params.
	ErrByNameParams = errors.New("by-name params are not supported")
)

const (
	// CodeUserRejected is the EIP-1193 user rejection code.
	CodeUserRejected = 4001
	// CodeInvalidParams is the JSON-RPC invalid params code.
	CodeInvalidParams = -32602
)

// RequestError is returned when every provider failed a call.
type RequestError struct {
	Method string
	// Code is the provider's JSON-RPC error code, 0 when it gave none.
	Code    int
	Message string
	Data    any
	cause   error
}

func (e *RequestError) Error() string {
	return e.Method + ": " + e.cause.Error()
}

func (e *RequestError) Unwrap() error { return e.cause }

func (e *RequestError) Is(target error) bool { return target == ErrRequestFailed }

type Adapter struct {
	providers []Provider

	// one wallet call in flight at a time; eth_accounts and eth_chainId reads skip it
	sendMu sync.Mutex

	metrics *metrics.Metrics
}

// NewAdapter tries providers in the given order. Nil providers are skipped.
func NewAdapter(providers ...Provider) *Adapter {
	a := &Adapter{}
	for _, p := range providers {
		if p != nil {
			a.providers = append(a.providers, p)
		}
	}
	return a
}

// SetMetrics counts calls served by a fallback provider.
func (a *Adapter) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// CurrentAccount does not wait for an in-flight Send, so it stays answerable
// while the user is looking at a signing prompt.
func (a *Adapter) CurrentAccount(ctx context.Context) (string, bool) {
	return a.currentAccount(ctx)
}

func (a *Adapter) currentAccount(ctx context.Context) (string, bool) {
	out, err := a.call(ctx, "eth_accounts", nil)
	if err != nil {
		return "", false
	}
	return firstAccount(out)
}

func (a *Adapter) CurrentChain(ctx context.Context) (uint64, bool) {
	out, err := a.call(ctx, "eth_chainId", nil)
	if err != nil {
		return 0, false
	}
	var q hexutil.Uint64
	if err := json.Unmarshal(out, &q); err != nil {
		log.Warn("hostwallet: unparseable chain id", "raw", string(out), "error", err)
		return 0, false
	}
	return uint64(q), true
}

// Connect asks the wallet for account access.
func (a *Adapter) Connect(ctx context.Context) (string, error) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	out, err := a.call(ctx, "eth_requestAccounts", nil)
	if err != nil {
		if code, ok := ErrorCode(err); ok && code == CodeUserRejected {
			return "", errors.Mark(err, ErrUserRejected)
		}
		return "", err
	}
	acct, ok := firstAccount(out)
	if !ok {
		return "", errors.Wrap(ErrUserRejected, "wallet returned no accounts")
	}
	log.Info("hostwallet: connected", "account", acct)
	return acct, nil
}

// Send relays method and params to the wallet untouched.
// Object params are refused with CodeInvalidParams rather than reshaped.
func (a *Adapter) Send(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if isByName(params) {
		return nil, &RequestError{
			Method:  method,
			Code:    CodeInvalidParams,
			Message: ErrByNameParams.Error(),
			cause:   ErrByNameParams,
		}
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	if _, ok := a.currentAccount(ctx); !ok {
		return nil, ErrNotConnected
	}
	return a.call(ctx, method, params)
}

func (a *Adapter) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if len(a.providers) == 0 {
		return nil, ErrNoProviderAvailable
	}

	var (
		failures    []error
		names       []string
		unavailable = 0
	)
	for _, p := range a.providers {
		out, err := p.Request(ctx, method, params)
		if err == nil {
			if len(failures) > 0 {
				log.Info("hostwallet: served by fallback provider", "provider", p.Name(), "method", method)
				a.metrics.WalletFallback()
			}
			return out, nil
		}
		if errors.Is(err, ErrProviderUnavailable) {
			unavailable++
		} else {
			log.Warn("hostwallet: provider failed", "provider", p.Name(), "method", method, "error", err)
		}
		failures = append(failures, err)
		names = append(names, p.Name())

		if ctx.Err() != nil {
			break
		}
	}

	if unavailable == len(a.providers) {
		return nil, errors.Wrapf(ErrNoProviderAvailable, "%s", strings.Join(names, ", "))
	}

	var combined error
	for i, f := range failures {
		combined = errors.CombineErrors(combined, errors.Wrapf(f, "%s", names[i]))
	}

	reqErr := &RequestError{Method: method, cause: combined}
	// the last provider that actually answered decides what the dApp sees
	for i := len(failures) - 1; i >= 0; i-- {
		if errors.Is(failures[i], ErrProviderUnavailable) {
			continue
		}
		reqErr.Message = failures[i].Error()
		var rpcErr rpc.Error
		if errors.As(failures[i], &rpcErr) {
			reqErr.Code = rpcErr.ErrorCode()
		}
		var dataErr rpc.DataError
		if errors.As(failures[i], &dataErr) {
			reqErr.Data = dataErr.ErrorData()
		}
		break
	}
	return nil, reqErr
}

// ErrorCode extracts the provider's JSON-RPC error code from err.
func ErrorCode(err error) (int, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Code != 0 {
		return reqErr.Code, true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// ErrorMessage is the message a dApp should see for err.
func ErrorMessage(err error) string {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Message != "" {
		return reqErr.Message
	}
	return err.Error()
}

// ErrorData returns the provider's error data payload, if any.
func ErrorData(err error) any {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Data
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return dataErr.ErrorData()
	}
	return nil
}

func firstAccount(raw json.RawMessage) (string, bool) {
	var accts []string
	if err := json.Unmarshal(raw, &accts); err != nil {
		return "", false
	}
	for _, a := range accts {
		if a = strings.TrimSpace(a); a != "" {
			return a, true
		}
	}
	return "", false
}
