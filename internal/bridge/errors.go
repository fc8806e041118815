package bridge

import (
	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/hostwallet"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
)

var (
	// ErrConfiguration is fatal: initialization is not retried until the config changes.
	ErrConfiguration = errors.New("bridge configuration error")
	// ErrConnectivity marks transient transport failures. Callers decide whether to retry.
	ErrConnectivity      = errors.New("transport unreachable")
	ErrNoWalletConnected = errors.New("no wallet connected")
	ErrNotReady          = errors.New("bridge not ready")
	ErrClosed            = errors.New("bridge closed")
)

// CodeUnauthorized is the EIP-1193 code for calls made before the wallet grants accounts.
const CodeUnauthorized = 4100

// walletErrorResponse turns a wallet failure into the error object the dApp receives.
// Provider codes and messages pass through unchanged.
func walletErrorResponse(id uint64, err error) transport.Response {
	if code, ok := hostwallet.ErrorCode(err); ok {
		resp := transport.ErrorResponse(id, code, hostwallet.ErrorMessage(err))
		resp.Error.Data = hostwallet.ErrorData(err)
		return resp
	}
	switch {
	case errors.Is(err, hostwallet.ErrNotConnected), errors.Is(err, hostwallet.ErrNoProviderAvailable):
		return transport.ErrorResponse(id, CodeUnauthorized, err.Error())
	case errors.Is(err, hostwallet.ErrUserRejected):
		return transport.ErrorResponse(id, hostwallet.CodeUserRejected, err.Error())
	default:
		return transport.ErrorResponse(id, transport.CodeInternal, hostwallet.ErrorMessage(err))
	}
}
