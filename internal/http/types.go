package http

import (
	"context"

	"github.com/quantumauth-io/wc-bridge/internal/bridge"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
	"github.com/quantumauth-io/wc-bridge/internal/sessions"
	"github.com/quantumauth-io/wc-bridge/internal/swap"
)

type corsPolicy struct {
	allowedOrigins map[string]struct{}
	allowMethods   string

	allowHeaders string
	maxAge       int
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type pairRequest struct {
	URI string `json:"uri"`
}

type disconnectRequest struct {
	Topic string `json:"topic"`
}

type StatusResponse struct {
	State    string `json:"state"`
	Account  string `json:"account,omitempty"`
	ChainID  uint64 `json:"chainId,omitempty"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version,omitempty"`
}

type WalletConnectResponse struct {
	Account string `json:"account"`
	// Bridge is the bridge state after the connect-triggered initialization.
	Bridge string `json:"bridge"`
}

// Bridge is the part of the session bridge the API drives.
type Bridge interface {
	Initialize(ctx context.Context) error
	State() bridge.GlobalState
	Sessions() []sessions.ConnectedApp
	Pair(ctx context.Context, uri string) error
	Disconnect(ctx context.Context, topic string) error
	DisconnectAll(ctx context.Context) error
}

type Wallet interface {
	Connect(ctx context.Context) (string, error)
	CurrentAccount(ctx context.Context) (string, bool)
	CurrentChain(ctx context.Context) (uint64, bool)
}

type History interface {
	List() []history.TransactionRecord
	Settings() history.Settings
	UpdateSettings(patch history.Settings) (history.Settings, error)
	Clear() error
}

type Swapper interface {
	Execute(ctx context.Context, req swap.Request) (history.TransactionRecord, error)
}

type NoticeFeed interface {
	Recent() []notice.Notice
}
