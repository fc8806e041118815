// Package namespace computes the namespace a session is approved with.
package namespace

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/quantumauth-io/wc-bridge/internal/chains"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
)

// Methods is the fixed capability list offered to every session.
var Methods = []string{
	"eth_sendTransaction",
	"eth_signTransaction",
	"eth_sign",
	"personal_sign",
	"eth_signTypedData",
	"eth_signTypedData_v3",
	"eth_signTypedData_v4",
	"wallet_switchEthereumChain",
	"wallet_addEthereumChain",
	"wallet_getPermissions",
	"wallet_requestPermissions",
	"wallet_registerOnboarding",
	"wallet_watchAsset",
	"wallet_scanQRCode",
	"wallet_sendCalls",
	"wallet_getCallsStatus",
	"wallet_showCallsStatus",
	"wallet_getCapabilities",
}

var Events = []string{
	"chainChanged",
	"accountsChanged",
	"message",
	"disconnect",
	"connect",
}

var ErrNoAccount = errors.New("no account to expose")

// UnsupportedChainError names the first required chain the wallet cannot serve.
type UnsupportedChainError struct {
	Chain string
}

func (e *UnsupportedChainError) Error() string {
	return "unsupported chain " + e.Chain
}

type Input struct {
	Required map[string]transport.Namespace
	Optional map[string]transport.Namespace
	// Supported is the wallet's chain allowlist.
	Supported    []uint64
	DefaultChain uint64
	Account      string
}

type Result struct {
	Chains   []string
	Methods  []string
	Events   []string
	Accounts []string
	// PrimaryChain is the numeric id of Chains[0].
	PrimaryChain uint64
}

// Namespaces renders r in the shape the transport approves with.
func (r Result) Namespaces() map[string]transport.Namespace {
	return map[string]transport.Namespace{
		constants.EIP155Namespace: {
			Chains:   append([]string(nil), r.Chains...),
			Methods:  append([]string(nil), r.Methods...),
			Events:   append([]string(nil), r.Events...),
			Accounts: append([]string(nil), r.Accounts...),
		},
	}
}

// Negotiate approves the default chain plus every requested chain found in the
// allowlist. It fails with *UnsupportedChainError when a required chain is left out;
// the caller must then reject the proposal as a whole.
func Negotiate(in Input) (Result, error) {
	if !common.IsHexAddress(strings.TrimSpace(in.Account)) {
		return Result{}, errors.Wrapf(ErrNoAccount, "account %q", in.Account)
	}

	allowed := make(map[uint64]struct{}, len(in.Supported)+1)
	for _, id := range in.Supported {
		allowed[id] = struct{}{}
	}
	if in.DefaultChain != 0 {
		allowed[in.DefaultChain] = struct{}{}
	}

	requested := make(map[uint64]struct{})
	for _, c := range declaredChains(in.Required) {
		if id, err := chains.ParseEIP155(c); err == nil {
			requested[id] = struct{}{}
		}
	}
	for _, c := range declaredChains(in.Optional) {
		if id, err := chains.ParseEIP155(c); err == nil {
			requested[id] = struct{}{}
		}
	}

	approved := make([]uint64, 0, len(in.Supported)+1)
	included := make(map[uint64]struct{})
	add := func(id uint64) {
		if _, dup := included[id]; dup {
			return
		}
		included[id] = struct{}{}
		approved = append(approved, id)
	}
	if in.DefaultChain != 0 {
		add(in.DefaultChain)
	}
	for _, id := range in.Supported {
		if _, ok := requested[id]; ok {
			add(id)
		}
	}

	// required chains must all survive
	for _, c := range declaredChains(in.Required) {
		id, err := chains.ParseEIP155(c)
		if err != nil {
			return Result{}, &UnsupportedChainError{Chain: c}
		}
		if _, ok := included[id]; !ok {
			return Result{}, &UnsupportedChainError{Chain: c}
		}
	}
	if len(approved) == 0 {
		return Result{}, errors.New("no chain to approve")
	}

	address := strings.TrimSpace(in.Account)
	res := Result{
		Chains:       make([]string, 0, len(approved)),
		Accounts:     make([]string, 0, len(approved)),
		Methods:      append([]string(nil), Methods...),
		Events:       append([]string(nil), Events...),
		PrimaryChain: approved[0],
	}
	for _, id := range approved {
		c := chains.CAIP2(id)
		res.Chains = append(res.Chains, c)
		res.Accounts = append(res.Accounts, c+":"+address)
	}
	return res, nil
}

// declaredChains flattens a namespace map into chain ids. A key that is itself
// a chain id ("eip155:10") declares that chain. A key from another ecosystem
// with no chains is reported under its own name so it cannot pass as supported.
func declaredChains(nss map[string]transport.Namespace) []string {
	keys := make([]string, 0, len(nss))
	for k := range nss {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, key := range keys {
		ns := nss[key]
		if strings.Contains(key, ":") {
			out = append(out, key)
		}
		out = append(out, ns.Chains...)
		if !strings.Contains(key, ":") && key != constants.EIP155Namespace && len(ns.Chains) == 0 {
			out = append(out, key)
		}
	}
	return out
}
