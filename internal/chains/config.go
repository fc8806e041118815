package chains

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
)

type NetworkConfig struct {
	Name     string `mapstructure:"name" json:"name"`
	ChainID  uint64 `mapstructure:"chainId" json:"chainId"`
	RPC      string `mapstructure:"rpc" json:"rpc"`
	Explorer string `mapstructure:"explorer" json:"explorer"`
}

type Config struct {
	DefaultChain uint64                   `mapstructure:"defaultChain"`
	Networks     map[string]NetworkConfig `mapstructure:"networks"`
}

// DefaultConfig is the chain set the bridge ships with.
func DefaultConfig() Config {
	return Config{
		DefaultChain: 1,
		Networks: map[string]NetworkConfig{
			"ethereum": {Name: "Ethereum", ChainID: 1, RPC: "https://eth.llamarpc.com", Explorer: "https://etherscan.io"},
			"polygon":  {Name: "Polygon", ChainID: 137, RPC: "https://polygon.llamarpc.com", Explorer: "https://polygonscan.com"},
			"arbitrum": {Name: "Arbitrum", ChainID: 42161, RPC: "https://arb1.arbitrum.io/rpc", Explorer: "https://arbiscan.io"},
			"optimism": {Name: "Optimism", ChainID: 10, RPC: "https://mainnet.optimism.io", Explorer: "https://optimistic.etherscan.io"},
			"base":     {Name: "Base", ChainID: 8453, RPC: "https://mainnet.base.org", Explorer: "https://basescan.org"},
			"bsc":      {Name: "BNB Chain", ChainID: 56, RPC: "https://bsc-dataseed.binance.org", Explorer: "https://bscscan.com"},
		},
	}
}

func (c Config) Validate() error {
	if len(c.Networks) == 0 {
		return errors.New("chains: no networks configured")
	}
	seen := make(map[uint64]string, len(c.Networks))
	for key, n := range c.Networks {
		if n.ChainID == 0 {
			return errors.Newf("chains: network %q has no chainId", key)
		}
		if other, ok := seen[n.ChainID]; ok {
			return errors.Newf("chains: chainId %d configured twice (%s, %s)", n.ChainID, other, key)
		}
		seen[n.ChainID] = key
	}
	if _, ok := seen[c.DefaultChain]; !ok {
		return errors.Newf("chains: default chain %d is not configured", c.DefaultChain)
	}
	return nil
}

// CAIP2 renders a chain id as "eip155:<id>".
func CAIP2(chainID uint64) string {
	return constants.EIP155Namespace + ":" + strconv.FormatUint(chainID, 10)
}

// ParseCAIP2 splits "<namespace>:<reference>" into its parts.
func ParseCAIP2(s string) (namespace string, reference string, err error) {
	ns, ref, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || ns == "" || ref == "" || strings.Contains(ref, ":") {
		return "", "", errors.Newf("invalid chain id %q", s)
	}
	return ns, ref, nil
}

// ParseEIP155 returns the numeric chain id of an "eip155:<n>" string.
func ParseEIP155(s string) (uint64, error) {
	ns, ref, err := ParseCAIP2(s)
	if err != nil {
		return 0, err
	}
	if ns != constants.EIP155Namespace {
		return 0, errors.Newf("chain %q is not in the %s namespace", s, constants.EIP155Namespace)
	}
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid %s reference %q", constants.EIP155Namespace, ref)
	}
	return id, nil
}

func sortedChainIDs(networks map[string]NetworkConfig) []uint64 {
	out := make([]uint64, 0, len(networks))
	for _, n := range networks {
		out = append(out, n.ChainID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
