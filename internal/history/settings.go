package history

import (
	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
)

// ErrInvalidSettings marks a settings patch rejected by validation.
var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	PreferredAggregator string  `json:"preferredAggregator"`
	Slippage            float64 `json:"slippage"`
	DefaultFromChain    uint64  `json:"defaultFromChain"`
	DefaultToChain      uint64  `json:"defaultToChain"`
}

func DefaultSettings() Settings {
	return Settings{
		PreferredAggregator: "auto",
		Slippage:            1,
		DefaultFromChain:    1,
		DefaultToChain:      137,
	}
}

// Settings returns the stored settings with missing fields taken from the defaults.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := DefaultSettings()
	if _, err := s.kv.Get(constants.SettingsKey, &out); err != nil {
		log.Warn("history: unreadable settings, using defaults", "error", err)
		return DefaultSettings()
	}
	return out
}

// UpdateSettings merges patch over the current settings. Zero fields in patch are left alone.
func (s *Store) UpdateSettings(patch Settings) (Settings, error) {
	if patch.Slippage < 0 || patch.Slippage > 50 {
		return Settings{}, errors.Mark(errors.Newf("slippage %.2f out of range", patch.Slippage), ErrInvalidSettings)
	}

	cur := s.Settings()
	if patch.PreferredAggregator != "" {
		cur.PreferredAggregator = patch.PreferredAggregator
	}
	if patch.Slippage != 0 {
		cur.Slippage = patch.Slippage
	}
	if patch.DefaultFromChain != 0 {
		cur.DefaultFromChain = patch.DefaultFromChain
	}
	if patch.DefaultToChain != 0 {
		cur.DefaultToChain = patch.DefaultToChain
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Put(constants.SettingsKey, cur); err != nil {
		return Settings{}, errors.Wrap(err, "persist settings")
	}
	return cur, nil
}
