package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	utilsconfig "github.com/quantumauth-io/quantum-go-utils/config"
	"github.com/quantumauth-io/wc-bridge/internal/chains"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
	"github.com/quantumauth-io/wc-bridge/internal/securefile"
	"github.com/quantumauth-io/wc-bridge/internal/transport"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. WCB_RELAY_PROJECTID.
const EnvPrefix = "WCB"

type ClientSettings struct {
	LocalHost      string
	Port           string
	DataDir        string
	AllowedOrigins []string
}

type RelaySettings struct {
	URL                string
	ProjectID          string
	DialTimeoutSeconds int
	CallTimeoutSeconds int
	// RetrySeconds is how often a lost or never established transport is dialed again.
	RetrySeconds int
	Metadata     transport.Metadata
}

type HostWalletSettings struct {
	PrimaryURL  string
	InjectedURL string
}

type MonitorSettings struct {
	IntervalSeconds int
	MaxAttempts     int
}

type RateLimitSettings struct {
	SessionRequestsPerSecond float64
	SessionBurst             int
	HTTPRequestsPerSecond    float64
	HTTPBurst                int
}

type Config struct {
	Client     ClientSettings     `mapstructure:"Client"`
	Relay      RelaySettings      `mapstructure:"Relay"`
	HostWallet HostWalletSettings `mapstructure:"HostWallet"`
	Chains     chains.Config      `mapstructure:"Chains"`
	Monitor    MonitorSettings    `mapstructure:"Monitor"`
	RateLimit  RateLimitSettings  `mapstructure:"RateLimit"`
}

func Load() (*Config, error) {
	home, _ := os.UserHomeDir()
	paths := []string{
		filepath.Join(home, ".config", constants.AppName),
		filepath.Join(home, "config"),
		".",
	}

	cfg, err := utilsconfig.ParseConfigWithEmbedded[Config](paths, EmbeddedConfigYAML)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return finish(viper.New(), cfg)
}

// finish layers WCB_* env vars over cfg and normalizes the result.
func finish(v *viper.Viper, cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, errors.New("config: nothing parsed")
	}
	out, err := applyEnv(v, cfg)
	if err != nil {
		return nil, err
	}
	if err := out.normalize(); err != nil {
		return nil, err
	}
	return out, nil
}

// applyEnv feeds cfg to v as its config so that any WCB_<SECTION>_<KEY> variable
// overrides the matching field.
func applyEnv(v *viper.Viper, cfg *Config) (*Config, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}

	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &out, nil
}

func (c *Config) normalize() error {
	c.Client.LocalHost = strings.TrimSpace(c.Client.LocalHost)
	if c.Client.LocalHost == "" {
		c.Client.LocalHost = "127.0.0.1"
	}
	if strings.TrimSpace(c.Client.Port) == "" {
		return errors.New("config: Client.Port is empty")
	}

	if strings.TrimSpace(c.Client.DataDir) == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.Client.DataDir = dir
	}

	c.Relay.ProjectID = strings.TrimSpace(c.Relay.ProjectID)
	if len(c.Chains.Networks) == 0 {
		c.Chains = chains.DefaultConfig()
	}
	return errors.Wrap(c.Chains.Validate(), "config")
}

// DefaultDataDir is where state lives when Client.DataDir is not set.
func DefaultDataDir() (string, error) {
	candidates, err := securefile.ConfigPathCandidates(constants.AppName, "")
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", errors.New("config: no data directory candidate")
	}
	return candidates[0], nil
}

// TokenPath is the session token file of the local API.
func (c *Config) TokenPath(fileName string) string {
	return filepath.Join(c.Client.DataDir, fileName)
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Relay.DialTimeoutSeconds) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Relay.CallTimeoutSeconds) * time.Second
}

func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Relay.RetrySeconds) * time.Second
}
