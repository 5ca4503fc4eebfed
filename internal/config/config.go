// Package config loads the daemon configuration with viper: a dca-manager
// config file (yaml) plus DCA_-prefixed environment overrides. Defaults
// target Polygon mainnet: QuickSwap as the venue, USDC as the settlement
// asset.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	// RPCURL is the EVM node endpoint.
	RPCURL string `mapstructure:"rpc_url"`

	// PrivateKey is the hex-encoded key of the vault account. Environment
	// only (DCA_PRIVATE_KEY); never put it in the file.
	PrivateKey string `mapstructure:"private_key"`

	// Owner is the controlling principal. Defaults to the key's address.
	Owner string `mapstructure:"owner"`

	Router          string   `mapstructure:"router"`
	SettlementAsset string   `mapstructure:"settlement_asset"`
	SpendAmount     string   `mapstructure:"spend_amount"` // raw units
	Assets          []string `mapstructure:"assets"`

	AutoWithdraw bool  `mapstructure:"auto_withdraw"`
	SlippageBps  int64 `mapstructure:"slippage_bps"`

	KeeperInterval time.Duration `mapstructure:"keeper_interval"`

	ListenAddr string `mapstructure:"listen_addr"`
	APIToken   string `mapstructure:"api_token"`
}

// Polygon mainnet defaults.
const (
	defaultRouter     = "0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff" // QuickSwap V2
	defaultSettlement = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174" // USDC
)

var defaultAssets = []string{
	"0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6", // WBTC
	"0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", // WETH
	"0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270", // WMATIC
	"0xD6DF932A45C0f255f85145f286eA0b292B21C90B", // AAVE
}

// Load reads the file at path (optional; search path and env fill in when
// empty) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("dca-manager")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dca-manager")
	}

	v.SetEnvPrefix("DCA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, and AutomaticEnv alone does
	// not register them: a key with no default and no file entry would unmarshal
	// empty even with the DCA_ variable set. Bind every key explicitly.
	for _, key := range []string{
		"rpc_url", "private_key", "owner", "router", "settlement_asset",
		"spend_amount", "assets", "auto_withdraw", "slippage_bps",
		"keeper_interval", "listen_addr", "api_token",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	v.SetDefault("router", defaultRouter)
	v.SetDefault("settlement_asset", defaultSettlement)
	v.SetDefault("assets", defaultAssets)
	v.SetDefault("spend_amount", "20000000") // 20 USDC (6 decimals)
	v.SetDefault("slippage_bps", 100)
	v.SetDefault("keeper_interval", "24h")
	v.SetDefault("listen_addr", "127.0.0.1:8732")

	if err := v.ReadInConfig(); err != nil {
		// Without an explicit path a missing file is fine: env + defaults
		// carry the rest.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !common.IsHexAddress(c.Router) {
		return fmt.Errorf("config: router %q is not an address", c.Router)
	}
	if !common.IsHexAddress(c.SettlementAsset) {
		return fmt.Errorf("config: settlement_asset %q is not an address", c.SettlementAsset)
	}
	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("config: owner %q is not an address", c.Owner)
	}
	for _, a := range c.Assets {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("config: asset %q is not an address", a)
		}
	}
	if _, ok := c.SpendAmountBig(); !ok {
		return fmt.Errorf("config: spend_amount %q is not a positive integer", c.SpendAmount)
	}
	if c.KeeperInterval <= 0 {
		return fmt.Errorf("config: keeper_interval must be positive")
	}
	return nil
}

// SpendAmountBig parses the per-cycle budget in raw units.
func (c *Config) SpendAmountBig() (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(c.SpendAmount), 10)
	if !ok || n.Sign() <= 0 {
		return nil, false
	}
	return n, true
}

func (c *Config) RouterAddress() common.Address     { return common.HexToAddress(c.Router) }
func (c *Config) SettlementAddress() common.Address { return common.HexToAddress(c.SettlementAsset) }

func (c *Config) AssetAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Assets))
	for _, a := range c.Assets {
		out = append(out, common.HexToAddress(a))
	}
	return out
}
