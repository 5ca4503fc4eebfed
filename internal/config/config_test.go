package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, defaultRouter, cfg.Router)
	require.Equal(t, defaultSettlement, cfg.SettlementAsset)
	require.Len(t, cfg.Assets, 4)
	require.Equal(t, 24*time.Hour, cfg.KeeperInterval)
	require.Equal(t, "127.0.0.1:8732", cfg.ListenAddr)

	spend, ok := cfg.SpendAmountBig()
	require.True(t, ok)
	require.Equal(t, "20000000", spend.String())
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dca-manager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rpc_url: ws://localhost:8546
spend_amount: "5000000"
keeper_interval: 1h
assets:
  - "0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6"
auto_withdraw: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8546", cfg.RPCURL)
	require.Equal(t, time.Hour, cfg.KeeperInterval)
	require.True(t, cfg.AutoWithdraw)
	require.Len(t, cfg.AssetAddresses(), 1)

	spend, ok := cfg.SpendAmountBig()
	require.True(t, ok)
	require.Equal(t, int64(5_000_000), spend.Int64())
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	// keys with no default still have to come through from the environment
	t.Setenv("DCA_RPC_URL", "ws://localhost:8546")
	t.Setenv("DCA_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe512961708279f5d3f3afbc4a3c8ec1")
	t.Setenv("DCA_OWNER", "0x1000000000000000000000000000000000000001")
	t.Setenv("DCA_API_TOKEN", "sekrit")
	t.Setenv("DCA_AUTO_WITHDRAW", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8546", cfg.RPCURL)
	require.Equal(t, "4c0883a69102937d6231471b5dbb6204fe512961708279f5d3f3afbc4a3c8ec1", cfg.PrivateKey)
	require.Equal(t, "0x1000000000000000000000000000000000000001", cfg.Owner)
	require.Equal(t, "sekrit", cfg.APIToken)
	require.True(t, cfg.AutoWithdraw)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DCA_SPEND_AMOUNT", "123")
	cfg, err := Load("")
	require.NoError(t, err)

	spend, ok := cfg.SpendAmountBig()
	require.True(t, ok)
	require.Equal(t, int64(123), spend.Int64())
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"router":           "not-an-address",
		"settlement_asset": "0x12",
		"owner":            "bogus",
		"spend_amount":     "-5",
		"keeper_interval":  "0s",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DCA_"+strings.ToUpper(key), val)
			_, err := Load("")
			require.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
