package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// noEnvFile points LoadFromEnv at a path that does not exist so a stray .env
// in the package directory cannot leak in
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("FEE_ACCOUNT", "0x3333333333333333333333333333333333333333")
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("BLOCK_TIME_MS", "250")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("TOKEN_DECIMALS", "6")
	t.Setenv("GENESIS_ACCOUNTS", "0x1111111111111111111111111111111111111111, 0x2222222222222222222222222222222222222222")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("FEED_ACCOUNTS", "5")
	t.Setenv("TX_LOG", "")
	t.Setenv("VERBOSE", "true")

	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)

	require.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), cfg.Exchange.FeeAccount)
	require.Equal(t, uint64(3), cfg.Exchange.FeePercent)
	require.Equal(t, 250*time.Millisecond, cfg.Chain.BlockTime)
	require.Equal(t, int64(31337), cfg.Chain.ChainID)
	require.Equal(t, uint8(6), cfg.Token.Decimals)
	require.Len(t, cfg.Genesis.Accounts, 2)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.API.CORSOrigins)
	require.Equal(t, 5, cfg.Feeder.Accounts)
	require.Empty(t, cfg.Node.TxLog)
	require.True(t, cfg.Node.Verbose)
}

func TestLoadFromEnv_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_ADDR=:9090\nTOKEN_SYMBOL=XYZ\n"), 0o644))
	t.Setenv("API_ADDR", "")
	t.Setenv("TOKEN_SYMBOL", "")
	os.Unsetenv("API_ADDR")
	os.Unsetenv("TOKEN_SYMBOL")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.API.Addr)
	require.Equal(t, "XYZ", cfg.Token.Symbol)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FEE_ACCOUNT", "nope"},
		{"FEE_PERCENT", "-1"},
		{"BLOCK_TIME_MS", "0"},
		{"TOKEN_DECIMALS", "78"},
		{"GENESIS_ACCOUNTS", "0x1111111111111111111111111111111111111111,bad"},
		{"MAX_BLOCK_BYTES", "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv(noEnvFile(t))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.key)
		})
	}
}
