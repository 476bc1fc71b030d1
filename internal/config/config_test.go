package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("backend:\n  base_url: https://mv.example.com/\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://mv.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "wss://mv.example.com/ws/stocks", cfg.Channels.Prices.URL)
	assert.Equal(t, "wss://mv.example.com/ws/upstox", cfg.Channels.Broker.URL)
	assert.Equal(t, 3*time.Second, cfg.Channels.Prices.ReconnectDelay())
	assert.Equal(t, 5*time.Second, cfg.Channels.Broker.ReconnectDelay())
	assert.Equal(t, ProviderUpstox, cfg.Broker.Provider)
	assert.Equal(t, "NSE", cfg.Broker.Kite.Exchange)
	assert.Equal(t, "RELIANCE.NS", cfg.DefaultSymbol)
	assert.Equal(t, 15*time.Second, cfg.Timeout())
}

func TestParse_RejectsUnknownProvider(t *testing.T) {
	_, err := Parse([]byte("broker:\n  provider: shoonya\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.provider")
}

func TestParse_ProviderIsCaseInsensitive(t *testing.T) {
	cfg, err := Parse([]byte("broker:\n  provider: kite\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderKite, cfg.Broker.Provider)
	assert.Equal(t, "KITE_API_KEY", cfg.Broker.Kite.APIKeyEnv)
}

func TestParse_NegativeRetention(t *testing.T) {
	_, err := Parse([]byte("journal:\n  retention_days: -1\n"))
	require.Error(t, err)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.yaml")
	doc := `
backend:
  base_url: http://127.0.0.1:9000
channels:
  prices:
    reconnect_delay_ms: 250
default_symbol: TCS.NS
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9000/ws/stocks", cfg.Channels.Prices.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Channels.Prices.ReconnectDelay())
	assert.Equal(t, "TCS.NS", cfg.DefaultSymbol)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
