package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderUpstox = "UPSTOX"
	ProviderKite   = "KITE"

	DefaultSymbol = "RELIANCE.NS"
)

type ChannelConfig struct {
	URL              string `yaml:"url"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
}

func (c ChannelConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

type Config struct {
	Backend struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		TokenEnv       string `yaml:"token_env"`
	} `yaml:"backend"`
	Channels struct {
		Prices ChannelConfig `yaml:"prices"`
		Broker ChannelConfig `yaml:"broker"`
	} `yaml:"channels"`
	Broker struct {
		Provider string `yaml:"provider"`
		Kite     struct {
			APIKeyEnv      string `yaml:"api_key_env"`
			AccessTokenEnv string `yaml:"access_token_env"`
			Exchange       string `yaml:"exchange"`
			BaseURI        string `yaml:"base_uri"`
		} `yaml:"kite"`
	} `yaml:"broker"`
	State struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"state"`
	Journal struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"journal"`
	DefaultSymbol string `yaml:"default_symbol"`
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url cannot be empty")
	}
	if c.Channels.Prices.URL == "" || c.Channels.Broker.URL == "" {
		return errors.New("channels.prices.url and channels.broker.url are required")
	}
	if c.Channels.Prices.ReconnectDelayMS <= 0 || c.Channels.Broker.ReconnectDelayMS <= 0 {
		return fmt.Errorf("reconnect delays must be positive, got prices=%d broker=%d",
			c.Channels.Prices.ReconnectDelayMS, c.Channels.Broker.ReconnectDelayMS)
	}
	if c.Broker.Provider != ProviderUpstox && c.Broker.Provider != ProviderKite {
		return fmt.Errorf("invalid broker.provider '%s': must be 'UPSTOX' or 'KITE'", c.Broker.Provider)
	}
	if c.Broker.Provider == ProviderKite && c.Broker.Kite.APIKeyEnv == "" {
		return errors.New("broker.kite.api_key_env is required for the KITE provider")
	}
	if c.Journal.RetentionDays < 0 {
		return fmt.Errorf("journal.retention_days must not be negative, got %d", c.Journal.RetentionDays)
	}
	return nil
}

// Parse applies defaults to the YAML document in b and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:8000"
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 15
	}
	if c.Backend.TokenEnv == "" {
		c.Backend.TokenEnv = "MARKETVALUES_TOKEN"
	}

	wsBase := strings.Replace(strings.Replace(c.Backend.BaseURL, "https://", "wss://", 1), "http://", "ws://", 1)
	if c.Channels.Prices.URL == "" {
		c.Channels.Prices.URL = wsBase + "/ws/stocks"
	}
	if c.Channels.Broker.URL == "" {
		c.Channels.Broker.URL = wsBase + "/ws/upstox"
	}
	if c.Channels.Prices.ReconnectDelayMS == 0 {
		c.Channels.Prices.ReconnectDelayMS = 3000
	}
	if c.Channels.Broker.ReconnectDelayMS == 0 {
		c.Channels.Broker.ReconnectDelayMS = 5000
	}

	c.Broker.Provider = strings.ToUpper(c.Broker.Provider)
	if c.Broker.Provider == "" {
		c.Broker.Provider = ProviderUpstox
	}
	if c.Broker.Kite.APIKeyEnv == "" {
		c.Broker.Kite.APIKeyEnv = "KITE_API_KEY"
	}
	if c.Broker.Kite.AccessTokenEnv == "" {
		c.Broker.Kite.AccessTokenEnv = "KITE_ACCESS_TOKEN"
	}
	if c.Broker.Kite.Exchange == "" {
		c.Broker.Kite.Exchange = "NSE"
	}

	if c.State.DBPath == "" {
		c.State.DBPath = "data/terminal.db"
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "logs"
	}
	if c.DefaultSymbol == "" {
		c.DefaultSymbol = DefaultSymbol
	}
}
