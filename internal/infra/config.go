package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"polytrader/internal/domain"
)

// Credential holds the CLOB API credential and the order-signing key. Loaded
// once at startup from the environment; immutable for the process lifetime.
type Credential struct {
	APIKey        string
	APISecret     string
	APIPassphrase string
	Address       string // funder / maker address
	PrivateKey    string // hex-encoded wallet key for EIP-712 order signing
}

// Config holds all application settings. Secrets are never read from the
// YAML file; LoadCredential pulls them from the environment afterwards.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		RestURL     string   `yaml:"rest_url"`
		WSURL       string   `yaml:"ws_url"`
		ChainID     int64    `yaml:"chain_id"`
		RatePerSec  float64  `yaml:"rate_per_sec"` // token-bucket refill rate
		RateBurst   int      `yaml:"rate_burst"`   // token-bucket capacity
		TimeoutSec  int      `yaml:"timeout_sec"`  // per-call timeout
		MaxAttempts int      `yaml:"max_attempts"` // retry budget for idempotent calls
		Markets     []string `yaml:"markets"`      // condition ids to trade
	} `yaml:"api"`

	Reconcile struct {
		IntervalSec int `yaml:"interval_sec"`
		AckGraceSec int `yaml:"ack_grace_sec"` // how long a PENDING order may stay unacked
	} `yaml:"reconcile"`

	Storage struct {
		Path string `yaml:"path"` // sqlite file, empty for the default location
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, then validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.RestURL == "" {
		c.API.RestURL = "https://clob.polymarket.com"
	}
	if c.API.WSURL == "" {
		c.API.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	}
	if c.API.ChainID == 0 {
		c.API.ChainID = 137 // Polygon mainnet
	}
	if c.API.RatePerSec == 0 {
		c.API.RatePerSec = 8
	}
	if c.API.RateBurst == 0 {
		c.API.RateBurst = 16
	}
	if c.API.TimeoutSec == 0 {
		c.API.TimeoutSec = 10
	}
	if c.API.MaxAttempts == 0 {
		c.API.MaxAttempts = 5
	}
	if c.Reconcile.IntervalSec == 0 {
		c.Reconcile.IntervalSec = 15
	}
	if c.Reconcile.AckGraceSec == 0 {
		c.Reconcile.AckGraceSec = 30
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.API.RestURL, "http://") && !hasPrefix(c.API.RestURL, "https://") {
		return fmt.Errorf("invalid REST URL: %s", c.API.RestURL)
	}
	if !hasPrefix(c.API.WSURL, "ws://") && !hasPrefix(c.API.WSURL, "wss://") {
		return fmt.Errorf("invalid WS URL: %s", c.API.WSURL)
	}
	if c.API.RatePerSec <= 0 || c.API.RateBurst <= 0 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.Reconcile.IntervalSec <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}
	return nil
}

// Timeout returns the per-call transport timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSec) * time.Second
}

// ReconcileInterval returns the periodic reconciliation interval.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalSec) * time.Second
}

// AckGrace returns how long an unacked submission may stay PENDING before
// the reconciler treats it as rejected or lost.
func (c *Config) AckGrace() time.Duration {
	return time.Duration(c.Reconcile.AckGraceSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// LoadCredential reads the API credential and signing key from the
// environment. A missing variable is a fatal ConfigError, not something to
// retry.
func LoadCredential() (*Credential, error) {
	cred := &Credential{
		APIKey:        os.Getenv("POLY_API_KEY"),
		APISecret:     os.Getenv("POLY_API_SECRET"),
		APIPassphrase: os.Getenv("POLY_API_PASSPHRASE"),
		Address:       os.Getenv("POLY_ADDRESS"),
		PrivateKey:    os.Getenv("POLY_PRIVATE_KEY"),
	}

	for field, v := range map[string]string{
		"POLY_API_KEY":        cred.APIKey,
		"POLY_API_SECRET":     cred.APISecret,
		"POLY_API_PASSPHRASE": cred.APIPassphrase,
		"POLY_ADDRESS":        cred.Address,
		"POLY_PRIVATE_KEY":    cred.PrivateKey,
	} {
		if v == "" {
			return nil, &domain.ConfigError{Field: field, Err: fmt.Errorf("environment variable not set")}
		}
	}

	return cred, nil
}
