package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all terminal configuration loaded from environment variables.
type Config struct {
	Port       int    `envconfig:"TERMINAL_PORT" default:"8090"`
	LogLevel   string `envconfig:"TERMINAL_LOG_LEVEL" default:"info"`
	LogDir     string `envconfig:"TERMINAL_LOG_DIR" default:"./logs"`
	ChainsFile string `envconfig:"TERMINAL_CHAINS_FILE" default:"./chains.yaml"`

	// Device selection: substring of the PC/SC reader name. Empty selects the first reader.
	ReaderName      string `envconfig:"TERMINAL_READER_NAME"`
	SelectAID       string `envconfig:"TERMINAL_SELECT_AID"`
	ReadTemplate    string `envconfig:"TERMINAL_READ_TEMPLATE" default:"80CA0000"`
	PaymentTemplate string `envconfig:"TERMINAL_PAYMENT_TEMPLATE" default:"80DA0000"`

	CoinGeckoURL    string `envconfig:"TERMINAL_COINGECKO_URL" default:"https://api.coingecko.com/api/v3"`
	CoinGeckoAPIKey string `envconfig:"TERMINAL_COINGECKO_API_KEY"`

	KafkaBrokers []string `envconfig:"TERMINAL_KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"TERMINAL_KAFKA_TOPIC" default:"tappos.status"`

	AllowedIPs []string `envconfig:"TERMINAL_ALLOWED_IPS"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				slog.Warn("failed to load .env file", "file", f, "error", err)
			} else {
				slog.Info("loaded .env file", "file", f)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.ChainsFile == "" {
		return fmt.Errorf("%w: TERMINAL_CHAINS_FILE must be set", ErrInvalidConfig)
	}
	if _, err := c.ReadCommandTemplate(); err != nil {
		return err
	}
	if _, err := c.PaymentCommandTemplate(); err != nil {
		return err
	}
	if _, err := c.SelectAIDBytes(); err != nil {
		return err
	}
	for _, ip := range c.AllowedIPs {
		if net.ParseIP(strings.TrimSpace(ip)) == nil {
			return fmt.Errorf("%w: TERMINAL_ALLOWED_IPS contains invalid IP %q", ErrInvalidConfig, ip)
		}
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("%w: TERMINAL_KAFKA_TOPIC required when brokers are set", ErrInvalidConfig)
	}
	return nil
}

// ReadCommandTemplate decodes the hex template used to read the customer's address.
func (c *Config) ReadCommandTemplate() ([]byte, error) {
	return decodeTemplate("TERMINAL_READ_TEMPLATE", c.ReadTemplate)
}

// PaymentCommandTemplate decodes the hex template that wraps the payment message.
func (c *Config) PaymentCommandTemplate() ([]byte, error) {
	return decodeTemplate("TERMINAL_PAYMENT_TEMPLATE", c.PaymentTemplate)
}

// SelectAIDBytes decodes the optional application identifier selected before reading.
func (c *Config) SelectAIDBytes() ([]byte, error) {
	if c.SelectAID == "" {
		return nil, nil
	}
	aid, err := hex.DecodeString(c.SelectAID)
	if err != nil {
		return nil, fmt.Errorf("%w: TERMINAL_SELECT_AID is not hex: %v", ErrInvalidConfig, err)
	}
	if len(aid) < 5 || len(aid) > 16 {
		return nil, fmt.Errorf("%w: TERMINAL_SELECT_AID must be 5-16 bytes, got %d", ErrInvalidConfig, len(aid))
	}
	return aid, nil
}

func decodeTemplate(name, value string) ([]byte, error) {
	b, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not hex: %v", ErrInvalidConfig, name, err)
	}
	if len(b) < CommandHeaderLength {
		return nil, fmt.Errorf("%w: %s must be at least %d bytes, got %d", ErrInvalidConfig, name, CommandHeaderLength, len(b))
	}
	return b, nil
}
