// Package config loads the settings of the alpaca command from YAML, a .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Overmuse/alpaca/internal/utils"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	PaperBaseURL   = "https://paper-api.alpaca.markets/v2"
	LiveBaseURL    = "https://api.alpaca.markets/v2"
	PaperStreamURL = "wss://paper-api.alpaca.markets/stream"
	LiveStreamURL  = "wss://api.alpaca.markets/stream"
)

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration of the alpaca command.
type Config struct {
	Alpaca  Alpaca  `yaml:"alpaca"`
	Stream  Stream  `yaml:"stream"`
	REST    REST    `yaml:"rest"`
	Server  Server  `yaml:"server"`
	Journal Journal `yaml:"journal"`
	Logging Logging `yaml:"logging"`
}

// Alpaca holds credentials and endpoints. Empty URLs are filled from Paper.
type Alpaca struct {
	KeyID     string `yaml:"key_id" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	Paper     bool   `yaml:"paper"`
	BaseURL   string `yaml:"base_url" validate:"required,url"`
	StreamURL string `yaml:"stream_url" validate:"required,url"`
}

// Stream configures the account stream and its reconnect policy.
type Stream struct {
	Streams              []string      `yaml:"streams"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	PingPeriod           time.Duration `yaml:"ping_period" validate:"gt=0"`
	VerifyListening      bool          `yaml:"verify_listening"`
	TolerateDecodeErrors bool          `yaml:"tolerate_decode_errors"`
	InitialBackoff       time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff           time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	MaxRetries           int           `yaml:"max_retries" validate:"gte=0"`
	BufferSize           int           `yaml:"buffer_size" validate:"gt=0"`
}

// REST configures the HTTP client.
type REST struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

// Server holds the listeners of the stream command. An empty address disables it.
type Server struct {
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
}

// Journal enables the SQLite journal when Path is set.
type Journal struct {
	Path string `yaml:"path"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=console json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Alpaca: Alpaca{Paper: true},
		Stream: Stream{
			Streams:          []string{"trade_updates"},
			HandshakeTimeout: 10 * time.Second,
			PingPeriod:       15 * time.Second,
			InitialBackoff:   time.Second,
			MaxBackoff:       time.Minute,
			BufferSize:       1000,
		},
		REST: REST{
			RequestsPerMinute: 200,
			Timeout:           30 * time.Second,
		},
		Server: Server{
			MetricsAddr: ":9090",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load builds the configuration from the defaults, the YAML file at path when path is
// not empty, a .env file in the working directory when one exists, and finally the
// APCA_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, path, err)
		}
	}

	// Variables already in the environment win over the .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %w", ErrInvalidConfig, err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.applyEndpointDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.KeyID = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.SecretKey = v
	}
	if v := os.Getenv("APCA_PAPER"); v != "" {
		paper, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: APCA_PAPER: %w", ErrInvalidConfig, err)
		}
		cfg.Alpaca.Paper = paper
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = strings.TrimSuffix(v, "/")
	}
	if v := os.Getenv("APCA_API_STREAM_URL"); v != "" {
		cfg.Alpaca.StreamURL = v
	}
	if v := os.Getenv("ALPACA_STREAMS"); v != "" {
		var streams []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				streams = append(streams, s)
			}
		}
		cfg.Stream.Streams = streams
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	return nil
}

func (c *Config) applyEndpointDefaults() {
	if c.Alpaca.BaseURL == "" {
		c.Alpaca.BaseURL = LiveBaseURL
		if c.Alpaca.Paper {
			c.Alpaca.BaseURL = PaperBaseURL
		}
	}
	if c.Alpaca.StreamURL == "" {
		c.Alpaca.StreamURL = LiveStreamURL
		if c.Alpaca.Paper {
			c.Alpaca.StreamURL = PaperStreamURL
		}
	}
}

// Validate checks struct constraints and the stream list.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := utils.ValidateStreams(c.Stream.Streams, len(utils.StreamSet)); err != nil {
		return fmt.Errorf("%w: stream.streams: %w", ErrInvalidConfig, err)
	}
	return nil
}

// MarshalZerologObject logs the configuration without the secret key.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("keyID", c.Alpaca.KeyID).
		Bool("paper", c.Alpaca.Paper).
		Str("baseURL", c.Alpaca.BaseURL).
		Str("streamURL", c.Alpaca.StreamURL).
		Strs("streams", c.Stream.Streams).
		Str("metricsAddr", c.Server.MetricsAddr).
		Str("grpcAddr", c.Server.GRPCAddr).
		Str("journal", c.Journal.Path).
		Str("logLevel", c.Logging.Level)
}
