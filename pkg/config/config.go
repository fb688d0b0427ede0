package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"MarketPulse/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Upstream struct {
		BaseURL          string        `yaml:"base_url"`
		WebSocketURL     string        `yaml:"websocket_url"`
		Symbols          []string      `yaml:"symbols"`
		Exchanges        []string      `yaml:"exchanges"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		RequestTimeout   time.Duration `yaml:"request_timeout"`
		RateLimit        int           `yaml:"rate_limit"` // requests per minute
	} `yaml:"upstream"`
	Credential struct {
		Path           string        `yaml:"path"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		Debounce       time.Duration `yaml:"debounce"`
		ValidityWindow time.Duration `yaml:"validity_window"`
		VerifyInterval time.Duration `yaml:"verify_interval"`
	} `yaml:"credential"`
	Calendar struct {
		Timezone      string   `yaml:"timezone"`
		PreOpen       string   `yaml:"pre_open"`
		AuctionFreeze string   `yaml:"auction_freeze"`
		Open          string   `yaml:"open"`
		Close         string   `yaml:"close"`
		Holidays      []string `yaml:"holidays"`
	} `yaml:"calendar"`
	Feed struct {
		ConnectGrace   time.Duration `yaml:"connect_grace"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		ReevalInterval time.Duration `yaml:"reevaluate_interval"`
		ReconnectEvery time.Duration `yaml:"reconnect_every"`
		StaleAfter     time.Duration `yaml:"stale_after"`
		FallbackAfter  time.Duration `yaml:"fallback_after"`
		CheckInterval  time.Duration `yaml:"check_interval"`
		Retry          struct {
			Base   time.Duration `yaml:"base"`
			Cap    time.Duration `yaml:"cap"`
			Jitter float64       `yaml:"jitter"`
		} `yaml:"retry"`
	} `yaml:"feed"`
	Cache struct {
		MetricTTL     time.Duration `yaml:"metric_ttl"`
		RefreshPeriod time.Duration `yaml:"refresh_period"`
		Backoff       struct {
			Base   time.Duration `yaml:"base"`
			Cap    time.Duration `yaml:"cap"`
			Jitter float64       `yaml:"jitter"`
		} `yaml:"backoff"`
		Redis struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			BatchTimeout time.Duration `yaml:"batch_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Pipeline struct {
			MaxRPS     int `yaml:"max_rps"`
			BufferSize int `yaml:"buffer_size"`
		} `yaml:"pipeline"`
	} `yaml:"kafka"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("CREDENTIAL_PATH"); v != "" {
		c.Credential.Path = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Upstream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_WEBSOCKET_URL"); v != "" {
		c.Upstream.WebSocketURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		c.Cache.Redis.DB = util.ParseIntDefault(v, c.Cache.Redis.DB)
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.WebSocketURL == "" {
		return fmt.Errorf("upstream.websocket_url is required")
	}
	if len(c.Upstream.Symbols) == 0 {
		return fmt.Errorf("upstream.symbols cannot be empty")
	}
	if c.Credential.Path == "" {
		return fmt.Errorf("credential.path is required")
	}
	if c.Calendar.Timezone == "" {
		return fmt.Errorf("calendar.timezone is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
