package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration. Defaults come from struct tags;
// YAML overrides defaults; environment variables override YAML.
type Config struct {
	Environment string `yaml:"environment" default:"production"`

	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Log struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"100"` // rotation, file output only
		MaxBackups int    `yaml:"max_backups" default:"3"`
	} `yaml:"log"`

	Feed struct {
		Kind         string        `yaml:"kind" default:"ws" validate:"oneof=ws rest kafka"`
		URL          string        `yaml:"url"`
		Symbol       string        `yaml:"symbol" default:"BTCUSDT"`
		AuthToken    string        `yaml:"auth_token"`
		PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		// Reconnect backoff: base with full jitter, capped.
		ReconnectBase time.Duration `yaml:"reconnect_base" default:"500ms"`
		ReconnectCap  time.Duration `yaml:"reconnect_cap" default:"30s"`
		BufferSize    int           `yaml:"buffer_size" default:"4096"`
		Kafka         struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic" default:"ticks"`
			GroupID string   `yaml:"group_id" default:"trapflow"`
		} `yaml:"kafka"`
	} `yaml:"feed"`

	Windows struct {
		Timeframes []string `yaml:"timeframes" default:"[\"1m\",\"5m\",\"15m\",\"1h\",\"4h\",\"1d\"]"`
		MaxCandles int      `yaml:"max_candles" default:"500" validate:"gt=1"`
	} `yaml:"windows"`

	Detector struct {
		WickRatio              float64       `yaml:"wick_ratio" default:"2.0" validate:"gt=0"`
		SpikeSigma             float64       `yaml:"spike_sigma" default:"3.0" validate:"gt=0"`
		VolumeZ                float64       `yaml:"volume_z" default:"2.0" validate:"gt=0"`
		RetraceFraction        float64       `yaml:"retrace_fraction" default:"0.5" validate:"gt=0,lte=1"`
		ConsolidationCandles   int           `yaml:"consolidation_candles" default:"12" validate:"gt=1"`
		BreakoutPersistCandles int           `yaml:"breakout_persist_candles" default:"3" validate:"gt=0"`
		SwingLookback          int           `yaml:"swing_lookback" default:"50" validate:"gt=2"`
		Debounce               time.Duration `yaml:"debounce" default:"60s"`
		ScorerURL              string        `yaml:"scorer_url" validate:"omitempty,url"`
		ScorerTimeout          time.Duration `yaml:"scorer_timeout" default:"2s"`
	} `yaml:"detector"`

	Journal struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"trapflow"`
		Table            string        `yaml:"table" default:"trap_events"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"5s"`
		MaxWriteAttempts int           `yaml:"max_write_attempts" default:"3" validate:"gt=0"`
		DeadLetterPath   string        `yaml:"dead_letter_path" default:"data/journal_deadletter.jsonl"`
		Mirror           struct {
			Enabled     bool     `yaml:"enabled"`
			Brokers     []string `yaml:"brokers"`
			Topic       string   `yaml:"topic" default:"trap_events"`
			Compression string   `yaml:"compression" default:"gzip"`
		} `yaml:"mirror"`
	} `yaml:"journal"`

	Analytics struct {
		Period              time.Duration `yaml:"period" default:"60s"`
		Window              time.Duration `yaml:"window" default:"720h"` // 30d rolling
		RecentK             int           `yaml:"recent_k" default:"5" validate:"gt=0"`
		HighConfThreshold   float64       `yaml:"high_confidence_threshold" default:"0.7" validate:"gte=0,lte=1"`
	} `yaml:"analytics"`

	Cache struct {
		Host      string        `yaml:"host" default:"localhost"`
		Port      int           `yaml:"port" default:"6379"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		KeyPrefix string        `yaml:"key_prefix" default:"trapflow"`
		TTL       time.Duration `yaml:"ttl"` // zero = no expiry
	} `yaml:"cache"`

	Alerts struct {
		Sinks []SinkConfig `yaml:"sinks" validate:"dive"`

		Threshold   float64       `yaml:"threshold" default:"0.7" validate:"gte=0,lte=1"`
		Cooldown    time.Duration `yaml:"cooldown" default:"5m"`
		MaxAttempts int           `yaml:"max_attempts" default:"5" validate:"gt=0"`
		GracePeriod time.Duration `yaml:"grace_period" default:"10s"`
		BackoffBase time.Duration `yaml:"backoff_base" default:"1s"`
	} `yaml:"alerts"`
}

// SinkConfig is one alert delivery target.
type SinkConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url" validate:"required,url"`
	Secret string `yaml:"secret" validate:"required"`
}

// Load reads, defaults, parses, and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
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

	if v := os.Getenv("FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("FEED_KIND"); v != "" {
		c.Feed.Kind = v
	}
	if v := os.Getenv("FEED_AUTH_TOKEN"); v != "" {
		c.Feed.AuthToken = v
	}
	if v := os.Getenv("JOURNAL_HOST"); v != "" {
		c.Journal.Host = v
	}
	if v := os.Getenv("JOURNAL_PASSWORD"); v != "" {
		c.Journal.Password = v
	}
	if v := os.Getenv("CACHE_HOST"); v != "" {
		c.Cache.Host = v
	}
	if v := os.Getenv("CACHE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Cache.Port = p
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Feed.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Alerts.Threshold = f
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks structural validity plus the cross-field rules the
// validator tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	switch c.Feed.Kind {
	case "ws", "rest":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for kind %q", c.Feed.Kind)
		}
	case "kafka":
		if len(c.Feed.Kafka.Brokers) == 0 {
			return fmt.Errorf("feed.kafka.brokers is required for kind kafka")
		}
	}
	if len(c.Windows.Timeframes) == 0 {
		return fmt.Errorf("windows.timeframes cannot be empty")
	}
	if c.Journal.Mirror.Enabled && len(c.Journal.Mirror.Brokers) == 0 {
		return fmt.Errorf("journal.mirror.brokers is required when mirror is enabled")
	}
	if c.Analytics.Period <= 0 {
		return fmt.Errorf("analytics.period must be positive")
	}
	if c.Detector.Debounce < 0 {
		return fmt.Errorf("detector.debounce cannot be negative")
	}
	return nil
}
