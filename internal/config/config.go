package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Routing   RoutingConfig   `yaml:"routing"`
	Tools     ToolsConfig     `yaml:"tools"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Finalizer FinalizerConfig `yaml:"finalizer"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// URL is the plain connection URL, as used by migrations.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name)
}

// DSN is URL plus pgxpool settings.
func (d DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("%s&pool_max_conns=%d", d.URL(), max(d.MaxOpenConns, 1))
	if d.ConnMaxLifetime > 0 {
		dsn += "&pool_max_conn_lifetime=" + d.ConnMaxLifetime.String()
	}
	return dsn
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// RateLimitConfig selects the admission backend. "memory" keeps fixed-window
// buckets in process; "redis" shares a sliding window across replicas.
type RateLimitConfig struct {
	Backend       string        `yaml:"backend"`
	Requests      int           `yaml:"requests"`
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type DedupeConfig struct {
	Enabled bool          `yaml:"enabled"`
	Bucket  time.Duration `yaml:"bucket"`
}

type RoutingConfig struct {
	DefaultModel   string               `yaml:"default_model"`
	TitleModel     string               `yaml:"title_model"`
	SynthesisModel string               `yaml:"synthesis_model"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type ToolsConfig struct {
	HTTPTimeout       time.Duration   `yaml:"http_timeout"`
	ImageCheckTimeout time.Duration   `yaml:"image_check_timeout"`
	MaxRetries        int             `yaml:"max_retries"`
	Tavily            APIConfig       `yaml:"tavily"`
	Exa               APIConfig       `yaml:"exa"`
	VideoMetadata     APIConfig       `yaml:"video_metadata"`
	MarketData        APIConfig       `yaml:"market_data"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type SynthesisConfig struct {
	MaxItems     int           `yaml:"max_items"`
	MaxItemChars int           `yaml:"max_item_chars"`
	Timeout      time.Duration `yaml:"timeout"`
}

type FinalizerConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	TitleTimeout time.Duration `yaml:"title_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     0,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "scout",
			User:            "scout",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			Requests:      10,
			Window:        time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Dedupe: DedupeConfig{
			Enabled: true,
			Bucket:  time.Second,
		},
		Routing: RoutingConfig{
			DefaultModel:   "scout-default",
			TitleModel:     "scout-title",
			SynthesisModel: "scout-default",
			RequestTimeout: 5 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Tools: ToolsConfig{
			HTTPTimeout:       20 * time.Second,
			ImageCheckTimeout: 5 * time.Second,
			MaxRetries:        1,
		},
		Synthesis: SynthesisConfig{
			MaxItems:     12,
			MaxItemChars: 600,
			Timeout:      30 * time.Second,
		},
		Finalizer: FinalizerConfig{
			Timeout:      time.Minute,
			TitleTimeout: 30 * time.Second,
		},
	}
}
