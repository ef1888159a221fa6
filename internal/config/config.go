package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
	SIP        SIPConfig        `mapstructure:"sip"`
	Reaper     ReaperConfig     `mapstructure:"reaper"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ClientID     string   `mapstructure:"client_id"`
	OutcomeTopic string   `mapstructure:"outcome_topic"`
	Partitions   int      `mapstructure:"partitions"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
}

type ThrottleConfig struct {
	PerOwner int           `mapstructure:"per_owner"`
	SlotTTL  time.Duration `mapstructure:"slot_ttl"`
}

// CallBridgeConfig drives the login, trigger and rendezvous steps.
type CallBridgeConfig struct {
	ProviderName       string        `mapstructure:"provider_name"`
	HTTPStepTimeout    time.Duration `mapstructure:"http_step_timeout"`
	// RendezvousDeadline bounds the wait for the callback. It counts from
	// the moment the provider accepted the call request.
	RendezvousDeadline time.Duration `mapstructure:"rendezvous_deadline"`
	PrefixLength       int           `mapstructure:"prefix_length"`
	MarkerHeader       string        `mapstructure:"marker_header"`
	UserAgent          string        `mapstructure:"user_agent"`
	PreLoginURL        string        `mapstructure:"pre_login_url"`
	AuthURL            string        `mapstructure:"auth_url"`
	HomeURL            string        `mapstructure:"home_url"`
	CallURL            string        `mapstructure:"call_url"`
	PhoneType          string        `mapstructure:"phone_type"`
}

// SIPConfig configures the inbound signaling listener.
type SIPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Network      string        `mapstructure:"network"`
	Address      string        `mapstructure:"address"`
	UserAgent    string        `mapstructure:"user_agent"`
	AnswerWindow time.Duration `mapstructure:"answer_window"`
}

// ReaperConfig controls the sweep that closes attempts left open by a
// crashed process.
type ReaperConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Grace     time.Duration `mapstructure:"grace"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	v.SetDefault("call_bridge.prefix_length", 1)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills unset values.
func ApplyDefaults(cfg *Config) {
	cb := &cfg.CallBridge
	if cb.ProviderName == "" {
		cb.ProviderName = "web"
	}
	if cb.HTTPStepTimeout <= 0 {
		cb.HTTPStepTimeout = 5 * time.Second
	}
	if cb.RendezvousDeadline <= 0 {
		cb.RendezvousDeadline = 30 * time.Second
	}
	// zero is a valid prefix length; only the file default sets 1
	if cb.PrefixLength < 0 {
		cb.PrefixLength = 0
	}
	if cb.MarkerHeader == "" {
		cb.MarkerHeader = "Diversion"
	}
	if cb.PreLoginURL == "" {
		cb.PreLoginURL = "https://accounts.google.com/ServiceLogin?service=grandcentral"
	}
	if cb.AuthURL == "" {
		cb.AuthURL = "https://accounts.google.com/ServiceLoginAuth?service=grandcentral"
	}
	if cb.HomeURL == "" {
		cb.HomeURL = "https://www.google.com/voice/"
	}
	if cb.CallURL == "" {
		cb.CallURL = "https://www.google.com/voice/call/connect/"
	}
	if cb.PhoneType == "" {
		cb.PhoneType = "2"
	}

	if cfg.Throttle.PerOwner <= 0 {
		cfg.Throttle.PerOwner = 1
	}
	if cfg.Throttle.SlotTTL <= 0 {
		cfg.Throttle.SlotTTL = 2 * time.Minute
	}

	if cfg.SIP.Network == "" {
		cfg.SIP.Network = "udp"
	}
	if cfg.SIP.Address == "" {
		cfg.SIP.Address = "0.0.0.0:5060"
	}
	if cfg.SIP.AnswerWindow <= 0 {
		cfg.SIP.AnswerWindow = 10 * time.Second
	}

	if cfg.Reaper.Interval <= 0 {
		cfg.Reaper.Interval = time.Minute
	}
	if cfg.Reaper.Grace <= 0 {
		cfg.Reaper.Grace = 2 * time.Minute
	}
	if cfg.Reaper.BatchSize <= 0 {
		cfg.Reaper.BatchSize = 100
	}

	if cfg.Kafka.OutcomeTopic == "" {
		cfg.Kafka.OutcomeTopic = "bridge.outcomes"
	}
	if cfg.Kafka.Partitions <= 0 {
		cfg.Kafka.Partitions = 12
	}
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
