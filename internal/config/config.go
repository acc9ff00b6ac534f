// Package config holds the subscriber's runtime configuration: the
// subscription being pulled, the stream's ack-deadline defaults, flow
// control bounds, and the usual ambient knobs (logging, tracing, metrics).
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StreamConfig holds the streaming-pull-specific settings described in
// spec.md §3 and §6.
type StreamConfig struct {
	Subscription string `json:"subscription" yaml:"subscription"` // full subscription name
	Endpoint     string `json:"endpoint" yaml:"endpoint"`          // host:port of the pub/sub service
	Insecure     bool   `json:"insecure" yaml:"insecure"`          // skip TLS (local/test transports)

	// MinAckDeadline/MaxAckDeadline/InitialAckDeadline bound the stream-wide
	// ack deadline (spec.md §3, §6).
	MinAckDeadlineSeconds     int `json:"min_ack_deadline_seconds" yaml:"min_ack_deadline_seconds"`
	MaxAckDeadlineSeconds     int `json:"max_ack_deadline_seconds" yaml:"max_ack_deadline_seconds"`
	InitialAckDeadlineSeconds int `json:"initial_ack_deadline_seconds" yaml:"initial_ack_deadline_seconds"`

	// AckDeadlinePaddingSeconds is the user-configured safety margin
	// subtracted from a lease's expiration when scheduling the extension
	// sweep (the GLOSSARY's "Padding"). It also floors the initial stream
	// ack deadline (spec.md §3).
	AckDeadlinePaddingSeconds int `json:"ack_deadline_padding_seconds" yaml:"ack_deadline_padding_seconds"`

	// MaxOutstandingMessages/MaxOutstandingBytes bound the default flow
	// controller (spec.md §6's Flow Controller contract).
	MaxOutstandingMessages int   `json:"max_outstanding_messages" yaml:"max_outstanding_messages"`
	MaxOutstandingBytes    int64 `json:"max_outstanding_bytes" yaml:"max_outstanding_bytes"`

	// NumDispatchWorkers bounds how many receiver invocations run
	// concurrently across all inbound frames (see
	// internal/subscriber/dispatcher.go).
	NumDispatchWorkers int `json:"num_dispatch_workers" yaml:"num_dispatch_workers"`
}

// BackoffConfig configures the stream supervisor's reconnect backoff
// (spec.md §3's Reconnect Backoff, §8's Backoff monotonicity property).
type BackoffConfig struct {
	Initial time.Duration `json:"initial" yaml:"initial"` // default: 100ms
	Max     time.Duration `json:"max" yaml:"max"`         // ceiling applied by internal/backoffx
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"` // otlp-http (or otlp), stdout
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text, json
}

// ObservabilityConfig groups the ambient observability knobs.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// CredentialsConfig configures the default per-call credentials provider
// (internal/credentials). Hosts needing a different scheme can supply
// their own credentials.Provider via the Subscriber's functional options
// and leave this disabled.
type CredentialsConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Algorithm string        `json:"algorithm" yaml:"algorithm"` // HS256
	Secret    string        `json:"secret" yaml:"secret"`
	Issuer    string        `json:"issuer" yaml:"issuer"`
	Subject   string        `json:"subject" yaml:"subject"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

// Config is the central configuration struct for a vegapull subscriber.
type Config struct {
	Stream        StreamConfig        `json:"stream" yaml:"stream"`
	Backoff       BackoffConfig       `json:"backoff" yaml:"backoff"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	Credentials   CredentialsConfig   `json:"credentials" yaml:"credentials"`
}

// DefaultConfig returns a Config with the constants named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Stream: StreamConfig{
			MinAckDeadlineSeconds:     10,
			MaxAckDeadlineSeconds:     600,
			InitialAckDeadlineSeconds: 10,
			AckDeadlinePaddingSeconds: 3,
			MaxOutstandingMessages:    1000,
			MaxOutstandingBytes:       1 << 30, // 1 GiB
			NumDispatchWorkers:        10,
		},
		Backoff: BackoffConfig{
			Initial: 100 * time.Millisecond,
			Max:     10 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "vegapull",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "vegapull",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		Credentials: CredentialsConfig{
			Enabled:   false,
			Algorithm: "HS256",
			TTL:       time.Hour,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file (selected by
// extension) layered on top of DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VEGA_SUBSCRIPTION"); v != "" {
		cfg.Stream.Subscription = v
	}
	if v := os.Getenv("VEGA_ENDPOINT"); v != "" {
		cfg.Stream.Endpoint = v
	}
	if v := os.Getenv("VEGA_INSECURE"); v != "" {
		cfg.Stream.Insecure = parseBool(v)
	}
	if v := os.Getenv("VEGA_ACK_DEADLINE_PADDING_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.AckDeadlinePaddingSeconds = n
		}
	}
	if v := os.Getenv("VEGA_MAX_OUTSTANDING_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxOutstandingMessages = n
		}
	}
	if v := os.Getenv("VEGA_MAX_OUTSTANDING_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Stream.MaxOutstandingBytes = n
		}
	}
	if v := os.Getenv("VEGA_NUM_DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.NumDispatchWorkers = n
		}
	}
	if v := os.Getenv("VEGA_BACKOFF_INITIAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backoff.Initial = d
		}
	}
	if v := os.Getenv("VEGA_BACKOFF_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backoff.Max = d
		}
	}
	if v := os.Getenv("VEGA_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("VEGA_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("VEGA_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("VEGA_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("VEGA_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("VEGA_CREDENTIALS_ENABLED"); v != "" {
		cfg.Credentials.Enabled = parseBool(v)
	}
	if v := os.Getenv("VEGA_CREDENTIALS_SECRET"); v != "" {
		cfg.Credentials.Secret = v
		cfg.Credentials.Enabled = true
	}
}

// Validate applies the clamps spec.md §3 requires and rejects
// configuration that can never satisfy them.
func (c *Config) Validate() error {
	if c.Stream.Subscription == "" {
		return errMissingField("stream.subscription")
	}
	if c.Stream.Endpoint == "" {
		return errMissingField("stream.endpoint")
	}
	if c.Stream.MinAckDeadlineSeconds <= 0 {
		c.Stream.MinAckDeadlineSeconds = 10
	}
	if c.Stream.MaxAckDeadlineSeconds < c.Stream.MinAckDeadlineSeconds {
		c.Stream.MaxAckDeadlineSeconds = 600
	}
	if c.Stream.InitialAckDeadlineSeconds < c.Stream.MinAckDeadlineSeconds {
		c.Stream.InitialAckDeadlineSeconds = c.Stream.MinAckDeadlineSeconds
	}
	if c.Stream.AckDeadlinePaddingSeconds < 0 {
		c.Stream.AckDeadlinePaddingSeconds = 0
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = 100 * time.Millisecond
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = 10 * time.Second
	}
	return nil
}

type missingFieldError string

func (e missingFieldError) Error() string { return "config: missing required field " + string(e) }

func errMissingField(name string) error { return missingFieldError(name) }

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
