// Package config loads application settings for stream clients from a YAML
// file and AISTREAM_* environment variables.
package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/chancetop/aistream-go/pkg/client"
	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/observability"
	"github.com/chancetop/aistream-go/pkg/transport"
)

// EnvPrefix prefixes every environment variable, e.g. AISTREAM_CLIENT_BASE_URL.
const EnvPrefix = "AISTREAM"

// File is the root of the configuration file.
type File struct {
	Client  ClientConfig  `mapstructure:"client"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ClientConfig mirrors client.Config.
type ClientConfig struct {
	BaseURL            string            `mapstructure:"base_url"`
	Headers            map[string]string `mapstructure:"headers"`
	LoggerURL          string            `mapstructure:"logger_url"`
	LoggerAppName      string            `mapstructure:"logger_app_name"`
	RetryAttempts      int               `mapstructure:"retry_attempts"`
	AcceptMessageTypes []string          `mapstructure:"accept_message_types"`
	StrictMessageTypes bool              `mapstructure:"strict_message_types"`
	Reconnect          ReconnectConfig   `mapstructure:"reconnect"`
}

// ReconnectConfig mirrors transport.ReconnectConfig. Durations use Go syntax
// such as "500ms" or "30s".
type ReconnectConfig struct {
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	Jitter        float64       `mapstructure:"jitter"`
}

// LoggingConfig selects the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Path        string `mapstructure:"path"`
	Namespace   string `mapstructure:"namespace"`
	ServiceName string `mapstructure:"service_name"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Exporter    string            `mapstructure:"exporter"`
	Endpoint    string            `mapstructure:"endpoint"`
	Headers     map[string]string `mapstructure:"headers"`
	Insecure    bool              `mapstructure:"insecure"`
	SampleRate  float64           `mapstructure:"sample_rate"`
	ServiceName string            `mapstructure:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() File {
	reconnect := transport.DefaultConfig().Reconnect
	return File{
		Client: ClientConfig{
			LoggerAppName:      logging.DefaultAppName,
			RetryAttempts:      client.DefaultRetryAttempts,
			AcceptMessageTypes: client.DefaultConfig().AcceptMessageTypes,
			Reconnect: ReconnectConfig{
				InitialDelay:  reconnect.InitialDelay,
				MaxDelay:      reconnect.MaxDelay,
				BackoffFactor: reconnect.BackoffFactor,
				Jitter:        reconnect.Jitter,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Path:      "/metrics",
			Namespace: "aistream",
		},
		Tracing: TracingConfig{
			Exporter:    string(observability.ExporterTypeNoop),
			SampleRate:  1.0,
			ServiceName: "aistream-client",
		},
	}
}

// Loader reads a File with viper. Flags can be bound through Viper before
// Load is called.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for the YAML file at path. An empty path skips
// the file and uses defaults and environment variables only.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	return &Loader{v: v, path: path}
}

// Viper exposes the underlying instance, for BindPFlag.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads, merges and validates the configuration.
func (l *Loader) Load() (*File, error) {
	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg File
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration at path. See Loader.
func Load(path string) (*File, error) {
	return NewLoader(path).Load()
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d File) {
	v.SetDefault("client.base_url", d.Client.BaseURL)
	v.SetDefault("client.logger_url", d.Client.LoggerURL)
	v.SetDefault("client.logger_app_name", d.Client.LoggerAppName)
	v.SetDefault("client.retry_attempts", d.Client.RetryAttempts)
	v.SetDefault("client.accept_message_types", d.Client.AcceptMessageTypes)
	v.SetDefault("client.strict_message_types", d.Client.StrictMessageTypes)
	v.SetDefault("client.reconnect.initial_delay", d.Client.Reconnect.InitialDelay)
	v.SetDefault("client.reconnect.max_delay", d.Client.Reconnect.MaxDelay)
	v.SetDefault("client.reconnect.backoff_factor", d.Client.Reconnect.BackoffFactor)
	v.SetDefault("client.reconnect.jitter", d.Client.Reconnect.Jitter)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.service_name", d.Metrics.ServiceName)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Validate reports every invalid field.
func (f *File) Validate() error {
	var errs []error

	if f.Client.BaseURL != "" {
		if err := validateHTTPURL(f.Client.BaseURL); err != nil {
			errs = append(errs, streamerrors.InvalidConfig("client.base_url", err.Error()))
		}
	}
	if f.Client.LoggerURL != "" {
		if err := validateHTTPURL(f.Client.LoggerURL); err != nil {
			errs = append(errs, streamerrors.InvalidConfig("client.logger_url", err.Error()))
		}
	}
	if f.Client.RetryAttempts < 0 {
		errs = append(errs, streamerrors.InvalidConfig("client.retry_attempts", "must not be negative"))
	}
	if r := f.Client.Reconnect; r.BackoffFactor != 0 && r.BackoffFactor < 1 {
		errs = append(errs, streamerrors.InvalidConfig("client.reconnect.backoff_factor", "must be at least 1"))
	}
	if r := f.Client.Reconnect; r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay {
		errs = append(errs, streamerrors.InvalidConfig("client.reconnect.initial_delay", "exceeds max_delay"))
	}

	if _, err := logging.ParseLevel(f.Logging.Level); err != nil {
		errs = append(errs, streamerrors.InvalidConfig("logging.level", err.Error()))
	}
	if f.Logging.Format != "text" && f.Logging.Format != "json" {
		errs = append(errs, streamerrors.InvalidConfig("logging.format", "must be text or json"))
	}

	switch observability.ExporterType(f.Tracing.Exporter) {
	case observability.ExporterTypeNoop, observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
	default:
		errs = append(errs, streamerrors.InvalidConfig("tracing.exporter",
			fmt.Sprintf("unsupported exporter %q", f.Tracing.Exporter)))
	}
	if f.Tracing.SampleRate < 0 || f.Tracing.SampleRate > 1 {
		errs = append(errs, streamerrors.InvalidConfig("tracing.sample_rate", "must be between 0 and 1"))
	}

	return stderrors.Join(errs...)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// ClientConfig converts the client section into a client.Config.
// Callbacks and options are left for the caller.
func (f *File) ClientConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.BaseURL = f.Client.BaseURL
	cfg.Headers = f.Client.Headers
	cfg.LoggerURL = f.Client.LoggerURL
	if f.Client.LoggerAppName != "" {
		cfg.LoggerAppName = f.Client.LoggerAppName
	}
	if f.Client.RetryAttempts > 0 {
		cfg.RetryAttempts = f.Client.RetryAttempts
	}
	if len(f.Client.AcceptMessageTypes) > 0 {
		cfg.AcceptMessageTypes = f.Client.AcceptMessageTypes
	}
	cfg.StrictMessageTypes = f.Client.StrictMessageTypes
	cfg.Reconnect = transport.ReconnectConfig{
		InitialDelay:  f.Client.Reconnect.InitialDelay,
		MaxDelay:      f.Client.Reconnect.MaxDelay,
		BackoffFactor: f.Client.Reconnect.BackoffFactor,
		Jitter:        f.Client.Reconnect.Jitter,
	}
	return cfg
}

// Logger builds the zap-backed structured logger.
func (f *File) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(f.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewZapLogger(logging.NewZap(level, f.Logging.Format))
	logger.SetLevel(level)
	return logger, nil
}

// MetricsProviderConfig converts the metrics section.
func (f *File) MetricsProviderConfig() observability.MetricsConfig {
	return observability.MetricsConfig{
		ServiceName: f.Metrics.ServiceName,
		MetricsAddr: f.Metrics.Addr,
		MetricsPath: f.Metrics.Path,
		Namespace:   f.Metrics.Namespace,
	}
}

// TracingProviderConfig converts the tracing section.
func (f *File) TracingProviderConfig() observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:  f.Tracing.ServiceName,
		ExporterType: observability.ExporterType(f.Tracing.Exporter),
		Endpoint:     f.Tracing.Endpoint,
		Headers:      f.Tracing.Headers,
		Insecure:     f.Tracing.Insecure,
		SampleRate:   f.Tracing.SampleRate,
	}
}
