// Package config provides the configuration schema, loader, and file watcher
// for the live-translate client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto the corresponding slog level. Unknown levels map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the client. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader], then overlaid
// with environment variables via [ApplyEnv].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Transcribe  TranscribeConfig  `yaml:"transcribe"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig locates the relay broker.
type ServerConfig struct {
	// URL is the broker endpoint. http/https schemes are translated to
	// ws/wss when the connection is dialled.
	URL string `yaml:"url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig selects the capture device.
type AudioConfig struct {
	// Device is a capture device name or numeric index. Empty selects the
	// system default input.
	Device string `yaml:"device"`
}

// CredentialsConfig controls how transcription credentials are obtained.
type CredentialsConfig struct {
	// APIKey authenticates this client with the broker.
	APIKey string `yaml:"api_key"`

	// Region is the fallback cloud region when the broker response does
	// not name one.
	Region string `yaml:"region"`

	// UseLocal bypasses broker-issued credentials and runs the
	// transcription provider on the ambient credential chain.
	UseLocal bool `yaml:"use_local"`

	// RefreshInterval is the proactive token refresh period.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// TranscribeConfig selects transcription parameters.
type TranscribeConfig struct {
	// Language is the transcription language code, e.g. "en-GB".
	Language string `yaml:"language"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address serving /metrics (e.g. ":9090").
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Credentials: CredentialsConfig{
			Region:          "eu-west-2",
			RefreshInterval: 20 * time.Minute,
		},
		Transcribe: TranscribeConfig{
			Language: "en-GB",
		},
	}
}
