package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by [ApplyEnv].
const (
	// EnvAPIKey carries the broker API key; typically supplied via .env.
	EnvAPIKey = "API_KEY"

	// EnvRegion overrides the fallback cloud region.
	EnvRegion = "AWS_DEFAULT_REGION"

	// EnvLocalToken, when truthy, switches to the ambient credential chain.
	EnvLocalToken = "LT_LOCAL_TOKEN"

	// EnvAudioDevice overrides the capture device name or index.
	EnvAudioDevice = "LT_AUDIO_DEVICE"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos fail loudly instead of being ignored.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Environment values take
// precedence over file values so deployments can override a shared file
// without editing it.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Credentials.APIKey = v
	}
	if v := os.Getenv(EnvRegion); v != "" {
		cfg.Credentials.Region = v
	}
	if v := os.Getenv(EnvLocalToken); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Credentials.UseLocal = b
		}
	}
	if v := os.Getenv(EnvAudioDevice); v != "" {
		cfg.Audio.Device = v
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Server.URL != "" {
		u, err := url.Parse(cfg.Server.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("server.url %q is not a valid URL: %w", cfg.Server.URL, err))
		} else {
			switch u.Scheme {
			case "http", "https", "ws", "wss":
			default:
				errs = append(errs, fmt.Errorf("server.url scheme %q is invalid; valid schemes: http, https, ws, wss", u.Scheme))
			}
		}
	}

	if cfg.Credentials.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("credentials.refresh_interval %v must not be negative", cfg.Credentials.RefreshInterval))
	}
	if cfg.Credentials.RefreshInterval > 0 && cfg.Credentials.RefreshInterval < time.Minute {
		errs = append(errs, fmt.Errorf("credentials.refresh_interval %v is below the 1m minimum", cfg.Credentials.RefreshInterval))
	}

	if cfg.Transcribe.Language == "" {
		errs = append(errs, errors.New("transcribe.language is required"))
	}

	return errors.Join(errs...)
}
