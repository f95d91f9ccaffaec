// Package config handles vidscout configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendURLEnv overrides backend.url when set. It plays the role of the
// build-time API base URL a bundled frontend would carry.
const BackendURLEnv = "VIDSCOUT_BACKEND_URL"

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/vidscout/config.yaml, /etc/vidscout/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vidscout", "config.yaml"))
	}

	paths = append(paths, "/etc/vidscout/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all vidscout configuration.
type Config struct {
	Backend     BackendConfig `yaml:"backend"`
	Health      HealthConfig  `yaml:"health"`
	Listen      ListenConfig  `yaml:"listen"`
	MediaDir    string        `yaml:"media_dir"`
	MaxUploadMB int64         `yaml:"max_upload_mb"`
	OpenBrowser bool          `yaml:"open_browser"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
}

// BackendConfig points at the video search service.
type BackendConfig struct {
	URL string `yaml:"url"`
	// Timeout bounds health, search, catalog, and subtitle requests.
	Timeout time.Duration `yaml:"timeout"`
	// UploadTimeout bounds the upload-and-process request, which covers
	// transcription and embedding on the backend and can take minutes.
	// Zero disables the limit.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// HealthConfig controls the liveness probe schedule.
type HealthConfig struct {
	// RetryInterval is the delay between probes while the backend has
	// never answered (default 5s).
	RetryInterval time.Duration `yaml:"retry_interval"`
	// PollInterval keeps probing after the backend first answers, for
	// the status badge only. Zero disables it.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ProbeTimeout limits a single probe (default 5s).
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ListenConfig defines the local web UI listener.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: 127.0.0.1)
	Port    int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Address, l.Port)
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg.finish()
}

// LoadDefault returns the built-in configuration with environment
// overrides applied. It is used when no config file exists.
func LoadDefault() (*Config, error) {
	return Default().finish()
}

func (c *Config) finish() (*Config, error) {
	if v := os.Getenv(BackendURLEnv); v != "" {
		c.Backend.URL = v
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:           "http://localhost:8000",
			Timeout:       30 * time.Second,
			UploadTimeout: 30 * time.Minute,
		},
		Health: HealthConfig{
			RetryInterval: 5 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Listen:      ListenConfig{Address: "127.0.0.1", Port: 8080},
		MediaDir:    filepath.Join(os.TempDir(), "vidscout"),
		MaxUploadMB: 2048,
	}
}

// applyDefaults fills zero values left behind by a sparse YAML file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = d.Backend.Timeout
	}
	if c.Health.RetryInterval <= 0 {
		c.Health.RetryInterval = d.Health.RetryInterval
	}
	if c.Health.ProbeTimeout <= 0 {
		c.Health.ProbeTimeout = d.Health.ProbeTimeout
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.MediaDir == "" {
		c.MediaDir = d.MediaDir
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = d.MaxUploadMB
	}
	c.Backend.URL = strings.TrimRight(c.Backend.URL, "/")
}

// Validate checks the configuration for values that would make the
// client unusable.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required (or set %s)", BackendURLEnv)
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url %q: %w", c.Backend.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url %q: scheme must be http or https", c.Backend.URL)
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Health.PollInterval < 0 {
		return fmt.Errorf("health.poll_interval must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}
