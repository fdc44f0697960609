// ABOUTME: Configuration loading and parsing for coven-operator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-operator configuration
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Journal   JournalConfig   `yaml:"journal"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig identifies the gateway and this client
type GatewayConfig struct {
	URL          string   `yaml:"url"`
	ClientID     string   `yaml:"client_id"`
	ClientName   string   `yaml:"client_name"`
	Scopes       []string `yaml:"scopes"`
	Capabilities []string `yaml:"capabilities"`
}

// AuthConfig holds the operator credential. Token takes precedence; when
// empty, a JWT is minted from jwt_secret with client_id as the subject.
type AuthConfig struct {
	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// TimeoutsConfig holds protocol timing configuration
type TimeoutsConfig struct {
	Request          time.Duration `yaml:"-"`
	Handshake        time.Duration `yaml:"-"`
	ReconnectInitial time.Duration `yaml:"-"`
	ReconnectMax     time.Duration `yaml:"-"`
	TickFallback     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RequestRaw          string `yaml:"request"`
	HandshakeRaw        string `yaml:"handshake"`
	ReconnectInitialRaw string `yaml:"reconnect_initial"`
	ReconnectMaxRaw     string `yaml:"reconnect_max"`
	TickFallbackRaw     string `yaml:"tick_fallback"`
}

// TailscaleConfig holds tsnet dialing configuration for gateways that only
// listen on a tailnet
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// JournalConfig holds the optional event journal configuration
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}

	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("gateway.url must use ws:// or wss://, got %q", u.Scheme)
	}

	if c.Gateway.ClientID == "" {
		return fmt.Errorf("gateway.client_id is required")
	}

	if c.Auth.Token == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.token or auth.jwt_secret is required")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when journal is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL, "auth.token_ttl"},
		{cfg.Timeouts.RequestRaw, &cfg.Timeouts.Request, "timeouts.request"},
		{cfg.Timeouts.HandshakeRaw, &cfg.Timeouts.Handshake, "timeouts.handshake"},
		{cfg.Timeouts.ReconnectInitialRaw, &cfg.Timeouts.ReconnectInitial, "timeouts.reconnect_initial"},
		{cfg.Timeouts.ReconnectMaxRaw, &cfg.Timeouts.ReconnectMax, "timeouts.reconnect_max"},
		{cfg.Timeouts.TickFallbackRaw, &cfg.Timeouts.TickFallback, "timeouts.tick_fallback"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
