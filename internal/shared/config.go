package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	HTTP        HTTPConfig        `toml:"http"`
	Sync        SyncConfig        `toml:"sync"`
}

// CredentialsConfig contains provider OAuth client settings keyed by provider.
type CredentialsConfig struct {
	Spotify ProviderConfig `toml:"spotify"`
	YouTube ProviderConfig `toml:"youtube"`
}

// ProviderConfig holds the OAuth client and endpoint settings for one provider.
//
// Empty endpoint fields fall back to the provider's public endpoints.
type ProviderConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
	APIBaseURL   string   `toml:"api_base_url"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
}

// Configured reports whether client credentials are present.
func (p ProviderConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path          string `toml:"path"`
	MaxOpenConns  int    `toml:"max_open_conns"`
	MaxIdleConns  int    `toml:"max_idle_conns"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HTTPConfig bounds every outbound provider call.
type HTTPConfig struct {
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxAttempts       int     `toml:"max_attempts"`
	InitialBackoffMS  int     `toml:"initial_backoff_ms"`
	MaxBackoffMS      int     `toml:"max_backoff_ms"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

func (h HTTPConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func (h HTTPConfig) InitialBackoff() time.Duration {
	return time.Duration(h.InitialBackoffMS) * time.Millisecond
}

func (h HTTPConfig) MaxBackoff() time.Duration {
	return time.Duration(h.MaxBackoffMS) * time.Millisecond
}

// SyncConfig contains reconciliation and credential lifecycle settings.
type SyncConfig struct {
	Schedule            string `toml:"schedule"`
	Concurrency         int    `toml:"concurrency"`
	ExpiryMarginSeconds int    `toml:"expiry_margin_seconds"`
	StateTTLSeconds     int    `toml:"state_ttl_seconds"`
	RefreshMetadata     bool   `toml:"refresh_metadata"`
	PruneOrphanSources  bool   `toml:"prune_orphan_sources"`
}

func (s SyncConfig) ExpiryMargin() time.Duration {
	return time.Duration(s.ExpiryMarginSeconds) * time.Second
}

func (s SyncConfig) StateTTL() time.Duration {
	return time.Duration(s.StateTTLSeconds) * time.Second
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv reads .env files (when present) into the process environment.
// A missing file is not an error.
func LoadEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv overlays UNIVERSAL_* environment variables onto the config.
func (c *Config) ApplyEnv() {
	overlay := map[string]*string{
		"UNIVERSAL_SPOTIFY_CLIENT_ID":     &c.Credentials.Spotify.ClientID,
		"UNIVERSAL_SPOTIFY_CLIENT_SECRET": &c.Credentials.Spotify.ClientSecret,
		"UNIVERSAL_SPOTIFY_REDIRECT_URI":  &c.Credentials.Spotify.RedirectURI,
		"UNIVERSAL_YOUTUBE_CLIENT_ID":     &c.Credentials.YouTube.ClientID,
		"UNIVERSAL_YOUTUBE_CLIENT_SECRET": &c.Credentials.YouTube.ClientSecret,
		"UNIVERSAL_YOUTUBE_REDIRECT_URI":  &c.Credentials.YouTube.RedirectURI,
		"UNIVERSAL_DATABASE_PATH":         &c.Database.Path,
	}
	for key, dst := range overlay {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path is empty", ErrInvalidConfig)
	case c.HTTP.MaxAttempts < 1:
		return fmt.Errorf("%w: http.max_attempts must be at least 1", ErrInvalidConfig)
	case c.HTTP.TimeoutSeconds < 1:
		return fmt.Errorf("%w: http.timeout_seconds must be positive", ErrInvalidConfig)
	case c.Sync.Concurrency < 1:
		return fmt.Errorf("%w: sync.concurrency must be at least 1", ErrInvalidConfig)
	case c.Sync.ExpiryMarginSeconds < 0:
		return fmt.Errorf("%w: sync.expiry_margin_seconds must not be negative", ErrInvalidConfig)
	}
	return nil
}
