package config

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	"github.com/waabox/deviceauth/internal/domain"
)

// DeviceConfig holds the client registration used by the device flow.
type DeviceConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Scope        string `toml:"scope"`
	LoginURL     string `toml:"login_url"`
	TokenURL     string `toml:"token_url"`
	GrantType    string `toml:"grant_type"`
}

// JWTConfig holds the service identity used by the JWT-bearer exchange.
type JWTConfig struct {
	Issuer         string `toml:"issuer"`
	Subject        string `toml:"subject"`
	Scope          string `toml:"scope"`
	Audience       string `toml:"audience"`
	TokenURL       string `toml:"token_url"`
	PrivateKeyFile string `toml:"private_key_file"`
}

// SessionConfig is the persisted token record of the device flow.
type SessionConfig struct {
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	ExpiresAt    time.Time `toml:"expires_at"`
}

// Config holds all deviceauth configuration.
type Config struct {
	// Provider names an endpoint preset (google, github, gitlab, microsoft).
	Provider string        `toml:"provider"`
	Device   DeviceConfig  `toml:"device"`
	JWT      JWTConfig     `toml:"jwt"`
	Session  SessionConfig `toml:"session"`
}

// envOverrides holds the environment variables that take precedence over the file.
type envOverrides struct {
	Provider       string `env:"DEVICEAUTH_PROVIDER"`
	ClientID       string `env:"DEVICEAUTH_CLIENT_ID"`
	ClientSecret   string `env:"DEVICEAUTH_CLIENT_SECRET"`
	Scope          string `env:"DEVICEAUTH_SCOPE"`
	LoginURL       string `env:"DEVICEAUTH_LOGIN_URL"`
	TokenURL       string `env:"DEVICEAUTH_TOKEN_URL"`
	PrivateKeyFile string `env:"DEVICEAUTH_JWT_PRIVATE_KEY_FILE"`
}

// Record converts the persisted session into a token record.
func (s SessionConfig) Record() domain.TokenRecord {
	return domain.TokenRecord{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
}

// SessionFromRecord converts a token record into its persisted form.
func SessionFromRecord(r domain.TokenRecord) SessionConfig {
	return SessionConfig{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt.UTC(),
	}
}

// Validate reports the first field the device flow cannot run without.
func (d DeviceConfig) Validate() error {
	return requireFields("device",
		field{"client_id", d.ClientID},
		field{"login_url", d.LoginURL},
		field{"token_url", d.TokenURL},
	)
}

// Validate reports the first field the JWT-bearer exchange cannot run without.
func (j JWTConfig) Validate() error {
	return requireFields("jwt",
		field{"issuer", j.Issuer},
		field{"token_url", j.TokenURL},
		field{"private_key_file", j.PrivateKeyFile},
	)
}

type field struct{ name, value string }

func requireFields(section string, fields ...field) error {
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%w: %s.%s is required", domain.ErrInvalidConfiguration, section, f.name)
		}
	}
	return nil
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// DEVICEAUTH_* environment variables always take precedence over file values.
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default path for the deviceauth config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "deviceauth", "config.toml")
}

func applyEnvOverrides(cfg *Config) error {
	var raw envOverrides
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	override(&cfg.Provider, raw.Provider)
	override(&cfg.Device.ClientID, raw.ClientID)
	override(&cfg.Device.ClientSecret, raw.ClientSecret)
	override(&cfg.Device.Scope, raw.Scope)
	override(&cfg.Device.LoginURL, raw.LoginURL)
	override(&cfg.Device.TokenURL, raw.TokenURL)
	override(&cfg.JWT.PrivateKeyFile, raw.PrivateKeyFile)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}

// SaveSession replaces the [session] table of the file at path. Every other
// value is kept as it is on disk, so environment overrides and provider
// presets applied at load time are never written back.
func SaveSession(path string, session SessionConfig) error {
	var onDisk Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &onDisk); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	onDisk.Session = session
	return Save(path, onDisk)
}

// LoadPrivateKey reads an RSA private key from a PEM file or from the
// private_key field of a JSON service-account key file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if filepath.Ext(path) == ".json" {
		var sa struct {
			PrivateKey string `json:"private_key"`
		}
		if err := json.Unmarshal(raw, &sa); err != nil {
			return nil, fmt.Errorf("decoding service account file: %w", err)
		}
		raw = []byte(sa.PrivateKey)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return key, nil
}
