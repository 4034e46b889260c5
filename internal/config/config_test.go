package config_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/waabox/deviceauth/internal/config"
	"github.com/waabox/deviceauth/internal/domain"
)

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
provider = "google"

[device]
client_id = "cid.apps.example.com"
scope = "profile email"

[jwt]
issuer = "svc@example.iam"
token_url = "https://oauth2.example.com/token"

[session]
access_token = "ya29.a"
refresh_token = "1//r"
expires_at = 2026-03-01T12:00:00Z
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "google" {
		t.Errorf("expected provider 'google', got '%s'", cfg.Provider)
	}
	if cfg.Device.ClientID != "cid.apps.example.com" {
		t.Errorf("expected client id 'cid.apps.example.com', got '%s'", cfg.Device.ClientID)
	}
	if cfg.Device.Scope != "profile email" {
		t.Errorf("expected scope 'profile email', got '%s'", cfg.Device.Scope)
	}
	if cfg.JWT.Issuer != "svc@example.iam" {
		t.Errorf("expected issuer 'svc@example.iam', got '%s'", cfg.JWT.Issuer)
	}
	record := cfg.Session.Record()
	if record.RefreshToken != "1//r" {
		t.Errorf("expected refresh token '1//r', got '%s'", record.RefreshToken)
	}
	if !record.ExpiresAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected expiry: %v", record.ExpiresAt)
	}
}

func TestLoad_EnvVarsTakePrecedence(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	content := `
[device]
client_id = "from_file"
token_url = "https://file.example.com/token"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DEVICEAUTH_CLIENT_ID", "from_env")
	t.Setenv("DEVICEAUTH_LOGIN_URL", "https://env.example.com/device")
	t.Setenv("DEVICEAUTH_PROVIDER", "gitlab")

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Device.ClientID != "from_env" {
		t.Errorf("expected env client id 'from_env', got '%s'", cfg.Device.ClientID)
	}
	if cfg.Device.LoginURL != "https://env.example.com/device" {
		t.Errorf("expected env login url, got '%s'", cfg.Device.LoginURL)
	}
	if cfg.Device.TokenURL != "https://file.example.com/token" {
		t.Errorf("expected file token url to survive, got '%s'", cfg.Device.TokenURL)
	}
	if cfg.Provider != "gitlab" {
		t.Errorf("expected env provider 'gitlab', got '%s'", cfg.Provider)
	}
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	t.Setenv("DEVICEAUTH_CLIENT_ID", "only_env")
	cfg, err := config.LoadFrom("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("missing file should not be an error, got: %v", err)
	}
	if cfg.Device.ClientID != "only_env" {
		t.Errorf("expected client id from env, got '%s'", cfg.Device.ClientID)
	}
}

func TestSave_RoundTripsSessionWithPrivatePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

	cfg := config.Config{Device: config.DeviceConfig{ClientID: "cid"}}
	cfg.Session = config.SessionFromRecord(domain.TokenRecord{AccessToken: "a", RefreshToken: "r", ExpiresAt: expires})
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 permissions, got %o", perm)
	}

	loaded, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("loading saved config: %v", err)
	}
	got := loaded.Session.Record()
	if got.AccessToken != "a" || got.RefreshToken != "r" {
		t.Errorf("session tokens mismatch: got %+v", got)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires at: want %v, got %v", expires, got.ExpiresAt)
	}
}

func writeKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestLoadPrivateKey_PEMAndServiceAccountJSON(t *testing.T) {
	key, pemBytes := writeKey(t)
	dir := t.TempDir()

	pemPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(pemPath, pemBytes, 0600); err != nil {
		t.Fatal(err)
	}
	jsonPath := filepath.Join(dir, "sa.json")
	raw, _ := json.Marshal(map[string]string{"client_email": "svc@example.iam", "private_key": string(pemBytes)})
	if err := os.WriteFile(jsonPath, raw, 0600); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{pemPath, jsonPath} {
		loaded, err := config.LoadPrivateKey(path)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", path, err)
		}
		if !loaded.Equal(key) {
			t.Errorf("%s: loaded key does not match", path)
		}
	}
}

func TestLoadPrivateKey_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadPrivateKey(path); err == nil {
		t.Fatal("expected error for invalid key, got nil")
	}
}

func TestValidate_ReportsFirstMissingField(t *testing.T) {
	device := config.DeviceConfig{ClientID: "id", LoginURL: "https://x/code"}
	err := device.Validate()
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if err.Error() != "invalid configuration: device.token_url is required" {
		t.Errorf("unexpected message: %v", err)
	}

	device.TokenURL = "https://x/token"
	if err := device.Validate(); err != nil {
		t.Errorf("expected valid device config, got %v", err)
	}

	if err := (config.JWTConfig{}).Validate(); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration for empty jwt config, got %v", err)
	}
}

func TestSaveSession_KeepsRuntimeValuesOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
provider = "google"

[device]
client_id = "cid"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEVICEAUTH_CLIENT_SECRET", "from_env")

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Device.LoginURL = "https://preset.example.com/device/code"
	cfg.Session = config.SessionConfig{AccessToken: "a", RefreshToken: "r"}

	if err := config.SaveSession(path, cfg.Session); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "from_env") {
		t.Errorf("env client secret was written to the file:\n%s", raw)
	}
	if strings.Contains(string(raw), "preset.example.com") {
		t.Errorf("preset login URL was written to the file:\n%s", raw)
	}

	loaded, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("loading saved config: %v", err)
	}
	if loaded.Device.ClientID != "cid" || loaded.Provider != "google" {
		t.Errorf("expected file values kept, got %+v", loaded)
	}
	if loaded.Session.RefreshToken != "r" {
		t.Errorf("expected refresh token 'r', got '%s'", loaded.Session.RefreshToken)
	}
}

func TestSaveSession_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new", "config.toml")

	if err := config.SaveSession(path, config.SessionConfig{AccessToken: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("loading saved config: %v", err)
	}
	if loaded.Session.AccessToken != "a" {
		t.Errorf("expected access token 'a', got '%s'", loaded.Session.AccessToken)
	}
}
