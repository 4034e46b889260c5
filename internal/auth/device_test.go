package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/waabox/deviceauth/internal/auth"
	"github.com/waabox/deviceauth/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestExtractTokenResponse_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	prev := domain.TokenRecord{AccessToken: "old", RefreshToken: "keep_me", ExpiresAt: now}

	next, err := auth.ExtractTokenResponse(prev, []byte(`{"access_token":"new"}`), now, auth.DefaultTokenTTL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.AccessToken != "new" {
		t.Errorf("access token: want 'new', got '%s'", next.AccessToken)
	}
	if next.RefreshToken != "keep_me" {
		t.Errorf("refresh token: want 'keep_me', got '%s'", next.RefreshToken)
	}
	if !next.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("expires at: want %v, got %v", now.Add(time.Hour), next.ExpiresAt)
	}
}

func TestExtractTokenResponse_UsesExpiresIn(t *testing.T) {
	for _, body := range []string{
		`{"access_token":"a","refresh_token":"r","expires_in":90}`,
		`{"access_token":"a","refresh_token":"r","expires_in":"90"}`,
	} {
		next, err := auth.ExtractTokenResponse(domain.TokenRecord{}, []byte(body), now, auth.DefaultTokenTTL)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", body, err)
		}
		if !next.ExpiresAt.Equal(now.Add(90 * time.Second)) {
			t.Errorf("expires at: want +90s, got %v", next.ExpiresAt.Sub(now))
		}
		if next.RefreshToken != "r" {
			t.Errorf("refresh token: want 'r', got '%s'", next.RefreshToken)
		}
	}
}

func TestExtractTokenResponse_RequiresAccessToken(t *testing.T) {
	for _, body := range []string{`{"refresh_token":"r"}`, `{"access_token":""}`, `not json`} {
		_, err := auth.ExtractTokenResponse(domain.TokenRecord{}, []byte(body), now, auth.DefaultTokenTTL)
		if !errors.Is(err, domain.ErrMalformedResponse) {
			t.Errorf("body %s: want ErrMalformedResponse, got %v", body, err)
		}
	}
}

func TestExtractDeviceCodeResponse_Defaults(t *testing.T) {
	code, err := auth.ExtractDeviceCodeResponse([]byte(`{"verification_url":"https://x/d","user_code":"ABCD","device_code":"dev"}`), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code.Interval != 0 {
		t.Errorf("interval: want 0 (unset), got %v", code.Interval)
	}
	if !code.ExpiresAt.Equal(now.Add(auth.DefaultDeviceCodeTTL)) {
		t.Errorf("expires at: want +300s, got %v", code.ExpiresAt.Sub(now))
	}
}

func TestExtractDeviceCodeResponse_AcceptsVerificationURI(t *testing.T) {
	body := `{"verification_uri":"https://github.com/login/device","user_code":"WXYZ","device_code":"dev","interval":7,"expires_in":900}`
	code, err := auth.ExtractDeviceCodeResponse([]byte(body), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code.VerificationURL != "https://github.com/login/device" {
		t.Errorf("verification url: got '%s'", code.VerificationURL)
	}
	if code.Interval != 7*time.Second {
		t.Errorf("interval: want 7s, got %v", code.Interval)
	}
	if !code.ExpiresAt.Equal(now.Add(900 * time.Second)) {
		t.Errorf("expires at: want +900s, got %v", code.ExpiresAt.Sub(now))
	}
}

func TestExtractDeviceCodeResponse_RequiresFields(t *testing.T) {
	bodies := []string{
		`{"user_code":"A","device_code":"d"}`,
		`{"verification_url":"u","device_code":"d"}`,
		`{"verification_url":"u","user_code":"A"}`,
		`[]`,
	}
	for _, body := range bodies {
		_, err := auth.ExtractDeviceCodeResponse([]byte(body), now)
		if !errors.Is(err, domain.ErrMalformedResponse) {
			t.Errorf("body %s: want ErrMalformedResponse, got %v", body, err)
		}
	}
}
