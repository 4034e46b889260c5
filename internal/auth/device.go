package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/waabox/deviceauth/internal/domain"
)

const (
	// DefaultTokenTTL applies when a token or refresh response omits expires_in.
	DefaultTokenTTL = 3600 * time.Second
	// DefaultDeviceCodeTTL applies when a device-code response omits expires_in.
	DefaultDeviceCodeTTL = 300 * time.Second
)

// seconds decodes a JSON duration in seconds sent either as a number or as a
// quoted number (some servers, e.g. Azure AD, quote expires_in).
type seconds int64

func (s *seconds) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("decoding seconds %q: %w", data, err)
	}
	*s = seconds(n)
	return nil
}

func (s *seconds) duration() time.Duration {
	return time.Duration(*s) * time.Second
}

type tokenPayload struct {
	AccessToken  *string  `json:"access_token"`
	RefreshToken *string  `json:"refresh_token"`
	ExpiresIn    *seconds `json:"expires_in"`
}

type deviceCodePayload struct {
	VerificationURL *string  `json:"verification_url"`
	VerificationURI *string  `json:"verification_uri"`
	UserCode        *string  `json:"user_code"`
	DeviceCode      *string  `json:"device_code"`
	Interval        *seconds `json:"interval"`
	ExpiresIn       *seconds `json:"expires_in"`
}

type errorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExtractTokenResponse builds the TokenRecord that replaces prev after a
// successful token or refresh response. A response without refresh_token keeps
// prev.RefreshToken; a response without expires_in expires after defaultTTL.
func ExtractTokenResponse(prev domain.TokenRecord, body []byte, now time.Time, defaultTTL time.Duration) (domain.TokenRecord, error) {
	var raw tokenPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.TokenRecord{}, fmt.Errorf("%w: decoding token response: %v", domain.ErrMalformedResponse, err)
	}
	if raw.AccessToken == nil || *raw.AccessToken == "" {
		return domain.TokenRecord{}, fmt.Errorf("%w: token response has no access_token", domain.ErrMalformedResponse)
	}

	ttl := defaultTTL
	if raw.ExpiresIn != nil {
		ttl = raw.ExpiresIn.duration()
	}
	next := domain.TokenRecord{
		AccessToken:  *raw.AccessToken,
		RefreshToken: prev.RefreshToken,
		ExpiresAt:    now.Add(ttl),
	}
	if raw.RefreshToken != nil && *raw.RefreshToken != "" {
		next.RefreshToken = *raw.RefreshToken
	}
	return next, nil
}

// ExtractDeviceCodeResponse validates a device-code response. verification_url,
// user_code and device_code are required; verification_uri (RFC 8628 spelling)
// is accepted when verification_url is absent.
func ExtractDeviceCodeResponse(body []byte, now time.Time) (domain.DeviceCode, error) {
	var raw deviceCodePayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.DeviceCode{}, fmt.Errorf("%w: decoding device code response: %v", domain.ErrMalformedResponse, err)
	}

	verificationURL := raw.VerificationURL
	if verificationURL == nil {
		verificationURL = raw.VerificationURI
	}
	switch {
	case verificationURL == nil || *verificationURL == "":
		return domain.DeviceCode{}, fmt.Errorf("%w: device code response has no verification_url", domain.ErrMalformedResponse)
	case raw.UserCode == nil || *raw.UserCode == "":
		return domain.DeviceCode{}, fmt.Errorf("%w: device code response has no user_code", domain.ErrMalformedResponse)
	case raw.DeviceCode == nil || *raw.DeviceCode == "":
		return domain.DeviceCode{}, fmt.Errorf("%w: device code response has no device_code", domain.ErrMalformedResponse)
	}

	ttl := DefaultDeviceCodeTTL
	if raw.ExpiresIn != nil {
		ttl = raw.ExpiresIn.duration()
	}
	code := domain.DeviceCode{
		DeviceCode:      *raw.DeviceCode,
		UserCode:        *raw.UserCode,
		VerificationURL: *verificationURL,
		ExpiresAt:       now.Add(ttl),
	}
	if raw.Interval != nil && *raw.Interval > 0 {
		code.Interval = raw.Interval.duration()
	}
	return code, nil
}

// providerError decodes the OAuth "error" field of a response body. It returns
// nil when the body carries no error code.
func providerError(resp domain.Response) *domain.ProviderError {
	var raw errorPayload
	if err := json.Unmarshal(resp.Body, &raw); err != nil || raw.Error == "" {
		return nil
	}
	return &domain.ProviderError{
		Code:        raw.Error,
		Description: raw.ErrorDescription,
		StatusCode:  resp.StatusCode,
	}
}

// failure maps a non-200 response to the error reported to the caller.
func failure(resp domain.Response) error {
	if resp.Err != nil {
		return &domain.TransportError{Err: resp.Err}
	}
	if isClientError(resp.StatusCode) {
		if perr := providerError(resp); perr != nil {
			return perr
		}
	}
	return &domain.TransportError{StatusCode: resp.StatusCode}
}

func isClientError(status int) bool {
	return status >= 400 && status < 500
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
