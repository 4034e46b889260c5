package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// AuthExpiredError is returned when both the access token and refresh token are
// invalid, and interactive re-authentication is required.
type AuthExpiredError struct {
	Provider string
	Err      error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%s session expired: re-authentication required", e.Provider)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// TokenProvider hands out access tokens without user interaction.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// RefreshingTransport is an http.RoundTripper that sends a Bearer token and
// transparently handles 401 responses by refreshing the token once and
// replaying the request. If refresh fails, it returns AuthExpiredError.
type RefreshingTransport struct {
	base     http.RoundTripper
	provider string
	tokens   TokenProvider
}

// Ensure RefreshingTransport implements http.RoundTripper.
var _ http.RoundTripper = (*RefreshingTransport)(nil)

// NewRefreshingTransport creates a RefreshingTransport. A nil base uses
// http.DefaultTransport. providerName only labels AuthExpiredError.
func NewRefreshingTransport(base http.RoundTripper, providerName string, tokens TokenProvider) *RefreshingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RefreshingTransport{
		base:     base,
		provider: providerName,
		tokens:   tokens,
	}
}

// NewClient returns an http.Client that authenticates through a RefreshingTransport.
func NewClient(providerName string, tokens TokenProvider) *http.Client {
	return &http.Client{Transport: NewRefreshingTransport(nil, providerName, tokens)}
}

func (rt *RefreshingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := rt.tokens.Token(ctx)
	if err != nil {
		return nil, &AuthExpiredError{Provider: rt.provider, Err: err}
	}

	first := req.Clone(ctx)
	first.Header.Set("Authorization", "Bearer "+token)
	resp, err := rt.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	// A consumed body without GetBody cannot be replayed.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	newToken, err := rt.tokens.Refresh(ctx)
	if err != nil {
		return nil, &AuthExpiredError{Provider: rt.provider, Err: err}
	}
	retry := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+newToken)
	return rt.base.RoundTrip(retry)
}
