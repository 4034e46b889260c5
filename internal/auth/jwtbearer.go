package auth

import (
	"context"
	"crypto"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waabox/deviceauth/internal/domain"
	"github.com/waabox/deviceauth/internal/transport"
)

const (
	// JWTBearerGrantType is the RFC 7523 grant type of an assertion exchange.
	JWTBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	defaultAssertionAlgorithm = "RS256"
	assertionTTL              = time.Hour
)

// JWTBearerConfig configures a JWTBearerExchange. Issuer, TokenURL and
// PrivateKey are required. Audience defaults to TokenURL.
type JWTBearerConfig struct {
	Issuer     string
	Subject    string
	Scope      string
	Audience   string
	TokenURL   string
	PrivateKey crypto.PrivateKey
	// Algorithm is the JWS algorithm of the assertion; defaults to RS256.
	Algorithm string

	Transport domain.Transport
	Signer    domain.Signer
	Clock     domain.Clock
	Logger    *slog.Logger
}

// JWTBearerExchange obtains access tokens by presenting a signed JWT
// assertion to the token endpoint. Every acquisition not served from cache
// signs a new assertion; there is no refresh token and no polling.
type JWTBearerExchange struct {
	cfg       JWTBearerConfig
	method    jwt.SigningMethod
	transport domain.Transport
	signer    domain.Signer
	clock     domain.Clock
	log       *slog.Logger

	mu    sync.Mutex
	token domain.TokenRecord
}

// NewJWTBearerExchange validates cfg and returns an exchange with an empty cache.
func NewJWTBearerExchange(cfg JWTBearerConfig) (*JWTBearerExchange, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", domain.ErrInvalidConfiguration)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: token_url is required", domain.ErrInvalidConfiguration)
	}
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("%w: private key is required", domain.ErrInvalidConfiguration)
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = defaultAssertionAlgorithm
	}
	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, fmt.Errorf("%w: unsupported signing algorithm %q", domain.ErrInvalidConfiguration, cfg.Algorithm)
	}
	if u, err := url.Parse(cfg.TokenURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: token_url %q is not an absolute URL", domain.ErrInvalidConfiguration, cfg.TokenURL)
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.TokenURL
	}

	x := &JWTBearerExchange{
		cfg:       cfg,
		method:    method,
		transport: cfg.Transport,
		signer:    cfg.Signer,
		clock:     cfg.Clock,
		log:       cfg.Logger,
	}
	if x.transport == nil {
		x.transport = transport.NewHTTPTransport(nil)
	}
	if x.signer == nil {
		x.signer = transport.JWTSigner{}
	}
	if x.clock == nil {
		x.clock = transport.SystemClock{}
	}
	if x.log == nil {
		x.log = slog.New(slog.DiscardHandler)
	}
	x.log = x.log.With("subsystem", "jwt_bearer", "issuer", cfg.Issuer)
	return x, nil
}

// AcquireAccessToken delivers a cached valid token synchronously, or signs
// an assertion, exchanges it and delivers the result asynchronously.
func (x *JWTBearerExchange) AcquireAccessToken(ctx context.Context, onToken TokenFunc) {
	now := x.clock.Now()
	if accessToken, ok := x.ValidAccessToken(); ok {
		onToken(accessToken, nil)
		return
	}

	signingInput, err := x.signingInput(now)
	if err != nil {
		onToken("", err)
		return
	}
	x.signer.Sign(ctx, x.cfg.Algorithm, []byte(signingInput), x.cfg.PrivateKey, func(sig []byte, err error) {
		if err != nil {
			x.log.Warn("signing assertion failed", "error", err)
			onToken("", fmt.Errorf("signing assertion: %w", err))
			return
		}
		form := url.Values{}
		form.Set("grant_type", JWTBearerGrantType)
		form.Set("assertion", signingInput+"."+base64.RawURLEncoding.EncodeToString(sig))

		x.transport.PostForm(ctx, x.cfg.TokenURL, form, func(resp domain.Response) {
			x.handleToken(resp, onToken)
		})
	})
}

// ValidAccessToken returns the cached access token if it has not expired.
func (x *JWTBearerExchange) ValidAccessToken() (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.token.IsValid(x.clock.Now()) {
		return "", false
	}
	return x.token.AccessToken, true
}

// IsTokenValid reports whether a non-expired access token is cached.
func (x *JWTBearerExchange) IsTokenValid() bool {
	_, ok := x.ValidAccessToken()
	return ok
}

// signingInput returns base64url(header) + "." + base64url(claims).
func (x *JWTBearerExchange) signingInput(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": x.cfg.Issuer,
		"aud": x.cfg.Audience,
		"iat": now.Unix(),
		"exp": now.Add(assertionTTL).Unix(),
	}
	if x.cfg.Scope != "" {
		claims["scope"] = x.cfg.Scope
	}
	if x.cfg.Subject != "" {
		claims["sub"] = x.cfg.Subject
	}
	input, err := jwt.NewWithClaims(x.method, claims).SigningString()
	if err != nil {
		return "", fmt.Errorf("encoding assertion: %w", err)
	}
	return input, nil
}

func (x *JWTBearerExchange) handleToken(resp domain.Response, onToken TokenFunc) {
	if resp.Err != nil || resp.StatusCode != 200 {
		err := failure(resp)
		x.log.Warn("assertion exchange failed", "error", err)
		onToken("", err)
		return
	}
	next, err := ExtractTokenResponse(domain.TokenRecord{}, resp.Body, x.clock.Now(), DefaultTokenTTL)
	if err != nil {
		onToken("", err)
		return
	}

	x.mu.Lock()
	x.token = next
	x.mu.Unlock()

	x.log.Info("assertion exchanged for access token", "expires_at", next.ExpiresAt)
	onToken(next.AccessToken, nil)
}
