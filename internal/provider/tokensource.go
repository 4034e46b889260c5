package provider

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenTimeout bounds a single Token call of a TokenSource.
const DefaultTokenTimeout = 30 * time.Second

type tokenSource struct {
	ctx     context.Context
	tokens  TokenProvider
	timeout time.Duration
}

// NewTokenSource adapts tokens to an oauth2.TokenSource so the session can
// feed clients built on golang.org/x/oauth2. Each Token call is bounded by
// timeout (DefaultTokenTimeout when zero) and by ctx.
func NewTokenSource(ctx context.Context, tokens TokenProvider, timeout time.Duration) oauth2.TokenSource {
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	return &tokenSource{ctx: ctx, tokens: tokens, timeout: timeout}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	access, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if e, ok := s.tokens.(interface{ ExpiresAt() time.Time }); ok {
		tok.Expiry = e.ExpiresAt()
	}
	return tok, nil
}
