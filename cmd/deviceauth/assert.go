package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/deviceauth/internal/auth"
	"github.com/waabox/deviceauth/internal/config"
)

const assertTimeout = 30 * time.Second

func newAssertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assert",
		Short: "Exchange a signed JWT assertion for an access token",
		Long: `Signs a JWT with the private key from the [jwt] section and exchanges it
at the token endpoint (RFC 7523). Prints the access token to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.JWT.Validate(); err != nil {
				return err
			}
			key, err := config.LoadPrivateKey(a.cfg.JWT.PrivateKeyFile)
			if err != nil {
				return err
			}
			exchange, err := auth.NewJWTBearerExchange(auth.JWTBearerConfig{
				Issuer:     a.cfg.JWT.Issuer,
				Subject:    a.cfg.JWT.Subject,
				Scope:      a.cfg.JWT.Scope,
				Audience:   a.cfg.JWT.Audience,
				TokenURL:   a.cfg.JWT.TokenURL,
				PrivateKey: key,
				Logger:     a.log,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), assertTimeout)
			defer cancel()
			token, err := awaitAssertion(ctx, exchange)
			if err != nil {
				return fmt.Errorf("assertion exchange failed: %w", err)
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
}

func awaitAssertion(ctx context.Context, exchange *auth.JWTBearerExchange) (string, error) {
	type result struct {
		token string
		err   error
	}
	ch := make(chan result, 1)
	exchange.AcquireAccessToken(ctx, func(token string, err error) {
		ch <- result{token: token, err: err}
	})
	select {
	case res := <-ch:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
