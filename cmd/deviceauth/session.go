package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/waabox/deviceauth/internal/domain"
	"github.com/waabox/deviceauth/internal/provider"
)

func newTokenCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		Long: `Prints the saved access token, refreshing it first when it has expired.
Never starts an interactive sign-in; run 'deviceauth login' for that.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tm, err := a.tokenManager()
			if err != nil {
				return err
			}
			tok, err := provider.NewTokenSource(cmd.Context(), tm, 0).Token()
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					return fmt.Errorf("not signed in, run 'deviceauth login': %w", err)
				}
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(tok)
			}
			fmt.Fprintln(a.out, tok.AccessToken)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the token with its type and expiry as JSON")
	return cmd
}

func newRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the saved refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tm, err := a.tokenManager()
			if err != nil {
				return err
			}
			if _, err := tm.Refresh(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(a.errOut, "Token refreshed, expires %s\n", tm.ExpiresAt().Local().Format(time.RFC1123))
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tm, err := a.tokenManager()
			if err != nil {
				return err
			}
			tm.Logout()
			fmt.Fprintf(a.errOut, "Signed out of %s\n", a.providerName())
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tm, err := a.tokenManager()
			if err != nil {
				return err
			}
			session := tm.Session()
			record := session.Token()

			fmt.Fprintf(a.out, "Provider:    %s\n", a.providerName())
			fmt.Fprintf(a.out, "Client ID:   %s\n", a.cfg.Device.ClientID)
			fmt.Fprintf(a.out, "Authorized:  %s\n", yesNo(session.IsAuthorized()))
			fmt.Fprintf(a.out, "Token valid: %s\n", yesNo(session.IsTokenValid()))
			if !record.ExpiresAt.IsZero() {
				fmt.Fprintf(a.out, "Expires:     %s\n", record.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
