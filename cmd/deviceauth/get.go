package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/waabox/deviceauth/internal/provider"
)

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get URL",
		Short: "Fetch a URL with the saved access token",
		Long: `Performs an authenticated GET and writes the response body to stdout.
A 401 response triggers one token refresh and a retry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tm, err := a.tokenManager()
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, args[0], nil)
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}
			resp, err := provider.NewClient(a.providerName(), tm).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if _, err := io.Copy(a.out, resp.Body); err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
			}
			return nil
		},
	}
}
