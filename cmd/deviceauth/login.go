package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waabox/deviceauth/internal/tui"
)

func newLoginCmd(a *app) *cobra.Command {
	var plain, force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with the device authorization flow",
		Long: `Starts a device authorization and shows the verification URL and user
code to enter on another device. Tokens are saved to the config file.
An existing valid session is reused unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tm, err := a.tokenManager()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if !force {
				if _, err := tm.Token(ctx); err == nil {
					fmt.Fprintf(a.errOut, "Already signed in to %s. Use --force to sign in again.\n", a.providerName())
					return nil
				}
			}

			acquire := tm.Acquire
			if force {
				acquire = tm.Login
			}

			if plain {
				_, err = acquire(ctx, a.printUserAction)
			} else {
				_, err = tui.Login(ctx, a.providerName(), acquire)
			}
			if err != nil {
				return fmt.Errorf("%s authentication failed: %w", a.providerName(), err)
			}
			fmt.Fprintf(a.errOut, "Authenticated. Token saved to %s\n", a.configPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print the code to stderr instead of showing the login screen")
	cmd.Flags().BoolVar(&force, "force", false, "discard the current session and sign in again")
	return cmd
}

// printUserAction writes the device code prompt to stderr so stdout stays
// clean for piping.
func (a *app) printUserAction(verificationURL, userCode string) {
	fmt.Fprintf(a.errOut, "Visit:      %s\n", verificationURL)
	fmt.Fprintf(a.errOut, "Enter code: %s\n", userCode)
	fmt.Fprintf(a.errOut, "Waiting for authorization...\n")
}
