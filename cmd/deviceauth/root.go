package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/waabox/deviceauth/internal/auth"
	"github.com/waabox/deviceauth/internal/config"
	"github.com/waabox/deviceauth/internal/logging"
	"github.com/waabox/deviceauth/internal/provider"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	configPath string
	debug      bool
	logLevel   string
	out        io.Writer
	errOut     io.Writer
	registry   *provider.Registry

	cfg config.Config
	log *slog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{
		out:      out,
		errOut:   errOut,
		registry: provider.DefaultRegistry(),
	}

	root := &cobra.Command{
		Use:   "deviceauth",
		Short: "Obtain OAuth access tokens with the device authorization grant",
		Long: `deviceauth signs a user in on devices without a browser by showing a
verification URL and a short code, then keeps the resulting tokens fresh.
It can also exchange a signed JWT assertion for a service token.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate(`{{printf "deviceauth version %s\n" .Version}}`)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/deviceauth/config.toml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging (same as --log-level debug)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(
		newLoginCmd(a),
		newTokenCmd(a),
		newRefreshCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newAssertCmd(a),
		newGetCmd(a),
	)
	return root
}

// load reads the config file, applies the provider preset and builds the logger.
func (a *app) load() error {
	if a.configPath == "" {
		a.configPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadFrom(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := a.registry.Resolve(&cfg); err != nil {
		return err
	}
	a.cfg = cfg

	level := logging.ParseLevel(a.logLevel)
	if a.debug {
		level = logging.LevelDebug
	}
	a.log = logging.New(level, a.errOut)
	a.log.Debug("config loaded", "path", a.configPath, "provider", cfg.Provider, "log_level", level.String())
	return nil
}

func (a *app) tokenManager() (*auth.TokenManager, error) {
	if err := a.cfg.Device.Validate(); err != nil {
		return nil, err
	}
	return auth.NewTokenManager(&a.cfg, a.configPath, auth.DeviceFlowConfig{
		ClientID:     a.cfg.Device.ClientID,
		ClientSecret: a.cfg.Device.ClientSecret,
		Scope:        a.cfg.Device.Scope,
		LoginURL:     a.cfg.Device.LoginURL,
		TokenURL:     a.cfg.Device.TokenURL,
		GrantType:    a.cfg.Device.GrantType,
		Logger:       a.log,
	})
}

// providerName labels the configured identity provider in messages.
func (a *app) providerName() string {
	if a.cfg.Provider != "" {
		return a.cfg.Provider
	}
	if e, err := a.registry.Detect(a.cfg.Device.TokenURL); err == nil {
		return e.Name
	}
	return a.cfg.Device.TokenURL
}
