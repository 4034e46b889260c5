package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/waabox/deviceauth/internal/domain"
	"github.com/waabox/deviceauth/internal/provider"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes for CLI commands.
const (
	exitError        = 1
	exitAuthRequired = 2
	exitAuthFailed   = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to a process exit code for scripting.
func exitCode(err error) int {
	var authExpired *provider.AuthExpiredError
	if errors.Is(err, domain.ErrUnauthorized) || errors.As(err, &authExpired) {
		return exitAuthRequired
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) || errors.Is(err, domain.ErrTimeout) {
		return exitAuthFailed
	}
	return exitError
}
