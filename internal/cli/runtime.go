package cli

import (
	"context"
	"errors"

	"github.com/roach88/carelink/internal/config"
	"github.com/roach88/carelink/internal/connection"
	"github.com/roach88/carelink/internal/portal"
)

// openRuntime loads the configuration named by --config and starts a
// runtime over it.
func openRuntime(ctx context.Context, opts *RootOptions) (*portal.Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}

	rt, err := portal.Open(ctx, cfg)
	if err != nil {
		var initErr *connection.InitError
		if errors.As(err, &initErr) {
			return nil, WrapExitError(ExitCommandError, "connect", err)
		}
		return nil, WrapExitError(ExitCommandError, "start runtime", err)
	}
	return rt, nil
}

// errorCode picks the response code for a command error.
func errorCode(err error) string {
	var initErr *connection.InitError
	var loadErr *config.LoadError
	var invalid config.Errors
	switch {
	case errors.As(err, &initErr):
		return CodeInit
	case errors.As(err, &loadErr), errors.As(err, &invalid):
		return CodeConfig
	default:
		return CodeArgument
	}
}
