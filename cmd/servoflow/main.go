// Command servoflow loads a module configuration and runs the orchestrator
// until it is interrupted.
//
// Exit status is 0 on a clean run, 1 when a lifecycle phase fails and 2 for
// bad flags or an invalid configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/drblury/servoflow/internal/runtime"
	"github.com/drblury/servoflow/internal/runtime/config"
	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
	"github.com/drblury/servoflow/internal/runtime/logging"
	"github.com/drblury/servoflow/module"
	_ "github.com/drblury/servoflow/module/stages/all"
	"github.com/drblury/servoflow/transport"
	_ "github.com/drblury/servoflow/transport/transports"
)

const appName = "servoflow"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, debug.Stack())
			os.Exit(exitUsage)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	cli, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return exitUsage
	}

	base, closer, err := setupLogger(stderr, cli.LogLevel, cli.LogFormat, cli.LogFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return exitUsage
	}
	defer closer.Close()
	slog.SetDefault(base)
	logger := logging.NewSlogServiceLogger(base)

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		logger.Critical("Invalid configuration", err, logging.LogFields{"config_path": cli.ConfigPath})
		return exitUsage
	}
	if cli.Validate {
		logger.Info("Configuration is valid", logging.LogFields{
			"config_path": cli.ConfigPath,
			"modules":     len(cfg.ActiveModules()),
		})
		return exitOK
	}

	logger.Info("Starting servoflow", logging.LogFields{"config_path": cli.ConfigPath, "config": cfg.String()})
	return orchestrate(ctx, cfg, logger, cli.Once)
}

// loadConfig reads and validates the document, including that every module
// type and the transport are registered.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, sferrors.ConfigError(appName, "load", err)
	}

	errs := []error{cfg.Validate()}
	for i, m := range cfg.ActiveModules() {
		if !module.DefaultRegistry.Has(m.Name) {
			errs = append(errs, fmt.Errorf("modules[%d]: %w", i, sferrors.UnknownModuleTypeError{
				Name:       m.Name,
				Registered: module.DefaultRegistry.Names(),
			}))
		}
	}
	if conn := cfg.Connection; conn != nil && !transport.DefaultRegistry.Has(conn.Transport) {
		errs = append(errs, fmt.Errorf("connection: unknown transport %q (registered: %v)", conn.Transport, transport.DefaultRegistry.Names()))
	}
	if err := sferrors.NewConfigValidationError(errors.Join(errs...)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func orchestrate(ctx context.Context, cfg *config.Config, logger logging.ServiceLogger, once bool) int {
	o, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		logger.Critical("Cannot create orchestrator", err, nil)
		return exitFailure
	}

	code := exitOK
	if err := o.Init(ctx); err != nil {
		code = exitFailure
	} else {
		if once {
			err = o.RunOnce(ctx)
		} else {
			err = o.Run(ctx)
		}
		if err != nil {
			code = exitFailure
		}
	}

	// Deinit gets its own context so teardown still runs after an interrupt.
	if err := o.Deinit(context.WithoutCancel(ctx)); err != nil {
		code = exitFailure
	}

	logger.Info("servoflow stopped", logging.LogFields{
		"state":  o.State().String(),
		"cycles": o.Cycles(),
	})
	return code
}
