// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// clrverify checks the structure of the CLI metadata of PE32 images.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/clrverify/internal/controller"
	"go.opentelemetry.io/clrverify/internal/log"
	clrlog "go.opentelemetry.io/clrverify/log"
	"go.opentelemetry.io/clrverify/metrics"
	"go.opentelemetry.io/clrverify/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Println(vc.String())
		return exitSuccess
	}

	if cfg.JSON {
		sync, err := setJSONLogger(cfg.Verbose)
		if err != nil {
			return failure("Failed to create the JSON logger: %v", err)
		}
		defer sync()
	} else if cfg.Verbose {
		clrlog.SetLevel(slog.LevelDebug)
	}

	if cfg.Verbose {
		// Dump the arguments in debug mode.
		cfg.Dump()
		rep, err := controller.NewMetricsLogger()
		if err != nil {
			return failure("Failed to load the metric definitions: %v", err)
		}
		metrics.SetReporter(rep)
	}

	if err = cfg.Validate(); err != nil {
		return parseError("Invalid configuration: %v", err)
	}

	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM)
	defer mainCancel()

	log.Debugf("Starting clrverify %s (revision %s, build timestamp %s)",
		vc.Version(), vc.Revision(), vc.BuildTimestamp())

	return run(mainCtx, cfg, os.Stdout)
}

// run verifies the configured files and writes the report to w.
func run(ctx context.Context, cfg *controller.Config, w io.Writer) exitCode {
	ctlr, err := controller.New(cfg)
	if err != nil {
		return failure("Failed to create the controller: %v", err)
	}

	reports, runErr := ctlr.Run(ctx)
	metrics.Flush()

	if reports != nil {
		write := writeTextReport
		if cfg.JSON {
			write = writeJSONReport
		}
		if err = write(w, reports); err != nil {
			return failure("Failed to write the report: %v", err)
		}
	}

	var exitErr controller.ErrorWithExitCode
	if errors.As(runErr, &exitErr) {
		log.Infof("%v", exitErr)
		return exitCode(exitErr.Code())
	}
	if runErr != nil {
		return failure("Verification aborted: %v", runErr)
	}
	return exitSuccess
}

// setJSONLogger routes the log output through a zap JSON core on stderr.
func setJSONLogger(verbose bool) (func(), error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	clrlog.SetLogger(*slog.New(zapslog.NewHandler(logger.Core())))
	return func() { _ = logger.Sync() }, nil
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
