// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"runtime"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/clrverify/internal/controller"
	"go.opentelemetry.io/clrverify/verifier"
)

const (
	// Default values for CLI flags
	defaultArgCacheSize = 1024
	defaultArgFull      = false
	defaultArgJSON      = false
)

// Help strings for command line arguments
var (
	cacheSizeHelp = "Maximum number of verification results kept in the " +
		"content-addressed result cache."
	configHelp = "Path to a configuration file with one flag per line."
	fullHelp   = "Also run VerifyFullTableRows, which decodes signatures, custom " +
		"attribute values, marshaling descriptors and method bodies."
	jobsHelp = fmt.Sprintf("Number of files verified concurrently, between 1 and %d.",
		controller.MaxJobs)
	jsonHelp     = "Write the report as JSON and log in JSON format."
	maxDepthHelp = "Maximum nesting of types inside a signature blob."
	verboseHelp  = "Enable verbose logging and debugging capabilities."
	versionHelp  = "Show version."
)

func parseArgs(args []string) (*controller.Config, error) {
	var cfg controller.Config

	fs := flag.NewFlagSet("clrverify", flag.ExitOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.UintVar(&cfg.CacheSize, "cache-size", defaultArgCacheSize, cacheSizeHelp)

	fs.String("config", "", configHelp)

	fs.BoolVar(&cfg.Full, "full", defaultArgFull, fullHelp)

	fs.IntVar(&cfg.Jobs, "j", runtime.GOMAXPROCS(0), jobsHelp)

	fs.BoolVar(&cfg.JSON, "json", defaultArgJSON, jsonHelp)

	fs.IntVar(&cfg.MaxSignatureDepth, "max-signature-depth",
		verifier.DefaultMaxSignatureDepth, maxDepthHelp)

	fs.BoolVar(&cfg.Verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.Verbose, "verbose", false, verboseHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] FILE...\n", fs.Name())
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("CLRVERIFY"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// version does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	); err != nil {
		return &cfg, err
	}
	cfg.Files = fs.Args()
	return &cfg, nil
}
