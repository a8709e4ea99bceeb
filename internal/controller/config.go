// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/clrverify/internal/controller"

import (
	"errors"
	"flag"
	"fmt"

	"go.opentelemetry.io/clrverify/internal/log"
	"go.opentelemetry.io/clrverify/verifier"
)

// MaxJobs caps the number of files verified concurrently.
const MaxJobs = 256

type Config struct {
	CacheSize         uint
	Full              bool
	Jobs              int
	JSON              bool
	MaxSignatureDepth int
	Verbose           bool
	Version           bool

	// Files are the positional arguments.
	Files []string

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
	})
	log.Debug(fmt.Sprintf("files: %v", cfg.Files))
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.Jobs < 1 || cfg.Jobs > MaxJobs {
		return fmt.Errorf("invalid number of jobs %d, expected a value between 1 and %d",
			cfg.Jobs, MaxJobs)
	}
	if cfg.CacheSize == 0 || cfg.CacheSize > 1<<20 {
		return fmt.Errorf("invalid cache size %d", cfg.CacheSize)
	}
	vcfg := cfg.verifierConfig()
	if err := vcfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Files) == 0 {
		return errors.New("no input files")
	}
	return nil
}

func (cfg *Config) verifierConfig() verifier.Config {
	return verifier.Config{
		ReportDiagnostics: true,
		MaxSignatureDepth: cfg.MaxSignatureDepth,
	}
}
