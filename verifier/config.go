// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"fmt"
)

const (
	// DefaultMaxSignatureDepth bounds the nesting of signature types.
	DefaultMaxSignatureDepth = 100

	maxSignatureDepthLimit = 10000
)

// Config controls a Verifier.
type Config struct {
	// ReportDiagnostics enables recording of diagnostic messages. Without it
	// only the verdict is computed, which avoids formatting costs in loaders
	// that only need a yes or no answer.
	ReportDiagnostics bool
	// MaxSignatureDepth caps the nesting of types inside a signature blob.
	MaxSignatureDepth int
}

// DefaultConfig returns the configuration used by the package level functions.
func DefaultConfig() Config {
	return Config{
		ReportDiagnostics: true,
		MaxSignatureDepth: DefaultMaxSignatureDepth,
	}
}

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	if cfg.MaxSignatureDepth < 1 || cfg.MaxSignatureDepth > maxSignatureDepthLimit {
		return fmt.Errorf("invalid max signature depth %d, must be in [1, %d]",
			cfg.MaxSignatureDepth, maxSignatureDepthLimit)
	}
	return nil
}
