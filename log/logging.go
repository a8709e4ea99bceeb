// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package log provides a public logging interface for go.opentelemetry.io/clrverify.
package log // import "go.opentelemetry.io/clrverify/log"

import (
	"log/slog"

	"go.opentelemetry.io/clrverify/internal/log"
)

// SetLevel configures the log level for the verifier's internal logger.
func SetLevel(level slog.Level) {
	log.SetLevelLogger(level)
}

// SetLogger configures the verifier's internal logger.
func SetLogger(l slog.Logger) {
	log.SetLogger(l)
}
