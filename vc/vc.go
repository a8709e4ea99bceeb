// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/clrverify/vc"

import (
	"fmt"
	"runtime/debug"
)

// Set at link time with -ldflags "-X go.opentelemetry.io/clrverify/vc.version=...".
var (
	revision       = ""
	buildTimestamp = ""
	// vX.Y.Z{-N-abbrev}, from git describe --tags
	version = ""
)

func init() {
	if revision != "" {
		return
	}
	// Fall back to the VCS stamp of `go build` when no ldflags were given.
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if version == "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			if buildTimestamp == "" {
				buildTimestamp = s.Value
			}
		}
	}
}

// Revision of the build.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	return version
}

// String returns a one line summary for -version output.
func String() string {
	v := version
	if v == "" {
		v = "devel"
	}
	return fmt.Sprintf("clrverify %s (revision %q, built %q)", v, revision, buildTimestamp)
}
