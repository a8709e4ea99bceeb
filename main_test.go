// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrverify/internal/testimage"
	"go.opentelemetry.io/clrverify/verifier"
)

const testMVID = "6469766d-0201-0403-0506-0708090a0b0c"

func TestParseArgs(t *testing.T) {
	cfg, err := parseArgs([]string{"-full", "-j", "2", "a.dll", "b.dll"})
	require.NoError(t, err)
	assert.True(t, cfg.Full)
	assert.Equal(t, 2, cfg.Jobs)
	assert.Equal(t, uint(defaultArgCacheSize), cfg.CacheSize)
	assert.Equal(t, verifier.DefaultMaxSignatureDepth, cfg.MaxSignatureDepth)
	assert.Equal(t, []string{"a.dll", "b.dll"}, cfg.Files)
	require.NoError(t, cfg.Validate())

	cfg, err = parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Jobs)
	assert.False(t, cfg.Full)
	assert.Error(t, cfg.Validate())
}

func TestParseArgsEnvironment(t *testing.T) {
	t.Setenv("CLRVERIFY_CACHE_SIZE", "7")
	t.Setenv("CLRVERIFY_JSON", "true")

	cfg, err := parseArgs([]string{"a.dll"})
	require.NoError(t, err)
	assert.Equal(t, uint(7), cfg.CacheSize)
	assert.True(t, cfg.JSON)
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clrverify.conf")
	require.NoError(t, os.WriteFile(path, []byte("full true\nj 3\nunknown 1\n"), 0o600))

	cfg, err := parseArgs([]string{"-config", path, "-j", "5", "a.dll"})
	require.NoError(t, err)
	assert.True(t, cfg.Full)
	// The command line wins over the configuration file.
	assert.Equal(t, 5, cfg.Jobs)
}

func TestMVIDString(t *testing.T) {
	assert.Equal(t, testMVID,
		mvidString([16]byte{0x6d, 0x76, 0x69, 0x64, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}))
}

func writeImages(t *testing.T) (valid, invalid string) {
	t.Helper()
	dir := t.TempDir()
	valid = filepath.Join(dir, "valid.dll")
	require.NoError(t, os.WriteFile(valid, testimage.NewAssembly().Build().Data, 0o600))

	b := testimage.NewAssembly()
	b.Machine = 0x1234
	invalid = filepath.Join(dir, "invalid.dll")
	require.NoError(t, os.WriteFile(invalid, b.Build().Data, 0o600))
	return valid, invalid
}

func TestRunTextReport(t *testing.T) {
	valid, invalid := writeImages(t)

	for _, tt := range []struct {
		name  string
		files []string

		wantCode  exitCode
		wantLines []string
	}{
		{
			name:     "valid",
			files:    []string{valid},
			wantCode: exitSuccess,
			wantLines: []string{
				valid + ": valid, ",
				"module test.dll {" + testMVID + "}",
				"  VerifyPEStructure: valid",
				"  VerifyCLIStructure: valid",
				"  VerifyTableRows: valid",
			},
		},
		{
			name:     "invalid",
			files:    []string{valid, invalid},
			wantCode: exitFailure,
			wantLines: []string{
				invalid + ": invalid, ",
				"  VerifyPEStructure: invalid",
				"    invalid: Invalid PE header Machine value 0x1234",
			},
		},
		{
			name:     "unreadable",
			files:    []string{filepath.Join(t.TempDir(), "missing.dll")},
			wantCode: exitFailure,
			wantLines: []string{
				"missing.dll: unreadable: ",
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseArgs(tt.files)
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			var out bytes.Buffer
			assert.Equal(t, tt.wantCode, run(context.Background(), cfg, &out))
			for _, line := range tt.wantLines {
				assert.True(t, strings.Contains(out.String(), line),
					"missing %q in\n%s", line, out.String())
			}
		})
	}
}

func TestRunJSONReport(t *testing.T) {
	valid, invalid := writeImages(t)

	cfg, err := parseArgs([]string{"-json", "-full", "-j", "1", valid, invalid})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	require.Equal(t, exitFailure, run(context.Background(), cfg, &out))

	var files []jsonFile
	require.NoError(t, json.Unmarshal(out.Bytes(), &files))
	require.Len(t, files, 2)

	assert.Equal(t, valid, files[0].File)
	assert.True(t, files[0].Valid)
	assert.Equal(t, "test.dll", files[0].Module)
	assert.Equal(t, testMVID, files[0].MVID)
	assert.Equal(t, "0x14c", files[0].Machine)
	assert.Equal(t, 1, files[0].Sections)
	require.Len(t, files[0].Passes, 4)
	assert.Equal(t, verifier.PassFullTableRows, files[0].Passes[3].Pass)

	assert.False(t, files[1].Valid)
	assert.Equal(t, testMVID, files[1].MVID)
	require.Len(t, files[1].Passes, 1)
	require.NotEmpty(t, files[1].Passes[0].Diagnostics)
	d := files[1].Passes[0].Diagnostics[0]
	assert.Equal(t, "BadImageFormatException", d.Exception)
	assert.Equal(t, "invalid", d.Kind)
}
