// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package imagefile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCompressed(t *testing.T, path string, data []byte) {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, enc.EncodeAll(data, nil), 0o600))
	require.NoError(t, enc.Close())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("MZ\x90\x00"), 1024)

	plain := filepath.Join(dir, "image.dll")
	require.NoError(t, os.WriteFile(plain, content, 0o600))
	compressed := filepath.Join(dir, "image.dll.zst")
	writeCompressed(t, compressed, content)
	empty := filepath.Join(dir, "empty.dll")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := map[string]struct {
		path string
		want []byte
	}{
		"plain":      {path: plain, want: content},
		"compressed": {path: compressed, want: content},
		"empty":      {path: empty, want: []byte{}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f, err := Open(tc.path)
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.Data())
			require.NoError(t, f.Close())
			assert.Nil(t, f.Data())
			// Closing twice is harmless.
			require.NoError(t, f.Close())
		})
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.zst")
	require.NoError(t, os.WriteFile(garbage, []byte("not zstd"), 0o600))

	_, err := Open(filepath.Join(dir, "missing.dll"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Open(garbage)
	require.Error(t, err)
}
