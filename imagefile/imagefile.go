// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package imagefile loads image files for verification. Plain files are
// memory-mapped read-only, files ending in .zst are decompressed into memory.
package imagefile // import "go.opentelemetry.io/clrverify/imagefile"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// MaxDecompressedSize bounds the size of a decompressed .zst input.
const MaxDecompressedSize = 1 << 30

// ErrTooLarge is returned for inputs that cannot be addressed with 32-bit
// file offsets, or that decompress beyond MaxDecompressedSize.
var ErrTooLarge = errors.New("image too large")

// File is the content of an image file.
//
// It is not safe to call Close and use Data concurrently.
type File struct {
	data  []byte
	unmap func() error
}

// Data returns the image bytes. The slice is invalid after Close.
func (f *File) Data() []byte {
	return f.data
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	f.data = nil
	if f.unmap == nil {
		return nil
	}
	unmap := f.unmap
	f.unmap = nil
	return unmap()
}

// Open loads the named file.
func Open(name string) (*File, error) {
	if strings.HasSuffix(name, ".zst") {
		return openCompressed(name)
	}
	return openMapped(name)
}

func openCompressed(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := Decompress(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", name, err)
	}
	return &File{data: data}, nil
}

// Decompress reads a zstd stream from r, refusing output larger than
// MaxDecompressedSize.
func Decompress(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	defer dec.Close()

	data, err := io.ReadAll(io.LimitReader(dec, MaxDecompressedSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDecompressedSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func openMapped(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	switch {
	case size == 0:
		// mmap(2) rejects a zero length.
		return &File{data: []byte{}}, nil
	case size < 0:
		return nil, fmt.Errorf("file %q has negative size", name)
	case size > 1<<32-1:
		return nil, fmt.Errorf("file %q: %w", name, ErrTooLarge)
	}
	data, unmap, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", name, err)
	}
	return &File{data: data, unmap: unmap}, nil
}
