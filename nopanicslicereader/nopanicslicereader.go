// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// nopanicslicereader provides little convenience utilities to read little endian
// values from an image buffer at a given file offset. Zeroes are returned on out
// of bounds access instead of panic, so a missed bounds check degrades into a
// diagnostic rather than a crash.
package nopanicslicereader // import "go.opentelemetry.io/clrverify/nopanicslicereader"

import (
	"encoding/binary"
)

func fits(b []byte, offs, n uint32) bool {
	return uint64(offs)+uint64(n) <= uint64(len(b))
}

// Uint8 reads one 8-bit unsigned integer from given byte slice offset
func Uint8(b []byte, offs uint32) uint8 {
	if !fits(b, offs, 1) {
		return 0
	}
	return b[offs]
}

// Uint16 reads one 16-bit unsigned integer from given byte slice offset
func Uint16(b []byte, offs uint32) uint16 {
	if !fits(b, offs, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(b[offs:])
}

// Uint32 reads one 32-bit unsigned integer from given byte slice offset
func Uint32(b []byte, offs uint32) uint32 {
	if !fits(b, offs, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[offs:])
}

// Uint64 reads one 64-bit unsigned integer from given byte slice offset
func Uint64(b []byte, offs uint32) uint64 {
	if !fits(b, offs, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[offs:])
}

// UintN reads a 2 or 4 byte wide unsigned integer, as used by metadata table
// columns whose width depends on heap and table sizes.
func UintN(b []byte, offs uint32, width uint8) uint32 {
	if width == 2 {
		return uint32(Uint16(b, offs))
	}
	return Uint32(b, offs)
}

// Bytes returns the n bytes at offs, or nil if they are out of bounds.
func Bytes(b []byte, offs, n uint32) []byte {
	if !fits(b, offs, n) {
		return nil
	}
	return b[offs : offs+n]
}
