// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335 // import "go.opentelemetry.io/clrverify/ecma335"

import (
	"golang.org/x/crypto/cryptobyte"
)

// MaxCompressedUint is the largest value the compressed encoding can hold.
const MaxCompressedUint = 0x1fffffff

// DecodeCompressedUint decodes the compressed unsigned integer (§II.23.2) at
// the start of b. It returns the value and the number of bytes consumed, which
// is 1, 2 or 4. On failure it returns ok == false and consumes nothing.
func DecodeCompressedUint(b []byte) (value uint32, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	switch first := b[0]; {
	case first&0x80 == 0:
		return uint32(first), 1, true
	case first&0xc0 == 0x80:
		if len(b) < 2 {
			return 0, 0, false
		}
		return uint32(first&0x3f)<<8 | uint32(b[1]), 2, true
	case first&0xe0 == 0xc0:
		if len(b) < 4 {
			return 0, 0, false
		}
		return uint32(first&0x1f)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, true
	}
	return 0, 0, false
}

// ReadCompressedUint decodes a compressed unsigned integer from s into out and
// advances s. On failure s is left unchanged.
func ReadCompressedUint(s *cryptobyte.String, out *uint32) bool {
	v, n, ok := DecodeCompressedUint(*s)
	if !ok {
		return false
	}
	*out = v
	return s.Skip(n)
}

// AppendCompressedUint appends the compressed encoding of v to b. Values above
// MaxCompressedUint are not representable and are truncated.
func AppendCompressedUint(b []byte, v uint32) []byte {
	switch {
	case v < 0x80:
		return append(b, byte(v))
	case v < 0x4000:
		return append(b, byte(v>>8)|0x80, byte(v))
	}
	v &= MaxCompressedUint
	return append(b, byte(v>>24)|0xc0, byte(v>>16), byte(v>>8), byte(v))
}
