// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"bytes"
	"unicode/utf8"

	"go.opentelemetry.io/clrverify/ecma335"
)

const guidSize = 16

func (ctx *verifyContext) heap(idx int) []byte {
	s := &ctx.lay.streams[idx]
	if !s.present {
		return nil
	}
	return s.Slice(ctx.data)
}

// stringAt returns the NUL terminated UTF-8 string at offset of the #Strings heap.
func (ctx *verifyContext) stringAt(offset uint32) ([]byte, bool) {
	heap := ctx.heap(streamStrings)
	if offset >= uint32(len(heap)) {
		return nil, false
	}
	s := heap[offset:]
	n := bytes.IndexByte(s, 0)
	if n < 0 || !utf8.Valid(s[:n]) {
		return nil, false
	}
	return s[:n], true
}

func (ctx *verifyContext) isValidString(offset uint32) bool {
	_, ok := ctx.stringAt(offset)
	return ok
}

func (ctx *verifyContext) isValidNonEmptyString(offset uint32) bool {
	s, ok := ctx.stringAt(offset)
	return ok && len(s) > 0
}

// stringEquals reports whether the string at offset equals s. Invalid offsets
// compare unequal.
func (ctx *verifyContext) stringEquals(offset uint32, s string) bool {
	v, ok := ctx.stringAt(offset)
	return ok && string(v) == s
}

func (ctx *verifyContext) isValidGUID(index uint32) bool {
	return index <= ctx.lay.streams[streamGUID].Size/guidSize
}

// guidAt returns the 1-based GUID index from the #GUID heap.
func (ctx *verifyContext) guidAt(index uint32) ([]byte, bool) {
	if index == 0 || !ctx.isValidGUID(index) {
		return nil, false
	}
	heap := ctx.heap(streamGUID)
	return heap[(index-1)*guidSize:][:guidSize], true
}

// decodeBlobHeader returns the blob at offset of the given heap. The size
// prefix and the contents must lie inside the heap.
func decodeBlobHeader(heap []byte, offset uint32) ([]byte, bool) {
	if offset >= uint32(len(heap)) {
		return nil, false
	}
	rest := heap[offset:]
	size, n, ok := ecma335.DecodeCompressedUint(rest)
	if !ok || uint64(size) > uint64(len(rest)-n) {
		return nil, false
	}
	return rest[n : n+int(size)], true
}

func (ctx *verifyContext) blobAt(offset uint32) ([]byte, bool) {
	return decodeBlobHeader(ctx.heap(streamBlob), offset)
}

func (ctx *verifyContext) isValidBlob(offset uint32, notEmpty bool) bool {
	b, ok := ctx.blobAt(offset)
	return ok && (!notEmpty || len(b) > 0)
}

// verifyUserString checks an entry of the #US heap: a UTF-16 payload plus one
// terminal byte that is 0 or 1.
func (ctx *verifyContext) verifyUserString(offset uint32) bool {
	b, ok := decodeBlobHeader(ctx.heap(streamUserStrings), offset)
	if !ok {
		return ctx.fail("User string at %#x is not inside the #US heap", offset)
	}
	if len(b) == 0 {
		return true
	}
	if len(b)%2 != 1 {
		return ctx.fail("User string at %#x has invalid size %d", offset, len(b))
	}
	if t := b[len(b)-1]; t > 1 {
		return ctx.fail("User string at %#x has invalid terminal byte %d", offset, t)
	}
	return true
}
