// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package bounds implements overflow-checked arithmetic over byte offsets and
// sizes. Every range derived from untrusted image data is validated through
// these helpers before its contents are read.
package bounds // import "go.opentelemetry.io/clrverify/bounds"

import (
	"golang.org/x/exp/constraints"
)

// Add returns a+b and true, or zero and false if the sum wraps.
func Add[T constraints.Unsigned](a, b T) (T, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// Mul returns a*b and true, or zero and false if the product wraps.
func Mul[T constraints.Unsigned](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	prod := a * b
	if prod/b != a {
		return 0, false
	}
	return prod, true
}

// Fits reports whether [offset, offset+size) lies within a buffer of length n.
func Fits[T constraints.Unsigned](offset, size, n T) bool {
	end, ok := Add(offset, size)
	return ok && end <= n
}

// AlignUp rounds v up to the next multiple of align, which must be a power of two.
// The second return value is false if the result does not fit in T.
func AlignUp[T constraints.Unsigned](v, align T) (T, bool) {
	mask := align - 1
	sum, ok := Add(v, mask)
	if !ok {
		return 0, false
	}
	return sum &^ mask, true
}

// Range is a validated byte range.
type Range struct {
	Offset uint32
	Size   uint32
}

// End returns the exclusive end of the range and false on overflow.
func (r Range) End() (uint32, bool) {
	return Add(r.Offset, r.Size)
}

// Contains reports whether [offset, offset+size) lies within r. The offset is
// absolute, i.e. in the same coordinate space as r.Offset.
func (r Range) Contains(offset, size uint32) bool {
	if offset < r.Offset || size > r.Size {
		return false
	}
	end, ok := Add(offset, size)
	if !ok {
		return false
	}
	rend, ok := r.End()
	return ok && end <= rend
}

// ContainsRelative reports whether [r.Offset+rel, r.Offset+rel+size) lies within r.
func (r Range) ContainsRelative(rel, size uint32) bool {
	abs, ok := Add(r.Offset, rel)
	if !ok {
		return false
	}
	return r.Contains(abs, size)
}

// Slice returns the bytes of data covered by r, or nil if r does not fit.
func (r Range) Slice(data []byte) []byte {
	if !Fits(uint64(r.Offset), uint64(r.Size), uint64(len(data))) {
		return nil
	}
	return data[r.Offset : r.Offset+r.Size]
}
