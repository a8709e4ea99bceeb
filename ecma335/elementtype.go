// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335 // import "go.opentelemetry.io/clrverify/ecma335"

// ElementType is a signature element type tag (ECMA-335 §II.23.1.16).
type ElementType uint8

const (
	ElementEnd         ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0a
	ElementU8          ElementType = 0x0b
	ElementR4          ElementType = 0x0c
	ElementR8          ElementType = 0x0d
	ElementString      ElementType = 0x0e
	ElementPtr         ElementType = 0x0f
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1b
	ElementObject      ElementType = 0x1c
	ElementSzArray     ElementType = 0x1d
	ElementMVar        ElementType = 0x1e
	ElementCModReqd    ElementType = 0x1f
	ElementCModOpt     ElementType = 0x20
	ElementInternal    ElementType = 0x21
	ElementModifier    ElementType = 0x40
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45

	// Custom attribute encoding only.
	ElementSystemType ElementType = 0x50
	ElementBoxed      ElementType = 0x51
	ElementField      ElementType = 0x53
	ElementProperty   ElementType = 0x54
	ElementEnum       ElementType = 0x55
)

// IsPrimitive reports whether e is BOOLEAN through STRING.
func (e ElementType) IsPrimitive() bool {
	return e >= ElementBoolean && e <= ElementString
}

// PrimitiveSize returns the encoded size of a fixed size primitive, or 0.
func (e ElementType) PrimitiveSize() uint32 {
	switch e {
	case ElementBoolean, ElementI1, ElementU1:
		return 1
	case ElementChar, ElementI2, ElementU2:
		return 2
	case ElementI4, ElementU4, ElementR4:
		return 4
	case ElementI8, ElementU8, ElementR8:
		return 8
	}
	return 0
}

// Signature leading bytes and calling conventions (ECMA-335 §II.23.2).
const (
	CallConvDefault      = 0x00
	CallConvC            = 0x01
	CallConvStdCall      = 0x02
	CallConvThisCall     = 0x03
	CallConvFastCall     = 0x04
	CallConvVarArg       = 0x05
	CallConvField        = 0x06
	CallConvLocalSig     = 0x07
	CallConvProperty     = 0x08
	CallConvGenericInst  = 0x0a
	CallConvMask         = 0x0f
	CallConvGeneric      = 0x10
	CallConvHasThis      = 0x20
	CallConvExplicitThis = 0x40
	CallConvReserved     = 0x80
)
