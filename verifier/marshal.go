// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"golang.org/x/crypto/cryptobyte"
)

// NATIVE_TYPE values of ECMA-335 II.23.4 and the common extensions.
const (
	nativeTypeBoolean          = 0x02
	nativeTypeFixedSysString   = 0x17
	nativeTypeIUnknown         = 0x19
	nativeTypeIDispatch        = 0x1a
	nativeTypeInterface        = 0x1c
	nativeTypeSafeArray        = 0x1d
	nativeTypeFixedArray       = 0x1e
	nativeTypeArray            = 0x2a
	nativeTypeCustomMarshaler  = 0x2c
	nativeTypeLast             = 0x30
	nativeTypeMax              = 0x50
	customMarshalerStringCount = 4
)

func isValidNativeType(b uint8) bool {
	return (b >= nativeTypeBoolean && b <= nativeTypeLast) || b == nativeTypeMax
}

// readOptionalCompressed reads a trailing compressed integer if one is present.
func (ctx *verifyContext) readOptionalCompressed(s *cryptobyte.String, what string) bool {
	if len(*s) == 0 {
		return true
	}
	var v uint32
	return ctx.readCompressed(s, &v, "MarshalSpec", what)
}

// parseMarshalSpec parses a FieldMarshal NativeType blob.
func (ctx *verifyContext) parseMarshalSpec(s *cryptobyte.String) bool {
	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("MarshalSpec: Not enough room for the native type")
	}
	if !isValidNativeType(b) {
		return ctx.fail("MarshalSpec: Invalid native type %#x", b)
	}

	switch b {
	case nativeTypeFixedSysString:
		var n uint32
		return ctx.readCompressed(s, &n, "MarshalSpec", "string size")
	case nativeTypeFixedArray:
		var n uint32
		if !ctx.readCompressed(s, &n, "MarshalSpec", "element count") {
			return false
		}
		if et, ok := peek(s); ok && !isValidNativeType(uint8(et)) {
			return ctx.fail("MarshalSpec: Invalid array element type %#x", uint8(et))
		}
		return true
	case nativeTypeArray:
		if len(*s) == 0 {
			return true
		}
		var et uint8
		s.ReadUint8(&et)
		if !isValidNativeType(et) {
			return ctx.fail("MarshalSpec: Invalid array element type %#x", et)
		}
		return ctx.readOptionalCompressed(s, "parameter number") &&
			ctx.readOptionalCompressed(s, "element count") &&
			ctx.readOptionalCompressed(s, "flags")
	case nativeTypeSafeArray:
		return ctx.readOptionalCompressed(s, "variant type")
	case nativeTypeIUnknown, nativeTypeIDispatch, nativeTypeInterface:
		return ctx.readOptionalCompressed(s, "iid parameter index")
	case nativeTypeCustomMarshaler:
		for i := 0; i < customMarshalerStringCount; i++ {
			var n uint32
			if !ctx.readCompressed(s, &n, "MarshalSpec", "custom marshaler string size") {
				return false
			}
			if !s.Skip(int(n)) {
				return ctx.fail("MarshalSpec: Not enough room for custom marshaler string %d", i)
			}
		}
	}
	return true
}

const permissionSetBinaryFormat = '.'

// parsePermissionSet parses a DeclSecurity PermissionSet blob: either the
// binary attribute format or a UTF-16 XML document.
func (ctx *verifyContext) parsePermissionSet(s *cryptobyte.String) bool {
	if b, ok := peek(s); !ok || b != permissionSetBinaryFormat {
		if len(*s)%2 != 0 {
			return ctx.fail("PermissionSet: XML permission set has odd size %d", len(*s))
		}
		return true
	}
	s.Skip(1)
	var count uint32
	if !ctx.readCompressed(s, &count, "PermissionSet", "attribute count") {
		return false
	}
	for i := uint32(0); i < count; i++ {
		name, null, ok := ctx.readSerString(s)
		if !ok {
			return false
		}
		if null || len(name) == 0 {
			return ctx.fail("PermissionSet: Attribute %d has no type name", i)
		}
		var n uint32
		if !ctx.readCompressed(s, &n, "PermissionSet", "attribute blob size") {
			return false
		}
		if !s.Skip(int(n)) {
			return ctx.fail("PermissionSet: Not enough room for attribute %d", i)
		}
	}
	return true
}
