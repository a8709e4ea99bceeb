// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"

	"go.opentelemetry.io/clrverify/ecma335"
)

const (
	customAttributeProlog = 0x0001
	// serStringNull encodes a null SerString or type name.
	serStringNull = 0xff
	// szArrayNull is the element count of a null array.
	szArrayNull = 0xffffffff
)

// caType is the type of a custom attribute argument (ECMA-335 II.23.3).
type caType struct {
	// kind is a primitive, ElementString, ElementSystemType, ElementBoxed,
	// ElementEnum or ElementSzArray.
	kind ecma335.ElementType
	// underlying is the integer type of an enum.
	underlying ecma335.ElementType
	elem       *caType
}

func readUint16LE(s *cryptobyte.String, out *uint16) bool {
	var b []byte
	if !s.ReadBytes(&b, 2) {
		return false
	}
	*out = binary.LittleEndian.Uint16(b)
	return true
}

func readUint32LE(s *cryptobyte.String, out *uint32) bool {
	var b []byte
	if !s.ReadBytes(&b, 4) {
		return false
	}
	*out = binary.LittleEndian.Uint32(b)
	return true
}

// readSerString reads a SerString. A null string yields null == true.
func (ctx *verifyContext) readSerString(s *cryptobyte.String) (str []byte, null, ok bool) {
	b, ok := peek(s)
	if !ok {
		return nil, false, ctx.fail("CustomAttribute: Not enough room for the string size")
	}
	if b == serStringNull {
		s.Skip(1)
		return nil, true, true
	}
	var n uint32
	if !ctx.readCompressed(s, &n, "CustomAttribute", "string size") {
		return nil, false, false
	}
	if !s.ReadBytes(&str, int(n)) {
		return nil, false, ctx.fail("CustomAttribute: Not enough room for a string of %d bytes", n)
	}
	return str, false, true
}

// typeName returns the name and namespace of a TypeDef or TypeRef.
func (ctx *verifyContext) typeName(t ecma335.Table, row uint32) (name, namespace []byte) {
	switch t {
	case ecma335.TableTypeDef:
		r := ctx.row(t, row-1)
		name, _ = ctx.stringAt(r[ecma335.TypeDefName])
		namespace, _ = ctx.stringAt(r[ecma335.TypeDefNamespace])
	case ecma335.TableTypeRef:
		r := ctx.row(t, row-1)
		name, _ = ctx.stringAt(r[ecma335.TypeRefName])
		namespace, _ = ctx.stringAt(r[ecma335.TypeRefNamespace])
	}
	return name, namespace
}

func (ctx *verifyContext) isNamedType(coded uint32, namespace, name string) bool {
	t := ecma335.TypeDefOrRef.Table(coded)
	n, ns := ctx.typeName(t, ecma335.TypeDefOrRef.Row(coded))
	return string(n) == name && string(ns) == namespace
}

// isEnumUnderlyingType reports whether et may back an enum.
func isEnumUnderlyingType(et ecma335.ElementType) bool {
	return et >= ecma335.ElementBoolean && et <= ecma335.ElementU8
}

// typeDefEnumUnderlying returns the type of the value__ field of the zero
// based TypeDef row i.
func (ctx *verifyContext) typeDefEnumUnderlying(i uint32) (ecma335.ElementType, bool) {
	const t = ecma335.TableTypeDef
	r := ctx.row(t, i)
	extends := r[ecma335.TypeDefExtends]
	if !ctx.isValidNonNullCodedIndex(ecma335.TypeDefOrRef, extends) ||
		!ctx.isNamedType(extends, "System", "Enum") {
		return 0, false
	}
	first := r[ecma335.TypeDefFieldList]
	end := ctx.listEnd(t, i, ecma335.TypeDefFieldList, ecma335.TableField)
	for f := first; f < end && f <= ctx.rows(ecma335.TableField); f++ {
		fr := ctx.row(ecma335.TableField, f-1)
		if fr[ecma335.FieldFlags]&ecma335.FieldStatic != 0 {
			continue
		}
		sig, ok := ctx.blobAt(fr[ecma335.FieldSignature])
		if !ok {
			return 0, false
		}
		s := cryptobyte.String(sig)
		var kind uint8
		if !s.ReadUint8(&kind) || kind != ecma335.CallConvField {
			return 0, false
		}
		for {
			b, ok := peek(&s)
			if !ok {
				return 0, false
			}
			if b != ecma335.ElementCModReqd && b != ecma335.ElementCModOpt {
				break
			}
			var tok uint32
			s.Skip(1)
			if !ecma335.ReadCompressedUint(&s, &tok) {
				return 0, false
			}
		}
		et, _ := peek(&s)
		return et, isEnumUnderlyingType(et)
	}
	return 0, false
}

// enumUnderlying resolves the underlying type of the enum referenced by a
// TypeDefOrRef coded index. Enums defined in other modules are assumed to be
// backed by I4. A TypeSpec never names an enum.
func (ctx *verifyContext) enumUnderlying(coded uint32) (ecma335.ElementType, bool) {
	switch ecma335.TypeDefOrRef.Table(coded) {
	case ecma335.TableTypeRef:
		return ecma335.ElementI4, true
	case ecma335.TableTypeDef:
	default:
		return 0, ctx.fail("CustomAttribute: Value type %#x is not an enum", coded)
	}
	et, ok := ctx.typeDefEnumUnderlying(ecma335.TypeDefOrRef.Row(coded) - 1)
	if !ok {
		return 0, ctx.fail("CustomAttribute: Value type %#x is not an enum", coded)
	}
	return et, true
}

// enumUnderlyingByName resolves an enum named in a custom attribute blob,
// such as "Namespace.Type, Assembly" or "Namespace.Outer+Inner".
func (ctx *verifyContext) enumUnderlyingByName(name []byte) ecma335.ElementType {
	if i := bytes.IndexByte(name, ','); i >= 0 {
		name = name[:i]
	}
	name = bytes.TrimSpace(name)
	var namespace []byte
	if i := bytes.LastIndexByte(name, '+'); i >= 0 {
		name = name[i+1:]
	} else if i := bytes.LastIndexByte(name, '.'); i >= 0 {
		namespace, name = name[:i], name[i+1:]
	}
	const t = ecma335.TableTypeDef
	for i := uint32(0); i < ctx.rows(t); i++ {
		n, ns := ctx.typeName(t, i+1)
		if !bytes.Equal(n, name) || !bytes.Equal(ns, namespace) {
			continue
		}
		if et, ok := ctx.typeDefEnumUnderlying(i); ok {
			return et
		}
		break
	}
	return ecma335.ElementI4
}

// ctorParamType reads one parameter type of an attribute constructor.
func (ctx *verifyContext) ctorParamType(s *cryptobyte.String) (caType, bool) {
	if !ctx.enter() {
		return caType{}, false
	}
	defer ctx.leave()

	if !ctx.parseCustomMods(s) {
		return caType{}, false
	}
	var b uint8
	if !s.ReadUint8(&b) {
		return caType{}, ctx.fail("CustomAttribute: Not enough room for the parameter type")
	}
	et := ecma335.ElementType(b)
	switch {
	case et.IsPrimitive():
		return caType{kind: et}, true
	case et == ecma335.ElementObject:
		return caType{kind: ecma335.ElementBoxed}, true
	case et == ecma335.ElementSzArray:
		elem, ok := ctx.ctorParamType(s)
		if !ok {
			return caType{}, false
		}
		if elem.kind == ecma335.ElementSzArray {
			return caType{}, ctx.fail("CustomAttribute: Nested arrays are not supported")
		}
		return caType{kind: ecma335.ElementSzArray, elem: &elem}, true
	case et == ecma335.ElementClass:
		tok, ok := ctx.parseTypeDefOrRefEncoded(s, "CustomAttribute")
		if !ok {
			return caType{}, false
		}
		if !ctx.isNamedType(tok, "System", "Type") {
			return caType{}, ctx.fail("CustomAttribute: Invalid class parameter type %#x", tok)
		}
		return caType{kind: ecma335.ElementSystemType}, true
	case et == ecma335.ElementValueType:
		tok, ok := ctx.parseTypeDefOrRefEncoded(s, "CustomAttribute")
		if !ok {
			return caType{}, false
		}
		underlying, ok := ctx.enumUnderlying(tok)
		return caType{kind: ecma335.ElementEnum, underlying: underlying}, ok
	}
	return caType{}, ctx.fail("CustomAttribute: Invalid parameter type %#x", b)
}

// ctorParamTypes decodes the parameter types of an attribute constructor.
func (ctx *verifyContext) ctorParamTypes(sig []byte) ([]caType, bool) {
	s := cryptobyte.String(sig)
	var cconv uint8
	if !s.ReadUint8(&cconv) {
		return nil, ctx.fail("CustomAttribute: Empty constructor signature")
	}
	if cconv&(ecma335.CallConvMask|ecma335.CallConvGeneric|ecma335.CallConvReserved) != 0 {
		return nil, ctx.fail("CustomAttribute: Invalid constructor calling convention %#x",
			cconv)
	}
	var count uint32
	if !ctx.readCompressed(&s, &count, "CustomAttribute", "param count") {
		return nil, false
	}
	if !ctx.parseCustomMods(&s) {
		return nil, false
	}
	if !skipIf(&s, ecma335.ElementVoid) {
		return nil, ctx.fail("CustomAttribute: Constructors must return void")
	}
	// Each parameter takes at least one byte.
	if uint64(count) > uint64(len(s)) {
		return nil, ctx.fail("CustomAttribute: Not enough room for %d parameters", count)
	}
	params := make([]caType, 0, count)
	for i := uint32(0); i < count; i++ {
		p, ok := ctx.ctorParamType(&s)
		if !ok {
			return nil, false
		}
		params = append(params, p)
	}
	return params, true
}

// parseFieldOrPropType reads the type of a named argument or of a boxed value.
func (ctx *verifyContext) parseFieldOrPropType(s *cryptobyte.String) (caType, bool) {
	if !ctx.enter() {
		return caType{}, false
	}
	defer ctx.leave()

	var b uint8
	if !s.ReadUint8(&b) {
		return caType{}, ctx.fail("CustomAttribute: Not enough room for the value type")
	}
	switch et := ecma335.ElementType(b); {
	case et.IsPrimitive(), et == ecma335.ElementSystemType, et == ecma335.ElementBoxed:
		return caType{kind: et}, true
	case et == ecma335.ElementEnum:
		name, null, ok := ctx.readSerString(s)
		if !ok {
			return caType{}, false
		}
		if null || len(name) == 0 {
			return caType{}, ctx.fail("CustomAttribute: Null enum type name")
		}
		return caType{kind: et, underlying: ctx.enumUnderlyingByName(name)}, true
	case et == ecma335.ElementSzArray:
		elem, ok := ctx.parseFieldOrPropType(s)
		if !ok {
			return caType{}, false
		}
		return caType{kind: et, elem: &elem}, true
	}
	return caType{}, ctx.fail("CustomAttribute: Invalid value type %#x", b)
}

func (ctx *verifyContext) skipValue(s *cryptobyte.String, n uint32) bool {
	if !s.Skip(int(n)) {
		return ctx.fail("CustomAttribute: Not enough room for a value of %d bytes", n)
	}
	return true
}

// parseCAValue reads one FixedArg or the value of a NamedArg of type t.
func (ctx *verifyContext) parseCAValue(s *cryptobyte.String, t caType) bool {
	if !ctx.enter() {
		return false
	}
	defer ctx.leave()

	switch t.kind {
	case ecma335.ElementString, ecma335.ElementSystemType:
		_, _, ok := ctx.readSerString(s)
		return ok
	case ecma335.ElementEnum:
		return ctx.skipValue(s, t.underlying.PrimitiveSize())
	case ecma335.ElementBoxed:
		inner, ok := ctx.parseFieldOrPropType(s)
		if !ok {
			return false
		}
		if inner.kind == ecma335.ElementBoxed {
			return ctx.fail("CustomAttribute: Boxed value cannot contain a boxed value")
		}
		return ctx.parseCAValue(s, inner)
	case ecma335.ElementSzArray:
		var n uint32
		if !readUint32LE(s, &n) {
			return ctx.fail("CustomAttribute: Not enough room for the array size")
		}
		if n == szArrayNull {
			return true
		}
		for i := uint32(0); i < n; i++ {
			if !ctx.parseCAValue(s, *t.elem) {
				return false
			}
		}
		return true
	}
	return ctx.skipValue(s, t.kind.PrimitiveSize())
}

// verifyCustomAttributeContent checks an attribute value blob against the
// signature of its constructor.
func (ctx *verifyContext) verifyCustomAttributeContent(ctorSig, blob []byte) bool {
	ctx.depth = 0
	params, ok := ctx.ctorParamTypes(ctorSig)
	if !ok {
		return false
	}
	s := cryptobyte.String(blob)
	var prolog uint16
	if !readUint16LE(&s, &prolog) {
		return ctx.fail("CustomAttribute: Not enough room for the prolog")
	}
	if prolog != customAttributeProlog {
		return ctx.fail("CustomAttribute: Invalid prolog %#04x", prolog)
	}
	for _, p := range params {
		if !ctx.parseCAValue(&s, p) {
			return false
		}
	}

	var named uint16
	if !readUint16LE(&s, &named) {
		return ctx.fail("CustomAttribute: Not enough room for the named argument count")
	}
	for i := uint16(0); i < named; i++ {
		var kind uint8
		if !s.ReadUint8(&kind) {
			return ctx.fail("CustomAttribute: Not enough room for the named argument kind")
		}
		if et := ecma335.ElementType(kind); et != ecma335.ElementField &&
			et != ecma335.ElementProperty {
			return ctx.fail("CustomAttribute: Invalid named argument kind %#x", kind)
		}
		t, ok := ctx.parseFieldOrPropType(&s)
		if !ok {
			return false
		}
		name, null, ok := ctx.readSerString(&s)
		if !ok {
			return false
		}
		if null || len(name) == 0 {
			return ctx.fail("CustomAttribute: Named argument %d has no name", i)
		}
		if !ctx.parseCAValue(&s, t) {
			return false
		}
	}
	return true
}

// ctorSignature returns the signature blob of an attribute constructor.
func (ctx *verifyContext) ctorSignature(coded uint32) ([]byte, bool) {
	row := ecma335.CustomAttributeType.Row(coded)
	var sig uint32
	switch ecma335.CustomAttributeType.Table(coded) {
	case ecma335.TableMethodDef:
		sig = ctx.column(ecma335.TableMethodDef, row-1, ecma335.MethodDefSignature)
	case ecma335.TableMemberRef:
		sig = ctx.column(ecma335.TableMemberRef, row-1, ecma335.MemberRefSignature)
	default:
		return nil, false
	}
	return ctx.blobAt(sig)
}

// verifyCustomAttributeBlob checks that the blob at offset is a well formed
// attribute value container.
func (ctx *verifyContext) verifyCustomAttributeBlob(offset uint32) bool {
	b, ok := ctx.blobAt(offset)
	if !ok {
		return ctx.fail("CustomAttribute: Invalid blob offset %#x", offset)
	}
	if len(b) < 2 {
		return ctx.fail("CustomAttribute: Blob of %d bytes is too small for the prolog", len(b))
	}
	if p := binary.LittleEndian.Uint16(b); p != customAttributeProlog {
		return ctx.fail("CustomAttribute: Invalid prolog %#04x", p)
	}
	return true
}
