// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"golang.org/x/crypto/cryptobyte"

	"go.opentelemetry.io/clrverify/ecma335"
)

// The signature productions of ECMA-335 II.23.2. Every parser consumes its
// production from s and returns false after recording a diagnostic. A failed
// read never advances s.

func peek(s *cryptobyte.String) (ecma335.ElementType, bool) {
	if len(*s) == 0 {
		return 0, false
	}
	return ecma335.ElementType((*s)[0]), true
}

// skipIf consumes the next byte if it equals et.
func skipIf(s *cryptobyte.String, et ecma335.ElementType) bool {
	if b, ok := peek(s); ok && b == et {
		return s.Skip(1)
	}
	return false
}

func (ctx *verifyContext) readCompressed(s *cryptobyte.String, out *uint32,
	production, what string) bool {
	if !ecma335.ReadCompressedUint(s, out) {
		return ctx.fail("%s: Not enough room for the %s", production, what)
	}
	return true
}

// parseTypeDefOrRefEncoded reads a TypeDefOrRefOrSpecEncoded token.
func (ctx *verifyContext) parseTypeDefOrRefEncoded(s *cryptobyte.String,
	production string) (uint32, bool) {
	var v uint32
	if !ctx.readCompressed(s, &v, production, "token") {
		return 0, false
	}
	if !ctx.isValidNonNullCodedIndex(ecma335.TypeDefOrRef, v) {
		return 0, ctx.fail("%s: Invalid TypeDefOrRef token %#x", production, v)
	}
	if ctx.token != 0 {
		if tok, _ := ecma335.TypeDefOrRef.Token(v); tok == ctx.token {
			return 0, ctx.fail("%s: Recursive type specification", production)
		}
	}
	return v, true
}

func (ctx *verifyContext) parseCustomMods(s *cryptobyte.String) bool {
	for {
		b, ok := peek(s)
		if !ok || (b != ecma335.ElementCModReqd && b != ecma335.ElementCModOpt) {
			return true
		}
		s.Skip(1)
		if _, ok := ctx.parseTypeDefOrRefEncoded(s, "CustomMod"); !ok {
			return false
		}
	}
}

func isValidTypeTag(et ecma335.ElementType) bool {
	switch {
	case et >= ecma335.ElementBoolean && et <= ecma335.ElementPtr,
		et >= ecma335.ElementValueType && et <= ecma335.ElementGenericInst,
		et == ecma335.ElementI, et == ecma335.ElementU,
		et >= ecma335.ElementFnPtr && et <= ecma335.ElementMVar:
		return true
	}
	return false
}

func (ctx *verifyContext) parseType(s *cryptobyte.String) bool {
	if !ctx.enter() {
		return false
	}
	defer ctx.leave()

	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("Type: Not enough room for the type")
	}
	et := ecma335.ElementType(b)
	if !isValidTypeTag(et) {
		return ctx.fail("Type: Invalid type kind %#x", b)
	}

	switch et {
	case ecma335.ElementPtr:
		if !ctx.parseCustomMods(s) {
			return false
		}
		if skipIf(s, ecma335.ElementVoid) {
			return true
		}
		return ctx.parseType(s)
	case ecma335.ElementValueType, ecma335.ElementClass:
		_, ok := ctx.parseTypeDefOrRefEncoded(s, "Type")
		return ok
	case ecma335.ElementVar, ecma335.ElementMVar:
		var n uint32
		return ctx.readCompressed(s, &n, "Type", "generic parameter number")
	case ecma335.ElementArray:
		return ctx.parseType(s) && ctx.parseArrayShape(s)
	case ecma335.ElementGenericInst:
		return ctx.parseGenericInst(s)
	case ecma335.ElementFnPtr:
		return ctx.parseMethodSignature(s, true, true)
	case ecma335.ElementSzArray:
		return ctx.parseCustomMods(s) && ctx.parseType(s)
	}
	return true
}

func (ctx *verifyContext) parseArrayShape(s *cryptobyte.String) bool {
	var rank, n, v uint32
	if !ctx.readCompressed(s, &rank, "ArrayShape", "rank") {
		return false
	}
	if rank == 0 {
		return ctx.fail("ArrayShape: Invalid rank 0")
	}
	if !ctx.readCompressed(s, &n, "ArrayShape", "number of sizes") {
		return false
	}
	for i := uint32(0); i < n; i++ {
		if !ctx.readCompressed(s, &v, "ArrayShape", "size") {
			return false
		}
	}
	if !ctx.readCompressed(s, &n, "ArrayShape", "number of lower bounds") {
		return false
	}
	for i := uint32(0); i < n; i++ {
		if !ctx.readCompressed(s, &v, "ArrayShape", "lower bound") {
			return false
		}
	}
	return true
}

func (ctx *verifyContext) parseGenericInst(s *cryptobyte.String) bool {
	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("GenericInst: Not enough room for the kind")
	}
	if et := ecma335.ElementType(b); et != ecma335.ElementClass &&
		et != ecma335.ElementValueType {
		return ctx.fail("GenericInst: Invalid kind %#x", b)
	}
	base, ok := ctx.parseTypeDefOrRefEncoded(s, "GenericInst")
	if !ok {
		return false
	}
	if ecma335.TypeDefOrRef.Table(base) == ecma335.TableTypeSpec {
		return ctx.fail("GenericInst: The generic type cannot be a TypeSpec")
	}
	var count uint32
	if !ctx.readCompressed(s, &count, "GenericInst", "generic argument count") {
		return false
	}
	if count == 0 {
		return ctx.fail("GenericInst: Zero generic arguments")
	}
	for i := uint32(0); i < count; i++ {
		if !ctx.parseCustomMods(s) || !ctx.parseType(s) {
			return false
		}
	}
	return true
}

func (ctx *verifyContext) parseReturnType(s *cryptobyte.String) bool {
	if !ctx.parseCustomMods(s) {
		return false
	}
	b, ok := peek(s)
	if !ok {
		return ctx.fail("ReturnType: Not enough room for the type")
	}
	switch b {
	case ecma335.ElementVoid, ecma335.ElementTypedByRef:
		return s.Skip(1)
	case ecma335.ElementByRef:
		s.Skip(1)
	}
	return ctx.parseType(s)
}

func (ctx *verifyContext) parseParam(s *cryptobyte.String) bool {
	if !ctx.parseCustomMods(s) {
		return false
	}
	if skipIf(s, ecma335.ElementTypedByRef) {
		return true
	}
	if skipIf(s, ecma335.ElementByRef) {
		if b, ok := peek(s); ok && b == ecma335.ElementTypedByRef {
			return ctx.fail("Param: Invalid usage of byref with typedbyref")
		}
	}
	return ctx.parseType(s)
}

// parseMethodSignature parses a MethodDefSig, MethodRefSig or StandAloneMethodSig.
// Call site signatures allow a sentinel. Standalone signatures may also use
// the unmanaged calling conventions.
func (ctx *verifyContext) parseMethodSignature(s *cryptobyte.String,
	allowSentinel, allowUnmanaged bool) bool {
	var cconv uint8
	if !s.ReadUint8(&cconv) {
		return ctx.fail("MethodSig: Not enough room for the call conv")
	}
	if cconv&ecma335.CallConvReserved != 0 {
		return ctx.fail("MethodSig: CallConv has 0x80 set")
	}
	kind := cconv & ecma335.CallConvMask
	if allowUnmanaged {
		if kind > ecma335.CallConvVarArg {
			return ctx.fail("MethodSig: CallConv is not valid, it's %#x", kind)
		}
	} else if kind != ecma335.CallConvDefault && kind != ecma335.CallConvVarArg {
		return ctx.fail("MethodSig: CallConv is not Default or Vararg, it's %#x", kind)
	}

	var n uint32
	if cconv&ecma335.CallConvGeneric != 0 {
		if !ctx.readCompressed(s, &n, "MethodSig", "generic param count") {
			return false
		}
		if n == 0 {
			return ctx.fail("MethodSig: Signature with generics but zero arity")
		}
		if allowUnmanaged {
			return ctx.fail("MethodSig: Standalone signatures cannot be generic")
		}
	}

	var params uint32
	if !ctx.readCompressed(s, &params, "MethodSig", "param count") {
		return false
	}
	if !ctx.parseReturnType(s) {
		return false
	}

	sentinel := false
	for i := uint32(0); i < params; i++ {
		if skipIf(s, ecma335.ElementSentinel) {
			switch {
			case kind != ecma335.CallConvVarArg:
				return ctx.fail("MethodSig: Found sentinel but signature is not vararg")
			case !allowSentinel:
				return ctx.fail("MethodSig: Sentinel not allowed in this signature")
			case sentinel:
				return ctx.fail("MethodSig: More than one sentinel type")
			}
			sentinel = true
		}
		if !ctx.parseParam(s) {
			return false
		}
	}
	return true
}

func (ctx *verifyContext) parsePropertySignature(s *cryptobyte.String) bool {
	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("PropertySig: Not enough room for the signature kind")
	}
	if b&^ecma335.CallConvHasThis != ecma335.CallConvProperty {
		return ctx.fail("PropertySig: Invalid signature kind %#x", b)
	}
	var params uint32
	if !ctx.readCompressed(s, &params, "PropertySig", "param count") {
		return false
	}
	if !ctx.parseCustomMods(s) || !ctx.parseType(s) {
		return false
	}
	for i := uint32(0); i < params; i++ {
		if !ctx.parseParam(s) {
			return false
		}
	}
	return true
}

func (ctx *verifyContext) parseFieldSignature(s *cryptobyte.String) bool {
	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("FieldSig: Not enough room for the signature kind")
	}
	if b != ecma335.CallConvField {
		return ctx.fail("FieldSig: Invalid signature kind %#x", b)
	}
	if !ctx.parseCustomMods(s) {
		return false
	}
	skipIf(s, ecma335.ElementByRef)
	return ctx.parseType(s)
}

func (ctx *verifyContext) parseLocalsSignature(s *cryptobyte.String) bool {
	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("LocalsSig: Not enough room for the signature kind")
	}
	if b != ecma335.CallConvLocalSig {
		return ctx.fail("LocalsSig: Invalid signature kind %#x", b)
	}
	var count uint32
	if !ctx.readCompressed(s, &count, "LocalsSig", "local count") {
		return false
	}
	for i := uint32(0); i < count; i++ {
		for {
			if b, ok := peek(s); ok && (b == ecma335.ElementCModReqd ||
				b == ecma335.ElementCModOpt) {
				if !ctx.parseCustomMods(s) {
					return false
				}
				continue
			}
			if !skipIf(s, ecma335.ElementPinned) {
				break
			}
		}
		if skipIf(s, ecma335.ElementByRef) {
			if b, ok := peek(s); ok && b == ecma335.ElementTypedByRef {
				return ctx.fail("LocalsSig: Invalid usage of byref with typedbyref")
			}
		}
		if skipIf(s, ecma335.ElementTypedByRef) {
			continue
		}
		if !ctx.parseType(s) {
			return false
		}
	}
	return true
}

func (ctx *verifyContext) parseTypeSpec(s *cryptobyte.String) bool {
	if !ctx.parseCustomMods(s) {
		return false
	}
	if b, ok := peek(s); ok && b == ecma335.ElementTypedByRef {
		return ctx.fail("TypeSpec: Invalid type typedbyref")
	}
	if skipIf(s, ecma335.ElementByRef) {
		if b, ok := peek(s); ok && b == ecma335.ElementTypedByRef {
			return ctx.fail("TypeSpec: Invalid usage of byref with typedbyref")
		}
	}
	return ctx.parseType(s)
}

func (ctx *verifyContext) parseMethodSpec(s *cryptobyte.String) bool {
	var b uint8
	if !s.ReadUint8(&b) {
		return ctx.fail("MethodSpec: Not enough room for the signature kind")
	}
	if b != ecma335.CallConvGenericInst {
		return ctx.fail("MethodSpec: Invalid signature kind %#x", b)
	}
	var count uint32
	if !ctx.readCompressed(s, &count, "MethodSpec", "generic argument count") {
		return false
	}
	if count == 0 {
		return ctx.fail("MethodSpec: Zero generic arguments")
	}
	for i := uint32(0); i < count; i++ {
		if !ctx.parseCustomMods(s) || !ctx.parseType(s) {
			return false
		}
	}
	return true
}

func (ctx *verifyContext) parseStandaloneSignature(s *cryptobyte.String) bool {
	b, ok := peek(s)
	if !ok {
		return ctx.fail("StandAloneSig: Not enough room for the signature kind")
	}
	switch b {
	case ecma335.CallConvLocalSig:
		return ctx.parseLocalsSignature(s)
	case ecma335.CallConvField:
		return ctx.parseFieldSignature(s)
	}
	return ctx.parseMethodSignature(s, true, true)
}

// parseMemberRefSignature dispatches on the first byte to the field or the
// call site method grammar.
func (ctx *verifyContext) parseMemberRefSignature(s *cryptobyte.String) bool {
	if b, ok := peek(s); ok && b == ecma335.CallConvField {
		return ctx.parseFieldSignature(s)
	}
	return ctx.parseMethodSignature(s, true, false)
}

// verifyBlob decodes the blob at offset and runs parse over its contents.
func (ctx *verifyContext) verifyBlob(offset uint32, production string,
	parse func(*cryptobyte.String) bool) bool {
	b, ok := ctx.blobAt(offset)
	if !ok {
		return ctx.fail("%s: Invalid blob offset %#x", production, offset)
	}
	if len(b) == 0 {
		return ctx.fail("%s: Empty signature blob at %#x", production, offset)
	}
	s := cryptobyte.String(b)
	ctx.depth = 0
	return parse(&s)
}
