// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrverify/ecma335"
	"go.opentelemetry.io/clrverify/internal/testimage"
)

// typeSpecRef is the TypeDefOrRef coded index of TypeSpec row 1.
const typeSpecRef = 1<<2 | 2

func TestSignatures(t *testing.T) {
	type verifyFunc func(img *Image, offset uint32) *Result
	typeSpec := func(img *Image, offset uint32) *Result {
		return VerifyTypeSpecSignature(img, offset, 0)
	}
	selfTypeSpec := func(img *Image, offset uint32) *Result {
		return VerifyTypeSpecSignature(img, offset, ecma335.MakeToken(ecma335.TableTypeSpec, 1))
	}

	tests := map[string]struct {
		verify  verifyFunc
		blob    []byte
		message string
	}{
		"field i4": {
			verify: VerifyFieldSignature,
			blob:   []byte{0x06, 0x08},
		},
		"field szarray of class": {
			verify: VerifyFieldSignature,
			blob:   []byte{0x06, 0x1d, 0x12, 1<<2 | 0},
		},
		"field with custom modifier": {
			verify: VerifyFieldSignature,
			blob:   []byte{0x06, 0x1f, 1<<2 | 0, 0x08},
		},
		"field wrong kind": {
			verify:  VerifyFieldSignature,
			blob:    []byte{0x07, 0x08},
			message: "FieldSig: Invalid signature kind 0x7",
		},
		"field invalid type": {
			verify:  VerifyFieldSignature,
			blob:    []byte{0x06, 0x17},
			message: "Type: Invalid type kind 0x17",
		},
		"field truncated": {
			verify:  VerifyFieldSignature,
			blob:    []byte{0x06},
			message: "Type: Not enough room for the type",
		},
		"field null class": {
			verify:  VerifyFieldSignature,
			blob:    []byte{0x06, 0x12, 0x00},
			message: "Type: Invalid TypeDefOrRef token 0x0",
		},
		"field array rank zero": {
			verify:  VerifyFieldSignature,
			blob:    []byte{0x06, 0x14, 0x08, 0x00, 0x00, 0x00},
			message: "ArrayShape: Invalid rank 0",
		},
		"field array": {
			verify: VerifyFieldSignature,
			blob:   []byte{0x06, 0x14, 0x08, 0x02, 0x01, 0x04, 0x01, 0x00},
		},
		"method void": {
			verify: VerifyMethodSignature,
			blob:   []byte{0x00, 0x00, 0x01},
		},
		"method instance with params": {
			verify: VerifyMethodSignature,
			blob:   []byte{0x20, 0x02, 0x08, 0x0e, 0x10, 0x08},
		},
		"method generic": {
			verify: VerifyMethodSignature,
			blob:   []byte{0x10, 0x01, 0x01, 0x1e, 0x00, 0x1e, 0x00},
		},
		"method high bit": {
			verify:  VerifyMethodSignature,
			blob:    []byte{0x80, 0x00, 0x01},
			message: "MethodSig: CallConv has 0x80 set",
		},
		"method generic zero arity": {
			verify:  VerifyMethodSignature,
			blob:    []byte{0x10, 0x00, 0x00, 0x01},
			message: "MethodSig: Signature with generics but zero arity",
		},
		"method unmanaged": {
			verify:  VerifyMethodSignature,
			blob:    []byte{0x02, 0x00, 0x01},
			message: "MethodSig: CallConv is not Default or Vararg",
		},
		"method sentinel": {
			verify:  VerifyMethodSignature,
			blob:    []byte{0x05, 0x01, 0x01, 0x41, 0x08},
			message: "MethodSig: Sentinel not allowed in this signature",
		},
		"method byref typedbyref": {
			verify:  VerifyMethodSignature,
			blob:    []byte{0x00, 0x01, 0x01, 0x10, 0x16},
			message: "Param: Invalid usage of byref with typedbyref",
		},
		"method missing param": {
			verify:  VerifyMethodSignature,
			blob:    []byte{0x00, 0x02, 0x01, 0x08},
			message: "Type: Not enough room for the type",
		},
		"empty blob": {
			verify:  VerifyMethodSignature,
			blob:    []byte{},
			message: "MethodSig: Empty signature blob at",
		},
		"standalone locals": {
			verify: VerifyStandaloneSignature,
			blob:   []byte{0x07, 0x02, 0x08, 0x45, 0x10, 0x0e},
		},
		"standalone vararg call site": {
			verify: VerifyStandaloneSignature,
			blob:   []byte{0x05, 0x02, 0x01, 0x08, 0x41, 0x0e},
		},
		"standalone duplicate sentinel": {
			verify:  VerifyStandaloneSignature,
			blob:    []byte{0x05, 0x02, 0x01, 0x41, 0x08, 0x41, 0x0e},
			message: "MethodSig: More than one sentinel type",
		},
		"standalone generic": {
			verify:  VerifyStandaloneSignature,
			blob:    []byte{0x10, 0x01, 0x00, 0x01},
			message: "MethodSig: Standalone signatures cannot be generic",
		},
		"typespec generic instance": {
			verify: typeSpec,
			blob:   []byte{0x15, 0x12, 1<<2 | 0, 0x01, 0x08},
		},
		"typespec typedbyref": {
			verify:  typeSpec,
			blob:    []byte{0x16},
			message: "TypeSpec: Invalid type typedbyref",
		},
		"typespec byref typedbyref": {
			verify:  typeSpec,
			blob:    []byte{0x10, 0x16},
			message: "TypeSpec: Invalid usage of byref with typedbyref",
		},
		"typespec byref": {
			verify: typeSpec,
			blob:   []byte{0x10, 0x08},
		},
		"generic instance of typespec": {
			verify:  typeSpec,
			blob:    []byte{0x15, 0x12, typeSpecRef, 0x01, 0x08},
			message: "GenericInst: The generic type cannot be a TypeSpec",
		},
		"generic instance kind": {
			verify:  typeSpec,
			blob:    []byte{0x15, 0x08, 1<<2 | 0, 0x01, 0x08},
			message: "GenericInst: Invalid kind 0x8",
		},
		"generic instance without arguments": {
			verify:  typeSpec,
			blob:    []byte{0x15, 0x11, 1<<2 | 0, 0x00},
			message: "GenericInst: Zero generic arguments",
		},
		"typespec refers to itself": {
			verify:  selfTypeSpec,
			blob:    []byte{0x1d, 0x12, typeSpecRef},
			message: "Recursive type specification",
		},
		"methodspec": {
			verify: VerifyMethodSpecSignature,
			blob:   []byte{0x0a, 0x02, 0x08, 0x0e},
		},
		"methodspec zero arguments": {
			verify:  VerifyMethodSpecSignature,
			blob:    []byte{0x0a, 0x00},
			message: "MethodSpec: Zero generic arguments",
		},
		"methodspec kind": {
			verify:  VerifyMethodSpecSignature,
			blob:    []byte{0x06, 0x01, 0x08},
			message: "MethodSpec: Invalid signature kind 0x6",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := testimage.NewAssembly()
			b.AddRow(ecma335.TableTypeSpec, b.Blob([]byte{0x1d, 0x08}))
			offset := b.Blob(tc.blob)
			res := tc.verify(build(b), offset)
			assert.Equal(t, PassOnDemand, res.Pass)
			if tc.message == "" {
				assert.True(t, res.Valid, "%q", messages(res))
				assert.Empty(t, res.Diagnostics)
				return
			}
			assert.False(t, res.Valid)
			d := requireMessage(t, res, tc.message)
			assert.Equal(t, KindRow, d.Kind)
		})
	}
}

func TestSignatureBlobOffset(t *testing.T) {
	res := VerifyFieldSignature(build(testimage.NewAssembly()), 0x10000)
	assert.False(t, res.Valid)
	requireMessage(t, res, "FieldSig: Invalid blob offset 0x10000")
}

func TestSignatureDepth(t *testing.T) {
	nested := func(n int) []byte {
		sig := append([]byte{0x06}, bytes.Repeat([]byte{0x1d}, n)...)
		return append(sig, 0x08)
	}

	v, err := New(Config{ReportDiagnostics: true, MaxSignatureDepth: 4})
	require.NoError(t, err)

	b := testimage.NewAssembly()
	shallow := b.Blob(nested(3))
	deep := b.Blob(nested(4))
	img := build(b)

	assert.True(t, v.VerifyFieldSignature(img, shallow).Valid)

	res := v.VerifyFieldSignature(img, deep)
	assert.False(t, res.Valid)
	requireMessage(t, res, "Signature nesting exceeds 4 levels")

	b = testimage.NewAssembly()
	offset := b.Blob(nested(DefaultMaxSignatureDepth * 2))
	res = VerifyFieldSignature(build(b), offset)
	assert.False(t, res.Valid)
	requireMessage(t, res, "Signature nesting exceeds 100 levels")
}

func TestUserStrings(t *testing.T) {
	b := testimage.NewAssembly()
	ascii := b.UserString("hello")
	wide := b.UserString("hé世")
	empty := b.RawUserString(nil)
	even := b.RawUserString([]byte{'a', 0})
	terminal := b.RawUserString([]byte{'a', 0, 5})
	img := build(b)

	tests := map[string]struct {
		offset  uint32
		message string
	}{
		"ascii":         {offset: ascii},
		"wide":          {offset: wide},
		"empty":         {offset: empty},
		"null entry":    {offset: 0},
		"even size":     {offset: even, message: "has invalid size 2"},
		"terminal byte": {offset: terminal, message: "has invalid terminal byte 5"},
		"out of heap":   {offset: 0x4000, message: "is not inside the #US heap"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res := VerifyUserString(img, tc.offset)
			if tc.message == "" {
				assert.True(t, res.Valid, "%q", messages(res))
				return
			}
			assert.False(t, res.Valid)
			requireMessage(t, res, tc.message)
		})
	}
}
