// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrverify/ecma335"
	"go.opentelemetry.io/clrverify/internal/testimage"
)

// Row numbers of typesAssembly.
const (
	rowObject       = 1
	rowObsolete     = 2
	rowRunner       = 3
	rowFoo          = 2
	rowAnswer       = 1
	rowRun          = 1
	rowObsoleteCtor = 1
	rowRunnerRun    = 2
)

// typesAssembly returns an assembly with a class NS.Foo deriving from
// System.Object that has a constant field, a virtual method implementing
// IRunner.Run and an ObsoleteAttribute.
func typesAssembly() *testimage.Builder {
	b := testimage.NewAssembly()
	module := encode(ecma335.ResolutionScope, ecma335.TableModule, 1)
	b.AddRow(ecma335.TableTypeRef, module, b.String("Object"), b.String("System"))
	b.AddRow(ecma335.TableTypeRef, module, b.String("ObsoleteAttribute"), b.String("System"))
	b.AddRow(ecma335.TableTypeRef, module, b.String("IRunner"), b.String("NS"))

	b.AddRow(ecma335.TableTypeDef, ecma335.TypePublic, b.String("Foo"), b.String("NS"),
		encode(ecma335.TypeDefOrRef, ecma335.TableTypeRef, rowObject), rowAnswer, rowRun)
	b.AddRow(ecma335.TableField,
		ecma335.FieldPublic|ecma335.FieldStatic|ecma335.FieldHasDefault,
		b.String("Answer"), b.Blob([]byte{0x06, 0x08}))
	b.AddRow(ecma335.TableConstant, uint32(ecma335.ElementI4), 0,
		encode(ecma335.HasConstant, ecma335.TableField, rowAnswer), b.Blob([]byte{42, 0, 0, 0}))

	body := b.Code([]byte{0x02<<2 | 0x2, 0x00, 0x2a})
	b.AddRow(ecma335.TableMethodDef, body, 0, 0xc6, b.String("Run"),
		b.Blob([]byte{0x20, 0x00, 0x01}), 1)

	b.AddRow(ecma335.TableMemberRef,
		encode(ecma335.MemberRefParent, ecma335.TableTypeRef, rowObsolete),
		b.String(".ctor"), b.Blob([]byte{0x20, 0x01, 0x01, 0x0e}))
	b.AddRow(ecma335.TableMemberRef,
		encode(ecma335.MemberRefParent, ecma335.TableTypeRef, rowRunner),
		b.String("Run"), b.Blob([]byte{0x20, 0x00, 0x01}))
	b.AddRow(ecma335.TableCustomAttribute,
		encode(ecma335.HasCustomAttribute, ecma335.TableTypeDef, rowFoo),
		encode(ecma335.CustomAttributeType, ecma335.TableMemberRef, rowObsoleteCtor),
		b.Blob([]byte{0x01, 0x00, 3, 'o', 'l', 'd', 0x00, 0x00}))
	b.AddRow(ecma335.TableMethodImpl, rowFoo,
		encode(ecma335.MethodDefOrRef, ecma335.TableMethodDef, rowRun),
		encode(ecma335.MethodDefOrRef, ecma335.TableMemberRef, rowRunnerRun))
	b.AddRow(ecma335.TableStandAloneSig, b.Blob([]byte{0x07, 0x01, 0x08}))
	return b
}

func TestTypesAssembly(t *testing.T) {
	img := build(typesAssembly())
	for pass, verify := range allPasses {
		res := verify(img)
		assert.True(t, res.Valid, "%s: %q", pass, messages(res))
		assert.Empty(t, res.Diagnostics, pass)
	}
}

func TestTableRows(t *testing.T) {
	tests := map[string]struct {
		tweak   func(b *testimage.Builder)
		message string
	}{
		"second module": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableModule, 0, b.String("other.dll"), 1, 0, 0)
			},
			message: "Module table must have exactly one row, found 2",
		},
		"mvid": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableModule, 1, ecma335.ModuleMvid, 5)
			},
			message: "Module row 1: Invalid Mvid 0x5",
		},
		"enc id": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableModule, 1, ecma335.ModuleEncID, 1)
			},
			message: "Module row 1: EncId must be zero",
		},
		"resolution scope": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableTypeRef, rowObject, ecma335.TypeRefResolutionScope, 0)
			},
			message: "TypeRef row 1: Invalid resolution scope 0x0",
		},
		"extends null row": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableTypeDef, rowFoo, ecma335.TypeDefExtends,
					encode(ecma335.TypeDefOrRef, ecma335.TableTypeRef, 0))
			},
			message: "TypeDef row 2: Extends 0x1 refers to a null type",
		},
		"extends nothing": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableTypeDef, rowFoo, ecma335.TypeDefExtends, 0)
			},
			message: "TypeDef row 2: Null extends is only valid for <Module>",
		},
		"interface not abstract": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableTypeDef, ecma335.TypeInterface, b.String("IBar"), 0, 0,
					2, 2)
			},
			message: "TypeDef row 3: Interface types must be abstract",
		},
		"default without constant": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableConstant, 1, ecma335.ConstantParent,
					encode(ecma335.HasConstant, ecma335.TableField, 2))
				b.AddRow(ecma335.TableField, ecma335.FieldPublic|ecma335.FieldStatic,
					b.String("Other"), b.Blob([]byte{0x06, 0x08}))
			},
			message: "Field row 1: HasDefault is set but there is no Constant row",
		},
		"unsorted constants": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableField,
					ecma335.FieldPublic|ecma335.FieldStatic|ecma335.FieldHasDefault,
					b.String("Other"), b.Blob([]byte{0x06, 0x08}))
				b.SetColumn(ecma335.TableConstant, 1, ecma335.ConstantParent,
					encode(ecma335.HasConstant, ecma335.TableField, 2))
				b.AddRow(ecma335.TableConstant, uint32(ecma335.ElementI4), 0,
					encode(ecma335.HasConstant, ecma335.TableField, 1),
					b.Blob([]byte{1, 0, 0, 0}))
			},
			message: "the table must be sorted by Parent",
		},
		"constant size": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableConstant, 1, ecma335.ConstantValue,
					b.Blob([]byte{1, 0}))
			},
			message: "Constant row 1: Constant of type 0x8 must have 4 bytes, found 2",
		},
		"method without rva": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefRVA, 0)
			},
			message: "MethodDef row 1: Methods without RVA must be abstract",
		},
		"method rva": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefRVA, 0x100000)
			},
			message: "MethodDef row 1: Invalid RVA 0x100000",
		},
		"method impl flags": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefImplFlags, 0x0800)
			},
			message: "MethodDef row 1: Invalid implementation flags",
		},
		"second assembly": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableAssembly, ecma335.HashAlgSHA1, 1, 0, 0, 0, 0, 0,
					b.String("other"), 0)
			},
			message: "Assembly table can have at most one row, found 2",
		},
		"hash algorithm": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableAssembly, 1, ecma335.AssemblyHashAlgID, 0x1234)
			},
			message: "Assembly row 1: Invalid hash algorithm 0x1234",
		},
		"deprecated table": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableAssemblyOS, 0, 0, 0)
			},
			message: "Deprecated table AssemblyOS must be empty but has 1 rows",
		},
		"duplicate type": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableTypeDef, ecma335.TypePublic, b.String("Foo"),
					b.String("NS"), encode(ecma335.TypeDefOrRef, ecma335.TableTypeRef, rowObject),
					2, 2)
			},
			message: "TypeDef row 3: Duplicate type NS.Foo",
		},
		"duplicate type reference": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableTypeRef,
					encode(ecma335.ResolutionScope, ecma335.TableModule, 1),
					b.String("Object"), b.String("System"))
			},
			message: "TypeRef row 4: Duplicate type reference System.Object",
		},
		"duplicate method impl": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableMethodImpl, rowFoo,
					encode(ecma335.MethodDefOrRef, ecma335.TableMethodDef, rowRun),
					encode(ecma335.MethodDefOrRef, ecma335.TableMemberRef, rowRunnerRun))
			},
			message: "Duplicate implementation of",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := typesAssembly()
			tc.tweak(b)
			img := build(b)
			for _, verify := range []passFunc{VerifyTableRows, VerifyFullTableRows} {
				res := verify(img)
				assert.False(t, res.Valid)
				d := requireMessage(t, res, tc.message)
				assert.Equal(t, KindRow, d.Kind)
			}
			assert.True(t, VerifyCLIStructure(img).Valid)
		})
	}
}

func TestFullTableRows(t *testing.T) {
	tests := map[string]struct {
		tweak   func(b *testimage.Builder)
		message string
	}{
		"field signature": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableField, rowAnswer, ecma335.FieldSignature,
					b.Blob([]byte{0x06, 0x17}))
			},
			message: "Field row 1: Type: Invalid type kind 0x17",
		},
		"method signature": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefSignature,
					b.Blob([]byte{0xa0, 0x00, 0x01}))
			},
			message: "MethodDef row 1: MethodSig: CallConv has 0x80 set",
		},
		"method body": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefRVA,
					b.Code([]byte{0x00}))
			},
			message: "MethodHeader: Invalid header format 0x0",
		},
		"locals signature": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableStandAloneSig, 1, ecma335.StandAloneSigSignature,
					b.Blob([]byte{0x07, 0x01, 0x17}))
				b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefRVA,
					b.Code(fatHeader(0x3013,
						uint32(ecma335.MakeToken(ecma335.TableStandAloneSig, 1)),
						[]byte{0x2a})))
			},
			message: "Type: Invalid type kind 0x17",
		},
		"attribute value": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableCustomAttribute, 1, ecma335.CustomAttributeValue,
					b.Blob([]byte{0x01, 0x00, 9, 'o', 'l', 'd', 0x00, 0x00}))
			},
			message: "CustomAttribute: Not enough room for a string of 9 bytes",
		},
		"member reference signature": {
			tweak: func(b *testimage.Builder) {
				b.SetColumn(ecma335.TableMemberRef, rowRunnerRun, ecma335.MemberRefSignature,
					b.Blob([]byte{0x20, 0x01, 0x01}))
			},
			message: "MemberRef row 2: Type: Not enough room for the type",
		},
		"event accessors": {
			tweak: func(b *testimage.Builder) {
				b.AddRow(ecma335.TableEventMap, rowFoo, 1)
				b.AddRow(ecma335.TableEvent, 0, b.String("Changed"),
					encode(ecma335.TypeDefOrRef, ecma335.TableTypeRef, rowObject))
			},
			message: "Event has no AddOn method",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := typesAssembly()
			tc.tweak(b)
			img := build(b)
			res := VerifyFullTableRows(img)
			assert.False(t, res.Valid)
			requireMessage(t, res, tc.message)
		})
	}
}

func TestOnDemandRows(t *testing.T) {
	img := build(typesAssembly())

	assert.True(t, VerifyTypeRefRow(img, rowObject).Valid)
	assert.True(t, VerifyMethodImplRow(img, 1).Valid)

	res := VerifyTypeRefRow(img, 0)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"TypeRef row 0 out of range"}, messages(res))

	res = VerifyMethodImplRow(img, 2)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"MethodImpl row 2 out of range"}, messages(res))

	b := typesAssembly()
	b.SetColumn(ecma335.TableMethodDef, rowRun, ecma335.MethodDefFlags, 0x16)
	res = VerifyMethodImplRow(build(b), 1)
	assert.False(t, res.Valid)
	requireMessage(t, res, "The body must be a virtual instance method")

	b = typesAssembly()
	b.SetColumn(ecma335.TableMethodImpl, 1, ecma335.MethodImplClass, 1)
	res = VerifyMethodImplRow(build(b), 1)
	assert.False(t, res.Valid)
	requireMessage(t, res,
		"The body belongs to TypeDef row 2, not to the implementing class 1")

	b = typesAssembly()
	b.SetColumn(ecma335.TableTypeRef, rowObsolete, ecma335.TypeRefName, 0)
	res = VerifyTypeRefRow(build(b), rowObsolete)
	require.False(t, res.Valid)
	requireMessage(t, res, "TypeRef row 2: Invalid name 0x0")
}
