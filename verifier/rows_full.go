// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"golang.org/x/crypto/cryptobyte"

	"go.opentelemetry.io/clrverify/ecma335"
)

// verifyFullTablesData decodes the blobs and method bodies referenced from
// the tables.
func (ctx *verifyContext) verifyFullTablesData() {
	defer func() { ctx.where = "" }()

	ctx.eachBlob(ecma335.TableField, ecma335.FieldSignature, "FieldSig",
		ctx.parseFieldSignature)
	ctx.verifyMethodBodies()
	ctx.eachBlob(ecma335.TableMemberRef, ecma335.MemberRefSignature, "MemberRefSig",
		ctx.parseMemberRefSignature)
	ctx.verifyCustomAttributeValues()
	ctx.eachBlob(ecma335.TableFieldMarshal, ecma335.FieldMarshalNativeType, "MarshalSpec",
		ctx.parseMarshalSpec)
	ctx.eachBlob(ecma335.TableDeclSecurity, ecma335.DeclSecurityPermissionSet,
		"PermissionSet", ctx.parsePermissionSet)
	ctx.eachBlob(ecma335.TableStandAloneSig, ecma335.StandAloneSigSignature,
		"StandAloneSig", ctx.parseStandaloneSignature)
	ctx.verifyEventSemantics()
	ctx.eachBlob(ecma335.TableProperty, ecma335.PropertyType, "PropertySig",
		ctx.parsePropertySignature)
	ctx.verifyTypeSpecSignatures()
	ctx.eachBlob(ecma335.TableMethodSpec, ecma335.MethodSpecInstantiation, "MethodSpec",
		ctx.parseMethodSpec)
}

// eachBlob parses the blob column col of every row of t.
func (ctx *verifyContext) eachBlob(t ecma335.Table, col int, production string,
	parse func(*cryptobyte.String) bool) {
	for i := uint32(0); i < ctx.rows(t); i++ {
		ctx.at(t, i)
		ctx.verifyBlob(ctx.column(t, i, col), production, parse)
	}
}

func (ctx *verifyContext) verifyMethodBodies() {
	const t = ecma335.TableMethodDef
	for i := uint32(0); i < ctx.rows(t); i++ {
		ctx.at(t, i)
		r := ctx.row(t, i)
		ctx.verifyBlob(r[ecma335.MethodDefSignature], "MethodSig",
			func(s *cryptobyte.String) bool {
				return ctx.parseMethodSignature(s, false, false)
			})
		if r[ecma335.MethodDefRVA] == 0 {
			continue
		}
		locals, ok := ctx.verifyMethodHeader(r[ecma335.MethodDefRVA])
		if !ok || locals == 0 {
			continue
		}
		sig := ctx.column(ecma335.TableStandAloneSig, ecma335.Token(locals).Row()-1,
			ecma335.StandAloneSigSignature)
		ctx.verifyBlob(sig, "LocalsSig", ctx.parseLocalsSignature)
	}
}

func (ctx *verifyContext) verifyCustomAttributeValues() {
	const t = ecma335.TableCustomAttribute
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		typ, value := r[ecma335.CustomAttributeConstructor], r[ecma335.CustomAttributeValue]
		if value == 0 || !ctx.isValidNonNullCodedIndex(ecma335.CustomAttributeType, typ) {
			continue
		}
		ctx.at(t, i)
		ctor, ok := ctx.ctorSignature(typ)
		if !ok {
			ctx.fail("Invalid constructor signature blob")
			continue
		}
		blob, ok := ctx.blobAt(value)
		if !ok {
			ctx.fail("Invalid value blob %#x", value)
			continue
		}
		ctx.verifyCustomAttributeContent(ctor, blob)
	}
}

// verifyEventSemantics checks that every event has AddOn and RemoveOn methods.
func (ctx *verifyContext) verifyEventSemantics() {
	const t = ecma335.TableEvent
	const sem = ecma335.TableMethodSemantics
	for i := uint32(0); i < ctx.rows(t); i++ {
		assoc := encode(ecma335.HasSemantics, t, i+1)
		var found uint32
		if j := ctx.searchSortedTable(sem, ecma335.MethodSemanticsAssociation, assoc); j >= 0 {
			for k := uint32(j); k < ctx.rows(sem); k++ {
				r := ctx.row(sem, k)
				if r[ecma335.MethodSemanticsAssociation] != assoc {
					break
				}
				found |= r[ecma335.MethodSemanticsSemantics]
			}
		}
		if found&ecma335.SemanticsAddOn == 0 {
			ctx.rowErrorf(t, i, "Event has no AddOn method")
		}
		if found&ecma335.SemanticsRemoveOn == 0 {
			ctx.rowErrorf(t, i, "Event has no RemoveOn method")
		}
	}
}

func (ctx *verifyContext) verifyTypeSpecSignatures() {
	const t = ecma335.TableTypeSpec
	defer func() { ctx.token = 0 }()
	for i := uint32(0); i < ctx.rows(t); i++ {
		ctx.at(t, i)
		ctx.token = ecma335.MakeToken(t, i+1)
		ctx.verifyBlob(ctx.column(t, i, ecma335.TypeSpecSignature), "TypeSpec",
			ctx.parseTypeSpec)
	}
}
