// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"strings"

	"go.opentelemetry.io/clrverify/ecma335"
)

// tableVerifier checks every row of one table.
type tableVerifier struct {
	table  ecma335.Table
	verify func(*verifyContext)
}

// cheapTableVerifiers run in this order in VerifyTableRows.
var cheapTableVerifiers = []tableVerifier{
	{ecma335.TableModule, (*verifyContext).verifyModuleTable},
	{ecma335.TableTypeRef, (*verifyContext).verifyTypeRefTable},
	{ecma335.TableTypeDef, (*verifyContext).verifyTypeDefTable},
	{ecma335.TableField, (*verifyContext).verifyFieldTable},
	{ecma335.TableMethodDef, (*verifyContext).verifyMethodTable},
	{ecma335.TableParam, (*verifyContext).verifyParamTable},
	{ecma335.TableInterfaceImpl, (*verifyContext).verifyInterfaceImplTable},
	{ecma335.TableMemberRef, (*verifyContext).verifyMemberRefTable},
	{ecma335.TableConstant, (*verifyContext).verifyConstantTable},
	{ecma335.TableCustomAttribute, (*verifyContext).verifyCustomAttributeTable},
	{ecma335.TableFieldMarshal, (*verifyContext).verifyFieldMarshalTable},
	{ecma335.TableDeclSecurity, (*verifyContext).verifyDeclSecurityTable},
	{ecma335.TableClassLayout, (*verifyContext).verifyClassLayoutTable},
	{ecma335.TableFieldLayout, (*verifyContext).verifyFieldLayoutTable},
	{ecma335.TableStandAloneSig, (*verifyContext).verifyStandAloneSigTable},
	{ecma335.TableEventMap, (*verifyContext).verifyEventMapTable},
	{ecma335.TableEvent, (*verifyContext).verifyEventTable},
	{ecma335.TablePropertyMap, (*verifyContext).verifyPropertyMapTable},
	{ecma335.TableProperty, (*verifyContext).verifyPropertyTable},
	{ecma335.TableMethodSemantics, (*verifyContext).verifyMethodSemanticsTable},
	{ecma335.TableMethodImpl, (*verifyContext).verifyMethodImplTable},
	{ecma335.TableModuleRef, (*verifyContext).verifyModuleRefTable},
	{ecma335.TableTypeSpec, (*verifyContext).verifyTypeSpecTable},
	{ecma335.TableImplMap, (*verifyContext).verifyImplMapTable},
	{ecma335.TableFieldRVA, (*verifyContext).verifyFieldRVATable},
	{ecma335.TableAssembly, (*verifyContext).verifyAssemblyTable},
	{ecma335.TableAssemblyRef, (*verifyContext).verifyAssemblyRefTable},
	{ecma335.TableFile, (*verifyContext).verifyFileTable},
	{ecma335.TableExportedType, (*verifyContext).verifyExportedTypeTable},
	{ecma335.TableManifestResource, (*verifyContext).verifyManifestResourceTable},
	{ecma335.TableNestedClass, (*verifyContext).verifyNestedClassTable},
	{ecma335.TableGenericParam, (*verifyContext).verifyGenericParamTable},
	{ecma335.TableMethodSpec, (*verifyContext).verifyMethodSpecTable},
	{ecma335.TableGenericParamConstraint, (*verifyContext).verifyGenericParamConstraintTable},
	{ecma335.TableAssemblyProcessor, deprecatedTable(ecma335.TableAssemblyProcessor)},
	{ecma335.TableAssemblyOS, deprecatedTable(ecma335.TableAssemblyOS)},
	{ecma335.TableAssemblyRefProcessor, deprecatedTable(ecma335.TableAssemblyRefProcessor)},
	{ecma335.TableAssemblyRefOS, deprecatedTable(ecma335.TableAssemblyRefOS)},
}

func (ctx *verifyContext) verifyTablesData() {
	for _, tv := range cheapTableVerifiers {
		tv.verify(ctx)
	}
}

func (ctx *verifyContext) rows(t ecma335.Table) uint32 {
	return ctx.lay.tables.Rows(t)
}

// row decodes the zero based row i of t.
func (ctx *verifyContext) row(t ecma335.Table, i uint32) ecma335.Row {
	return ctx.lay.tables.DecodeRow(ctx.data, t, i)
}

func (ctx *verifyContext) column(t ecma335.Table, i uint32, col int) uint32 {
	return ctx.lay.tables.Column(ctx.data, t, i, col)
}

// isValidTableIndex reports whether v is a 1-based row of t.
func (ctx *verifyContext) isValidTableIndex(t ecma335.Table, v uint32) bool {
	return v >= 1 && v <= ctx.rows(t)
}

// isValidListIndex reports whether v starts a run of rows of t. One past the
// last row denotes an empty run at the end of the table.
func (ctx *verifyContext) isValidListIndex(t ecma335.Table, v uint32) bool {
	return v >= 1 && v <= ctx.rows(t)+1
}

// isValidCodedIndex accepts the null reference for every candidate table.
func (ctx *verifyContext) isValidCodedIndex(k ecma335.CodedKind, v uint32) bool {
	t := k.Table(v)
	if t == ecma335.TableInvalid {
		return false
	}
	return k.Row(v) <= ctx.rows(t)
}

func (ctx *verifyContext) isValidNonNullCodedIndex(k ecma335.CodedKind, v uint32) bool {
	return ctx.isValidCodedIndex(k, v) && k.Row(v) != 0
}

// listEnd returns the exclusive end of the run that starts at the list
// column of row i of owner.
func (ctx *verifyContext) listEnd(owner ecma335.Table, i uint32, col int,
	target ecma335.Table) uint32 {
	if i+1 < ctx.rows(owner) {
		return ctx.column(owner, i+1, col)
	}
	return ctx.rows(target) + 1
}

// globalFieldEnd returns the first Field row not owned by the <Module> type.
func (ctx *verifyContext) globalFieldEnd() uint32 {
	if ctx.rows(ecma335.TableTypeDef) == 0 {
		return ctx.rows(ecma335.TableField) + 1
	}
	return ctx.listEnd(ecma335.TableTypeDef, 0, ecma335.TypeDefFieldList, ecma335.TableField)
}

// globalMethodEnd returns the first MethodDef row not owned by the <Module> type.
func (ctx *verifyContext) globalMethodEnd() uint32 {
	if ctx.rows(ecma335.TableTypeDef) == 0 {
		return ctx.rows(ecma335.TableMethodDef) + 1
	}
	return ctx.listEnd(ecma335.TableTypeDef, 0, ecma335.TypeDefMethodList,
		ecma335.TableMethodDef)
}

// sortedBy tracks the sort key of a table that must be sorted.
type sortedBy struct {
	column string
	prev   uint32
}

func (s *sortedBy) check(ctx *verifyContext, t ecma335.Table, i, v uint32) {
	if i > 0 && v < s.prev {
		ctx.rowErrorf(t, i, "%s 0x%08x is smaller than the previous row's 0x%08x, "+
			"the table must be sorted by %s", s.column, v, s.prev, s.column)
	}
	s.prev = v
}

// encode returns the coded index value referring to the 1-based row of t.
func encode(k ecma335.CodedKind, t ecma335.Table, row uint32) uint32 {
	v, _ := k.Encode(t, row)
	return v
}

func isValidFileName(name []byte) bool {
	return len(name) > 0 && !strings.ContainsAny(string(name), `\/:`)
}

// deprecatedTable returns a verifier for a table that must be empty.
func deprecatedTable(t ecma335.Table) func(*verifyContext) {
	return func(ctx *verifyContext) {
		if n := ctx.rows(t); n != 0 {
			ctx.errorf("Deprecated table %s must be empty but has %d rows", t, n)
		}
	}
}
