// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"math/bits"

	"go.opentelemetry.io/clrverify/ecma335"
)

// verifyMemberMap checks EventMap and PropertyMap, which assign a run of
// members to a TypeDef.
func (ctx *verifyContext) verifyMemberMap(t ecma335.Table, parentCol, listCol int,
	target ecma335.Table) {
	seen := make(map[uint32]struct{}, ctx.rows(t))
	var prev uint32
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		parent := r[parentCol]
		if !ctx.isValidTableIndex(ecma335.TableTypeDef, parent) {
			ctx.rowErrorf(t, i, "Invalid parent %#x", parent)
		} else if _, dup := seen[parent]; dup {
			ctx.rowErrorf(t, i, "Duplicate parent %#x", parent)
		}
		seen[parent] = struct{}{}

		list := r[listCol]
		if !ctx.isValidListIndex(target, list) {
			ctx.rowErrorf(t, i, "Invalid %s list %#x", target, list)
		} else if i > 0 && list <= prev {
			ctx.rowErrorf(t, i, "%s list %#x must be larger than the previous row's %#x",
				target, list, prev)
		}
		prev = list
	}
}

func (ctx *verifyContext) verifyEventMapTable() {
	ctx.verifyMemberMap(ecma335.TableEventMap, ecma335.EventMapParent,
		ecma335.EventMapEventList, ecma335.TableEvent)
}

func (ctx *verifyContext) verifyPropertyMapTable() {
	ctx.verifyMemberMap(ecma335.TablePropertyMap, ecma335.PropertyMapParent,
		ecma335.PropertyMapPropertyList, ecma335.TableProperty)
}

func (ctx *verifyContext) verifyEventTable() {
	const t = ecma335.TableEvent
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if flags := r[ecma335.EventFlags]; flags&^ecma335.EventValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#04x", flags)
		}
		if !ctx.isValidNonEmptyString(r[ecma335.EventName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.EventName])
		}
		if !ctx.isValidCodedIndex(ecma335.TypeDefOrRef, r[ecma335.EventType]) {
			ctx.rowErrorf(t, i, "Invalid event type %#x", r[ecma335.EventType])
		}
	}
}

func (ctx *verifyContext) verifyPropertyTable() {
	const t = ecma335.TableProperty
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.PropertyFlags]
		if flags&^ecma335.PropertyValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#04x", flags)
		}
		if !ctx.isValidNonEmptyString(r[ecma335.PropertyName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.PropertyName])
		}
		if !ctx.isValidBlob(r[ecma335.PropertyType], true) {
			ctx.rowErrorf(t, i, "Invalid signature blob %#x", r[ecma335.PropertyType])
		}
		if flags&ecma335.PropertyHasDefault != 0 &&
			!ctx.hasRowFor(ecma335.TableConstant, ecma335.ConstantParent,
				ecma335.HasConstant, t, i+1) {
			ctx.rowErrorf(t, i, "HasDefault is set but there is no Constant row")
		}
	}
}

func (ctx *verifyContext) verifyMethodSemanticsTable() {
	const t = ecma335.TableMethodSemantics
	sorted := sortedBy{column: "Association"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		sem := r[ecma335.MethodSemanticsSemantics]
		if sem&^ecma335.SemanticsValidBits != 0 || bits.OnesCount32(sem) != 1 {
			ctx.rowErrorf(t, i, "Invalid semantics %#x", sem)
		}
		if !ctx.isValidTableIndex(ecma335.TableMethodDef, r[ecma335.MethodSemanticsMethod]) {
			ctx.rowErrorf(t, i, "Invalid method %#x", r[ecma335.MethodSemanticsMethod])
		}
		assoc := r[ecma335.MethodSemanticsAssociation]
		if !ctx.isValidNonNullCodedIndex(ecma335.HasSemantics, assoc) {
			ctx.rowErrorf(t, i, "Invalid association %#x", assoc)
		}
		sorted.check(ctx, t, i, assoc)
	}
}

func (ctx *verifyContext) verifyMethodImplTable() {
	for i := uint32(0); i < ctx.rows(ecma335.TableMethodImpl); i++ {
		ctx.verifyMethodImplRow(i, false)
	}
}

// verifyMethodImplRow checks the zero based MethodImpl row i. With deep set,
// MethodDef bodies and declarations must also be virtual instance methods and
// the body must belong to the implementing class.
func (ctx *verifyContext) verifyMethodImplRow(i uint32, deep bool) bool {
	const t = ecma335.TableMethodImpl
	r := ctx.row(t, i)
	ok := true
	class := r[ecma335.MethodImplClass]
	if !ctx.isValidTableIndex(ecma335.TableTypeDef, class) {
		ctx.rowErrorf(t, i, "Invalid class %#x", class)
		ok = false
	}
	body := r[ecma335.MethodImplBody]
	if !ctx.isValidNonNullCodedIndex(ecma335.MethodDefOrRef, body) {
		ctx.rowErrorf(t, i, "Invalid body %#x", body)
		ok = false
	}
	decl := r[ecma335.MethodImplDeclaration]
	if !ctx.isValidNonNullCodedIndex(ecma335.MethodDefOrRef, decl) {
		ctx.rowErrorf(t, i, "Invalid declaration %#x", decl)
		ok = false
	}
	if !ok || !deep {
		return ok
	}

	for _, m := range []struct {
		what  string
		value uint32
	}{{"body", body}, {"declaration", decl}} {
		if ecma335.MethodDefOrRef.Table(m.value) != ecma335.TableMethodDef {
			continue
		}
		row := ecma335.MethodDefOrRef.Row(m.value)
		flags := ctx.column(ecma335.TableMethodDef, row-1, ecma335.MethodDefFlags)
		if flags&ecma335.MethodVirtual == 0 || flags&ecma335.MethodStatic != 0 {
			ctx.rowErrorf(t, i, "The %s must be a virtual instance method", m.what)
			ok = false
		}
	}
	if ecma335.MethodDefOrRef.Table(body) == ecma335.TableMethodDef {
		if owner := ctx.ownerOfMethod(ecma335.MethodDefOrRef.Row(body)); owner != class {
			ctx.rowErrorf(t, i, "The body belongs to TypeDef row %d, not to the "+
				"implementing class %d", owner, class)
			ok = false
		}
	}
	return ok
}

func (ctx *verifyContext) verifyModuleRefTable() {
	const t = ecma335.TableModuleRef
	seen := make(map[string]struct{}, ctx.rows(t))
	for i := uint32(0); i < ctx.rows(t); i++ {
		offset := ctx.column(t, i, ecma335.ModuleRefName)
		name, ok := ctx.stringAt(offset)
		if !ok || !isValidFileName(name) {
			ctx.rowErrorf(t, i, "Invalid name %#x", offset)
			continue
		}
		if _, dup := seen[string(name)]; dup {
			ctx.warnf("ModuleRef row %d: duplicate module name %q", i+1, name)
		}
		seen[string(name)] = struct{}{}
	}
}

func (ctx *verifyContext) verifyTypeSpecTable() {
	const t = ecma335.TableTypeSpec
	for i := uint32(0); i < ctx.rows(t); i++ {
		if sig := ctx.column(t, i, ecma335.TypeSpecSignature); !ctx.isValidBlob(sig, true) {
			ctx.rowErrorf(t, i, "Invalid signature blob %#x", sig)
		}
	}
}

func (ctx *verifyContext) verifyImplMapTable() {
	const t = ecma335.TableImplMap
	sorted := sortedBy{column: "MemberForwarded"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.ImplMapFlags]
		if flags&^ecma335.PInvokeValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#04x", flags)
		}
		if cconv := (flags & ecma335.PInvokeCallConvMask) >> 8; cconv == 0 || cconv >= 6 {
			ctx.rowErrorf(t, i, "Invalid calling convention %d", cconv)
		}
		member := r[ecma335.ImplMapMember]
		if !ctx.isValidNonNullCodedIndex(ecma335.MemberForwarded, member) ||
			ecma335.MemberForwarded.Table(member) != ecma335.TableMethodDef {
			ctx.rowErrorf(t, i, "Invalid member forwarded %#x, only methods can be forwarded",
				member)
		}
		if !ctx.isValidNonEmptyString(r[ecma335.ImplMapImportName]) {
			ctx.rowErrorf(t, i, "Invalid import name %#x", r[ecma335.ImplMapImportName])
		}
		if !ctx.isValidTableIndex(ecma335.TableModuleRef, r[ecma335.ImplMapImportScope]) {
			ctx.rowErrorf(t, i, "Invalid import scope %#x", r[ecma335.ImplMapImportScope])
		}
		sorted.check(ctx, t, i, member)
	}
}

func (ctx *verifyContext) verifyFieldRVATable() {
	const t = ecma335.TableFieldRVA
	sorted := sortedBy{column: "Field"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		rva := r[ecma335.FieldRVARVA]
		if rva == 0 {
			ctx.rowErrorf(t, i, "RVA must not be zero")
		} else if _, ok := ctx.translateRVA(rva); !ok {
			ctx.rowErrorf(t, i, "Invalid RVA %#x", rva)
		}
		field := r[ecma335.FieldRVAField]
		if !ctx.isValidTableIndex(ecma335.TableField, field) {
			ctx.rowErrorf(t, i, "Invalid field %#x", field)
		}
		sorted.check(ctx, t, i, field)
	}
}

func (ctx *verifyContext) verifyNestedClassTable() {
	const t = ecma335.TableNestedClass
	sorted := sortedBy{column: "NestedClass"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		nested, enclosing := r[ecma335.NestedClassNested], r[ecma335.NestedClassEnclosing]
		if !ctx.isValidTableIndex(ecma335.TableTypeDef, nested) {
			ctx.rowErrorf(t, i, "Invalid nested class %#x", nested)
		}
		if !ctx.isValidTableIndex(ecma335.TableTypeDef, enclosing) {
			ctx.rowErrorf(t, i, "Invalid enclosing class %#x", enclosing)
		}
		if nested == enclosing {
			ctx.rowErrorf(t, i, "A type cannot enclose itself")
		}
		sorted.check(ctx, t, i, nested)
	}
}

func (ctx *verifyContext) verifyGenericParamTable() {
	const t = ecma335.TableGenericParam
	var prevOwner, prevNumber uint32
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.GenericParamFlags]
		if flags&^ecma335.GenericParamValid != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#04x", flags)
		}
		if flags&ecma335.GenericParamVariant == ecma335.GenericParamVariant {
			ctx.rowErrorf(t, i, "Invalid variance 0x3")
		}
		if !ctx.isValidNonEmptyString(r[ecma335.GenericParamName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.GenericParamName])
		}
		owner, number := r[ecma335.GenericParamOwner], r[ecma335.GenericParamNumber]
		if !ctx.isValidNonNullCodedIndex(ecma335.TypeOrMethodDef, owner) {
			ctx.rowErrorf(t, i, "Invalid owner %#x", owner)
		}
		switch {
		case i > 0 && owner < prevOwner:
			ctx.rowErrorf(t, i, "Owner %#x is smaller than the previous row's %#x, "+
				"the table must be sorted by Owner", owner, prevOwner)
		case i > 0 && owner == prevOwner:
			if number != prevNumber+1 {
				ctx.rowErrorf(t, i, "Generic parameter number %d must follow %d",
					number, prevNumber)
			}
		case number != 0:
			ctx.rowErrorf(t, i, "The first generic parameter of an owner must be "+
				"number 0, found %d", number)
		}
		prevOwner, prevNumber = owner, number
	}
}

func (ctx *verifyContext) verifyMethodSpecTable() {
	const t = ecma335.TableMethodSpec
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if !ctx.isValidNonNullCodedIndex(ecma335.MethodDefOrRef, r[ecma335.MethodSpecMethod]) {
			ctx.rowErrorf(t, i, "Invalid method %#x", r[ecma335.MethodSpecMethod])
		}
		if !ctx.isValidBlob(r[ecma335.MethodSpecInstantiation], true) {
			ctx.rowErrorf(t, i, "Invalid instantiation blob %#x",
				r[ecma335.MethodSpecInstantiation])
		}
	}
}

func (ctx *verifyContext) verifyGenericParamConstraintTable() {
	const t = ecma335.TableGenericParamConstraint
	sorted := sortedBy{column: "Owner"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		owner := r[ecma335.GenericParamConstraintOwner]
		if !ctx.isValidTableIndex(ecma335.TableGenericParam, owner) {
			ctx.rowErrorf(t, i, "Invalid owner %#x", owner)
		}
		if !ctx.isValidNonNullCodedIndex(ecma335.TypeDefOrRef,
			r[ecma335.GenericParamConstraintConstraint]) {
			ctx.rowErrorf(t, i, "Invalid constraint %#x",
				r[ecma335.GenericParamConstraintConstraint])
		}
		sorted.check(ctx, t, i, owner)
	}
}
