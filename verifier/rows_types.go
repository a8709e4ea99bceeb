// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"math/bits"

	"go.opentelemetry.io/clrverify/ecma335"
)

const (
	ctorName  = ".ctor"
	cctorName = ".cctor"
)

func (ctx *verifyContext) verifyModuleTable() {
	const t = ecma335.TableModule
	if n := ctx.rows(t); n != 1 {
		ctx.errorf("Module table must have exactly one row, found %d", n)
		return
	}
	r := ctx.row(t, 0)
	if !ctx.isValidNonEmptyString(r[ecma335.ModuleName]) {
		ctx.rowErrorf(t, 0, "Invalid name %#x", r[ecma335.ModuleName])
	}
	if mvid := r[ecma335.ModuleMvid]; mvid == 0 || !ctx.isValidGUID(mvid) {
		ctx.rowErrorf(t, 0, "Invalid Mvid %#x", mvid)
	}
	if r[ecma335.ModuleEncID] != 0 {
		ctx.rowErrorf(t, 0, "EncId must be zero")
	}
	if r[ecma335.ModuleEncBaseID] != 0 {
		ctx.rowErrorf(t, 0, "EncBaseId must be zero")
	}
}

func (ctx *verifyContext) verifyTypeRefTable() {
	for i := uint32(0); i < ctx.rows(ecma335.TableTypeRef); i++ {
		ctx.verifyTypeRefRow(i)
	}
}

// verifyTypeRefRow checks the zero based TypeRef row i.
func (ctx *verifyContext) verifyTypeRefRow(i uint32) bool {
	const t = ecma335.TableTypeRef
	r := ctx.row(t, i)
	ok := true
	if !ctx.isValidNonNullCodedIndex(ecma335.ResolutionScope, r[ecma335.TypeRefResolutionScope]) {
		ctx.rowErrorf(t, i, "Invalid resolution scope %#x", r[ecma335.TypeRefResolutionScope])
		ok = false
	}
	if !ctx.isValidNonEmptyString(r[ecma335.TypeRefName]) {
		ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.TypeRefName])
		ok = false
	}
	if ns := r[ecma335.TypeRefNamespace]; ns != 0 && !ctx.isValidString(ns) {
		ctx.rowErrorf(t, i, "Invalid namespace %#x", ns)
		ok = false
	}
	return ok
}

func (ctx *verifyContext) isSystemObject(name, namespace uint32) bool {
	return ctx.stringEquals(name, "Object") && ctx.stringEquals(namespace, "System")
}

func (ctx *verifyContext) verifyTypeDefTable() {
	const t = ecma335.TableTypeDef
	var prevFields, prevMethods uint32
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.TypeDefFlags]
		isInterface := flags&ecma335.TypeInterface != 0

		if flags&ecma335.TypeInvalidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#08x", flags)
		}
		if flags&ecma335.TypeLayoutMask == ecma335.TypeLayoutMask {
			ctx.rowErrorf(t, i, "Invalid class layout 0x18")
		}
		if flags&ecma335.TypeStringFormatMask == ecma335.TypeCustomFormatClass {
			ctx.unsupportedf("TypeDef row %d: string format 0x30000 is not supported", i+1)
		}
		if flags&ecma335.TypeCustomFormatMask != 0 {
			ctx.unsupportedf("TypeDef row %d: custom string format %#x is not supported",
				i+1, flags&ecma335.TypeCustomFormatMask)
		}
		if isInterface && flags&ecma335.TypeAbstract == 0 {
			ctx.rowErrorf(t, i, "Interface types must be abstract")
		}

		name, namespace := r[ecma335.TypeDefName], r[ecma335.TypeDefNamespace]
		if !ctx.isValidNonEmptyString(name) {
			ctx.rowErrorf(t, i, "Invalid name %#x", name)
		}
		if namespace != 0 && !ctx.isValidString(namespace) {
			ctx.rowErrorf(t, i, "Invalid namespace %#x", namespace)
		}

		extends := r[ecma335.TypeDefExtends]
		switch {
		case extends == 0:
			if i != 0 && !isInterface && !ctx.isSystemObject(name, namespace) {
				ctx.rowErrorf(t, i, "Null extends is only valid for <Module>, "+
					"interfaces and System.Object")
			}
		case !ctx.isValidCodedIndex(ecma335.TypeDefOrRef, extends):
			ctx.rowErrorf(t, i, "Invalid extends %#x", extends)
		case ecma335.TypeDefOrRef.Row(extends) == 0:
			ctx.rowErrorf(t, i, "Extends %#x refers to a null type", extends)
		case isInterface:
			ctx.rowErrorf(t, i, "Interface types cannot extend another type")
		}

		fields := r[ecma335.TypeDefFieldList]
		if !ctx.isValidListIndex(ecma335.TableField, fields) {
			ctx.rowErrorf(t, i, "Invalid field list %#x", fields)
		} else if fields < prevFields {
			ctx.rowErrorf(t, i, "Field list %#x is smaller than the previous row's %#x",
				fields, prevFields)
		}
		prevFields = fields

		methods := r[ecma335.TypeDefMethodList]
		if !ctx.isValidListIndex(ecma335.TableMethodDef, methods) {
			ctx.rowErrorf(t, i, "Invalid method list %#x", methods)
		} else if methods < prevMethods {
			ctx.rowErrorf(t, i, "Method list %#x is smaller than the previous row's %#x",
				methods, prevMethods)
		}
		prevMethods = methods
	}
}

func (ctx *verifyContext) verifyFieldTable() {
	const t = ecma335.TableField
	globalEnd := ctx.globalFieldEnd()
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.FieldFlags]
		access := flags & ecma335.FieldAccessMask
		row := i + 1

		if flags&ecma335.FieldInvalidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#04x", flags)
		}
		if access == ecma335.FieldAccessMask {
			ctx.rowErrorf(t, i, "Invalid field visibility 0x7")
		}
		if flags&(ecma335.FieldLiteral|ecma335.FieldInitOnly) ==
			ecma335.FieldLiteral|ecma335.FieldInitOnly {
			ctx.rowErrorf(t, i, "Literal and InitOnly cannot both be set")
		}
		if flags&ecma335.FieldLiteral != 0 && flags&ecma335.FieldStatic == 0 {
			ctx.rowErrorf(t, i, "Literal fields must be static")
		}
		if flags&ecma335.FieldRTSpecialName != 0 && flags&ecma335.FieldSpecialName == 0 {
			ctx.rowErrorf(t, i, "RTSpecialName requires SpecialName")
		}
		if flags&ecma335.FieldHasFieldMarshal != 0 &&
			!ctx.hasRowFor(ecma335.TableFieldMarshal, ecma335.FieldMarshalParent,
				ecma335.HasFieldMarshal, t, row) {
			ctx.rowErrorf(t, i, "HasFieldMarshal is set but there is no FieldMarshal row")
		}
		hasConstant := ctx.hasRowFor(ecma335.TableConstant, ecma335.ConstantParent,
			ecma335.HasConstant, t, row)
		if flags&ecma335.FieldHasDefault != 0 && !hasConstant {
			ctx.rowErrorf(t, i, "HasDefault is set but there is no Constant row")
		}
		if flags&ecma335.FieldLiteral != 0 && !hasConstant {
			ctx.rowErrorf(t, i, "Literal field has no Constant row")
		}
		if flags&ecma335.FieldHasFieldRVA != 0 &&
			ctx.searchSortedTable(ecma335.TableFieldRVA, ecma335.FieldRVAField, row) < 0 {
			ctx.rowErrorf(t, i, "HasFieldRVA is set but there is no FieldRVA row")
		}
		if !ctx.isValidNonEmptyString(r[ecma335.FieldName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.FieldName])
		}
		if !ctx.isValidBlob(r[ecma335.FieldSignature], true) {
			ctx.rowErrorf(t, i, "Invalid signature blob %#x", r[ecma335.FieldSignature])
		}
		if row < globalEnd {
			if flags&ecma335.FieldStatic == 0 {
				ctx.rowErrorf(t, i, "Global fields must be static")
			}
			if access != ecma335.FieldCompilerControlled && access != ecma335.FieldPrivate &&
				access != ecma335.FieldPublic {
				ctx.rowErrorf(t, i, "Global fields must be private, public or "+
					"compiler controlled, not %#x", access)
			}
		}
	}
}

func (ctx *verifyContext) verifyMethodTable() {
	const t = ecma335.TableMethodDef
	globalEnd := ctx.globalMethodEnd()
	var prevParams uint32
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		rva := r[ecma335.MethodDefRVA]
		implFlags := r[ecma335.MethodDefImplFlags]
		flags := r[ecma335.MethodDefFlags]
		access := flags & ecma335.MethodAccessMask
		codeType := implFlags & ecma335.MethodImplCodeTypeMask
		row := i + 1

		isStatic := flags&ecma335.MethodStatic != 0
		isVirtual := flags&ecma335.MethodVirtual != 0
		isAbstract := flags&ecma335.MethodAbstract != 0
		isPinvoke := flags&ecma335.MethodPinvokeImpl != 0
		isSpecial := flags&ecma335.MethodSpecialName != 0
		isRTSpecial := flags&ecma335.MethodRTSpecialName != 0
		isInternalCall := implFlags&ecma335.MethodImplInternalCall != 0

		if implFlags&ecma335.MethodImplInvalidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid implementation flags %#04x", implFlags)
		}
		if access == ecma335.MethodAccessMask {
			ctx.rowErrorf(t, i, "Invalid method visibility 0x7")
		}

		name := r[ecma335.MethodDefName]
		if !ctx.isValidNonEmptyString(name) {
			ctx.rowErrorf(t, i, "Invalid name %#x", name)
		} else if ctx.stringEquals(name, ctorName) || ctx.stringEquals(name, cctorName) {
			if !isRTSpecial || !isSpecial {
				ctx.rowErrorf(t, i, "Constructors must be RTSpecialName and SpecialName")
			}
			if ctx.hasRowFor(ecma335.TableGenericParam, ecma335.GenericParamOwner,
				ecma335.TypeOrMethodDef, t, row) {
				ctx.rowErrorf(t, i, "Constructors cannot have generic parameters")
			}
		}

		if isStatic && flags&(ecma335.MethodFinal|ecma335.MethodVirtual|
			ecma335.MethodNewSlot) != 0 {
			ctx.rowErrorf(t, i, "Static methods cannot be final, virtual or newslot")
		}
		if isAbstract {
			if isPinvoke {
				ctx.rowErrorf(t, i, "Abstract methods cannot be PinvokeImpl")
			}
			if !isVirtual {
				ctx.rowErrorf(t, i, "Abstract methods must be virtual")
			}
		}
		if access == ecma335.MethodCompilerControlled && (isSpecial || isRTSpecial) {
			ctx.rowErrorf(t, i, "Compiler controlled methods cannot be SpecialName "+
				"or RTSpecialName")
		}
		if isRTSpecial && !isSpecial {
			ctx.rowErrorf(t, i, "RTSpecialName requires SpecialName")
		}
		if row < globalEnd {
			if !isStatic {
				ctx.rowErrorf(t, i, "Global methods must be static")
			}
			if isAbstract || isVirtual {
				ctx.rowErrorf(t, i, "Global methods cannot be abstract or virtual")
			}
			switch access {
			case ecma335.MethodFamily, ecma335.MethodFamANDAssem, ecma335.MethodFamORAssem:
				ctx.rowErrorf(t, i, "Global methods cannot have family access")
			}
		}
		if flags&(ecma335.MethodFinal|ecma335.MethodNewSlot|ecma335.MethodStrict) != 0 &&
			!isVirtual {
			ctx.rowErrorf(t, i, "Final, NewSlot and Strict require Virtual")
		}
		if isPinvoke {
			if isVirtual {
				ctx.rowErrorf(t, i, "PinvokeImpl methods cannot be virtual")
			}
			if !isStatic {
				ctx.rowErrorf(t, i, "PinvokeImpl methods must be static")
			}
		}

		if rva == 0 {
			if !isAbstract && !isPinvoke && !isInternalCall &&
				codeType != ecma335.MethodImplRuntime {
				ctx.rowErrorf(t, i, "Methods without RVA must be abstract, pinvoke, "+
					"internal call or runtime implemented")
			}
			if access == ecma335.MethodCompilerControlled && !isPinvoke {
				ctx.rowErrorf(t, i, "Compiler controlled methods need an RVA or PinvokeImpl")
			}
		} else {
			if isAbstract || isPinvoke || isInternalCall {
				ctx.rowErrorf(t, i, "Abstract, pinvoke and internal call methods "+
					"cannot have an RVA")
			}
			if codeType == ecma335.MethodImplOPTIL {
				ctx.rowErrorf(t, i, "OPTIL methods cannot have an RVA")
			}
			if _, ok := ctx.translateRVA(rva); !ok {
				ctx.rowErrorf(t, i, "Invalid RVA %#x", rva)
			}
		}

		if !ctx.isValidBlob(r[ecma335.MethodDefSignature], true) {
			ctx.rowErrorf(t, i, "Invalid signature blob %#x", r[ecma335.MethodDefSignature])
		}

		params := r[ecma335.MethodDefParamList]
		if !ctx.isValidListIndex(ecma335.TableParam, params) {
			ctx.rowErrorf(t, i, "Invalid param list %#x", params)
		} else if params < prevParams {
			ctx.rowErrorf(t, i, "Param list %#x is smaller than the previous row's %#x",
				params, prevParams)
		}
		prevParams = params
	}
}

func (ctx *verifyContext) verifyParamTable() {
	const t = ecma335.TableParam
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.ParamFlags]
		row := i + 1

		if flags&ecma335.ParamInvalidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#04x", flags)
		}
		hasConstant := ctx.hasRowFor(ecma335.TableConstant, ecma335.ConstantParent,
			ecma335.HasConstant, t, row)
		if flags&ecma335.ParamHasDefault != 0 && !hasConstant {
			ctx.rowErrorf(t, i, "HasDefault is set but there is no Constant row")
		}
		if flags&ecma335.ParamHasDefault == 0 && hasConstant {
			ctx.rowErrorf(t, i, "HasDefault is not set but there is a Constant row")
		}
		if flags&ecma335.ParamHasFieldMarshal != 0 &&
			!ctx.hasRowFor(ecma335.TableFieldMarshal, ecma335.FieldMarshalParent,
				ecma335.HasFieldMarshal, t, row) {
			ctx.rowErrorf(t, i, "HasFieldMarshal is set but there is no FieldMarshal row")
		}
		if !ctx.isValidString(r[ecma335.ParamName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.ParamName])
		}
	}
}

func (ctx *verifyContext) verifyInterfaceImplTable() {
	const t = ecma335.TableInterfaceImpl
	sorted := sortedBy{column: "Class"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if !ctx.isValidTableIndex(ecma335.TableTypeDef, r[ecma335.InterfaceImplClass]) {
			ctx.rowErrorf(t, i, "Invalid class %#x", r[ecma335.InterfaceImplClass])
		}
		if !ctx.isValidNonNullCodedIndex(ecma335.TypeDefOrRef,
			r[ecma335.InterfaceImplInterface]) {
			ctx.rowErrorf(t, i, "Invalid interface %#x", r[ecma335.InterfaceImplInterface])
		}
		sorted.check(ctx, t, i, r[ecma335.InterfaceImplClass])
	}
}

func (ctx *verifyContext) verifyMemberRefTable() {
	const t = ecma335.TableMemberRef
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if !ctx.isValidNonNullCodedIndex(ecma335.MemberRefParent, r[ecma335.MemberRefClass]) {
			ctx.rowErrorf(t, i, "Invalid class %#x", r[ecma335.MemberRefClass])
		}
		if !ctx.isValidNonEmptyString(r[ecma335.MemberRefName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.MemberRefName])
		}
		if !ctx.isValidBlob(r[ecma335.MemberRefSignature], true) {
			ctx.rowErrorf(t, i, "Invalid signature blob %#x", r[ecma335.MemberRefSignature])
		}
	}
}

// constantValueSize returns the required blob size of a constant of type et,
// or -1 if any even size is allowed.
func constantValueSize(et ecma335.ElementType) (int, bool) {
	switch et {
	case ecma335.ElementString:
		return -1, true
	case ecma335.ElementClass:
		return 4, true
	}
	if n := et.PrimitiveSize(); n != 0 {
		return int(n), true
	}
	return 0, false
}

func (ctx *verifyContext) verifyConstantTable() {
	const t = ecma335.TableConstant
	sorted := sortedBy{column: "Parent"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		et := ecma335.ElementType(r[ecma335.ConstantType])
		want, ok := constantValueSize(et)
		if !ok {
			ctx.rowErrorf(t, i, "Invalid type %#x", uint8(et))
		}
		if r[ecma335.ConstantPadding] != 0 {
			ctx.rowErrorf(t, i, "Padding must be zero, found %#x", r[ecma335.ConstantPadding])
		}
		if !ctx.isValidNonNullCodedIndex(ecma335.HasConstant, r[ecma335.ConstantParent]) {
			ctx.rowErrorf(t, i, "Invalid parent %#x", r[ecma335.ConstantParent])
		}

		value, valid := ctx.blobAt(r[ecma335.ConstantValue])
		switch {
		case !valid:
			ctx.rowErrorf(t, i, "Invalid value blob %#x", r[ecma335.ConstantValue])
		case !ok:
		case want < 0:
			if len(value)%2 != 0 {
				ctx.rowErrorf(t, i, "String constants must have an even size, found %d",
					len(value))
			}
		case len(value) != want:
			ctx.rowErrorf(t, i, "Constant of type %#x must have %d bytes, found %d",
				uint8(et), want, len(value))
		case et == ecma335.ElementClass && (value[0]|value[1]|value[2]|value[3]) != 0:
			ctx.rowErrorf(t, i, "Class constants must be null")
		}
		sorted.check(ctx, t, i, r[ecma335.ConstantParent])
	}
}

func (ctx *verifyContext) verifyCustomAttributeTable() {
	const t = ecma335.TableCustomAttribute
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if !ctx.isValidNonNullCodedIndex(ecma335.HasCustomAttribute,
			r[ecma335.CustomAttributeParent]) {
			ctx.rowErrorf(t, i, "Invalid parent %#x", r[ecma335.CustomAttributeParent])
		}
		if !ctx.isValidNonNullCodedIndex(ecma335.CustomAttributeType,
			r[ecma335.CustomAttributeConstructor]) {
			ctx.rowErrorf(t, i, "Invalid type %#x", r[ecma335.CustomAttributeConstructor])
		}
		if v := r[ecma335.CustomAttributeValue]; v != 0 && !ctx.isValidBlob(v, false) {
			ctx.rowErrorf(t, i, "Invalid value blob %#x", v)
		}
	}
}

func (ctx *verifyContext) verifyFieldMarshalTable() {
	const t = ecma335.TableFieldMarshal
	sorted := sortedBy{column: "Parent"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if !ctx.isValidNonNullCodedIndex(ecma335.HasFieldMarshal,
			r[ecma335.FieldMarshalParent]) {
			ctx.rowErrorf(t, i, "Invalid parent %#x", r[ecma335.FieldMarshalParent])
		}
		if !ctx.isValidBlob(r[ecma335.FieldMarshalNativeType], true) {
			ctx.rowErrorf(t, i, "Invalid native type blob %#x",
				r[ecma335.FieldMarshalNativeType])
		}
		sorted.check(ctx, t, i, r[ecma335.FieldMarshalParent])
	}
}

// Security actions of ECMA-335 II.22.11.
const (
	securityActionMin = 1
	securityActionMax = 14
)

func (ctx *verifyContext) verifyDeclSecurityTable() {
	const t = ecma335.TableDeclSecurity
	sorted := sortedBy{column: "Parent"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if a := r[ecma335.DeclSecurityAction]; a < securityActionMin || a > securityActionMax {
			ctx.rowErrorf(t, i, "Invalid action %d", a)
		}
		if !ctx.isValidNonNullCodedIndex(ecma335.HasDeclSecurity,
			r[ecma335.DeclSecurityParent]) {
			ctx.rowErrorf(t, i, "Invalid parent %#x", r[ecma335.DeclSecurityParent])
		}
		if !ctx.isValidBlob(r[ecma335.DeclSecurityPermissionSet], true) {
			ctx.rowErrorf(t, i, "Invalid permission set blob %#x",
				r[ecma335.DeclSecurityPermissionSet])
		}
		sorted.check(ctx, t, i, r[ecma335.DeclSecurityParent])
	}
}

func (ctx *verifyContext) verifyClassLayoutTable() {
	const t = ecma335.TableClassLayout
	sorted := sortedBy{column: "Parent"}
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		parent := r[ecma335.ClassLayoutParent]
		if !ctx.isValidTableIndex(ecma335.TableTypeDef, parent) {
			ctx.rowErrorf(t, i, "Invalid parent %#x", parent)
		} else {
			flags := ctx.column(ecma335.TableTypeDef, parent-1, ecma335.TypeDefFlags)
			if flags&ecma335.TypeInterface != 0 {
				ctx.rowErrorf(t, i, "Interface types cannot have a class layout")
			}
			if flags&ecma335.TypeLayoutMask == ecma335.TypeAutoLayout {
				ctx.rowErrorf(t, i, "Auto layout types cannot have a class layout")
			}
		}
		if p := r[ecma335.ClassLayoutPackingSize]; p > 128 || bits.OnesCount32(p) > 1 {
			ctx.rowErrorf(t, i, "Invalid packing size %d", p)
		}
		sorted.check(ctx, t, i, parent)
	}
}

func (ctx *verifyContext) verifyFieldLayoutTable() {
	const t = ecma335.TableFieldLayout
	for i := uint32(0); i < ctx.rows(t); i++ {
		if f := ctx.column(t, i, ecma335.FieldLayoutField); !ctx.isValidTableIndex(
			ecma335.TableField, f) {
			ctx.rowErrorf(t, i, "Invalid field %#x", f)
		}
	}
}

func (ctx *verifyContext) verifyStandAloneSigTable() {
	const t = ecma335.TableStandAloneSig
	for i := uint32(0); i < ctx.rows(t); i++ {
		if sig := ctx.column(t, i, ecma335.StandAloneSigSignature); !ctx.isValidBlob(sig, true) {
			ctx.rowErrorf(t, i, "Invalid signature blob %#x", sig)
		}
	}
}
