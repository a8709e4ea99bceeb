// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335 // import "go.opentelemetry.io/clrverify/ecma335"

// TypeAttributes (§II.23.1.15).
const (
	TypeVisibilityMask     = 0x00000007
	TypeNotPublic          = 0x00000000
	TypePublic             = 0x00000001
	TypeNestedPublic       = 0x00000002
	TypeNestedFamORAssem   = 0x00000007
	TypeLayoutMask         = 0x00000018
	TypeAutoLayout         = 0x00000000
	TypeSequentialLayout   = 0x00000008
	TypeExplicitLayout     = 0x00000010
	TypeInterface          = 0x00000020
	TypeAbstract           = 0x00000080
	TypeSealed             = 0x00000100
	TypeSpecialName        = 0x00000400
	TypeRTSpecialName      = 0x00000800
	TypeImport             = 0x00001000
	TypeWindowsRuntime     = 0x00004000
	TypeStringFormatMask   = 0x00030000
	TypeCustomFormatClass  = 0x00030000
	TypeCustomFormatMask   = 0x00c00000
	TypeForwarder          = 0x00200000
	TypeInvalidBits        = 1<<6 | 1<<9 | 1<<15 | 1<<19 | 1<<21 | 0xff000000
	ExportedTypeInvalidBit = TypeInvalidBits &^ TypeForwarder
)

// FieldAttributes (§II.23.1.5).
const (
	FieldAccessMask         = 0x0007
	FieldCompilerControlled = 0x0000
	FieldPrivate            = 0x0001
	FieldPublic             = 0x0006
	FieldStatic             = 0x0010
	FieldInitOnly           = 0x0020
	FieldLiteral            = 0x0040
	FieldHasFieldRVA        = 0x0100
	FieldSpecialName        = 0x0200
	FieldRTSpecialName      = 0x0400
	FieldHasFieldMarshal    = 0x1000
	FieldHasDefault         = 0x8000
	FieldInvalidBits        = 0x0008 | 0x0800 | 0x4000
)

// MethodAttributes (§II.23.1.10).
const (
	MethodAccessMask         = 0x0007
	MethodCompilerControlled = 0x0000
	MethodFamANDAssem        = 0x0002
	MethodFamily             = 0x0004
	MethodFamORAssem         = 0x0005
	MethodStatic             = 0x0010
	MethodFinal              = 0x0020
	MethodVirtual            = 0x0040
	MethodNewSlot            = 0x0100
	MethodStrict             = 0x0200
	MethodAbstract           = 0x0400
	MethodSpecialName        = 0x0800
	MethodRTSpecialName      = 0x1000
	MethodPinvokeImpl        = 0x2000
)

// MethodImplAttributes (§II.23.1.11).
const (
	MethodImplCodeTypeMask = 0x0003
	MethodImplIL           = 0x0000
	MethodImplNative       = 0x0001
	MethodImplOPTIL        = 0x0002
	MethodImplRuntime      = 0x0003
	MethodImplInternalCall = 0x1000
	MethodImplInvalidBits  = 0x0400 | 0x0800 | 0x2000 | 0x4000 | 0x8000
)

// ParamAttributes (§II.23.1.13).
const (
	ParamHasDefault      = 0x1000
	ParamHasFieldMarshal = 0x2000
	ParamInvalidBits     = 0xcfe0
)

// EventAttributes, PropertyAttributes (§II.23.1.4, §II.23.1.14).
const (
	EventValidBits      = 0x0200 | 0x0400
	PropertyHasDefault  = 0x1000
	PropertyValidBits   = 0x0200 | 0x0400 | PropertyHasDefault
	SemanticsValidBits  = 0x003f
	SemanticsAddOn      = 0x0008
	SemanticsRemoveOn   = 0x0010
	GenericParamVariant = 0x0003
	GenericParamValid   = 0x001f
)

// PInvokeAttributes (§II.23.1.8).
const (
	PInvokeCallConvMask = 0x0700
	PInvokeValidBits    = 0x0001 | 0x0006 | 0x0030 | 0x0040 | PInvokeCallConvMask | 0x3000
)

// Assembly level attributes (§II.23.1.1, §II.23.1.2, §II.23.1.6, §II.23.1.9).
const (
	AssemblyValidBits         = 0xcff1
	AssemblyRefValidBits      = 0xcf01
	FileValidBits             = 0x0001
	ManifestResourceValidBits = 0x0007
	ManifestResourcePublic    = 0x0001
	ManifestResourcePrivate   = 0x0002

	HashAlgNone   = 0x0000
	HashAlgMD5    = 0x8003
	HashAlgSHA1   = 0x8004
	HashAlgSHA256 = 0x800c
	HashAlgSHA384 = 0x800d
	HashAlgSHA512 = 0x800e
)

// ValidHashAlgorithm reports whether id is a known AssemblyHashAlgorithm.
func ValidHashAlgorithm(id uint32) bool {
	switch id {
	case HashAlgNone, HashAlgMD5, HashAlgSHA1, HashAlgSHA256, HashAlgSHA384, HashAlgSHA512:
		return true
	}
	return false
}
