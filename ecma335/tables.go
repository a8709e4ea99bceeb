// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package ecma335 holds the immutable descriptions of the ECMA-335 metadata
// format: table identifiers and column layouts, coded index descriptors,
// element types, attribute flags and the compressed integer encoding.
//
// Nothing in this package is mutable after initialization, so it may be shared
// freely between concurrent verifications.
package ecma335 // import "go.opentelemetry.io/clrverify/ecma335"

import (
	"fmt"

	npsr "go.opentelemetry.io/clrverify/nopanicslicereader"
)

// Table identifies a metadata table (ECMA-335 §II.22).
type Table uint8

const (
	TableModule                 Table = 0x00
	TableTypeRef                Table = 0x01
	TableTypeDef                Table = 0x02
	TableFieldPtr               Table = 0x03
	TableField                  Table = 0x04
	TableMethodPtr              Table = 0x05
	TableMethodDef              Table = 0x06
	TableParamPtr               Table = 0x07
	TableParam                  Table = 0x08
	TableInterfaceImpl          Table = 0x09
	TableMemberRef              Table = 0x0a
	TableConstant               Table = 0x0b
	TableCustomAttribute        Table = 0x0c
	TableFieldMarshal           Table = 0x0d
	TableDeclSecurity           Table = 0x0e
	TableClassLayout            Table = 0x0f
	TableFieldLayout            Table = 0x10
	TableStandAloneSig          Table = 0x11
	TableEventMap               Table = 0x12
	TableEventPtr               Table = 0x13
	TableEvent                  Table = 0x14
	TablePropertyMap            Table = 0x15
	TablePropertyPtr            Table = 0x16
	TableProperty               Table = 0x17
	TableMethodSemantics        Table = 0x18
	TableMethodImpl             Table = 0x19
	TableModuleRef              Table = 0x1a
	TableTypeSpec               Table = 0x1b
	TableImplMap                Table = 0x1c
	TableFieldRVA               Table = 0x1d
	TableENCLog                 Table = 0x1e
	TableENCMap                 Table = 0x1f
	TableAssembly               Table = 0x20
	TableAssemblyProcessor      Table = 0x21
	TableAssemblyOS             Table = 0x22
	TableAssemblyRef            Table = 0x23
	TableAssemblyRefProcessor   Table = 0x24
	TableAssemblyRefOS          Table = 0x25
	TableFile                   Table = 0x26
	TableExportedType           Table = 0x27
	TableManifestResource       Table = 0x28
	TableNestedClass            Table = 0x29
	TableGenericParam           Table = 0x2a
	TableMethodSpec             Table = 0x2b
	TableGenericParamConstraint Table = 0x2c

	// TableCount is the number of table identifiers with a defined layout.
	TableCount = 0x2d

	// TableInvalid marks an unused slot in a coded index candidate list.
	TableInvalid Table = 0xff
)

// MaxRows is the largest row count a table may declare: row numbers must fit
// the 24-bit index part of a metadata token.
const MaxRows = 1<<24 - 1

var tableNames = [TableCount]string{
	"Module", "TypeRef", "TypeDef", "FieldPtr", "Field", "MethodPtr", "MethodDef",
	"ParamPtr", "Param", "InterfaceImpl", "MemberRef", "Constant", "CustomAttribute",
	"FieldMarshal", "DeclSecurity", "ClassLayout", "FieldLayout", "StandAloneSig",
	"EventMap", "EventPtr", "Event", "PropertyMap", "PropertyPtr", "Property",
	"MethodSemantics", "MethodImpl", "ModuleRef", "TypeSpec", "ImplMap", "FieldRVA",
	"ENCLog", "ENCMap", "Assembly", "AssemblyProcessor", "AssemblyOS", "AssemblyRef",
	"AssemblyRefProcessor", "AssemblyRefOS", "File", "ExportedType", "ManifestResource",
	"NestedClass", "GenericParam", "MethodSpec", "GenericParamConstraint",
}

func (t Table) String() string {
	if t < TableCount {
		return tableNames[t]
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(t))
}

// ColumnKind selects how a column is encoded.
type ColumnKind uint8

const (
	ColU8 ColumnKind = iota + 1
	ColU16
	ColU32
	ColString
	ColGUID
	ColBlob
	// ColTable is a plain row index into Column.Table.
	ColTable
	// ColCoded is a coded index of kind Column.Coded.
	ColCoded
)

// Column describes one column of a table.
type Column struct {
	Kind  ColumnKind
	Table Table
	Coded CodedKind
}

// MaxColumns is the largest number of columns of any table.
const MaxColumns = 9

// Row is a decoded table row. Column values are addressed by the per-table
// column constants below.
type Row [MaxColumns]uint32

var (
	u8     = Column{Kind: ColU8}
	u16    = Column{Kind: ColU16}
	u32    = Column{Kind: ColU32}
	str    = Column{Kind: ColString}
	guid   = Column{Kind: ColGUID}
	blob   = Column{Kind: ColBlob}
	idx    = func(t Table) Column { return Column{Kind: ColTable, Table: t} }
	coded  = func(k CodedKind) Column { return Column{Kind: ColCoded, Coded: k} }
	layout = [TableCount][]Column{
		TableModule:                 {u16, str, guid, guid, guid},
		TableTypeRef:                {coded(ResolutionScope), str, str},
		TableTypeDef:                {u32, str, str, coded(TypeDefOrRef), idx(TableField), idx(TableMethodDef)},
		TableFieldPtr:               {idx(TableField)},
		TableField:                  {u16, str, blob},
		TableMethodPtr:              {idx(TableMethodDef)},
		TableMethodDef:              {u32, u16, u16, str, blob, idx(TableParam)},
		TableParamPtr:               {idx(TableParam)},
		TableParam:                  {u16, u16, str},
		TableInterfaceImpl:          {idx(TableTypeDef), coded(TypeDefOrRef)},
		TableMemberRef:              {coded(MemberRefParent), str, blob},
		TableConstant:               {u8, u8, coded(HasConstant), blob},
		TableCustomAttribute:        {coded(HasCustomAttribute), coded(CustomAttributeType), blob},
		TableFieldMarshal:           {coded(HasFieldMarshal), blob},
		TableDeclSecurity:           {u16, coded(HasDeclSecurity), blob},
		TableClassLayout:            {u16, u32, idx(TableTypeDef)},
		TableFieldLayout:            {u32, idx(TableField)},
		TableStandAloneSig:          {blob},
		TableEventMap:               {idx(TableTypeDef), idx(TableEvent)},
		TableEventPtr:               {idx(TableEvent)},
		TableEvent:                  {u16, str, coded(TypeDefOrRef)},
		TablePropertyMap:            {idx(TableTypeDef), idx(TableProperty)},
		TablePropertyPtr:            {idx(TableProperty)},
		TableProperty:               {u16, str, blob},
		TableMethodSemantics:        {u16, idx(TableMethodDef), coded(HasSemantics)},
		TableMethodImpl:             {idx(TableTypeDef), coded(MethodDefOrRef), coded(MethodDefOrRef)},
		TableModuleRef:              {str},
		TableTypeSpec:               {blob},
		TableImplMap:                {u16, coded(MemberForwarded), str, idx(TableModuleRef)},
		TableFieldRVA:               {u32, idx(TableField)},
		TableENCLog:                 {u32, u32},
		TableENCMap:                 {u32},
		TableAssembly:               {u32, u16, u16, u16, u16, u32, blob, str, str},
		TableAssemblyProcessor:      {u32},
		TableAssemblyOS:             {u32, u32, u32},
		TableAssemblyRef:            {u16, u16, u16, u16, u32, blob, str, str, blob},
		TableAssemblyRefProcessor:   {u32, idx(TableAssemblyRef)},
		TableAssemblyRefOS:          {u32, u32, u32, idx(TableAssemblyRef)},
		TableFile:                   {u32, str, blob},
		TableExportedType:           {u32, u32, str, str, coded(Implementation)},
		TableManifestResource:       {u32, u32, str, coded(Implementation)},
		TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
		TableGenericParam:           {u16, u16, coded(TypeOrMethodDef), str},
		TableMethodSpec:             {coded(MethodDefOrRef), blob},
		TableGenericParamConstraint: {idx(TableGenericParam), coded(TypeDefOrRef)},
	}
)

// Columns returns the column layout of t, or nil if t has none.
func (t Table) Columns() []Column {
	if t >= TableCount {
		return nil
	}
	return layout[t]
}

// Column indices, per table.
const (
	ModuleGeneration = 0
	ModuleName       = 1
	ModuleMvid       = 2
	ModuleEncID      = 3
	ModuleEncBaseID  = 4

	TypeRefResolutionScope = 0
	TypeRefName            = 1
	TypeRefNamespace       = 2

	TypeDefFlags      = 0
	TypeDefName       = 1
	TypeDefNamespace  = 2
	TypeDefExtends    = 3
	TypeDefFieldList  = 4
	TypeDefMethodList = 5

	FieldFlags     = 0
	FieldName      = 1
	FieldSignature = 2

	MethodDefRVA       = 0
	MethodDefImplFlags = 1
	MethodDefFlags     = 2
	MethodDefName      = 3
	MethodDefSignature = 4
	MethodDefParamList = 5

	ParamFlags    = 0
	ParamSequence = 1
	ParamName     = 2

	InterfaceImplClass     = 0
	InterfaceImplInterface = 1

	MemberRefClass     = 0
	MemberRefName      = 1
	MemberRefSignature = 2

	ConstantType    = 0
	ConstantPadding = 1
	ConstantParent  = 2
	ConstantValue   = 3

	CustomAttributeParent      = 0
	CustomAttributeConstructor = 1
	CustomAttributeValue       = 2

	FieldMarshalParent     = 0
	FieldMarshalNativeType = 1

	DeclSecurityAction        = 0
	DeclSecurityParent        = 1
	DeclSecurityPermissionSet = 2

	ClassLayoutPackingSize = 0
	ClassLayoutClassSize   = 1
	ClassLayoutParent      = 2

	FieldLayoutOffset = 0
	FieldLayoutField  = 1

	StandAloneSigSignature = 0

	EventMapParent    = 0
	EventMapEventList = 1

	EventFlags = 0
	EventName  = 1
	EventType  = 2

	PropertyMapParent       = 0
	PropertyMapPropertyList = 1

	PropertyFlags = 0
	PropertyName  = 1
	PropertyType  = 2

	MethodSemanticsSemantics   = 0
	MethodSemanticsMethod      = 1
	MethodSemanticsAssociation = 2

	MethodImplClass       = 0
	MethodImplBody        = 1
	MethodImplDeclaration = 2

	ModuleRefName = 0

	TypeSpecSignature = 0

	ImplMapFlags       = 0
	ImplMapMember      = 1
	ImplMapImportName  = 2
	ImplMapImportScope = 3

	FieldRVARVA   = 0
	FieldRVAField = 1

	AssemblyHashAlgID      = 0
	AssemblyMajorVersion   = 1
	AssemblyMinorVersion   = 2
	AssemblyBuildNumber    = 3
	AssemblyRevisionNumber = 4
	AssemblyFlags          = 5
	AssemblyPublicKey      = 6
	AssemblyName           = 7
	AssemblyCulture        = 8

	AssemblyRefMajorVersion     = 0
	AssemblyRefMinorVersion     = 1
	AssemblyRefBuildNumber      = 2
	AssemblyRefRevisionNumber   = 3
	AssemblyRefFlags            = 4
	AssemblyRefPublicKeyOrToken = 5
	AssemblyRefName             = 6
	AssemblyRefCulture          = 7
	AssemblyRefHashValue        = 8

	FileFlags     = 0
	FileName      = 1
	FileHashValue = 2

	ExportedTypeFlags          = 0
	ExportedTypeTypeDefID      = 1
	ExportedTypeName           = 2
	ExportedTypeNamespace      = 3
	ExportedTypeImplementation = 4

	ManifestResourceOffset         = 0
	ManifestResourceFlags          = 1
	ManifestResourceName           = 2
	ManifestResourceImplementation = 3

	NestedClassNested    = 0
	NestedClassEnclosing = 1

	GenericParamNumber = 0
	GenericParamFlags  = 1
	GenericParamOwner  = 2
	GenericParamName   = 3

	MethodSpecMethod        = 0
	MethodSpecInstantiation = 1

	GenericParamConstraintOwner      = 0
	GenericParamConstraintConstraint = 1
)

// Heap size flags of the #~ stream header.
const (
	HeapStringsWide = 0x01
	HeapGUIDWide    = 0x02
	HeapBlobWide    = 0x04
	// HeapExtraData indicates four bytes of extra data after the row counts.
	HeapExtraData = 0x40
)

// TableInfo is the computed layout of one table.
type TableInfo struct {
	Rows    uint32
	RowSize uint32
	// Base is the file offset of the first row.
	Base    uint32
	widths  [MaxColumns]uint8
	offsets [MaxColumns]uint8
}

// ColumnWidth returns the width in bytes of column col.
func (ti *TableInfo) ColumnWidth(col int) uint8 {
	return ti.widths[col]
}

// Layout holds the row layout of every table, computed from heap widths and row
// counts rather than trusted from the image.
type Layout struct {
	HeapSizes uint8
	Tables    [TableCount]TableInfo
}

// NewLayout computes column widths and row sizes for the given heap size flags
// and row counts. Base offsets are left zero; see AssignBases.
func NewLayout(heapSizes uint8, rows *[TableCount]uint32) *Layout {
	l := &Layout{HeapSizes: heapSizes}
	for t := range l.Tables {
		l.Tables[t].Rows = rows[t]
	}
	for t := Table(0); t < TableCount; t++ {
		ti := &l.Tables[t]
		var off uint8
		for col, c := range layout[t] {
			w := l.columnWidth(c)
			ti.widths[col] = w
			ti.offsets[col] = off
			off += w
		}
		ti.RowSize = uint32(off)
	}
	return l
}

func (l *Layout) heapWidth(flag uint8) uint8 {
	if l.HeapSizes&flag != 0 {
		return 4
	}
	return 2
}

// TableIndexWidth returns the width of a plain row index into t.
func (l *Layout) TableIndexWidth(t Table) uint8 {
	if l.Tables[t].Rows > 0xffff {
		return 4
	}
	return 2
}

// CodedIndexWidth returns the width of a coded index of kind k.
func (l *Layout) CodedIndexWidth(k CodedKind) uint8 {
	d := k.Descriptor()
	limit := uint32(1) << (16 - d.Bits)
	for _, t := range d.Tables {
		if t != TableInvalid && l.Tables[t].Rows >= limit {
			return 4
		}
	}
	return 2
}

func (l *Layout) columnWidth(c Column) uint8 {
	switch c.Kind {
	case ColU8:
		return 1
	case ColU16:
		return 2
	case ColU32:
		return 4
	case ColString:
		return l.heapWidth(HeapStringsWide)
	case ColGUID:
		return l.heapWidth(HeapGUIDWide)
	case ColBlob:
		return l.heapWidth(HeapBlobWide)
	case ColTable:
		return l.TableIndexWidth(c.Table)
	case ColCoded:
		return l.CodedIndexWidth(c.Coded)
	}
	return 0
}

// AssignBases lays the tables out consecutively starting at file offset start
// and returns the total size of the table area. It returns false if the size
// computation overflows.
func (l *Layout) AssignBases(start uint32) (uint32, bool) {
	var total uint64
	for t := range l.Tables {
		ti := &l.Tables[t]
		base := uint64(start) + total
		if base > 0xffffffff {
			return 0, false
		}
		ti.Base = uint32(base)
		total += uint64(ti.Rows) * uint64(ti.RowSize)
		if total > 0xffffffff {
			return 0, false
		}
	}
	return uint32(total), true
}

// DecodeRow decodes the zero based row of table t from data. Out of bounds
// columns decode as zero, so the caller must have validated the table area.
func (l *Layout) DecodeRow(data []byte, t Table, row uint32) Row {
	var r Row
	ti := &l.Tables[t]
	base := ti.Base + row*ti.RowSize
	for col := range layout[t] {
		off := base + uint32(ti.offsets[col])
		switch ti.widths[col] {
		case 1:
			r[col] = uint32(npsr.Uint8(data, off))
		case 2:
			r[col] = uint32(npsr.Uint16(data, off))
		case 4:
			r[col] = npsr.Uint32(data, off)
		}
	}
	return r
}

// Column decodes a single column of the zero based row of table t.
func (l *Layout) Column(data []byte, t Table, row uint32, col int) uint32 {
	ti := &l.Tables[t]
	off := ti.Base + row*ti.RowSize + uint32(ti.offsets[col])
	switch ti.widths[col] {
	case 1:
		return uint32(npsr.Uint8(data, off))
	case 2:
		return uint32(npsr.Uint16(data, off))
	}
	return npsr.Uint32(data, off)
}

// Rows returns the row count of t.
func (l *Layout) Rows(t Table) uint32 {
	if t >= TableCount {
		return 0
	}
	return l.Tables[t].Rows
}

// Token is a metadata token: table in the top byte, 1-based row below.
type Token uint32

// MakeToken builds a token from a table and a 1-based row.
func MakeToken(t Table, row uint32) Token {
	return Token(uint32(t)<<24 | row&0xffffff)
}

// Table returns the table part of the token.
func (tok Token) Table() Table { return Table(tok >> 24) }

// Row returns the 1-based row part of the token.
func (tok Token) Row() uint32 { return uint32(tok) & 0xffffff }
