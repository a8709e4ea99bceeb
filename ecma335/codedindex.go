// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335 // import "go.opentelemetry.io/clrverify/ecma335"

// CodedKind identifies a coded index kind (ECMA-335 §II.24.2.6).
type CodedKind uint8

const (
	TypeDefOrRef CodedKind = iota
	HasConstant
	HasCustomAttribute
	HasFieldMarshal
	HasDeclSecurity
	MemberRefParent
	HasSemantics
	MethodDefOrRef
	MemberForwarded
	Implementation
	CustomAttributeType
	ResolutionScope
	TypeOrMethodDef

	codedKindCount
)

// CodedIndex describes a coded index kind: the number of tag bits and the
// candidate table for every tag value.
type CodedIndex struct {
	Name   string
	Bits   uint8
	Tables []Table
}

var codedIndices = [codedKindCount]CodedIndex{
	TypeDefOrRef: {"TypeDefOrRef", 2, []Table{TableTypeDef, TableTypeRef, TableTypeSpec}},
	HasConstant:  {"HasConstant", 2, []Table{TableField, TableParam, TableProperty}},
	HasCustomAttribute: {"HasCustomAttribute", 5, []Table{
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam,
		TableInterfaceImpl, TableMemberRef, TableModule, TableDeclSecurity,
		TableProperty, TableEvent, TableStandAloneSig, TableModuleRef,
		TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile,
		TableExportedType, TableManifestResource, TableGenericParam,
		TableGenericParamConstraint, TableMethodSpec,
	}},
	HasFieldMarshal: {"HasFieldMarshal", 1, []Table{TableField, TableParam}},
	HasDeclSecurity: {"HasDeclSecurity", 2, []Table{TableTypeDef, TableMethodDef, TableAssembly}},
	MemberRefParent: {"MemberRefParent", 3, []Table{
		TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec,
	}},
	HasSemantics:    {"HasSemantics", 1, []Table{TableEvent, TableProperty}},
	MethodDefOrRef:  {"MethodDefOrRef", 1, []Table{TableMethodDef, TableMemberRef}},
	MemberForwarded: {"MemberForwarded", 1, []Table{TableField, TableMethodDef}},
	Implementation:  {"Implementation", 2, []Table{TableFile, TableAssemblyRef, TableExportedType}},
	// Tags 0, 1 and 4 are reserved.
	CustomAttributeType: {"CustomAttributeType", 3, []Table{
		TableInvalid, TableInvalid, TableMethodDef, TableMemberRef, TableInvalid,
	}},
	ResolutionScope: {"ResolutionScope", 2, []Table{
		TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef,
	}},
	TypeOrMethodDef: {"TypeOrMethodDef", 1, []Table{TableTypeDef, TableMethodDef}},
}

// Descriptor returns the immutable descriptor of k.
func (k CodedKind) Descriptor() *CodedIndex {
	return &codedIndices[k]
}

func (k CodedKind) String() string {
	if k < codedKindCount {
		return codedIndices[k].Name
	}
	return "CodedKind(?)"
}

// Table returns the table selected by the tag bits of v, or TableInvalid.
func (k CodedKind) Table(v uint32) Table {
	d := &codedIndices[k]
	tag := v & (1<<d.Bits - 1)
	if tag >= uint32(len(d.Tables)) {
		return TableInvalid
	}
	return d.Tables[tag]
}

// Row returns the 1-based row part of v. Zero denotes a null reference.
func (k CodedKind) Row(v uint32) uint32 {
	return v >> codedIndices[k].Bits
}

// Token converts v to a metadata token. The second return value is false if
// the tag does not select a candidate table.
func (k CodedKind) Token(v uint32) (Token, bool) {
	t := k.Table(v)
	if t == TableInvalid {
		return 0, false
	}
	return MakeToken(t, k.Row(v)), true
}

// Encode builds the coded index value referring to the 1-based row of t.
func (k CodedKind) Encode(t Table, row uint32) (uint32, bool) {
	d := &codedIndices[k]
	for tag, ct := range d.Tables {
		if ct == t && t != TableInvalid {
			return row<<d.Bits | uint32(tag), true
		}
	}
	return 0, false
}
