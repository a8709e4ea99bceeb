// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ecma335

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodedIndex(t *testing.T) {
	testCases := []struct {
		kind  CodedKind
		value uint32
		table Table
		row   uint32
	}{
		{TypeDefOrRef, 0x0000, TableTypeDef, 0},
		{TypeDefOrRef, 0x0005, TableTypeRef, 1},
		{TypeDefOrRef, 0x000a, TableTypeSpec, 2},
		{TypeDefOrRef, 0x0003, TableInvalid, 0},
		{ResolutionScope, 0x0006, TableAssemblyRef, 1},
		{HasCustomAttribute, 0x0035, TableMethodSpec, 1},
		{HasCustomAttribute, 0x0036, TableInvalid, 1},
		{CustomAttributeType, 0x000a, TableMethodDef, 1},
		{CustomAttributeType, 0x000b, TableMemberRef, 1},
		{CustomAttributeType, 0x0008, TableInvalid, 1},
		{MethodDefOrRef, 0x0003, TableMemberRef, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.table, tc.kind.Table(tc.value))
			assert.Equal(t, tc.row, tc.kind.Row(tc.value))
			if tc.table == TableInvalid {
				_, ok := tc.kind.Token(tc.value)
				assert.False(t, ok)
				return
			}
			enc, ok := tc.kind.Encode(tc.table, tc.row)
			require.True(t, ok)
			assert.Equal(t, tc.value, enc)
		})
	}

	_, ok := CustomAttributeType.Encode(TableInvalid, 1)
	assert.False(t, ok)
}

func TestLayoutWidths(t *testing.T) {
	var rows [TableCount]uint32
	rows[TableModule] = 1
	l := NewLayout(0, &rows)
	assert.Equal(t, uint32(10), l.Tables[TableModule].RowSize)
	assert.Equal(t, uint32(14), l.Tables[TableTypeDef].RowSize)
	assert.Equal(t, uint8(2), l.CodedIndexWidth(HasCustomAttribute))

	// 2^(16-5) rows in a HasCustomAttribute candidate widens the column.
	rows[TableParam] = 1 << 11
	l = NewLayout(HeapStringsWide|HeapBlobWide, &rows)
	assert.Equal(t, uint8(4), l.CodedIndexWidth(HasCustomAttribute))
	assert.Equal(t, uint8(2), l.CodedIndexWidth(TypeDefOrRef))
	assert.Equal(t, uint32(4+2+4), l.Tables[TableCustomAttribute].RowSize)
	assert.Equal(t, uint32(2+4+2+2+2), l.Tables[TableModule].RowSize)

	rows[TableField] = 0x10000
	l = NewLayout(0, &rows)
	assert.Equal(t, uint8(4), l.TableIndexWidth(TableField))
	assert.Equal(t, uint32(4+2+2+2+4+2), l.Tables[TableTypeDef].RowSize)
}

func TestLayoutDecodeRow(t *testing.T) {
	var rows [TableCount]uint32
	rows[TableModule] = 1
	rows[TableTypeRef] = 2
	l := NewLayout(0, &rows)
	size, ok := l.AssignBases(4)
	require.True(t, ok)
	assert.Equal(t, uint32(10+2*6), size)
	assert.Equal(t, uint32(14), l.Tables[TableTypeRef].Base)

	data := make([]byte, 4+size)
	binary.LittleEndian.PutUint16(data[4+2:], 0x11)
	binary.LittleEndian.PutUint16(data[14+6:], 0x0006)
	binary.LittleEndian.PutUint16(data[14+8:], 0x22)

	r := l.DecodeRow(data, TableModule, 0)
	assert.Equal(t, uint32(0x11), r[ModuleName])
	r = l.DecodeRow(data, TableTypeRef, 1)
	assert.Equal(t, uint32(0x0006), r[TypeRefResolutionScope])
	assert.Equal(t, uint32(0x22), r[TypeRefName])
	assert.Equal(t, uint32(0x22), l.Column(data, TableTypeRef, 1, TypeRefName))

	tok := MakeToken(TableTypeSpec, 3)
	assert.Equal(t, TableTypeSpec, tok.Table())
	assert.Equal(t, uint32(3), tok.Row())
	assert.Equal(t, "GenericParamConstraint", TableGenericParamConstraint.String())
}

func TestLayoutOverflow(t *testing.T) {
	var rows [TableCount]uint32
	for i := range rows {
		rows[i] = MaxRows
	}
	l := NewLayout(0x7, &rows)
	_, ok := l.AssignBases(0)
	assert.False(t, ok)
}
