// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"math/bits"

	"go.opentelemetry.io/clrverify/ecma335"
	npsr "go.opentelemetry.io/clrverify/nopanicslicereader"
)

const (
	tableSchemaHeaderSize = 24
	validHeapSizes        = 0x07
)

// Microsoft specific tables (the pointer tables of unoptimized metadata) the
// verifier does not decode.
const unsupportedTablesMask uint64 = 1<<ecma335.TableFieldPtr | 1<<ecma335.TableMethodPtr |
	1<<ecma335.TableParamPtr | 1<<ecma335.TableEventPtr | 1<<ecma335.TablePropertyPtr

// Edit and continue tables and identifiers without a defined layout.
const invalidTablesMask uint64 = 1<<ecma335.TableENCLog | 1<<ecma335.TableENCMap |
	^uint64(1<<ecma335.TableCount-1)

// verifyTableSchema checks the ECMA-335 II.24.2.6 #~ stream header and computes
// the table layout.
func (ctx *verifyContext) verifyTableSchema() {
	tilde := ctx.lay.streams[streamTables]
	data := ctx.data
	base := tilde.Offset

	if tilde.Size < tableSchemaHeaderSize {
		ctx.fatalf("Table schemata size (%d) too small for initial decoding "+
			"(requires %d bytes)", tilde.Size, tableSchemaHeaderSize)
		return
	}
	major := npsr.Uint8(data, base+4)
	minor := npsr.Uint8(data, base+5)
	heapSizes := npsr.Uint8(data, base+6)
	if major != 1 && major != 2 {
		ctx.errorf("Invalid table schemata major version %d, expected 2", major)
	}
	if minor != 0 {
		ctx.errorf("Invalid table schemata minor version %d, expected 0", minor)
	}
	if heapSizes&^validHeapSizes != 0 {
		ctx.errorf("Invalid table schemata heap sizes 0x%02x, only bits 0, 1 and 2 "+
			"can be set", heapSizes)
	}

	valid := npsr.Uint64(data, base+8)
	for mask := valid; mask != 0; mask &= mask - 1 {
		t := bits.TrailingZeros64(mask)
		switch {
		case unsupportedTablesMask&(1<<t) != 0:
			ctx.unsupportedf("Metadata verifier doesn't support MS specific table 0x%02x", t)
		case invalidTablesMask&(1<<t) != 0:
			ctx.errorf("Invalid table 0x%02x set", t)
		}
	}

	count := uint32(bits.OnesCount64(valid))
	required := tableSchemaHeaderSize + count*4
	if tilde.Size < required {
		ctx.fatalf("Table schemata size (%d) too small for decoding row counts "+
			"(requires %d bytes)", tilde.Size, required)
		return
	}

	var rows [ecma335.TableCount]uint32
	offset := base + tableSchemaHeaderSize
	for mask := valid; mask != 0; mask &= mask - 1 {
		t := bits.TrailingZeros64(mask)
		n := npsr.Uint32(data, offset)
		offset += 4
		if n > ecma335.MaxRows {
			ctx.errorf("Invalid table 0x%02x row count %d, at most %d rows are supported",
				t, n, ecma335.MaxRows)
		}
		if t < ecma335.TableCount {
			rows[t] = n
		}
	}
	if valid&^(1<<ecma335.TableCount-1) != 0 {
		// Rows of unknown tables cannot be sized.
		ctx.aborted = true
		return
	}
	if heapSizes&ecma335.HeapExtraData != 0 {
		offset += 4
	}

	layout := ecma335.NewLayout(heapSizes, &rows)
	area, ok := layout.AssignBases(offset)
	if !ok || area == 0 {
		ctx.fatalf("Table space is either empty or overflowed")
		return
	}
	if !tilde.Contains(offset, area) {
		ctx.fatalf("Tables data require %d bytes but the #~ stream has only %d bytes left",
			area, tilde.Size-(offset-base))
		return
	}
	ctx.lay.tables = layout
}
