// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"sort"

	"go.opentelemetry.io/clrverify/ecma335"
)

// searchSortedTable returns the zero based index of the first row of t whose
// column col equals value, or -1. The table must be sorted by col.
func (ctx *verifyContext) searchSortedTable(t ecma335.Table, col int, value uint32) int {
	n := int(ctx.rows(t))
	i := sort.Search(n, func(i int) bool {
		return ctx.column(t, uint32(i), col) >= value
	})
	if i < n && ctx.column(t, uint32(i), col) == value {
		return i
	}
	return -1
}

// hasRowFor reports whether the sorted table t has a row whose coded index
// column col refers to the 1-based row of owner.
func (ctx *verifyContext) hasRowFor(t ecma335.Table, col int, k ecma335.CodedKind,
	owner ecma335.Table, row uint32) bool {
	return ctx.searchSortedTable(t, col, encode(k, owner, row)) >= 0
}

// ownerOfMethod returns the 1-based TypeDef row whose method list holds the
// 1-based MethodDef row, or 0.
func (ctx *verifyContext) ownerOfMethod(method uint32) uint32 {
	const t = ecma335.TableTypeDef
	n := int(ctx.rows(t))
	i := sort.Search(n, func(i int) bool {
		return ctx.column(t, uint32(i), ecma335.TypeDefMethodList) > method
	}) - 1
	if i < 0 {
		return 0
	}
	end := ctx.listEnd(t, uint32(i), ecma335.TypeDefMethodList, ecma335.TableMethodDef)
	if method >= end {
		return 0
	}
	return uint32(i) + 1
}
