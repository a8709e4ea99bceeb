// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"go.opentelemetry.io/clrverify/ecma335"
)

// typeKey identifies a type within its resolution scope.
type typeKey struct {
	name      string
	namespace string
	scope     uint32
}

// verifyGlobalConstraints checks uniqueness across rows. Each table stops at
// its first duplicate.
func (ctx *verifyContext) verifyGlobalConstraints() {
	ctx.verifyTypeDefUniqueness()
	ctx.verifyTypeRefUniqueness()
	ctx.verifyMethodImplUniqueness()
}

func isNestedVisibility(flags uint32) bool {
	return flags&ecma335.TypeVisibilityMask >= ecma335.TypeNestedPublic
}

func (ctx *verifyContext) verifyTypeDefUniqueness() {
	const t = ecma335.TableTypeDef
	seen := make(map[typeKey]struct{}, ctx.rows(t))
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		name, _ := ctx.stringAt(r[ecma335.TypeDefName])
		namespace, _ := ctx.stringAt(r[ecma335.TypeDefNamespace])
		key := typeKey{name: string(name), namespace: string(namespace)}
		if isNestedVisibility(r[ecma335.TypeDefFlags]) {
			j := ctx.searchSortedTable(ecma335.TableNestedClass, ecma335.NestedClassNested, i+1)
			if j < 0 {
				ctx.rowErrorf(t, i, "Nested type has no NestedClass row")
				return
			}
			key.scope = ctx.column(ecma335.TableNestedClass, uint32(j),
				ecma335.NestedClassEnclosing)
		}
		if _, dup := seen[key]; dup {
			ctx.rowErrorf(t, i, "Duplicate type %s.%s", namespace, name)
			return
		}
		seen[key] = struct{}{}
	}
}

func (ctx *verifyContext) verifyTypeRefUniqueness() {
	const t = ecma335.TableTypeRef
	seen := make(map[typeKey]struct{}, ctx.rows(t))
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		name, _ := ctx.stringAt(r[ecma335.TypeRefName])
		namespace, _ := ctx.stringAt(r[ecma335.TypeRefNamespace])
		key := typeKey{
			name:      string(name),
			namespace: string(namespace),
			scope:     r[ecma335.TypeRefResolutionScope],
		}
		if _, dup := seen[key]; dup {
			ctx.rowErrorf(t, i, "Duplicate type reference %s.%s", namespace, name)
			return
		}
		seen[key] = struct{}{}
	}
}

func (ctx *verifyContext) verifyMethodImplUniqueness() {
	const t = ecma335.TableMethodImpl
	seen := make(map[[2]uint32]struct{}, ctx.rows(t))
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		key := [2]uint32{r[ecma335.MethodImplClass], r[ecma335.MethodImplDeclaration]}
		if _, dup := seen[key]; dup {
			ctx.rowErrorf(t, i, "Duplicate implementation of %#x in class %#x",
				key[1], key[0])
			return
		}
		seen[key] = struct{}{}
	}
}
