// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"bytes"

	"go.opentelemetry.io/clrverify/ecma335"
)

func (ctx *verifyContext) verifyAssemblyTable() {
	const t = ecma335.TableAssembly
	n := ctx.rows(t)
	if n > 1 {
		ctx.errorf("Assembly table can have at most one row, found %d", n)
		return
	}
	for i := uint32(0); i < n; i++ {
		r := ctx.row(t, i)
		if id := r[ecma335.AssemblyHashAlgID]; !ecma335.ValidHashAlgorithm(id) {
			ctx.rowErrorf(t, i, "Invalid hash algorithm %#x", id)
		}
		if flags := r[ecma335.AssemblyFlags]; flags&^ecma335.AssemblyValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#08x", flags)
		}
		if pk := r[ecma335.AssemblyPublicKey]; pk != 0 && !ctx.isValidBlob(pk, false) {
			ctx.rowErrorf(t, i, "Invalid public key blob %#x", pk)
		}
		name, ok := ctx.stringAt(r[ecma335.AssemblyName])
		if !ok || len(name) == 0 || bytes.ContainsAny(name, `:\/.`) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.AssemblyName])
		}
		if c := r[ecma335.AssemblyCulture]; c != 0 && !ctx.isValidString(c) {
			ctx.rowErrorf(t, i, "Invalid culture %#x", c)
		}
	}
}

func (ctx *verifyContext) verifyAssemblyRefTable() {
	const t = ecma335.TableAssemblyRef
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if flags := r[ecma335.AssemblyRefFlags]; flags&^ecma335.AssemblyRefValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#08x", flags)
		}
		if pk := r[ecma335.AssemblyRefPublicKeyOrToken]; pk != 0 && !ctx.isValidBlob(pk, false) {
			ctx.rowErrorf(t, i, "Invalid public key or token blob %#x", pk)
		}
		if !ctx.isValidNonEmptyString(r[ecma335.AssemblyRefName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.AssemblyRefName])
		}
		if c := r[ecma335.AssemblyRefCulture]; c != 0 && !ctx.isValidString(c) {
			ctx.rowErrorf(t, i, "Invalid culture %#x", c)
		}
		if h := r[ecma335.AssemblyRefHashValue]; h != 0 && !ctx.isValidBlob(h, false) {
			ctx.rowErrorf(t, i, "Invalid hash value blob %#x", h)
		}
	}
}

func (ctx *verifyContext) verifyFileTable() {
	const t = ecma335.TableFile
	seen := make(map[string]struct{}, ctx.rows(t))
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if flags := r[ecma335.FileFlags]; flags&^ecma335.FileValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#x", flags)
		}
		if !ctx.isValidBlob(r[ecma335.FileHashValue], true) {
			ctx.rowErrorf(t, i, "Invalid hash value blob %#x", r[ecma335.FileHashValue])
		}
		name, ok := ctx.stringAt(r[ecma335.FileName])
		if !ok || !isValidFileName(name) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.FileName])
			continue
		}
		if _, dup := seen[string(name)]; dup {
			ctx.rowErrorf(t, i, "Duplicate file name %q", name)
		}
		seen[string(name)] = struct{}{}
	}
}

func (ctx *verifyContext) verifyExportedTypeTable() {
	const t = ecma335.TableExportedType
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		if flags := r[ecma335.ExportedTypeFlags]; flags&ecma335.ExportedTypeInvalidBit != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#08x", flags)
		}
		if !ctx.isValidNonEmptyString(r[ecma335.ExportedTypeName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.ExportedTypeName])
		}
		ns := r[ecma335.ExportedTypeNamespace]
		if ns != 0 && !ctx.isValidString(ns) {
			ctx.rowErrorf(t, i, "Invalid namespace %#x", ns)
		}
		impl := r[ecma335.ExportedTypeImplementation]
		if !ctx.isValidNonNullCodedIndex(ecma335.Implementation, impl) {
			ctx.rowErrorf(t, i, "Invalid implementation %#x", impl)
			continue
		}
		if ecma335.Implementation.Table(impl) == ecma335.TableExportedType &&
			ctx.isValidNonEmptyString(ns) {
			ctx.rowErrorf(t, i, "Nested exported types cannot have a namespace")
		}
	}
}

func (ctx *verifyContext) verifyManifestResourceTable() {
	const t = ecma335.TableManifestResource
	resources := ctx.lay.cli.resources
	for i := uint32(0); i < ctx.rows(t); i++ {
		r := ctx.row(t, i)
		flags := r[ecma335.ManifestResourceFlags]
		if flags&^ecma335.ManifestResourceValidBits != 0 {
			ctx.rowErrorf(t, i, "Invalid flags %#x", flags)
		}
		if v := flags & ecma335.ManifestResourceValidBits; v != ecma335.ManifestResourcePublic &&
			v != ecma335.ManifestResourcePrivate {
			ctx.rowErrorf(t, i, "Invalid visibility %#x", v)
		}
		if !ctx.isValidNonEmptyString(r[ecma335.ManifestResourceName]) {
			ctx.rowErrorf(t, i, "Invalid name %#x", r[ecma335.ManifestResourceName])
		}

		impl := r[ecma335.ManifestResourceImplementation]
		offset := r[ecma335.ManifestResourceOffset]
		if !ctx.isValidCodedIndex(ecma335.Implementation, impl) {
			ctx.rowErrorf(t, i, "Invalid implementation %#x", impl)
			continue
		}
		implTable := ecma335.Implementation.Table(impl)
		switch {
		case implTable == ecma335.TableExportedType:
			ctx.rowErrorf(t, i, "Implementation cannot be an ExportedType")
		case ecma335.Implementation.Row(impl) == 0:
			if offset >= resources.Size {
				ctx.rowErrorf(t, i, "Offset %#x is beyond the resources directory of "+
					"%d bytes", offset, resources.Size)
			}
		case implTable == ecma335.TableFile && offset != 0:
			ctx.rowErrorf(t, i, "Resources in another file must have offset 0, found %#x",
				offset)
		}
	}
}
