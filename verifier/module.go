// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"go.opentelemetry.io/clrverify/ecma335"
)

// ModuleIdentity is the name and MVID of the single Module row.
type ModuleIdentity struct {
	Name string
	MVID [guidSize]byte
}

// ReadModuleIdentity decodes the Module row of an image whose metadata tables
// can be located. It returns false when the structure is undecodable or the
// row does not reference a valid name and GUID.
func ReadModuleIdentity(img *Image) (ModuleIdentity, bool) {
	lay, _, ok := defaultVerifier.derive(img, stageTables)
	if !ok {
		return ModuleIdentity{}, false
	}
	ctx := newContext(img, &defaultVerifier.cfg)
	ctx.lay = lay
	if ctx.rows(ecma335.TableModule) == 0 {
		return ModuleIdentity{}, false
	}
	r := ctx.row(ecma335.TableModule, 0)
	name, ok := ctx.stringAt(r[ecma335.ModuleName])
	if !ok {
		return ModuleIdentity{}, false
	}
	guid, ok := ctx.guidAt(r[ecma335.ModuleMvid])
	if !ok {
		return ModuleIdentity{}, false
	}
	id := ModuleIdentity{Name: string(name)}
	copy(id.MVID[:], guid)
	return id, true
}
