// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"bytes"
	"debug/pe"
	"encoding/binary"

	"go.opentelemetry.io/clrverify/bounds"
)

const (
	cliHeaderSize = 72
	// COMIMAGE_FLAGS_ILONLY, 32BITREQUIRED, STRONGNAMESIGNED, NATIVE_ENTRYPOINT
	// and 32BITPREFERRED.
	validCLIFlags = 0x0003000b
)

// CLIHeader is the ECMA-335 II.25.3.3 CLI header
type CLIHeader struct {
	SizeOfHeader            uint32
	MajorRuntimeVersion     uint16
	MinorRuntimeVersion     uint16
	MetaData                pe.DataDirectory
	Flags                   uint32
	EntryPointToken         uint32
	Resources               pe.DataDirectory
	StrongNameSignature     pe.DataDirectory
	CodeManagerTable        pe.DataDirectory
	VTableFixups            pe.DataDirectory
	ExportAddressTableJumps pe.DataDirectory
	ManagedNativeHeader     pe.DataDirectory
}

func (h *CLIHeader) directories() [6]pe.DataDirectory {
	return [6]pe.DataDirectory{
		h.Resources, h.StrongNameSignature, h.CodeManagerTable,
		h.VTableFixups, h.ExportAddressTableJumps, h.ManagedNativeHeader,
	}
}

var cliDirectoryNames = [6]string{
	"Resources", "StrongNameSignature", "CodeManagerTable",
	"VTableFixups", "ExportAddressTableJumps", "ManagedNativeHeader",
}

type cliHeader struct {
	CLIHeader
	resources bounds.Range
}

func (ctx *verifyContext) verifyCLIHeader() {
	dir := &ctx.lay.dirs[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR]
	if dir.VirtualAddress == 0 {
		ctx.fatalf("CLI header missing")
		return
	}
	if dir.Size != cliHeaderSize {
		ctx.errorf("Invalid CLI header size in data directory %d, must be %d",
			dir.Size, cliHeaderSize)
	}
	r, ok := ctx.mapRange(dir.VirtualAddress, cliHeaderSize)
	if !ok {
		ctx.fatalf("Invalid CLI header rva %#x", dir.VirtualAddress)
		return
	}

	hdr := &ctx.lay.cli.CLIHeader
	if err := binary.Read(bytes.NewReader(r.Slice(ctx.data)), binary.LittleEndian,
		hdr); err != nil {
		ctx.fatalf("Could not decode CLI header: %v", err)
		return
	}
	if hdr.SizeOfHeader != cliHeaderSize {
		ctx.errorf("Invalid CLI header size %d, must be %d", hdr.SizeOfHeader, cliHeaderSize)
	}

	md := hdr.MetaData
	if md.VirtualAddress == 0 || md.Size == 0 {
		ctx.fatalf("Missing metadata section in the CLI header")
		return
	}
	if !ctx.boundsCheckVirtualAddress(md.VirtualAddress, md.Size) {
		ctx.fatalf("Invalid metadata section rva/size pair %#x/%#x",
			md.VirtualAddress, md.Size)
		return
	}
	if hdr.Flags&^validCLIFlags != 0 {
		ctx.errorf("Invalid CLI header flags %#x", hdr.Flags)
	}

	for i, d := range hdr.directories() {
		if d.VirtualAddress == 0 {
			continue
		}
		if !ctx.boundsCheckVirtualAddress(d.VirtualAddress, d.Size) {
			ctx.errorf("Invalid CLI header %s rva/size pair %#x/%#x",
				cliDirectoryNames[i], d.VirtualAddress, d.Size)
		}
		if i > 1 {
			ctx.unsupportedf("Metadata verifier doesn't support CLI header %s",
				cliDirectoryNames[i])
		}
	}
	if res := hdr.Resources; res.VirtualAddress != 0 {
		ctx.lay.cli.resources, _ = ctx.mapRange(res.VirtualAddress, res.Size)
	}
}
