// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"bytes"
	"debug/pe"
	"math"

	"go.opentelemetry.io/clrverify/bounds"
	npsr "go.opentelemetry.io/clrverify/nopanicslicereader"
)

const (
	// ECMA-335 II.25.2.1 requires the full 128 byte MS-DOS stub.
	msdosHeaderSize = 128
	lfanewOffset    = 0x3c

	coffHeaderSize       = 20
	optionalHeader32Size = 224
	sectionHeaderSize    = 40
	numDataDirectories   = 16
	// Offset of the data directories within the PE32 optional header.
	dataDirectoriesOffset = 96

	peMagic32     = 0x10b
	peMagic32Plus = 0x20b

	requiredSectionAlignment = 0x2000
	validSectionFlags        = 0xfe0000e0
)

// Data directories an IL-only image may use.
var allowedDataDirectories = [numDataDirectories]bool{
	pe.IMAGE_DIRECTORY_ENTRY_IMPORT:         true,
	pe.IMAGE_DIRECTORY_ENTRY_RESOURCE:       true,
	pe.IMAGE_DIRECTORY_ENTRY_SECURITY:       true,
	pe.IMAGE_DIRECTORY_ENTRY_BASERELOC:      true,
	pe.IMAGE_DIRECTORY_ENTRY_DEBUG:          true,
	pe.IMAGE_DIRECTORY_ENTRY_IAT:            true,
	pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR: true,
}

// SectionInfo summarizes a section header.
type SectionInfo struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	RawOffset      uint32
	RawSize        uint32
}

// PEInfo summarizes the PE headers of a verified image.
type PEInfo struct {
	Machine   uint16
	Sections  []SectionInfo
	CLIHeader pe.DataDirectory
}

func validMachine(m uint16) bool {
	switch m {
	case pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_MACHINE_AMD64,
		pe.IMAGE_FILE_MACHINE_ARMNT, pe.IMAGE_FILE_MACHINE_ARM64:
		return true
	}
	return false
}

// verifyPEHeaders checks the MS-DOS, COFF and optional headers, then loads the
// section table and data directories.
func (ctx *verifyContext) verifyPEHeaders() {
	data := ctx.data
	if uint64(len(data)) > math.MaxUint32 {
		ctx.fatalf("Image of %d bytes is too large", len(data))
		return
	}
	size := ctx.size()
	if size < msdosHeaderSize {
		ctx.fatalf("Not enough space for the MS-DOS header: %d bytes, need %d",
			size, msdosHeaderSize)
		return
	}
	if data[0] != 'M' || data[1] != 'Z' {
		ctx.errorf("Invalid MS-DOS watermark %#x", data[0:2])
	}

	lfanew := npsr.Uint32(data, lfanewOffset)
	if lfanew > size-4 {
		ctx.fatalf("MS-DOS lfanew offset %#x points outside of the file", lfanew)
		return
	}
	if !bytes.Equal(data[lfanew:lfanew+4], []byte{'P', 'E', 0, 0}) {
		ctx.errorf("Invalid PE header watermark %#x", data[lfanew:lfanew+4])
	}

	coff := lfanew + 4
	if !bounds.Fits(coff, coffHeaderSize, size) {
		ctx.fatalf("File with truncated PE header")
		return
	}
	machine := npsr.Uint16(data, coff)
	if !validMachine(machine) {
		ctx.errorf("Invalid PE header Machine value %#x", machine)
	}
	numSections := uint32(npsr.Uint16(data, coff+2))
	optSize := uint32(npsr.Uint16(data, coff+16))

	opt := coff + coffHeaderSize
	if optSize < 2 || !bounds.Fits(opt, optSize, size) {
		ctx.fatalf("Invalid PE optional header size %d", optSize)
		return
	}
	switch magic := npsr.Uint16(data, opt); magic {
	case peMagic32:
		if optSize != optionalHeader32Size {
			ctx.errorf("Invalid optional header size %d, must be %d",
				optSize, optionalHeader32Size)
		}
		if !bounds.Fits(opt, optionalHeader32Size, size) {
			ctx.fatalf("File with truncated optional header")
			return
		}
		if a := npsr.Uint32(data, opt+32); a != requiredSectionAlignment {
			ctx.errorf("Invalid section alignment %#x", a)
		}
		if a := npsr.Uint32(data, opt+36); a != 0x200 && a != 0x1000 {
			ctx.errorf("Invalid file alignment %#x", a)
		}
		if n := npsr.Uint32(data, opt+92); n > numDataDirectories {
			ctx.errorf("Too many data directories %d", n)
		}
	case peMagic32Plus:
		ctx.unsupportedf("Metadata verifier doesn't handle PE32+ images")
		ctx.aborted = true
		return
	default:
		ctx.errorf("Invalid optional header magic %#x", magic)
		ctx.aborted = true
		return
	}

	ctx.lay.pe = &PEInfo{Machine: machine}
	ctx.loadSectionTable(opt+optionalHeader32Size, numSections)
	if ctx.aborted {
		return
	}
	ctx.loadDataDirectories(opt + dataDirectoriesOffset)
}

func (ctx *verifyContext) loadSectionTable(offset, count uint32) {
	data := ctx.data
	size := ctx.size()
	if !bounds.Fits(offset, count*sectionHeaderSize, size) {
		ctx.fatalf("Invalid section table: %d sections do not fit in the file", count)
		return
	}
	ctx.lay.sections = make([]section, 0, count)
	for i := uint32(0); i < count; i++ {
		hdr := data[offset+i*sectionHeaderSize:][:sectionHeaderSize]
		s := section{
			name:       string(bytes.TrimRight(hdr[0:8], "\x00")),
			size:       npsr.Uint32(hdr, 8),
			baseRVA:    npsr.Uint32(hdr, 12),
			rawSize:    npsr.Uint32(hdr, 16),
			baseOffset: npsr.Uint32(hdr, 20),
		}
		relocs := npsr.Uint32(hdr, 24)
		numRelocs := npsr.Uint16(hdr, 32)
		flags := npsr.Uint32(hdr, 36)

		switch {
		case s.baseOffset == 0:
			ctx.unsupportedf("Metadata verifier doesn't handle section %d without raw data", i)
		case s.baseOffset >= size:
			ctx.errorf("Invalid PointerToRawData %#x of section %d, points beyond EOF",
				s.baseOffset, i)
		default:
			if s.size > size-s.baseOffset {
				ctx.errorf("Invalid VirtualSize %#x of section %d, points beyond EOF",
					s.size, i)
			}
			if s.rawSize > size-s.baseOffset {
				ctx.errorf("Invalid SizeOfRawData %#x of section %d, points beyond EOF",
					s.rawSize, i)
			}
		}
		if s.rawSize < s.size {
			ctx.unsupportedf("Metadata verifier doesn't handle section %d with "+
				"SizeOfRawData %#x smaller than VirtualSize %#x", i, s.rawSize, s.size)
		}
		if relocs != 0 || numRelocs != 0 {
			ctx.unsupportedf("Metadata verifier doesn't handle section %d relocations", i)
		}
		if flags == 0 || flags&^validSectionFlags != 0 {
			ctx.errorf("Invalid section %d flags %#x", i, flags)
		}

		ctx.lay.sections = append(ctx.lay.sections, s)
		ctx.lay.pe.Sections = append(ctx.lay.pe.Sections, SectionInfo{
			Name:           s.name,
			VirtualAddress: s.baseRVA,
			VirtualSize:    s.size,
			RawOffset:      s.baseOffset,
			RawSize:        s.rawSize,
		})
	}
}

func (ctx *verifyContext) loadDataDirectories(offset uint32) {
	for i := uint32(0); i < numDataDirectories; i++ {
		d := &ctx.lay.dirs[i]
		d.VirtualAddress = npsr.Uint32(ctx.data, offset+i*8)
		d.Size = npsr.Uint32(ctx.data, offset+i*8+4)
		// The certificate table holds a file offset, not an RVA.
		if i == pe.IMAGE_DIRECTORY_ENTRY_SECURITY || d.empty() {
			continue
		}
		if !ctx.boundsCheckVirtualAddress(d.VirtualAddress, d.Size) {
			ctx.errorf("Invalid data directory %d rva/size pair %#x/%#x",
				i, d.VirtualAddress, d.Size)
		}
		if !allowedDataDirectories[i] {
			ctx.unsupportedf("Metadata verifier doesn't support data directory %d", i)
		}
		d.offset, d.mapped = ctx.translateRVA(d.VirtualAddress)
	}
	ctx.lay.pe.CLIHeader = ctx.lay.dirs[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR].DataDirectory
}
