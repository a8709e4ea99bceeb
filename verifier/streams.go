// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"bytes"

	"go.opentelemetry.io/clrverify/bounds"
	npsr "go.opentelemetry.io/clrverify/nopanicslicereader"
)

const (
	metadataSignature    = 0x424a5342
	metadataRootMinSize  = 16
	maxStreamNameLength  = 32
	streamHeaderBaseSize = 8
)

func streamIndex(name []byte) int {
	for i, n := range streamNames {
		if string(name) == n {
			return i
		}
	}
	return -1
}

// verifyMetadataRoot checks the ECMA-335 II.24.2.1 metadata root and its
// stream headers.
func (ctx *verifyContext) verifyMetadataRoot() {
	md := ctx.lay.cli.MetaData
	root, ok := ctx.mapRange(md.VirtualAddress, md.Size)
	if !ok {
		ctx.fatalf("Metadata root rva/size pair %#x/%#x is not backed by the file",
			md.VirtualAddress, md.Size)
		return
	}
	ctx.lay.metadata = root
	data := ctx.data
	base := root.Offset

	if !root.ContainsRelative(0, metadataRootMinSize) {
		ctx.fatalf("Metadata root section is too small %d, at least %d bytes "+
			"are required for initial decoding", root.Size, metadataRootMinSize)
		return
	}
	if sig := npsr.Uint32(data, base); sig != metadataSignature {
		ctx.errorf("Invalid metadata signature, expected %#x but got %#x",
			metadataSignature, sig)
	}

	versionLength := npsr.Uint32(data, base+12)
	padded, ok := bounds.AlignUp(versionLength, 4)
	if ok {
		padded, ok = bounds.Add(padded, metadataRootMinSize)
	}
	if !ok || !root.ContainsRelative(padded, 4) {
		ctx.fatalf("Metadata root section is too small %d for a version string of %d bytes",
			root.Size, versionLength)
		return
	}
	numStreams := npsr.Uint16(data, base+padded+2)
	if numStreams < 2 {
		ctx.errorf("Metadata root section must have at least 2 streams (#~ and #GUID)")
	}

	rel := padded + 4
	for i := uint16(0); i < numStreams; i++ {
		if !root.ContainsRelative(rel, streamHeaderBaseSize) {
			ctx.fatalf("Metadata root section is too small for initial decode "+
				"of stream header %d", i)
			return
		}
		offset := npsr.Uint32(data, base+rel)
		size := npsr.Uint32(data, base+rel+4)
		rel += streamHeaderBaseSize

		name := root.Slice(data)[rel:]
		if len(name) > maxStreamNameLength {
			name = name[:maxStreamNameLength]
		}
		n := bytes.IndexByte(name, 0)
		if n < 0 {
			ctx.fatalf("Metadata stream header %d name larger than %d bytes or "+
				"not terminated", i, maxStreamNameLength)
			return
		}
		name = name[:n]
		// The name is padded to a 4 byte boundary, including its terminator.
		rel += (uint32(n) + 4) &^ 3

		s := stream{Range: bounds.Range{Offset: base + offset, Size: size}}
		if !root.ContainsRelative(offset, size) {
			ctx.errorf("Invalid stream header %d offset/size pair %#x/%#x", i, offset, size)
			continue
		}
		idx := streamIndex(name)
		if idx < 0 {
			if string(name) == "#-" {
				ctx.unsupportedf("Metadata verifier doesn't support the uncompressed "+
					"table stream %q", name)
			} else {
				ctx.warnf("Metadata stream header %d invalid name %q", i, name)
			}
			continue
		}
		if ctx.lay.streams[idx].present {
			ctx.errorf("Duplicated metadata stream header %s", streamNames[idx])
			continue
		}
		s.present = true
		ctx.lay.streams[idx] = s
	}

	if s := ctx.lay.streams[streamTables]; !s.present || s.Size == 0 {
		ctx.fatalf("Metadata #~ stream missing")
		return
	}
	if s := ctx.lay.streams[streamGUID]; !s.present || s.Size == 0 {
		ctx.errorf("Metadata #GUID stream missing")
	}
}
