// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"debug/pe"

	"go.opentelemetry.io/clrverify/bounds"
)

// RVAMapper translates relative virtual addresses of an image the host has
// already mapped into offsets of the verified buffer.
type RVAMapper interface {
	MapRVA(rva uint32) (offset uint32, ok bool)
}

// Image is a read-only view of a PE image to verify. It is never modified, and
// one Image may be verified from several goroutines at once.
type Image struct {
	data   []byte
	mapper RVAMapper
}

// NewImage returns an Image for the raw file contents in data. RVAs are
// translated through the section table of the image.
func NewImage(data []byte) *Image {
	return &Image{data: data}
}

// NewLoadedImage returns an Image whose RVAs are translated by the host.
func NewLoadedImage(data []byte, mapper RVAMapper) *Image {
	return &Image{data: data, mapper: mapper}
}

// Data returns the underlying buffer.
func (img *Image) Data() []byte {
	return img.data
}

// Loaded reports whether RVA translation is delegated to a host mapper.
func (img *Image) Loaded() bool {
	return img.mapper != nil
}

// section is a decoded section header.
type section struct {
	name       string
	baseRVA    uint32
	baseOffset uint32
	size       uint32
	rawSize    uint32
}

// dataDirectory is a PE data directory entry with its file offset.
type dataDirectory struct {
	pe.DataDirectory
	offset uint32
	mapped bool
}

func (d *dataDirectory) empty() bool {
	return d.VirtualAddress == 0 && d.Size == 0
}

// translateRVA maps rva to a file offset. Before load the section table is
// searched. Once the host has mapped the image, the host translation is used.
func (ctx *verifyContext) translateRVA(rva uint32) (uint32, bool) {
	if ctx.img.mapper != nil {
		off, ok := ctx.img.mapper.MapRVA(rva)
		if !ok || off >= ctx.size() {
			return 0, false
		}
		return off, true
	}
	for i := range ctx.lay.sections {
		s := &ctx.lay.sections[i]
		end, ok := bounds.Add(s.baseRVA, s.size)
		if !ok || rva < s.baseRVA || rva > end {
			continue
		}
		off, ok := bounds.Add(s.baseOffset, rva-s.baseRVA)
		if !ok || off >= ctx.size() {
			return 0, false
		}
		return off, true
	}
	return 0, false
}

// boundsCheckVirtualAddress reports whether [rva, rva+size) lies inside the
// virtual extent of a single section.
func (ctx *verifyContext) boundsCheckVirtualAddress(rva, size uint32) bool {
	end, ok := bounds.Add(rva, size)
	if !ok {
		return false
	}
	for i := range ctx.lay.sections {
		s := &ctx.lay.sections[i]
		sEnd, ok := bounds.Add(s.baseRVA, s.size)
		if ok && rva >= s.baseRVA && end <= sEnd {
			return true
		}
	}
	return false
}

// mapRange translates a virtual range and checks that it is backed by the buffer.
func (ctx *verifyContext) mapRange(rva, size uint32) (bounds.Range, bool) {
	off, ok := ctx.translateRVA(rva)
	if !ok || !bounds.Fits(off, size, ctx.size()) {
		return bounds.Range{}, false
	}
	return bounds.Range{Offset: off, Size: size}, true
}
