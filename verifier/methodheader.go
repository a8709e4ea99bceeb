// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"go.opentelemetry.io/clrverify/bounds"
	"go.opentelemetry.io/clrverify/ecma335"
	npsr "go.opentelemetry.io/clrverify/nopanicslicereader"
)

// Method header formats of ECMA-335 II.25.4.
const (
	methodHeaderFormatMask = 0x3
	methodHeaderTiny       = 0x2
	methodHeaderFat        = 0x3
	methodHeaderMoreSects  = 0x8
	methodHeaderInitLocals = 0x10
	methodHeaderSizeMask   = 0xf000
	fatHeaderSize          = 12
	fatHeaderDwords        = 3

	sectionEHTable    = 0x01
	sectionOptILTable = 0x02
	sectionFatFormat  = 0x40
	sectionMoreSects  = 0x80

	smallClauseSize = 12
	fatClauseSize   = 24

	clauseException = 0x0
	clauseFilter    = 0x1
	clauseFinally   = 0x2
	clauseFault     = 0x4
)

// ehClause is a decoded exception handling clause.
type ehClause struct {
	flags, tryOffset, tryLength, handlerOffset, handlerLength, classToken uint32
}

func decodeClause(data []byte, off uint32, fat bool) ehClause {
	if fat {
		return ehClause{
			flags:         npsr.Uint32(data, off),
			tryOffset:     npsr.Uint32(data, off+4),
			tryLength:     npsr.Uint32(data, off+8),
			handlerOffset: npsr.Uint32(data, off+12),
			handlerLength: npsr.Uint32(data, off+16),
			classToken:    npsr.Uint32(data, off+20),
		}
	}
	return ehClause{
		flags:         uint32(npsr.Uint16(data, off)),
		tryOffset:     uint32(npsr.Uint16(data, off+2)),
		tryLength:     uint32(npsr.Uint8(data, off+4)),
		handlerOffset: uint32(npsr.Uint16(data, off+5)),
		handlerLength: uint32(npsr.Uint8(data, off+7)),
		classToken:    npsr.Uint32(data, off+8),
	}
}

// verifyMethodHeader checks the method body at rva and returns its local
// variable signature token.
func (ctx *verifyContext) verifyMethodHeader(rva uint32) (uint32, bool) {
	offset, ok := ctx.translateRVA(rva)
	if !ok {
		return 0, ctx.fail("MethodHeader: Invalid RVA %#x", rva)
	}
	body := bounds.Range{Offset: offset, Size: ctx.size() - offset}
	data := ctx.data

	header := npsr.Uint8(data, offset)
	switch header & methodHeaderFormatMask {
	case methodHeaderTiny:
		codeSize := uint32(header >> 2)
		if !body.ContainsRelative(1, codeSize) {
			return 0, ctx.fail("MethodHeader: Not enough room for %d bytes of code", codeSize)
		}
		return 0, true
	case methodHeaderFat:
	default:
		return 0, ctx.fail("MethodHeader: Invalid header format %#x", header)
	}

	if !body.ContainsRelative(0, fatHeaderSize) {
		return 0, ctx.fail("MethodHeader: Not enough room for the fat header")
	}
	flags := uint32(npsr.Uint16(data, offset))
	if flags&^(methodHeaderFormatMask|methodHeaderMoreSects|methodHeaderInitLocals|
		methodHeaderSizeMask) != 0 {
		return 0, ctx.fail("MethodHeader: Invalid flags %#x", flags)
	}
	if size := flags >> 12; size != fatHeaderDwords {
		return 0, ctx.fail("MethodHeader: Invalid header size %d dwords", size)
	}
	codeSize := npsr.Uint32(data, offset+4)
	locals := npsr.Uint32(data, offset+8)
	if locals != 0 {
		tok := ecma335.Token(locals)
		if tok.Table() != ecma335.TableStandAloneSig {
			return 0, ctx.fail("MethodHeader: Invalid local vars signature token %#x", locals)
		}
		if !ctx.isValidTableIndex(ecma335.TableStandAloneSig, tok.Row()) {
			return 0, ctx.fail("MethodHeader: Local vars signature token %#x out of range",
				locals)
		}
	}
	if !body.ContainsRelative(fatHeaderSize, codeSize) {
		return 0, ctx.fail("MethodHeader: Not enough room for %d bytes of code", codeSize)
	}
	if flags&methodHeaderMoreSects == 0 {
		return locals, true
	}

	next, ok := bounds.AlignUp(offset+fatHeaderSize+codeSize, 4)
	for ok {
		if !body.Contains(next, 4) {
			return 0, ctx.fail("MethodHeader: Not enough room for a data section header")
		}
		kind := npsr.Uint8(data, next)
		fat := kind&sectionFatFormat != 0
		var size uint32
		if fat {
			size = npsr.Uint32(data, next) >> 8
		} else {
			size = uint32(npsr.Uint8(data, next+1))
		}
		if size < 4 {
			return 0, ctx.fail("MethodHeader: Data section size %d is smaller than 4", size)
		}
		if !body.Contains(next, size) {
			return 0, ctx.fail("MethodHeader: Not enough room for a data section of %d bytes",
				size)
		}
		if kind&sectionEHTable != 0 && !ctx.verifyEHSection(next, size, fat, codeSize) {
			return 0, false
		}
		if kind&sectionMoreSects == 0 {
			return locals, true
		}
		next, ok = bounds.AlignUp(next+size, 4)
	}
	return 0, ctx.fail("MethodHeader: Data section offset overflows")
}

func (ctx *verifyContext) verifyEHSection(offset, size uint32, fat bool, codeSize uint32) bool {
	clauseSize := uint32(smallClauseSize)
	if fat {
		clauseSize = fatClauseSize
	}
	// Some compilers leave the section header out of the size.
	var count uint32
	switch {
	case (size-4)%clauseSize == 0:
		count = (size - 4) / clauseSize
	case size%clauseSize == 0 && bounds.Fits(offset+4, size, ctx.size()):
		count = size / clauseSize
	default:
		return ctx.fail("MethodHeader: Invalid EH section size %d", size)
	}

	for i := uint32(0); i < count; i++ {
		c := decodeClause(ctx.data, offset+4+i*clauseSize, fat)
		switch c.flags {
		case clauseException:
			tok := ecma335.Token(c.classToken)
			switch tok.Table() {
			case ecma335.TableTypeDef, ecma335.TableTypeRef, ecma335.TableTypeSpec:
			default:
				return ctx.fail("MethodHeader: EH clause %d has invalid class token %#x",
					i, c.classToken)
			}
			if !ctx.isValidTableIndex(tok.Table(), tok.Row()) {
				return ctx.fail("MethodHeader: EH clause %d class token %#x out of range",
					i, c.classToken)
			}
		case clauseFilter:
			if c.classToken >= codeSize {
				return ctx.fail("MethodHeader: EH clause %d filter offset %#x beyond code",
					i, c.classToken)
			}
		case clauseFinally, clauseFault:
		default:
			return ctx.fail("MethodHeader: EH clause %d has invalid flags %#x", i, c.flags)
		}
		if !bounds.Fits(c.tryOffset, c.tryLength, codeSize) {
			return ctx.fail("MethodHeader: EH clause %d try block beyond code", i)
		}
		if !bounds.Fits(c.handlerOffset, c.handlerLength, codeSize) {
			return ctx.fail("MethodHeader: EH clause %d handler block beyond code", i)
		}
	}
	return true
}
