// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testimage synthesizes small PE32 images with CLI metadata for
// tests. The images contain a single .text section holding the CLI header,
// raw method bodies and the metadata root.
package testimage // import "go.opentelemetry.io/clrverify/internal/testimage"

import (
	"debug/pe"
	"encoding/binary"
	"math/bits"
	"unicode/utf16"

	"go.opentelemetry.io/clrverify/ecma335"
)

// Layout constants of the generated images.
const (
	LFANew           = 0x80
	SectionAlignment = 0x2000
	FileAlignment    = 0x200
	TextRVA          = 0x2000
	TextOffset       = 0x200
	CLIHeaderSize    = 72

	coffHeaderSize       = 20
	optionalHeader32Size = 224
	sectionHeaderSize    = 40
	textFlags            = 0x60000020
	metadataVersion      = "v4.0.30319"
)

var le = binary.LittleEndian

// Stream is an additional metadata stream appended after the standard ones.
type Stream struct {
	Name string
	Data []byte
}

// Builder accumulates heaps, rows and raw section data.
type Builder struct {
	// Machine is the COFF machine, IMAGE_FILE_MACHINE_I386 by default.
	Machine uint16
	// PE32Plus writes the PE32+ optional header magic.
	PE32Plus bool
	// HeapSizes is written to the #~ header and selects wide heap indices.
	HeapSizes uint8
	// ExtraValid is ORed into the valid mask of the #~ header.
	ExtraValid uint64
	// ExtraStreams are appended to the stream headers.
	ExtraStreams []Stream
	// OmitStreams lists standard streams to leave out, e.g. "#GUID".
	OmitStreams map[string]bool
	// CLIFlags is the Flags field of the CLI header, COMIMAGE_FLAGS_ILONLY by
	// default.
	CLIFlags uint32

	strings     []byte
	userStrings []byte
	blobs       []byte
	guids       []byte
	code        []byte
	rows        [ecma335.TableCount][]ecma335.Row
}

// New returns a Builder with empty heaps and no rows.
func New() *Builder {
	return &Builder{
		Machine:     pe.IMAGE_FILE_MACHINE_I386,
		CLIFlags:    0x1,
		strings:     []byte{0},
		userStrings: []byte{0},
		blobs:       []byte{0},
	}
}

// NewAssembly returns a Builder for the smallest valid assembly: one Module
// row, the <Module> type and an Assembly row.
func NewAssembly() *Builder {
	b := New()
	b.AddRow(ecma335.TableModule, 0, b.String("test.dll"),
		b.GUID([16]byte{0x6d, 0x76, 0x69, 0x64, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}), 0, 0)
	b.AddRow(ecma335.TableTypeDef, 0, b.String("<Module>"), 0, 0, 1, 1)
	b.AddRow(ecma335.TableAssembly, ecma335.HashAlgSHA1, 1, 0, 0, 0, 0, 0, b.String("test"), 0)
	return b
}

// String adds s to the #Strings heap and returns its offset. The empty string
// is offset 0.
func (b *Builder) String(s string) uint32 {
	if s == "" {
		return 0
	}
	off := uint32(len(b.strings))
	b.strings = append(append(b.strings, s...), 0)
	return off
}

// RawString appends raw bytes to the #Strings heap without a terminator.
func (b *Builder) RawString(raw []byte) uint32 {
	off := uint32(len(b.strings))
	b.strings = append(b.strings, raw...)
	return off
}

// UserString adds s to the #US heap as UTF-16 with the terminal byte and
// returns its offset.
func (b *Builder) UserString(s string) uint32 {
	var payload []byte
	terminal := byte(0)
	for _, u := range utf16.Encode([]rune(s)) {
		payload = le.AppendUint16(payload, u)
		if u >= 0x100 {
			terminal = 1
		}
	}
	payload = append(payload, terminal)
	return b.RawUserString(payload)
}

// RawUserString adds payload with a compressed length prefix to the #US heap.
func (b *Builder) RawUserString(payload []byte) uint32 {
	off := uint32(len(b.userStrings))
	b.userStrings = ecma335.AppendCompressedUint(b.userStrings, uint32(len(payload)))
	b.userStrings = append(b.userStrings, payload...)
	return off
}

// Blob adds data with a compressed length prefix to the #Blob heap and
// returns its offset.
func (b *Builder) Blob(data []byte) uint32 {
	off := uint32(len(b.blobs))
	b.blobs = ecma335.AppendCompressedUint(b.blobs, uint32(len(data)))
	b.blobs = append(b.blobs, data...)
	return off
}

// RawBlob appends raw bytes to the #Blob heap.
func (b *Builder) RawBlob(raw []byte) uint32 {
	off := uint32(len(b.blobs))
	b.blobs = append(b.blobs, raw...)
	return off
}

// GUID adds g to the #GUID heap and returns its 1-based index.
func (b *Builder) GUID(g [16]byte) uint32 {
	b.guids = append(b.guids, g[:]...)
	return uint32(len(b.guids) / 16)
}

// AddRow appends a row to table t and returns its 1-based row number.
func (b *Builder) AddRow(t ecma335.Table, cols ...uint32) uint32 {
	var r ecma335.Row
	copy(r[:], cols)
	b.rows[t] = append(b.rows[t], r)
	return uint32(len(b.rows[t]))
}

// SetColumn overwrites a column of the 1-based row of t.
func (b *Builder) SetColumn(t ecma335.Table, row uint32, col int, v uint32) {
	b.rows[t][row-1][col] = v
}

// Rows returns the number of rows added to t.
func (b *Builder) Rows(t ecma335.Table) uint32 {
	return uint32(len(b.rows[t]))
}

// Code places data in the .text section, 4 byte aligned, and returns its RVA.
func (b *Builder) Code(data []byte) uint32 {
	for len(b.code)%4 != 0 {
		b.code = append(b.code, 0)
	}
	rva := TextRVA + CLIHeaderSize + uint32(len(b.code))
	b.code = append(b.code, data...)
	return rva
}

// StreamInfo locates a metadata stream in the file.
type StreamInfo struct {
	Name   string
	Offset uint32
	Size   uint32
	// Header is the file offset of the stream header.
	Header uint32
}

// Image is a built image plus the file offsets of its structures.
type Image struct {
	Data []byte

	OptionalHeader uint32
	SectionTable   uint32
	CLIHeader      uint32
	MetadataRoot   uint32
	MetadataSize   uint32
	Streams        []StreamInfo
	// Layout has its table bases set to file offsets.
	Layout *ecma335.Layout
}

// Stream returns the first stream named name.
func (img *Image) Stream(name string) StreamInfo {
	for _, s := range img.Streams {
		if s.Name == name {
			return s
		}
	}
	return StreamInfo{}
}

// TablesHeader returns the file offset of the #~ stream header fields.
func (img *Image) TablesHeader() uint32 {
	return img.Stream("#~").Offset
}

// ColumnOffset returns the file offset of a column of the 1-based row of t.
func (img *Image) ColumnOffset(t ecma335.Table, row uint32, col int) uint32 {
	ti := &img.Layout.Tables[t]
	off := ti.Base + (row-1)*ti.RowSize
	for c := 0; c < col; c++ {
		off += uint32(ti.ColumnWidth(c))
	}
	return off
}

// PutColumn overwrites a column of the 1-based row of t in Data.
func (img *Image) PutColumn(t ecma335.Table, row uint32, col int, v uint32) {
	off := img.ColumnOffset(t, row, col)
	switch img.Layout.Tables[t].ColumnWidth(col) {
	case 1:
		img.Data[off] = byte(v)
	case 2:
		le.PutUint16(img.Data[off:], uint16(v))
	default:
		le.PutUint32(img.Data[off:], v)
	}
}

// FileOffset translates an RVA of the .text section.
func (img *Image) FileOffset(rva uint32) uint32 {
	return rva - TextRVA + TextOffset
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func (b *Builder) tablesStream() ([]byte, *ecma335.Layout) {
	var counts [ecma335.TableCount]uint32
	valid := b.ExtraValid
	for t := range b.rows {
		counts[t] = uint32(len(b.rows[t]))
		if counts[t] > 0 {
			valid |= 1 << t
		}
	}
	lay := ecma335.NewLayout(b.HeapSizes, &counts)

	out := make([]byte, 0, 256)
	out = le.AppendUint32(out, 0)
	out = append(out, 2, 0, b.HeapSizes, 1)
	out = le.AppendUint64(out, valid)
	out = le.AppendUint64(out, 0x16003301fa00)
	for mask := valid; mask != 0; mask &= mask - 1 {
		t := bits.TrailingZeros64(mask)
		var n uint32
		if t < ecma335.TableCount {
			n = counts[t]
		}
		out = le.AppendUint32(out, n)
	}
	for t := ecma335.Table(0); t < ecma335.TableCount; t++ {
		ti := &lay.Tables[t]
		for _, r := range b.rows[t] {
			for col := range t.Columns() {
				switch ti.ColumnWidth(col) {
				case 1:
					out = append(out, byte(r[col]))
				case 2:
					out = le.AppendUint16(out, uint16(r[col]))
				default:
					out = le.AppendUint32(out, r[col])
				}
			}
		}
	}
	return pad4(out), lay
}

// Build serializes the image.
func (b *Builder) Build() *Image {
	tables, lay := b.tablesStream()
	streams := []Stream{
		{"#~", tables},
		{"#Strings", pad4(append([]byte(nil), b.strings...))},
		{"#US", pad4(append([]byte(nil), b.userStrings...))},
		{"#Blob", pad4(append([]byte(nil), b.blobs...))},
		{"#GUID", b.guids},
	}
	var kept []Stream
	for _, s := range streams {
		if !b.OmitStreams[s.Name] {
			kept = append(kept, s)
		}
	}
	streams = append(kept, b.ExtraStreams...)

	img := &Image{}

	// Metadata root, relative to its own start.
	version := make([]byte, align(uint32(len(metadataVersion))+1, 4))
	copy(version, metadataVersion)
	root := le.AppendUint32(nil, 0x424a5342)
	root = le.AppendUint16(root, 1)
	root = le.AppendUint16(root, 1)
	root = le.AppendUint32(root, 0)
	root = le.AppendUint32(root, uint32(len(version)))
	root = append(root, version...)
	root = le.AppendUint16(root, 0)
	root = le.AppendUint16(root, uint16(len(streams)))

	headersSize := uint32(len(root))
	for _, s := range streams {
		headersSize += 8 + align(uint32(len(s.Name))+1, 4)
	}
	codeSize := align(uint32(len(b.code)), 4)
	rootRVA := TextRVA + CLIHeaderSize + codeSize
	rootOffset := TextOffset + CLIHeaderSize + codeSize

	dataOff := headersSize
	var body []byte
	for _, s := range streams {
		hdr := uint32(len(root))
		root = le.AppendUint32(root, dataOff)
		root = le.AppendUint32(root, uint32(len(s.Data)))
		name := make([]byte, align(uint32(len(s.Name))+1, 4))
		copy(name, s.Name)
		root = append(root, name...)
		img.Streams = append(img.Streams, StreamInfo{
			Name:   s.Name,
			Offset: rootOffset + dataOff,
			Size:   uint32(len(s.Data)),
			Header: rootOffset + hdr,
		})
		body = append(body, s.Data...)
		dataOff += uint32(len(s.Data))
	}
	root = append(root, body...)

	// .text: CLI header, code, metadata root.
	text := make([]byte, CLIHeaderSize, CLIHeaderSize+int(codeSize)+len(root))
	le.PutUint32(text[0:], CLIHeaderSize)
	le.PutUint16(text[4:], 2)
	le.PutUint16(text[6:], 5)
	le.PutUint32(text[8:], rootRVA)
	le.PutUint32(text[12:], uint32(len(root)))
	le.PutUint32(text[16:], b.CLIFlags)
	text = append(text, b.code...)
	text = pad4(text)
	text = append(text, root...)
	virtualSize := uint32(len(text))
	rawSize := align(virtualSize, FileAlignment)

	data := make([]byte, TextOffset+rawSize)
	copy(data[TextOffset:], text)

	// MS-DOS header.
	data[0], data[1] = 'M', 'Z'
	le.PutUint32(data[0x3c:], LFANew)

	// PE signature and COFF header.
	copy(data[LFANew:], "PE\x00\x00")
	coff := uint32(LFANew + 4)
	le.PutUint16(data[coff:], b.Machine)
	le.PutUint16(data[coff+2:], 1)
	le.PutUint16(data[coff+16:], optionalHeader32Size)
	le.PutUint16(data[coff+18:], pe.IMAGE_FILE_EXECUTABLE_IMAGE|pe.IMAGE_FILE_32BIT_MACHINE|
		pe.IMAGE_FILE_DLL)

	// Optional header.
	opt := coff + coffHeaderSize
	if b.PE32Plus {
		le.PutUint16(data[opt:], 0x20b)
	} else {
		le.PutUint16(data[opt:], 0x10b)
	}
	le.PutUint32(data[opt+4:], rawSize)
	le.PutUint32(data[opt+20:], TextRVA)
	le.PutUint32(data[opt+28:], 0x10000000)
	le.PutUint32(data[opt+32:], SectionAlignment)
	le.PutUint32(data[opt+36:], FileAlignment)
	le.PutUint16(data[opt+40:], 4)
	le.PutUint32(data[opt+56:], TextRVA+align(virtualSize, SectionAlignment))
	le.PutUint32(data[opt+60:], TextOffset)
	le.PutUint16(data[opt+68:], pe.IMAGE_SUBSYSTEM_WINDOWS_CUI)
	le.PutUint32(data[opt+92:], 16)
	dirs := opt + 96
	le.PutUint32(data[dirs+pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR*8:], TextRVA)
	le.PutUint32(data[dirs+pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR*8+4:], CLIHeaderSize)

	// Section table.
	sec := opt + optionalHeader32Size
	copy(data[sec:], ".text")
	le.PutUint32(data[sec+8:], virtualSize)
	le.PutUint32(data[sec+12:], TextRVA)
	le.PutUint32(data[sec+16:], rawSize)
	le.PutUint32(data[sec+20:], TextOffset)
	le.PutUint32(data[sec+36:], textFlags)

	img.Data = data
	img.OptionalHeader = opt
	img.SectionTable = sec
	img.CLIHeader = TextOffset
	img.MetadataRoot = rootOffset
	img.MetadataSize = uint32(len(root))

	// Table bases as file offsets.
	start := img.Stream("#~").Offset + 24 + uint32(bits.OnesCount64(le.Uint64(tables[8:])))*4
	lay.AssignBases(start)
	img.Layout = lay
	return img
}
