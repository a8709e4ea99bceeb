// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/clrverify/ecma335"
	"go.opentelemetry.io/clrverify/internal/testimage"
)

func fatHeader(flags uint16, locals uint32, code []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, flags)
	b = binary.LittleEndian.AppendUint16(b, 8)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(code)))
	b = binary.LittleEndian.AppendUint32(b, locals)
	return append(b, code...)
}

func smallClause(flags uint16, try, tryLen, handler, handlerLen uint16, class uint32) []byte {
	b := binary.LittleEndian.AppendUint16(nil, flags)
	b = binary.LittleEndian.AppendUint16(b, try)
	b = append(b, byte(tryLen))
	b = binary.LittleEndian.AppendUint16(b, handler)
	b = append(b, byte(handlerLen))
	return binary.LittleEndian.AppendUint32(b, class)
}

// withEHSection appends a small EH section after a fat body whose code is
// 4 bytes long.
func withEHSection(clauses ...[]byte) []byte {
	body := fatHeader(0x301b, 0, []byte{0x00, 0x00, 0x00, 0x2a})
	size := 4 + 12*len(clauses)
	body = append(body, 0x01, byte(size), 0, 0)
	for _, c := range clauses {
		body = append(body, c...)
	}
	return body
}

func TestMethodHeader(t *testing.T) {
	localsToken := uint32(ecma335.MakeToken(ecma335.TableStandAloneSig, 1))

	tests := map[string]struct {
		body    []byte
		rva     uint32
		locals  uint32
		message string
	}{
		"tiny": {
			body: []byte{0x02<<2 | 0x2, 0x00, 0x2a},
		},
		"fat": {
			body: fatHeader(0x3013, 0, []byte{0x2a}),
		},
		"fat with locals": {
			body:   fatHeader(0x3013, localsToken, []byte{0x2a}),
			locals: localsToken,
		},
		"finally clause": {
			body: withEHSection(smallClause(0x2, 0, 1, 1, 2, 0)),
		},
		"catch clause": {
			body: withEHSection(smallClause(0x0, 0, 1, 1, 2,
				uint32(ecma335.MakeToken(ecma335.TableTypeDef, 1)))),
		},
		"invalid format": {
			body:    []byte{0x00},
			message: "MethodHeader: Invalid header format 0x0",
		},
		"invalid rva": {
			rva:     0x100000,
			message: "MethodHeader: Invalid RVA 0x100000",
		},
		"fat header size": {
			body:    fatHeader(0x2003, 0, []byte{0x2a}),
			message: "MethodHeader: Invalid header size 2 dwords",
		},
		"fat flags": {
			body:    fatHeader(0x3007, 0, []byte{0x2a}),
			message: "MethodHeader: Invalid flags 0x3007",
		},
		"locals token table": {
			body: fatHeader(0x3013, uint32(ecma335.MakeToken(ecma335.TableTypeDef, 1)),
				[]byte{0x2a}),
			message: "MethodHeader: Invalid local vars signature token 0x2000001",
		},
		"locals token range": {
			body: fatHeader(0x3013, uint32(ecma335.MakeToken(ecma335.TableStandAloneSig, 2)),
				[]byte{0x2a}),
			message: "MethodHeader: Local vars signature token 0x11000002 out of range",
		},
		"code size": {
			body: func() []byte {
				b := fatHeader(0x3003, 0, []byte{0x2a})
				binary.LittleEndian.PutUint32(b[4:], 0x100000)
				return b
			}(),
			message: "MethodHeader: Not enough room for 1048576 bytes of code",
		},
		"section size": {
			body: func() []byte {
				b := fatHeader(0x300b, 0, []byte{0x00, 0x00, 0x00, 0x2a})
				return append(b, 0x01, 0x00, 0x00, 0x00)
			}(),
			message: "MethodHeader: Data section size 0 is smaller than 4",
		},
		"clause class token table": {
			body: withEHSection(smallClause(0x0, 0, 1, 1, 2,
				uint32(ecma335.MakeToken(ecma335.TableMethodDef, 1)))),
			message: "EH clause 0 has invalid class token 0x6000001",
		},
		"clause class token range": {
			body: withEHSection(smallClause(0x0, 0, 1, 1, 2,
				uint32(ecma335.MakeToken(ecma335.TableTypeRef, 5)))),
			message: "EH clause 0 class token 0x1000005 out of range",
		},
		"clause flags": {
			body:    withEHSection(smallClause(0x3, 0, 1, 1, 2, 0)),
			message: "EH clause 0 has invalid flags 0x3",
		},
		"clause try block": {
			body:    withEHSection(smallClause(0x2, 0, 10, 1, 2, 0)),
			message: "EH clause 0 try block beyond code",
		},
		"clause filter": {
			body:    withEHSection(smallClause(0x1, 0, 1, 1, 2, 8)),
			message: "EH clause 0 filter offset 0x8 beyond code",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := testimage.NewAssembly()
			b.AddRow(ecma335.TableStandAloneSig, b.Blob([]byte{0x07, 0x01, 0x08}))
			rva := tc.rva
			if tc.body != nil {
				rva = b.Code(tc.body)
			}
			res := VerifyMethodHeader(build(b), rva)
			if tc.message == "" {
				assert.True(t, res.Valid, "%q", messages(res))
				assert.Equal(t, tc.locals, res.LocalsToken)
				return
			}
			assert.False(t, res.Valid)
			assert.Zero(t, res.LocalsToken)
			requireMessage(t, res, tc.message)
		})
	}
}
