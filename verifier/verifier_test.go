// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/clrverify/ecma335"
	"go.opentelemetry.io/clrverify/internal/testimage"
)

func messages(res *Result) []string {
	msgs := make([]string, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		msgs = append(msgs, d.Message)
	}
	return msgs
}

// requireMessage asserts that one diagnostic message contains substr.
func requireMessage(t *testing.T, res *Result, substr string) Diagnostic {
	t.Helper()
	for _, d := range res.Diagnostics {
		if strings.Contains(d.Message, substr) {
			return d
		}
	}
	require.Failf(t, "diagnostic not found", "no message contains %q in %q",
		substr, messages(res))
	return Diagnostic{}
}

func build(b *testimage.Builder) *Image {
	return NewImage(b.Build().Data)
}

type passFunc func(*Image) *Result

var allPasses = map[string]passFunc{
	PassPEStructure:   VerifyPEStructure,
	PassCLIStructure:  VerifyCLIStructure,
	PassTableRows:     VerifyTableRows,
	PassFullTableRows: VerifyFullTableRows,
}

func TestMinimalAssembly(t *testing.T) {
	tests := map[string]func(b *testimage.Builder){
		"narrow heaps": func(*testimage.Builder) {},
		"wide heaps":   func(b *testimage.Builder) { b.HeapSizes = 0x07 },
		"arm64":        func(b *testimage.Builder) { b.Machine = 0xaa64 },
	}
	for name, tweak := range tests {
		t.Run(name, func(t *testing.T) {
			b := testimage.NewAssembly()
			tweak(b)
			img := build(b)
			for pass, verify := range allPasses {
				res := verify(img)
				assert.Equal(t, pass, res.Pass)
				assert.True(t, res.Valid, "%s: %q", pass, messages(res))
				assert.Empty(t, res.Diagnostics, pass)
				require.NoError(t, res.Err(), pass)
				require.NotNil(t, res.PE, pass)
				assert.Len(t, res.PE.Sections, 1)
			}
			require.NoError(t, CheckPEStructure(img))
			require.NoError(t, CheckCLIStructure(img))
			require.NoError(t, CheckTableRows(img))
			require.NoError(t, CheckFullTableRows(img))
		})
	}
}

func TestPEStructure(t *testing.T) {
	tests := map[string]struct {
		data    func() []byte
		message string
		kind    Kind
	}{
		"empty": {
			data:    func() []byte { return nil },
			message: "Not enough space for the MS-DOS header",
			kind:    KindFatal,
		},
		"short buffer": {
			data:    func() []byte { return make([]byte, 64) },
			message: "Not enough space for the MS-DOS header",
			kind:    KindFatal,
		},
		"bad watermark": {
			data: func() []byte {
				data := testimage.NewAssembly().Build().Data
				data[0] = 'X'
				return data
			},
			message: "Invalid MS-DOS watermark",
			kind:    KindRow,
		},
		"lfanew outside": {
			data: func() []byte {
				data := testimage.NewAssembly().Build().Data
				data[0x3c], data[0x3d] = 0xff, 0xff
				return data
			},
			message: "points outside of the file",
			kind:    KindFatal,
		},
		"pe32+": {
			data: func() []byte {
				b := testimage.NewAssembly()
				b.PE32Plus = true
				return b.Build().Data
			},
			message: "Metadata verifier doesn't handle PE32+ images",
			kind:    KindUnsupported,
		},
		"bad machine": {
			data: func() []byte {
				b := testimage.NewAssembly()
				b.Machine = 0x1234
				return b.Build().Data
			},
			message: "Invalid PE header Machine value 0x1234",
			kind:    KindRow,
		},
		"section beyond eof": {
			data: func() []byte {
				img := testimage.NewAssembly().Build()
				return img.Data[:len(img.Data)-testimage.FileAlignment/2]
			},
			message: "points beyond EOF",
			kind:    KindRow,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			res := VerifyPEStructure(NewImage(tc.data()))
			assert.False(t, res.Valid)
			d := requireMessage(t, res, tc.message)
			assert.Equal(t, tc.kind, d.Kind)

			err := res.Err()
			require.Error(t, err)
			var verr *Error
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, PassPEStructure, verr.Pass)
		})
	}
}

func TestLaterPassesRequireEarlierStages(t *testing.T) {
	res := VerifyTableRows(NewImage(make([]byte, 16)))
	assert.False(t, res.Valid)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, KindFatal, res.Diagnostics[0].Kind)
	assert.Equal(t, "Cannot run VerifyTableRows: the image failed VerifyPEStructure",
		res.Diagnostics[0].Message)

	b := testimage.NewAssembly()
	b.OmitStreams = map[string]bool{"#~": true}
	res = VerifyFullTableRows(build(b))
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		"Cannot run VerifyFullTableRows: the image failed VerifyCLIStructure",
	}, messages(res))
}

func TestRowErrorsDoNotBlockLaterPasses(t *testing.T) {
	tests := map[string]struct {
		patch   func(img *testimage.Image)
		message string
	}{
		"file alignment": {
			patch: func(img *testimage.Image) {
				binary.LittleEndian.PutUint32(img.Data[img.OptionalHeader+36:], 0x400)
			},
			message: "Invalid file alignment 0x400",
		},
		"section flags": {
			patch: func(img *testimage.Image) {
				binary.LittleEndian.PutUint32(img.Data[img.SectionTable+36:], 0xffffffff)
			},
			message: "Invalid section 0 flags 0xffffffff",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			img := testimage.NewAssembly().Build()
			tc.patch(img)
			image := NewImage(img.Data)

			res := VerifyPEStructure(image)
			assert.False(t, res.Valid)
			d := requireMessage(t, res, tc.message)
			assert.Equal(t, KindRow, d.Kind)

			for _, verify := range []passFunc{
				VerifyCLIStructure, VerifyTableRows, VerifyFullTableRows,
			} {
				res := verify(image)
				assert.True(t, res.Valid, "%s: %q", res.Pass, messages(res))
				assert.Empty(t, res.Diagnostics, res.Pass)
			}
		})
	}
}

func TestCLIStructure(t *testing.T) {
	tests := map[string]struct {
		tweak   func(b *testimage.Builder)
		patch   func(img *testimage.Image)
		valid   bool
		message string
		kind    Kind
	}{
		"unknown stream": {
			tweak: func(b *testimage.Builder) {
				b.ExtraStreams = []testimage.Stream{{Name: "#Pdb", Data: []byte{0, 0, 0, 0}}}
			},
			valid:   true,
			message: `Metadata stream header 5 invalid name "#Pdb"`,
			kind:    KindWarning,
		},
		"duplicate strings": {
			tweak: func(b *testimage.Builder) {
				b.ExtraStreams = []testimage.Stream{{Name: "#Strings", Data: []byte{0, 0, 0, 0}}}
			},
			message: "Duplicated metadata stream header #Strings",
			kind:    KindRow,
		},
		"uncompressed tables": {
			tweak: func(b *testimage.Builder) {
				b.ExtraStreams = []testimage.Stream{{Name: "#-", Data: []byte{0, 0, 0, 0}}}
			},
			message: "uncompressed table stream",
			kind:    KindUnsupported,
		},
		"missing tables": {
			tweak:   func(b *testimage.Builder) { b.OmitStreams = map[string]bool{"#~": true} },
			message: "Metadata #~ stream missing",
			kind:    KindFatal,
		},
		"missing guid": {
			tweak:   func(b *testimage.Builder) { b.OmitStreams = map[string]bool{"#GUID": true} },
			message: "Metadata #GUID stream missing",
			kind:    KindRow,
		},
		"enc map": {
			tweak:   func(b *testimage.Builder) { b.ExtraValid = 1 << 0x1f },
			message: "Invalid table 0x1f set",
			kind:    KindRow,
		},
		"undefined table": {
			tweak:   func(b *testimage.Builder) { b.ExtraValid = 1 << 0x3f },
			message: "Invalid table 0x3f set",
			kind:    KindRow,
		},
		"field ptr": {
			tweak:   func(b *testimage.Builder) { b.ExtraValid = 1 << ecma335.TableFieldPtr },
			message: "MS specific table 0x03",
			kind:    KindUnsupported,
		},
		"heap sizes": {
			tweak:   func(b *testimage.Builder) { b.HeapSizes = 0x08 },
			message: "Invalid table schemata heap sizes 0x08",
			kind:    KindRow,
		},
		"cli flags": {
			tweak:   func(b *testimage.Builder) { b.CLIFlags = 0x100 },
			message: "Invalid CLI header flags 0x100",
			kind:    KindRow,
		},
		"metadata signature": {
			patch: func(img *testimage.Image) {
				img.Data[img.MetadataRoot] = 0
			},
			message: "Invalid metadata signature",
			kind:    KindRow,
		},
		"schema major version": {
			patch: func(img *testimage.Image) {
				img.Data[img.TablesHeader()+4] = 3
			},
			message: "Invalid table schemata major version 3, expected 2",
			kind:    KindRow,
		},
		"truncated tables": {
			patch: func(img *testimage.Image) {
				s := img.Stream("#~")
				// Row count of the Module table.
				img.Data[s.Offset+24] = 0xff
			},
			message: "Tables data require",
			kind:    KindFatal,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := testimage.NewAssembly()
			if tc.tweak != nil {
				tc.tweak(b)
			}
			img := b.Build()
			if tc.patch != nil {
				tc.patch(img)
			}
			res := VerifyCLIStructure(NewImage(img.Data))
			assert.Equal(t, tc.valid, res.Valid, "%q", messages(res))
			d := requireMessage(t, res, tc.message)
			assert.Equal(t, tc.kind, d.Kind)
			if tc.valid {
				assert.NoError(t, res.Err())
			}
		})
	}
}

func TestPassesAreIdempotent(t *testing.T) {
	b := testimage.NewAssembly()
	b.AddRow(ecma335.TableTypeDef, 0x1, b.String("Broken"), 0, 1, 1, 1)
	img := build(b)
	for pass, verify := range allPasses {
		first := verify(img)
		second := verify(img)
		assert.Equal(t, first, second, pass)
	}
	assert.False(t, VerifyTableRows(img).Valid)
}

func TestReportDiagnosticsDisabled(t *testing.T) {
	v, err := New(Config{MaxSignatureDepth: DefaultMaxSignatureDepth})
	require.NoError(t, err)

	b := testimage.NewAssembly()
	b.ExtraValid = 1 << 0x1f
	img := build(b)

	res := v.VerifyCLIStructure(img)
	assert.False(t, res.Valid)
	assert.Empty(t, res.Diagnostics)

	err = res.Err()
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "verification failed", verr.Message)
	assert.Equal(t, ExceptionBadImageFormat, verr.Exception())

	assert.True(t, v.VerifyPEStructure(img).Valid)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	for _, depth := range []int{0, -1, 10001} {
		_, err := New(Config{ReportDiagnostics: true, MaxSignatureDepth: depth})
		assert.Error(t, err, "depth %d", depth)
	}
}

func TestErrPrefersFatal(t *testing.T) {
	res := &Result{
		Pass: PassCLIStructure,
		Diagnostics: []Diagnostic{
			{Severity: SeverityWarning, Kind: KindWarning, Message: "w"},
			{Severity: SeverityError, Kind: KindRow, Message: "row"},
			{Severity: SeverityError, Kind: KindFatal, Message: "fatal"},
		},
	}
	err := res.Err()
	require.Error(t, err)
	assert.Equal(t, "VerifyCLIStructure: fatal: fatal", err.Error())
	assert.Len(t, res.Errors(), 2)

	res.Diagnostics = res.Diagnostics[:2]
	assert.Equal(t, "VerifyCLIStructure: invalid: row", res.Err().Error())

	res.Valid = true
	assert.NoError(t, res.Err())
}

func TestExceptionMapping(t *testing.T) {
	tests := map[Kind]ExceptionKind{
		KindFatal:       ExceptionBadImageFormat,
		KindRow:         ExceptionBadImageFormat,
		KindUnsupported: ExceptionNotSupported,
		KindWarning:     ExceptionNone,
	}
	for kind, want := range tests {
		t.Run(kind.String(), func(t *testing.T) {
			assert.Equal(t, want, Diagnostic{Kind: kind}.Exception())
		})
	}
	assert.Equal(t, "Kind(9)", Kind(9).String())
	assert.Equal(t, "NotSupportedException", ExceptionNotSupported.String())
}

func TestReadModuleIdentity(t *testing.T) {
	id, ok := ReadModuleIdentity(build(testimage.NewAssembly()))
	require.True(t, ok)
	assert.Equal(t, "test.dll", id.Name)
	assert.Equal(t, [16]byte{0x6d, 0x76, 0x69, 0x64, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		id.MVID)

	b := testimage.NewAssembly()
	b.SetColumn(ecma335.TableModule, 1, ecma335.ModuleMvid, 0)
	_, ok = ReadModuleIdentity(build(b))
	assert.False(t, ok)

	_, ok = ReadModuleIdentity(NewImage(nil))
	assert.False(t, ok)
}
