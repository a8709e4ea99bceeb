// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"fmt"

	"go.opentelemetry.io/clrverify/bounds"
	"go.opentelemetry.io/clrverify/ecma335"
)

type stage uint8

const (
	stagePE stage = iota
	stageCLI
	stageTables
)

var stageNames = [...]string{"pe", "cli", "tables"}

func (s stage) String() string {
	return stageNames[s]
}

// Indices into imageLayout.streams.
const (
	streamTables = iota
	streamStrings
	streamUserStrings
	streamBlob
	streamGUID

	streamCount
)

var streamNames = [streamCount]string{"#~", "#Strings", "#US", "#Blob", "#GUID"}

type stream struct {
	bounds.Range
	present bool
}

// imageLayout is everything the header stages derive from the buffer.
type imageLayout struct {
	sections []section
	dirs     [numDataDirectories]dataDirectory
	pe       *PEInfo

	cli cliHeader

	metadata bounds.Range
	streams  [streamCount]stream

	tables *ecma335.Layout
}

// verifyContext is the per call state of a verification. It is never shared.
type verifyContext struct {
	cfg   *Config
	img   *Image
	data  []byte
	stage stage

	valid bool
	// aborted is set when the current stage cannot continue.
	aborted bool
	diags   []Diagnostic

	lay imageLayout

	// token is the TypeSpec or TypeDef a signature is being parsed for.
	// Zero when there is none.
	token ecma335.Token
	depth int
	// where prefixes parser diagnostics with the row being decoded.
	where string
}

func newContext(img *Image, cfg *Config) *verifyContext {
	return &verifyContext{
		cfg:   cfg,
		img:   img,
		data:  img.data,
		valid: true,
	}
}

func (ctx *verifyContext) size() uint32 {
	return uint32(len(ctx.data))
}

func (ctx *verifyContext) add(sev Severity, kind Kind, format string, args []any) {
	if sev == SeverityError {
		ctx.valid = false
	}
	if !ctx.cfg.ReportDiagnostics {
		return
	}
	ctx.diags = append(ctx.diags, Diagnostic{
		Severity: sev,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
	})
}

// errorf records a row level error. Scanning continues.
func (ctx *verifyContext) errorf(format string, args ...any) {
	ctx.add(SeverityError, KindRow, format, args)
}

// fatalf records a structural error and aborts the current stage.
func (ctx *verifyContext) fatalf(format string, args ...any) {
	ctx.add(SeverityError, KindFatal, format, args)
	ctx.aborted = true
}

func (ctx *verifyContext) unsupportedf(format string, args ...any) {
	ctx.add(SeverityError, KindUnsupported, format, args)
}

func (ctx *verifyContext) warnf(format string, args ...any) {
	ctx.add(SeverityWarning, KindWarning, format, args)
}

// fail records a row level error and returns false, for use by parsers that
// short-circuit on the first problem.
func (ctx *verifyContext) fail(format string, args ...any) bool {
	if ctx.where != "" {
		format = ctx.where + ": " + format
	}
	ctx.add(SeverityError, KindRow, format, args)
	return false
}

// at directs parser diagnostics to the zero based row of t.
func (ctx *verifyContext) at(t ecma335.Table, row uint32) {
	if ctx.cfg.ReportDiagnostics {
		ctx.where = fmt.Sprintf("%s row %d", t, row+1)
	}
}

// rowErrorf records an error for the zero based row of t.
func (ctx *verifyContext) rowErrorf(t ecma335.Table, row uint32, format string, args ...any) {
	if !ctx.cfg.ReportDiagnostics {
		ctx.valid = false
		return
	}
	ctx.errorf("%s row %d: %s", t, row+1, fmt.Sprintf(format, args...))
}

// enter increases the signature nesting depth.
func (ctx *verifyContext) enter() bool {
	if ctx.depth >= ctx.cfg.MaxSignatureDepth {
		return ctx.fail("Signature nesting exceeds %d levels", ctx.cfg.MaxSignatureDepth)
	}
	ctx.depth++
	return true
}

func (ctx *verifyContext) leave() {
	ctx.depth--
}

func (ctx *verifyContext) result(pass string) *Result {
	return &Result{
		Pass:        pass,
		Valid:       ctx.valid,
		Diagnostics: ctx.diags,
		PE:          ctx.lay.pe,
	}
}
