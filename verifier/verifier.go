// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package verifier checks the structure of ECMA-335 CLI metadata embedded in
// PE32 images. It never executes or resolves anything: it proves that every
// header, stream, table row and blob the loader would touch is in bounds and
// well formed.
//
// The verification is split in passes. Each pass is independent and derives
// the layout produced by the earlier passes itself, so callers may run only
// the passes they need.
package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"golang.org/x/crypto/cryptobyte"

	"go.opentelemetry.io/clrverify/ecma335"
	"go.opentelemetry.io/clrverify/internal/log"
)

// Pass names as reported in Result.Pass.
const (
	PassPEStructure   = "VerifyPEStructure"
	PassCLIStructure  = "VerifyCLIStructure"
	PassTableRows     = "VerifyTableRows"
	PassFullTableRows = "VerifyFullTableRows"
	PassOnDemand      = "OnDemand"
)

var stagePasses = [...]string{
	stagePE:  PassPEStructure,
	stageCLI: PassCLIStructure,
}

// Verifier runs verification passes with a fixed configuration. It holds no
// per image state and is safe for concurrent use.
type Verifier struct {
	cfg Config
}

// New returns a Verifier for cfg.
func New(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{cfg: cfg}, nil
}

var defaultVerifier = &Verifier{cfg: DefaultConfig()}

// derive decodes the layout of every stage before the given one without
// recording diagnostics. Only a stage that aborts, or leaves no usable layout,
// blocks the later ones; row errors of an earlier stage do not. On failure it
// returns the stage that failed.
func (v *Verifier) derive(img *Image, before stage) (imageLayout, stage, bool) {
	quiet := Config{MaxSignatureDepth: v.cfg.MaxSignatureDepth}
	ctx := newContext(img, &quiet)
	if before > stagePE {
		ctx.stage = stagePE
		ctx.verifyPEHeaders()
		if ctx.aborted || ctx.lay.pe == nil {
			return ctx.lay, stagePE, false
		}
	}
	if before > stageCLI {
		ctx.stage = stageCLI
		ctx.verifyCLIStructure()
		if ctx.aborted || ctx.lay.tables == nil {
			return ctx.lay, stageCLI, false
		}
	}
	return ctx.lay, before, true
}

// run executes check at stage s on a fresh context.
func (v *Verifier) run(img *Image, pass string, s stage,
	check func(ctx *verifyContext)) *Result {
	ctx := newContext(img, &v.cfg)
	lay, failed, ok := v.derive(img, s)
	ctx.lay = lay
	ctx.stage = s
	if ok {
		check(ctx)
	} else {
		ctx.fatalf("Cannot run %s: the image failed %s", pass, stagePasses[failed])
	}
	res := ctx.result(pass)
	log.Debugf("%s: stage %s valid=%t diagnostics=%d",
		pass, s, res.Valid, len(res.Diagnostics))
	return res
}

// verifyCLIStructure checks the CLI header, the metadata root and the table
// schema, stopping at the first structural failure.
func (ctx *verifyContext) verifyCLIStructure() {
	for _, step := range []func(){
		ctx.verifyCLIHeader,
		ctx.verifyMetadataRoot,
		ctx.verifyTableSchema,
	} {
		step()
		if ctx.aborted {
			return
		}
	}
}

// VerifyPEStructure checks the DOS, COFF and optional headers, the section
// table and the data directories.
func (v *Verifier) VerifyPEStructure(img *Image) *Result {
	return v.run(img, PassPEStructure, stagePE, (*verifyContext).verifyPEHeaders)
}

// VerifyCLIStructure checks the CLI header, the metadata root, the stream
// headers and the table schema.
func (v *Verifier) VerifyCLIStructure(img *Image) *Result {
	return v.run(img, PassCLIStructure, stageCLI, (*verifyContext).verifyCLIStructure)
}

// VerifyTableRows checks every row of every table and the uniqueness
// constraints between rows.
func (v *Verifier) VerifyTableRows(img *Image) *Result {
	return v.run(img, PassTableRows, stageTables, func(ctx *verifyContext) {
		ctx.verifyTablesData()
		ctx.verifyGlobalConstraints()
	})
}

// VerifyFullTableRows additionally decodes the signatures, custom attribute
// values, marshal descriptors, permission sets and method bodies referenced
// by the tables.
func (v *Verifier) VerifyFullTableRows(img *Image) *Result {
	return v.run(img, PassFullTableRows, stageTables, func(ctx *verifyContext) {
		ctx.verifyFullTablesData()
		ctx.verifyGlobalConstraints()
	})
}

func (v *Verifier) onDemand(img *Image, check func(ctx *verifyContext)) *Result {
	return v.run(img, PassOnDemand, stageTables, check)
}

// VerifyFieldSignature checks the FieldSig blob at offset.
func (v *Verifier) VerifyFieldSignature(img *Image, offset uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyBlob(offset, "FieldSig", ctx.parseFieldSignature)
	})
}

// VerifyMethodSignature checks the MethodDefSig blob at offset.
func (v *Verifier) VerifyMethodSignature(img *Image, offset uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyBlob(offset, "MethodSig", func(s *cryptobyte.String) bool {
			return ctx.parseMethodSignature(s, false, false)
		})
	})
}

// VerifyStandaloneSignature checks the StandAloneSig blob at offset. It may
// describe locals or a call site.
func (v *Verifier) VerifyStandaloneSignature(img *Image, offset uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyBlob(offset, "StandAloneSig", ctx.parseStandaloneSignature)
	})
}

// VerifyTypeSpecSignature checks the TypeSpec blob at offset. A non-zero
// token names the TypeSpec being decoded, which may not refer to itself.
func (v *Verifier) VerifyTypeSpecSignature(img *Image, offset uint32,
	token ecma335.Token) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.token = token
		ctx.verifyBlob(offset, "TypeSpec", ctx.parseTypeSpec)
	})
}

// VerifyMethodSpecSignature checks the MethodSpec instantiation blob at offset.
func (v *Verifier) VerifyMethodSpecSignature(img *Image, offset uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyBlob(offset, "MethodSpec", ctx.parseMethodSpec)
	})
}

// VerifyMethodHeader checks the IL method header and its extra sections at
// rva. Result.LocalsToken holds the local variable signature token.
func (v *Verifier) VerifyMethodHeader(img *Image, rva uint32) *Result {
	var locals uint32
	res := v.onDemand(img, func(ctx *verifyContext) {
		locals, _ = ctx.verifyMethodHeader(rva)
	})
	if res.Valid {
		res.LocalsToken = locals
	}
	return res
}

// VerifyCustomAttributeBlob checks the custom attribute value blob at offset
// for its prolog and size.
func (v *Verifier) VerifyCustomAttributeBlob(img *Image, offset uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyCustomAttributeBlob(offset)
	})
}

// VerifyCustomAttributeContent decodes blob against the constructor
// signature ctorSig.
func (v *Verifier) VerifyCustomAttributeContent(img *Image, ctorSig, blob []byte) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyCustomAttributeContent(ctorSig, blob)
	})
}

// VerifyUserString checks the #US heap entry at offset.
func (v *Verifier) VerifyUserString(img *Image, offset uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		ctx.verifyUserString(offset)
	})
}

// VerifyTypeRefRow checks the 1-based TypeRef row, including the checks that
// need other tables.
func (v *Verifier) VerifyTypeRefRow(img *Image, row uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		if row == 0 || row > ctx.rows(ecma335.TableTypeRef) {
			ctx.errorf("TypeRef row %d out of range", row)
			return
		}
		ctx.verifyTypeRefRow(row - 1)
	})
}

// VerifyMethodImplRow checks the 1-based MethodImpl row, including that the
// body belongs to the class and both methods are virtual instance methods.
func (v *Verifier) VerifyMethodImplRow(img *Image, row uint32) *Result {
	return v.onDemand(img, func(ctx *verifyContext) {
		if row == 0 || row > ctx.rows(ecma335.TableMethodImpl) {
			ctx.errorf("MethodImpl row %d out of range", row)
			return
		}
		ctx.verifyMethodImplRow(row-1, true)
	})
}

// VerifyPEStructure runs Verifier.VerifyPEStructure with the default
// configuration.
func VerifyPEStructure(img *Image) *Result {
	return defaultVerifier.VerifyPEStructure(img)
}

// VerifyCLIStructure runs Verifier.VerifyCLIStructure with the default
// configuration.
func VerifyCLIStructure(img *Image) *Result {
	return defaultVerifier.VerifyCLIStructure(img)
}

// VerifyTableRows runs Verifier.VerifyTableRows with the default
// configuration.
func VerifyTableRows(img *Image) *Result {
	return defaultVerifier.VerifyTableRows(img)
}

// VerifyFullTableRows runs Verifier.VerifyFullTableRows with the default
// configuration.
func VerifyFullTableRows(img *Image) *Result {
	return defaultVerifier.VerifyFullTableRows(img)
}

// VerifyFieldSignature runs Verifier.VerifyFieldSignature with the default
// configuration.
func VerifyFieldSignature(img *Image, offset uint32) *Result {
	return defaultVerifier.VerifyFieldSignature(img, offset)
}

// VerifyMethodSignature runs Verifier.VerifyMethodSignature with the default
// configuration.
func VerifyMethodSignature(img *Image, offset uint32) *Result {
	return defaultVerifier.VerifyMethodSignature(img, offset)
}

// VerifyStandaloneSignature runs Verifier.VerifyStandaloneSignature with the default
// configuration.
func VerifyStandaloneSignature(img *Image, offset uint32) *Result {
	return defaultVerifier.VerifyStandaloneSignature(img, offset)
}

// VerifyTypeSpecSignature runs Verifier.VerifyTypeSpecSignature with the default
// configuration.
func VerifyTypeSpecSignature(img *Image, offset uint32, token ecma335.Token) *Result {
	return defaultVerifier.VerifyTypeSpecSignature(img, offset, token)
}

// VerifyMethodSpecSignature runs Verifier.VerifyMethodSpecSignature with the default
// configuration.
func VerifyMethodSpecSignature(img *Image, offset uint32) *Result {
	return defaultVerifier.VerifyMethodSpecSignature(img, offset)
}

// VerifyMethodHeader runs Verifier.VerifyMethodHeader with the default
// configuration.
func VerifyMethodHeader(img *Image, rva uint32) *Result {
	return defaultVerifier.VerifyMethodHeader(img, rva)
}

// VerifyCustomAttributeBlob runs Verifier.VerifyCustomAttributeBlob with the default
// configuration.
func VerifyCustomAttributeBlob(img *Image, offset uint32) *Result {
	return defaultVerifier.VerifyCustomAttributeBlob(img, offset)
}

// VerifyCustomAttributeContent runs Verifier.VerifyCustomAttributeContent with the default
// configuration.
func VerifyCustomAttributeContent(img *Image, ctorSig, blob []byte) *Result {
	return defaultVerifier.VerifyCustomAttributeContent(img, ctorSig, blob)
}

// VerifyUserString runs Verifier.VerifyUserString with the default
// configuration.
func VerifyUserString(img *Image, offset uint32) *Result {
	return defaultVerifier.VerifyUserString(img, offset)
}

// VerifyTypeRefRow runs Verifier.VerifyTypeRefRow with the default
// configuration.
func VerifyTypeRefRow(img *Image, row uint32) *Result {
	return defaultVerifier.VerifyTypeRefRow(img, row)
}

// VerifyMethodImplRow runs Verifier.VerifyMethodImplRow with the default
// configuration.
func VerifyMethodImplRow(img *Image, row uint32) *Result {
	return defaultVerifier.VerifyMethodImplRow(img, row)
}

// CheckPEStructure returns nil or the *Error of VerifyPEStructure.
func CheckPEStructure(img *Image) error {
	return VerifyPEStructure(img).Err()
}

// CheckCLIStructure returns nil or the *Error of VerifyCLIStructure.
func CheckCLIStructure(img *Image) error {
	return VerifyCLIStructure(img).Err()
}

// CheckTableRows returns nil or the *Error of VerifyTableRows.
func CheckTableRows(img *Image) error {
	return VerifyTableRows(img).Err()
}

// CheckFullTableRows returns nil or the *Error of VerifyFullTableRows.
func CheckFullTableRows(img *Image) error {
	return VerifyFullTableRows(img).Err()
}
