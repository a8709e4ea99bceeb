// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package verifier // import "go.opentelemetry.io/clrverify/verifier"

import (
	"fmt"
)

// Severity of a diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Kind classifies a diagnostic.
type Kind uint8

const (
	// KindFatal means there were not enough bytes to decode the next fixed
	// size structure, or its size computation overflowed. The stage stops.
	KindFatal Kind = iota + 1
	// KindRow is a decoded value that violates a format rule. Scanning goes on.
	KindRow
	// KindWarning is legal but suspicious input.
	KindWarning
	// KindUnsupported is structurally legal input the verifier does not handle.
	KindUnsupported
)

var kindNames = map[Kind]string{
	KindFatal:       "fatal",
	KindRow:         "invalid",
	KindWarning:     "warning",
	KindUnsupported: "unsupported",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ExceptionKind is the exception a runtime raises for a diagnostic.
type ExceptionKind uint8

const (
	ExceptionNone ExceptionKind = iota
	ExceptionBadImageFormat
	ExceptionNotSupported
)

func (e ExceptionKind) String() string {
	switch e {
	case ExceptionBadImageFormat:
		return "BadImageFormatException"
	case ExceptionNotSupported:
		return "NotSupportedException"
	}
	return "none"
}

// Diagnostic is a single finding of a verification pass.
type Diagnostic struct {
	Severity Severity
	Kind     Kind
	Message  string
}

// Exception returns the exception kind the diagnostic maps to.
func (d Diagnostic) Exception() ExceptionKind {
	switch d.Kind {
	case KindWarning:
		return ExceptionNone
	case KindUnsupported:
		return ExceptionNotSupported
	}
	return ExceptionBadImageFormat
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Error is the structured error returned by the Check functions.
type Error struct {
	Pass string
	Diagnostic
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pass, e.Diagnostic)
}

// Result is the outcome of a verification pass.
type Result struct {
	// Pass names the entry point that produced the result.
	Pass string
	// Valid is the verdict. Warnings do not affect it.
	Valid bool
	// Diagnostics in the order they were found. Empty when diagnostic
	// reporting is disabled.
	Diagnostics []Diagnostic
	// PE summarizes the image headers when they could be decoded.
	PE *PEInfo
	// LocalsToken is the local variable signature token found by
	// VerifyMethodHeader, or zero.
	LocalsToken uint32
}

// Errors returns the diagnostics that are not warnings.
func (r *Result) Errors() []Diagnostic {
	var errs []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Err returns nil for a valid result. Otherwise it returns an *Error for the
// first fatal diagnostic, or the first error if there is none.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	var first *Diagnostic
	for i := range r.Diagnostics {
		d := &r.Diagnostics[i]
		if d.Kind == KindFatal {
			first = d
			break
		}
		if first == nil && d.Severity == SeverityError {
			first = d
		}
	}
	if first == nil {
		// Diagnostic reporting was disabled.
		return &Error{Pass: r.Pass, Diagnostic: Diagnostic{
			Severity: SeverityError,
			Kind:     KindRow,
			Message:  "verification failed",
		}}
	}
	return &Error{Pass: r.Pass, Diagnostic: *first}
}
