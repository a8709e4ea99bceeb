// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"go.opentelemetry.io/clrverify/internal/controller"
	"go.opentelemetry.io/clrverify/verifier"
)

// mvidString formats a GUID stored in the #GUID heap. The first three fields
// are little-endian there.
func mvidString(g [16]byte) string {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = g[3], g[2], g[1], g[0]
	u[4], u[5] = g[5], g[4]
	u[6], u[7] = g[7], g[6]
	copy(u[8:], g[8:])
	return u.String()
}

type jsonDiagnostic struct {
	Severity  string `json:"severity"`
	Kind      string `json:"kind"`
	Exception string `json:"exception"`
	Message   string `json:"message"`
}

type jsonPass struct {
	Pass        string           `json:"pass"`
	Valid       bool             `json:"valid"`
	Diagnostics []jsonDiagnostic `json:"diagnostics,omitempty"`
}

type jsonFile struct {
	File     string     `json:"file"`
	Valid    bool       `json:"valid"`
	Size     int        `json:"size"`
	Cached   bool       `json:"cached"`
	Machine  string     `json:"machine,omitempty"`
	Module   string     `json:"module,omitempty"`
	MVID     string     `json:"mvid,omitempty"`
	Error    string     `json:"error,omitempty"`
	Passes   []jsonPass `json:"passes"`
	Sections int        `json:"sections,omitempty"`
}

func machine(results []*verifier.Result) (string, int) {
	for _, res := range results {
		if res.PE != nil {
			return fmt.Sprintf("%#x", res.PE.Machine), len(res.PE.Sections)
		}
	}
	return "", 0
}

func toJSON(report *controller.FileReport) jsonFile {
	f := jsonFile{
		File:   report.Name,
		Valid:  report.Valid(),
		Size:   report.Size,
		Cached: report.Cached,
		Passes: make([]jsonPass, 0, len(report.Results)),
	}
	if report.Err != nil {
		f.Error = report.Err.Error()
	}
	if report.HasModule {
		f.Module = report.Module.Name
		f.MVID = mvidString(report.Module.MVID)
	}
	f.Machine, f.Sections = machine(report.Results)
	for _, res := range report.Results {
		p := jsonPass{Pass: res.Pass, Valid: res.Valid}
		for _, d := range res.Diagnostics {
			p.Diagnostics = append(p.Diagnostics, jsonDiagnostic{
				Severity:  d.Severity.String(),
				Kind:      d.Kind.String(),
				Exception: d.Exception().String(),
				Message:   d.Message,
			})
		}
		f.Passes = append(f.Passes, p)
	}
	return f
}

// writeJSONReport writes one JSON array holding an object per file.
func writeJSONReport(w io.Writer, reports []controller.FileReport) error {
	files := make([]jsonFile, 0, len(reports))
	for i := range reports {
		files = append(files, toJSON(&reports[i]))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(files)
}

func verdict(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

// writeTextReport writes one block per file: a summary line followed by the
// verdict and diagnostics of every pass that ran.
func writeTextReport(w io.Writer, reports []controller.FileReport) error {
	for i := range reports {
		report := &reports[i]
		if report.Err != nil {
			if _, err := fmt.Fprintf(w, "%s: unreadable: %v\n", report.Name, report.Err); err != nil {
				return err
			}
			continue
		}

		summary := fmt.Sprintf("%s: %s, %d bytes", report.Name, verdict(report.Valid()),
			report.Size)
		if report.HasModule {
			summary += fmt.Sprintf(", module %s {%s}", report.Module.Name,
				mvidString(report.Module.MVID))
		}
		if report.Cached {
			summary += " (cached)"
		}
		if _, err := fmt.Fprintln(w, summary); err != nil {
			return err
		}

		for _, res := range report.Results {
			if _, err := fmt.Fprintf(w, "  %s: %s\n", res.Pass, verdict(res.Valid)); err != nil {
				return err
			}
			for _, d := range res.Diagnostics {
				if _, err := fmt.Fprintf(w, "    %s\n", d); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
