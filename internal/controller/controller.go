// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller runs the verification passes of the clrverify tool over
// a set of files.
package controller // import "go.opentelemetry.io/clrverify/internal/controller"

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/clrverify/imagefile"
	"go.opentelemetry.io/clrverify/internal/log"
	"go.opentelemetry.io/clrverify/metrics"
	"go.opentelemetry.io/clrverify/verifier"
	"go.opentelemetry.io/clrverify/verifycache"
)

// FileReport is the outcome of verifying one file.
type FileReport struct {
	Name string
	Size int
	// Cached is set when the results were served from the cache.
	Cached bool
	// Module is valid when HasModule is set.
	Module    verifier.ModuleIdentity
	HasModule bool
	// Results holds one entry per pass that ran, in order.
	Results []*verifier.Result
	// Err is set when the file could not be read.
	Err error
}

// Valid reports whether the file was read and passed every pass that ran.
func (r *FileReport) Valid() bool {
	if r.Err != nil || len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Valid {
			return false
		}
	}
	return true
}

// Controller verifies files with a shared verifier and result cache.
type Controller struct {
	config   *Config
	verifier *verifier.Verifier
	cache    *verifycache.Cache
}

// New creates a new controller for a validated configuration.
func New(cfg *Config) (*Controller, error) {
	v, err := verifier.New(cfg.verifierConfig())
	if err != nil {
		return nil, err
	}
	cache, err := verifycache.New(uint32(cfg.CacheSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create the result cache: %w", err)
	}
	return &Controller{
		config:   cfg,
		verifier: v,
		cache:    cache,
	}, nil
}

// Run verifies every file of the configuration. The reports are in the order
// of the files. The returned error is an ErrorWithExitCode when a file is
// invalid or unreadable, or the context error when ctx is canceled.
func (c *Controller) Run(ctx context.Context) ([]FileReport, error) {
	reports := make([]FileReport, len(c.config.Files))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Jobs)
	for i, name := range c.config.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = c.verifyFile(name)
			if !reports[i].Valid() {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := c.cache.GetAndResetStatistics()
	log.Debugf("Result cache: %d hits, %d misses, %d entries",
		stats.Hit, stats.Miss, stats.Len)

	if n := failed.Load(); n > 0 {
		return reports, ErrorWithExitCode{
			error: fmt.Errorf("%d of %d files failed verification", n, len(reports)),
			code:  ExitVerificationFailed,
		}
	}
	return reports, nil
}

func (c *Controller) verifyFile(name string) FileReport {
	report := FileReport{Name: name}
	f, err := imagefile.Open(name)
	if err != nil {
		log.Warnf("Failed to read %s: %v", name, err)
		metrics.Add(metrics.IDImagesUnreadable, 1)
		report.Err = err
		return report
	}
	defer f.Close()

	data := f.Data()
	report.Size = len(data)
	report.Results, report.Cached = c.cache.GetOrVerify(
		verifycache.KeyFor(data, c.config.Full),
		func() []*verifier.Result { return c.verify(data) })

	img := verifier.NewImage(data)
	report.Module, report.HasModule = verifier.ReadModuleIdentity(img)

	c.record(&report)
	return report
}

// verify runs the passes in order and stops after the first failing one.
func (c *Controller) verify(data []byte) []*verifier.Result {
	img := verifier.NewImage(data)
	passes := []func(*verifier.Image) *verifier.Result{
		c.verifier.VerifyPEStructure,
		c.verifier.VerifyCLIStructure,
		c.verifier.VerifyTableRows,
	}
	if c.config.Full {
		passes = append(passes, c.verifier.VerifyFullTableRows)
	}

	results := make([]*verifier.Result, 0, len(passes))
	for _, pass := range passes {
		res := pass(img)
		results = append(results, res)
		if !res.Valid {
			break
		}
	}
	return results
}

func (c *Controller) record(report *FileReport) {
	var errs, warnings int
	for _, res := range report.Results {
		for _, d := range res.Diagnostics {
			if d.Severity == verifier.SeverityError {
				errs++
			} else {
				warnings++
			}
		}
	}

	batch := []metrics.Metric{
		{ID: metrics.IDBytesVerified, Value: metrics.MetricValue(report.Size)},
		{ID: metrics.IDDiagnosticErrors, Value: metrics.MetricValue(errs)},
		{ID: metrics.IDDiagnosticWarnings, Value: metrics.MetricValue(warnings)},
	}
	if report.Valid() {
		batch = append(batch, metrics.Metric{ID: metrics.IDImagesVerified, Value: 1})
	} else {
		batch = append(batch, metrics.Metric{ID: metrics.IDImagesFailed, Value: 1})
	}
	metrics.AddSlice(batch)

	log.Debugf("%s: valid=%t cached=%t errors=%d warnings=%d",
		report.Name, report.Valid(), report.Cached, errs, warnings)
}
