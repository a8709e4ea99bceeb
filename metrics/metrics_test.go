// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	result chan []Metric
}

func (f fakeReporter) ReportMetrics(_ uint32, ids []uint32, values []int64) {
	metricsResult := make([]Metric, len(ids))

	for j := range ids {
		metricsResult[j].ID = MetricID(ids[j])
		metricsResult[j].Value = MetricValue(values[j])
	}

	// send the result back for comparison with client-side input
	f.result <- metricsResult
}

func TestMetrics(t *testing.T) {
	reporter := &fakeReporter{result: make(chan []Metric, 128)}
	SetReporter(reporter)
	t.Cleanup(func() { SetReporter(nil) })

	ts := uint32(1000)
	now = func() uint32 { return ts }
	t.Cleanup(func() { now = func() uint32 { return 0 } })

	AddSlice([]Metric{
		{IDImagesVerified, 1},
		{IDDiagnosticErrors, 3},
	})
	Add(IDImagesVerified, 2) // summed
	Add(IDCacheEntries, 5)   // gauge
	Add(IDCacheEntries, 7)   // gauge, last value wins
	Add(IDCacheMisses, 0)    // zero counter, dropped
	Add(IDMax, 1)            // out of range, dropped
	AddSlice([]Metric{{IDBytesVerified, 4096}})

	// A new timestamp reports the previous batch.
	ts++
	AddSlice(nil)

	require.Len(t, reporter.result, 1)
	assert.Equal(t, []Metric{
		{IDImagesVerified, 3},
		{IDDiagnosticErrors, 3},
		{IDCacheEntries, 7},
		{IDBytesVerified, 4096},
	}, <-reporter.result)

	Add(IDCacheHits, 1)
	Flush()
	require.Len(t, reporter.result, 1)
	assert.Equal(t, []Metric{{IDCacheHits, 1}}, <-reporter.result)

	// Nothing buffered, nothing reported.
	Flush()
	assert.Empty(t, reporter.result)
}

func TestGetDefinitions(t *testing.T) {
	defs, err := GetDefinitions()
	require.NoError(t, err)
	require.Len(t, defs, IDMax-1)
	for i, d := range defs {
		assert.Equal(t, MetricID(i+1), d.ID)
		assert.Contains(t, []MetricType{MetricTypeCounter, MetricTypeGauge}, d.Type)
	}
}
