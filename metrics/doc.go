// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics counts verification outcomes and reports them through OTel
metric instruments.

The metric IDs are generated from metrics.json:

	metrics
	├── genids/         // generator for ids.go
	├── ids.go          // generated metric IDs
	├── metrics.go      // Add(), AddSlice() and Flush()
	├── metrics.json    // metric definitions, append only
	└── types.go        // Metric, MetricID, MetricValue

Metrics are buffered per second and handed to the OTel meter when the second
changes or when Flush is called.
*/
package metrics
