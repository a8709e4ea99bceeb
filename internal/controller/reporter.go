// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/clrverify/internal/controller"

import (
	"go.opentelemetry.io/clrverify/internal/log"
	"go.opentelemetry.io/clrverify/metrics"
)

// metricsLogger is a metrics.Reporter that logs every batch at debug level.
type metricsLogger struct {
	names map[uint32]string
}

// NewMetricsLogger returns a metrics.Reporter for verbose mode.
func NewMetricsLogger() (metrics.Reporter, error) {
	defs, err := metrics.GetDefinitions()
	if err != nil {
		return nil, err
	}
	names := make(map[uint32]string, len(defs))
	for _, md := range defs {
		names[uint32(md.ID)] = md.Field
	}
	return &metricsLogger{names: names}, nil
}

func (m *metricsLogger) ReportMetrics(timestamp uint32, ids []uint32, values []int64) {
	for i, id := range ids {
		name, ok := m.names[id]
		if !ok {
			name = "unknown"
		}
		log.Debugf("metric %d %s=%d", timestamp, name, values[i])
	}
}
