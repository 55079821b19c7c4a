// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestInitMeter_ExportsThroughRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	cleanup, err := InitMeter(context.Background(), "test-svc", reg, "")
	require.NoError(t, err)
	defer cleanup(context.Background())

	counter, err := otel.Meter("telemetry-test").Int64Counter("mulehunter.test.ops")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "mulehunter_test_ops") {
			found = true
			require.NotEmpty(t, f.GetMetric())
			assert.Equal(t, 3.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "otel counter is gathered by the prometheus registry")
}

func TestStdoutMetricReader(t *testing.T) {
	var buf bytes.Buffer
	reader, err := newStdoutMetricReader(&buf, time.Hour)
	require.NoError(t, err)

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	hist, err := provider.Meter("test").Float64Histogram("pipeline.stage.duration")
	require.NoError(t, err)
	hist.Record(context.Background(), 0.25)
	require.NoError(t, provider.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "pipeline.stage.duration")
}

func TestChain_RunsInReverse(t *testing.T) {
	var order []int
	c := Chain(
		func(context.Context) { order = append(order, 1) },
		nil,
		func(context.Context) { order = append(order, 2) },
	)
	c(context.Background())
	assert.Equal(t, []int{2, 1}, order)
}
