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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// stdoutMetricInterval is how often the stdout exporter dumps metrics.
const stdoutMetricInterval = 30 * time.Second

// InitMeter installs a global meter provider for serviceName.
//
// # Description
//
// OTel instruments are exported through reg, so the service's existing
// /metrics endpoint serves them next to its client_golang collectors.
// With exporter "stdout" they are instead printed periodically, which is
// useful when running a service by hand.
//
// # Outputs
//
//   - Cleanup: Always non-nil
//   - error: Non-nil if the exporter could not be created or registered
func InitMeter(ctx context.Context, serviceName string, reg prometheus.Registerer, exporter string) (Cleanup, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var reader sdkmetric.Reader
	if exporter == StdoutEndpoint {
		reader, err = newStdoutMetricReader(os.Stdout, stdoutMetricInterval)
	} else {
		reader, err = otelprom.New(otelprom.WithRegisterer(reg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown meter provider", "error", err)
		}
	}, nil
}

func newStdoutMetricReader(w io.Writer, interval time.Duration) (sdkmetric.Reader, error) {
	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval)), nil
}

// Chain runs cleanups in reverse order.
func Chain(cleanups ...Cleanup) Cleanup {
	return func(ctx context.Context) {
		for i := len(cleanups) - 1; i >= 0; i-- {
			if cleanups[i] != nil {
				cleanups[i](ctx)
			}
		}
	}
}
