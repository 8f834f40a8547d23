// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jeranaias/stembot/internal/config"
)

// ServiceName identifies stembot in exported spans and metrics.
const ServiceName = "stembot"

// MetricInterval is how often metrics are flushed to the telemetry file.
const MetricInterval = 10 * time.Second

// Providers holds the SDK providers created by NewProviders.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(p.Tracer.Shutdown(ctx), p.Meter.Shutdown(ctx))
}

// NewProviders builds tracer and meter providers that export JSON lines to w.
func NewProviders(ctx context.Context, w io.Writer, version string) (*Providers, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	return &Providers{
		Tracer: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
		),
		Meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(MetricInterval))),
			sdkmetric.WithResource(res),
		),
	}, nil
}

// InitTelemetry installs global OpenTelemetry providers exporting to the
// configured telemetry file. When telemetry is disabled it installs nothing
// and the returned shutdown is a no-op.
func InitTelemetry(ctx context.Context, cfg *config.Config, version string) (func(), error) {
	if !cfg.Telemetry.Enabled {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.TelemetryFile()), 0755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   cfg.TelemetryFile(),
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}

	providers, err := NewProviders(ctx, file, version)
	if err != nil {
		file.Close()
		return nil, err
	}
	otel.SetTracerProvider(providers.Tracer)
	otel.SetMeterProvider(providers.Meter)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown telemetry providers", "error", err)
		}
		if err := file.Close(); err != nil {
			slog.Error("failed to close telemetry file", "error", err)
		}
	}, nil
}
