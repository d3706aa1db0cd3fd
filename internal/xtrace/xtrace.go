/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package xtrace wires the per-packet OpenTelemetry spans the handler
// opens around each inbound control packet, and bootstraps an
// exporter at startup. Tracing is additive: a misconfigured or absent
// exporter never blocks packet processing, it just leaves spans
// unexported.
package xtrace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Name is the tracer name every packet-level span is opened under.
const Name = "mqttcore"

// Exporter selects which backend InitProvider exports spans to.
type Exporter string

const (
	ExporterNone   Exporter = ""
	ExporterJaeger Exporter = "jaeger"
	ExporterZipkin Exporter = "zipkin"
)

// Config configures the trace provider.
type Config struct {
	Exporter    Exporter
	Endpoint    string // collector endpoint, exporter-specific
	ServiceName string
	SampleRatio float64 // 0 disables sampling entirely
}

// InitProvider builds and installs the global TracerProvider described
// by cfg. Passing ExporterNone installs a provider with no exporter:
// spans are still sampled per SampleRatio but never exported. A
// SampleRatio of 0 selects a sampler that never samples.
func InitProvider(cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = Name
	}

	sampler := sdktrace.NeverSample()
	if cfg.SampleRatio > 0 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	var (
		sp  sdktrace.SpanExporter
		err error
	)
	switch cfg.Exporter {
	case ExporterJaeger:
		sp, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case ExporterZipkin:
		sp, err = zipkin.New(cfg.Endpoint)
	case ExporterNone:
		sp = nil
	}
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res), sdktrace.WithSampler(sampler)}
	if sp != nil {
		opts = append(opts, sdktrace.WithBatcher(sp))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the process-wide packet tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(Name)
}

// StartPacket opens a span for one inbound packet's processing,
// named after the MQTT control packet type (e.g. "PUBLISH").
func StartPacket(ctx context.Context, packetType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, packetType)
}
