/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	mexporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/metric"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/cloudspannerecosystem/spanner-cassandra-proxy/logger"
	"go.uber.org/zap"
)

// clientHashMask bounds generateClientHash's output to the 6-hex-digit,
// [000000, 0003ff] range the Cloud Monitoring client_hash label expects.
const clientHashMask = 0x3FF

// generateClientHash derives a short, stable label from a client UID so
// per-process metric streams can be told apart in Cloud Monitoring without
// leaking the raw UID into label cardinality.
func generateClientHash(clientUID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientUID))
	return fmt.Sprintf("%06x", h.Sum32()&clientHashMask)
}

// Recorder emits per-request latency and count measurements for the proxy.
// When metrics are disabled it is a harmless no-op: every method still runs,
// it just records into a noop meter provider, costing nothing.
type Recorder struct {
	enabled     bool
	clientHash  string
	databaseUri string

	requestLatency otelmetric.Float64Histogram
	requestCount   otelmetric.Int64Counter
	reader         *metric.PeriodicReader
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Enabled toggles whether measurements are exported to Cloud Monitoring.
	// When false, NewRecorder still returns a usable Recorder whose Record
	// calls are cheap no-ops.
	Enabled bool
	// DatabaseUri is attached to every measurement as the database
	// attribute.
	DatabaseUri string
	// ClientUID optionally seeds generateClientHash; a random UUID is used
	// if empty.
	ClientUID string
}

// NewRecorder builds a Recorder. If opts.Enabled is false, no network
// exporter is created and Close is a no-op.
func NewRecorder(ctx context.Context, opts RecorderOptions) (*Recorder, error) {
	clientUID := opts.ClientUID
	if clientUID == "" {
		clientUID = uuid.NewString()
	}
	rec := &Recorder{
		enabled:     opts.Enabled,
		clientHash:  generateClientHash(clientUID),
		databaseUri: opts.DatabaseUri,
	}

	var meterProvider otelmetric.MeterProvider
	if opts.Enabled {
		detectedResource, err := resource.New(ctx, resource.WithDetectors(gcp.NewDetector()))
		if err != nil {
			logger.Error("Failed to detect GCP resource attributes for metrics", zap.Error(err))
			detectedResource = resource.Default()
		}

		exporter, err := mexporter.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create cloud monitoring exporter: %w", err)
		}
		reader := metric.NewPeriodicReader(exporter, metric.WithInterval(60*time.Second))
		provider := metric.NewMeterProvider(
			metric.WithResource(detectedResource),
			metric.WithReader(reader),
		)
		rec.reader = reader
		meterProvider = provider
	} else {
		meterProvider = noop.NewMeterProvider()
	}

	meter := meterProvider.Meter("spanner-cassandra-adapter")
	var err error
	rec.requestLatency, err = meter.Float64Histogram(
		"spanner_cassandra_adapter/request_latencies",
		otelmetric.WithDescription("Latency of AdaptMessage calls, in milliseconds."),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	rec.requestCount, err = meter.Int64Counter(
		"spanner_cassandra_adapter/request_count",
		otelmetric.WithDescription("Count of AdaptMessage calls by outcome."),
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Record reports the outcome and latency of a single AdaptMessage call. A
// nil Recorder (e.g. a driverConnection built without one in a test) is a
// no-op.
func (r *Recorder) Record(ctx context.Context, start time.Time, err error) {
	if r == nil {
		return
	}
	status := "OK"
	if err != nil {
		status = "ERROR"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("client_hash", r.clientHash),
		attribute.String("database", r.databaseUri),
		attribute.String("status", status),
	)
	r.requestLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	r.requestCount.Add(ctx, 1, attrs)
}

// Close flushes and shuts down the metrics pipeline. No-op when metrics are
// disabled.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Shutdown(ctx)
}
