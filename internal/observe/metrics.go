// Package observe holds the process observability kit: the OpenTelemetry
// instruments Callyx records, the provider bootstrap that exports them, and
// the HTTP middleware that traces and times control-plane requests.
//
// [InitProvider] installs the global meter and tracer providers, bridging
// instruments into the Prometheus registry behind /metrics. The process-wide
// instrument set comes from [DefaultMetrics]; tests construct their own with
// [NewMetrics] against a throwaway provider so recordings stay local.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all Callyx instruments. Spans
// use the matching tracerName in middleware.go.
const meterName = "github.com/callyx/callyx"

// Metrics bundles every instrument the runtime records. The OTel instrument
// types are safe for concurrent use, so a single set serves all sessions.
type Metrics struct {
	// Pipeline latency histograms, in seconds.

	// TurnLatency spans a full turn: finalised utterance to the first
	// outbound media frame of the reply.
	TurnLatency metric.Float64Histogram
	// STTLatency is how far transcript events trail audio delivery.
	STTLatency metric.Float64Histogram
	// LLMFirstChunk is the wait for the first completion token.
	LLMFirstChunk metric.Float64Histogram
	// TTSFirstByte is the wait for the first synthesised audio byte.
	TTSFirstByte metric.Float64Histogram
	// ToolExecutionDuration times a single tool invocation.
	ToolExecutionDuration metric.Float64Histogram
	// CallDuration times a whole call, start event to cleanup.
	CallDuration metric.Float64Histogram

	// FramesIn and FramesOut count 20 ms µ-law media frames per direction.
	FramesIn  metric.Int64Counter
	FramesOut metric.Int64Counter

	// Interrupts counts barge-ins that cancelled an in-flight response.
	Interrupts metric.Int64Counter
	// ToolCalls counts tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter
	// WebhookDrops counts events discarded by a full delivery queue.
	WebhookDrops metric.Int64Counter
	// CallsEnded counts finished calls. Attributes: status.
	CallsEnded metric.Int64Counter
	// ProviderErrors counts upstream failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ActiveCalls is the number of sessions currently running.
	ActiveCalls metric.Int64UpDownCounter

	// HTTPRequestDuration times control-plane request handling, in seconds.
	// Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// Histogram boundaries, in seconds. Latency buckets resolve the 10 ms – 10 s
// range a voice turn lives in; call buckets span 5 s to half an hour.
var (
	latencyBuckets      = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	callDurationBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800}
)

// instrumentBuilder creates instruments on one meter and remembers the first
// failure, so NewMetrics can assemble the whole set as a single literal.
type instrumentBuilder struct {
	meter metric.Meter
	err   error
}

func (b *instrumentBuilder) fail(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("instrument %s: %w", name, err)
	}
}

// histogram creates a seconds-unit histogram. A nil buckets slice keeps the
// SDK's default boundaries.
func (b *instrumentBuilder) histogram(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit("s"),
	}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.fail(name, err)
	return h
}

func (b *instrumentBuilder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.fail(name, err)
	return c
}

func (b *instrumentBuilder) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.fail(name, err)
	return c
}

// NewMetrics registers every instrument on a meter from mp. Production code
// reaches the shared set through [DefaultMetrics]; tests pass their own
// provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instrumentBuilder{meter: mp.Meter(meterName)}
	met := &Metrics{
		TurnLatency:           b.histogram("callyx.turn.latency", "Time from finalised utterance to first response media frame.", latencyBuckets),
		STTLatency:            b.histogram("callyx.stt.latency", "Lag between audio delivery and transcript events.", latencyBuckets),
		LLMFirstChunk:         b.histogram("callyx.llm.first_chunk", "Time to first token of the completion stream.", latencyBuckets),
		TTSFirstByte:          b.histogram("callyx.tts.first_byte", "Time to first audio byte of a synthesis stream.", latencyBuckets),
		ToolExecutionDuration: b.histogram("callyx.tool_execution.duration", "Latency of tool execution.", latencyBuckets),
		CallDuration:          b.histogram("callyx.call.duration", "Whole-call duration from start event to cleanup.", callDurationBuckets),
		HTTPRequestDuration:   b.histogram("callyx.http.request.duration", "HTTP request latency by method and path.", nil),
		FramesIn:              b.counter("callyx.frames.in", "Inbound media frames received from the carrier."),
		FramesOut:             b.counter("callyx.frames.out", "Outbound media frames sent to the carrier."),
		Interrupts:            b.counter("callyx.interrupts", "Barge-in cancellations fired."),
		ToolCalls:             b.counter("callyx.tool.calls", "Tool invocations by name and status."),
		WebhookDrops:          b.counter("callyx.webhook.drops", "Webhook events dropped by a saturated delivery queue."),
		CallsEnded:            b.counter("callyx.calls.ended", "Finished calls by final status."),
		ProviderErrors:        b.counter("callyx.provider.errors", "Provider failures by provider and kind."),
		ActiveCalls:           b.upDown("callyx.calls.active", "Live call sessions."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// DefaultMetrics returns the process-wide instrument set, built on first use
// from [otel.GetMeterProvider]. Panics if instrument creation fails, which
// the global provider never does.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordToolCall counts one tool invocation and records its execution time,
// both labelled with the tool name and outcome status.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordProviderError counts one upstream failure. provider names the
// pipeline stage or vendor, kind the phase that failed ("start", "stream").
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordCallEnd settles the per-call instruments when a session finishes: it
// decrements ActiveCalls, records the call duration and counts the final
// status.
func (m *Metrics) RecordCallEnd(ctx context.Context, status string, duration time.Duration) {
	m.ActiveCalls.Add(ctx, -1)
	m.CallDuration.Record(ctx, duration.Seconds())
	m.CallsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
