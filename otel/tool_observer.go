// Package otel records tool service signals with OpenTelemetry.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
)

// ToolObserver records invocation, discovery and worker lifecycle signals.
type ToolObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	refreshes   metric.Int64Counter
	exits       metric.Int64Counter
	latency     metric.Float64Histogram
	toolCount   metric.Int64Gauge
}

// NewToolObserver creates a tool observer bound to the provided meter/tracer.
// A nil tracer disables spans.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		"payassist.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter(
		"payassist.tool.refreshes",
		metric.WithDescription("Number of tool catalog refreshes"),
	)
	if err != nil {
		return nil, err
	}
	exits, err := meter.Int64Counter(
		"payassist.worker.exits",
		metric.WithDescription("Number of worker process exits"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"payassist.tool.latency",
		metric.WithDescription("Tool call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	toolCount, err := meter.Int64Gauge(
		"payassist.tool.catalog.size",
		metric.WithDescription("Number of tools advertised by the worker"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:      tracer,
		invocations: invocations,
		refreshes:   refreshes,
		exits:       exits,
		latency:     latency,
		toolCount:   toolCount,
	}, nil
}

// ObserveInvoke records one invocation result.
func (o *ToolObserver) ObserveInvoke(observation tool.InvokeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool_name", observation.ToolName),
		attribute.Bool("success", observation.Success),
		attribute.Bool("tool_reported_error", observation.ToolReported),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, seconds(observation.DurationMS), options)

	o.span(ctx, "tool.invoke", observation.DurationMS, attrs, observation.Success, observation.ErrorCode)
}

// ObserveRefresh records one catalog refresh.
func (o *ToolObserver) ObserveRefresh(observation tool.RefreshObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	o.refreshes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if observation.Success {
		o.toolCount.Record(ctx, int64(observation.ToolCount))
	}

	spanAttrs := append(attrs, attribute.Int("tool_count", observation.ToolCount))
	o.span(ctx, "tool.refresh", observation.DurationMS, spanAttrs, observation.Success, observation.ErrorCode)
}

// ObserveWorkerExit records the worker process ending.
func (o *ToolObserver) ObserveWorkerExit(observation tool.WorkerExitObservation) {
	if o == nil {
		return
	}
	o.exits.Add(context.Background(), 1, metric.WithAttributes(
		attribute.Int("exit_code", observation.ExitCode),
		attribute.Bool("requested", observation.Requested),
	))
}

// span emits a span covering the observed duration, ending now.
func (o *ToolObserver) span(ctx context.Context, name string, durationMS int64, attrs []attribute.KeyValue, success bool, errorCode string) {
	if o.tracer == nil {
		return
	}
	end := time.Now()
	start := end.Add(-time.Duration(durationMS) * time.Millisecond)
	_, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...), trace.WithTimestamp(start))
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, errorCode)
	}
	span.End(trace.WithTimestamp(end))
}

func seconds(durationMS int64) float64 {
	return float64(time.Duration(durationMS)*time.Millisecond) / float64(time.Second)
}

var _ tool.Observer = (*ToolObserver)(nil)
