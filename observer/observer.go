// Package observer provides OpenTelemetry-based observability for dagflow
// runs: trace spans per run/task via NewTracer, plus run/task metrics via
// Init. Export to any OTEL-compatible backend by setting the standard OTEL
// env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	dagflowlog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/flowforge/dagflow/observer"

// Instruments holds the OTEL instruments used to record run and task metrics.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger dagflowlog.Logger

	RunsTotal           metric.Int64Counter
	TasksCompleted      metric.Int64Counter
	TasksFailed         metric.Int64Counter
	TasksSkipped        metric.Int64Counter
	DynamicTasksCreated metric.Int64Counter

	RunDuration  metric.Float64Histogram
	TaskDuration metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters, and returns a shutdown function that must be called on
// application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("dagflow")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	runsTotal, err := meter.Int64Counter("workflow.runs",
		metric.WithDescription("Total workflow runs started"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	tasksCompleted, err := meter.Int64Counter("workflow.tasks.completed",
		metric.WithDescription("Tasks that completed successfully"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	tasksFailed, err := meter.Int64Counter("workflow.tasks.failed",
		metric.WithDescription("Tasks that exhausted their retry budget"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	tasksSkipped, err := meter.Int64Counter("workflow.tasks.skipped",
		metric.WithDescription("Tasks skipped by branch resolution or cascade"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	dynamicTasksCreated, err := meter.Int64Counter("workflow.dynamic_tasks.generated",
		metric.WithDescription("Tasks appended to a run by a DynamicStrategy"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram("workflow.run.duration",
		metric.WithDescription("Run wall-clock duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram("workflow.task.duration",
		metric.WithDescription("Task wall-clock duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:              tracer,
		Meter:                meter,
		Logger:               logger,
		RunsTotal:            runsTotal,
		TasksCompleted:       tasksCompleted,
		TasksFailed:          tasksFailed,
		TasksSkipped:         tasksSkipped,
		DynamicTasksCreated:  dynamicTasksCreated,
		RunDuration:          runDuration,
		TaskDuration:         taskDuration,
	}, nil
}

// RecordTaskResult increments the matching counter and records the task's
// duration. Called by instrumented call sites (e.g. an OnTaskComplete
// strategy, or a custom engine wrapper) after a task reaches a terminal
// status.
func (in *Instruments) RecordTaskResult(ctx context.Context, status string, durationMs int64) {
	switch status {
	case "completed":
		in.TasksCompleted.Add(ctx, 1)
	case "failed":
		in.TasksFailed.Add(ctx, 1)
	case "skipped":
		in.TasksSkipped.Add(ctx, 1)
		return
	}
	in.TaskDuration.Record(ctx, float64(durationMs))
}
