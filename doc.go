// Package dagflow is a dynamic DAG workflow engine: a library for composing
// units of work into a directed acyclic graph, executing them with maximal
// parallelism subject to dependency and conditional-branch constraints, and
// allowing the graph to grow during execution in response to prior task
// outputs, context state, or registered strategies.
//
// # Quick Start
//
//	a := dagflow.NewTask("fetch", fetchFn)
//	b := dagflow.NewTask("parse", parseFn, dagflow.DependsOn(a))
//	engine, err := dagflow.NewBuilder().AddTasks(a, b).WithRetry(2).Build()
//	result, err := engine.Execute(ctx, nil)
//
// # Core Types
//
//   - [Task] — a unit of work with dependencies, optional branches, retries.
//   - [Context] — the shared key-value store and execution history for one run.
//   - [DynamicStrategy] — a rule that may append tasks to a run in progress.
//   - [Builder] — the fluent entry point that assembles a run.
//   - [WorkflowResult] — the terminal outcome of a run.
//
// # Streaming
//
// Builder.BuildStreaming returns an engine whose ExecuteStream method emits a
// live sequence of [StreamChunk] values (see [EventStream]). Builder.BuildLLMStreaming
// returns an engine exposing paired text/structured streams suitable for
// powering a server-sent-events HTTP response (see [LLMStream]).
//
// # Observability
//
// The engine accepts an optional [Tracer] and a *slog.Logger; both default to
// no-ops. The observer subpackage provides an OpenTelemetry-backed Tracer.
//
// # Persistence
//
// [HistorySink] persists completed runs for audit; it is write-only and
// never used to resume or replay a run. [ExecuteWithHistory] wraps an
// Engine's Execute call to record the result regardless of outcome. The
// store/sqlite and store/postgres subpackages provide HistorySink
// implementations.
//
// # Task library
//
// The tasks subpackage provides ready-made Task implementations — tasks/fetch
// for URL content extraction, tasks/pdf for PDF text extraction, and
// tasks/sandbox for running a command inside a container — plus
// tasks/report for rendering a WorkflowResult as an HTML summary.
package dagflow
