// Package trace records executor and task state transitions.
//
// The executor reports seven hook points (poll start, task new, task ready,
// task exec begin/end, task end, executor idle). Hooks turns them into Events
// and hands them to a Tracer.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	ember run --trace=- --trace-level=task
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer, dumped as msgpack after a fault
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only crash dumps
//   - LevelExecutor: poll passes and idle transitions
//   - LevelTask: task lifecycle events as well
//   - LevelDebug: everything, including core and boot events
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeCore, "boot core1", 0) // driven from core 0
//	defer span.End("")
package trace
