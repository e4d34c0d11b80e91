// Package trace provides a tracing subsystem for the dexsmith optimizer.
//
// The trace package enables tracking of pipeline phases, per-method
// processing, and other operations to help diagnose performance issues
// and hangs.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	dexsmith optimize --trace=- --trace-level=phase app.dxp
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - nop tracer: zero-overhead when disabled (the Nop singleton)
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer for crash dumps
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
// Tracing verbosity is controlled by levels:
//
//   - LevelOff: no tracing
//   - LevelError: only crash dumps
//   - LevelPhase: driver and pass boundaries
//   - LevelDetail: per-method events
//   - LevelDebug: everything including per-instruction events
//
// # Scopes
//
// Events are categorized by scope:
//
//   - ScopeDriver: top-level CLI operations
//   - ScopePass: transform passes
//   - ScopeMethod: per-method processing
//   - ScopeInsn: instruction level (most detailed)
//
// # Context Propagation
//
// Tracers are propagated through the pipeline via context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopePass, "builders", parentID)
//	defer span.End("")
package trace
