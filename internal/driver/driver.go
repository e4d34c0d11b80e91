// Package driver orchestrates one optimize run over a loaded scope:
// balloon every method body in parallel, run the configured passes over
// the shared bodies, then sync the edited bodies back into code form,
// again in parallel, rolling back any method that fails to re-encode.
package driver

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"dexsmith/internal/config"
	"dexsmith/internal/dex"
	"dexsmith/internal/diag"
	"dexsmith/internal/ir"
	"dexsmith/internal/observ"
	"dexsmith/internal/passes"
	"dexsmith/internal/pipeline"
	"dexsmith/internal/trace"
)

// Options carries the run's collaborators. Every field may be left nil;
// the driver substitutes no-op implementations.
type Options struct {
	Config *config.Config
	Report diag.Reporter
	Sink   pipeline.ProgressSink
	Tracer trace.Tracer
	Timer  *observ.Timer
}

// Stats summarizes one optimize run.
type Stats struct {
	Classes      int
	Methods      int
	Ballooned    int
	BalloonFails int
	Synced       int
	SyncFails    int
	Passes       []string
}

type job struct {
	cls *dex.Class
	m   *dex.Method
}

// Optimize runs the configured passes over scope, mutating method code
// in place. Per-method failures become diagnostics and leave the
// original code untouched; only configuration errors, pass-level errors
// and cancellation abort the run.
func Optimize(ctx context.Context, scope *dex.Scope, opts Options) (*Stats, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	report := opts.Report
	if report == nil {
		report = diag.NopReporter{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = pipeline.NopSink{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.Nop
	}
	timer := opts.Timer
	if timer == nil {
		timer = observ.NewTimer()
	}

	if err := cfg.Validate(passes.Names()); err != nil {
		diag.ReportError(report, diag.DrvUnknownPass, diag.Site{Addr: diag.NoAddr}, err.Error()).Emit()
		return nil, err
	}
	jobs := cfg.Optimize.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	span := trace.Begin(tracer, trace.ScopeDriver, "optimize", 0)

	var work []job
	scope.EachMethod(func(c *dex.Class, m *dex.Method) {
		if m.Code != nil {
			work = append(work, job{cls: c, m: m})
		}
	})
	stats := &Stats{
		Classes: len(scope.Classes),
		Methods: len(work),
		Passes:  cfg.Optimize.Passes,
	}
	// Balloon every method. Indexes into the result slices are unique
	// per goroutine, so no mutex is needed.
	phase := timer.Begin("balloon")
	sink.OnEvent(pipeline.Event{Stage: pipeline.StageBalloon, Status: pipeline.StatusWorking})
	bspan := trace.Begin(tracer, trace.ScopePass, "balloon", span.ID())

	bodies := make([]*ir.Body, len(work))
	berrs := make([]error, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, max(len(work), 1)))
	for i, j := range work {
		g.Go(func(i int, j job) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				bodies[i], berrs[i] = ir.Balloon(j.m.Code)
				return nil
			}
		}(i, j))
	}
	if err := g.Wait(); err != nil {
		diag.ReportError(report, diag.DrvCancelled, diag.Site{Addr: diag.NoAddr}, err.Error()).Emit()
		sink.OnEvent(pipeline.Event{Stage: pipeline.StageBalloon, Status: pipeline.StatusError, Err: err})
		span.End("cancelled")
		return stats, err
	}

	byMethod := make(map[*dex.Method]*ir.Body, len(work))
	for i, j := range work {
		if err := berrs[i]; err != nil {
			stats.BalloonFails++
			site := diag.MethodSite(scope.Pool.Descriptor(j.cls.Type), scope.Pool.MethodName(j.m.ID))
			diag.ReportError(report, diag.CodeBadOpcode, site,
				fmt.Sprintf("cannot expand method code: %v", err)).Emit()
			continue
		}
		byMethod[j.m] = bodies[i]
	}
	stats.Ballooned = len(byMethod)
	bspan.End(fmt.Sprintf("%d methods", stats.Ballooned))
	timer.End(phase, fmt.Sprintf("%d methods", stats.Ballooned))
	sink.OnEvent(pipeline.Event{Stage: pipeline.StageBalloon, Status: pipeline.StatusDone})

	// Passes run sequentially; each sees every body and may edit any of
	// them.
	pc := &passes.Context{
		Scope:  scope,
		Bodies: byMethod,
		Config: cfg,
		Report: report,
		Tracer: tracer,
	}
	for _, name := range cfg.Optimize.Passes {
		p, _ := passes.Lookup(name) // Validate checked membership
		phase = timer.Begin("pass " + name)
		sink.OnEvent(pipeline.Event{Unit: name, Stage: pipeline.StagePasses, Status: pipeline.StatusWorking})
		pspan := trace.Begin(tracer, trace.ScopePass, name, span.ID())
		start := time.Now()

		if err := p.Run(ctx, pc); err != nil {
			pspan.End("failed")
			timer.End(phase, "failed")
			sink.OnEvent(pipeline.Event{
				Unit: name, Stage: pipeline.StagePasses,
				Status: pipeline.StatusError, Err: err, Elapsed: time.Since(start),
			})
			code := diag.DrvInfo
			if ctx.Err() != nil {
				code = diag.DrvCancelled
			}
			diag.ReportError(report, code, diag.Site{Addr: diag.NoAddr},
				fmt.Sprintf("pass %s: %v", name, err)).Emit()
			span.End("failed")
			return stats, fmt.Errorf("pass %s: %w", name, err)
		}

		pspan.End("")
		timer.End(phase, "")
		sink.OnEvent(pipeline.Event{
			Unit: name, Stage: pipeline.StagePasses,
			Status: pipeline.StatusDone, Elapsed: time.Since(start),
		})
	}

	// Sync everything back. Each goroutine owns its method exclusively,
	// so writing m.Code needs no lock. A method that fails to re-encode
	// keeps its original code.
	phase = timer.Begin("sync")
	sink.OnEvent(pipeline.Event{Stage: pipeline.StageSync, Status: pipeline.StatusWorking})
	sspan := trace.Begin(tracer, trace.ScopePass, "sync", span.ID())

	serrs := make([]error, len(work))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, max(len(work), 1)))
	for i, j := range work {
		body := pc.BodyOf(j.m)
		if body == nil {
			continue
		}
		g.Go(func(i int, j job, body *ir.Body) func() error {
			return func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				out := &dex.Code{}
				if err := body.Sync(out); err != nil {
					serrs[i] = err
					return nil
				}
				j.m.Code = out
				return nil
			}
		}(i, j, body))
	}
	if err := g.Wait(); err != nil {
		diag.ReportError(report, diag.DrvCancelled, diag.Site{Addr: diag.NoAddr}, err.Error()).Emit()
		sink.OnEvent(pipeline.Event{Stage: pipeline.StageSync, Status: pipeline.StatusError, Err: err})
		span.End("cancelled")
		return stats, err
	}
	for i, j := range work {
		if pc.BodyOf(j.m) == nil {
			continue
		}
		if err := serrs[i]; err != nil {
			stats.SyncFails++
			site := diag.MethodSite(scope.Pool.Descriptor(j.cls.Type), scope.Pool.MethodName(j.m.ID))
			diag.ReportError(report, diag.CodeSyncFailed, site,
				fmt.Sprintf("method keeps its previous code: %v", err)).Emit()
			continue
		}
		stats.Synced++
	}
	sspan.End(fmt.Sprintf("%d methods", stats.Synced))
	timer.End(phase, fmt.Sprintf("%d methods", stats.Synced))
	sink.OnEvent(pipeline.Event{Stage: pipeline.StageSync, Status: pipeline.StatusDone})

	span.End(fmt.Sprintf("%d/%d methods", stats.Synced, stats.Methods))
	return stats, nil
}
