// Package runtime wires together every core component (fiber, sched,
// gc, heap, jit, dispatch) into one process-lifetime value, per spec.md
// §2's "Global mutable state" design note: "Model as an explicit Runtime
// value passed into every helper." It also owns the two concerns
// spec.md explicitly places outside the core (module loading/linking,
// spec.md §6; error taxonomy, spec.md §7) since those need every other
// component assembled to mean anything.
package runtime

import (
	"context"
	"fmt"
	"runtime"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/prask/internal/config"
	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/gc"
	"github.com/zephyrtronium/prask/internal/heap"
	"github.com/zephyrtronium/prask/internal/jit"
	"github.com/zephyrtronium/prask/internal/sched"
	"github.com/zephyrtronium/prask/internal/value"
)

// Runtime is the process-wide assembly of every core component (spec.md
// §9 "Global mutable state": "interned-symbol table, module table, and
// the collector... explicit Runtime value passed into every helper").
type Runtime struct {
	Config config.Config
	Log    diag.Logger

	Shared    *heap.SharedHeap
	Collector *gc.Collector
	Scheduler *sched.Scheduler
	Globals   *jit.Globals
	Compiler  *jit.Compiler
	Modules   *Modules

	gcDriver *gcDriver

	// mu guards fibers and nextID. go-deadlock in place of sync.Mutex
	// (SPEC_FULL.md's DOMAIN STACK entry for sasha-s/go-deadlock):
	// runtime is the one lock a spawn-heavy program takes most often
	// (every NewFiber/forgetFiber/liveFibers call), so it is the most
	// valuable place in the tree to get deadlock-cycle detection for
	// free in debug builds.
	mu     deadlock.Mutex
	fibers map[uint64]*fiber.Fiber
	nextID uint64
}

// New assembles a Runtime from cfg, constructing every component in
// dependency order and wiring the FiberBuiltins registry (channel send/
// recv, spawn, sleep) that internal/jit's compiler consults once
// Compile begins.
func New(cfg config.Config) *Runtime {
	diag.SetVerbosity(cfg.LogLevel)
	log := diag.For(diag.SubsystemRuntime)

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	shared := heap.NewSharedHeap()
	coll := gc.NewCollector(shared, diag.For(diag.SubsystemGC), cfg.SharedTriggerBytes, cfg.SharedCycleTimeout)
	scheduler := sched.New(workers, coll, diag.For(diag.SubsystemSched))
	globals := jit.NewGlobals()
	compiler := jit.NewCompiler(globals)
	modules := NewModules(compiler)

	r := &Runtime{
		Config:    cfg,
		Log:       log,
		Shared:    shared,
		Collector: coll,
		Scheduler: scheduler,
		Globals:   globals,
		Compiler:  compiler,
		Modules:   modules,
		fibers:    make(map[uint64]*fiber.Fiber),
	}
	r.gcDriver = newGCDriver(coll, diag.For(diag.SubsystemGC), cfg.MarkWorkers, r.liveFibers)
	modules.Runner = r.runToCompletion

	registerDateBuiltins()
	r.registerFiberBuiltins()

	return r
}

// NewFiber creates and registers a fiber bound to this Runtime's
// collector and shared heap (spec.md §4.4).
func (r *Runtime) NewFiber() *fiber.Fiber {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	f := fiber.New(id, r.Collector, r.Shared, uint32(r.Config.NurseryTriggerBytes), uint32(r.Config.SafepointInterval))

	r.mu.Lock()
	r.fibers[id] = f
	r.mu.Unlock()
	return f
}

func (r *Runtime) forgetFiber(f *fiber.Fiber) {
	r.mu.Lock()
	delete(r.fibers, f.ID)
	r.mu.Unlock()
}

func (r *Runtime) liveFibers() []*fiber.Fiber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fiber.Fiber, 0, len(r.fibers))
	for _, f := range r.fibers {
		out = append(out, f)
	}
	return out
}

// runToCompletion runs body on a fresh fiber synchronously (used for a
// module's own top-level statements, spec.md §6 "import": a dependency
// module must finish running before the module that imports it does).
// Scheduler deadlock/fairness machinery is not exercised here since a
// module body never blocks on a channel or sleep; only user-spawned
// fibers (FiberBuiltins' "spawn") run through the scheduler's queue.
func (r *Runtime) runToCompletion(body jit.Closure) error {
	f := r.NewFiber()
	defer r.forgetFiber(f)
	result, code := body(f)
	f.Exit(result, nil)
	return r.handleTopLevelResult(f, result, code)
}

// handleTopLevelResult implements spec.md §7's "User-visible failure":
// if an unhandled error reaches the top frame of a fiber, the runtime
// prints the error's representation and terminates the fiber.
func (r *Runtime) handleTopLevelResult(f *fiber.Fiber, result value.Slot, code dispatch.Code) error {
	rerr, ok := AsRuntimeError(result)
	if !ok {
		return nil
	}
	_ = code // any code reaching here ends the fiber; the error value itself is what matters
	r.Log.Error(fmt.Sprintf("fiber %d: unhandled error: %s", f.ID, rerr.Error()))
	return rerr
}

// RunMain loads and runs path as the program's main module (spec.md §6
// "CLI surface": "invoked as runtime <path-to-main-script>"), driving
// the scheduler and GC poll loop for the duration. Exit status mirrors
// spec.md §6: nil on normal completion, non-nil on an unhandled error
// from the main fiber.
func (r *Runtime) RunMain(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Scheduler.Run(ctx) })
	g.Go(func() error { return r.gcDriver.run(ctx) })

	runErr := make(chan error, 1)
	g.Go(func() error {
		defer cancel()
		_, err := r.Modules.Load(path)
		runErr <- err
		return nil
	})

	select {
	case err := <-runErr:
		cancel()
		r.Scheduler.Close()
		_ = g.Wait()
		return err
	case <-ctx.Done():
		r.Scheduler.Close()
		_ = g.Wait()
		return ctx.Err()
	}
}

// Spawn starts a new fiber running body, scheduled cooperatively
// alongside every other live fiber (spec.md §4.4 "spawn"). It returns
// immediately; the caller observes completion only by a mechanism of
// its own (e.g. a channel passed into body's closure environment via an
// upvalue).
func (r *Runtime) Spawn(body jit.Closure) *fiber.Fiber {
	f := r.NewFiber()
	r.Scheduler.Submit(func() {
		defer r.forgetFiber(f)
		result, code := body(f)
		f.Exit(result, nil)
		if err := r.handleTopLevelResult(f, result, code); err != nil {
			r.Log.Error(fmt.Sprintf("spawned fiber %d exited with error: %v", f.ID, err))
		}
	})
	return f
}

// sleepDuration is the minimum granularity the "sleep" builtin accepts,
// mirroring the end-to-end fairness scenario's 10ms sleeps (spec.md §8
// scenario 3).
const sleepDuration = time.Millisecond
