package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zephyrtronium/prask/internal/config"
	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/value"
)

func newTestRuntime() *Runtime {
	cfg := config.Default()
	cfg.SharedTriggerBytes = 1 << 30
	cfg.SharedCycleTimeout = time.Hour
	return New(cfg)
}

// newRunningContext starts the scheduler and GC driver goroutines the way
// RunMain does, without going through module loading, and returns a
// cancel func the test must call to stop them.
func newRunningContext(r *Runtime) (cancel func()) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	go r.Scheduler.Run(ctx)
	go r.gcDriver.run(ctx)
	return cancelCtx
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration, msg string) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal(msg)
	}
}

// TestSpawnRunsManyFibersConcurrently exercises the full assembly (spec.md
// §2's Runtime value): Spawn hands each body to the Scheduler's worker
// pool, and every fiber must run to completion and record its result,
// with no id lost or seen twice, regardless of scheduling order.
func TestSpawnRunsManyFibersConcurrently(t *testing.T) {
	r := newTestRuntime()
	cancel := newRunningContext(r)
	defer cancel()

	const n = 50
	var mu sync.Mutex
	seen := make(map[int]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		r.Spawn(func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
			wg.Done()
			return value.Int(int64(i)), dispatch.Continue
		})
	}

	waitOrFail(t, &wg, 5*time.Second, "spawned fibers did not all complete")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("saw %d distinct fiber ids, want %d", len(seen), n)
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			t.Fatalf("fiber id %d never ran", i)
		}
	}
}

// TestSpawnedFiberChannelHandoff wires Spawn together with Channel: one
// spawned fiber sends its id, another receives it, exercising the same
// fiber/scheduler/channel integration a real "spawn" builtin would drive
// (spec.md §4.4's suspension points), rather than channel.go in
// isolation as channel_test.go does with bare goroutines.
func TestSpawnedFiberChannelHandoff(t *testing.T) {
	r := newTestRuntime()
	cancel := newRunningContext(r)
	defer cancel()

	ch := NewChannel()
	result := make(chan int64, 1)

	r.Spawn(func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		ch.Send(f, r.Collector, value.Int(99))
		return value.Undef, dispatch.Continue
	})
	r.Spawn(func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		v := ch.Recv(f, r.Collector)
		result <- v.Int64()
		return value.Undef, dispatch.Continue
	})

	select {
	case got := <-result:
		if got != 99 {
			t.Fatalf("handoff value = %d, want 99", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("spawned sender/receiver pair never completed the handoff")
	}
}

// TestRuntimeUnhandledErrorPropagates checks handleTopLevelResult's
// contract (spec.md §7): a fiber body returning a runtime error must
// have that error observable, not silently swallowed.
func TestRuntimeUnhandledErrorPropagates(t *testing.T) {
	r := newTestRuntime()
	f := r.NewFiber()
	defer r.forgetFiber(f)

	result := ErrorValue(structuralf("boom"))
	f.Exit(result, nil)
	err := r.handleTopLevelResult(f, result, dispatch.ExitException)
	if err == nil {
		t.Fatal("handleTopLevelResult returned nil for an unhandled runtime error")
	}
}

// TestRuntimeNoErrorOnOrdinaryResult checks the converse: an ordinary,
// non-error result must not be mistaken for an unhandled failure.
func TestRuntimeNoErrorOnOrdinaryResult(t *testing.T) {
	r := newTestRuntime()
	f := r.NewFiber()
	defer r.forgetFiber(f)

	result := value.Int(7)
	f.Exit(result, nil)
	if err := r.handleTopLevelResult(f, result, dispatch.Continue); err != nil {
		t.Fatalf("handleTopLevelResult returned an error for an ordinary result: %v", err)
	}
}
