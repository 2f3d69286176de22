package runtime

import (
	"time"

	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/jit"
	"github.com/zephyrtronium/prask/internal/value"
)

// registerFiberBuiltins installs the Builtin names that need the
// calling fiber itself (spec.md §4.4's blocking built-ins: channel
// send/recv, spawn, sleep) into jit.FiberBuiltins. Must run before any
// module compiles, since compileBuiltin resolves a name to its
// implementation once, at compile time.
func (r *Runtime) registerFiberBuiltins() {
	jit.FiberBuiltins["channel"] = func(f *fiber.Fiber, args []value.Slot) (value.Slot, dispatch.Code) {
		return ChannelValue(NewChannel()), dispatch.Continue
	}
	jit.FiberBuiltins["send"] = func(f *fiber.Fiber, args []value.Slot) (value.Slot, dispatch.Code) {
		if len(args) != 2 {
			return ErrorValue(ErrArgCount("send", 2, len(args))), dispatch.Continue
		}
		ch := channelFromSlot(args[0])
		if ch == nil {
			return ErrorValue(structuralf("send: first argument is not a channel")), dispatch.Continue
		}
		ch.Send(f, r.Collector, args[1])
		return value.Undef, dispatch.Continue
	}
	jit.FiberBuiltins["recv"] = func(f *fiber.Fiber, args []value.Slot) (value.Slot, dispatch.Code) {
		if len(args) != 1 {
			return ErrorValue(ErrArgCount("recv", 1, len(args))), dispatch.Continue
		}
		ch := channelFromSlot(args[0])
		if ch == nil {
			return ErrorValue(structuralf("recv: argument is not a channel")), dispatch.Continue
		}
		return ch.Recv(f, r.Collector), dispatch.Continue
	}
	jit.FiberBuiltins["spawn"] = func(f *fiber.Fiber, args []value.Slot) (value.Slot, dispatch.Code) {
		if len(args) != 1 {
			return ErrorValue(ErrArgCount("spawn", 1, len(args))), dispatch.Continue
		}
		callee := args[0]
		r.Spawn(func(child *fiber.Fiber) (value.Slot, dispatch.Code) {
			return jit.InvokeFunction(child, callee, nil)
		})
		return value.Undef, dispatch.Continue
	}
	jit.FiberBuiltins["sleep"] = func(f *fiber.Fiber, args []value.Slot) (value.Slot, dispatch.Code) {
		if len(args) != 1 {
			return ErrorValue(ErrArgCount("sleep", 1, len(args))), dispatch.Continue
		}
		ms, ok := args[0].ToIndex()
		if !ok {
			return ErrorValue(structuralf("sleep: argument is not a number")), dispatch.Continue
		}
		done := make(chan struct{})
		r.Collector.Sleep(f)
		cancel := r.Scheduler.SleepUntil(time.Now().Add(time.Duration(ms)*time.Millisecond), func() {
			close(done)
		})
		_ = cancel
		<-done
		r.Collector.Wake(f)
		return value.Undef, dispatch.Continue
	}
}
