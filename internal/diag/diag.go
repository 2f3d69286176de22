// Package diag wires structured logging for every prask subsystem
// through github.com/tliron/commonlog, the logging facade the
// chazu-maggie pack repo uses for its LSP server (see
// server/lsp.go's "github.com/tliron/commonlog" / "...commonlog/simple"
// import pair). prask has no LSP surface, but the same facade-plus-
// pluggable-backend shape serves every subsystem here: gc, sched, jit,
// dispatch, and runtime each get their own named Logger instead of
// writing to the unstructured log package directly.
package diag

import (
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple" // registers the default backend
)

// Logger is the per-subsystem logging handle passed into collector,
// scheduler, emitter, and runtime constructors. It is commonlog's own
// Logger interface, aliased so callers never need to import commonlog
// directly.
type Logger = commonlog.Logger

// Subsystem names, used as commonlog logger keys so log output can be
// filtered per component (commonlog supports dotted hierarchical
// names, e.g. "prask.gc.shared").
const (
	SubsystemGC       = "prask.gc"
	SubsystemNursery  = "prask.gc.nursery"
	SubsystemSched    = "prask.sched"
	SubsystemFiber    = "prask.fiber"
	SubsystemJIT      = "prask.jit"
	SubsystemDispatch = "prask.dispatch"
	SubsystemRuntime  = "prask.runtime"
)

// For returns the named subsystem's logger. Safe to call repeatedly;
// commonlog caches loggers by name internally.
func For(subsystem string) Logger {
	return commonlog.GetLogger(subsystem)
}

// SetVerbosity maps a simple 0 (quiet) .. 2 (trace) verbosity knob, as
// read from internal/config's LogLevel (runtime.New passes it in), onto
// commonlog's MaxLevel (spec.md's diagnostics are otherwise silent by
// default). There is no command-line flag for it.
func SetVerbosity(level int) {
	switch {
	case level <= 0:
		commonlog.SetMaxLevel(commonlog.Warning)
	case level == 1:
		commonlog.SetMaxLevel(commonlog.Info)
	default:
		commonlog.SetMaxLevel(commonlog.Debug)
	}
}
