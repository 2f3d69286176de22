package runtime

import (
	"time"

	"gitlab.com/variadico/lctime"

	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/jit"
	"github.com/zephyrtronium/prask/internal/value"
)

// Date and Duration are external builtin-collaborator value types
// (spec.md §1: "the built-in value types (strings, maps, vectors,
// channels, atoms, HTTP server)... out of scope... only [the]
// interaction contract is specified"). Grounded on the teacher's
// Date/Duration pairing (zephyrtronium-iolang's date.go / duration.go,
// coreext/date, coreext/duration): formatting goes through
// lctime.Strftime exactly as the teacher's DateAsString does, since
// that is the one part of the teacher's date handling with a verified
// call signature in this pack. darkerbit/datesaurus is in the
// teacher's own go.mod but unused by the teacher itself and unreferenced
// anywhere else in the retrieval pack, so no call site here could be
// grounded on a verified signature; it is left unwired rather than
// guessed at (DESIGN.md records this explicitly).
var (
	DateTypeDesc = &value.TypeDesc{
		Name: "date",
		ReprString: func(o *value.Object) string {
			t, _ := o.Payload.(time.Time)
			return lctime.Strftime("%Y-%m-%d %H:%M:%S", t)
		},
	}
	DurationTypeDesc = &value.TypeDesc{
		Name: "duration",
		ReprString: func(o *value.Object) string {
			d, _ := o.Payload.(time.Duration)
			return d.String()
		},
	}
)

func dateValue(t time.Time) value.Slot {
	obj := value.NewObject(DateTypeDesc, 0)
	obj.Payload = t
	return value.HeapRef(obj)
}

func durationValue(d time.Duration) value.Slot {
	obj := value.NewObject(DurationTypeDesc, 0)
	obj.Payload = d
	return value.HeapRef(obj)
}

func asDate(s value.Slot) (time.Time, bool) {
	if !s.IsHeapRef() {
		return time.Time{}, false
	}
	t, ok := s.HeapObject().Payload.(time.Time)
	return t, ok
}

// registerDateBuiltins installs "date_now", "date_format", and
// "date_sub" into jit.Builtins (spec.md §6 "builtin"), the same
// registry internal/jit/builtins.go seeds with not/and/or, since none
// of these need the calling fiber.
func registerDateBuiltins() {
	jit.Builtins["date_now"] = func(args []value.Slot) (value.Slot, dispatch.Code) {
		return dateValue(time.Now()), dispatch.Continue
	}
	jit.Builtins["date_format"] = func(args []value.Slot) (value.Slot, dispatch.Code) {
		if len(args) != 2 {
			return value.Undef, dispatch.ReturnFromFunction
		}
		t, ok := asDate(args[0])
		if !ok {
			return value.Undef, dispatch.ReturnFromFunction
		}
		format, ok := args[1].HeapObject().Payload.(string)
		if !ok {
			return value.Undef, dispatch.ReturnFromFunction
		}
		s := lctime.Strftime(format, t)
		obj := value.NewObject(jit.StringTypeDesc, uint32(len(s)))
		obj.Payload = s
		return value.HeapRef(obj), dispatch.Continue
	}
	jit.Builtins["date_sub"] = func(args []value.Slot) (value.Slot, dispatch.Code) {
		if len(args) != 2 {
			return value.Undef, dispatch.ReturnFromFunction
		}
		a, aok := asDate(args[0])
		b, bok := asDate(args[1])
		if !aok || !bok {
			return value.Undef, dispatch.ReturnFromFunction
		}
		return durationValue(a.Sub(b)), dispatch.Continue
	}
}
