package runtime

import (
	"context"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/gc"
)

// gcDriver periodically checks every live fiber's nursery against its
// collection threshold (Nursery.OverThreshold) and the shared heap
// against its cycle trigger (spec.md §4.3 step 1), running the
// corresponding collection synchronously when due. Grounded on the
// teacher's collector.go, which instead delegates entirely to Go's own
// GC; here the driver owns the polling loop the spec's own algorithm
// needs, since prask's values are not plain Go heap objects.
type gcDriver struct {
	coll       *gc.Collector
	log        diag.Logger
	markers    int
	fibers     func() []*fiber.Fiber
	printer    *message.Printer
	pollPeriod time.Duration
}

func newGCDriver(coll *gc.Collector, log diag.Logger, markWorkers int, fibers func() []*fiber.Fiber) *gcDriver {
	return &gcDriver{
		coll:       coll,
		log:        log,
		markers:    markWorkers,
		fibers:     fibers,
		printer:    message.NewPrinter(language.English),
		pollPeriod: 10 * time.Millisecond,
	}
}

// run drives the poll loop until ctx is canceled (Runtime.RunMain
// starts this alongside the scheduler's own worker pool).
func (d *gcDriver) run(ctx context.Context) error {
	t := time.NewTicker(d.pollPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			d.tick()
		}
	}
}

func (d *gcDriver) tick() {
	for _, f := range d.fibers() {
		if f.Nursery().OverThreshold() {
			d.coll.NurseryCollect(f)
		}
	}
	if d.coll.ShouldTriggerShared() {
		before := d.coll.Shared.DeltaAllocated.Load()
		d.coll.RunSharedCycle(d.markers)
		d.log.Info(d.printer.Sprintf("gc: shared cycle reclaimed up to %d bytes allocated since last cycle", before))
	}
}
