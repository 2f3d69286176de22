package runtime

import (
	"sync"

	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/gc"
	"github.com/zephyrtronium/prask/internal/value"
)

// Channel is the built-in channel value's interaction contract (spec.md
// §1 lists channels among the out-of-core-scope built-in value types,
// "where these interact with the core... only that interaction contract
// is specified"; §4.4's suspension-point list names "channel send/recv
// with no counterparty" as a blocking built-in). Sends and receives pair
// FIFO (spec.md §4.4 "Ordering guarantees": "a send with a waiting
// receiver hands off directly and marks both ready in that order").
//
// Grounded on the teacher's Coroutine control channel pairing
// (zephyrtronium-iolang's coroutine.go), generalized from a single
// control signal to a general-purpose FIFO value queue with waiter
// lists on both ends.
type Channel struct {
	mu        sync.Mutex
	receivers []chan value.Slot
	senders   []pendingSend
}

type pendingSend struct {
	v    value.Slot
	done chan struct{}
}

// NewChannel creates an empty, unbuffered channel.
func NewChannel() *Channel {
	return &Channel{}
}

// Send delivers v, blocking the calling fiber until a receiver takes it.
// The fiber is moved into the collector's sleeping partition for the
// duration of the wait (spec.md §4.3 step 5, §8's color-list invariant:
// "every fiber not bound to a worker" is in exactly one sleeping color),
// since this goroutine's worker thread is unavailable to run other
// fibers while parked here (see DESIGN.md's note on the closure-chain
// JIT having no continuation capture to suspend more cheaply).
func (c *Channel) Send(f *fiber.Fiber, coll *gc.Collector, v value.Slot) {
	c.mu.Lock()
	if len(c.receivers) > 0 {
		r := c.receivers[0]
		c.receivers = c.receivers[1:]
		c.mu.Unlock()
		r <- v
		return
	}
	done := make(chan struct{})
	c.senders = append(c.senders, pendingSend{v: v, done: done})
	c.mu.Unlock()
	coll.Sleep(f)
	<-done
	coll.Wake(f)
}

// Recv takes the next value, blocking the calling fiber until a sender
// hands one off, under the same sleeping-partition protocol as Send.
func (c *Channel) Recv(f *fiber.Fiber, coll *gc.Collector) value.Slot {
	c.mu.Lock()
	if len(c.senders) > 0 {
		s := c.senders[0]
		c.senders = c.senders[1:]
		c.mu.Unlock()
		close(s.done)
		return s.v
	}
	ch := make(chan value.Slot, 1)
	c.receivers = append(c.receivers, ch)
	c.mu.Unlock()
	coll.Sleep(f)
	result := <-ch
	coll.Wake(f)
	return result
}

// TryRecv attempts a non-blocking receive against a pending sender.
func (c *Channel) TryRecv() (value.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.senders) > 0 {
		s := c.senders[0]
		c.senders = c.senders[1:]
		close(s.done)
		return s.v, true
	}
	return value.Undef, false
}

// ChannelTypeDesc is the heap TypeDesc for a channel value, mirroring
// internal/jit/types.go's per-kind descriptor pattern.
var ChannelTypeDesc = &value.TypeDesc{
	Name: "channel",
	ReprString: func(o *value.Object) string {
		return "channel"
	},
}

// ChannelValue wraps a *Channel as a heap Slot.
func ChannelValue(ch *Channel) value.Slot {
	obj := value.NewObject(ChannelTypeDesc, 0)
	obj.Payload = ch
	return value.HeapRef(obj)
}

// channelFromSlot extracts a *Channel from a value previously produced
// by ChannelValue, or nil if s does not hold one.
func channelFromSlot(s value.Slot) *Channel {
	if !s.IsHeapRef() {
		return nil
	}
	ch, _ := s.HeapObject().Payload.(*Channel)
	return ch
}
