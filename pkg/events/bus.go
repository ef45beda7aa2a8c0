package events

import (
	"log/slog"
	"sync"
	"time"
)

// fullBufferWait is how long the producer blocks on a full buffer before
// attempting to coalesce a progress event. Lifecycle events block for as
// long as it takes — they are never dropped.
const fullBufferWait = 100 * time.Millisecond

// Bus is the bounded FIFO event channel of one process.
//
// Single producer (the executor goroutine), at most one active consumer
// (the current subscriber). Events are assigned strictly increasing
// sequence numbers on emission. When the buffer is full the producer
// blocks; step_progress events additionally coalesce onto the most recent
// unconsumed progress entry for the same step, so a slow consumer sees the
// latest progress without ever losing lifecycle events.
//
// On consumer detach the buffer keeps accumulating up to capacity; a new
// consumer resumes from the earliest still-buffered event. Already
// delivered events are never replayed.
type Bus struct {
	capacity int

	mu      sync.Mutex
	buf     []Envelope
	nextSeq uint64

	// spaceCh is signalled (capacity 1) each time the pump pops an event.
	// Single-producer: only one goroutine ever waits on it.
	spaceCh chan struct{}

	// closeCh unblocks a producer stuck waiting for space during shutdown.
	closeCh   chan struct{}
	closeOnce sync.Once

	active *consumer

	// last is the most recently attached consumer. Attach joins its pump
	// before starting the next one, so an in-flight event pushed back on
	// detach is re-buffered before the new pump's first pop. At most one
	// pump goroutine is ever alive.
	last *consumer

	// doneQueued is set once the done sentinel is buffered; later emits
	// are dropped (a step yielding after cancel must not reopen the stream).
	doneQueued bool
	closed     bool
}

type consumer struct {
	ch     chan Envelope
	stopCh chan struct{}
	// pumpDone closes when this consumer's pump goroutine has exited and
	// any in-flight event has been pushed back.
	pumpDone chan struct{}
	once     sync.Once
}

func (c *consumer) stop() { c.once.Do(func() { close(c.stopCh) }) }

// NewBus creates a bus with the given buffer capacity.
func NewBus(capacity int) *Bus {
	return &Bus{
		capacity: capacity,
		buf:      make([]Envelope, 0, capacity),
		spaceCh:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
}

// Emit enqueues a lifecycle event. Blocks while the buffer is full; returns
// false only if the bus is closed or already terminated.
func (b *Bus) Emit(eventType string, content any) bool {
	return b.emit(eventType, content, false, 0)
}

// EmitProgress enqueues a step_progress event. On a full buffer it waits
// briefly, then overwrites the most recent unconsumed progress for the same
// step instead of growing the buffer.
func (b *Bus) EmitProgress(content StepProgressPayload) bool {
	return b.emit(TypeStepProgress, content, true, content.StepNumber)
}

func (b *Bus) emit(eventType string, content any, progress bool, stepNumber int) bool {
	b.mu.Lock()
	if b.closed || b.doneQueued {
		b.mu.Unlock()
		return false
	}

	for len(b.buf) >= b.capacity {
		if progress {
			b.mu.Unlock()
			select {
			case <-b.spaceCh:
			case <-time.After(fullBufferWait):
				// Still full — coalesce onto the pending progress entry.
				b.mu.Lock()
				if b.coalesceLocked(content.(StepProgressPayload), stepNumber) {
					b.mu.Unlock()
					return true
				}
				// No pending progress for this step; fall through and
				// block like a lifecycle event.
				progress = false
				b.mu.Unlock()
			case <-b.closeCh:
				return false
			}
			b.mu.Lock()
		} else {
			b.mu.Unlock()
			select {
			case <-b.spaceCh:
			case <-b.closeCh:
				return false
			}
			b.mu.Lock()
		}
		if b.closed {
			b.mu.Unlock()
			return false
		}
	}

	b.nextSeq++
	b.buf = append(b.buf, Envelope{Type: eventType, Seq: b.nextSeq, Content: content})
	if eventType == TypeDone {
		b.doneQueued = true
	}
	c := b.active
	b.mu.Unlock()

	if c != nil {
		b.wake()
	}
	return true
}

// coalesceLocked overwrites the most recent unconsumed progress event for
// stepNumber. The entry keeps its position and sequence number; only the
// content advances. Returns false if no such entry is buffered.
func (b *Bus) coalesceLocked(content StepProgressPayload, stepNumber int) bool {
	for i := len(b.buf) - 1; i >= 0; i-- {
		if b.buf[i].Type != TypeStepProgress {
			continue
		}
		if p, ok := b.buf[i].Content.(StepProgressPayload); ok && p.StepNumber == stepNumber {
			b.buf[i].Content = content
			return true
		}
	}
	return false
}

// Attach registers the sole active consumer, detaching (and closing) any
// previous one. Delivery starts from the earliest still-buffered event.
// The returned channel closes after the done sentinel or on detach.
func (b *Bus) Attach() (<-chan Envelope, func()) {
	c := &consumer{
		ch:       make(chan Envelope),
		stopCh:   make(chan struct{}),
		pumpDone: make(chan struct{}),
	}

	b.mu.Lock()
	prev := b.last
	b.last = c
	b.active = c
	b.mu.Unlock()

	if prev != nil {
		prev.stop()
		// Join the outgoing pump: its push-back of any popped-but-undelivered
		// event must land before the new pump's first pop, or that event
		// would sit buffered behind later sequence numbers.
		<-prev.pumpDone
	}

	go b.pump(c)
	return c.ch, func() { b.detach(c) }
}

// detach stops the given consumer if it is still the active one.
func (b *Bus) detach(c *consumer) {
	b.mu.Lock()
	if b.active == c {
		b.active = nil
	}
	b.mu.Unlock()
	c.stop()
}

// Close tears the bus down: unblocks any waiting producer, stops the active
// consumer, and discards buffered events. Used during engine shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	c := b.active
	b.active = nil
	b.buf = nil
	b.mu.Unlock()

	b.closeOnce.Do(func() { close(b.closeCh) })
	if c != nil {
		c.stop()
	}
}

// Pending returns the number of buffered, undelivered events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// wake nudges the pump after an enqueue. Best-effort: the pump re-checks the
// buffer on every iteration, so a missed wake only delays delivery until the
// next enqueue or stop.
func (b *Bus) wake() {
	select {
	case b.spaceCh <- struct{}{}:
	default:
	}
}

// pump moves buffered events to the consumer channel, one at a time, until
// the consumer is stopped or the done sentinel has been delivered. An event
// popped but not yet delivered when the consumer detaches is pushed back to
// the buffer head so the next consumer resumes without a gap.
func (b *Bus) pump(c *consumer) {
	defer close(c.pumpDone)
	defer close(c.ch)

	for {
		b.mu.Lock()
		if b.closed || b.active != c {
			b.mu.Unlock()
			return
		}
		if len(b.buf) == 0 {
			b.mu.Unlock()
			select {
			case <-b.spaceCh:
				continue
			case <-c.stopCh:
				return
			case <-b.closeCh:
				return
			}
		}
		env := b.buf[0]
		b.buf = b.buf[1:]
		b.mu.Unlock()

		// Free a producer slot before the (possibly slow) delivery.
		select {
		case b.spaceCh <- struct{}{}:
		default:
		}

		select {
		case c.ch <- env:
			if env.Type == TypeDone {
				b.mu.Lock()
				b.closed = true
				if b.active == c {
					b.active = nil
				}
				b.mu.Unlock()
				return
			}
		case <-c.stopCh:
			b.pushBack(env)
			return
		case <-b.closeCh:
			return
		}
	}
}

// pushBack restores an undelivered event to the buffer head and wakes the
// active pump, if any, so the event is not stranded until the next emit.
func (b *Bus) pushBack(env Envelope) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) >= b.capacity {
		// Capacity was re-filled while the event was in flight. Exceed
		// capacity by one rather than lose a delivered-once event.
		slog.Debug("Event bus over capacity on push-back", "seq", env.Seq)
	}
	b.buf = append([]Envelope{env}, b.buf...)
	b.mu.Unlock()

	b.wake()
}
