package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// EventType labels events for logging and tracing.
type EventType int

const (
	// EventPush applies a listener push to subscription state.
	EventPush EventType = iota + 1
	// EventListenError records a listener failure in subscription state.
	EventListenError
	// EventMutationFailed broadcasts a failed write through the emitter.
	EventMutationFailed
	// EventRetarget announces a subscription reset to its observers.
	EventRetarget
	// EventBarrier marks a point in the queue (see Flush).
	EventBarrier
)

func (t EventType) String() string {
	switch t {
	case EventPush:
		return "push"
	case EventListenError:
		return "listen_error"
	case EventMutationFailed:
		return "mutation_failed"
	case EventRetarget:
		return "retarget"
	case EventBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// Event is a unit of work for the loop.
type Event struct {
	Type EventType
	// Target names what the event concerns (a path or descriptor key).
	Target string
	// Seq is stamped by Post.
	Seq   int64
	Apply func(seq int64)
}

// Loop is the single-writer event loop.
//
// Thread-safety model:
//   - Post, Len, Flush: safe from any goroutine
//   - Run: at most one goroutine
//   - Drain: any goroutine, serialized with Run through the processing lock;
//     must not be called from inside an Apply
type Loop struct {
	queue *eventQueue
	clock *Clock

	// process serializes Apply calls between Run and Drain.
	process sync.Mutex
}

// New creates a loop with a fresh clock.
func New() *Loop {
	clock := NewClock()
	return &Loop{
		queue: newEventQueue(clock),
		clock: clock,
	}
}

// Post enqueues ev. Returns false after Stop.
func (l *Loop) Post(ev Event) bool {
	if ev.Apply == nil {
		return false
	}
	return l.queue.Enqueue(ev)
}

// Run processes events until ctx is cancelled or Stop is called. Events
// still queued at Stop are processed before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	slog.Debug("dispatch loop starting")

	for {
		if l.step() {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("dispatch loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			if l.queue.Closed() && l.queue.Len() == 0 {
				slog.Debug("dispatch loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain processes every queued event, including events posted by the
// events it processes, and returns how many were applied.
func (l *Loop) Drain() int {
	n := 0
	for l.step() {
		n++
	}
	return n
}

// Flush waits until every event posted before the call has been applied.
// It requires Run to be active in another goroutine.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !l.Post(Event{Type: EventBarrier, Apply: func(int64) { close(done) }}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue. Further Posts are rejected.
func (l *Loop) Stop() {
	l.queue.Close()
}

// Len returns the number of queued events.
func (l *Loop) Len() int {
	return l.queue.Len()
}

// Clock exposes the loop's logical clock.
func (l *Loop) Clock() *Clock {
	return l.clock
}

// step applies one event. Returns false if the queue was empty.
func (l *Loop) step() bool {
	l.process.Lock()
	defer l.process.Unlock()

	ev, ok := l.queue.TryDequeue()
	if !ok {
		return false
	}
	l.apply(ev)
	return true
}

func (l *Loop) apply(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch event panicked",
				"type", ev.Type.String(),
				"target", ev.Target,
				"seq", ev.Seq,
				"panic", r,
			)
		}
	}()
	ev.Apply(ev.Seq)
}
