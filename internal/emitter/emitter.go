package emitter

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives emitted errors.
type Handler func(err *PermissionError)

type registration struct {
	id     uint64
	fn     Handler
	active atomic.Bool
}

// Emitter is a synchronous fan-out of *PermissionError values.
// The zero value is not usable; call New.
type Emitter struct {
	mu     sync.Mutex
	regs   []*registration
	nextID uint64
	closed bool

	emitted atomic.Int64
}

// New creates an empty emitter.
func New() *Emitter {
	return &Emitter{}
}

// On registers h and returns a function that removes exactly this
// registration. Registering on a closed emitter returns a no-op remover.
func (e *Emitter) On(h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return func() {}
	}

	e.nextID++
	reg := &registration{id: e.nextID, fn: h}
	reg.active.Store(true)
	e.regs = append(e.regs, reg)

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(reg) })
	}
}

func (e *Emitter) remove(reg *registration) {
	reg.active.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.regs {
		if r.id == reg.id {
			e.regs = append(e.regs[:i:i], e.regs[i+1:]...)
			return
		}
	}
}

// Emit delivers err to every handler registered at the time of the call and
// returns how many handlers ran. A panicking handler is logged and does not
// stop delivery to the rest.
func (e *Emitter) Emit(err *PermissionError) int {
	if err == nil {
		return 0
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0
	}
	snapshot := make([]*registration, len(e.regs))
	copy(snapshot, e.regs)
	e.mu.Unlock()

	e.emitted.Add(1)

	delivered := 0
	for _, reg := range snapshot {
		if !reg.active.Load() {
			continue
		}
		e.invoke(reg, err)
		delivered++
	}

	if delivered == 0 {
		slog.Debug("permission error dropped: no handlers",
			"operation", string(err.Operation),
			"path", err.Path,
			"code", string(err.Code),
		)
	}
	return delivered
}

func (e *Emitter) invoke(reg *registration, err *PermissionError) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("permission error handler panicked",
				"handler", reg.id,
				"path", err.Path,
				"panic", r,
			)
		}
	}()
	reg.fn(err)
}

// Len returns the number of registered handlers.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.regs)
}

// Emitted returns how many errors have been emitted so far.
func (e *Emitter) Emitted() int64 {
	return e.emitted.Load()
}

// Close detaches every handler. Emit and On become no-ops.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.regs {
		r.active.Store(false)
	}
	e.regs = nil
	e.closed = true
}
