package live

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/dispatch"
)

type watcher[T any] struct {
	fn     func(State[T])
	active atomic.Bool
}

// Subscription mirrors one target into a State.
//
// Retarget and Close may be called from any goroutine. State changes are
// applied on the dispatch loop; Watch observers run there too.
type Subscription[T any] struct {
	scope  *Scope
	id     uint64
	kind   targetKind
	decode func(push) (T, error)

	state atomic.Pointer[State[T]]

	mu       sync.Mutex
	target   Target
	key      string
	keyValid bool
	gen      uint64
	feed     *feed
	att      *attachment
	closed   bool
	watchers []*watcher[T]
}

func newSubscription[T any](s *Scope, kind targetKind, decode func(push) (T, error), t Target) *Subscription[T] {
	sub := &Subscription[T]{scope: s, kind: kind, decode: decode}
	sub.state.Store(&State[T]{})

	id, ok := s.register(sub.Close)
	if !ok {
		sub.closed = true
		sub.target = t
		sub.state.Store(&State[T]{Err: newListenError(t.operation(), t.Path(), ErrScopeClosed)})
		return sub
	}
	sub.id = id
	sub.Retarget(t)
	return sub
}

// State returns the current state.
func (s *Subscription[T]) State() State[T] {
	return *s.state.Load()
}

// Target returns the current target.
func (s *Subscription[T]) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// NoTarget reports whether the subscription currently has no target.
func (s *Subscription[T]) NoTarget() bool {
	return s.Target().NoTarget()
}

// Generation returns how many times the subscription has been (re)targeted.
func (s *Subscription[T]) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Retarget points the subscription at t. When t has the same key as the
// current target nothing happens. Otherwise the old listener is released,
// pending pushes for it are discarded, the state resets to loading and a
// listener for t is acquired.
func (s *Subscription[T]) Retarget(t Target) {
	key, keyErr := t.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.gen > 0 && keyErr == nil && s.keyValid && key == s.key && t.kind == s.target.kind {
		s.mu.Unlock()
		return
	}

	s.gen++
	gen := s.gen
	oldFeed, oldAtt := s.feed, s.att
	s.feed, s.att = nil, nil
	s.target = t
	s.key = key
	s.keyValid = keyErr == nil
	initial, listen := s.initialState(t, keyErr)
	s.state.Store(initial)
	s.mu.Unlock()

	if oldFeed != nil {
		s.scope.release(oldFeed, oldAtt)
	}
	if listen {
		s.listen(t, key, gen)
	}

	s.scope.loop.Post(dispatch.Event{
		Type:   dispatch.EventRetarget,
		Target: t.String(),
		Apply: func(int64) {
			if st, ok := s.current(gen); ok {
				s.notify(st)
			}
		},
	})
}

// initialState returns the state for a fresh target and whether a listener
// should be acquired for it.
func (s *Subscription[T]) initialState(t Target, keyErr error) (*State[T], bool) {
	switch {
	case t.NoTarget():
		return &State[T]{}, false
	case t.kind != s.kind:
		err := backend.Errorf(backend.CodeInvalidArgument, string(t.operation()), t.Path(),
			"%s subscription cannot listen to %s", kindName(s.kind), t)
		return &State[T]{Err: newListenError(t.operation(), t.Path(), err)}, false
	case keyErr != nil:
		err := &backend.Error{Code: backend.CodeInvalidArgument, Op: string(t.operation()), Path: t.Path(), Err: keyErr}
		return &State[T]{Err: newListenError(t.operation(), t.Path(), err)}, false
	default:
		return &State[T]{IsLoading: true}, true
	}
}

func (s *Subscription[T]) listen(t Target, key string, gen uint64) {
	f, err := s.scope.acquire(t, key)
	if err != nil {
		slog.Debug("listen failed", "target", t.String(), "error", err)
		s.mu.Lock()
		if !s.closed && s.gen == gen {
			s.state.Store(&State[T]{Err: newListenError(t.operation(), t.Path(), err)})
		}
		s.mu.Unlock()
		return
	}

	a := &attachment{deliver: func(p push, seq int64) { s.apply(gen, p, seq) }}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		s.scope.release(f, a)
		return
	}
	s.feed, s.att = f, a
	s.mu.Unlock()

	f.attach(a)
}

// apply runs on the loop.
func (s *Subscription[T]) apply(gen uint64, p push, seq int64) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		slog.Debug("stale push dropped", "generation", gen, "seq", seq)
		return
	}
	prev := s.state.Load()
	op := s.target.operation()
	path := s.target.Path()

	next := &State[T]{Seq: seq}
	if p.err != nil {
		next.Data = prev.Data
		next.Err = newListenError(op, path, p.err)
	} else if data, err := s.decode(p); err != nil {
		next.Data = prev.Data
		next.Err = newListenError(op, path, err)
	} else {
		next.Data = data
	}
	s.state.Store(next)
	s.mu.Unlock()

	s.notify(*next)
}

func (s *Subscription[T]) current(gen uint64) (State[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return State[T]{}, false
	}
	return *s.state.Load(), true
}

// Watch registers fn to observe state changes. fn runs on the dispatch
// loop. The returned function removes the observer.
func (s *Subscription[T]) Watch(fn func(State[T])) (unwatch func()) {
	w := &watcher[T]{fn: fn}
	w.active.Store(true)

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.active.Store(false)
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, x := range s.watchers {
				if x == w {
					s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Subscription[T]) notify(st State[T]) {
	s.mu.Lock()
	ws := make([]*watcher[T], len(s.watchers))
	copy(ws, s.watchers)
	s.mu.Unlock()

	for _, w := range ws {
		if w.active.Load() {
			w.fn(st)
		}
	}
}

// Close stops the listener and detaches the subscription from its scope.
// Pushes that arrive afterwards are dropped. Close is idempotent.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	f, a := s.feed, s.att
	s.feed, s.att = nil, nil
	s.watchers = nil
	s.mu.Unlock()

	if f != nil {
		s.scope.release(f, a)
	}
	s.scope.forget(s.id)
}

// Closed reports whether Close has been called.
func (s *Subscription[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func kindName(k targetKind) string {
	if k == kindQuery {
		return "collection"
	}
	return "document"
}
