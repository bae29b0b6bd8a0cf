package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/dispatch"
)

// ErrScopeClosed is reported in the state of subscriptions created on a
// closed scope.
var ErrScopeClosed = errors.New("live: scope closed")

// push is one raw listener delivery. Exactly one of doc/docs is set for a
// successful push.
type push struct {
	doc  *backend.Document
	docs []backend.Document
	err  error
}

// Scope owns subscriptions and shares listeners between them.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	db     backend.Database
	loop   *dispatch.Loop
	stop   func() bool

	mu      sync.Mutex
	feeds   map[string]*feed
	subs    map[uint64]func()
	nextSub uint64
	closed  bool

	listens int
}

// NewScope creates a scope over db whose events are applied on loop. The
// scope closes itself when ctx is done.
func NewScope(ctx context.Context, db backend.Database, loop *dispatch.Loop) *Scope {
	ctx, cancel := context.WithCancel(ctx)
	s := &Scope{
		ctx:    ctx,
		cancel: cancel,
		db:     db,
		loop:   loop,
		feeds:  make(map[string]*feed),
		subs:   make(map[uint64]func()),
	}
	s.stop = context.AfterFunc(ctx, s.Close)
	return s
}

// Close releases every subscription of the scope and stops their
// listeners. It is idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	closers := make([]func(), 0, len(s.subs))
	for _, c := range s.subs {
		closers = append(closers, c)
	}
	s.mu.Unlock()

	for _, c := range closers {
		c()
	}

	s.mu.Lock()
	leftover := make([]*feed, 0, len(s.feeds))
	for key, f := range s.feeds {
		leftover = append(leftover, f)
		delete(s.feeds, key)
	}
	s.mu.Unlock()
	for _, f := range leftover {
		f.shutdown()
	}

	s.stop()
	s.cancel()
}

// Listeners returns how many backend listeners the scope currently holds.
func (s *Scope) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

// Listens returns how many backend listeners the scope has registered over
// its lifetime.
func (s *Scope) Listens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listens
}

func (s *Scope) register(closer func()) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	s.nextSub++
	s.subs[s.nextSub] = closer
	return s.nextSub, true
}

func (s *Scope) forget(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// acquire returns the feed for key, registering a backend listener when the
// scope has none for it yet.
func (s *Scope) acquire(t Target, key string) (*feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}
	if f, ok := s.feeds[key]; ok {
		f.refs++
		return f, nil
	}

	f := &feed{scope: s, key: key, target: t, refs: 1}
	listener, err := s.listen(t, f)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.listener = listener
	f.mu.Unlock()
	s.feeds[key] = f
	s.listens++

	slog.Debug("listener registered", "target", t.String(), "key", key)
	return f, nil
}

func (s *Scope) listen(t Target, f *feed) (backend.Listener, error) {
	if q, ok := t.Query(); ok {
		return s.db.ListenQuery(s.ctx, q, func(docs []backend.Document, err error) {
			f.post(push{docs: docs, err: err})
		})
	}
	return s.db.ListenDocument(s.ctx, t.Path(), func(doc backend.Document, err error) {
		if err != nil {
			f.post(push{err: err})
			return
		}
		f.post(push{doc: &doc})
	})
}

// release drops one reference to f; the last reference stops the listener.
func (s *Scope) release(f *feed, a *attachment) {
	f.detach(a)

	s.mu.Lock()
	f.refs--
	last := f.refs <= 0
	if last && s.feeds[f.key] == f {
		delete(s.feeds, f.key)
	}
	s.mu.Unlock()

	if last {
		f.shutdown()
	}
}

// attachment is one subscription generation attached to a feed.
type attachment struct {
	deliver func(p push, seq int64)
	// detached is guarded by feed.mu.
	detached bool
}

// feed fans one backend listener out to the subscriptions sharing it.
type feed struct {
	scope  *Scope
	key    string
	target Target
	// refs is guarded by scope.mu.
	refs int

	mu       sync.Mutex
	listener backend.Listener
	attached []*attachment
	last     *push
	stopped  bool
}

// post runs on a backend goroutine.
func (f *feed) post(p push) {
	typ := dispatch.EventPush
	if p.err != nil {
		typ = dispatch.EventListenError
	}
	f.scope.loop.Post(dispatch.Event{
		Type:   typ,
		Target: f.target.String(),
		Apply:  func(seq int64) { f.dispatch(p, seq) },
	})
}

// dispatch runs on the loop.
func (f *feed) dispatch(p push, seq int64) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		slog.Debug("late push dropped", "target", f.target.String(), "seq", seq)
		return
	}
	f.last = &p
	targets := make([]*attachment, len(f.attached))
	copy(targets, f.attached)
	f.mu.Unlock()

	for _, a := range targets {
		a.deliver(p, seq)
	}
}

// attach adds a on the loop and replays the last push to it in the same
// step, so a subscription joining a live feed does not wait for the next
// change and no queued push can be overtaken by the replay.
func (f *feed) attach(a *attachment) {
	f.scope.loop.Post(dispatch.Event{
		Type:   dispatch.EventPush,
		Target: f.target.String(),
		Apply: func(seq int64) {
			f.mu.Lock()
			if f.stopped || a.detached {
				f.mu.Unlock()
				return
			}
			f.attached = append(f.attached, a)
			last := f.last
			f.mu.Unlock()

			if last != nil {
				a.deliver(*last, seq)
			}
		},
	})
}

func (f *feed) detach(a *attachment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.detached = true
	for i, x := range f.attached {
		if x == a {
			f.attached = append(f.attached[:i:i], f.attached[i+1:]...)
			return
		}
	}
}

func (f *feed) shutdown() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.attached = nil
	listener := f.listener
	f.mu.Unlock()

	if listener != nil {
		listener.Stop()
	}
	slog.Debug("listener stopped", "target", f.target.String(), "key", f.key)
}
