package portal

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/carelink/internal/config"
	"github.com/roach88/carelink/internal/connection"
	"github.com/roach88/carelink/internal/dispatch"
	"github.com/roach88/carelink/internal/emitter"
	"github.com/roach88/carelink/internal/live"
	"github.com/roach88/carelink/internal/mutation"
)

var (
	// ErrNotStarted is returned by accessors called before Start succeeded.
	ErrNotStarted = errors.New("portal: runtime not started")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("portal: runtime closed")
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithManualDispatch leaves the dispatch loop to the caller, who applies
// events with Drain. Used by tests and the scenario harness.
func WithManualDispatch() Option {
	return func(r *Runtime) { r.manual = true }
}

// WithWriterOptions passes options to the mutation writer.
func WithWriterOptions(opts ...mutation.Option) Option {
	return func(r *Runtime) { r.writerOpts = append(r.writerOpts, opts...) }
}

// Runtime is the process-wide context of the data-access layer.
//
// Thread-safety: all methods are safe for concurrent use.
type Runtime struct {
	provider   *connection.Provider
	emitter    *emitter.Emitter
	loop       *dispatch.Loop
	manual     bool
	writerOpts []mutation.Option

	mu      sync.Mutex
	conn    *connection.Connection
	writer  *mutation.Writer
	started bool
	closed  bool
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New creates a runtime around provider. Nothing is initialized until
// Start.
func New(provider *connection.Provider, opts ...Option) *Runtime {
	r := &Runtime{
		provider: provider,
		emitter:  emitter.New(),
		loop:     dispatch.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open builds the runtime cfg describes and starts it.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	strategies, err := connection.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	provider := connection.NewProvider(strategies, connection.WithProduction(cfg.IsProduction()))

	opts = append([]Option{WithWriterOptions(mutation.WithWorkers(cfg.Workers))}, opts...)
	r := New(provider, opts...)
	if err := r.Start(ctx); err != nil {
		_ = provider.Close()
		return nil, err
	}
	return r, nil
}

// Start initializes the connection, then starts the writer and, unless
// dispatch is manual, the dispatch loop. A second call is a no-op. The
// error of a failed initialization is a *connection.InitError.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	conn, err := r.provider.Get(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.conn = conn
	r.cancel = cancel
	r.writer = mutation.NewWriter(conn.Database(), r.loop, r.emitter, r.writerOpts...)
	r.writer.Start(runCtx)

	if !r.manual {
		r.running.Add(1)
		go func() {
			defer r.running.Done()
			if err := r.loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("dispatch loop failed", "error", err)
			}
		}()
	}

	r.started = true
	slog.Info("runtime started", "strategy", conn.Strategy(), "manual_dispatch", r.manual)
	return nil
}

// Connection returns the initialized connection.
func (r *Runtime) Connection() (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return nil, err
	}
	return r.conn, nil
}

// Scope opens a read scope bound to ctx. Cancelling ctx or calling the
// scope's Close stops every listener the scope holds.
func (r *Runtime) Scope(ctx context.Context) (*live.Scope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return nil, err
	}
	return live.NewScope(ctx, r.conn.Database(), r.loop), nil
}

// Writer returns the mutation writer.
func (r *Runtime) Writer() (*mutation.Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usable(); err != nil {
		return nil, err
	}
	return r.writer, nil
}

// OnError registers a handler for failed writes. It can be called before
// Start.
func (r *Runtime) OnError(h emitter.Handler) (unsubscribe func()) {
	return r.emitter.On(h)
}

// Emitter returns the runtime's error emitter.
func (r *Runtime) Emitter() *emitter.Emitter {
	return r.emitter
}

// Loop returns the dispatch loop.
func (r *Runtime) Loop() *dispatch.Loop {
	return r.loop
}

// Drain applies every queued event. Only valid with manual dispatch.
func (r *Runtime) Drain() int {
	return r.loop.Drain()
}

// Flush waits until every event posted before the call has been applied.
func (r *Runtime) Flush(ctx context.Context) error {
	if r.manual {
		r.loop.Drain()
		return nil
	}
	return r.loop.Flush(ctx)
}

// Settle waits for every queued write to finish, then applies the events
// they produced. The writer accepts no further writes afterwards, so it is
// only used on the way out.
func (r *Runtime) Settle(ctx context.Context) error {
	w, err := r.Writer()
	if err != nil {
		return err
	}
	w.Close()
	return r.Flush(ctx)
}

// Close drains pending writes, delivers their failures, stops the loop and
// closes the connection. Idempotent.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	writer, cancel := r.writer, r.cancel
	r.mu.Unlock()

	if writer != nil {
		writer.Close()
	}
	r.loop.Stop()
	r.running.Wait()
	if r.manual {
		r.loop.Drain()
	}
	if cancel != nil {
		cancel()
	}

	r.emitter.Close()
	err := r.provider.Close()
	slog.Debug("runtime closed")
	return err
}

func (r *Runtime) usable() error {
	switch {
	case r.closed:
		return ErrClosed
	case !r.started:
		return ErrNotStarted
	}
	return nil
}
