package connection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attempt records one failed strategy.
type Attempt struct {
	Strategy string
	Err      error
}

// InitError reports that no strategy produced a connection. It is fatal:
// nothing in the process can reach the database.
type InitError struct {
	Attempts []Attempt
}

func (e *InitError) Error() string {
	if len(e.Attempts) == 0 {
		return "connection: initialization failed: no strategies configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return "connection: initialization failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt's error to errors.Is and errors.As.
func (e *InitError) Unwrap() []error {
	out := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Err
	}
	return out
}

// Option configures a Provider.
type Option func(*Provider)

// WithProduction reports fallbacks at Warn level. Outside production a
// failed ambient attempt is only logged at Debug.
func WithProduction(on bool) Option {
	return func(p *Provider) { p.production = on }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Provider) {
		if t != nil {
			p.tracer = t
		}
	}
}

// Provider lazily initializes one Connection.
//
// Thread-safety: all methods are safe for concurrent use.
type Provider struct {
	strategies []Strategy
	production bool
	tracer     trace.Tracer

	once  sync.Once
	conn  *Connection
	err   error
	inits atomic.Int32
}

// NewProvider creates a provider that tries strategies in order.
func NewProvider(strategies []Strategy, opts ...Option) *Provider {
	p := &Provider{
		strategies: strategies,
		tracer:     otel.Tracer("github.com/roach88/carelink/internal/connection"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the connection, initializing it on the first call. A failed
// initialization is not retried; every call returns the same *InitError.
func (p *Provider) Get(ctx context.Context) (*Connection, error) {
	p.once.Do(func() {
		p.inits.Add(1)
		p.conn, p.err = p.initialize(ctx)
	})
	return p.conn, p.err
}

// MustGet is like Get but panics with the *InitError.
func (p *Provider) MustGet(ctx context.Context) *Connection {
	conn, err := p.Get(ctx)
	if err != nil {
		panic(err)
	}
	return conn
}

// Inits returns how many times initialization ran (0 or 1).
func (p *Provider) Inits() int {
	return int(p.inits.Load())
}

// Close closes the connection if one was initialized.
func (p *Provider) Close() error {
	// Runs the once with a nil result when Close comes first, so a later
	// Get cannot initialize a connection nobody will close.
	p.once.Do(func() {
		p.err = &InitError{Attempts: []Attempt{{Strategy: "closed", Err: fmt.Errorf("provider closed before use")}}}
	})
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func (p *Provider) initialize(ctx context.Context) (*Connection, error) {
	ctx, span := p.tracer.Start(ctx, "carelink/connection.init")
	defer span.End()

	initErr := &InitError{}
	for i, s := range p.strategies {
		conn, err := s.Connect(ctx)
		if err == nil {
			span.SetAttributes(attribute.String("carelink.strategy", s.Name()))
			slog.Info("connection initialized", "strategy", s.Name(), "attempts", i+1)
			return conn, nil
		}

		initErr.Attempts = append(initErr.Attempts, Attempt{Strategy: s.Name(), Err: err})
		if i < len(p.strategies)-1 {
			p.logFallback(s.Name(), err)
		}
	}

	span.RecordError(initErr)
	span.SetStatus(otelcodes.Error, "initialization failed")
	slog.Error("connection initialization failed", "error", initErr)
	return nil, initErr
}

func (p *Provider) logFallback(strategy string, err error) {
	if p.production {
		slog.Warn("connection strategy failed, falling back", "strategy", strategy, "error", err)
		return
	}
	slog.Debug("connection strategy failed, falling back", "strategy", strategy, "error", err)
}
