package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"

	"github.com/roach88/carelink/internal/backend"
)

// ErrNoAuth is returned by Auth for connections without a Firebase app.
var ErrNoAuth = errors.New("connection: no auth client for this backend")

// Connection is an initialized backend: the Firebase app (nil for the
// local backend), the database client, and an auth client derived on
// first use.
type Connection struct {
	strategy string
	app      *firebase.App
	db       backend.Database

	authOnce sync.Once
	auth     *auth.Client
	authErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps an initialized database. app may be nil.
func NewConnection(strategy string, app *firebase.App, db backend.Database) *Connection {
	return &Connection{strategy: strategy, app: app, db: db}
}

// Strategy names the strategy that produced the connection.
func (c *Connection) Strategy() string {
	return c.strategy
}

// App returns the Firebase app, nil for the local backend.
func (c *Connection) App() *firebase.App {
	return c.app
}

// Database returns the database client.
func (c *Connection) Database() backend.Database {
	return c.db
}

// Auth returns the auth client bound to the app, creating it on the first
// call. The result of the first call is kept, including a failure.
func (c *Connection) Auth(ctx context.Context) (*auth.Client, error) {
	c.authOnce.Do(func() {
		if c.app == nil {
			c.authErr = ErrNoAuth
			return
		}
		client, err := c.app.Auth(ctx)
		if err != nil {
			c.authErr = fmt.Errorf("derive auth client: %w", err)
			return
		}
		c.auth = client
	})
	return c.auth, c.authErr
}

// Close closes the database client. Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.db != nil {
			c.closeErr = c.db.Close()
		}
	})
	return c.closeErr
}
