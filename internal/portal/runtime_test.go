package portal

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/config"
	"github.com/roach88/carelink/internal/connection"
	"github.com/roach88/carelink/internal/emitter"
	"github.com/roach88/carelink/internal/live"
	"github.com/roach88/carelink/internal/mutation"
	"github.com/roach88/carelink/internal/query"
	"github.com/roach88/carelink/internal/testutil"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type request struct {
	Status  string `json:"status"`
	Patient string `json:"patient"`
}

func fakeProvider(db *testutil.FakeDatabase) *connection.Provider {
	return connection.NewProvider([]connection.Strategy{connection.StrategyFunc{
		Label: "fake",
		Fn: func(context.Context) (*connection.Connection, error) {
			return connection.NewConnection("fake", nil, db), nil
		},
	}})
}

func pendingRequests() query.Query {
	return query.From("consultationRequests").Where("status", query.OpEqual, "pending")
}

func TestRuntime_AccessorsBeforeStart(t *testing.T) {
	rt := New(fakeProvider(testutil.NewFakeDatabase()))
	t.Cleanup(func() { _ = rt.Close() })

	_, err := rt.Scope(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = rt.Writer()
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = rt.Connection()
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRuntime_StartFailsWithInitError(t *testing.T) {
	provider := connection.NewProvider([]connection.Strategy{connection.StrategyFunc{
		Label: "auto",
		Fn: func(context.Context) (*connection.Connection, error) {
			return nil, errors.New("no ambient credentials")
		},
	}})
	rt := New(provider)
	t.Cleanup(func() { _ = rt.Close() })

	err := rt.Start(context.Background())
	var initErr *connection.InitError
	require.ErrorAs(t, err, &initErr)

	_, err = rt.Scope(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestRuntime_ManualDispatch(t *testing.T) {
	db := testutil.NewFakeDatabase()
	rt := New(fakeProvider(db), WithManualDispatch())
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Close() })

	scope, err := rt.Scope(context.Background())
	require.NoError(t, err)
	sub := live.Collection[request](scope, pendingRequests())
	assert.True(t, sub.State().IsLoading)

	db.PushQuery("consultationRequests", testutil.Doc("consultationRequests/r1", backend.Fields{"status": "pending", "patient": "p1"}))
	assert.True(t, sub.State().IsLoading, "pushes wait for the loop")

	rt.Drain()
	state := sub.State()
	assert.False(t, state.IsLoading)
	require.Len(t, state.Data, 1)
	assert.Equal(t, "r1", state.Data[0].ID)
	assert.Equal(t, "p1", state.Data[0].Data.Patient)
}

func TestRuntime_RunningLoopAppliesPushes(t *testing.T) {
	db := testutil.NewFakeDatabase()
	rt := New(fakeProvider(db))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { _ = rt.Close() })

	scope, err := rt.Scope(context.Background())
	require.NoError(t, err)
	sub := live.Document[request](scope, "consultationRequests/r1")

	db.PushDocument("consultationRequests/r1", backend.Fields{"status": "accepted"})
	require.NoError(t, rt.Flush(context.Background()))

	state := sub.State()
	require.NotNil(t, state.Data)
	assert.Equal(t, "accepted", state.Data.Data.Status)
}

func TestRuntime_WriteFailureReachesHandler(t *testing.T) {
	db := testutil.NewFakeDatabase()
	db.FailWrites("consultationRequests/*", testutil.Denied("update", "consultationRequests/r1"))
	rt := New(fakeProvider(db), WithWriterOptions(mutation.WithIDs(testutil.NewSequentialIDs(""))))

	var mu sync.Mutex
	var got []*emitter.PermissionError
	rt.OnError(func(err *emitter.PermissionError) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	})
	require.NoError(t, rt.Start(context.Background()))

	w, err := rt.Writer()
	require.NoError(t, err)
	w.Update("consultationRequests/r1", backend.Fields{"status": "accepted"})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, timeout, tick)
	require.NoError(t, rt.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, emitter.OpUpdate, got[0].Operation)
	assert.Equal(t, "consultationRequests/r1", got[0].Path)
	assert.Equal(t, backend.Fields{"status": "accepted"}, got[0].Payload)
}

func TestRuntime_CloseDeliversQueuedFailures(t *testing.T) {
	db := testutil.NewFakeDatabase()
	db.FailWrites("doctors/d1", testutil.Denied("delete", "doctors/d1"))
	rt := New(fakeProvider(db), WithManualDispatch())

	var got int
	rt.OnError(func(*emitter.PermissionError) { got++ })
	require.NoError(t, rt.Start(context.Background()))

	w, err := rt.Writer()
	require.NoError(t, err)
	w.Delete("doctors/d1")

	require.NoError(t, rt.Close())
	assert.Equal(t, 1, got)
}

func TestRuntime_CloseIsIdempotent(t *testing.T) {
	rt := New(fakeProvider(testutil.NewFakeDatabase()))
	require.NoError(t, rt.Start(context.Background()))

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.Start(context.Background()), ErrClosed)
	_, err := rt.Writer()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_LocalBackendRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendLocal
	cfg.Local.Path = filepath.Join(t.TempDir(), "carelink.db")
	cfg.Workers = 2

	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	conn, err := rt.Connection()
	require.NoError(t, err)
	assert.Equal(t, "local", conn.Strategy())

	scope, err := rt.Scope(context.Background())
	require.NoError(t, err)
	sub := live.Collection[request](scope, pendingRequests())

	w, err := rt.Writer()
	require.NoError(t, err)
	path := w.Add("consultationRequests", backend.Fields{"status": "pending", "patient": "p7"})
	require.NotEmpty(t, path)

	assert.Eventually(t, func() bool {
		state := sub.State()
		return len(state.Data) == 1 && state.Data[0].Path == path
	}, timeout, tick)
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "postgres"

	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}
