package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/query"
)

func TestFakeDatabase_PushReachesOnlyActiveListeners(t *testing.T) {
	db := NewFakeDatabase()
	var got []backend.Document

	l, err := db.ListenDocument(context.Background(), "patients/p1", func(d backend.Document, err error) {
		require.NoError(t, err)
		got = append(got, d)
	})
	require.NoError(t, err)

	assert.Equal(t, 1, db.PushDocument("patients/p1", backend.Fields{"name": "Ada"}))
	assert.Equal(t, 0, db.PushDocument("patients/p2", backend.Fields{"name": "Bob"}))

	l.Stop()
	l.Stop()
	assert.Equal(t, 0, db.PushDocument("patients/p1", nil))

	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.True(t, got[0].Exists)
	assert.Equal(t, 1, db.Listens())
	assert.Equal(t, 1, db.Stops())
	assert.Equal(t, 0, db.Active())
}

func TestFakeDatabase_LateDelivery(t *testing.T) {
	db := NewFakeDatabase()
	db.SetLateDelivery(true)

	calls := 0
	l, err := db.ListenQuery(context.Background(), query.From("visits"), func([]backend.Document, error) { calls++ })
	require.NoError(t, err)
	l.Stop()

	assert.Equal(t, 1, db.PushQuery("visits", Doc("visits/v1", backend.Fields{})))
	assert.Equal(t, 1, calls)
}

func TestFakeDatabase_FailWritesPattern(t *testing.T) {
	db := NewFakeDatabase()
	db.FailWrites("consultationRequests/*", Denied("create", "consultationRequests"))
	ctx := context.Background()

	err := db.Create(ctx, "consultationRequests/r1", backend.Fields{"status": "pending"})
	assert.True(t, backend.IsPermissionDenied(err))
	assert.NoError(t, db.Set(ctx, "patients/p1", backend.Fields{}, false))

	db.FailWrites("consultationRequests/*", nil)
	assert.NoError(t, db.Delete(ctx, "consultationRequests/r1"))
	assert.Len(t, db.Writes(), 3)
}

func TestFakeDatabase_BlockHoldsWrites(t *testing.T) {
	db := NewFakeDatabase()
	release := db.Block()

	done := make(chan error, 1)
	go func() { done <- db.Update(context.Background(), "patients/p1", backend.Fields{"a": 1}) }()

	assert.Eventually(t, func() bool { return db.Started() == 1 }, timeout, tick)
	assert.Empty(t, db.Writes())

	release()
	release()
	require.NoError(t, <-done)
	assert.Len(t, db.Writes(), 1)
}

func TestFakeDatabase_Close(t *testing.T) {
	db := NewFakeDatabase()
	_, err := db.ListenDocument(context.Background(), "a/b", func(backend.Document, error) {})
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Equal(t, 1, db.Stops())

	_, err = db.ListenDocument(context.Background(), "a/b", func(backend.Document, error) {})
	assert.Equal(t, backend.CodeUnavailable, backend.CodeOf(err))
}
