package firestoredb

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/roach88/carelink/internal/backend"
	"github.com/roach88/carelink/internal/query"
)

// offlineClient builds a client that never dials until a request is made.
func offlineClient(t *testing.T) *firestore.Client {
	t.Helper()
	client, err := firestore.NewClient(context.Background(), "carelink-test",
		option.WithoutAuthentication(),
		option.WithEndpoint("127.0.0.1:1"),
	)
	require.NoError(t, err)
	return client
}

func TestRelativePath(t *testing.T) {
	assert.Equal(t, "consultationRequests/r1",
		relativePath("projects/p/databases/(default)/documents/consultationRequests/r1"))
	assert.Equal(t, "a/b", relativePath("a/b"))
}

func TestUpdatesAreSorted(t *testing.T) {
	got := updates(backend.Fields{"status": "done", "age": 3})
	assert.Equal(t, []firestore.Update{
		{Path: "age", Value: 3},
		{Path: "status", Value: "done"},
	}, got)
}

func TestFinished(t *testing.T) {
	assert.True(t, finished(iterator.Done))
	assert.True(t, finished(context.Canceled))
	assert.True(t, finished(status.Error(codes.Canceled, "stopped")))
	assert.False(t, finished(status.Error(codes.PermissionDenied, "denied")))
}

func TestCompile(t *testing.T) {
	db := New(offlineClient(t))
	t.Cleanup(func() { _ = db.Close() })

	_, err := db.compile(query.From("consultationRequests").
		Where("status", query.OpEqual, "pending").
		OrderBy("createdAt", query.Descending).
		Limit(10))
	require.NoError(t, err)

	_, err = db.compile(query.From("consultationRequests").Where("", query.OpEqual, 1))
	assert.Equal(t, backend.CodeInvalidArgument, backend.CodeOf(err))
}

func TestDocumentPathValidation(t *testing.T) {
	db := New(offlineClient(t))
	t.Cleanup(func() { _ = db.Close() })

	_, err := db.ListenDocument(context.Background(), "patients", func(backend.Document, error) {})
	assert.Equal(t, backend.CodeInvalidArgument, backend.CodeOf(err))

	err = db.Update(context.Background(), "patients/p1", nil)
	assert.Equal(t, backend.CodeInvalidArgument, backend.CodeOf(err))
}

func TestClosedDatabase(t *testing.T) {
	db := New(offlineClient(t))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	err := db.Delete(context.Background(), "patients/p1")
	assert.Equal(t, backend.CodeUnavailable, backend.CodeOf(err))
}

// TestEmulatorRoundTrip runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set.
func TestEmulatorRoundTrip(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "carelink-test")
	require.NoError(t, err)
	db := New(client)
	t.Cleanup(func() { _ = db.Close() })

	path := "consultationRequests/emulator-" + time.Now().Format("150405.000000")
	pushes := make(chan []backend.Document, 8)
	l, err := db.ListenQuery(ctx, query.From("consultationRequests").Where("status", query.OpEqual, "emulator"),
		func(docs []backend.Document, err error) {
			if err == nil {
				pushes <- docs
			}
		})
	require.NoError(t, err)
	defer l.Stop()

	require.NoError(t, db.Create(ctx, path, backend.Fields{"status": "emulator"}))
	assert.Eventually(t, func() bool {
		for {
			select {
			case docs := <-pushes:
				for _, d := range docs {
					if d.Path == path {
						return true
					}
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, db.Delete(ctx, path))
}
