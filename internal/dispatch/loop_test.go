package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_DrainAppliesInPostOrder(t *testing.T) {
	l := New()

	var got []string
	for _, name := range []string{"first", "second", "third"} {
		require.True(t, l.Post(Event{Type: EventPush, Target: name, Apply: func(int64) {
			got = append(got, name)
		}}))
	}

	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 3, l.Drain())
	assert.Equal(t, []string{"first", "second", "third"}, got)
	assert.Equal(t, 0, l.Len())
}

func TestLoop_DrainIncludesEventsPostedWhileDraining(t *testing.T) {
	l := New()

	var got []int64
	l.Post(Event{Apply: func(seq int64) {
		got = append(got, seq)
		l.Post(Event{Apply: func(seq int64) { got = append(got, seq) }})
	}})

	assert.Equal(t, 2, l.Drain())
	assert.Equal(t, []int64{1, 2}, got)
}

func TestLoop_PostRejectsNilApplyAndAfterStop(t *testing.T) {
	l := New()
	assert.False(t, l.Post(Event{Type: EventPush}))

	l.Stop()
	assert.False(t, l.Post(Event{Apply: func(int64) {}}))
}

func TestLoop_PanicIsRecovered(t *testing.T) {
	l := New()

	ran := false
	l.Post(Event{Type: EventPush, Target: "bad", Apply: func(int64) { panic("boom") }})
	l.Post(Event{Type: EventPush, Target: "good", Apply: func(int64) { ran = true }})

	assert.NotPanics(t, func() { l.Drain() })
	assert.True(t, ran, "later events still run after a panic")
}

func TestLoop_RunAndFlush(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		l.Post(Event{Apply: func(int64) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}})
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, time.Second)
	defer flushCancel()
	require.NoError(t, l.Flush(flushCtx))

	mu.Lock()
	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLoop_RunReturnsNilAfterStop(t *testing.T) {
	l := New()

	applied := make(chan struct{})
	l.Post(Event{Apply: func(int64) { close(applied) }})
	l.Stop()

	err := l.Run(context.Background())
	assert.NoError(t, err)

	select {
	case <-applied:
	default:
		t.Fatal("events queued before Stop should be applied")
	}
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}
