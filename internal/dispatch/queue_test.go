package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFOAndStamping(t *testing.T) {
	q := newEventQueue(NewClock())

	for _, target := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(Event{Type: EventPush, Target: target}))
	}

	for i, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Target)
		assert.Equal(t, int64(i+1), e.Seq)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue(NewClock())
	require.True(t, q.Enqueue(Event{Target: "kept"}))

	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(Event{Target: "rejected"}))
	assert.True(t, q.Closed())

	e, ok := q.TryDequeue()
	require.True(t, ok, "events queued before close stay available")
	assert.Equal(t, "kept", e.Target)

	select {
	case <-q.Wait():
	default:
		t.Fatal("wait channel should be closed")
	}
}

func TestEventQueue_ConcurrentEnqueueKeepsSeqOrder(t *testing.T) {
	q := newEventQueue(NewClock())
	const producers = 20
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(Event{Type: EventPush})
			}
		}()
	}
	wg.Wait()

	var last int64
	count := 0
	for {
		e, ok := q.TryDequeue()
		if !ok {
			break
		}
		assert.Greater(t, e.Seq, last, "queue order must equal seq order")
		last = e.Seq
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
