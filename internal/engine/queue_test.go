package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stampsync/internal/ir"
)

func TestArrivalQueue_EnqueueDequeue(t *testing.T) {
	q := newArrivalQueue()

	ok := q.Enqueue(ir.Arrival{Stream: "lidar", Stamp: 10})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "lidar", got.Stream)
	assert.Equal(t, int64(10), got.Stamp)
}

func TestArrivalQueue_FIFO(t *testing.T) {
	q := newArrivalQueue()

	for i := int64(1); i <= 3; i++ {
		q.Enqueue(ir.Arrival{Stream: "s0", Stamp: i})
	}

	for want := int64(1); want <= 3; want++ {
		a, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, a.Stamp)
	}
}

func TestArrivalQueue_TryDequeue_Empty(t *testing.T) {
	q := newArrivalQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestArrivalQueue_Wait_SignalsOnEnqueue(t *testing.T) {
	q := newArrivalQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(ir.Arrival{Stream: "s0", Stamp: 1})
	}()

	select {
	case <-q.Wait():
		_, ok := q.TryDequeue()
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait was not signalled")
	}
}

func TestArrivalQueue_Close_WakesWaiter(t *testing.T) {
	q := newArrivalQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("close did not wake the waiter")
	}
	assert.True(t, q.Closed())
}

func TestArrivalQueue_Close_KeepsQueuedArrivals(t *testing.T) {
	q := newArrivalQueue()
	q.Enqueue(ir.Arrival{Stream: "s0", Stamp: 1})
	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(ir.Arrival{Stream: "s0", Stamp: 2}), "enqueue after close should return false")

	a, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, int64(1), a.Stamp)
}

func TestArrivalQueue_Len(t *testing.T) {
	q := newArrivalQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(ir.Arrival{Stream: "s0", Stamp: 1})
	q.Enqueue(ir.Arrival{Stream: "s0", Stamp: 2})
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestArrivalQueue_ClearsDequeuedSlot(t *testing.T) {
	q := newArrivalQueue()
	q.Enqueue(ir.Arrival{Stream: "s0", Payload: ir.IRObject{"k": ir.IRString("v")}})
	q.Enqueue(ir.Arrival{Stream: "s1"})

	backing := q.arrivals
	q.TryDequeue()

	assert.Nil(t, backing[0].Payload, "popped slot should not retain the payload")
}

func TestArrivalQueue_ThreadSafe(t *testing.T) {
	q := newArrivalQueue()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(ir.Arrival{Stream: fmt.Sprintf("p%d", id), Stamp: int64(i)})
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order is preserved.
	last := map[string]int64{}
	count := 0
	for {
		a, ok := q.TryDequeue()
		if !ok {
			break
		}
		if prev, seen := last[a.Stream]; seen {
			assert.Greater(t, a.Stamp, prev)
		}
		last[a.Stream] = a.Stamp
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
