package lightbake

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestQueue(t *testing.T) (*RenderQueue, *SceneRenderState) {
	t.Helper()
	rs := newSceneRenderState(testSceneSettings(), NewNopLogger())
	q := NewRenderQueue()
	go q.Run(rs)
	return q, rs
}

func TestRenderQueue_FIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	defer q.Close()

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		q.Enqueue(func(*SceneRenderState) {
			order = append(order, i)
		})
	}
	q.Flush()

	assert.Len(t, order, 100)
	for i, v := range order {
		if v != i {
			t.Fatalf("Expected command %d at position %d", i, i)
		}
	}
}

func TestRenderQueue_FlushIsABarrier(t *testing.T) {
	q, _ := newTestQueue(t)
	defer q.Close()

	var done atomic.Bool
	q.Enqueue(func(*SceneRenderState) {
		done.Store(true)
	})
	q.Flush()
	assert.True(t, done.Load())
}

func TestRenderQueue_CloseDrains(t *testing.T) {
	q, _ := newTestQueue(t)

	var count atomic.Int32
	for i := 0; i < 50; i++ {
		q.Enqueue(func(*SceneRenderState) {
			count.Add(1)
		})
	}
	q.Close()
	assert.EqualValues(t, 50, count.Load())
}

func TestRenderQueue_CommandsSeeTheRenderState(t *testing.T) {
	q, rs := newTestQueue(t)
	defer q.Close()

	var got *SceneRenderState
	q.Enqueue(func(state *SceneRenderState) {
		got = state
	})
	q.Flush()
	assert.Same(t, rs, got)
}
