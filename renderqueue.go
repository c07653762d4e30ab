package lightbake

import (
	"sync"
)

// RenderCommand runs on the render thread against the mirrored scene state.
type RenderCommand func(rs *SceneRenderState)

// RenderQueue is the one-directional FIFO between the build thread and the
// dedicated render goroutine. Commands capture value snapshots and element
// IDs only; the render state itself is touched exclusively by the render
// goroutine, so no locking guards it.
type RenderQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	cmds   []RenderCommand
	closed bool
	done   chan struct{}
}

func NewRenderQueue() *RenderQueue {
	q := &RenderQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a command. Never blocks.
func (q *RenderQueue) Enqueue(cmd RenderCommand) {
	q.mu.Lock()
	if !q.closed {
		q.cmds = append(q.cmds, cmd)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Run drains commands in FIFO order until Close. Must run on exactly one
// goroutine, which becomes the render thread.
func (q *RenderQueue) Run(rs *SceneRenderState) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.cmds) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.cmds) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.cmds
		q.cmds = nil
		q.mu.Unlock()

		for _, cmd := range batch {
			cmd(rs)
		}
	}
}

// Flush blocks until every command enqueued before it has executed.
func (q *RenderQueue) Flush() {
	fence := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.cmds = append(q.cmds, func(*SceneRenderState) { close(fence) })
	q.cond.Signal()
	q.mu.Unlock()
	<-fence
}

// Close stops the render goroutine after the remaining commands drain.
func (q *RenderQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}
