package client

import (
	"sync"
)

// executor runs tasks one at a time in submission order. The first goroutine
// to submit while the executor is idle drains the queue, so a task submitted
// from inside a running task is queued behind it rather than run nested.
type executor struct {
	mu      sync.Mutex
	queue   []func()
	running bool

	onPanic func(recovered interface{})
}

// do submits task. It returns once the queue is drained when the executor was
// idle, and immediately after queueing otherwise.
func (e *executor) do(task func()) {
	e.mu.Lock()
	e.queue = append(e.queue, task)
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		next := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.run(next)
	}
}

func (e *executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(r)
		}
	}()
	task()
}
