package client

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutorQueuesNestedTasks(t *testing.T) {
	var e executor
	var order []string

	e.do(func() {
		order = append(order, "outer-start")
		e.do(func() { order = append(order, "nested") })
		order = append(order, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "nested"}, order)
}

func TestExecutorRecoversPanics(t *testing.T) {
	var recovered interface{}
	e := executor{onPanic: func(r interface{}) { recovered = r }}
	ran := false

	e.do(func() {
		e.do(func() { ran = true })
		panic("boom")
	})

	assert.Equal(t, "boom", recovered)
	assert.True(t, ran, "queued tasks still run")
}

func TestExecutorSerializesGoroutines(t *testing.T) {
	var e executor
	var running, overlaps, total atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.do(func() {
					if running.Add(1) > 1 {
						overlaps.Add(1)
					}
					total.Add(1)
					running.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return total.Load() == 1000 }, waitFor, tick)
	assert.Zero(t, overlaps.Load())
}
