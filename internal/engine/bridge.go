package engine

import (
	"fmt"
	"time"

	logx "idlebot/pkg/logx"
)

type taskResult struct {
	v   any
	err error
}

type task struct {
	fn func() (any, error)
	// res is buffered so a late completion never blocks the loop after
	// the waiter has given up.
	res chan taskResult
}

// Submit runs fn inside the engine loop and waits up to timeout for its
// result. It fails fast with ErrNotReady when the session is not ready,
// ErrClosed when the engine shuts down mid-wait, and ErrTimeout when the
// budget elapses. A timed-out operation is not cancelled; it may still run
// to completion, its result discarded. There is no ordering guarantee
// between submissions from different goroutines.
func (e *Engine) Submit(timeout time.Duration, fn func() (any, error)) (any, error) {
	if fn == nil {
		return nil, ErrInvalidInput
	}
	if !e.Ready() {
		return nil, ErrNotReady
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &task{fn: fn, res: make(chan taskResult, 1)}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.tasks <- t:
	case <-e.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}

	select {
	case r := <-t.res:
		return r.v, r.err
	case <-e.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (e *Engine) runTask(t *task) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("bridged operation panicked", logx.Any("panic", r))
			t.res <- taskResult{err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	v, err := t.fn()
	t.res <- taskResult{v: v, err: err}
}
