package script

import (
	"sync"
	"sync/atomic"
)

type lazyState int

const (
	stateNone lazyState = iota
	stateInProgress
	stateDone
)

// lazy computes a value at most once. Concurrent callers that arrive while
// the value is being computed wait for it; init runs without the lock held.
type lazy[T any] struct {
	done  atomic.Bool
	mu    sync.Mutex
	cond  *sync.Cond
	state lazyState
	value T
}

func (l *lazy[T]) get(init func() T) T {
	if l.done.Load() {
		return l.value
	}

	l.mu.Lock()
	if l.cond == nil {
		l.cond = sync.NewCond(&l.mu)
	}
	for l.state == stateInProgress {
		l.cond.Wait()
	}
	if l.state == stateDone {
		v := l.value
		l.mu.Unlock()
		return v
	}
	l.state = stateInProgress
	l.mu.Unlock()

	finished := false
	defer func() {
		if finished {
			return
		}
		// init panicked: let the next caller try again
		l.mu.Lock()
		l.state = stateNone
		l.cond.Broadcast()
		l.mu.Unlock()
	}()

	v := init()

	l.mu.Lock()
	l.value = v
	l.state = stateDone
	l.done.Store(true)
	l.cond.Broadcast()
	l.mu.Unlock()
	finished = true
	return v
}

// peek returns the value if it has been computed.
func (l *lazy[T]) peek() (T, bool) {
	if l.done.Load() {
		return l.value, true
	}
	var zero T
	return zero, false
}
