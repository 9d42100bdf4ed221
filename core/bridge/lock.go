package bridge

import (
	"context"
	"sync"
)

// callLock is a mutual-exclusion primitive with a fair FIFO wait queue.
// Waiters are granted the lock strictly in arrival order; a waiter whose
// context expires removes itself from the queue without disturbing the
// others.
type callLock struct {
	mu    sync.Mutex
	held  bool
	queue []*waiter
}

type waiter struct {
	ready chan struct{}
}

// acquire blocks until the lock is granted or ctx is done.
func (l *callLock) acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.held && len(l.queue) == 0 {
		l.held = true
		l.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{})}
	l.queue = append(l.queue, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	select {
	case <-w.ready:
		// The grant raced the deadline; the lock is ours.
		return nil
	default:
	}

	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			break
		}
	}
	return ctx.Err()
}

// release hands the lock to the oldest waiter, or marks it free.
func (l *callLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		w := l.queue[0]
		l.queue = l.queue[1:]
		close(w.ready) // ownership transfers, held stays true
		return
	}
	l.held = false
}
