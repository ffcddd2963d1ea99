package recorder

import "sync"

// mailbox is an ordered multi-producer, single-consumer command queue with
// sync.Cond blocking semantics.
//
// Items are delivered strictly in post order. When coalesce reports that a
// newly posted item supersedes the item at the tail of the queue, the tail
// is overwritten instead of appended (latest-wins). Frame commands use this
// so at most one frame is pending between two control commands, which keeps
// the queue bounded by the number of control commands in flight.
type mailbox[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []T
	closed   bool
	coalesce func(pending, next T) bool

	posted    uint64
	coalesced uint64
}

func newMailbox[T any](coalesce func(pending, next T) bool) *mailbox[T] {
	m := &mailbox[T]{coalesce: coalesce}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// post enqueues v without blocking. It returns false if the mailbox is
// closed. replaced reports whether v overwrote a pending item.
func (m *mailbox[T]) post(v T) (ok, replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, false
	}
	m.posted++

	if n := len(m.items); n > 0 && m.coalesce != nil && m.coalesce(m.items[n-1], v) {
		m.items[n-1] = v
		m.coalesced++
		m.cond.Signal()
		return true, true
	}

	m.items = append(m.items, v)
	m.cond.Signal()
	return true, false
}

// take blocks until an item is available. It returns false once the mailbox
// is closed and empty.
func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.items) == 0 && !m.closed {
		m.cond.Wait()
	}
	return m.popLocked()
}

// tryTake returns the next item without blocking.
func (m *mailbox[T]) tryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popLocked()
}

func (m *mailbox[T]) popLocked() (T, bool) {
	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	if len(m.items) == 0 {
		m.items = nil
	}
	return v, true
}

// close rejects further posts and wakes the consumer. Items already queued
// are still delivered.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// pending returns the number of queued items.
func (m *mailbox[T]) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// stats returns the number of posts and how many of them overwrote a
// pending item.
func (m *mailbox[T]) stats() (posted, coalesced uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posted, m.coalesced
}
