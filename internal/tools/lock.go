// Package tools implements the tool registry: schema validation, lifecycle
// event emission, per-call timeouts, and the at-most-one-concurrent
// invocation guarantee described in §4.2. Grounded on the teacher's
// sessions.SessionLocker (per-key sync.Map-backed mutex, TryLock semantics).
package tools

import "sync"

// invocationLocker enforces at-most-one-concurrent-invocation per
// (messageId, toolId) pair (§4.2). Unlike the teacher's SessionLocker, a
// concurrent call is rejected outright rather than queued: a duplicate
// invocation of the same tool call is a caller bug, not contention to wait
// out.
type invocationLocker struct {
	locks sync.Map // map[string]*sync.Mutex, keyed by messageId+"/"+toolId, with an explicit "held" flag
}

type invocationLock struct {
	mu   sync.Mutex
	held bool
}

func lockKey(messageID, toolID string) string {
	return messageID + "/" + toolID
}

// TryAcquire attempts to claim the invocation slot for (messageID, toolID).
// It returns false if that exact invocation is already in flight.
func (l *invocationLocker) TryAcquire(messageID, toolID string) bool {
	key := lockKey(messageID, toolID)
	actual, _ := l.locks.LoadOrStore(key, &invocationLock{})
	lock := actual.(*invocationLock)

	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.held {
		return false
	}
	lock.held = true
	return true
}

// Release frees the invocation slot for (messageID, toolID).
func (l *invocationLocker) Release(messageID, toolID string) {
	key := lockKey(messageID, toolID)
	actual, ok := l.locks.Load(key)
	if !ok {
		return
	}
	lock := actual.(*invocationLock)
	lock.mu.Lock()
	lock.held = false
	lock.mu.Unlock()
}
