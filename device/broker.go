package device

import "sync"

// A PulseBroker is a registry of statuses that are armed and waiting for the
// next hardware pulse. Triggering calls register statuses from the sequencing
// goroutine; Pulse is invoked by the signal-subscription callback on the
// delivery goroutine, so the registry is guarded by a lock.
//
// A pulse is a broadcast: every status registered before the pulse callback
// runs resolves on that pulse, and a status registered after the drain has
// started lands in the next one. The lock is held only for the slice swap;
// resolution runs outside it, so resolution side effects, including
// registering a fresh status from a completion callback, can never deadlock
// against the broker.
//
// The broker carries no timeout logic. Each Status enforces its own deadline,
// and resolving an already-failed status is a no-op.
type PulseBroker struct {
	mu      sync.Mutex
	pending []*Status
}

// NewPulseBroker creates an empty PulseBroker.
func NewPulseBroker() *PulseBroker {
	return &PulseBroker{}
}

// Register arms a status to resolve on the next pulse.
func (b *PulseBroker) Register(st *Status) {
	b.mu.Lock()
	b.pending = append(b.pending, st)
	b.mu.Unlock()
}

// Withdraw removes a status from the registry without resolving it. It
// reports whether the status was still pending; false means a drain already
// took ownership of it.
func (b *PulseBroker) Withdraw(st *Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, pending := range b.pending {
		if pending == st {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}

	return false
}

// Pulse drains the whole registry and resolves every status that was
// pending, in registration order. It returns the number of statuses drained.
func (b *PulseBroker) Pulse() int {
	b.mu.Lock()
	drained := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, st := range drained {
		st.SetFinished()
	}

	return len(drained)
}

// CancelAll drains the registry and fails every pending status with a
// CancelledError. It returns the number of statuses cancelled.
func (b *PulseBroker) CancelAll(reason string) int {
	b.mu.Lock()
	drained := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, st := range drained {
		st.Cancel(reason)
	}

	return len(drained)
}

// PendingCount returns the number of armed statuses.
func (b *PulseBroker) PendingCount() int {
	b.mu.Lock()
	n := len(b.pending)
	b.mu.Unlock()

	return n
}
