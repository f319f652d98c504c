package device

import (
	"context"
	"sync"
	"time"
)

// A Status is a one-shot completion future for an asynchronous device
// operation. It resolves at most once, through SetFinished, SetError, Cancel,
// or its own timeout, whichever comes first. A settle delay, when configured,
// is applied after a successful finish and before observers are released, to
// cover downstream electronics or recording latency. Error outcomes are
// released immediately.
//
// The Status owns its timeout: components that hold statuses in a registry
// (see PulseBroker) carry no timeout logic of their own.
type Status struct {
	owner     string
	settle    time.Duration
	timeout   time.Duration
	createdAt time.Time

	mu           sync.Mutex
	waitingFor   string
	resolved     bool
	err          error
	done         chan struct{}
	timeoutTimer *time.Timer
}

// NewStatus creates a Status for an operation on the named owner. A zero
// timeout disables the deadline; a zero settle releases observers as soon as
// the operation finishes.
func NewStatus(owner string, timeout, settle time.Duration) *Status {
	s := &Status{
		owner:      owner,
		settle:     settle,
		timeout:    timeout,
		waitingFor: "completion",
		createdAt:  time.Now(),
		done:       make(chan struct{}),
	}

	if timeout > 0 {
		s.timeoutTimer = time.AfterFunc(timeout, s.timeOut)
	}

	return s
}

// NewFinishedStatus creates a Status that is already successfully resolved.
func NewFinishedStatus(owner string) *Status {
	s := NewStatus(owner, 0, 0)
	s.SetFinished()

	return s
}

// NewFailedStatus creates a Status that is already resolved with an error.
func NewFailedStatus(owner string, err error) *Status {
	s := NewStatus(owner, 0, 0)
	s.SetError(err)

	return s
}

// Owner returns the name of the device the operation belongs to.
func (s *Status) Owner() string {
	return s.owner
}

// CreatedAt returns the time the status was created.
func (s *Status) CreatedAt() time.Time {
	return s.createdAt
}

// SetFinished resolves the status successfully. Calls after the first
// resolution are ignored, so a late pulse cannot re-resolve a status that
// already timed out or was cancelled.
func (s *Status) SetFinished() {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
	}
	settle := s.settle
	s.mu.Unlock()

	if settle > 0 {
		time.AfterFunc(settle, func() { close(s.done) })
		return
	}

	close(s.done)
}

// SetError resolves the status with an error. The settle delay does not
// apply to error outcomes.
func (s *Status) SetError(err error) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolved = true
	s.err = err
	if s.timeoutTimer != nil {
		s.timeoutTimer.Stop()
	}
	s.mu.Unlock()

	close(s.done)
}

// Cancel resolves the status with a CancelledError.
func (s *Status) Cancel(reason string) {
	s.SetError(&CancelledError{Reason: reason})
}

// SetWaitingFor labels the condition the status is waiting on. The label
// appears in the timeout error. Call it right after creation, before the
// deadline can fire.
func (s *Status) SetWaitingFor(target string) {
	s.mu.Lock()
	s.waitingFor = target
	s.mu.Unlock()
}

func (s *Status) timeOut() {
	s.mu.Lock()
	target := s.waitingFor
	s.mu.Unlock()

	s.SetError(&TimeoutError{
		Waiting: s.owner,
		Target:  target,
		Timeout: s.timeout,
	})
}

// Resolved reports whether an outcome has been decided. The done channel may
// close slightly later when a settle delay is configured.
func (s *Status) Resolved() bool {
	s.mu.Lock()
	r := s.resolved
	s.mu.Unlock()

	return r
}

// Done returns a channel that is closed once the outcome is observable.
func (s *Status) Done() <-chan struct{} {
	return s.done
}

// Err returns the outcome. It is only meaningful after Done is closed; nil
// means success.
func (s *Status) Err() error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()

	return err
}

// Wait blocks until the status resolves or the context is cancelled, and
// returns the outcome.
func (s *Status) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
