package device

import (
	"fmt"
	"sync"
	"time"
)

// A SignalUpdate carries one observed value change of a signal.
type SignalUpdate struct {
	Value     float64
	Timestamp time.Time
}

// A Subscription represents one registered signal callback. Cancel detaches
// the callback; it is safe to call from within the callback itself.
type Subscription interface {
	Cancel()
}

// A Signal is an observable scalar hardware value. Read returns the
// last-known value without blocking. Subscribe registers a callback that is
// invoked on every subsequent value change, on the goroutine that delivers
// the update; the current value is not replayed on registration, so a
// subscriber never observes an update that predates it.
//
// Values use the hardware's own discretized representation, so equality
// checks on them are exact.
type Signal interface {
	Named
	Read() float64
	LastTimestamp() time.Time
	Subscribe(cb func(SignalUpdate)) Subscription
}

// A WritableSignal is a Signal that also accepts writes. Writes are used for
// device configuration, never mid-scan by the sequencing core.
type WritableSignal interface {
	Signal
	Put(v float64) error
}

// SoftSignal is an in-process WritableSignal. Hardware simulators drive it
// from their own goroutines, which makes its subscription callbacks arrive
// on an independent delivery thread exactly like a remote channel-access
// monitor would.
type SoftSignal struct {
	name string

	mu        sync.RWMutex
	value     float64
	timestamp time.Time
	subs      map[int]func(SignalUpdate)
	nextSubID int
}

// NewSoftSignal creates a SoftSignal with an initial value. The initial
// value is readable immediately but is not delivered to subscribers.
func NewSoftSignal(name string, initial float64) *SoftSignal {
	s := new(SoftSignal)
	s.name = name
	s.value = initial
	s.timestamp = time.Now()
	s.subs = make(map[int]func(SignalUpdate))

	return s
}

// Name returns the hardware address of the signal.
func (s *SoftSignal) Name() string {
	return s.name
}

// Read returns the last-known value.
func (s *SoftSignal) Read() float64 {
	s.mu.RLock()
	v := s.value
	s.mu.RUnlock()

	return v
}

// LastTimestamp returns the time of the most recent update.
func (s *SoftSignal) LastTimestamp() time.Time {
	s.mu.RLock()
	t := s.timestamp
	s.mu.RUnlock()

	return t
}

// Put records a new value and delivers it to every subscriber. Callbacks run
// on the calling goroutine, outside the signal lock; relative order between
// distinct subscribers is not guaranteed. Callbacks must not block.
func (s *SoftSignal) Put(v float64) error {
	update := SignalUpdate{Value: v, Timestamp: time.Now()}

	s.mu.Lock()
	s.value = v
	s.timestamp = update.Timestamp
	cbs := make([]func(SignalUpdate), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(update)
	}

	return nil
}

// Subscribe registers a callback for future updates.
func (s *SoftSignal) Subscribe(cb func(SignalUpdate)) Subscription {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = cb
	s.mu.Unlock()

	return &softSubscription{signal: s, id: id}
}

func (s *SoftSignal) unsubscribe(id int) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// NumSubscribers returns the number of attached callbacks.
func (s *SoftSignal) NumSubscribers() int {
	s.mu.RLock()
	n := len(s.subs)
	s.mu.RUnlock()

	return n
}

func (s *SoftSignal) String() string {
	return fmt.Sprintf("SoftSignal(%s=%v)", s.name, s.Read())
}

type softSubscription struct {
	signal *SoftSignal
	once   sync.Once
	id     int
}

func (sub *softSubscription) Cancel() {
	sub.once.Do(func() {
		sub.signal.unsubscribe(sub.id)
	})
}

// A SignalReader adapts a bare signal to the Readable contract so a scan can
// record it as a data field.
type SignalReader struct {
	sig Signal
}

// NewSignalReader wraps sig as a Readable device.
func NewSignalReader(sig Signal) *SignalReader {
	return &SignalReader{sig: sig}
}

// Name returns the signal name.
func (r *SignalReader) Name() string {
	return r.sig.Name()
}

// Read reports the signal's current value.
func (r *SignalReader) Read() ([]Reading, error) {
	return []Reading{{
		Name:      r.sig.Name(),
		Value:     r.sig.Read(),
		Timestamp: r.sig.LastTimestamp(),
	}}, nil
}
