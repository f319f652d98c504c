package device

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTriggerTimeout bounds how long a laser trigger waits for the next
// pulse before failing.
const DefaultTriggerTimeout = 2 * time.Second

// PulseLaserConfig describes the signals and timing of a pulsed laser.
type PulseLaserConfig struct {
	// Name identifies the device in readings and errors.
	Name string

	// PulseID is the pulse-identifier signal. Every update of this signal
	// marks one laser pulse.
	PulseID Signal

	// Power is the laser power signal, 0 when the laser is off and 1 while
	// a pulse is asserted. Optional; only the power-edge wait in the
	// pulse-synchronized scan uses it.
	Power Signal

	// PulseIDDelay is the settle delay between the pulse-identifier update
	// and the moment the associated readings are valid, covering the
	// downstream recording latency.
	PulseIDDelay time.Duration

	// TriggerTimeout bounds a single trigger. Zero means
	// DefaultTriggerTimeout.
	TriggerTimeout time.Duration
}

// A PulseLaser synchronizes data acquisition with laser pulses. Triggering
// arms a status that resolves right after the next pulse, so any scan that
// treats the laser as a detector waits for exactly one pulse per reading and
// then records that pulse's identifier.
//
// The laser never resolves a trigger against a pulse that arrived before the
// trigger: statuses are armed in the broker first and only a later
// pulse-identifier update drains them.
type PulseLaser struct {
	name    string
	pulseID Signal
	power   Signal
	settle  time.Duration
	timeout time.Duration

	broker *PulseBroker
	sub    Subscription

	mu     sync.Mutex
	staged bool
}

// NewPulseLaser creates a PulseLaser and attaches it to the pulse-identifier
// signal.
func NewPulseLaser(cfg PulseLaserConfig) *PulseLaser {
	if cfg.Name == "" {
		panic("laser name must be set")
	}
	if cfg.PulseID == nil {
		panic("laser pulse-identifier signal must be set")
	}

	l := &PulseLaser{
		name:    cfg.Name,
		pulseID: cfg.PulseID,
		power:   cfg.Power,
		settle:  cfg.PulseIDDelay,
		timeout: cfg.TriggerTimeout,
		broker:  NewPulseBroker(),
	}

	if l.timeout == 0 {
		l.timeout = DefaultTriggerTimeout
	}

	l.sub = l.pulseID.Subscribe(func(SignalUpdate) {
		l.broker.Pulse()
	})

	return l
}

// Name returns the device name.
func (l *PulseLaser) Name() string {
	return l.name
}

// Trigger arms a status that resolves once the next pulse is observed, plus
// the configured settle delay. It fails with a TimeoutError if no pulse
// arrives within the trigger timeout.
func (l *PulseLaser) Trigger() *Status {
	st := NewStatus(l.name, l.timeout, l.settle)
	st.SetWaitingFor("next pulse")
	l.broker.Register(st)

	return st
}

// Read returns the identifier of the most recent pulse.
func (l *PulseLaser) Read() ([]Reading, error) {
	return []Reading{{
		Name:      l.name + "_pulse_id",
		Value:     l.pulseID.Read(),
		Timestamp: l.pulseID.LastTimestamp(),
	}}, nil
}

// Power returns the laser power signal, or nil when none was configured.
func (l *PulseLaser) Power() Signal {
	return l.power
}

// PulseID returns the pulse-identifier signal.
func (l *PulseLaser) PulseID() Signal {
	return l.pulseID
}

// PendingTriggers returns the number of triggers still waiting for a pulse.
func (l *PulseLaser) PendingTriggers() int {
	return l.broker.PendingCount()
}

// Stage acquires the laser for a scan. The laser holds no staging
// configuration, but staging is still exclusive.
func (l *PulseLaser) Stage() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.staged {
		return fmt.Errorf("laser %s is already staged", l.name)
	}
	l.staged = true

	return nil
}

// Unstage releases the laser and cancels every trigger still waiting for a
// pulse, so a torn-down scan cannot leave statuses to be resolved by a stray
// later pulse.
func (l *PulseLaser) Unstage() error {
	l.mu.Lock()
	l.staged = false
	l.mu.Unlock()

	l.broker.CancelAll("laser " + l.name + " unstaged")

	return nil
}

// Close detaches the laser from its pulse-identifier signal and cancels any
// remaining triggers.
func (l *PulseLaser) Close() {
	l.sub.Cancel()
	l.broker.CancelAll("laser " + l.name + " closed")
}
