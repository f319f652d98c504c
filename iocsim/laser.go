// Package iocsim provides simulated beamline hardware. Each simulator owns
// the soft signals of one device and drives them from a background goroutine
// the way the real IOC would, so scans run against the same device wrappers
// they use at the beamline.
package iocsim

import (
	"sync"
	"time"

	"github.com/scanlab/tomoscan/device"
)

// Simulated laser defaults.
const (
	DefaultFrequency  = 10.0
	DefaultPulseWidth = 5 * time.Millisecond
)

// SimLaserConfig configures a simulated pulsed laser.
type SimLaserConfig struct {
	Name string

	// Frequency is the pulse rate in Hz. Zero means DefaultFrequency. The
	// frequency signal can retune a running train.
	Frequency float64

	// PulseIDDelay is the time between the pulse-identifier update and the
	// pulse itself.
	PulseIDDelay time.Duration

	// PulseWidth is how long the power signal stays high per pulse. Zero
	// means DefaultPulseWidth. Keep it above the power-edge poll interval of
	// any plan that watches for it.
	PulseWidth time.Duration
}

// A SimLaser generates a pulse train. Each cycle increments the
// pulse-identifier signal, waits the pulse-identifier delay, and then raises
// the power signal for the pulse width. The frequency signal is re-read
// every cycle, so retuning takes effect on the next pulse.
type SimLaser struct {
	name    string
	pulseID *device.SoftSignal
	power   *device.SoftSignal
	freq    *device.SoftSignal

	delay time.Duration
	width time.Duration

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSimLaser creates a SimLaser. The pulse train does not run until Start
// is called.
func NewSimLaser(cfg SimLaserConfig) *SimLaser {
	if cfg.Name == "" {
		panic("sim laser name must be set")
	}

	freq := cfg.Frequency
	if freq <= 0 {
		freq = DefaultFrequency
	}

	width := cfg.PulseWidth
	if width <= 0 {
		width = DefaultPulseWidth
	}

	return &SimLaser{
		name:    cfg.Name,
		pulseID: device.NewSoftSignal(cfg.Name+"_pulse_id", 0),
		power:   device.NewSoftSignal(cfg.Name+"_power", 0),
		freq:    device.NewSoftSignal(cfg.Name+"_freq", freq),
		delay:   cfg.PulseIDDelay,
		width:   width,
		stop:    make(chan struct{}),
	}
}

// Name returns the laser name.
func (l *SimLaser) Name() string {
	return l.name
}

// PulseID returns the pulse-identifier signal.
func (l *SimLaser) PulseID() device.Signal {
	return l.pulseID
}

// Power returns the power signal.
func (l *SimLaser) Power() device.Signal {
	return l.power
}

// Frequency returns the writable pulse-rate configuration signal.
func (l *SimLaser) Frequency() device.WritableSignal {
	return l.freq
}

// Laser wraps the simulated signals behind the pulse-synchronization
// contract.
func (l *SimLaser) Laser() *device.PulseLaser {
	return device.NewPulseLaser(device.PulseLaserConfig{
		Name:         l.name,
		PulseID:      l.pulseID,
		Power:        l.power,
		PulseIDDelay: l.delay,
	})
}

// Start begins the pulse train. Starting an already-running laser does
// nothing.
func (l *SimLaser) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true

	go l.run()
}

// Close stops the pulse train. A stopped laser cannot be restarted.
func (l *SimLaser) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *SimLaser) run() {
	id := l.pulseID.Read()

	for {
		freq := l.freq.Read()
		if freq <= 0 {
			freq = DefaultFrequency
		}
		period := time.Duration(float64(time.Second) / freq)

		select {
		case <-l.stop:
			return
		case <-time.After(period):
		}

		id++
		l.pulseID.Put(id)
		time.Sleep(l.delay)
		l.power.Put(1)
		time.Sleep(l.width)
		l.power.Put(0)
	}
}
