package iocsim

import (
	"sync"
	"time"

	"github.com/scanlab/tomoscan/device"
)

// Simulated motor defaults.
const (
	DefaultVelocity    = 100.0
	DefaultUpdateEvery = time.Millisecond
)

// SimMotorConfig configures a simulated motor axis.
type SimMotorConfig struct {
	Name string

	// Initial is the starting readback position.
	Initial float64

	// Velocity is the travel speed in position units per second. Zero means
	// DefaultVelocity.
	Velocity float64

	// UpdateEvery is the readback refresh interval during motion. Zero means
	// DefaultUpdateEvery.
	UpdateEvery time.Duration
}

// A SimMotor emulates one motor axis. It owns the setpoint, readback, and
// done-moving signals and walks the readback toward new setpoints at a fixed
// velocity on a background goroutine. A newer setpoint supersedes a move
// still in flight.
//
// The done-moving signal always drops to 0 and returns to 1, even for a move
// that covers no distance, and the readback is at the target before
// done-moving returns to 1.
type SimMotor struct {
	name     string
	setpoint *device.SoftSignal
	readback *device.SoftSignal
	done     *device.SoftSignal

	velocity float64
	interval time.Duration
	sub      device.Subscription

	mu      sync.Mutex
	moveSeq int
}

// NewSimMotor creates a SimMotor resting at its initial position.
func NewSimMotor(cfg SimMotorConfig) *SimMotor {
	if cfg.Name == "" {
		panic("sim motor name must be set")
	}

	m := &SimMotor{
		name:     cfg.Name,
		setpoint: device.NewSoftSignal(cfg.Name+"_setpoint", cfg.Initial),
		readback: device.NewSoftSignal(cfg.Name+"_readback", cfg.Initial),
		done:     device.NewSoftSignal(cfg.Name+"_done_moving", 1),
		velocity: cfg.Velocity,
		interval: cfg.UpdateEvery,
	}

	if m.velocity <= 0 {
		m.velocity = DefaultVelocity
	}
	if m.interval <= 0 {
		m.interval = DefaultUpdateEvery
	}

	m.sub = m.setpoint.Subscribe(m.onSetpoint)

	return m
}

// Name returns the axis name.
func (m *SimMotor) Name() string {
	return m.name
}

// Setpoint returns the target-position signal.
func (m *SimMotor) Setpoint() device.WritableSignal {
	return m.setpoint
}

// Readback returns the actual-position signal.
func (m *SimMotor) Readback() device.Signal {
	return m.readback
}

// DoneMoving returns the done-moving signal.
func (m *SimMotor) DoneMoving() device.Signal {
	return m.done
}

// Motor wraps the axis behind the standard motor contract.
func (m *SimMotor) Motor(deadband float64, timeout time.Duration) *device.Motor {
	return device.NewMotor(device.MotorConfig{
		Name:        m.name,
		Setpoint:    m.setpoint,
		Readback:    m.readback,
		DoneMoving:  m.done,
		Deadband:    deadband,
		MoveTimeout: timeout,
	})
}

// Close detaches the axis from its setpoint signal and abandons any move
// still in flight.
func (m *SimMotor) Close() {
	m.sub.Cancel()

	m.mu.Lock()
	m.moveSeq++
	m.mu.Unlock()
}

func (m *SimMotor) onSetpoint(u device.SignalUpdate) {
	m.mu.Lock()
	m.moveSeq++
	seq := m.moveSeq
	m.mu.Unlock()

	go m.move(seq, u.Value)
}

func (m *SimMotor) move(seq int, target float64) {
	m.done.Put(0)

	step := m.velocity * m.interval.Seconds()
	for {
		if m.superseded(seq) {
			return
		}

		cur := m.readback.Read()
		delta := target - cur
		if delta <= step && delta >= -step {
			break
		}

		if delta < 0 {
			m.readback.Put(cur - step)
		} else {
			m.readback.Put(cur + step)
		}

		time.Sleep(m.interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.moveSeq {
		return
	}

	m.readback.Put(target)
	m.done.Put(1)
}

func (m *SimMotor) superseded(seq int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return seq != m.moveSeq
}
