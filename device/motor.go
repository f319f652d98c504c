package device

import (
	"fmt"
	"time"
)

// MotorConfig describes the signals of a motor axis.
type MotorConfig struct {
	Name string

	// Setpoint receives target positions.
	Setpoint WritableSignal

	// Readback reports the actual axis position.
	Readback Signal

	// DoneMoving is 1 while the axis is settled and 0 during motion. A move
	// completes when it returns to 1.
	DoneMoving Signal

	// Deadband is the largest |readback - target| still counted as having
	// reached the target. Zero means exact.
	Deadband float64

	// MoveTimeout bounds a single move. Zero disables the deadline.
	MoveTimeout time.Duration
}

// A Motor wraps a motor axis behind the Movable contract. Set writes the
// setpoint and returns a status that resolves on the done-moving signal's
// return to 1, or fails with a MotionError when the axis settles outside the
// deadband.
type Motor struct {
	name     string
	setpoint WritableSignal
	readback Signal
	done     Signal
	deadband float64
	timeout  time.Duration
}

// NewMotor creates a Motor from its signals.
func NewMotor(cfg MotorConfig) *Motor {
	if cfg.Name == "" {
		panic("motor name must be set")
	}
	if cfg.Setpoint == nil || cfg.Readback == nil || cfg.DoneMoving == nil {
		panic("motor setpoint, readback, and done-moving signals must be set")
	}

	return &Motor{
		name:     cfg.Name,
		setpoint: cfg.Setpoint,
		readback: cfg.Readback,
		done:     cfg.DoneMoving,
		deadband: cfg.Deadband,
		timeout:  cfg.MoveTimeout,
	}
}

// Name returns the axis name.
func (m *Motor) Name() string {
	return m.name
}

// Position returns the current readback position.
func (m *Motor) Position() float64 {
	return m.readback.Read()
}

// Set starts a move to pos. The returned status resolves when the axis
// reports done-moving again.
func (m *Motor) Set(pos float64) *Status {
	st := NewStatus(m.name, m.timeout, 0)
	st.SetWaitingFor(fmt.Sprintf("position %v", pos))

	sub := m.done.Subscribe(func(u SignalUpdate) {
		if u.Value != 1 {
			return
		}

		reached := m.readback.Read()
		if diff := reached - pos; diff > m.deadband || diff < -m.deadband {
			st.SetError(&MotionError{
				Motor:   m.name,
				Target:  pos,
				Reached: reached,
			})
			return
		}

		st.SetFinished()
	})

	// One reaper per move keeps the subscription from outliving the status,
	// whichever way it resolves.
	go func() {
		<-st.Done()
		sub.Cancel()
	}()

	if err := m.setpoint.Put(pos); err != nil {
		st.SetError(fmt.Errorf("motor %s setpoint write: %w", m.name, err))
	}

	return st
}

// Read reports the readback and setpoint positions.
func (m *Motor) Read() ([]Reading, error) {
	return []Reading{
		{
			Name:      m.name,
			Value:     m.readback.Read(),
			Timestamp: m.readback.LastTimestamp(),
		},
		{
			Name:      m.name + "_user_setpoint",
			Value:     m.setpoint.Read(),
			Timestamp: m.setpoint.LastTimestamp(),
		},
	}, nil
}
