// Package device provides the hardware-facing primitives that scans are
// built from: observable signals, asynchronous completion statuses, the
// pulse broker that resolves statuses when laser pulses arrive, and the
// capability interfaces (Readable, Movable, Triggerable, Stageable) that
// concrete devices implement.
package device

import "time"

// A Named object is an object that has a name. For hardware-facing objects
// the name doubles as the hardware address.
type Named interface {
	Name() string
}

// A Reading is one captured field value of a device.
type Reading struct {
	Name      string
	Value     float64
	Timestamp time.Time
}

// A Readable device can report its current readings. The slice order is the
// order fields should appear in downstream tables.
type Readable interface {
	Named
	Read() ([]Reading, error)
}

// A Movable device can be asked to move to a new position. Set returns
// immediately; the returned status resolves when the motion settles, or
// fails with a MotionError or TimeoutError.
type Movable interface {
	Named
	Set(pos float64) *Status
}

// A Triggerable device can start one acquisition. Trigger returns
// immediately; the returned status resolves when the acquisition completes
// and the device's readings are valid.
type Triggerable interface {
	Named
	Trigger() *Status
}

// A Stageable device holds exclusive hardware state while in use. Stage
// acquires the device and applies its staging configuration; Unstage
// reverses it. Stage on an already-staged device fails, which is how
// overlapping scans are kept off the same hardware.
type Stageable interface {
	Named
	Stage() error
	Unstage() error
}
