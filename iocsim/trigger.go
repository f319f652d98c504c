package iocsim

import (
	"github.com/scanlab/tomoscan/device"
)

// An ExternalTrigger emulates a hardware trigger line that fires one
// detector exposure per laser pulse, with no scan involved. The passive scan
// variant rides on exposures started this way.
type ExternalTrigger struct {
	sub device.Subscription
}

// NewExternalTrigger connects a pulse-identifier signal to a detector
// acquire signal. Pulses arriving while the detector is still busy are
// dropped, as a real trigger line drops them.
func NewExternalTrigger(
	pulseID device.Signal,
	acquire device.WritableSignal,
) *ExternalTrigger {
	t := &ExternalTrigger{}

	t.sub = pulseID.Subscribe(func(device.SignalUpdate) {
		_ = acquire.Put(1)
	})

	return t
}

// Close disconnects the trigger line.
func (t *ExternalTrigger) Close() {
	t.sub.Cancel()
}
