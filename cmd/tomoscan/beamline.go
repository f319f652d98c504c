package main

import (
	"time"

	"github.com/scanlab/tomoscan/device"
	"github.com/scanlab/tomoscan/experiment"
	"github.com/scanlab/tomoscan/iocsim"
)

// Simulated beamline device names. Scan files and flags refer to devices
// by these names.
const (
	motorName = "motor1"
	detName   = "det"
	laserName = "laser1"
)

// A simBeamline is the hardware every scan runs against: one rotation
// axis, one frame camera, and one pulsed laser that can drive the camera
// through an external trigger line. The laser and the trigger line stay
// off until a scan variant needs them.
type simBeamline struct {
	axis   *iocsim.SimMotor
	camera *iocsim.SimDetector
	pulser *iocsim.SimLaser

	trigger *iocsim.ExternalTrigger

	motor *device.Motor
	det   *device.AreaDetector
	laser *device.PulseLaser
}

// newSimBeamline builds the simulated hardware.
func newSimBeamline(exposure time.Duration) *simBeamline {
	bl := &simBeamline{
		axis: iocsim.NewSimMotor(iocsim.SimMotorConfig{
			Name:     motorName,
			Velocity: 360,
		}),
		camera: iocsim.NewSimDetector(iocsim.SimDetectorConfig{
			Name: detName,
		}),
		pulser: iocsim.NewSimLaser(iocsim.SimLaserConfig{
			Name:         laserName,
			PulseIDDelay: 2 * time.Millisecond,
		}),
	}

	bl.motor = bl.axis.Motor(0.01, 10*time.Second)
	bl.det = bl.camera.Detector(device.CamConfig{
		ImageMode:      device.ImageModeMultiple,
		AcquireTime:    exposure.Seconds(),
		NumImages:      1,
		WaitForPlugins: true,
	}, device.HDF5Config{
		WritePathTemplate:    "data/%Y/%m/%d/",
		ReadPathTemplate:     "data/%Y/%m/%d/",
		CreateDirectoryDepth: -5,
	}, 10*time.Second)
	bl.laser = bl.pulser.Laser()

	return bl
}

// register adds every device and signal to the experiment, so scans
// resolve them by name and the sampler records the signals.
func (bl *simBeamline) register(exp *experiment.Experiment) {
	exp.RegisterDevice(bl.motor)
	exp.RegisterDevice(bl.det)
	exp.RegisterDevice(bl.laser)

	exp.RegisterSignal(bl.axis.Readback())
	exp.RegisterSignal(bl.camera.State())
	exp.RegisterSignal(bl.pulser.Power())
	exp.RegisterSignal(bl.pulser.PulseID())
}

// startLaser begins the pulse train. Idempotent.
func (bl *simBeamline) startLaser() {
	bl.pulser.Start()
}

// connectTrigger wires the laser pulses to the camera acquire input, the
// way the passive variant expects exposures to start. Idempotent.
func (bl *simBeamline) connectTrigger() {
	if bl.trigger != nil {
		return
	}

	bl.trigger = iocsim.NewExternalTrigger(
		bl.pulser.PulseID(), bl.camera.Acquire())
}

// Close stops the laser, disconnects the trigger line, and shuts the
// simulated hardware down.
func (bl *simBeamline) Close() {
	if bl.trigger != nil {
		bl.trigger.Close()
		bl.trigger = nil
	}

	bl.pulser.Close()
	bl.camera.Close()
	bl.axis.Close()
	bl.laser.Close()
}
