package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/scanlab/tomoscan/device"
)

// Pulse-window polling for the pulse-synchronized scan. The gap between
// pulses is long, the pulse itself is short, so the rising edge is polled an
// order of magnitude faster.
const (
	powerGapPoll     = 10 * time.Millisecond
	powerEdgePoll    = time.Millisecond
	powerWaitTimeout = 10 * time.Second
)

// Positions expands a scan range into the motor positions of each step,
// inclusive of both ends.
func Positions(start, stop float64, steps int) ([]float64, error) {
	if steps < 2 {
		return nil, fmt.Errorf("a scan needs at least 2 steps, got %d", steps)
	}

	positions := make([]float64, steps)
	span := stop - start
	for i := range positions {
		positions[i] = start + span*float64(i)/float64(steps-1)
	}
	positions[steps-1] = stop

	return positions, nil
}

// stageAll stages every device in devs that supports staging. On failure it
// unstages what it already staged and reports the failure.
func stageAll(e *Emitter, devs []device.Readable) ([]device.Stageable, error) {
	var stageable []device.Stageable
	for _, dev := range devs {
		if s, ok := dev.(device.Stageable); ok {
			stageable = append(stageable, s)
		}
	}

	return stageEach(e, stageable)
}

// stageEach stages devs in order. On failure it unstages the already-staged
// prefix and reports the failure.
func stageEach(e *Emitter, devs []device.Stageable) ([]device.Stageable, error) {
	var staged []device.Stageable
	for _, dev := range devs {
		if err := e.Stage(dev); err != nil {
			return nil, errors.Join(err, unstageAll(e, staged))
		}
		staged = append(staged, dev)
	}

	return staged, nil
}

// unstageAll releases devices in reverse staging order. It keeps going past
// individual failures so one stuck device cannot hold the others.
func unstageAll(e *Emitter, staged []device.Stageable) error {
	var errs []error
	for i := len(staged) - 1; i >= 0; i-- {
		if err := e.Unstage(staged[i]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func deviceNames(devs []device.Readable) []string {
	names := make([]string, len(devs))
	for i, dev := range devs {
		names[i] = dev.Name()
	}

	return names
}

func stageableNames(devs []device.Stageable) []string {
	names := make([]string, len(devs))
	for i, dev := range devs {
		names[i] = dev.Name()
	}

	return names
}

// MultiScan steps a motor from start to stop and records several repeated
// readings of every detector at each position. Detector readings and the
// motor position land in the same bundle, so every event carries the
// position it was taken at.
func MultiScan(
	detectors []device.Readable,
	motor device.Movable,
	start, stop float64,
	steps, repeats int,
) Plan {
	return Plan{
		Name: "multi_scan",
		Body: func(e *Emitter) (err error) {
			positions, err := Positions(start, stop, steps)
			if err != nil {
				return err
			}
			if repeats < 1 {
				return fmt.Errorf(
					"a scan needs at least 1 repeat per step, got %d",
					repeats)
			}

			motorReadable, ok := motor.(device.Readable)
			if !ok {
				return fmt.Errorf(
					"motor %s cannot be recorded", motor.Name())
			}
			readables := make([]device.Readable, 0, len(detectors)+1)
			readables = append(readables, detectors...)
			readables = append(readables, motorReadable)

			staged, err := stageAll(e, readables)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, unstageAll(e, staged))
			}()

			opened := false
			defer func() {
				if !opened {
					return
				}
				status, reason := ExitSuccess, ""
				if err != nil {
					status, reason = ExitFail, err.Error()
				}
				err = errors.Join(err, e.CloseRunWith(status, reason))
			}()

			_, err = e.OpenRun(map[string]interface{}{
				"motor":     motor.Name(),
				"detectors": deviceNames(detectors),
				"start":     start,
				"stop":      stop,
				"steps":     steps,
				"repeats":   repeats,
			})
			if err != nil {
				return err
			}
			opened = true

			for _, pos := range positions {
				if err = e.Checkpoint(); err != nil {
					return err
				}
				if err = e.Mv(motor, pos); err != nil {
					return err
				}
				for r := 0; r < repeats; r++ {
					err = e.TriggerAndRead(DefaultBundle, readables...)
					if err != nil {
						return err
					}
				}
			}

			return nil
		},
	}
}

// Scan is MultiScan with one reading per position.
func Scan(
	detectors []device.Readable,
	motor device.Movable,
	start, stop float64,
	steps int,
) Plan {
	p := MultiScan(detectors, motor, start, stop, steps, 1)
	p.Name = "scan"

	return p
}

// Count records num readings of the detectors without moving anything,
// sleeping delay between consecutive readings.
func Count(detectors []device.Readable, num int, delay time.Duration) Plan {
	return Plan{
		Name: "count",
		Body: func(e *Emitter) (err error) {
			if num < 1 {
				return fmt.Errorf(
					"a count needs at least 1 reading, got %d", num)
			}

			staged, err := stageAll(e, detectors)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, unstageAll(e, staged))
			}()

			opened := false
			defer func() {
				if !opened {
					return
				}
				status, reason := ExitSuccess, ""
				if err != nil {
					status, reason = ExitFail, err.Error()
				}
				err = errors.Join(err, e.CloseRunWith(status, reason))
			}()

			_, err = e.OpenRun(map[string]interface{}{
				"detectors": deviceNames(detectors),
				"num":       num,
				"delay_s":   delay.Seconds(),
			})
			if err != nil {
				return err
			}
			opened = true

			for i := 0; i < num; i++ {
				if err = e.Checkpoint(); err != nil {
					return err
				}
				if err = e.TriggerAndRead(DefaultBundle, detectors...); err != nil {
					return err
				}
				if delay > 0 && i < num-1 {
					if err = e.Sleep(delay); err != nil {
						return err
					}
				}
			}

			return nil
		},
	}
}

// PulseSyncScan is MultiScan synchronized to the laser's pulse windows: at
// each position it waits out the tail of the previous pulse, waits for the
// next rising edge of the laser power, and only then records. Include the
// laser among the detectors to record its pulse identifier.
//
// The edge detection is polled, not interrupt-driven: a pulse shorter than
// the edge poll interval can slip between two reads, in which case the edge
// wait catches a later pulse or times out. Keep the pulse width above
// powerEdgePoll.
func PulseSyncScan(
	detectors []device.Readable,
	motor device.Movable,
	laser *device.PulseLaser,
	start, stop float64,
	steps int,
) Plan {
	return Plan{
		Name: "pulse_sync_scan",
		Body: func(e *Emitter) (err error) {
			positions, err := Positions(start, stop, steps)
			if err != nil {
				return err
			}
			power := laser.Power()
			if power == nil {
				return fmt.Errorf(
					"laser %s has no power signal", laser.Name())
			}

			motorReadable, ok := motor.(device.Readable)
			if !ok {
				return fmt.Errorf(
					"motor %s cannot be recorded", motor.Name())
			}
			readables := make([]device.Readable, 0, len(detectors)+1)
			readables = append(readables, detectors...)
			readables = append(readables, motorReadable)

			staged, err := stageAll(e, readables)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, unstageAll(e, staged))
			}()

			opened := false
			defer func() {
				if !opened {
					return
				}
				status, reason := ExitSuccess, ""
				if err != nil {
					status, reason = ExitFail, err.Error()
				}
				err = errors.Join(err, e.CloseRunWith(status, reason))
			}()

			_, err = e.OpenRun(map[string]interface{}{
				"motor":     motor.Name(),
				"detectors": deviceNames(detectors),
				"laser":     laser.Name(),
				"start":     start,
				"stop":      stop,
				"steps":     steps,
			})
			if err != nil {
				return err
			}
			opened = true

			for _, pos := range positions {
				if err = e.Checkpoint(); err != nil {
					return err
				}
				if err = e.Mv(motor, pos); err != nil {
					return err
				}

				err = WaitForValue(e.Context(), power, 0,
					powerGapPoll, powerWaitTimeout)
				if err != nil {
					return fmt.Errorf("waiting for pulse gap: %w", err)
				}
				err = WaitForValue(e.Context(), power, 1,
					powerEdgePoll, powerWaitTimeout)
				if err != nil {
					return fmt.Errorf("waiting for pulse edge: %w", err)
				}

				// The trigger arms after the rising edge is seen, so a
				// short pulse can complete first and the trigger then
				// resolves on the following pulse.
				err = e.TriggerAndRead(DefaultBundle, readables...)
				if err != nil {
					return err
				}
			}

			return nil
		},
	}
}

// PassiveScan records around a detector that acquires on its own, typically
// hardware-triggered. The detectors are staged so their file writers run,
// but the plan never triggers them: at each position it waits for the
// detector-state signal to report an acquisition, records the motor and the
// pulse identifier, and waits for the acquisition to end. The motor moves to
// the start position before the run opens, since the initial travel can be
// long and should not count as dead time inside the run.
func PassiveScan(
	detectors []device.Stageable,
	motor device.Movable,
	detectorState device.Signal,
	pulseID device.Readable,
	start, stop float64,
	steps int,
) Plan {
	return Plan{
		Name: "passive_scan",
		Body: func(e *Emitter) (err error) {
			positions, err := Positions(start, stop, steps)
			if err != nil {
				return err
			}

			motorReadable, ok := motor.(device.Readable)
			if !ok {
				return fmt.Errorf(
					"motor %s cannot be recorded", motor.Name())
			}
			recorded := []device.Readable{motorReadable, pulseID}

			staged, err := stageEach(e, detectors)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, unstageAll(e, staged))
			}()

			if err = e.Mv(motor, positions[0]); err != nil {
				return err
			}

			opened := false
			defer func() {
				if !opened {
					return
				}
				status, reason := ExitSuccess, ""
				if err != nil {
					status, reason = ExitFail, err.Error()
				}
				err = errors.Join(err, e.CloseRunWith(status, reason))
			}()

			_, err = e.OpenRun(map[string]interface{}{
				"motor":     motor.Name(),
				"detectors": stageableNames(detectors),
				"pulse_id":  pulseID.Name(),
				"start":     start,
				"stop":      stop,
				"steps":     steps,
			})
			if err != nil {
				return err
			}
			opened = true

			for _, pos := range positions {
				if err = e.Checkpoint(); err != nil {
					return err
				}
				if err = e.Mv(motor, pos); err != nil {
					return err
				}

				err = WaitForValue(e.Context(), detectorState,
					device.DetectorStateAcquiring, 0, 0)
				if err != nil {
					return fmt.Errorf("waiting for acquisition: %w", err)
				}

				err = e.TriggerAndRead(DefaultBundle, recorded...)
				if err != nil {
					return err
				}

				err = WaitForValue(e.Context(), detectorState,
					device.DetectorStateIdle, 0, 0)
				if err != nil {
					return fmt.Errorf("waiting for idle detector: %w", err)
				}
			}

			return nil
		},
	}
}
