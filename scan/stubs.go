package scan

import (
	"time"

	"github.com/rs/xid"

	"github.com/scanlab/tomoscan/device"
)

// DefaultBundle is the bundle name used when a plan does not pick one.
const DefaultBundle = "primary"

// Stage acquires a device for the run. The engine remembers it and force
// unstages it if the plan never does.
func (e *Emitter) Stage(dev device.Stageable) error {
	_, err := e.Emit(Msg{Command: CmdStage, Device: dev})
	return err
}

// Unstage releases a staged device.
func (e *Emitter) Unstage(dev device.Stageable) error {
	_, err := e.Emit(Msg{Command: CmdUnstage, Device: dev})
	return err
}

// OpenRun opens the run bracket and returns the new run's UID.
func (e *Emitter) OpenRun(md map[string]interface{}) (string, error) {
	v, err := e.Emit(Msg{Command: CmdOpenRun, Metadata: md})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// CloseRun closes the run bracket with a successful exit status.
func (e *Emitter) CloseRun() error {
	return e.CloseRunWith(ExitSuccess, "")
}

// CloseRunWith closes the run bracket with an explicit exit status. Plans
// use it from their cleanup path so a failed run is closed as failed.
func (e *Emitter) CloseRunWith(status, reason string) error {
	_, err := e.Emit(Msg{
		Command:    CmdCloseRun,
		ExitStatus: status,
		Reason:     reason,
	})

	return err
}

// Checkpoint marks a safe point to pause at and rewind to.
func (e *Emitter) Checkpoint() error {
	_, err := e.Emit(Msg{Command: CmdCheckpoint})
	return err
}

// Set starts moving dev to pos under group. Wait on the group to block on
// the motion.
func (e *Emitter) Set(dev device.Movable, pos float64, group string) error {
	_, err := e.Emit(Msg{
		Command: CmdSet,
		Device:  dev,
		Value:   pos,
		Group:   group,
	})

	return err
}

// Trigger starts one acquisition on dev under group.
func (e *Emitter) Trigger(dev device.Triggerable, group string) error {
	_, err := e.Emit(Msg{Command: CmdTrigger, Device: dev, Group: group})
	return err
}

// Wait blocks until every status in group resolved.
func (e *Emitter) Wait(group string) error {
	_, err := e.Emit(Msg{Command: CmdWait, Group: group})
	return err
}

// Mv moves dev to pos and blocks until the motion settles.
func (e *Emitter) Mv(dev device.Movable, pos float64) error {
	group := "mv-" + xid.New().String()
	if err := e.Set(dev, pos, group); err != nil {
		return err
	}

	return e.Wait(group)
}

// Create opens a reading bundle. An empty name means DefaultBundle.
func (e *Emitter) Create(name string) error {
	_, err := e.Emit(Msg{Command: CmdCreate, Name: name})
	return err
}

// Read reads dev into the open bundle and returns the readings.
func (e *Emitter) Read(dev device.Readable) ([]device.Reading, error) {
	v, err := e.Emit(Msg{Command: CmdRead, Device: dev})
	if err != nil {
		return nil, err
	}

	return v.([]device.Reading), nil
}

// Save closes the bundle and emits it as one event.
func (e *Emitter) Save() error {
	_, err := e.Emit(Msg{Command: CmdSave})
	return err
}

// Sleep pauses the scan for d. An abort interrupts it.
func (e *Emitter) Sleep(d time.Duration) error {
	_, err := e.Emit(Msg{Command: CmdSleep, Duration: d})
	return err
}

// TriggerAndRead triggers every device that supports it, waits for all of
// them, then records one bundle with a reading from each device. This is the
// innermost step of every scan.
func (e *Emitter) TriggerAndRead(
	name string,
	devs ...device.Readable,
) error {
	group := "trigger-" + xid.New().String()

	triggered := false
	for _, dev := range devs {
		if t, ok := dev.(device.Triggerable); ok {
			if err := e.Trigger(t, group); err != nil {
				return err
			}
			triggered = true
		}
	}
	if triggered {
		if err := e.Wait(group); err != nil {
			return err
		}
	}

	if err := e.Create(name); err != nil {
		return err
	}
	for _, dev := range devs {
		if _, err := e.Read(dev); err != nil {
			return err
		}
	}

	return e.Save()
}
