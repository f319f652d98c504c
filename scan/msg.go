package scan

import (
	"fmt"
	"time"

	"github.com/scanlab/tomoscan/device"
)

// Command names one engine instruction.
type Command string

// The instruction set understood by the RunEngine.
const (
	// CmdStage acquires a device for the run.
	CmdStage Command = "stage"

	// CmdUnstage releases a staged device.
	CmdUnstage Command = "unstage"

	// CmdOpenRun opens the run bracket and emits the run-start document.
	CmdOpenRun Command = "open_run"

	// CmdCloseRun closes the run bracket and emits the run-stop document.
	CmdCloseRun Command = "close_run"

	// CmdCheckpoint marks a safe rewind point. Deferred pause requests
	// park here.
	CmdCheckpoint Command = "checkpoint"

	// CmdSet starts moving a device to Value under Group.
	CmdSet Command = "set"

	// CmdTrigger starts one acquisition on a device under Group.
	CmdTrigger Command = "trigger"

	// CmdWait blocks until every status in Group resolved.
	CmdWait Command = "wait"

	// CmdCreate opens a reading bundle.
	CmdCreate Command = "create"

	// CmdRead reads a device, into the open bundle if there is one.
	CmdRead Command = "read"

	// CmdSave closes the bundle and emits it as an event document.
	CmdSave Command = "save"

	// CmdSleep pauses the engine for Duration.
	CmdSleep Command = "sleep"

	// CmdNull does nothing.
	CmdNull Command = "null"
)

// A Msg is one instruction a plan hands to the RunEngine. Which fields are
// meaningful depends on the command.
type Msg struct {
	Command Command

	// Device is the instruction target. The engine checks the capability
	// it needs per command (Stageable, Movable, Triggerable, Readable).
	Device device.Named

	// Value is the target position for CmdSet.
	Value float64

	// Group collects the statuses of CmdSet and CmdTrigger so a later
	// CmdWait on the same group can block on all of them.
	Group string

	// Duration is the CmdSleep length.
	Duration time.Duration

	// Name labels the bundle opened by CmdCreate.
	Name string

	// Metadata travels with CmdOpenRun into the run-start document.
	Metadata map[string]interface{}

	// ExitStatus and Reason travel with CmdCloseRun into the run-stop
	// document. An empty ExitStatus means ExitSuccess. An abort overrides
	// both.
	ExitStatus string
	Reason     string
}

func (m Msg) String() string {
	s := string(m.Command)
	if m.Device != nil {
		s += " " + m.Device.Name()
	}
	switch m.Command {
	case CmdSet:
		s += fmt.Sprintf(" -> %v", m.Value)
	case CmdSleep:
		s += fmt.Sprintf(" %v", m.Duration)
	}
	if m.Group != "" {
		s += " (group " + m.Group + ")"
	}

	return s
}
