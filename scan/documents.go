package scan

import (
	"time"

	"github.com/scanlab/tomoscan/device"
)

// Run exit statuses carried by the run-stop document.
const (
	ExitSuccess = "success"
	ExitAbort   = "abort"
	ExitFail    = "fail"
)

// A RunStart document opens a run.
type RunStart struct {
	UID      string
	Time     time.Time
	Plan     string
	Metadata map[string]interface{}
}

// An Event document carries one bundle of readings taken together.
type Event struct {
	RunUID string
	Seq    int
	Name   string
	Time   time.Time

	Readings []device.Reading
}

// A RunStop document closes a run.
type RunStop struct {
	RunUID     string
	Time       time.Time
	ExitStatus string
	Reason     string
	NumEvents  int
}

// A DocumentSubscriber receives the documents of every run, in order, on the
// engine goroutine. Slow subscribers slow the scan down; hand off to a
// goroutine when that matters.
type DocumentSubscriber interface {
	OnRunStart(RunStart)
	OnEvent(Event)
	OnRunStop(RunStop)
}
