// Package catalog persists run documents into a scan database and
// serves them back for replay. One database holds many runs.
package catalog

import (
	"encoding/json"
	"time"

	"github.com/scanlab/tomoscan/datarecording"
	"github.com/scanlab/tomoscan/scan"
)

const (
	runStartTable = "run_starts"
	runStopTable  = "run_stops"
	readingTable  = "readings"
)

// Document tables are append-only. A run is one row in run_starts plus,
// once it completes, one row in run_stops joined by UID.
type runStartRow struct {
	UID      string `tomoscan:"index"`
	Time     float64
	Plan     string
	Metadata string
}

type runStopRow struct {
	RunUID     string `tomoscan:"index"`
	Time       float64
	ExitStatus string
	Reason     string
	NumEvents  int
}

type readingRow struct {
	RunUID string `tomoscan:"index"`
	Seq    int
	Bundle string `tomoscan:"intern"`
	Field  string `tomoscan:"intern"`
	Value  float64
	Time   float64
}

// A Catalog records every document of every run it observes. Register
// it with RunEngine.Subscribe.
type Catalog struct {
	recorder datarecording.DataRecorder
}

// New creates a Catalog writing through the given recorder. The
// recorder can be shared with other writers; the catalog owns only its
// three tables.
func New(recorder datarecording.DataRecorder) *Catalog {
	c := &Catalog{recorder: recorder}

	c.recorder.CreateTable(runStartTable, runStartRow{})
	c.recorder.CreateTable(runStopTable, runStopRow{})
	c.recorder.CreateTable(readingTable, readingRow{})

	return c
}

func (c *Catalog) OnRunStart(doc scan.RunStart) {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	c.recorder.InsertData(runStartTable, runStartRow{
		UID:      doc.UID,
		Time:     secondsFromTime(doc.Time),
		Plan:     doc.Plan,
		Metadata: string(metadata),
	})
}

func (c *Catalog) OnEvent(doc scan.Event) {
	for _, r := range doc.Readings {
		c.recorder.InsertData(readingTable, readingRow{
			RunUID: doc.RunUID,
			Seq:    doc.Seq,
			Bundle: doc.Name,
			Field:  r.Name,
			Value:  r.Value,
			Time:   secondsFromTime(r.Timestamp),
		})
	}
}

// OnRunStop flushes the recorder, so a completed run is durable even if
// the process later dies.
func (c *Catalog) OnRunStop(doc scan.RunStop) {
	c.recorder.InsertData(runStopTable, runStopRow{
		RunUID:     doc.RunUID,
		Time:       secondsFromTime(doc.Time),
		ExitStatus: doc.ExitStatus,
		Reason:     doc.Reason,
		NumEvents:  doc.NumEvents,
	})

	c.recorder.Flush()
}

var _ scan.DocumentSubscriber = (*Catalog)(nil)

func secondsFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
