package analysis

import (
	"time"

	"github.com/scanlab/tomoscan/datarecording"
)

const sampleTableName = "signal_samples"

// A SampleEntry is one summarized observation window of a signal.
type SampleEntry struct {
	Start time.Time
	End   time.Time
	Where string
	What  string
	Value float64
	Unit  string
}

// SampleLogger is the interface that provides the service that can record
// signal sample entries.
type SampleLogger interface {
	AddSample(entry SampleEntry)
}

// A Clock tells the current time. Sampling runs in wall-clock time; tests
// substitute a fake.
type Clock interface {
	Now() time.Time
}

type sampleRow struct {
	Start float64
	End   float64
	Where string `tomoscan:"intern"`
	What  string `tomoscan:"intern"`
	Value float64
	Unit  string `tomoscan:"intern"`
}

// DBSampleLogger writes sample entries into the signal_samples table of a
// scan database.
type DBSampleLogger struct {
	recorder datarecording.DataRecorder
}

// NewDBSampleLogger creates a DBSampleLogger and its table on the recorder.
func NewDBSampleLogger(recorder datarecording.DataRecorder) *DBSampleLogger {
	l := &DBSampleLogger{recorder: recorder}
	l.recorder.CreateTable(sampleTableName, sampleRow{})

	return l
}

// AddSample stores one entry. Window bounds are stored as seconds.
func (l *DBSampleLogger) AddSample(entry SampleEntry) {
	l.recorder.InsertData(sampleTableName, sampleRow{
		Start: secondsFromTime(entry.Start),
		End:   secondsFromTime(entry.End),
		Where: entry.Where,
		What:  entry.What,
		Value: entry.Value,
		Unit:  entry.Unit,
	})
}

var _ SampleLogger = (*DBSampleLogger)(nil)

func secondsFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
