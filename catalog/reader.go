package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/scanlab/tomoscan/datarecording"
)

// A RunSummary joins a run's start and stop documents. StopTime is the
// zero time for a run that never completed.
type RunSummary struct {
	UID        string
	Plan       string
	StartTime  time.Time
	StopTime   time.Time
	ExitStatus string
	Reason     string
	NumEvents  int
	Metadata   map[string]interface{}
}

// Completed reports whether the run has a stop document.
func (s RunSummary) Completed() bool {
	return !s.StopTime.IsZero()
}

// A ReadingRecord is one recorded field value of one event.
type ReadingRecord struct {
	Seq    int
	Bundle string
	Field  string
	Value  float64
	Time   time.Time
}

// A Reader serves runs back from a scan database.
type Reader struct {
	reader datarecording.DataReader
}

// OpenReader opens the scan database at path. The ".sqlite3" suffix is
// appended when missing.
func OpenReader(path string) (*Reader, error) {
	filename := path
	if !strings.HasSuffix(filename, ".sqlite3") {
		filename += ".sqlite3"
	}

	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("no scan database at %s", filename)
	}

	reader := datarecording.NewReader(filename)
	reader.MapTable(runStartTable, runStartRow{})
	reader.MapTable(runStopTable, runStopRow{})
	reader.MapTable(readingTable, readingRow{})

	return &Reader{reader: reader}, nil
}

// Runs returns the summaries of all runs in start order.
func (r *Reader) Runs(ctx context.Context) ([]RunSummary, error) {
	starts, _, err := r.reader.Query(ctx, runStartTable,
		datarecording.QueryParams{OrderBy: "Time"})
	if err != nil {
		return nil, err
	}

	stops, err := r.stopsByRun(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]RunSummary, 0, len(starts))
	for _, start := range starts {
		summaries = append(summaries,
			makeSummary(start.(*runStartRow), stops))
	}

	return summaries, nil
}

// Run returns the summary of one run.
func (r *Reader) Run(ctx context.Context, uid string) (RunSummary, error) {
	starts, _, err := r.reader.Query(ctx, runStartTable,
		datarecording.QueryParams{
			Where: "UID = ?",
			Args:  []any{uid},
		})
	if err != nil {
		return RunSummary{}, err
	}

	if len(starts) == 0 {
		return RunSummary{}, fmt.Errorf("run %s not found", uid)
	}

	stops, err := r.stopsByRun(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	return makeSummary(starts[0].(*runStartRow), stops), nil
}

// LastRun returns the summary of the most recently started run.
func (r *Reader) LastRun(ctx context.Context) (RunSummary, error) {
	starts, _, err := r.reader.Query(ctx, runStartTable,
		datarecording.QueryParams{
			OrderBy: "Time DESC",
			Limit:   1,
		})
	if err != nil {
		return RunSummary{}, err
	}

	if len(starts) == 0 {
		return RunSummary{}, fmt.Errorf("no runs recorded")
	}

	stops, err := r.stopsByRun(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	return makeSummary(starts[0].(*runStartRow), stops), nil
}

// Readings returns one run's recorded readings in event order.
func (r *Reader) Readings(
	ctx context.Context,
	runUID string,
) ([]ReadingRecord, error) {
	rows, _, err := r.reader.Query(ctx, readingTable,
		datarecording.QueryParams{
			Where:   "RunUID = ?",
			Args:    []any{runUID},
			OrderBy: "Seq",
		})
	if err != nil {
		return nil, err
	}

	records := make([]ReadingRecord, 0, len(rows))
	for _, row := range rows {
		reading := row.(*readingRow)
		records = append(records, ReadingRecord{
			Seq:    reading.Seq,
			Bundle: reading.Bundle,
			Field:  reading.Field,
			Value:  reading.Value,
			Time:   timeFromSeconds(reading.Time),
		})
	}

	return records, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

func (r *Reader) stopsByRun(
	ctx context.Context,
) (map[string]*runStopRow, error) {
	rows, _, err := r.reader.Query(ctx, runStopTable,
		datarecording.QueryParams{})
	if err != nil {
		return nil, err
	}

	stops := make(map[string]*runStopRow, len(rows))
	for _, row := range rows {
		stop := row.(*runStopRow)
		stops[stop.RunUID] = stop
	}

	return stops, nil
}

func makeSummary(
	start *runStartRow,
	stops map[string]*runStopRow,
) RunSummary {
	summary := RunSummary{
		UID:       start.UID,
		Plan:      start.Plan,
		StartTime: timeFromSeconds(start.Time),
	}

	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(start.Metadata), &metadata); err == nil {
		summary.Metadata = metadata
	}

	if stop, ok := stops[start.UID]; ok {
		summary.StopTime = timeFromSeconds(stop.Time)
		summary.ExitStatus = stop.ExitStatus
		summary.Reason = stop.Reason
		summary.NumEvents = stop.NumEvents
	}

	return summary
}
