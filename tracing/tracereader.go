package tracing

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/scanlab/tomoscan/datarecording"
)

// A TaskStep is one recorded milestone of a task.
type TaskStep struct {
	TaskID string
	Time   time.Time
	What   string
}

// A Report breaks one run's wall-clock time down for dead-time
// analysis. Busy is the union of the time covered by the run's
// instructions; Dead is the remainder of the run span, the time the
// engine spent between instructions.
type Report struct {
	Run         Task
	TotalByWhat map[string]time.Duration
	Busy        time.Duration
	Dead        time.Duration
}

// A TraceReader reads tasks back from a scan database written by a
// DBTracer.
type TraceReader struct {
	reader datarecording.DataReader
}

// OpenTraceReader opens the scan database at path. The ".sqlite3"
// suffix is appended when missing.
func OpenTraceReader(path string) (*TraceReader, error) {
	filename := path
	if !strings.HasSuffix(filename, ".sqlite3") {
		filename += ".sqlite3"
	}

	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("no scan database at %s", filename)
	}

	reader := datarecording.NewReader(filename)
	reader.MapTable("trace_tasks", taskTableEntry{})
	reader.MapTable("trace_steps", stepTableEntry{})

	return &TraceReader{reader: reader}, nil
}

// Tasks returns all recorded tasks in start order.
func (r *TraceReader) Tasks(ctx context.Context) ([]Task, error) {
	rows, _, err := r.reader.Query(ctx, "trace_tasks",
		datarecording.QueryParams{OrderBy: "StartTime"})
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		entry := row.(*taskTableEntry)
		tasks = append(tasks, Task{
			ID:        entry.ID,
			ParentID:  entry.ParentID,
			Kind:      entry.Kind,
			What:      entry.What,
			Where:     entry.Where,
			StartTime: timeFromSeconds(entry.StartTime),
			EndTime:   timeFromSeconds(entry.EndTime),
		})
	}

	return tasks, nil
}

// TasksOfKind returns the recorded tasks of one kind. Kinds are stored
// interned, so the filtering happens on the restored tasks.
func (r *TraceReader) TasksOfKind(
	ctx context.Context,
	kind string,
) ([]Task, error) {
	tasks, err := r.Tasks(ctx)
	if err != nil {
		return nil, err
	}

	filtered := tasks[:0]

	for _, t := range tasks {
		if t.Kind == kind {
			filtered = append(filtered, t)
		}
	}

	return filtered, nil
}

// Steps returns the recorded milestones of one task in time order.
func (r *TraceReader) Steps(
	ctx context.Context,
	taskID string,
) ([]TaskStep, error) {
	rows, _, err := r.reader.Query(ctx, "trace_steps",
		datarecording.QueryParams{
			Where:   "TaskID = ?",
			Args:    []any{taskID},
			OrderBy: "Time",
		})
	if err != nil {
		return nil, err
	}

	steps := make([]TaskStep, 0, len(rows))
	for _, row := range rows {
		entry := row.(*stepTableEntry)
		steps = append(steps, TaskStep{
			TaskID: entry.TaskID,
			Time:   timeFromSeconds(entry.Time),
			What:   entry.What,
		})
	}

	return steps, nil
}

// Report analyzes the run task with the given UID.
func (r *TraceReader) Report(
	ctx context.Context,
	runUID string,
) (Report, error) {
	tasks, err := r.Tasks(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{TotalByWhat: make(map[string]time.Duration)}

	found := false

	for _, t := range tasks {
		if t.ID == runUID && t.Kind == "run" {
			report.Run = t
			found = true
			break
		}
	}

	if !found {
		return Report{}, fmt.Errorf("no run task with UID %s", runUID)
	}

	var children []Task

	for _, t := range tasks {
		if t.ParentID != runUID {
			continue
		}

		children = append(children, t)
		report.TotalByWhat[t.What] += t.Duration()
	}

	report.Busy = unionDuration(children)

	report.Dead = report.Run.Duration() - report.Busy
	if report.Dead < 0 {
		report.Dead = 0
	}

	return report, nil
}

func (r *TraceReader) Close() error {
	return r.reader.Close()
}

// unionDuration sums the time covered by the tasks, counting
// overlapped time once.
func unionDuration(tasks []Task) time.Duration {
	if len(tasks) == 0 {
		return 0
	}

	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	total := time.Duration(0)
	curStart := sorted[0].StartTime
	curEnd := sorted[0].EndTime

	for _, t := range sorted[1:] {
		if t.StartTime.After(curEnd) {
			total += curEnd.Sub(curStart)
			curStart = t.StartTime
			curEnd = t.EndTime

			continue
		}

		if t.EndTime.After(curEnd) {
			curEnd = t.EndTime
		}
	}

	return total + curEnd.Sub(curStart)
}

func secondsFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func timeFromSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
