// Package tracing records what a scan spent its time on. Tasks are
// derived from the run engine's instruction stream and collected by
// tracers, either into accumulated statistics or into the scan
// database for offline dead-time analysis.
package tracing

import "time"

// A Task is one traced activity of a scan.
type Task struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Where     string
	StartTime time.Time
	EndTime   time.Time
}

// Duration is the task's wall-clock span.
func (t Task) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// TaskFilter is a function that can filter interesting tasks. If this
// function returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// FilterKind matches tasks of one kind.
func FilterKind(kind string) TaskFilter {
	return func(t Task) bool { return t.Kind == kind }
}

// FilterWhat matches tasks doing one thing.
func FilterWhat(what string) TaskFilter {
	return func(t Task) bool { return t.What == what }
}

// A Clock tells the current time. Scans run in wall-clock time; tests
// substitute a fake.
type Clock interface {
	Now() time.Time
}

// WallClock is the real time.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }
