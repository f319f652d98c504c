package tracing

import (
	"sync"
	"time"
)

// TotalTimeTracer can collect the total time of executing a certain
// type of task. If the execution of two tasks overlaps, this tracer
// will simply add the two task processing time together.
type TotalTimeTracer struct {
	clock         Clock
	filter        TaskFilter
	lock          sync.Mutex
	totalTime     time.Duration
	inflightTasks map[string]Task
}

// NewTotalTimeTracer creates a new TotalTimeTracer. A nil filter
// accepts every task.
func NewTotalTimeTracer(
	clock Clock,
	filter TaskFilter,
) *TotalTimeTracer {
	t := &TotalTimeTracer{
		clock:         clock,
		filter:        filter,
		inflightTasks: make(map[string]Task),
	}
	return t
}

// TotalTime returns the total time has been spent on a certain type of
// tasks.
func (t *TotalTimeTracer) TotalTime() time.Duration {
	t.lock.Lock()
	total := t.totalTime
	t.lock.Unlock()
	return total
}

// StartTask records the task start time
func (t *TotalTimeTracer) StartTask(task Task) {
	task.StartTime = t.clock.Now()

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing
func (t *TotalTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *TotalTimeTracer) EndTask(task Task) {
	task.EndTime = t.clock.Now()

	t.lock.Lock()
	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		t.lock.Unlock()
		return
	}

	t.totalTime += task.EndTime.Sub(originalTask.StartTime)
	delete(t.inflightTasks, task.ID)
	t.lock.Unlock()
}

var _ Tracer = (*TotalTimeTracer)(nil)
