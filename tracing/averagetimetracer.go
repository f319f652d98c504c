package tracing

import (
	"sync"
	"time"
)

// AverageTimeTracer can collect the average time of executing a
// certain type of task.
type AverageTimeTracer struct {
	clock         Clock
	filter        TaskFilter
	lock          sync.Mutex
	averageTime   time.Duration
	inflightTasks map[string]Task
	taskCount     uint64
}

// NewAverageTimeTracer creates a new AverageTimeTracer. A nil filter
// accepts every task.
func NewAverageTimeTracer(
	clock Clock,
	filter TaskFilter,
) *AverageTimeTracer {
	t := &AverageTimeTracer{
		clock:         clock,
		filter:        filter,
		inflightTasks: make(map[string]Task),
	}
	return t
}

// AverageTime returns the average time that has been spent on a certain
// type of tasks.
func (t *AverageTimeTracer) AverageTime() time.Duration {
	t.lock.Lock()
	avg := t.averageTime
	t.lock.Unlock()
	return avg
}

// TotalCount returns the total number of tasks.
func (t *AverageTimeTracer) TotalCount() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.taskCount
}

// StartTask records the task start time
func (t *AverageTimeTracer) StartTask(task Task) {
	task.StartTime = t.clock.Now()

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	t.inflightTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing
func (t *AverageTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *AverageTimeTracer) EndTask(task Task) {
	task.EndTime = t.clock.Now()

	t.lock.Lock()
	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		t.lock.Unlock()
		return
	}

	taskTime := task.EndTime.Sub(originalTask.StartTime)
	t.averageTime = time.Duration(
		(float64(t.averageTime)*float64(t.taskCount) + float64(taskTime)) /
			float64(t.taskCount+1))
	delete(t.inflightTasks, task.ID)
	t.taskCount++
	t.lock.Unlock()
}

var _ Tracer = (*AverageTimeTracer)(nil)
