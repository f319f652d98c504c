package tracing

import (
	"container/list"
	"sync"
	"time"
)

type taskTimeStartEnd struct {
	start, end time.Time
	completed  bool
}

// BusyTimeTracer traces the time that a domain is processing a kind of
// task. If the task processing time overlaps, this tracer only
// considers one instance of the overlapped time.
type BusyTimeTracer struct {
	lock          sync.Mutex
	clock         Clock
	filter        TaskFilter
	inflightTasks map[string]*list.Element
	taskTimes     *list.List
	busyTime      time.Duration
}

// NewBusyTimeTracer creates a new BusyTimeTracer. A nil filter accepts
// every task.
func NewBusyTimeTracer(
	clock Clock,
	filter TaskFilter,
) *BusyTimeTracer {
	t := &BusyTimeTracer{
		clock:         clock,
		filter:        filter,
		inflightTasks: make(map[string]*list.Element),
		taskTimes:     list.New(),
	}

	t.taskTimes.Init()

	return t
}

// BusyTime returns the total time that has been spent on a certain type
// of tasks, counting overlapped time once.
func (t *BusyTimeTracer) BusyTime() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.busyTime
}

// TerminateAllTasks will mark all the tasks as completed.
func (t *BusyTimeTracer) TerminateAllTasks(now time.Time) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for e := t.taskTimes.Front(); e != nil; e = e.Next() {
		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			task.completed = true
			task.end = now
		}
	}

	t.collapse(now)
}

func (t *BusyTimeTracer) extendTaskTime(
	base *taskTimeStartEnd,
	t2 *taskTimeStartEnd,
) {
	if t2.start.Before(base.start) {
		base.start = t2.start
	}

	if t2.end.After(base.end) {
		base.end = t2.end
	}
}

// StartTask records the task start time
func (t *BusyTimeTracer) StartTask(task Task) {
	task.StartTime = t.clock.Now()

	if t.filter != nil && !t.filter(task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	taskTime := &taskTimeStartEnd{start: task.StartTime}

	elem := t.taskTimes.PushBack(taskTime)
	t.inflightTasks[task.ID] = elem
}

// StepTask does nothing
func (t *BusyTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask records the end of the task
func (t *BusyTimeTracer) EndTask(task Task) {
	task.EndTime = t.clock.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	originalTask, ok := t.inflightTasks[task.ID]
	if !ok {
		return
	}

	taskTime := originalTask.Value.(*taskTimeStartEnd)
	taskTime.end = task.EndTime
	taskTime.completed = true
	delete(t.inflightTasks, task.ID)

	t.collapse(task.EndTime)
}

// collapse folds completed tasks into the busy time once no earlier
// incomplete task can still extend them.
func (t *BusyTimeTracer) collapse(now time.Time) {
	first, found := t.startTimeOfFirstIncompleteTask()
	if found && first.Before(now) {
		return
	}

	finishedTasks := make([]*taskTimeStartEnd, 0)

	var next *list.Element
	for e := t.taskTimes.Front(); e != nil; e = next {
		next = e.Next()

		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			break
		}

		if !task.end.After(now) {
			finishedTasks = append(finishedTasks, task)
			t.taskTimes.Remove(e)
		}
	}

	t.busyTime += t.taskBusyTime(finishedTasks)
}

func (t *BusyTimeTracer) startTimeOfFirstIncompleteTask() (
	time.Time, bool,
) {
	for e := t.taskTimes.Front(); e != nil; e = e.Next() {
		task := e.Value.(*taskTimeStartEnd)
		if !task.completed {
			return task.start, true
		}
	}

	return time.Time{}, false
}

func (t *BusyTimeTracer) taskBusyTime(
	tasks []*taskTimeStartEnd,
) time.Duration {
	busyTime := time.Duration(0)
	coveredMask := make(map[int]bool)

	for i, t1 := range tasks {
		if _, covered := coveredMask[i]; covered {
			continue
		}

		coveredMask[i] = true

		extTime := taskTimeStartEnd{
			start: t1.start,
			end:   t1.end,
		}

		for j, t2 := range tasks {
			if _, covered := coveredMask[j]; covered {
				continue
			}

			if t.taskTimeOverlap(t1, t2) {
				coveredMask[j] = true
				t.extendTaskTime(&extTime, t2)
			}
		}

		busyTime += extTime.end.Sub(extTime.start)
	}

	return busyTime
}

func (t *BusyTimeTracer) taskTimeOverlap(t1, t2 *taskTimeStartEnd) bool {
	if !t1.start.After(t2.start) && !t1.end.Before(t2.start) {
		return true
	}

	if !t1.start.After(t2.end) && !t1.end.Before(t2.end) {
		return true
	}

	if !t1.start.Before(t2.start) && !t1.end.After(t2.end) {
		return true
	}

	return false
}

var _ Tracer = (*BusyTimeTracer)(nil)
