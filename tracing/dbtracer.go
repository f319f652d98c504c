package tracing

import (
	"sync"

	"github.com/scanlab/tomoscan/datarecording"
	"github.com/tebeka/atexit"
)

type taskTableEntry struct {
	ID        string `tomoscan:"index"`
	ParentID  string `tomoscan:"index"`
	Kind      string `tomoscan:"intern"`
	What      string `tomoscan:"intern"`
	Where     string `tomoscan:"intern"`
	StartTime float64
	EndTime   float64
}

type stepTableEntry struct {
	TaskID string `tomoscan:"index"`
	Time   float64
	What   string `tomoscan:"intern"`
}

// DBTracer stores finished tasks into the scan database, in a
// trace_tasks table plus a trace_steps table for task milestones. The
// recorder can be shared with the catalog.
type DBTracer struct {
	mu      sync.Mutex
	clock   Clock
	backend datarecording.DataRecorder

	ongoing    map[string]Task
	terminated bool
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	clock Clock,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable("trace_tasks", taskTableEntry{})
	dataRecorder.CreateTable("trace_steps", stepTableEntry{})

	t := &DBTracer{
		clock:   clock,
		backend: dataRecorder,
		ongoing: make(map[string]Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startingTaskMustBeValid(task)

	task.StartTime = t.clock.Now()
	t.ongoing[task.ID] = task
}

func startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Where == "" {
		panic("task where must be set")
	}
}

// StepTask records a milestone of an ongoing task.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backend.InsertData("trace_steps", stepTableEntry{
		TaskID: task.ID,
		Time:   secondsFromTime(t.clock.Now()),
		What:   task.What,
	})
}

// EndTask marks the end of a task and writes it out. Ending an unknown
// task does nothing.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.ongoing[task.ID]
	if !ok {
		return
	}

	originalTask.EndTime = t.clock.Now()
	t.writeTask(originalTask)
	delete(t.ongoing, task.ID)
}

// Terminate ends all ongoing tasks at the current time and flushes the
// backend. An aborted run leaves its run task ongoing; this is where it
// gets written.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	now := t.clock.Now()

	for _, task := range t.ongoing {
		task.EndTime = now
		t.writeTask(task)
	}

	t.ongoing = nil
	t.terminated = true
	t.backend.Flush()
}

func (t *DBTracer) writeTask(task Task) {
	t.backend.InsertData("trace_tasks", taskTableEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Where:     task.Where,
		StartTime: secondsFromTime(task.StartTime),
		EndTime:   secondsFromTime(task.EndTime),
	})
}

var _ Tracer = (*DBTracer)(nil)
