package tracing

import (
	"fmt"

	"github.com/scanlab/tomoscan/scan"
)

// CollectTrace attaches a hook to the engine that derives tasks from
// its instruction stream and forwards them to the tracer. Every
// instruction becomes a "msg" task located at its target device; each
// run becomes a "run" task (ID equal to the run UID) parenting the
// instructions inside it; checkpoints become steps of the run task.
func CollectTrace(engine *scan.RunEngine, tracer Tracer) {
	engine.AcceptHook(&engineTraceHook{
		engine: engine,
		tracer: tracer,
	})
}

// engineTraceHook translates msg hook invocations into tasks. Hooks
// run on the engine goroutine, so the fields need no lock.
type engineTraceHook struct {
	engine *scan.RunEngine
	tracer Tracer

	msgCount  int
	msgTaskID string
	runTaskID string
}

func (h *engineTraceHook) Func(ctx scan.HookCtx) {
	msg, ok := ctx.Item.(scan.Msg)
	if !ok {
		return
	}

	switch ctx.Pos {
	case scan.HookPosBeforeMsg:
		h.beforeMsg(msg)
	case scan.HookPosAfterMsg:
		h.afterMsg(msg, ctx.Detail)
	}
}

func (h *engineTraceHook) beforeMsg(msg scan.Msg) {
	h.msgCount++
	h.msgTaskID = fmt.Sprintf("msg-%d", h.msgCount)

	h.tracer.StartTask(Task{
		ID:       h.msgTaskID,
		ParentID: h.runTaskID,
		Kind:     "msg",
		What:     string(msg.Command),
		Where:    msgLocation(msg),
	})

	if msg.Command == scan.CmdCheckpoint && h.runTaskID != "" {
		h.tracer.StepTask(Task{ID: h.runTaskID, What: "checkpoint"})
	}
}

func (h *engineTraceHook) afterMsg(msg scan.Msg, detail interface{}) {
	h.tracer.EndTask(Task{ID: h.msgTaskID})

	switch msg.Command {
	case scan.CmdOpenRun:
		if detail != nil {
			return
		}

		status := h.engine.Status()
		h.runTaskID = status.RunUID

		h.tracer.StartTask(Task{
			ID:    h.runTaskID,
			Kind:  "run",
			What:  status.Plan,
			Where: "run_engine",
		})
	case scan.CmdCloseRun:
		if h.runTaskID == "" {
			return
		}

		h.tracer.EndTask(Task{ID: h.runTaskID})
		h.runTaskID = ""
	}
}

func msgLocation(msg scan.Msg) string {
	if msg.Device != nil {
		return msg.Device.Name()
	}

	return "run_engine"
}
