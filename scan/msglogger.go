package scan

import (
	"log"
)

// A LogHook is a hook that is responsible for recording information from the
// scan
type LogHook interface {
	Hook
}

// LogHookBase provides the common logic for all LogHooks
type LogHookBase struct {
	*log.Logger
}

// MsgLogger is a hook that prints every instruction the engine executes
type MsgLogger struct {
	LogHookBase
}

// NewMsgLogger returns a new MsgLogger which will write in to the logger
func NewMsgLogger(logger *log.Logger) *MsgLogger {
	h := new(MsgLogger)
	h.Logger = logger
	return h
}

// Func writes the instruction information into the logger
func (h *MsgLogger) Func(ctx HookCtx) {
	if ctx.Pos != HookPosBeforeMsg {
		return
	}

	msg, ok := ctx.Item.(Msg)
	if !ok {
		return
	}

	h.Printf("%s", msg)
}
