package scan

import (
	"context"
)

// planReply carries the outcome of one executed instruction back to the plan.
type planReply struct {
	value interface{}
	err   error
}

// An Emitter is the plan's side of the conversation with the RunEngine. A
// plan hands instructions to the engine through Emit and blocks until each
// one is executed.
type Emitter struct {
	msgs    chan<- Msg
	replies <-chan planReply
	ctx     context.Context
}

// Emit executes one instruction on the engine and returns its result. After
// an abort, the first Emit returns ErrAborted; later ones execute normally
// so deferred cleanup still reaches the hardware.
func (e *Emitter) Emit(msg Msg) (interface{}, error) {
	e.msgs <- msg
	r := <-e.replies

	return r.value, r.err
}

// Context is cancelled when the run is aborted. Plans pass it to blocking
// helpers like WaitForValue so an abort interrupts them.
func (e *Emitter) Context() context.Context {
	return e.ctx
}
