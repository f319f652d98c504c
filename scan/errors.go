package scan

import (
	"errors"
	"fmt"
)

// ErrAborted is delivered to a plan, once, when the run is aborted. The plan
// is expected to let it propagate so its deferred cleanup runs.
var ErrAborted = errors.New("run aborted")

// ErrEngineBusy is returned by Run when another plan is already running.
var ErrEngineBusy = errors.New("run engine is busy")

// An IllegalSequenceError reports an instruction that is not legal in the
// engine's current run state, like opening a run twice or saving a bundle
// that was never created.
type IllegalSequenceError struct {
	Command Command
	Reason  string
}

func (e *IllegalSequenceError) Error() string {
	return fmt.Sprintf("illegal %s: %s", e.Command, e.Reason)
}
