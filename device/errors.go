package device

import (
	"fmt"
	"time"
)

// TimeoutError reports that a wait did not resolve within its deadline. It
// always names what was being waited on, the target condition, and the
// timeout that elapsed.
type TimeoutError struct {
	Waiting string
	Target  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s to reach %s after %v",
		e.Waiting, e.Target, e.Timeout)
}

// CancelledError reports that a pending completion was withdrawn before it
// resolved.
type CancelledError struct {
	Reason string
}

func (e *CancelledError) Error() string {
	return "cancelled: " + e.Reason
}

// MotionError reports that a motor finished a move without reaching its
// target.
type MotionError struct {
	Motor   string
	Target  float64
	Reached float64
}

func (e *MotionError) Error() string {
	return fmt.Sprintf("motor %s stopped at %v, short of target %v",
		e.Motor, e.Reached, e.Target)
}
