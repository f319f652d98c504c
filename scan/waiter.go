package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/scanlab/tomoscan/device"
)

// Defaults for WaitForValue.
const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultWaitTimeout  = 10 * time.Second
)

// WaitForValue polls sig until it reads exactly target. It returns nil
// immediately when the signal is already there, a TimeoutError when the
// deadline passes, and ctx.Err() when ctx is cancelled first. Zero poll or
// timeout mean the package defaults.
//
// The deadline is checked after each poll sleep and before the re-read, so a
// signal that reaches the target during the final sleep still times out.
func WaitForValue(
	ctx context.Context,
	sig device.Signal,
	target float64,
	poll, timeout time.Duration,
) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	if sig.Read() == target {
		return nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return &device.TimeoutError{
				Waiting: sig.Name(),
				Target:  fmt.Sprintf("value %v", target),
				Timeout: timeout,
			}
		}

		if sig.Read() == target {
			return nil
		}
	}
}
