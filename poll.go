package tasksched

import (
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
)

const (
	pollInitial = 50 * time.Microsecond
	pollMax     = 2 * time.Millisecond
)

// pollUntil calls try until it reports true or timeout expires.
//
// try is always called at least once. A zero timeout means a single
// attempt, a negative timeout polls forever. Callers release their locks
// inside try, so every iteration reacquires them. The sleep between
// attempts follows a bounded jittered backoff and never overshoots the
// deadline.
func pollUntil(timeout time.Duration, try func() bool) bool {
	if try() {
		return true
	}
	if timeout == 0 {
		return false
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	bo := boff.New(pollInitial, pollMax, time.Now().UnixNano())
	for {
		delay := bo.Next()
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false
			}
			if delay > remaining {
				delay = remaining
			}
		}
		time.Sleep(delay)
		if try() {
			return true
		}
	}
}
