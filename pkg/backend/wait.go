package backend

import "time"

// Wait is a lock acquisition blocking policy: block indefinitely, fail
// immediately, or give up after a timeout.
type Wait struct {
	block   bool
	timeout time.Duration
}

// Block waits indefinitely for the lock (bounded only by the context).
func Block() Wait {
	return Wait{block: true}
}

// NoWait fails immediately when the lock is held elsewhere.
func NoWait() Wait {
	return Wait{}
}

// WaitFor gives up after d. A non-positive d behaves like NoWait.
func WaitFor(d time.Duration) Wait {
	if d <= 0 {
		return NoWait()
	}
	return Wait{timeout: d}
}

// Blocking reports whether the policy waits indefinitely.
func (w Wait) Blocking() bool {
	return w.block
}

// Timeout returns the bounded wait duration; zero means no waiting unless
// the policy is blocking.
func (w Wait) Timeout() time.Duration {
	return w.timeout
}

// Deadline returns the wall-clock give-up time for a wait starting at now,
// and whether such a deadline exists. Blocking policies have none.
func (w Wait) Deadline(now time.Time) (time.Time, bool) {
	if w.block {
		return time.Time{}, false
	}
	return now.Add(w.timeout), true
}

// String returns a short label for logging.
func (w Wait) String() string {
	switch {
	case w.block:
		return "block"
	case w.timeout > 0:
		return "timeout=" + w.timeout.String()
	default:
		return "nowait"
	}
}
