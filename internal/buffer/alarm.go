package buffer

import "time"

// AlarmScheduler tracks the single pending flush alarm a gateway session
// may have outstanding at any time. Setting a nearer alarm replaces a
// further one; it never makes an alarm later.
type AlarmScheduler struct {
	pending bool
	at      time.Time
}

// Schedule requests an alarm at `at`. If an alarm is already pending at
// an earlier time, the request is ignored (the nearer alarm wins).
func (a *AlarmScheduler) Schedule(at time.Time) {
	if a.pending && a.at.Before(at) {
		return
	}
	a.pending = true
	a.at = at
}

// Pending returns the currently scheduled alarm time, if any.
func (a *AlarmScheduler) Pending() (time.Time, bool) {
	return a.at, a.pending
}

// Clear removes any pending alarm.
func (a *AlarmScheduler) Clear() {
	a.pending = false
}

// RetryBackoff computes the delay before the nth consecutive flush
// retry (n starting at 1): min(base*2^(n-1), max).
func RetryBackoff(cfg Config, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	d := cfg.BaseRetryBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= cfg.MaxRetryBackoff {
			return cfg.MaxRetryBackoff
		}
	}
	if d > cfg.MaxRetryBackoff {
		return cfg.MaxRetryBackoff
	}
	return d
}
