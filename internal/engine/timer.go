package engine

import "time"

// timer is a cancellable one-shot. Every transition that invalidates a
// pending fire stops it, but the real safety net is the precondition
// check inside the transaction the fire runs. Callers hold the engine
// mutex.
type timer struct {
	t *time.Timer
}

func (tm *timer) schedule(d time.Duration, fn func()) {
	tm.stop()
	tm.t = time.AfterFunc(d, fn)
}

func (tm *timer) stop() {
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}
