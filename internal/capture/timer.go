package capture

import (
	"sync"
	"time"
)

// resumableTimer fires fn once after d of unpaused time.
type resumableTimer struct {
	mu        sync.Mutex
	remaining time.Duration
	startedAt time.Time
	t         *time.Timer
	fn        func()
	stopped   bool
}

func startResumableTimer(d time.Duration, fn func()) *resumableTimer {
	rt := &resumableTimer{remaining: d, fn: fn}
	rt.Resume()
	return rt
}

func (rt *resumableTimer) Pause() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped || rt.t == nil {
		return
	}
	if rt.t.Stop() {
		rt.remaining -= time.Since(rt.startedAt)
		if rt.remaining < 0 {
			rt.remaining = 0
		}
	}
	rt.t = nil
}

func (rt *resumableTimer) Resume() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.stopped || rt.t != nil {
		return
	}
	rt.startedAt = time.Now()
	rt.t = time.AfterFunc(rt.remaining, rt.fn)
}

func (rt *resumableTimer) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.stopped = true
	if rt.t != nil {
		rt.t.Stop()
		rt.t = nil
	}
}
