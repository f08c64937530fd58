package engine

import (
	"sync"
	"time"

	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
)

// throttle coalesces bursts of the same event name. The first call in a
// quiet period fires at once; calls inside the window only replace the
// pending payload, which is flushed once when the window elapses. State is
// kept per event name so a noisy event never delays a different one.
type throttle struct {
	window time.Duration
	fire   func(name string, data map[string]interface{})
	now    func() time.Time

	mu      sync.Mutex
	slots   map[string]*slot
	stopped bool
}

type slot struct {
	lastFire time.Time
	pending  map[string]interface{}
	timer    *time.Timer
}

func newThrottle(window time.Duration, fire func(string, map[string]interface{})) *throttle {
	return &throttle{
		window: window,
		fire:   fire,
		now:    time.Now,
		slots:  make(map[string]*slot),
	}
}

// Offer submits one occurrence of an event. It reports whether the event
// fired immediately.
func (t *throttle) Offer(name string, data map[string]interface{}) bool {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	s, ok := t.slots[name]
	if !ok {
		s = &slot{}
		t.slots[name] = s
	}
	now := t.now()

	if s.timer == nil && (s.lastFire.IsZero() || now.Sub(s.lastFire) >= t.window) {
		s.lastFire = now
		t.mu.Unlock()
		t.fire(name, data)
		return true
	}

	s.pending = data
	metrics.EventsThrottled.Inc()
	if s.timer == nil {
		delay := t.window - now.Sub(s.lastFire)
		if delay < 0 {
			delay = 0
		}
		s.timer = time.AfterFunc(delay, func() { t.flush(name) })
	}
	t.mu.Unlock()
	return false
}

func (t *throttle) flush(name string) {
	t.mu.Lock()
	s, ok := t.slots[name]
	if !ok || t.stopped {
		t.mu.Unlock()
		return
	}
	data := s.pending
	s.pending = nil
	s.timer = nil
	s.lastFire = t.now()
	t.mu.Unlock()
	t.fire(name, data)
}

// Stop cancels every pending trailing flush. Offer is a no-op afterwards.
func (t *throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, s := range t.slots {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.pending = nil
	}
}
