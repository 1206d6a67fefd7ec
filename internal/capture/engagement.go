package capture

import (
	"context"
	"sync"
	"time"
)

// EngagementTracker accumulates session activity signals and fires a single
// session_quality event once the computed score crosses the threshold. It
// does nothing until Start is called.
//
// This is a library API for whatever owns a visitor session: the server
// process has no per-visitor lifecycle, so embedding frontends construct one
// per session, feed it RecordScroll/RecordActivity from their activity
// signals, and Stop it on session end. Tuning lives under the
// capture.engagement_* config keys.
type EngagementTracker struct {
	facade    *Facade
	opts      Options
	interval  time.Duration
	threshold float64

	mu            sync.Mutex
	maxScrollPct  float64
	activeSeconds float64
	fired         bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngagementTracker creates a tracker that reports through the given
// facade using the session identity in opts.
func NewEngagementTracker(f *Facade, opts Options, interval time.Duration, threshold float64) *EngagementTracker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if threshold <= 0 {
		threshold = 30
	}
	return &EngagementTracker{
		facade:    f,
		opts:      opts,
		interval:  interval,
		threshold: threshold,
		stop:      make(chan struct{}),
	}
}

// RecordScroll notes the deepest scroll position seen, as a percentage.
func (t *EngagementTracker) RecordScroll(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	if pct > t.maxScrollPct {
		t.maxScrollPct = pct
	}
	t.mu.Unlock()
}

// RecordActivity adds seconds of active engagement (visible tab, input).
func (t *EngagementTracker) RecordActivity(seconds float64) {
	if seconds <= 0 {
		return
	}
	t.mu.Lock()
	t.activeSeconds += seconds
	t.mu.Unlock()
}

// Score computes the current engagement-quality score on a 0..100 scale.
// Scroll depth and active time each contribute half; active time saturates at
// one minute.
func (t *EngagementTracker) Score() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scoreLocked()
}

func (t *EngagementTracker) scoreLocked() float64 {
	active := t.activeSeconds
	if active > 60 {
		active = 60
	}
	return t.maxScrollPct*0.5 + (active/60)*50
}

// Start runs the periodic evaluation loop until the quality event fires, Stop
// is called, or ctx is done.
func (t *EngagementTracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				if t.evaluate(ctx) {
					return
				}
			}
		}
	}()
}

// Stop halts the evaluation loop. Safe to call more than once.
func (t *EngagementTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// evaluate fires the session_quality event when the threshold is met.
// Returns true once fired so the loop can exit.
func (t *EngagementTracker) evaluate(ctx context.Context) bool {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return true
	}
	score := t.scoreLocked()
	if score < t.threshold {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	scroll := t.maxScrollPct
	active := t.activeSeconds
	t.mu.Unlock()

	t.facade.Capture(ctx, "session_quality", map[string]any{
		"quality":        score,
		"scroll_depth":   scroll,
		"active_seconds": active,
	}, t.opts)
	return true
}
