package capture

import (
	"sync"

	"github.com/meridian-keys/campaign-tracker/internal/model"
)

// Stats summarizes all capture attempts since startup. Counters are all-time;
// the ring only keeps the most recent records.
type Stats struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Invalid   int            `json:"invalid"`
	ByEvent   map[string]int `json:"by_event"`
}

// ring is a fixed-capacity buffer of capture records. When full, the oldest
// record is evicted.
type ring struct {
	mu   sync.Mutex
	buf  []model.CapturedEventRecord
	next int
	full bool

	total     int
	succeeded int
	failed    int
	invalid   int
	byEvent   map[string]int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 100
	}
	return &ring{
		buf:     make([]model.CapturedEventRecord, capacity),
		byEvent: make(map[string]int),
	}
}

func (r *ring) add(rec model.CapturedEventRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}

	r.total++
	if rec.Success {
		r.succeeded++
	} else {
		r.failed++
	}
	if !rec.Validation.IsValid {
		r.invalid++
	}
	r.byEvent[rec.EventName]++
}

// recent returns up to n records, newest first.
func (r *ring) recent(n int) []model.CapturedEventRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]model.CapturedEventRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *ring) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byEvent := make(map[string]int, len(r.byEvent))
	for k, v := range r.byEvent {
		byEvent[k] = v
	}
	return Stats{
		Total:     r.total,
		Succeeded: r.succeeded,
		Failed:    r.failed,
		Invalid:   r.invalid,
		ByEvent:   byEvent,
	}
}
