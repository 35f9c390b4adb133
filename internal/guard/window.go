package guard

import "time"

// WindowEntry is one recorded observation inside a rolling window.
type WindowEntry struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// Window keeps observations over a trailing duration and answers count/sum
// queries against it. Entries older than `now - span` are evicted lazily on
// every query, so deadlines and recovery never need active timers. A Window is
// owned by exactly one guard and is not safe for concurrent use.
type Window struct {
	span    time.Duration
	dedupe  bool
	entries []WindowEntry
}

// NewWindow builds a rolling window over the given trailing span. When dedupe
// is set, a second observation with an already-recorded timestamp is ignored,
// shielding thresholds from duplicate event delivery.
func NewWindow(span time.Duration, dedupe bool) *Window {
	return &Window{span: span, dedupe: dedupe}
}

// Record inserts one observation. An observation already older than the
// trailing span is admitted but becomes eligible for eviction on the next
// query; it never retroactively affects past verdicts.
func (w *Window) Record(ts time.Time, value float64) {
	if w.dedupe {
		for _, e := range w.entries {
			if e.Timestamp.Equal(ts) {
				return
			}
		}
	}
	w.entries = append(w.entries, WindowEntry{Timestamp: ts, Value: value})
}

// CountSince returns the number of observations within the trailing span
// ending at now, evicting anything older.
func (w *Window) CountSince(now time.Time) int {
	w.evict(now)
	return len(w.entries)
}

// SumSince returns the value sum over the trailing span ending at now.
func (w *Window) SumSince(now time.Time) float64 {
	w.evict(now)
	sum := 0.0
	for _, e := range w.entries {
		sum += e.Value
	}
	return sum
}

// Entries exposes a copy of the retained observations for persistence.
func (w *Window) Entries() []WindowEntry {
	out := make([]WindowEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Restore replaces the window contents, used when reloading persisted state.
func (w *Window) Restore(entries []WindowEntry) {
	w.entries = append(w.entries[:0], entries...)
}

func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	kept := w.entries[:0]
	for _, e := range w.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	w.entries = kept
}
