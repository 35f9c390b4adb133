package guard

import (
	"testing"
	"time"
)

func TestWindowEviction(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	w := NewWindow(15*time.Minute, false)

	w.Record(base, 1)
	w.Record(base.Add(5*time.Minute), 2)
	w.Record(base.Add(20*time.Minute), 3)

	if got := w.CountSince(base.Add(20 * time.Minute)); got != 2 {
		t.Fatalf("期望窗口内 2 条, 实际 %d", got)
	}
	if got := w.SumSince(base.Add(20 * time.Minute)); got != 5 {
		t.Fatalf("期望窗口求和 5, 实际 %v", got)
	}
}

func TestWindowStaleInsertEvictedOnNextQuery(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	w := NewWindow(time.Minute, false)

	// Older than now-W at insertion time: admitted, then gone on next query.
	w.Record(base.Add(-10*time.Minute), 1)
	if got := w.CountSince(base); got != 0 {
		t.Fatalf("过期观测应在查询时被驱逐, 实际 count=%d", got)
	}
}

func TestWindowDedupe(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	deduped := NewWindow(15*time.Minute, true)
	deduped.Record(base, 1)
	deduped.Record(base, 1)
	if got := deduped.CountSince(base); got != 1 {
		t.Fatalf("去重窗口应只保留 1 条, 实际 %d", got)
	}

	raw := NewWindow(15*time.Minute, false)
	raw.Record(base, 1)
	raw.Record(base, 1)
	if got := raw.CountSince(base); got != 2 {
		t.Fatalf("非去重窗口应保留 2 条, 实际 %d", got)
	}
}

func TestWindowRestoreRoundTrip(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	w := NewWindow(15*time.Minute, false)
	w.Record(base, 1)
	w.Record(base.Add(time.Minute), 2)

	restored := NewWindow(15*time.Minute, false)
	restored.Restore(w.Entries())
	if got := restored.CountSince(base.Add(time.Minute)); got != 2 {
		t.Fatalf("恢复后应有 2 条, 实际 %d", got)
	}
}
