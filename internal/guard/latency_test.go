package guard

import (
	"testing"
	"time"

	"trade-guardian/internal/event"
)

func latencySample(rtt float64) event.Event {
	return event.Event{
		Type:      event.TypeLatencySample,
		Timestamp: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		RTTMillis: rtt,
	}
}

func newTestLatencyGuard() *LatencyGuard {
	return NewLatencyGuard(LatencyGuardOptions{
		HighMillis:     12,
		ConsecutiveBad: 5,
		RecoveryGood:   3,
	})
}

func TestLatencyGuardFiveConsecutiveTrigger(t *testing.T) {
	g := newTestLatencyGuard()

	for i := 0; i < 4; i++ {
		g.Observe(latencySample(13))
	}
	if g.Degraded() {
		t.Fatal("4 次连续高延迟不应触发")
	}

	g.Observe(latencySample(13))
	v := g.Verdict(time.Now())
	if v.Severity != SeverityDowngrade {
		t.Fatalf("5 次连续高延迟应降级, 实际 %s", v.Severity)
	}
	if v.Target != event.ModeLVLL {
		t.Fatalf("降级目标应为 LV-LL, 实际 %s", v.Target)
	}
}

func TestLatencyGuardGoodSampleResetsRun(t *testing.T) {
	g := newTestLatencyGuard()

	// 4 high, 1 good, 1 high: the run restarts, no trigger.
	for i := 0; i < 4; i++ {
		g.Observe(latencySample(20))
	}
	g.Observe(latencySample(5))
	g.Observe(latencySample(20))

	if g.Degraded() {
		t.Fatal("4+1 模式不应触发降级")
	}
}

func TestLatencyGuardThresholdBoundary(t *testing.T) {
	g := newTestLatencyGuard()

	// Exactly the threshold is not "high".
	for i := 0; i < 10; i++ {
		g.Observe(latencySample(12))
	}
	if g.Degraded() {
		t.Fatal("恰好 12ms 不应计为高延迟")
	}
}

func TestLatencyGuardRecoveryHysteresis(t *testing.T) {
	g := newTestLatencyGuard()

	for i := 0; i < 5; i++ {
		g.Observe(latencySample(20))
	}
	if !g.Degraded() {
		t.Fatal("应已触发降级")
	}

	// Two good samples are not enough to recover.
	g.Observe(latencySample(5))
	g.Observe(latencySample(5))
	if !g.Degraded() {
		t.Fatal("恢复前需要 3 次连续正常样本")
	}

	g.Observe(latencySample(5))
	if g.Degraded() {
		t.Fatal("3 次连续正常样本后应恢复")
	}
}

func TestLatencyGuardGoodRunBrokenByHighSample(t *testing.T) {
	g := newTestLatencyGuard()

	for i := 0; i < 5; i++ {
		g.Observe(latencySample(20))
	}
	g.Observe(latencySample(5))
	g.Observe(latencySample(5))
	g.Observe(latencySample(20))
	g.Observe(latencySample(5))
	g.Observe(latencySample(5))

	if g.Degraded() == false {
		t.Fatal("恢复计数被打断后不应提前恢复")
	}
}

func TestLatencyGuardSnapshotRestore(t *testing.T) {
	g := newTestLatencyGuard()
	for i := 0; i < 5; i++ {
		g.Observe(latencySample(20))
	}

	data, err := g.Snapshot()
	if err != nil {
		t.Fatalf("快照失败: %v", err)
	}

	restored := newTestLatencyGuard()
	if err := restored.Restore(data); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if !restored.Degraded() {
		t.Fatal("恢复后应保持降级状态")
	}
}
