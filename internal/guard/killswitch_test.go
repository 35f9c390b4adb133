package guard

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trade-guardian/internal/event"
)

func equitySnap(ts time.Time, equity, realized string) event.Event {
	return event.Event{
		Type:        event.TypeEquitySnapshot,
		Timestamp:   ts,
		Equity:      decimal.RequireFromString(equity),
		RealizedPnL: decimal.RequireFromString(realized),
	}
}

func newTestKillSwitch() *KillSwitch {
	return NewKillSwitch(KillSwitchOptions{
		DailyLossPct: decimal.RequireFromString("-1.5"),
		Suspension:   24 * time.Hour,
	})
}

func TestKillSwitchExactThresholdDoesNotTrigger(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestKillSwitch()

	g.Observe(equitySnap(base, "1000000", "0"))
	// Exactly -1.5% of 1,000,000.
	g.Observe(equitySnap(base.Add(time.Hour), "985000", "-15000"))

	if v := g.Verdict(base.Add(time.Hour)); v.Severity != SeverityAllow {
		t.Fatalf("恰好 -1.5%% 不应触发, 实际 %s", v.Severity)
	}
}

func TestKillSwitchStrictlyWorseTriggers(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestKillSwitch()

	g.Observe(equitySnap(base, "1000000", "0"))
	g.Observe(equitySnap(base.Add(time.Hour), "984999", "-15000.01"))

	v := g.Verdict(base.Add(time.Hour))
	if v.Severity != SeveritySuspend {
		t.Fatalf("超过阈值应触发 Suspend, 实际 %s", v.Severity)
	}
	if v.Reason != "daily_drawdown" {
		t.Fatalf("reason 应为 daily_drawdown, 实际 %q", v.Reason)
	}
	if v.Until == nil || !v.Until.Equal(base.Add(time.Hour).Add(24*time.Hour)) {
		t.Fatalf("暂停截止时间不正确: %v", v.Until)
	}
}

func TestKillSwitchRecoversAfterExactlyTwentyFourHours(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestKillSwitch()

	g.Observe(equitySnap(base, "1000000", "0"))
	g.Observe(equitySnap(base.Add(time.Hour), "980000", "-20000"))

	trigger := base.Add(time.Hour)
	if v := g.Verdict(trigger.Add(24*time.Hour - time.Second)); v.Severity != SeveritySuspend {
		t.Fatalf("24 小时内应保持 Suspend")
	}
	if v := g.Verdict(trigger.Add(24 * time.Hour)); v.Severity != SeverityAllow {
		t.Fatalf("满 24 小时应恢复 Allow, 实际 %s", v.Severity)
	}
}

func TestKillSwitchSuspensionNotShortenedByRecovery(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestKillSwitch()

	g.Observe(equitySnap(base, "1000000", "0"))
	g.Observe(equitySnap(base.Add(time.Hour), "980000", "-20000"))
	// PnL recovers fully; the breaker must hold anyway.
	g.Observe(equitySnap(base.Add(2*time.Hour), "1001000", "1000"))

	if v := g.Verdict(base.Add(3 * time.Hour)); v.Severity != SeveritySuspend {
		t.Fatalf("部分回撤恢复不应缩短暂停, 实际 %s", v.Severity)
	}
}

func TestKillSwitchDailyReset(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestKillSwitch()

	g.Observe(equitySnap(base, "1000000", "0"))
	g.Observe(equitySnap(base.Add(time.Hour), "986000", "-14000"))

	// Next trading day: baseline resets to current equity.
	nextDay := base.Add(25 * time.Hour)
	g.Observe(equitySnap(nextDay, "986000", "0"))
	g.Observe(equitySnap(nextDay.Add(time.Hour), "976000", "-10000"))

	if v := g.Verdict(nextDay.Add(time.Hour)); v.Severity != SeverityAllow {
		t.Fatalf("新交易日 -1.01%% 不应触发, 实际 %s", v.Severity)
	}
}

func TestKillSwitchPersistenceRoundTrip(t *testing.T) {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	g := newTestKillSwitch()

	g.Observe(equitySnap(base, "1000000", "0"))
	g.Observe(equitySnap(base.Add(time.Hour), "980000", "-20000"))

	data, err := g.Snapshot()
	if err != nil {
		t.Fatalf("快照失败: %v", err)
	}

	restored := newTestKillSwitch()
	if err := restored.Restore(data); err != nil {
		t.Fatalf("恢复失败: %v", err)
	}

	// The restored breaker must reproduce the identical verdict sequence.
	for _, offset := range []time.Duration{2 * time.Hour, 25 * time.Hour, 26 * time.Hour} {
		now := base.Add(offset)
		want := g.Verdict(now)
		got := restored.Verdict(now)
		if got.Severity != want.Severity {
			t.Fatalf("t+%v 判定不一致: %s vs %s", offset, got.Severity, want.Severity)
		}
	}
}
