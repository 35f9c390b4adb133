package guard

import (
	"testing"
	"time"

	"trade-guardian/internal/event"
)

func TestCombineDominanceOrdering(t *testing.T) {
	until := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)

	allow := Allow()
	downgrade := Downgrade("latency_degraded", event.ModeLVLL)
	pause := Pause("mode_flap", &until)
	suspend := Suspend("daily_drawdown", until)

	cases := []struct {
		name string
		in   []Verdict
		want Severity
	}{
		{"all_allow", []Verdict{allow, allow, allow}, SeverityAllow},
		{"downgrade_beats_allow", []Verdict{allow, downgrade, allow}, SeverityDowngrade},
		{"pause_beats_downgrade", []Verdict{downgrade, pause, allow}, SeverityPause},
		{"suspend_beats_all", []Verdict{pause, downgrade, suspend, allow}, SeveritySuspend},
		{"order_independent", []Verdict{suspend, pause, downgrade}, SeveritySuspend},
		{"empty", nil, SeverityAllow},
	}

	for _, tc := range cases {
		if got := Combine(tc.in...); got.Severity != tc.want {
			t.Fatalf("%s: 期望 %s, 实际 %s", tc.name, tc.want, got.Severity)
		}
	}
}

func TestCombineKeepsWinningVerdictFields(t *testing.T) {
	until := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	combined := Combine(Allow(), Suspend("daily_drawdown", until), Pause("mode_flap", nil))

	if combined.Reason != "daily_drawdown" {
		t.Fatalf("合并结果应保留胜出判定的 reason, 实际 %q", combined.Reason)
	}
	if combined.Until == nil || !combined.Until.Equal(until) {
		t.Fatalf("合并结果应保留胜出判定的截止时间: %v", combined.Until)
	}
}
