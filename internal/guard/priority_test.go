package guard

import (
	"testing"
	"time"

	"trade-guardian/internal/event"
)

func activity(bot string, active bool) event.Event {
	return event.Event{
		Type:      event.TypeBotActivity,
		Timestamp: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		BotID:     bot,
		Active:    active,
	}
}

func newTestPriorityGuard() *PriorityGuard {
	return NewPriorityGuard(map[string]Priority{
		"micro_rev": PriorityHigh,
		"main":      PriorityNormal,
	})
}

func TestPriorityGuardLevelTriggered(t *testing.T) {
	g := newTestPriorityGuard()

	if v := g.VerdictFor("main"); v.Severity != SeverityAllow {
		t.Fatalf("无高优先级活动时应 Allow, 实际 %s", v.Severity)
	}

	g.Observe(activity("micro_rev", true))
	v := g.VerdictFor("main")
	if v.Severity != SeverityPause || v.Reason != "priority_preempt" {
		t.Fatalf("高优先级活动期间应 Pause(priority_preempt), 实际 %v", v)
	}
	if v.Until != nil {
		t.Fatal("priority_preempt 为电平触发, 不应带截止时间")
	}

	// Release is immediate, no cooldown.
	g.Observe(activity("micro_rev", false))
	if v := g.VerdictFor("main"); v.Severity != SeverityAllow {
		t.Fatalf("高优先级停止后应立即恢复, 实际 %s", v.Severity)
	}
}

func TestPriorityGuardHighBotNeverPreempted(t *testing.T) {
	g := newTestPriorityGuard()

	g.Observe(activity("micro_rev", true))
	g.Observe(activity("main", true))

	if v := g.VerdictFor("micro_rev"); v.Severity != SeverityAllow {
		t.Fatalf("HIGH 机器人不应被抢占, 实际 %s", v.Severity)
	}
}

func TestPriorityGuardIgnoresUnknownBot(t *testing.T) {
	g := newTestPriorityGuard()

	g.Observe(activity("intruder", true))
	if v := g.VerdictFor("main"); v.Severity != SeverityAllow {
		t.Fatalf("未注册机器人的活动不应影响判定, 实际 %s", v.Severity)
	}
}

func TestPriorityGuardCPUWeights(t *testing.T) {
	g := newTestPriorityGuard()

	weights := g.CPUWeights()
	if weights["micro_rev"] != 100 || weights["main"] != 50 {
		t.Fatalf("空闲时权重不正确: %v", weights)
	}

	g.Observe(activity("micro_rev", true))
	weights = g.CPUWeights()
	if weights["main"] != 0 {
		t.Fatalf("高优先级活动期间 NORMAL 权重应为 0, 实际 %v", weights)
	}
}
