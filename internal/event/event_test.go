package event

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDecodeLatencySample(t *testing.T) {
	raw := []byte(`{"type":"latency_sample","ts":"2026-08-30T10:00:00Z","rtt_ms":14.5}`)

	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("解码合法事件不应失败: %v", err)
	}
	if ev.Type != TypeLatencySample {
		t.Fatalf("事件类型错误: %s", ev.Type)
	}
	if ev.RTTMillis != 14.5 {
		t.Fatalf("rtt_ms 解析错误: %v", ev.RTTMillis)
	}
	if ev.BotID != "" {
		t.Fatalf("平台级事件不应携带 bot_id: %q", ev.BotID)
	}
}

func TestDecodeFill(t *testing.T) {
	raw := []byte(`{"type":"fill","ts":"2026-08-30T10:00:00Z","bot_id":"main","expected_price":"100.5","fill_price":"100.9","direction":"buy","instrument":"EURUSD"}`)

	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("解码成交事件不应失败: %v", err)
	}
	if !ev.ExpectedPrice.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("expected_price 解析错误: %s", ev.ExpectedPrice)
	}
	if ev.Direction != DirectionBuy {
		t.Fatalf("direction 解析错误: %s", ev.Direction)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"type":`)); err == nil {
		t.Fatal("残缺 JSON 应返回错误")
	}
}

func TestValidateRejectsBadEvents(t *testing.T) {
	ts := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		ev   Event
	}{
		{"未知类型", Event{Type: "heartbeat", Timestamp: ts}},
		{"缺少时间戳", Event{Type: TypeLatencySample}},
		{"负 RTT", Event{Type: TypeLatencySample, Timestamp: ts, RTTMillis: -1}},
		{"非法模式", Event{Type: TypeModeTransition, Timestamp: ts, FromMode: "XX", ToMode: ModeLV}},
		{"成交缺少方向", Event{Type: TypeFill, Timestamp: ts, ExpectedPrice: decimal.NewFromInt(100)}},
		{"成交期望价为零", Event{Type: TypeFill, Timestamp: ts, Direction: DirectionSell}},
		{"权益为零", Event{Type: TypeEquitySnapshot, Timestamp: ts}},
		{"活动事件缺少 bot_id", Event{Type: TypeBotActivity, Timestamp: ts, Active: true}},
	}

	for _, tc := range cases {
		if err := tc.ev.Validate(); err == nil {
			t.Fatalf("%s: 应返回校验错误", tc.name)
		}
	}
}

func TestValidateAcceptsModeTransition(t *testing.T) {
	ev := Event{
		Type:      TypeModeTransition,
		Timestamp: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		FromMode:  ModeHV,
		ToMode:    ModeLVLL,
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("合法模式转换不应报错: %v", err)
	}
}
