package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Mode is a trading-mode tier. LVLL is the fail-safe tier with the most
// conservative execution behaviour.
type Mode string

const (
	ModeHV   Mode = "HV"
	ModeLV   Mode = "LV"
	ModeLVLL Mode = "LV-LL"
)

// Valid reports whether m is a known trading mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeHV, ModeLV, ModeLVLL:
		return true
	}
	return false
}

// Direction of a fill relative to the market.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Type discriminates telemetry event variants.
type Type string

const (
	TypeLatencySample  Type = "latency_sample"
	TypeModeTransition Type = "mode_transition"
	TypeFill           Type = "fill"
	TypeEquitySnapshot Type = "equity_snapshot"
	TypeBotActivity    Type = "bot_activity"
)

// Event is one telemetry observation from the feed. Exactly one variant's
// payload fields are meaningful, selected by Type. Events are immutable once
// created; BotID is empty for platform-wide telemetry that applies to every
// bot.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"ts"`
	BotID     string    `json:"bot_id,omitempty"`

	// latency_sample
	RTTMillis float64 `json:"rtt_ms,omitempty"`

	// mode_transition
	FromMode Mode `json:"from_mode,omitempty"`
	ToMode   Mode `json:"to_mode,omitempty"`

	// fill
	ExpectedPrice decimal.Decimal `json:"expected_price,omitempty"`
	FillPrice     decimal.Decimal `json:"fill_price,omitempty"`
	Direction     Direction       `json:"direction,omitempty"`
	Instrument    string          `json:"instrument,omitempty"`

	// equity_snapshot
	Equity      decimal.Decimal `json:"equity,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl,omitempty"`

	// bot_activity
	Active bool `json:"active,omitempty"`
}

// Decode parses a wire envelope and validates the variant payload.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the fields required by the event's variant.
func (e Event) Validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event %q missing timestamp", e.Type)
	}

	switch e.Type {
	case TypeLatencySample:
		if e.RTTMillis < 0 {
			return fmt.Errorf("latency sample rtt_ms must be non-negative, got %v", e.RTTMillis)
		}
	case TypeModeTransition:
		if !e.FromMode.Valid() || !e.ToMode.Valid() {
			return fmt.Errorf("mode transition has invalid modes %q -> %q", e.FromMode, e.ToMode)
		}
	case TypeFill:
		if e.ExpectedPrice.IsZero() {
			return fmt.Errorf("fill expected_price must be non-zero")
		}
		if e.Direction != DirectionBuy && e.Direction != DirectionSell {
			return fmt.Errorf("fill has invalid direction %q", e.Direction)
		}
	case TypeEquitySnapshot:
		if e.Equity.Sign() <= 0 {
			return fmt.Errorf("equity snapshot must carry positive equity")
		}
	case TypeBotActivity:
		if e.BotID == "" {
			return fmt.Errorf("bot activity event missing bot_id")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
