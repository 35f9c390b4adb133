package guard

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trade-guardian/internal/event"
)

// SameDayFunc reports whether two instants fall on the same trading day. The
// day boundary is owned by an external clock collaborator, typically UTC
// calendar days.
type SameDayFunc func(a, b time.Time) bool

// UTCSameDay is the default trading-day boundary.
func UTCSameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// KillSwitchOptions tune the daily-drawdown circuit breaker.
type KillSwitchOptions struct {
	// DailyLossPct is the loss threshold as a negative percentage of
	// day-start equity, e.g. -1.5. A loss strictly worse than this triggers.
	DailyLossPct decimal.Decimal
	Suspension   time.Duration
	SameDay      SameDayFunc
}

// KillSwitch suspends all trading for a fixed period once realized daily loss
// breaches the threshold. The suspension is absolute: partial recovery never
// shortens it. This is a circuit breaker, not a dynamic risk model.
type KillSwitch struct {
	opts KillSwitchOptions

	dayStartEquity decimal.Decimal
	realizedPnL    decimal.Decimal
	lastSeen       time.Time
	suspendedUntil time.Time
}

// NewKillSwitch constructs a KillSwitch.
func NewKillSwitch(opts KillSwitchOptions) *KillSwitch {
	if opts.SameDay == nil {
		opts.SameDay = UTCSameDay
	}
	return &KillSwitch{opts: opts}
}

// Observe consumes an equity snapshot: rolls the trading day over when the
// boundary is crossed, then checks the loss ratio against the threshold.
func (g *KillSwitch) Observe(ev event.Event) {
	if ev.Type != event.TypeEquitySnapshot {
		return
	}

	if g.lastSeen.IsZero() || !g.opts.SameDay(g.lastSeen, ev.Timestamp) {
		g.dayStartEquity = ev.Equity
		g.realizedPnL = decimal.Zero
	} else {
		g.realizedPnL = ev.RealizedPnL
	}
	g.lastSeen = ev.Timestamp

	if ev.Timestamp.Before(g.suspendedUntil) {
		return
	}
	if g.dayStartEquity.Sign() <= 0 {
		return
	}

	lossPct := g.realizedPnL.Div(g.dayStartEquity).Mul(decimal.NewFromInt(100))
	// Strict comparison: a loss of exactly the threshold does not trip.
	if lossPct.LessThan(g.opts.DailyLossPct) {
		g.suspendedUntil = ev.Timestamp.Add(g.opts.Suspension)
	}
}

// Verdict reports the breaker state at the given instant.
func (g *KillSwitch) Verdict(now time.Time) Verdict {
	if now.Before(g.suspendedUntil) {
		return Suspend("daily_drawdown", g.suspendedUntil)
	}
	return Allow()
}

// Suspended reports whether the breaker is tripped at now.
func (g *KillSwitch) Suspended(now time.Time) bool {
	return now.Before(g.suspendedUntil)
}

type killSwitchState struct {
	DayStartEquity decimal.Decimal `json:"day_start_equity"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	LastSeen       time.Time       `json:"last_seen"`
	SuspendedUntil time.Time       `json:"suspended_until"`
}

// Snapshot serializes the breaker state, including the suspension deadline,
// so a restart cannot silently lift an active suspension.
func (g *KillSwitch) Snapshot() ([]byte, error) {
	return json.Marshal(killSwitchState{
		DayStartEquity: g.dayStartEquity,
		RealizedPnL:    g.realizedPnL,
		LastSeen:       g.lastSeen,
		SuspendedUntil: g.suspendedUntil,
	})
}

// Restore reloads persisted breaker state.
func (g *KillSwitch) Restore(data []byte) error {
	var st killSwitchState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore kill switch: %w", err)
	}
	g.dayStartEquity = st.DayStartEquity
	g.realizedPnL = st.RealizedPnL
	g.lastSeen = st.LastSeen
	g.suspendedUntil = st.SuspendedUntil
	return nil
}
