package guard

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trade-guardian/internal/event"
)

// SlippageGuardOptions tune adverse-slippage detection.
type SlippageGuardOptions struct {
	// PerTradePct is the adverse-slippage fraction (in percent) beyond which
	// a single fill counts toward the trigger.
	PerTradePct  decimal.Decimal
	Window       time.Duration
	TriggerCount int
	Dedupe       bool

	// StatsSize bounds the per-instrument history used for the adaptive
	// pre-trade threshold; StatsFloorPct is its lower bound.
	StatsSize     int
	StatsFloorPct float64
	SigmaMult     float64
}

// SlippageGuard pauses trading when fills repeatedly land worse than their
// expected price. Recovery happens purely by window aging; the window itself
// provides the hysteresis, so no cooldown is needed.
type SlippageGuard struct {
	opts   SlippageGuardOptions
	window *Window
	stats  map[string][]float64
}

// NewSlippageGuard constructs a SlippageGuard.
func NewSlippageGuard(opts SlippageGuardOptions) *SlippageGuard {
	if opts.StatsSize <= 0 {
		opts.StatsSize = 2000
	}
	if opts.SigmaMult == 0 {
		opts.SigmaMult = 1.5
	}
	return &SlippageGuard{
		opts:   opts,
		window: NewWindow(opts.Window, opts.Dedupe),
		stats:  make(map[string][]float64),
	}
}

// AdverseSlippagePct returns the fill's slippage as a percentage of expected
// price, signed so that adverse slippage is positive regardless of direction:
// a buy filled above expectation and a sell filled below are both adverse.
func AdverseSlippagePct(expected, fill decimal.Decimal, dir event.Direction) decimal.Decimal {
	pct := fill.Sub(expected).Div(expected).Mul(decimal.NewFromInt(100))
	if dir == event.DirectionSell {
		pct = pct.Neg()
	}
	return pct
}

// Observe consumes a fill event.
func (g *SlippageGuard) Observe(ev event.Event) {
	if ev.Type != event.TypeFill {
		return
	}

	pct := AdverseSlippagePct(ev.ExpectedPrice, ev.FillPrice, ev.Direction)
	g.recordStat(ev.Instrument, pct.InexactFloat64())

	if pct.GreaterThan(g.opts.PerTradePct) {
		g.window.Record(ev.Timestamp, pct.InexactFloat64())
	}
}

// Verdict pauses while the windowed adverse count exceeds the trigger.
func (g *SlippageGuard) Verdict(now time.Time) Verdict {
	if g.window.CountSince(now) > g.opts.TriggerCount {
		return Pause("slippage", nil)
	}
	return Allow()
}

func (g *SlippageGuard) recordStat(instrument string, pct float64) {
	if instrument == "" {
		return
	}
	hist := append(g.stats[instrument], pct)
	if len(hist) > g.opts.StatsSize {
		hist = hist[len(hist)-g.opts.StatsSize:]
	}
	g.stats[instrument] = hist
}

// Stats returns the observed mean and standard deviation of slippage for an
// instrument. Fewer than ten observations yield zeros so early trading is not
// judged on noise.
func (g *SlippageGuard) Stats(instrument string) (mean, stddev float64) {
	hist := g.stats[instrument]
	if len(hist) < 10 {
		return 0, 0
	}
	for _, v := range hist {
		mean += v
	}
	mean /= float64(len(hist))
	var varsum float64
	for _, v := range hist {
		d := v - mean
		varsum += d * d
	}
	stddev = math.Sqrt(varsum / float64(len(hist)-1))
	return mean, stddev
}

// PretradeThreshold is the adaptive per-fill ceiling for an instrument:
// max(mean + SigmaMult*stddev, floor). Callers may use it to reject an order
// before submission; it does not feed the verdict.
func (g *SlippageGuard) PretradeThreshold(instrument string) float64 {
	mean, stddev := g.Stats(instrument)
	return math.Max(mean+g.opts.SigmaMult*stddev, g.opts.StatsFloorPct)
}

type slippageGuardState struct {
	Window []WindowEntry `json:"window"`
}

// Snapshot serializes the adverse-fill window. The adaptive statistics are
// advisory only and rebuilt from live fills after a restart.
func (g *SlippageGuard) Snapshot() ([]byte, error) {
	return json.Marshal(slippageGuardState{Window: g.window.Entries()})
}

// Restore reloads the persisted window.
func (g *SlippageGuard) Restore(data []byte) error {
	var st slippageGuardState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore slippage guard: %w", err)
	}
	g.window.Restore(st.Window)
	return nil
}
