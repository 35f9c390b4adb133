package guard

import (
	"encoding/json"
	"fmt"
	"time"

	"trade-guardian/internal/event"
)

// LatencyGuardOptions tune fail-safe latency monitoring. The RTT threshold
// differs between venues; set it per deployment.
type LatencyGuardOptions struct {
	HighMillis     float64
	ConsecutiveBad int
	RecoveryGood   int
}

// LatencyGuard downgrades execution to the fail-safe tier after a run of
// consecutive high round-trip samples. "Consecutive" is defined by arrival
// order, not timestamp order, so out-of-order delivery cannot spuriously
// reset the run. Recovery requires its own run of good samples (hysteresis),
// preventing flapping at the threshold boundary.
type LatencyGuard struct {
	opts LatencyGuardOptions

	highRun  int
	goodRun  int
	degraded bool
}

// NewLatencyGuard constructs a LatencyGuard.
func NewLatencyGuard(opts LatencyGuardOptions) *LatencyGuard {
	return &LatencyGuard{opts: opts}
}

// Observe consumes one latency sample in arrival order.
func (g *LatencyGuard) Observe(ev event.Event) {
	if ev.Type != event.TypeLatencySample {
		return
	}

	if ev.RTTMillis > g.opts.HighMillis {
		g.highRun++
		g.goodRun = 0
		if !g.degraded && g.highRun >= g.opts.ConsecutiveBad {
			g.degraded = true
		}
		return
	}

	g.highRun = 0
	if !g.degraded {
		return
	}
	g.goodRun++
	if g.goodRun >= g.opts.RecoveryGood {
		g.degraded = false
		g.goodRun = 0
	}
}

// Degraded reports whether the guard currently forces the fail-safe tier.
func (g *LatencyGuard) Degraded() bool {
	return g.degraded
}

// Verdict downgrades rather than halts: elevated latency degrades execution
// quality but does not invalidate the strategy.
func (g *LatencyGuard) Verdict(time.Time) Verdict {
	if g.degraded {
		return Downgrade("latency_degraded", event.ModeLVLL)
	}
	return Allow()
}

type latencyGuardState struct {
	HighRun  int  `json:"high_run"`
	GoodRun  int  `json:"good_run"`
	Degraded bool `json:"degraded"`
}

// Snapshot serializes the run counters.
func (g *LatencyGuard) Snapshot() ([]byte, error) {
	return json.Marshal(latencyGuardState{HighRun: g.highRun, GoodRun: g.goodRun, Degraded: g.degraded})
}

// Restore reloads persisted run counters.
func (g *LatencyGuard) Restore(data []byte) error {
	var st latencyGuardState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore latency guard: %w", err)
	}
	g.highRun = st.HighRun
	g.goodRun = st.GoodRun
	g.degraded = st.Degraded
	return nil
}
