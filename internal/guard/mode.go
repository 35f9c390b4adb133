package guard

import (
	"encoding/json"
	"fmt"
	"time"

	"trade-guardian/internal/event"
)

// ModeGuardOptions tune mode-flap detection.
type ModeGuardOptions struct {
	// FlapLimit is the highest tolerated number of HV->LV flips inside the
	// window; one more triggers the pause.
	FlapLimit int
	Window    time.Duration
	Cooldown  time.Duration
	Dedupe    bool
}

// ModeGuard pauses trading when the regime signal flips from HV to LV too
// often inside a trailing window. Rapid flips indicate a noisy regime signal,
// and pausing prevents whipsaw re-entry/exit costs.
type ModeGuard struct {
	opts        ModeGuardOptions
	window      *Window
	currentMode event.Mode
	pausedUntil time.Time
}

// NewModeGuard constructs a ModeGuard. The current mode starts at the
// fail-safe tier until the first transition arrives.
func NewModeGuard(opts ModeGuardOptions) *ModeGuard {
	return &ModeGuard{
		opts:        opts,
		window:      NewWindow(opts.Window, opts.Dedupe),
		currentMode: event.ModeLVLL,
	}
}

// Observe consumes a mode transition. Only HV->LV direction flips count
// toward the flap threshold.
func (g *ModeGuard) Observe(ev event.Event) {
	if ev.Type != event.TypeModeTransition {
		return
	}

	g.currentMode = ev.ToMode

	if ev.FromMode != event.ModeHV {
		return
	}
	if ev.ToMode != event.ModeLV && ev.ToMode != event.ModeLVLL {
		return
	}

	g.window.Record(ev.Timestamp, 1)
	now := ev.Timestamp
	if now.Before(g.pausedUntil) {
		return
	}
	if g.window.CountSince(now) > g.opts.FlapLimit {
		g.pausedUntil = now.Add(g.opts.Cooldown)
	}
}

// CurrentMode returns the mode reported by the latest transition.
func (g *ModeGuard) CurrentMode() event.Mode {
	return g.currentMode
}

// Verdict reports the guard's decision at the given instant. The pause
// deadline is evaluated lazily, so recovery needs no timer.
func (g *ModeGuard) Verdict(now time.Time) Verdict {
	if now.Before(g.pausedUntil) {
		until := g.pausedUntil
		return Pause("mode_flap", &until)
	}
	return Allow()
}

type modeGuardState struct {
	CurrentMode event.Mode    `json:"current_mode"`
	PausedUntil time.Time     `json:"paused_until"`
	Window      []WindowEntry `json:"window"`
}

// Snapshot serializes the guard state for persistence.
func (g *ModeGuard) Snapshot() ([]byte, error) {
	return json.Marshal(modeGuardState{
		CurrentMode: g.currentMode,
		PausedUntil: g.pausedUntil,
		Window:      g.window.Entries(),
	})
}

// Restore reloads persisted state, reconstructing the pause deadline and the
// recent window contents.
func (g *ModeGuard) Restore(data []byte) error {
	var st modeGuardState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore mode guard: %w", err)
	}
	if st.CurrentMode != "" {
		g.currentMode = st.CurrentMode
	}
	g.pausedUntil = st.PausedUntil
	g.window.Restore(st.Window)
	return nil
}
