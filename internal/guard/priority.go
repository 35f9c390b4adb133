package guard

import (
	"fmt"
	"sync"

	"trade-guardian/internal/event"
)

// Priority is a bot's static execution priority, fixed for the process
// lifetime from configuration.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
)

// ParsePriority validates a configured priority value.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// PriorityGuard arbitrates execution rights between bots of differing static
// priority. It is level-triggered: a NORMAL bot stays paused exactly as long
// as any HIGH bot reports activity and resumes the instant it does not, with
// no cooldown; activity reporting is assumed debounced at its source.
//
// This is the only guard shared across bots, so it carries its own lock; the
// cross-bot coupling is a read of static priority plus activity flags, never
// a joint counter.
type PriorityGuard struct {
	mu         sync.Mutex
	priorities map[string]Priority
	active     map[string]bool
}

// NewPriorityGuard constructs a PriorityGuard over the static assignment.
func NewPriorityGuard(assignment map[string]Priority) *PriorityGuard {
	priorities := make(map[string]Priority, len(assignment))
	for bot, p := range assignment {
		priorities[bot] = p
	}
	return &PriorityGuard{
		priorities: priorities,
		active:     make(map[string]bool),
	}
}

// Observe consumes a bot-activity event. Activity from an unregistered bot is
// ignored.
func (g *PriorityGuard) Observe(ev event.Event) {
	if ev.Type != event.TypeBotActivity {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, known := g.priorities[ev.BotID]; !known {
		return
	}
	g.active[ev.BotID] = ev.Active
}

// VerdictFor reports the arbitration decision for one bot.
func (g *PriorityGuard) VerdictFor(botID string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.priorities[botID] == PriorityHigh {
		return Allow()
	}
	if g.highActiveLocked() {
		return Pause("priority_preempt", nil)
	}
	return Allow()
}

// CPUWeights exposes informational scheduling hints for the deployment layer:
// an active HIGH bot takes the full share and preempted bots drop to zero.
// Hints are not enforcement and never feed verdict aggregation.
func (g *PriorityGuard) CPUWeights() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	weights := make(map[string]int, len(g.priorities))
	highActive := g.highActiveLocked()
	for bot, p := range g.priorities {
		switch {
		case p == PriorityHigh:
			weights[bot] = 100
		case highActive:
			weights[bot] = 0
		default:
			weights[bot] = 50
		}
	}
	return weights
}

func (g *PriorityGuard) highActiveLocked() bool {
	for bot, active := range g.active {
		if active && g.priorities[bot] == PriorityHigh {
			return true
		}
	}
	return false
}
