package guard

import (
	"time"

	"trade-guardian/internal/event"
)

// Severity orders verdicts from least to most restrictive.
type Severity int

const (
	SeverityAllow Severity = iota
	SeverityDowngrade
	SeverityPause
	SeveritySuspend
)

// String renders the severity for logs and audit records.
func (s Severity) String() string {
	switch s {
	case SeverityAllow:
		return "allow"
	case SeverityDowngrade:
		return "downgrade"
	case SeverityPause:
		return "pause"
	case SeveritySuspend:
		return "suspend"
	}
	return "unknown"
}

// Verdict is a single guard's current decision. Until is set for deadline-based
// verdicts and nil for level-triggered ones; Target is set only for downgrades.
type Verdict struct {
	Severity Severity
	Reason   string
	Until    *time.Time
	Target   event.Mode
}

// Allow is the permissive verdict.
func Allow() Verdict {
	return Verdict{Severity: SeverityAllow}
}

// Downgrade forces a target trading mode without halting.
func Downgrade(reason string, target event.Mode) Verdict {
	return Verdict{Severity: SeverityDowngrade, Reason: reason, Target: target}
}

// Pause halts trading, optionally until a deadline. A nil deadline means the
// pause holds for as long as its trigger condition does.
func Pause(reason string, until *time.Time) Verdict {
	return Verdict{Severity: SeverityPause, Reason: reason, Until: until}
}

// Suspend halts trading until an absolute deadline.
func Suspend(reason string, until time.Time) Verdict {
	return Verdict{Severity: SeveritySuspend, Reason: reason, Until: &until}
}

// Combine reduces a set of verdicts to the single most restrictive one.
// Ties keep the earliest verdict so guard ordering is deterministic.
func Combine(verdicts ...Verdict) Verdict {
	combined := Allow()
	for _, v := range verdicts {
		if v.Severity > combined.Severity {
			combined = v
		}
	}
	return combined
}
