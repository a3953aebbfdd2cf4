package tracker

import (
	"time"

	"github.com/goodtune/presenced/internal/config"
)

// Decision is the escalator's verdict for one transition.
type Decision struct {
	Notify   bool
	Severity int
}

// Escalator maps state transitions and per-user severity tiers to
// notification decisions. Tier 0 users are never notified about; for the
// rest, base severity equals the tier, and long closures escalate one level.
type Escalator struct {
	threshold time.Duration
}

// NewEscalator creates an escalator with the configured long-interval
// threshold.
func NewEscalator(threshold time.Duration) *Escalator {
	return &Escalator{threshold: threshold}
}

// Opened decides on an interval-opened transition.
func (e *Escalator) Opened(tier int) Decision {
	tier = clampTier(tier)
	return Decision{Notify: tier >= 1, Severity: tier}
}

// Closed decides on an interval-closed transition. A duration beyond the
// threshold raises severity by one, capped at the maximum tier.
func (e *Escalator) Closed(tier int, duration time.Duration) Decision {
	tier = clampTier(tier)
	if tier == 0 {
		return Decision{}
	}
	severity := tier
	if duration > e.threshold && severity < config.MaxSeverityTier {
		severity++
	}
	return Decision{Notify: true, Severity: severity}
}

func clampTier(tier int) int {
	if tier < 0 {
		return 0
	}
	if tier > config.MaxSeverityTier {
		return config.MaxSeverityTier
	}
	return tier
}
