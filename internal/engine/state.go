package engine

import (
	"time"

	"github.com/autointelli/unified360-go/internal/rules"
)

// Action is the edge produced by one evaluation cycle.
type Action int

const (
	// ActionNone means no edge: the target stayed in its current phase.
	ActionNone Action = iota
	// ActionTrigger fires exactly once, when the consecutive match count
	// first reaches the threshold while the target is inactive.
	ActionTrigger
	// ActionRecovery fires exactly once, on the first non-matching cycle
	// while the target is active.
	ActionRecovery
)

func (a Action) String() string {
	switch a {
	case ActionTrigger:
		return "TRIGGER"
	case ActionRecovery:
		return "RECOVERY"
	default:
		return "NOOP"
	}
}

// Transition is the outcome of applying one evaluation to a state row.
type Transition struct {
	Action Action
	// Downtime is how long the target was active, set on recovery when the
	// trigger time is known.
	Downtime time.Duration
}

// Apply advances the hysteresis state for one (rule, target) pair. It mutates
// st in place and reports the edge, if any. Trigger is slow (threshold
// consecutive matches), recovery is fast (a single clean cycle), and any
// non-match resets the consecutive count so intermittent flapping never
// accumulates toward a trigger.
func Apply(st *rules.RuleState, matched bool, threshold int, now time.Time) Transition {
	if threshold < 1 {
		threshold = 1
	}

	if matched {
		st.Consecutive++
		if st.Consecutive >= threshold && !st.Active {
			st.Active = true
			t := now
			st.LastTriggered = &t
			st.LastRecovered = nil
			return Transition{Action: ActionTrigger}
		}
		return Transition{}
	}

	wasActive := st.Active
	st.Active = false
	st.Consecutive = 0

	if !wasActive {
		return Transition{}
	}

	// LastRecovered marks the recovery edge, so it only moves when an
	// active target actually comes back.
	t := now
	st.LastRecovered = &t

	var downtime time.Duration
	if st.LastTriggered != nil {
		downtime = now.Sub(*st.LastTriggered)
		if downtime < 0 {
			downtime = 0
		}
	}
	return Transition{Action: ActionRecovery, Downtime: downtime}
}
