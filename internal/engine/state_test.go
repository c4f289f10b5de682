package engine

import (
	"testing"
	"time"

	"github.com/autointelli/unified360-go/internal/rules"
)

func TestApplyDebounceSequence(t *testing.T) {
	// Matched pattern T,T,F,T,T,T at threshold 3: the miss resets the count,
	// so only the final streak reaches the threshold.
	st := &rules.RuleState{}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	pattern := []bool{true, true, false, true, true, true}
	wantConsecutive := []int{1, 2, 0, 1, 2, 3}
	wantAction := []Action{ActionNone, ActionNone, ActionNone, ActionNone, ActionNone, ActionTrigger}

	for i, matched := range pattern {
		tr := Apply(st, matched, 3, now.Add(time.Duration(i)*time.Minute))
		if st.Consecutive != wantConsecutive[i] {
			t.Errorf("cycle %d: consecutive = %d, want %d", i, st.Consecutive, wantConsecutive[i])
		}
		if tr.Action != wantAction[i] {
			t.Errorf("cycle %d: action = %v, want %v", i, tr.Action, wantAction[i])
		}
	}
	if !st.Active {
		t.Error("state must be active after trigger")
	}
	if st.LastTriggered == nil {
		t.Error("trigger must record the trigger time")
	}
}

func TestApplyTriggerFiresOnce(t *testing.T) {
	st := &rules.RuleState{}
	now := time.Now()

	var triggers int
	for i := 0; i < 10; i++ {
		if tr := Apply(st, true, 2, now); tr.Action == ActionTrigger {
			triggers++
		}
	}
	if triggers != 1 {
		t.Errorf("got %d triggers over a sustained match, want exactly 1", triggers)
	}
	if st.Consecutive != 10 {
		t.Errorf("consecutive = %d, want 10", st.Consecutive)
	}
}

func TestApplyFastRecovery(t *testing.T) {
	st := &rules.RuleState{}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	Apply(st, true, 2, start)
	tr := Apply(st, true, 2, start.Add(time.Minute))
	if tr.Action != ActionTrigger {
		t.Fatalf("expected trigger, got %v", tr.Action)
	}

	// One clean cycle recovers regardless of the threshold.
	tr = Apply(st, false, 2, start.Add(5*time.Minute))
	if tr.Action != ActionRecovery {
		t.Fatalf("expected recovery, got %v", tr.Action)
	}
	if tr.Downtime != 4*time.Minute {
		t.Errorf("downtime = %v, want 4m", tr.Downtime)
	}
	if st.Active || st.Consecutive != 0 {
		t.Errorf("state not reset: %+v", st)
	}
	if st.LastRecovered == nil {
		t.Error("recovery must record the recovery time")
	}
}

func TestApplyNoRecoveryWhenInactive(t *testing.T) {
	st := &rules.RuleState{}
	now := time.Now()

	for i := 0; i < 3; i++ {
		if tr := Apply(st, false, 3, now); tr.Action != ActionNone {
			t.Fatalf("inactive non-match produced %v", tr.Action)
		}
	}
	// A clean cycle on a never-active target is not a recovery edge.
	if st.LastRecovered != nil {
		t.Errorf("LastRecovered = %v on a never-active state, want nil", st.LastRecovered)
	}
}

func TestApplyThresholdClamp(t *testing.T) {
	for _, threshold := range []int{0, -5, 1} {
		st := &rules.RuleState{}
		tr := Apply(st, true, threshold, time.Now())
		if tr.Action != ActionTrigger {
			t.Errorf("threshold %d: first match must trigger, got %v", threshold, tr.Action)
		}
	}
}

func TestApplyDowntimeNeverNegative(t *testing.T) {
	st := &rules.RuleState{}
	now := time.Now()
	Apply(st, true, 1, now)

	// Clock skew: recovery observed before the recorded trigger time.
	tr := Apply(st, false, 1, now.Add(-time.Minute))
	if tr.Action != ActionRecovery {
		t.Fatalf("expected recovery, got %v", tr.Action)
	}
	if tr.Downtime != 0 {
		t.Errorf("downtime = %v, want 0 on clock skew", tr.Downtime)
	}
}

func TestApplyRetriggerAfterRecovery(t *testing.T) {
	st := &rules.RuleState{}
	now := time.Now()

	Apply(st, true, 2, now)
	Apply(st, true, 2, now)  // trigger
	Apply(st, false, 2, now) // recovery
	if st.LastRecovered == nil {
		t.Fatal("recovery must record the recovery time")
	}

	// The streak starts over; one match is not enough to retrigger.
	if tr := Apply(st, true, 2, now); tr.Action != ActionNone {
		t.Fatalf("single match after recovery produced %v", tr.Action)
	}
	if tr := Apply(st, true, 2, now); tr.Action != ActionTrigger {
		t.Fatalf("second match after recovery should retrigger, got %v", tr.Action)
	}
	if st.LastRecovered != nil {
		t.Error("retrigger must clear the stale recovery time")
	}
}
