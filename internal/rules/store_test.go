package rules

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func insertTestRule(t *testing.T, store *Store, rule *AlertRule) *AlertRule {
	t.Helper()
	if _, err := store.InsertRule(context.Background(), rule); err != nil {
		t.Fatalf("InsertRule: %v", err)
	}
	return rule
}

func TestEnabledRulesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertTestRule(t, store, &AlertRule{
		CustomerID:      7,
		CustomerName:    "acme",
		Name:            "High CPU",
		Type:            TypeServer,
		Logic:           Group{Op: GroupOpAnd, Children: []Node{Leaf{Field: "cpu_usage", Op: ">", Value: 90.0}}},
		EvaluationCount: 3,
		ContactGroupID:  1,
		Enabled:         true,
	})
	insertTestRule(t, store, &AlertRule{
		CustomerID: 7,
		Name:       "Disabled",
		Type:       TypePing,
		Enabled:    false,
	})

	enabled, err := store.EnabledRules(ctx)
	if err != nil {
		t.Fatalf("EnabledRules: %v", err)
	}
	if len(enabled) != 1 {
		t.Fatalf("expected 1 enabled rule, got %d", len(enabled))
	}
	r := enabled[0]
	if r.Name != "High CPU" || r.Type != TypeServer || r.EvaluationCount != 3 {
		t.Errorf("unexpected rule: %+v", r)
	}
	if len(r.Logic.Children) != 1 {
		t.Errorf("logic not restored: %+v", r.Logic)
	}
}

func TestWithTargetStateCreatesThenReuses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := insertTestRule(t, store, &AlertRule{
		CustomerID: 1, Name: "r", Type: TypeServer, Enabled: true,
	})

	var sawCreated bool
	err := store.WithTargetState(ctx, rule, "web-1", func(st *RuleState, created bool) error {
		sawCreated = created
		st.Consecutive = 2
		st.Extended["note"] = "first"
		return nil
	})
	if err != nil {
		t.Fatalf("WithTargetState: %v", err)
	}
	if !sawCreated {
		t.Error("first sighting must report created=true")
	}

	err = store.WithTargetState(ctx, rule, "web-1", func(st *RuleState, created bool) error {
		if created {
			t.Error("second sighting must report created=false")
		}
		if st.Consecutive != 2 {
			t.Errorf("consecutive not persisted, got %d", st.Consecutive)
		}
		if st.Extended["note"] != "first" {
			t.Errorf("extended state not persisted: %v", st.Extended)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTargetState: %v", err)
	}

	// A different target key gets its own state row.
	err = store.WithTargetState(ctx, rule, "web-2", func(st *RuleState, created bool) error {
		if !created {
			t.Error("new target must report created=true")
		}
		if st.Consecutive != 0 {
			t.Errorf("new target must start clean, got %d", st.Consecutive)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTargetState: %v", err)
	}

	states, err := store.StatesForRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("StatesForRule: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 state rows, got %d", len(states))
	}
}

func TestWithTargetStatePersistsTimestamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rule := insertTestRule(t, store, &AlertRule{CustomerID: 1, Name: "r", Type: TypeServer, Enabled: true})

	triggered := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := store.WithTargetState(ctx, rule, "db-1", func(st *RuleState, _ bool) error {
		st.Active = true
		st.LastTriggered = &triggered
		return nil
	})
	if err != nil {
		t.Fatalf("WithTargetState: %v", err)
	}

	err = store.WithTargetState(ctx, rule, "db-1", func(st *RuleState, _ bool) error {
		if !st.Active {
			t.Error("active flag lost")
		}
		if st.LastTriggered == nil || !st.LastTriggered.Equal(triggered) {
			t.Errorf("last triggered lost: %v", st.LastTriggered)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTargetState: %v", err)
	}
}

func TestWithDeviceStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.WithDeviceStatus(ctx, "snmp", "switch-1", func(ds *DeviceStatus, created bool) error {
		if !created {
			t.Error("first observation must report created=true")
		}
		ds.LastStatus = "DOWN"
		ds.Active = true
		ds.LastChange = now
		ds.DownSince = &now
		return nil
	})
	if err != nil {
		t.Fatalf("WithDeviceStatus: %v", err)
	}

	err = store.WithDeviceStatus(ctx, "snmp", "switch-1", func(ds *DeviceStatus, created bool) error {
		if created {
			t.Error("second observation must report created=false")
		}
		if ds.LastStatus != "DOWN" || !ds.Active {
			t.Errorf("state not persisted: %+v", ds)
		}
		ds.LastStatus = "UP"
		ds.Active = false
		ds.TotalDowntimeSec = 120
		return nil
	})
	if err != nil {
		t.Fatalf("WithDeviceStatus: %v", err)
	}

	ds, err := store.DeviceStatusFor(ctx, "snmp", "switch-1")
	if err != nil {
		t.Fatalf("DeviceStatusFor: %v", err)
	}
	if ds == nil || ds.LastStatus != "UP" || ds.TotalDowntimeSec != 120 {
		t.Errorf("unexpected final row: %+v", ds)
	}

	// Same device name under another source is independent.
	if ds, err := store.DeviceStatusFor(ctx, "server", "switch-1"); err != nil || ds != nil {
		t.Errorf("expected no row for other source, got %+v (err %v)", ds, err)
	}
}

func TestRecipients(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	groupID, err := store.InsertContactGroup(ctx, 1, "ops", []string{"b@x.io", "a@x.io", "b@x.io", ""})
	if err != nil {
		t.Fatalf("InsertContactGroup: %v", err)
	}
	got, err := store.Recipients(ctx, groupID)
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	want := []string{"a@x.io", "b@x.io"}
	if len(got) != len(want) {
		t.Fatalf("Recipients = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Recipients = %v, want %v", got, want)
		}
	}
}

func TestPortMonitorPortList(t *testing.T) {
	m := &PortMonitor{Ports: " 22, 443 ,,8080 "}
	got := m.PortList()
	want := []string{"22", "443", "8080"}
	if len(got) != len(want) {
		t.Fatalf("PortList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("PortList = %v, want %v", got, want)
		}
	}
}
