package engine

import (
	"context"
	"testing"
	"time"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/telemetry"
)

func newUpDownHarness(t *testing.T, staleAfter time.Duration) (*rules.Store, *UpDownMonitor, *captureNotifier) {
	t.Helper()
	store, err := rules.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	notifier := &captureNotifier{}
	monitor := NewUpDownMonitor(store, nil, nil, notifier, telemetry.New(), staleAfter)
	return store, monitor, notifier
}

func TestProcessDeviceNeverSeenIsDown(t *testing.T) {
	store, monitor, notifier := newUpDownHarness(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	sub := &rules.DeviceUpDownRule{CustomerID: 1, Source: "snmp", Device: "switch-1", Enabled: true}

	// No last-seen timestamp at all forces DOWN on first sight.
	if err := monitor.ProcessDevice(ctx, sub, nil, now); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if got := notifier.byTemplate("device_down"); len(got) != 1 {
		t.Fatalf("expected 1 down alert, got %d", len(got))
	}

	ds, err := store.DeviceStatusFor(ctx, "snmp", "switch-1")
	if err != nil {
		t.Fatalf("DeviceStatusFor: %v", err)
	}
	if ds == nil || ds.LastStatus != "DOWN" || !ds.Active || ds.DownSince == nil {
		t.Fatalf("unexpected status row: %+v", ds)
	}

	// Still never seen: the device stays DOWN silently.
	if err := monitor.ProcessDevice(ctx, sub, nil, now.Add(time.Minute)); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if got := notifier.byTemplate("device_down"); len(got) != 1 {
		t.Fatalf("repeated DOWN must not re-alert, got %d alerts", len(got))
	}
}

func TestProcessDeviceFreshIsUpBaseline(t *testing.T) {
	store, monitor, notifier := newUpDownHarness(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()
	seen := now.Add(-time.Minute)

	sub := &rules.DeviceUpDownRule{CustomerID: 1, Source: "server", Device: "web-1", Enabled: true}
	if err := monitor.ProcessDevice(ctx, sub, &seen, now); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("healthy first sighting must not alert, got %v", notifier.events)
	}
	ds, err := store.DeviceStatusFor(ctx, "server", "web-1")
	if err != nil {
		t.Fatalf("DeviceStatusFor: %v", err)
	}
	if ds == nil || ds.LastStatus != "UP" || ds.Active {
		t.Fatalf("unexpected status row: %+v", ds)
	}
}

func TestProcessDeviceDownThenRecovery(t *testing.T) {
	store, monitor, notifier := newUpDownHarness(t, 5*time.Minute)
	ctx := context.Background()
	t0 := time.Now().UTC()

	sub := &rules.DeviceUpDownRule{CustomerID: 1, Source: "idrac", Device: "bmc-1", Enabled: true}

	// Baseline UP.
	seen := t0.Add(-time.Minute)
	if err := monitor.ProcessDevice(ctx, sub, &seen, t0); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}

	// Goes stale: DOWN edge.
	t1 := t0.Add(10 * time.Minute)
	if err := monitor.ProcessDevice(ctx, sub, &seen, t1); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if got := notifier.byTemplate("device_down"); len(got) != 1 {
		t.Fatalf("expected 1 down alert, got %d", len(got))
	}

	// Reports again: recovery edge, outage folded into the total.
	t2 := t1.Add(3 * time.Minute)
	seen2 := t2.Add(-time.Second)
	if err := monitor.ProcessDevice(ctx, sub, &seen2, t2); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	recoveries := notifier.byTemplate("device_recovery")
	if len(recoveries) != 1 {
		t.Fatalf("expected 1 recovery alert, got %d", len(recoveries))
	}
	if kind := recoveries[0].Context["kind"]; kind != "Network Device" {
		t.Errorf("kind = %v, want Network Device", kind)
	}

	ds, err := store.DeviceStatusFor(ctx, "idrac", "bmc-1")
	if err != nil {
		t.Fatalf("DeviceStatusFor: %v", err)
	}
	if ds.LastStatus != "UP" || ds.Active || ds.DownSince != nil {
		t.Fatalf("unexpected status row after recovery: %+v", ds)
	}
	if ds.TotalDowntimeSec != int64((3 * time.Minute).Seconds()) {
		t.Errorf("total downtime = %d, want %d", ds.TotalDowntimeSec, int64((3*time.Minute).Seconds()))
	}
	if ds.LastRecovered == nil {
		t.Error("recovery must stamp last_recovered")
	}
}

func TestProcessDeviceBoundary(t *testing.T) {
	_, monitor, notifier := newUpDownHarness(t, 5*time.Minute)
	ctx := context.Background()
	now := time.Now().UTC()

	// Exactly at the staleness bound still counts as UP.
	seen := now.Add(-5 * time.Minute)
	sub := &rules.DeviceUpDownRule{CustomerID: 1, Source: "ilo", Device: "ilo-1", Enabled: true}
	if err := monitor.ProcessDevice(ctx, sub, &seen, now); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("boundary last-seen must be UP, got alerts %v", notifier.events)
	}
}

func TestProcessDeviceUsesSubscriptionRecipients(t *testing.T) {
	store, monitor, notifier := newUpDownHarness(t, time.Minute)
	ctx := context.Background()

	groupID, err := store.InsertContactGroup(ctx, 1, "noc", []string{"noc@example.com"})
	if err != nil {
		t.Fatalf("InsertContactGroup: %v", err)
	}
	sub := &rules.DeviceUpDownRule{CustomerID: 1, Source: "snmp", Device: "rtr-1", ContactGroupID: groupID, Enabled: true}

	if err := monitor.ProcessDevice(ctx, sub, nil, time.Now().UTC()); err != nil {
		t.Fatalf("ProcessDevice: %v", err)
	}
	downs := notifier.byTemplate("device_down")
	if len(downs) != 1 {
		t.Fatalf("expected 1 down alert, got %d", len(downs))
	}
	if len(downs[0].Recipients) != 1 || downs[0].Recipients[0] != "noc@example.com" {
		t.Errorf("recipients = %v", downs[0].Recipients)
	}
}

var _ notify.Notifier = (*captureNotifier)(nil)
