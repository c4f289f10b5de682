package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/autointelli/unified360-go/internal/rules"
)

func TestSubjectRendering(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{
			"device down",
			Event{Template: "device_down", Context: map[string]any{"kind": "Server", "device": "web-1"}},
			"Server Down Alert: web-1",
		},
		{
			"device recovery",
			Event{Template: "device_recovery", Context: map[string]any{"kind": "Network Device", "device": "sw-1"}},
			"Network Device Recovery: sw-1 is UP",
		},
		{
			"port alert",
			Event{Template: "port_alert", Context: map[string]any{"hostname": "10.0.0.5", "port": 443}},
			"Port Down Alert for 10.0.0.5:443",
		},
		{
			"vpn down",
			Event{Template: "fortigate_vpn_down", Context: map[string]any{"hostname": "fw-1", "vpn_name": "branch"}},
			"Fortigate VPN Down: fw-1 / branch",
		},
		{
			"unknown template falls back to its name",
			Event{Template: "mystery_template"},
			"mystery_template",
		},
		{
			"unresolved placeholder stays literal",
			Event{Template: "url_down", Context: map[string]any{}},
			"URL Down Alert for {hostname}",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Subject(tc.ev); got != tc.want {
				t.Errorf("Subject = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWithRuleContext(t *testing.T) {
	rule := &rules.AlertRule{Name: "High CPU", CustomerName: "acme"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := Event{Template: "server_cpu_high", Rule: rule, Context: map[string]any{
		"downtime_seconds": int64(3723),
	}}.WithRuleContext(now)

	if ev.Context["rule_name"] != "High CPU" || ev.Context["customer_name"] != "acme" {
		t.Errorf("rule fields missing: %v", ev.Context)
	}
	if ev.Context["alert_time_utc"] != "2026-03-01T12:00:00Z" {
		t.Errorf("alert_time_utc = %v", ev.Context["alert_time_utc"])
	}
	if ev.Context["downtime_human"] != "1h 2m 3s" {
		t.Errorf("downtime_human = %v", ev.Context["downtime_human"])
	}

	// Caller-supplied values win over rule defaults.
	ev2 := Event{Rule: rule, Context: map[string]any{"rule_name": "override"}}.WithRuleContext(now)
	if ev2.Context["rule_name"] != "override" {
		t.Errorf("rule_name = %v, want override", ev2.Context["rule_name"])
	}
}

func TestFormatDowntime(t *testing.T) {
	cases := []struct {
		seconds int64
		want    string
	}{
		{0, "0s"},
		{-10, "0s"},
		{45, "45s"},
		{60, "1m 0s"},
		{125, "2m 5s"},
		{3600, "1h 0m 0s"},
		{3723, "1h 2m 3s"},
		{90061, "25h 1m 1s"},
	}
	for _, tc := range cases {
		if got := FormatDowntime(tc.seconds); got != tc.want {
			t.Errorf("FormatDowntime(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Send(context.Context, Event) error {
	s.calls++
	return s.err
}

func TestMultiTriesAllSinks(t *testing.T) {
	failing := &stubNotifier{err: errors.New("relay down")}
	ok := &stubNotifier{}
	alsoFailing := &stubNotifier{err: errors.New("second failure")}

	err := Multi{failing, ok, alsoFailing}.Send(context.Background(), Event{Template: "x"})
	if err == nil || err.Error() != "relay down" {
		t.Errorf("expected first error back, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 || alsoFailing.calls != 1 {
		t.Errorf("every sink must be tried: %d %d %d", failing.calls, ok.calls, alsoFailing.calls)
	}
}

func TestNop(t *testing.T) {
	if err := (Nop{}).Send(context.Background(), Event{Template: "x"}); err != nil {
		t.Errorf("Nop.Send = %v", err)
	}
}
