// Package notify turns alert edges into outbound messages. The engine calls
// Send at most once per state edge; everything here is delivery mechanics.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/autointelli/unified360-go/internal/rules"
)

// Event is one notification request. Context keys fill the subject template
// placeholders and the message body table.
type Event struct {
	Template   string
	Rule       *rules.AlertRule
	Recipients []string
	Context    map[string]any
}

// Notifier delivers events. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, ev Event) error
}

// subjectMap maps template names to subject lines with {placeholder} slots.
var subjectMap = map[string]string{
	"url_down":     "URL Down Alert for {hostname}",
	"url_slow":     "URL Slow Response for {hostname}",
	"url_recovery": "URL Recovery for {hostname}",

	"port_alert":    "Port Down Alert for {hostname}:{port}",
	"port_slow":     "Port Latency Alert for {hostname}:{port}",
	"port_recovery": "Port Recovery Alert for {hostname}:{port}",

	"fortigate_vpn_down":             "Fortigate VPN Down: {hostname} / {vpn_name}",
	"fortigate_vpn_recovery":         "Fortigate VPN Recovery: {hostname} / {vpn_name}",
	"fortigate_vpn_alert":            "Fortigate VPN Traffic Alert: {hostname} / {vpn_name}",
	"fortigate_vpn_recovery_traffic": "Fortigate VPN Traffic Recovery: {hostname} / {vpn_name}",

	"ping_latency":    "Ping Latency Alert for {hostname}",
	"ping_packetloss": "Ping Packet Loss Alert for {hostname}",
	"ping_recovery":   "Ping Recovery for {hostname}",

	"fortigate_sdwan_alert":    "SDWAN Link Alert: {hostname} / {link_name}",
	"fortigate_sdwan_recovery": "SDWAN Link Recovery: {hostname} / {link_name}",
	"fortigate_sys_alert":      "Fortigate System Alert: {hostname}",
	"fortigate_sys_recovery":   "Fortigate System Recovery: {hostname}",

	"snmp_interface_alert":    "Interface Down Alert: {hostname} / {interface}",
	"snmp_interface_recovery": "Interface Recovery: {hostname} / {interface}",

	"service_down":     "Service Down Alert in {hostname}",
	"service_recovery": "Service Recovery Alert in {hostname}",

	"oracle_db_down":         "Oracle Database Down Alert",
	"oracle_recovery":        "Oracle Database Recovery Alert",
	"oracle_threshold_alert": "Oracle Database Threshold Alert",

	"server_cpu_high":      "CPU High Alert for {hostname}",
	"server_cpu_recovery":  "CPU Recovery for {hostname}",
	"server_mem_high":      "Memory High Alert for {hostname}",
	"server_mem_recovery":  "Memory Recovery for {hostname}",
	"server_disk_high":     "Disk Alert for {hostname}",
	"server_disk_recovery": "Disk Recovery for {hostname}",
	"server_net_high":      "Network Alert for {hostname}",
	"server_net_recovery":  "Network Recovery for {hostname}",

	"device_down":     "{kind} Down Alert: {device}",
	"device_recovery": "{kind} Recovery: {device} is UP",
}

// Subject renders the subject line for an event. Unknown templates fall back
// to the template name itself; unresolved placeholders stay literal, which is
// noisy but never drops a notification.
func Subject(ev Event) string {
	subject, ok := subjectMap[ev.Template]
	if !ok {
		return ev.Template
	}
	for k, v := range ev.Context {
		subject = strings.ReplaceAll(subject, "{"+k+"}", fmt.Sprintf("%v", v))
	}
	return subject
}

// WithRuleContext fills the standard context fields every message carries.
func (ev Event) WithRuleContext(now time.Time) Event {
	if ev.Context == nil {
		ev.Context = map[string]any{}
	}
	if ev.Rule != nil {
		if _, ok := ev.Context["rule_name"]; !ok {
			ev.Context["rule_name"] = ev.Rule.Name
		}
		if _, ok := ev.Context["customer_name"]; !ok {
			ev.Context["customer_name"] = ev.Rule.CustomerName
		}
	}
	ev.Context["alert_time_utc"] = now.UTC().Format(time.RFC3339)
	if d, ok := ev.Context["downtime_seconds"]; ok {
		if secs, ok := toSeconds(d); ok {
			ev.Context["downtime_human"] = FormatDowntime(secs)
		}
	}
	return ev
}

func toSeconds(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case time.Duration:
		return int64(x.Seconds()), true
	}
	return 0, false
}

// FormatDowntime renders seconds as "1h 2m 3s", dropping leading zero parts.
func FormatDowntime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	m, s := seconds/60, seconds%60
	h, m := m/60, m%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// sortedKeys gives body renderers a stable field order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Multi fans one event out to several sinks, returning the first error after
// trying all of them.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Nop swallows events; useful in tests and when no sink is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
