package rules

import (
	"fmt"
	"time"
)

// MonitoringType selects which handler evaluates a rule.
type MonitoringType string

const (
	TypeServer        MonitoringType = "server"
	TypePort          MonitoringType = "port"
	TypeURL           MonitoringType = "url"
	TypePing          MonitoringType = "ping"
	TypeSNMPInterface MonitoringType = "snmp_interface"
	TypeServiceDown   MonitoringType = "service_down"
	TypeOracle        MonitoringType = "oracle"
	TypeFortigateVPN  MonitoringType = "fortigate-vpn"
	TypeSDWAN         MonitoringType = "sdwan"
	TypeFortigateSys  MonitoringType = "sys"
	TypeDeviceUpDown  MonitoringType = "device_updown"
)

// MonitoringTypes lists every type a dispatch table must cover.
func MonitoringTypes() []MonitoringType {
	return []MonitoringType{
		TypeServer, TypePort, TypeURL, TypePing, TypeSNMPInterface,
		TypeServiceDown, TypeOracle, TypeFortigateVPN, TypeSDWAN,
		TypeFortigateSys, TypeDeviceUpDown,
	}
}

// ParseMonitoringType validates a stored type string.
func ParseMonitoringType(s string) (MonitoringType, error) {
	for _, t := range MonitoringTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown monitoring type %q", s)
}

// AlertRule is a tenant-scoped rule definition. Rules are authored outside
// the engine; the engine treats them as read-only input.
type AlertRule struct {
	ID           int64          `json:"id"`
	CustomerID   int64          `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	Name         string         `json:"name"`
	Type         MonitoringType `json:"monitoring_type"`
	Logic        Group          `json:"logic"`

	// EvaluationCount is the consecutive-hit debounce threshold. Anything
	// below 1 behaves as 1.
	EvaluationCount int `json:"evaluation_count"`

	ContactGroupID int64 `json:"contact_group_id"`
	Enabled        bool  `json:"is_enabled"`

	// Optional per-type targeting.
	BWHostname       string `json:"bw_hostname,omitempty"`
	BWInterface      string `json:"bw_interface,omitempty"`
	SvcInstance      string `json:"svc_instance,omitempty"`
	OracleMonitorID  string `json:"oracle_monitor_id,omitempty"`
	OracleTablespace string `json:"oracle_tablespace,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Threshold returns the debounce threshold clamped to at least one cycle.
func (r *AlertRule) Threshold() int {
	if r.EvaluationCount < 1 {
		return 1
	}
	return r.EvaluationCount
}

// RuleState is the persisted hysteresis state for one (rule, target) pair.
type RuleState struct {
	ID         int64
	RuleID     int64
	CustomerID int64
	// TargetValue identifies the concrete monitored entity. Its format is
	// type-specific but must be stable across cycles for the same target.
	TargetValue string

	Active      bool
	Consecutive int

	LastTriggered *time.Time
	LastRecovered *time.Time

	// Extended holds the last metrics snapshot and handler scratch data.
	Extended map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceStatus is the staleness-based state for one (source, device) pair,
// independent of the rule engine.
type DeviceStatus struct {
	ID     int64
	Source string // server | snmp | idrac | ilo
	Device string

	LastStatus string // UP | DOWN
	Active     bool

	LastChange       time.Time
	DownSince        *time.Time
	LastRecovered    *time.Time
	TotalDowntimeSec int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeviceUpDownRule subscribes a contact group to up/down transitions of one
// device.
type DeviceUpDownRule struct {
	ID             int64
	CustomerID     int64
	Source         string
	Device         string
	ContactGroupID int64
	Enabled        bool
}

// PortMonitor enumerates the TCP ports probed for one host.
type PortMonitor struct {
	ID         int64
	CustomerID int64
	HostIP     string
	Ports      string // comma-separated
	Active     bool
}

// URLMonitor is one monitored HTTP endpoint.
type URLMonitor struct {
	ID         int64
	CustomerID int64
	Host       string
	Active     bool
}

// PingMonitor is one ICMP-monitored host.
type PingMonitor struct {
	ID         int64
	CustomerID int64
	Host       string
}

// OracleMonitor describes one monitored Oracle instance.
type OracleMonitor struct {
	ID          int64
	CustomerID  int64
	Host        string
	Port        int
	ServiceName string
}

// HostPort renders the monitor endpoint for notification context.
func (m *OracleMonitor) HostPort() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}
