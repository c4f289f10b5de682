package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

// ServerHandler evaluates server rules against Prometheus, covering Linux
// (node_exporter) and Windows (windows_exporter, plus the legacy wmi_
// metric names) in one query via PromQL "or" chains.
//
// Supported logic fields: cpu_usage, mem_usage, disk_usage, disk_free,
// net_mbps, net_util, network_receive_mbps, network_transmit_mbps.
//
// Target keys: "<host>" for host-level rules, "<host>|disk|<mount>" per
// filesystem, "<host>|net|<iface>" per interface.
type ServerHandler struct {
	engine *Engine
	prom   *tsdb.PromClient
}

const (
	fsFilter  = `fstype!~"tmpfs|overlay|squashfs|aufs|ramfs|nsfs|tracefs|cgroup2?"`
	devFilter = `device!~"lo|docker.*|veth.*|br-.*|cni.*|flannel.*"`
)

// hostLabels is the preference order for resolving a stable host name from
// sample labels. instance comes last and gets its port stripped.
var hostLabels = []string{"hostname", "host", "nodename", "computer", "fqdn"}

func guessHost(labels map[string]string) string {
	for _, k := range hostLabels {
		if v := labels[k]; v != "" {
			return v
		}
	}
	if v := labels["instance"]; v != "" {
		if i := strings.Index(v, ":"); i >= 0 {
			return v[:i]
		}
		return v
	}
	return "unknown"
}

func ifaceLabel(labels map[string]string) string {
	for _, k := range []string{"device", "nic", "interface", "adapter"} {
		if v := labels[k]; v != "" {
			return v
		}
	}
	return "unknown"
}

func diskLabel(labels map[string]string) string {
	for _, k := range []string{"mountpoint", "volume", "device", "path"} {
		if v := labels[k]; v != "" {
			return v
		}
	}
	return "unknown"
}

// matchers joins the tenant matcher with extra raw matchers.
func (h *ServerHandler) matchers(rule *rules.AlertRule, extra ...string) string {
	parts := []string{}
	if m := h.prom.TenantMatcher(rule.CustomerName); m != "" {
		parts = append(parts, m)
	}
	for _, e := range extra {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, ",")
}

func (h *ServerHandler) qCPUUsage(rule *rules.AlertRule) string {
	inst := h.prom.InstanceLabel
	m := h.matchers(rule, `mode="idle"`)
	builder := func(metric string) string {
		return fmt.Sprintf(`(100 - (avg by (%s) (rate(%s{%s}[5m])) * 100))`, inst, metric, m)
	}
	return builder("node_cpu_seconds_total") + " or " +
		builder("windows_cpu_time_total") + " or " +
		builder("wmi_cpu_time_total")
}

func (h *ServerHandler) qMemUsage(rule *rules.AlertRule) string {
	m := h.matchers(rule)
	builder := func(free, total string) string {
		return fmt.Sprintf(`((1 - (%s{%s} / %s{%s})) * 100)`, free, m, total, m)
	}
	return builder("node_memory_MemAvailable_bytes", "node_memory_MemTotal_bytes") + " or " +
		builder("windows_os_physical_memory_free_bytes", "windows_cs_physical_memory_bytes") + " or " +
		builder("wmi_os_physical_memory_free_bytes", "wmi_cs_physical_memory_bytes")
}

func (h *ServerHandler) qDiskPct(rule *rules.AlertRule, free bool) string {
	inst := h.prom.InstanceLabel
	builder := func(avail, size, by, extra string) string {
		m := h.matchers(rule, extra)
		pct := fmt.Sprintf(`(100 * (%s{%s} / %s{%s}))`, avail, m, size, m)
		if !free {
			pct = fmt.Sprintf(`(100 - %s)`, pct)
		}
		return fmt.Sprintf(`(max by (%s, %s) (%s))`, inst, by, pct)
	}
	return builder("node_filesystem_avail_bytes", "node_filesystem_size_bytes", "mountpoint", fsFilter) + " or " +
		builder("windows_logical_disk_free_bytes", "windows_logical_disk_size_bytes", "volume", "") + " or " +
		builder("wmi_logical_disk_free_bytes", "wmi_logical_disk_size_bytes", "volume", "")
}

func (h *ServerHandler) qNetMbps(rule *rules.AlertRule, direction string) string {
	inst := h.prom.InstanceLabel
	builder := func(metric, by, extra string) string {
		m := h.matchers(rule, extra)
		return fmt.Sprintf(`(sum by (%s, %s) ((rate(%s{%s}[5m]) * 8 / 1e6)))`, inst, by, metric, m)
	}
	if direction == "rx" {
		return builder("node_network_receive_bytes_total", "device", devFilter) + " or " +
			builder("windows_net_bytes_received_total", "nic", "") + " or " +
			builder("wmi_net_bytes_received_total", "nic", "")
	}
	return builder("node_network_transmit_bytes_total", "device", devFilter) + " or " +
		builder("windows_net_bytes_sent_total", "nic", "") + " or " +
		builder("wmi_net_bytes_sent_total", "nic", "")
}

func (h *ServerHandler) qLinkMbps(rule *rules.AlertRule) string {
	inst := h.prom.InstanceLabel
	builder := func(expr, by string) string {
		return fmt.Sprintf(`(max by (%s, %s) (%s))`, inst, by, expr)
	}
	m := h.matchers(rule, devFilter)
	mw := h.matchers(rule)
	return builder(fmt.Sprintf(`(node_network_speed_bytes{%s} * 8 / 1e6)`, m), "device") + " or " +
		builder(fmt.Sprintf(`(windows_net_current_bandwidth_bytes{%s} * 8 / 1e6)`, mw), "nic") + " or " +
		builder(fmt.Sprintf(`(wmi_net_current_bandwidth_bytes{%s} * 8 / 1e6)`, mw), "nic") + " or " +
		builder(fmt.Sprintf(`(windows_net_current_bandwidth{%s} / 1e6)`, mw), "nic")
}

// hostVals collects a per-host field; ok=false means the fetch failed.
func (h *ServerHandler) hostVals(ctx context.Context, query string) (map[string]float64, bool) {
	res := h.prom.Vector(ctx, query)
	if res.Status == tsdb.StatusError {
		return nil, false
	}
	out := map[string]float64{}
	for _, s := range res.Series {
		if v, ok := s.Float("value"); ok {
			out[guessHost(s.Labels)] = v
		}
	}
	return out, true
}

// entityVals collects a per-(host, sub-entity) field.
func (h *ServerHandler) entityVals(ctx context.Context, query string, subLabel func(map[string]string) string) (map[[2]string]float64, bool) {
	res := h.prom.Vector(ctx, query)
	if res.Status == tsdb.StatusError {
		return nil, false
	}
	out := map[[2]string]float64{}
	for _, s := range res.Series {
		if v, ok := s.Float("value"); ok {
			out[[2]string{guessHost(s.Labels), subLabel(s.Labels)}] = v
		}
	}
	return out, true
}

// chooseTemplates maps a rule to its notification templates by name keyword,
// falling back to the evaluation scope.
func chooseTemplates(rule *rules.AlertRule, scope string) (alert, recovery string) {
	name := strings.ToLower(rule.Name)
	switch {
	case strings.Contains(name, "cpu"):
		return "server_cpu_high", "server_cpu_recovery"
	case strings.Contains(name, "mem"):
		return "server_mem_high", "server_mem_recovery"
	case strings.Contains(name, "disk"):
		return "server_disk_high", "server_disk_recovery"
	case strings.Contains(name, "net"), strings.Contains(name, "bandwidth"):
		return "server_net_high", "server_net_recovery"
	}
	return "server_" + scope + "_alert", "server_" + scope + "_recovery"
}

func (h *ServerHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	if len(rule.Logic.Children) == 0 {
		log.Debug().Int64("rule", rule.ID).Msg("Rule has empty logic, skipping")
		return nil
	}

	needed := rules.Fields(rule.Logic)
	needCPU := needed["cpu_usage"]
	needMem := needed["mem_usage"]
	needDisk := needed["disk_usage"] || needed["disk_free"]
	needRx := needed["network_receive_mbps"]
	needTx := needed["network_transmit_mbps"]
	needTotal := needed["net_mbps"] || needed["net_util"]
	needNet := needRx || needTx || needTotal

	baseByHost := map[string]rules.Metrics{}
	addBase := func(field string, vals map[string]float64) {
		for host, v := range vals {
			if baseByHost[host] == nil {
				baseByHost[host] = rules.Metrics{}
			}
			baseByHost[host][field] = v
		}
	}

	if needCPU {
		vals, ok := h.hostVals(ctx, h.qCPUUsage(rule))
		if !ok {
			h.engine.fetchFailed(rule, fmt.Errorf("cpu query failed"))
			return nil
		}
		addBase("cpu_usage", vals)
	}
	if needMem {
		vals, ok := h.hostVals(ctx, h.qMemUsage(rule))
		if !ok {
			h.engine.fetchFailed(rule, fmt.Errorf("memory query failed"))
			return nil
		}
		addBase("mem_usage", vals)
	}

	now := time.Now().UTC()

	switch {
	case needDisk:
		usage := map[[2]string]float64{}
		free := map[[2]string]float64{}
		var ok bool
		if needed["disk_usage"] {
			if usage, ok = h.entityVals(ctx, h.qDiskPct(rule, false), diskLabel); !ok {
				h.engine.fetchFailed(rule, fmt.Errorf("disk usage query failed"))
				return nil
			}
		}
		if needed["disk_free"] {
			if free, ok = h.entityVals(ctx, h.qDiskPct(rule, true), diskLabel); !ok {
				h.engine.fetchFailed(rule, fmt.Errorf("disk free query failed"))
				return nil
			}
		}

		for _, k := range unionKeys(usage, free) {
			host, disk := k[0], k[1]
			metrics := rules.Metrics{}
			for f, v := range baseByHost[host] {
				metrics[f] = v
			}
			if v, ok := usage[k]; ok {
				metrics["disk_usage"] = v
			}
			if v, ok := free[k]; ok {
				metrics["disk_free"] = v
			}
			key := fmt.Sprintf("%s|disk|%s", host, disk)
			if err := h.process(ctx, rule, key, host, "disk", metrics, map[string]any{"disk": disk}, now); err != nil {
				return err
			}
		}

	case needNet:
		rx := map[[2]string]float64{}
		tx := map[[2]string]float64{}
		link := map[[2]string]float64{}
		var ok bool
		if needRx || needTotal {
			if rx, ok = h.entityVals(ctx, h.qNetMbps(rule, "rx"), ifaceLabel); !ok {
				h.engine.fetchFailed(rule, fmt.Errorf("network rx query failed"))
				return nil
			}
		}
		if needTx || needTotal {
			if tx, ok = h.entityVals(ctx, h.qNetMbps(rule, "tx"), ifaceLabel); !ok {
				h.engine.fetchFailed(rule, fmt.Errorf("network tx query failed"))
				return nil
			}
		}
		if needed["net_util"] {
			if link, ok = h.entityVals(ctx, h.qLinkMbps(rule), ifaceLabel); !ok {
				h.engine.fetchFailed(rule, fmt.Errorf("link speed query failed"))
				return nil
			}
		}

		for _, k := range unionKeys(rx, tx) {
			host, iface := k[0], k[1]
			metrics := rules.Metrics{}
			for f, v := range baseByHost[host] {
				metrics[f] = v
			}
			rxV, hasRx := rx[k]
			txV, hasTx := tx[k]
			if hasRx {
				metrics["network_receive_mbps"] = rxV
			}
			if hasTx {
				metrics["network_transmit_mbps"] = txV
			}
			if needTotal {
				total := rxV + txV
				metrics["net_mbps"] = total
				if speed, ok := link[k]; ok && speed > 0 {
					metrics["net_util"] = (total / speed) * 100
				}
			}
			key := fmt.Sprintf("%s|net|%s", host, iface)
			if err := h.process(ctx, rule, key, host, "net", metrics, map[string]any{"iface": iface}, now); err != nil {
				return err
			}
		}

	default:
		for host, metrics := range baseByHost {
			if err := h.process(ctx, rule, host, host, "host", metrics, nil, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ServerHandler) process(ctx context.Context, rule *rules.AlertRule, key, host, scope string, metrics rules.Metrics, meta map[string]any, now time.Time) error {
	matched := rules.Evaluate(rule.Logic, metrics)
	tr, err := h.engine.updateTarget(ctx, rule, key, matched, metrics, now)
	if err != nil {
		return err
	}
	if tr.Action == ActionNone {
		return nil
	}

	alertTpl, recoveryTpl := chooseTemplates(rule, scope)
	template := alertTpl
	if tr.Action == ActionRecovery {
		template = recoveryTpl
	}

	evCtx := map[string]any{
		"hostname": host,
		"scope":    scope,
		"target":   key,
	}
	for f, v := range metrics {
		evCtx[f] = v
	}
	for f, v := range meta {
		evCtx[f] = v
	}
	if tr.Action == ActionRecovery {
		evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
	}

	h.engine.notify(ctx, notify.Event{Template: template, Rule: rule, Context: evCtx})
	return nil
}

func unionKeys(maps ...map[[2]string]float64) [][2]string {
	seen := map[[2]string]bool{}
	var out [][2]string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
