package engine

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

// asFloat coerces the mixed types Influx JSON rows carry.
func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FortigateVPNHandler evaluates per-tunnel KPIs: tunnel down, inbound Mbps,
// outbound Mbps. The state key embeds the rule's first logic field so one
// tunnel can carry independent down/in/out alert state:
// "vpn::<fw>::<vpn>::<metric_field>".
type FortigateVPNHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

const vpnTunnelQuery = `SELECT LAST(vpn_status) AS vpn_status, LAST(vpn_name) AS vpn_name, LAST(hostname) AS hostname, ` +
	`LAST(fgVpnTunEntInOctets) AS in_octets, LAST(fgVpnTunEntOutOctets) AS out_octets, LAST(fgVpnTunEntLifeSecs) AS life_secs ` +
	`FROM vpn_tunnels GROUP BY hostname, vpn_name`

func vpnMetrics(fields rules.Metrics) rules.Metrics {
	lifeSecs, ok := asFloat(fields["life_secs"])
	if !ok || lifeSecs <= 0 {
		lifeSecs = 1
	}
	inOctets, _ := asFloat(fields["in_octets"])
	outOctets, _ := asFloat(fields["out_octets"])

	status, _ := asFloat(fields["vpn_status"])
	tunnelDown := "UP"
	if status == 1 {
		tunnelDown = "DOWN"
	}

	return rules.Metrics{
		"vpn_tunnel_down":     tunnelDown,
		"vpn_status":          fields["vpn_status"],
		"vpn_tunnel_in_mbps":  round2(inOctets * 8 / (lifeSecs * 1024 * 1024)),
		"vpn_tunnel_out_mbps": round2(outOctets * 8 / (lifeSecs * 1024 * 1024)),
	}
}

func (h *FortigateVPNHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	res := h.influx.Query(ctx, vpnTunnelQuery)
	if res.Status == tsdb.StatusError {
		h.engine.fetchFailed(rule, res.Err)
		return nil
	}
	if res.Status == tsdb.StatusEmpty {
		log.Debug().Int64("rule", rule.ID).Msg("No VPN tunnel data")
		return nil
	}

	metricField := rules.FirstField(rule.Logic)
	now := time.Now().UTC()

	for _, s := range res.Series {
		fw := s.Label("hostname")
		if fw == "" {
			fw = "UnknownFW"
		}
		vpnName := s.Label("vpn_name")
		if vpnName == "" {
			vpnName = "UnknownVPN"
		}

		metrics := vpnMetrics(s.Fields)
		matched := rules.Evaluate(rule.Logic, metrics)

		key := "vpn::" + fw + "::" + vpnName + "::" + metricField
		tr, err := h.engine.updateTarget(ctx, rule, key, matched, metrics, now)
		if err != nil {
			return err
		}

		evCtx := map[string]any{
			"hostname":     fw,
			"vpn_name":     vpnName,
			"metric_name":  metricField,
			"metric_value": metrics[metricField],
		}
		switch tr.Action {
		case ActionTrigger:
			template := "fortigate_vpn_alert"
			if metricField == "vpn_tunnel_down" {
				template = "fortigate_vpn_down"
			}
			h.engine.notify(ctx, notify.Event{Template: template, Rule: rule, Context: evCtx})
		case ActionRecovery:
			template := "fortigate_vpn_recovery_traffic"
			if metricField == "vpn_tunnel_down" {
				template = "fortigate_vpn_recovery"
			}
			evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
			h.engine.notify(ctx, notify.Event{Template: template, Rule: rule, Context: evCtx})
		}
	}
	return nil
}

// FortigateSDWANHandler evaluates per-link SD-WAN health: link state,
// latency, jitter, packet loss. State keys are "sdwan::<fw>::<link>".
type FortigateSDWANHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

const sdwanQuery = `SELECT LAST(fgVWLHealthCheckLinkState) AS link_state, LAST(fgVWLHealthCheckLinkLatency) AS latency, ` +
	`LAST(fgVWLHealthCheckLinkJitter) AS jitter, LAST(fgVWLHealthCheckLinkPacketLoss) AS packet_loss, ` +
	`LAST(hc_latency) AS hc_latency, LAST(hc_jitter) AS hc_jitter, LAST(hc_packet_loss) AS hc_packet_loss, ` +
	`LAST(fgVWLHealthCheckLinkName) AS link_name ` +
	`FROM sdwan_health GROUP BY hostname, hc_name`

func sdwanMetrics(fields rules.Metrics) rules.Metrics {
	pick := func(keys ...string) any {
		for _, k := range keys {
			if v, ok := asFloat(fields[k]); ok {
				return v
			}
		}
		return nil
	}

	metrics := rules.Metrics{
		"sdwan_link_state":       nil,
		"sdwan_link_down":        "UP",
		"sdwan_link_latency_ms":  pick("latency", "hc_latency"),
		"sdwan_link_jitter_ms":   pick("jitter", "hc_jitter"),
		"sdwan_link_packet_loss": pick("packet_loss", "hc_packet_loss"),
	}
	if state, ok := asFloat(fields["link_state"]); ok {
		metrics["sdwan_link_state"] = int(state)
		if int(state) != 1 {
			metrics["sdwan_link_down"] = "DOWN"
		}
	}
	return metrics
}

func (h *FortigateSDWANHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	res := h.influx.Query(ctx, sdwanQuery)
	if res.Status == tsdb.StatusError {
		h.engine.fetchFailed(rule, res.Err)
		return nil
	}
	if res.Status == tsdb.StatusEmpty {
		log.Debug().Int64("rule", rule.ID).Msg("No SDWAN link data")
		return nil
	}

	now := time.Now().UTC()
	ruleFields := rules.Fields(rule.Logic)

	for _, s := range res.Series {
		fw := s.Label("hostname")
		if fw == "" {
			fw = "UnknownFW"
		}
		link := s.Label("fgVWLHealthCheckLinkName", "hc_name")
		if link == "" {
			if v, ok := s.Fields["link_name"].(string); ok && v != "" {
				link = v
			} else {
				link = "UnknownLink"
			}
		}

		metrics := sdwanMetrics(s.Fields)
		matched := rules.Evaluate(rule.Logic, metrics)

		key := "sdwan::" + fw + "::" + link
		tr, err := h.engine.updateTarget(ctx, rule, key, matched, metrics, now)
		if err != nil {
			return err
		}
		if tr.Action == ActionNone {
			continue
		}

		// Surface the metric the rule actually watches, else the first
		// populated one.
		metricName, metricValue := "", any(nil)
		for field := range ruleFields {
			if v, ok := metrics[field]; ok {
				metricName, metricValue = field, v
				break
			}
		}
		if metricName == "" {
			for field, v := range metrics {
				if v != nil {
					metricName, metricValue = field, v
					break
				}
			}
		}

		evCtx := map[string]any{
			"hostname":  fw,
			"link_name": link,
			"metric":    metricName,
			"value":     metricValue,
		}
		switch tr.Action {
		case ActionTrigger:
			h.engine.notify(ctx, notify.Event{Template: "fortigate_sdwan_alert", Rule: rule, Context: evCtx})
		case ActionRecovery:
			evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
			h.engine.notify(ctx, notify.Event{Template: "fortigate_sdwan_recovery", Rule: rule, Context: evCtx})
		}
	}
	return nil
}

// FortigateSysHandler evaluates firewall-level system KPIs (memory usage,
// session count) with one state row per firewall: "sys::<fw>".
type FortigateSysHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

const sysQuery = `SELECT LAST(memory_usage) AS mem_usage, LAST(session_count) AS session_count ` +
	`FROM snmpdevice WHERE template_type='Fortigate' GROUP BY hostname`

func (h *FortigateSysHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	res := h.influx.Query(ctx, sysQuery)
	if res.Status == tsdb.StatusError {
		h.engine.fetchFailed(rule, res.Err)
		return nil
	}
	if res.Status == tsdb.StatusEmpty {
		log.Debug().Int64("rule", rule.ID).Msg("No Fortigate system data")
		return nil
	}

	metricField := rules.FirstField(rule.Logic)
	now := time.Now().UTC()

	for _, s := range res.Series {
		fw := s.Label("hostname")
		if fw == "" {
			fw = "UnknownFW"
		}

		metrics := rules.Metrics{"mem_usage": nil, "session_count": nil}
		if v, ok := asFloat(s.Fields["mem_usage"]); ok {
			metrics["mem_usage"] = v
		}
		if v, ok := asFloat(s.Fields["session_count"]); ok {
			metrics["session_count"] = v
		}

		matched := rules.Evaluate(rule.Logic, metrics)
		tr, err := h.engine.updateTarget(ctx, rule, "sys::"+fw, matched, metrics, now)
		if err != nil {
			return err
		}

		evCtx := map[string]any{
			"hostname":     fw,
			"metric_name":  metricField,
			"metric_value": metrics[metricField],
		}
		switch tr.Action {
		case ActionTrigger:
			h.engine.notify(ctx, notify.Event{Template: "fortigate_sys_alert", Rule: rule, Context: evCtx})
		case ActionRecovery:
			evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
			h.engine.notify(ctx, notify.Event{Template: "fortigate_sys_recovery", Rule: rule, Context: evCtx})
		}
	}
	return nil
}
