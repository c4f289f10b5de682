package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

// PortHandler evaluates TCP port rules from the telegraf net_response
// measurement. Targets are "<host_ip>:<port>" across the tenant's port
// monitors. A host that never reported counts as DOWN; a failed backend
// fetch skips the whole rule.
type PortHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

func (h *PortHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	monitors, err := h.engine.store.PortMonitors(ctx, rule.CustomerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, monitor := range monitors {
		for _, port := range monitor.PortList() {
			if err := h.evaluatePort(ctx, rule, monitor.HostIP, port, now); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *PortHandler) evaluatePort(ctx context.Context, rule *rules.AlertRule, host, port string, now time.Time) error {
	q := fmt.Sprintf(
		`SELECT * FROM "net_response" WHERE server = '%s' AND port = '%s' ORDER BY time DESC LIMIT 1`,
		tsdb.InfluxEscape(host), tsdb.InfluxEscape(port),
	)
	res := h.influx.Query(ctx, q)
	if res.Status == tsdb.StatusError {
		h.engine.fetchFailed(rule, res.Err)
		return nil
	}

	metrics := rules.Metrics{"port_status": "DOWN", "response_time_ms": nil}
	if res.Status == tsdb.StatusOK {
		row := res.Series[0].Fields
		result := strings.ToLower(fmt.Sprintf("%v", row["result"]))
		if result == "success" || result == "ok" {
			metrics["port_status"] = "UP"
		}
		metrics["response_time_ms"] = row["response_time"]
	}

	matched := rules.Evaluate(rule.Logic, metrics)
	key := host + ":" + port

	tr, err := h.engine.updateTarget(ctx, rule, key, matched, metrics, now)
	if err != nil {
		return err
	}

	switch tr.Action {
	case ActionTrigger:
		// A breach with no measured latency is a hard DOWN; with one it is
		// a latency breach.
		template := "port_alert"
		if metrics["response_time_ms"] != nil {
			template = "port_slow"
		}
		h.engine.notify(ctx, notify.Event{
			Template: template,
			Rule:     rule,
			Context: map[string]any{
				"hostname":         host,
				"port":             port,
				"response_time_ms": metrics["response_time_ms"],
			},
		})
	case ActionRecovery:
		h.engine.notify(ctx, notify.Event{
			Template: "port_recovery",
			Rule:     rule,
			Context: map[string]any{
				"hostname":         host,
				"port":             port,
				"downtime_seconds": int64(tr.Downtime.Seconds()),
			},
		})
	}
	return nil
}

// URLHandler evaluates HTTP endpoint rules from the http_response
// measurement, one target per monitored URL.
type URLHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

func (h *URLHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	monitors, err := h.engine.store.URLMonitors(ctx, rule.CustomerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, monitor := range monitors {
		row, status := h.influx.LastRow(ctx, "http_response", "server", monitor.Host)
		if status == tsdb.StatusError {
			h.engine.fetchFailed(rule, fmt.Errorf("http_response query failed for %s", monitor.Host))
			return nil
		}

		metrics := rules.Metrics{
			"status_code":      nil,
			"response_time_ms": nil,
			"result":           "timeout",
			"friendly_name":    "Unknown",
		}
		if status == tsdb.StatusOK {
			metrics["status_code"] = row["status_code"]
			metrics["response_time_ms"] = row["response_time"]
			metrics["result"] = row["result"]
			if name, ok := row["friendly_name"].(string); ok && name != "" {
				metrics["friendly_name"] = name
			}
		}

		matched := rules.Evaluate(rule.Logic, metrics)
		tr, err := h.engine.updateTarget(ctx, rule, monitor.Host, matched, metrics, now)
		if err != nil {
			return err
		}

		evCtx := map[string]any{
			"hostname":      monitor.Host,
			"status_code":   metrics["status_code"],
			"response_time": metrics["response_time_ms"],
			"friendly_name": metrics["friendly_name"],
		}
		switch tr.Action {
		case ActionTrigger:
			template := "url_slow"
			if strings.Contains(strings.ToLower(rule.Name), "down") {
				template = "url_down"
			}
			h.engine.notify(ctx, notify.Event{Template: template, Rule: rule, Context: evCtx})
		case ActionRecovery:
			evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
			h.engine.notify(ctx, notify.Event{Template: "url_recovery", Rule: rule, Context: evCtx})
		}
	}
	return nil
}

// PingHandler evaluates ICMP reachability rules from the ping measurement.
type PingHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

func (h *PingHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	monitors, err := h.engine.store.PingMonitors(ctx, rule.CustomerID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, monitor := range monitors {
		row, status := h.influx.LastRow(ctx, "ping", "url", monitor.Host)
		if status == tsdb.StatusError {
			h.engine.fetchFailed(rule, fmt.Errorf("ping query failed for %s", monitor.Host))
			return nil
		}

		metrics := rules.Metrics{"latency_ms": nil, "packet_loss": nil, "result": "timeout"}
		if status == tsdb.StatusOK {
			metrics["latency_ms"] = row["average_response_ms"]
			metrics["packet_loss"] = row["percent_packet_loss"]
			metrics["result"] = row["result_code"]
		}

		matched := rules.Evaluate(rule.Logic, metrics)
		tr, err := h.engine.updateTarget(ctx, rule, monitor.Host, matched, metrics, now)
		if err != nil {
			return err
		}

		evCtx := map[string]any{
			"hostname":    monitor.Host,
			"latency_ms":  metrics["latency_ms"],
			"packet_loss": metrics["packet_loss"],
		}
		switch tr.Action {
		case ActionTrigger:
			template := "ping_latency"
			if strings.Contains(strings.ToLower(rule.Name), "packet") {
				template = "ping_packetloss"
			}
			h.engine.notify(ctx, notify.Event{Template: template, Rule: rule, Context: evCtx})
		case ActionRecovery:
			evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
			h.engine.notify(ctx, notify.Event{Template: "ping_recovery", Rule: rule, Context: evCtx})
		}
	}
	return nil
}
