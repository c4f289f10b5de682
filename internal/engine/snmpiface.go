package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

const (
	ifOperUp   = 1
	ifOperDown = 2

	// snmpPageSize pages Influx by series, not rows, so very large interface
	// inventories stream through in bounded memory.
	snmpPageSize = 1000
)

// SNMPInterfaceHandler watches ifOperStatus per interface. State lives per
// "<hostname>::<ifDescr>" target. The first sighting of an interface writes
// a baseline row and never alerts, so onboarding a device with ports that
// are administratively down does not page anyone.
type SNMPInterfaceHandler struct {
	engine *Engine
	influx *tsdb.InfluxClient
}

type snmpInterface struct {
	hostname string
	ifDescr  string
	status   int
}

func (h *SNMPInterfaceHandler) fetchPage(ctx context.Context, soffset int) ([]snmpInterface, error) {
	q := fmt.Sprintf(`SELECT LAST(ifOperStatus) AS ifOperStatus, LAST(ifDescr) AS ifDescr, LAST(hostname) AS hostname `+
		`FROM interface WHERE customer_name!='' GROUP BY hostname, ifDescr SLIMIT %d SOFFSET %d`,
		snmpPageSize, soffset)

	res := h.influx.Query(ctx, q)
	if res.Status == tsdb.StatusError {
		return nil, res.Err
	}

	var out []snmpInterface
	for _, s := range res.Series {
		hostname := s.Label("hostname")
		if hostname == "" {
			if v, ok := s.Fields["hostname"].(string); ok {
				hostname = v
			} else {
				hostname = "unknown"
			}
		}
		ifDescr, _ := s.Fields["ifDescr"].(string)
		if ifDescr == "" {
			ifDescr = s.Label("ifDescr")
		}
		if ifDescr == "" {
			ifDescr = "unknown"
		}

		status := ifOperUp
		if v, ok := s.Float("ifOperStatus"); ok {
			status = int(v)
		}
		out = append(out, snmpInterface{hostname: hostname, ifDescr: ifDescr, status: status})
	}
	return out, nil
}

func (h *SNMPInterfaceHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	threshold := rule.Threshold()
	started := time.Now()
	processed := 0
	baselined := 0

	for soffset := 0; ; soffset += snmpPageSize {
		page, err := h.fetchPage(ctx, soffset)
		if err != nil {
			h.engine.fetchFailed(rule, err)
			return nil
		}
		if len(page) == 0 {
			break
		}

		for _, iface := range page {
			if rule.BWHostname != "" && iface.hostname != rule.BWHostname {
				continue
			}
			if rule.BWInterface != "" && iface.ifDescr != rule.BWInterface {
				continue
			}

			processed++
			created, err := h.evaluateInterface(ctx, rule, iface, threshold)
			if err != nil {
				return err
			}
			if created {
				baselined++
			}
		}
	}

	log.Debug().
		Int64("rule", rule.ID).
		Int("interfaces", processed).
		Int("baselined", baselined).
		Dur("took", time.Since(started)).
		Msg("SNMP interface sweep finished")
	return nil
}

func (h *SNMPInterfaceHandler) evaluateInterface(ctx context.Context, rule *rules.AlertRule, iface snmpInterface, threshold int) (bool, error) {
	key := iface.hostname + "::" + iface.ifDescr
	now := time.Now().UTC()

	var (
		tr          Transition
		wasBaseline bool
	)
	err := h.engine.store.WithTargetState(ctx, rule, key, func(st *rules.RuleState, created bool) error {
		st.Extended["status"] = iface.status

		if created {
			wasBaseline = true
			st.Active = false
			st.Consecutive = 0
			return nil
		}

		switch iface.status {
		case ifOperDown:
			tr = Apply(st, true, threshold, now)
		case ifOperUp:
			tr = Apply(st, false, threshold, now)
		default:
			// Testing/dormant/notPresent neither trigger nor recover.
			st.Consecutive = 0
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if wasBaseline {
		return true, nil
	}

	switch tr.Action {
	case ActionTrigger:
		h.engine.metrics.Triggers.Inc()
		h.engine.notify(ctx, notify.Event{
			Template: "snmp_interface_alert",
			Rule:     rule,
			Context: map[string]any{
				"hostname":     iface.hostname,
				"interface":    iface.ifDescr,
				"metric_name":  "ifOperStatus",
				"metric_value": iface.status,
			},
		})
	case ActionRecovery:
		h.engine.metrics.Recoveries.Inc()
		h.engine.notify(ctx, notify.Event{
			Template: "snmp_interface_recovery",
			Rule:     rule,
			Context: map[string]any{
				"hostname":         iface.hostname,
				"interface":        iface.ifDescr,
				"metric_name":      "ifOperStatus",
				"metric_value":     iface.status,
				"downtime_seconds": int64(tr.Downtime.Seconds()),
			},
		})
	}
	return false, nil
}
