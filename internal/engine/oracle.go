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

// allTablespaces is the sentinel meaning "evaluate every tablespace the
// exporter reports, each with its own state row".
const allTablespaces = "__ALL__"

// OracleHandler evaluates Oracle rules from the oracledb exporter metrics.
// Supported logic fields: db_status (UP/DOWN string), tablespace_usage_pct,
// active_sessions. Target keys are "oracle:<monitor_id>:<db>:<tablespace>".
type OracleHandler struct {
	engine *Engine
	prom   *tsdb.PromClient
}

func (h *OracleHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	monitor, err := h.engine.store.OracleMonitorByID(ctx, rule.OracleMonitorID)
	if err != nil {
		return err
	}
	if monitor == nil {
		log.Warn().Int64("rule", rule.ID).Str("monitor", rule.OracleMonitorID).Msg("Oracle monitor not found")
		return nil
	}

	mid := fmt.Sprintf("%d", monitor.ID)

	upVal, ok := h.prom.FirstValue(ctx, fmt.Sprintf(`oracledb_up{MonitorID="%s"}`, mid))
	if !ok {
		h.engine.fetchFailed(rule, fmt.Errorf("oracledb_up query failed"))
		return nil
	}
	dbStatus := "DOWN"
	if v, isFloat := upVal.(float64); isFloat && v == 1 {
		dbStatus = "UP"
	}

	sessions, ok := h.prom.FirstValue(ctx, fmt.Sprintf(
		`sum(oracledb_sessions_value{MonitorID="%s",status="ACTIVE",type="USER"})`, mid))
	if !ok {
		h.engine.fetchFailed(rule, fmt.Errorf("oracle sessions query failed"))
		return nil
	}

	selected := rule.OracleTablespace
	if selected == "" {
		selected = allTablespaces
	}

	now := time.Now().UTC()

	if selected != allTablespaces {
		usage, ok := h.prom.FirstValue(ctx, fmt.Sprintf(
			`oracledb_tablespace_used_percent{MonitorID="%s",tablespace="%s"}`, mid, tsdb.PromEscape(selected)))
		if !ok {
			h.engine.fetchFailed(rule, fmt.Errorf("tablespace usage query failed"))
			return nil
		}
		return h.evaluateTablespace(ctx, rule, monitor, selected, dbStatus, usage, sessions, now)
	}

	res := h.prom.Vector(ctx, fmt.Sprintf(`oracledb_tablespace_used_percent{MonitorID="%s"}`, mid))
	if res.Status == tsdb.StatusError {
		h.engine.fetchFailed(rule, res.Err)
		return nil
	}

	if res.Status == tsdb.StatusEmpty {
		// No tablespace metrics at all. db_status-only rules still need to
		// fire, so fall back to a single sentinel key with no usage value.
		return h.evaluateTablespace(ctx, rule, monitor, allTablespaces, dbStatus, nil, sessions, now)
	}

	for _, s := range res.Series {
		tablespace := s.Labels["tablespace"]
		if tablespace == "" {
			continue
		}
		usage, _ := s.Float("value")
		if err := h.evaluateTablespace(ctx, rule, monitor, tablespace, dbStatus, usage, sessions, now); err != nil {
			return err
		}
	}
	return nil
}

func (h *OracleHandler) evaluateTablespace(ctx context.Context, rule *rules.AlertRule, monitor *rules.OracleMonitor, tablespace, dbStatus string, usage, sessions any, now time.Time) error {
	metrics := rules.Metrics{
		"db_status":            dbStatus,
		"tablespace_usage_pct": usage,
		"active_sessions":      sessions,
	}
	matched := rules.Evaluate(rule.Logic, metrics)

	key := fmt.Sprintf("oracle:%d:%s:%s", monitor.ID, monitor.ServiceName, tablespace)
	tr, err := h.engine.updateTarget(ctx, rule, key, matched, metrics, now)
	if err != nil {
		return err
	}
	if tr.Action == ActionNone {
		return nil
	}

	evCtx := map[string]any{
		"hostname":             monitor.HostPort(),
		"dbname":               monitor.ServiceName,
		"oracle_monitor_id":    monitor.ID,
		"oracle_tablespace":    tablespace,
		"db_status":            dbStatus,
		"tablespace_usage_pct": usage,
		"active_sessions":      sessions,
	}

	switch tr.Action {
	case ActionTrigger:
		h.engine.notify(ctx, notify.Event{Template: h.alertTemplate(rule), Rule: rule, Context: evCtx})
	case ActionRecovery:
		evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
		h.engine.notify(ctx, notify.Event{Template: "oracle_recovery", Rule: rule, Context: evCtx})
	}
	return nil
}

// alertTemplate prefers the DB-down template when the rule checks db_status.
func (h *OracleHandler) alertTemplate(rule *rules.AlertRule) string {
	for field := range rules.Fields(rule.Logic) {
		if field == "db_status" {
			return "oracle_db_down"
		}
	}
	return "oracle_threshold_alert"
}
