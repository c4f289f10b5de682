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

// ServiceDownHandler watches one OS service on one host. The rule carries
// the host in svc_instance and names the service in its logic as
// {"field":"service_name","op":"=","value":"W32Time"}. Windows services are
// resolved through windows_service_state/status, Linux units through
// node_systemd_unit_state. An unresolvable service never alerts.
type ServiceDownHandler struct {
	engine *Engine
	prom   *tsdb.PromClient
}

// serviceNameFromLogic pulls the service equality leaf out of the rule tree.
func serviceNameFromLogic(node rules.Node) string {
	switch n := node.(type) {
	case rules.Leaf:
		if n.Field == "service_name" && (n.Op == rules.OpEq || n.Op == rules.OpEqAlias) {
			if v, ok := n.Value.(string); ok {
				return strings.TrimSpace(v)
			}
		}
	case rules.Group:
		for _, child := range n.Children {
			if v := serviceNameFromLogic(child); v != "" {
				return v
			}
		}
	}
	return ""
}

func linuxUnit(service string) string {
	if service != "" && !strings.Contains(service, ".") {
		return service + ".service"
	}
	return service
}

// serviceRunning resolves whether the service is up. The middle return is
// false when no backend sample matched at all; the last is false when the
// fetch itself failed.
func (h *ServiceDownHandler) serviceRunning(ctx context.Context, instance, service string) (running, known, fetched bool) {
	svc := strings.ToLower(service)
	inst := tsdb.PromEscape(instance)

	windowsQueries := []string{
		fmt.Sprintf(`windows_service_state{instance="%s", name="%s", state="running"}`, inst, svc),
		fmt.Sprintf(`windows_service_status{instance="%s", name="%s", status="running"}`, inst, svc),
	}
	for _, q := range windowsQueries {
		v, ok := h.prom.FirstValue(ctx, q)
		if !ok {
			return false, false, false
		}
		if f, isFloat := v.(float64); isFloat {
			return f >= 0.5, true, true
		}
	}

	unit := tsdb.PromEscape(linuxUnit(service))
	v, ok := h.prom.FirstValue(ctx, fmt.Sprintf(
		`node_systemd_unit_state{instance="%s", name="%s", state="active"}`, inst, unit))
	if !ok {
		return false, false, false
	}
	if f, isFloat := v.(float64); isFloat {
		return f >= 0.5, true, true
	}

	v, ok = h.prom.FirstValue(ctx, fmt.Sprintf(
		`node_systemd_unit_state{instance="%s", name="%s", state!="active"}`, inst, unit))
	if !ok {
		return false, false, false
	}
	if f, isFloat := v.(float64); isFloat && f >= 0.5 {
		return false, true, true
	}

	return false, false, true
}

func (h *ServiceDownHandler) Execute(ctx context.Context, rule *rules.AlertRule) error {
	instance := strings.TrimSpace(rule.SvcInstance)
	service := strings.ToLower(serviceNameFromLogic(rule.Logic))
	if instance == "" || service == "" {
		log.Warn().Int64("rule", rule.ID).Msg("Service rule missing instance or service name")
		return nil
	}

	running, known, fetched := h.serviceRunning(ctx, instance, service)
	if !fetched {
		h.engine.fetchFailed(rule, fmt.Errorf("service state query failed for %s/%s", instance, service))
		return nil
	}

	// The rule logic gates on the service name; the breach itself is the
	// resolved service being down. Unknown state never alerts.
	logicOK := rules.Evaluate(rule.Logic, rules.Metrics{"service_name": service})
	matched := known && logicOK && !running

	now := time.Now().UTC()
	key := fmt.Sprintf("svc::%s::%s", instance, service)

	snapshot := rules.Metrics{
		"svc_instance": instance,
		"service_name": service,
		"running":      nil,
	}
	if known {
		snapshot["running"] = running
	}

	tr, err := h.engine.updateTarget(ctx, rule, key, matched, snapshot, now)
	if err != nil {
		return err
	}

	evCtx := map[string]any{"hostname": instance, "service_name": service}
	switch tr.Action {
	case ActionTrigger:
		h.engine.notify(ctx, notify.Event{Template: "service_down", Rule: rule, Context: evCtx})
	case ActionRecovery:
		evCtx["downtime_seconds"] = int64(tr.Downtime.Seconds())
		h.engine.notify(ctx, notify.Event{Template: "service_recovery", Rule: rule, Context: evCtx})
	}
	return nil
}
