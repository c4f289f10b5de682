// Package engine evaluates alert rules against metric backends and drives
// the per-target hysteresis state machine. One Handler per monitoring type
// resolves targets, builds the flat metrics snapshot, and applies the rule
// logic; the engine owns dispatch, concurrency, and edge notification.
package engine

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/telemetry"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

// Handler evaluates one rule end to end: resolve targets, fetch metrics,
// advance state, notify on edges. A fetch failure must leave every target's
// state untouched.
type Handler interface {
	Execute(ctx context.Context, rule *rules.AlertRule) error
}

// Config carries the engine knobs that come from the environment.
type Config struct {
	// Workers bounds how many rules evaluate concurrently. Per-target
	// consistency is the store's job; this only limits backend fan-out.
	Workers int
	// StaleAfter is how long a device may stay silent before the up/down
	// monitor declares it DOWN.
	StaleAfter time.Duration
}

// Engine owns the dispatch table and the shared backends.
type Engine struct {
	store    *rules.Store
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	handlers map[rules.MonitoringType]Handler
	updown   *UpDownMonitor
	workers  int
}

// New wires the full dispatch table. Every monitoring type gets a handler at
// construction time so an unknown type in the database is a data error, not
// a silent skip at dispatch.
func New(store *rules.Store, prom *tsdb.PromClient, influx, fortigate *tsdb.InfluxClient, notifier notify.Notifier, metrics *telemetry.Metrics, cfg Config) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}

	e := &Engine{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		workers:  cfg.Workers,
	}
	e.updown = NewUpDownMonitor(store, prom, influx, notifier, metrics, cfg.StaleAfter)

	e.handlers = map[rules.MonitoringType]Handler{
		rules.TypeServer:        &ServerHandler{engine: e, prom: prom},
		rules.TypePort:          &PortHandler{engine: e, influx: influx},
		rules.TypeURL:           &URLHandler{engine: e, influx: influx},
		rules.TypePing:          &PingHandler{engine: e, influx: influx},
		rules.TypeSNMPInterface: &SNMPInterfaceHandler{engine: e, influx: influx},
		rules.TypeServiceDown:   &ServiceDownHandler{engine: e, prom: prom},
		rules.TypeOracle:        &OracleHandler{engine: e, prom: prom},
		rules.TypeFortigateVPN:  &FortigateVPNHandler{engine: e, influx: fortigate},
		rules.TypeSDWAN:         &FortigateSDWANHandler{engine: e, influx: fortigate},
		rules.TypeFortigateSys:  &FortigateSysHandler{engine: e, influx: fortigate},
	}
	return e
}

// UpDown exposes the device up/down monitor for its own schedule.
func (e *Engine) UpDown() *UpDownMonitor { return e.updown }

// RunCycle evaluates every enabled rule once. Rules run concurrently up to
// the worker bound; a failing rule is logged and never aborts the cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	started := time.Now()
	enabled, err := e.store.EnabledRules(ctx)
	if err != nil {
		return err
	}
	e.metrics.CyclesTotal.Inc()

	log.Info().Int("rules", len(enabled)).Msg("Alert cycle started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, rule := range enabled {
		if rule.Type == rules.TypeDeviceUpDown {
			// Device up/down runs on its own schedule over subscriptions,
			// not per alert rule.
			continue
		}
		handler, ok := e.handlers[rule.Type]
		if !ok {
			log.Warn().Int64("rule", rule.ID).Str("type", string(rule.Type)).Msg("No handler for monitoring type")
			continue
		}

		g.Go(func() error {
			t0 := time.Now()
			e.metrics.RulesEvaluated.Inc()
			if err := handler.Execute(gctx, rule); err != nil {
				log.Error().Err(err).
					Int64("rule", rule.ID).
					Str("name", rule.Name).
					Str("type", string(rule.Type)).
					Msg("Rule evaluation failed")
			} else {
				log.Debug().Int64("rule", rule.ID).Dur("took", time.Since(t0)).Msg("Rule evaluated")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Dur("took", time.Since(started)).Msg("Alert cycle completed")
	return nil
}

// updateTarget advances one target's state inside a store transaction and
// returns the edge. The metrics snapshot is kept in extended state for the
// UI. Callers notify only after this returns, so an edge is only ever acted
// on once it is durable.
func (e *Engine) updateTarget(ctx context.Context, rule *rules.AlertRule, key string, matched bool, snapshot rules.Metrics, now time.Time) (Transition, error) {
	var tr Transition
	err := e.store.WithTargetState(ctx, rule, key, func(st *rules.RuleState, _ bool) error {
		if snapshot != nil {
			st.Extended["last_metrics"] = sanitizeSnapshot(snapshot)
			st.Extended["last_seen"] = now.UTC().Format("2006-01-02 15:04:05")
		}
		tr = Apply(st, matched, rule.Threshold(), now)
		return nil
	})
	if err != nil {
		return Transition{}, err
	}

	switch tr.Action {
	case ActionTrigger:
		e.metrics.Triggers.Inc()
	case ActionRecovery:
		e.metrics.Recoveries.Inc()
	}
	return tr, nil
}

// sanitizeSnapshot replaces non-finite floats with nil before the snapshot is
// encoded. Backends legitimately return NaN (a 0/0 recorded rule, for one)
// and encoding/json rejects it, which would wedge the target's state row. The
// evaluator already treats such samples as non-matching; the stored snapshot
// keeps the field with a nil value so the gap stays visible.
func sanitizeSnapshot(snapshot rules.Metrics) rules.Metrics {
	var clean rules.Metrics
	for k, v := range snapshot {
		f, ok := v.(float64)
		if !ok || (!math.IsNaN(f) && !math.IsInf(f, 0)) {
			continue
		}
		if clean == nil {
			clean = make(rules.Metrics, len(snapshot))
			for ck, cv := range snapshot {
				clean[ck] = cv
			}
		}
		clean[k] = nil
	}
	if clean == nil {
		return snapshot
	}
	return clean
}

// notify dispatches one event, logging failures instead of propagating them:
// a broken mail relay must not wedge rule evaluation.
func (e *Engine) notify(ctx context.Context, ev notify.Event) {
	if len(ev.Recipients) == 0 && ev.Rule != nil && ev.Rule.ContactGroupID != 0 {
		recipients, err := e.store.Recipients(ctx, ev.Rule.ContactGroupID)
		if err != nil {
			log.Error().Err(err).Int64("group", ev.Rule.ContactGroupID).Msg("Contact group lookup failed")
		}
		ev.Recipients = recipients
	}
	if err := e.notifier.Send(ctx, ev); err != nil {
		log.Error().Err(err).Str("template", ev.Template).Msg("Notification failed")
	}
}

// fetchFailed records a backend fetch error and logs it once per rule.
func (e *Engine) fetchFailed(rule *rules.AlertRule, err error) {
	e.metrics.FetchErrors.Inc()
	log.Warn().Err(err).Int64("rule", rule.ID).Str("type", string(rule.Type)).Msg("Backend fetch failed, skipping cycle")
}
