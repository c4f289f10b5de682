package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autointelli/unified360-go/internal/notify"
	"github.com/autointelli/unified360-go/internal/rules"
	"github.com/autointelli/unified360-go/internal/telemetry"
	"github.com/autointelli/unified360-go/internal/tsdb"
)

// UpDownMonitor declares devices UP or DOWN from metric staleness rather
// than rule logic: a device that has not reported within StaleAfter is DOWN,
// and a device with no last-seen timestamp at all is DOWN by definition.
// Notifications are edge-triggered only; a device that stays DOWN is silent
// after the first alert.
type UpDownMonitor struct {
	store      *rules.Store
	prom       *tsdb.PromClient
	influx     *tsdb.InfluxClient
	notifier   notify.Notifier
	metrics    *telemetry.Metrics
	staleAfter time.Duration
}

// NewUpDownMonitor wires the monitor over the shared backends.
func NewUpDownMonitor(store *rules.Store, prom *tsdb.PromClient, influx *tsdb.InfluxClient, notifier notify.Notifier, metrics *telemetry.Metrics, staleAfter time.Duration) *UpDownMonitor {
	return &UpDownMonitor{
		store:      store,
		prom:       prom,
		influx:     influx,
		notifier:   notifier,
		metrics:    metrics,
		staleAfter: staleAfter,
	}
}

// sourceKind labels the device class for notification subjects.
func sourceKind(source string) string {
	if source == "server" {
		return "Server"
	}
	return "Network Device"
}

// RunCycle sweeps every source type once. A failing last-seen fetch skips
// that source for the cycle; state rows stay untouched, because "the backend
// is down" must never read as "every device is down".
func (m *UpDownMonitor) RunCycle(ctx context.Context) error {
	now := time.Now().UTC()
	log.Info().Msg("Device up/down cycle started")

	sources := []struct {
		name  string
		fetch func(context.Context) (map[string]time.Time, error)
	}{
		{"snmp", func(ctx context.Context) (map[string]time.Time, error) { return m.influx.SNMPLastSeen(ctx) }},
		{"server", func(ctx context.Context) (map[string]time.Time, error) { return m.prom.ServerLastSeen(ctx, "") }},
		{"idrac", func(ctx context.Context) (map[string]time.Time, error) { return m.influx.IDRACLastSeen(ctx) }},
		{"ilo", func(ctx context.Context) (map[string]time.Time, error) { return m.influx.ILOLastSeen(ctx) }},
	}

	for _, src := range sources {
		subs, err := m.store.DeviceUpDownRules(ctx, src.name)
		if err != nil {
			return err
		}
		if len(subs) == 0 {
			continue
		}

		seen, err := src.fetch(ctx)
		if err != nil {
			m.metrics.FetchErrors.Inc()
			log.Warn().Err(err).Str("source", src.name).Msg("Last-seen fetch failed, skipping source")
			continue
		}

		log.Info().Str("source", src.name).Int("devices", len(subs)).Msg("Evaluating device subscriptions")
		for _, sub := range subs {
			var lastSeen *time.Time
			if ts, ok := seen[sub.Device]; ok {
				lastSeen = &ts
			}
			if err := m.ProcessDevice(ctx, sub, lastSeen, now); err != nil {
				return err
			}
		}
	}

	log.Info().Msg("Device up/down cycle completed")
	return nil
}

// ProcessDevice advances one device's status row. First observation creates
// the row; a device born DOWN alerts immediately, a device born UP is just a
// baseline. On recovery the outage is folded into total_downtime_sec.
func (m *UpDownMonitor) ProcessDevice(ctx context.Context, sub *rules.DeviceUpDownRule, lastSeen *time.Time, now time.Time) error {
	delay := m.staleAfter + time.Second
	if lastSeen != nil {
		delay = now.Sub(*lastSeen)
	}
	status := "DOWN"
	if delay <= m.staleAfter {
		status = "UP"
	}

	var (
		event    string
		downtime time.Duration
	)
	err := m.store.WithDeviceStatus(ctx, sub.Source, sub.Device, func(ds *rules.DeviceStatus, created bool) error {
		if created {
			ds.LastStatus = status
			ds.Active = status == "DOWN"
			ds.LastChange = now
			if status == "DOWN" {
				t := now
				ds.DownSince = &t
				event = "down"
				downtime = delay
			}
			return nil
		}

		if ds.LastStatus == status {
			return nil
		}

		prev := ds.LastStatus
		ds.LastStatus = status
		ds.LastChange = now

		switch {
		case prev == "UP" && status == "DOWN":
			ds.Active = true
			t := now
			ds.DownSince = &t
			event = "down"
			downtime = delay
		case prev == "DOWN" && status == "UP":
			ds.Active = false
			if ds.DownSince != nil {
				downtime = now.Sub(*ds.DownSince)
				if downtime < 0 {
					downtime = 0
				}
			}
			ds.TotalDowntimeSec += int64(downtime.Seconds())
			t := now
			ds.LastRecovered = &t
			ds.DownSince = nil
			event = "recovery"
		}
		return nil
	})
	if err != nil {
		return err
	}
	if event == "" {
		return nil
	}

	log.Info().
		Str("source", sub.Source).
		Str("device", sub.Device).
		Str("status", status).
		Msg("Device state change")

	template := "device_down"
	if event == "recovery" {
		template = "device_recovery"
		m.metrics.DeviceUp.Inc()
	} else {
		m.metrics.DeviceDown.Inc()
	}

	recipients, err := m.store.Recipients(ctx, sub.ContactGroupID)
	if err != nil {
		log.Error().Err(err).Int64("group", sub.ContactGroupID).Msg("Contact group lookup failed")
	}

	ev := notify.Event{
		Template:   template,
		Recipients: recipients,
		Context: map[string]any{
			"kind":             sourceKind(sub.Source),
			"device":           sub.Device,
			"status":           status,
			"stale_seconds":    int64(m.staleAfter.Seconds()),
			"downtime_seconds": int64(downtime.Seconds()),
		},
	}
	if err := m.notifier.Send(ctx, ev); err != nil {
		log.Error().Err(err).Str("template", template).Str("device", sub.Device).Msg("Notification failed")
	}
	return nil
}
