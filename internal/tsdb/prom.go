package tsdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog/log"

	"github.com/autointelli/unified360-go/internal/rules"
)

// PromClient runs instant queries against a Prometheus server.
type PromClient struct {
	api     promv1.API
	timeout time.Duration

	// TenantLabel is the label the exporters stamp on every sample to scope
	// it to a customer. Defaults to CustomerName.
	TenantLabel string
	// InstanceLabel is the per-host label, defaults to instance.
	InstanceLabel string
}

// NewPromClient builds a client for the given base URL.
func NewPromClient(baseURL string, timeout time.Duration) (*PromClient, error) {
	c, err := api.NewClient(api.Config{Address: strings.TrimRight(baseURL, "/")})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PromClient{
		api:           promv1.NewAPI(c),
		timeout:       timeout,
		TenantLabel:   "CustomerName",
		InstanceLabel: "instance",
	}, nil
}

// Vector runs one instant query. Each returned Series carries the sample's
// labels plus a single "value" field.
func (p *PromClient) Vector(ctx context.Context, query string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	value, warnings, err := p.api.Query(ctx, query, time.Now())
	if err != nil {
		return Failed(fmt.Errorf("prometheus query: %w", err))
	}
	if len(warnings) > 0 {
		log.Debug().Strs("warnings", warnings).Str("query", query).Msg("Prometheus query returned warnings")
	}

	vector, ok := value.(model.Vector)
	if !ok {
		return Failed(fmt.Errorf("prometheus query: expected vector, got %s", value.Type()))
	}

	series := make([]Series, 0, len(vector))
	for _, sample := range vector {
		labels := make(map[string]string, len(sample.Metric))
		for k, v := range sample.Metric {
			labels[string(k)] = string(v)
		}
		series = append(series, Series{
			Labels: labels,
			Fields: rules.Metrics{"value": float64(sample.Value)},
			At:     sample.Timestamp.Time(),
		})
	}
	return OK(series)
}

// FirstValue runs a query and returns the first sample's value, or nil when
// the backend had nothing. The bool reports whether the fetch itself worked.
func (p *PromClient) FirstValue(ctx context.Context, query string) (any, bool) {
	res := p.Vector(ctx, query)
	switch res.Status {
	case StatusOK:
		v, _ := res.Series[0].Float("value")
		return v, true
	case StatusEmpty:
		return nil, true
	default:
		return nil, false
	}
}

// ServerLastSeen maps each exporter instance to the timestamp of its latest
// CPU sample, covering both node_exporter and windows_exporter.
func (p *PromClient) ServerLastSeen(ctx context.Context, customerName string) (map[string]time.Time, error) {
	filter := p.TenantMatcher(customerName)
	query := fmt.Sprintf(
		`max by(%s) (timestamp(node_cpu_seconds_total{%s}) or timestamp(windows_cpu_time_total{%s}))`,
		p.InstanceLabel, filter, filter,
	)

	res := p.Vector(ctx, query)
	if res.Status == StatusError {
		return nil, res.Err
	}

	seen := make(map[string]time.Time, len(res.Series))
	for _, s := range res.Series {
		inst := NormalizeInstance(s.Labels[p.InstanceLabel])
		v, ok := s.Float("value")
		if !ok || inst == "" {
			continue
		}
		seen[inst] = time.Unix(int64(v), 0).UTC()
	}
	return seen, nil
}

// TenantMatcher renders the tenant label matcher for a customer, or "" when
// the rule is not tenant-scoped.
func (p *PromClient) TenantMatcher(customerName string) string {
	if customerName == "" {
		return ""
	}
	return fmt.Sprintf(`%s="%s"`, p.TenantLabel, PromEscape(customerName))
}

// PromEscape escapes a label value for embedding in a PromQL matcher.
func PromEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// NormalizeInstance strips scheme and port so "10.0.0.5:9100" and the bare
// hostname key the same device.
func NormalizeInstance(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	if i := strings.Index(v, "://"); i >= 0 {
		v = v[i+3:]
	}
	if i := strings.Index(v, ":"); i >= 0 {
		v = v[:i]
	}
	return v
}
