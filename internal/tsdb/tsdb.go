// Package tsdb fetches metric snapshots from the Prometheus and InfluxDB v1
// backends the collectors write into. Every fetch returns a Result so callers
// can tell "backend down" from "backend reachable but silent": an unreachable
// backend must skip the evaluation cycle, never fabricate a matching target.
package tsdb

import (
	"time"

	"github.com/autointelli/unified360-go/internal/rules"
)

// Status classifies the outcome of one backend fetch.
type Status int

const (
	// StatusOK means the backend answered with at least one series.
	StatusOK Status = iota
	// StatusEmpty means the backend answered but had nothing matching.
	StatusEmpty
	// StatusError means the fetch itself failed.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusEmpty:
		return "empty"
	default:
		return "error"
	}
}

// Series is one monitored entity's latest snapshot: backend tags for target
// resolution plus the flat field map the rule logic evaluates against.
type Series struct {
	Labels map[string]string
	Fields rules.Metrics
	At     time.Time
}

// Label returns the first non-empty value among the given label keys.
func (s Series) Label(keys ...string) string {
	for _, k := range keys {
		if v := s.Labels[k]; v != "" {
			return v
		}
	}
	return ""
}

// Float reads a numeric field, tolerating the mixed types JSON decoding
// produces.
func (s Series) Float(field string) (float64, bool) {
	switch v := s.Fields[field].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Result is the tri-state outcome of one fetch.
type Result struct {
	Status Status
	Series []Series
	Err    error
}

// OK wraps series into a successful result; no series means Empty.
func OK(series []Series) Result {
	if len(series) == 0 {
		return Result{Status: StatusEmpty}
	}
	return Result{Status: StatusOK, Series: series}
}

// Empty is a reachable-but-silent result.
func Empty() Result {
	return Result{Status: StatusEmpty}
}

// Failed wraps a fetch error.
func Failed(err error) Result {
	return Result{Status: StatusError, Err: err}
}
