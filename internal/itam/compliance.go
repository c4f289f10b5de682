package itam

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Compliance finding statuses.
const (
	CompliancePass          = "pass"
	ComplianceFail          = "fail"
	ComplianceNotApplicable = "not_applicable"
	ComplianceError         = "error"
)

// CompliancePolicy is one rule evaluated against every golden record in
// scope. CustomerID 0 makes the policy global.
type CompliancePolicy struct {
	ID         int64
	CustomerID int64
	Code       string
	Name       string
	PolicyType string
	Severity   string
	Enabled    bool

	// TargetFilters narrows which assets the policy applies to
	// (asset_types, environments, locations, statuses); Criteria carries
	// the per-type check parameters.
	TargetFilters map[string]any
	Criteria      map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ComplianceFinding is the latest verdict for one (policy, asset) pair. The
// row is rewritten on every run, so the table always holds current posture.
type ComplianceFinding struct {
	ID          int64
	CustomerID  int64
	PolicyID    int64
	AssetID     int64
	RunID       int64
	Status      string
	Score       int
	Details     map[string]any
	EvaluatedAt time.Time
}

// ComplianceSummary aggregates one evaluation run.
type ComplianceSummary struct {
	Pass          int `json:"pass"`
	Fail          int `json:"fail"`
	NotApplicable int `json:"not_applicable"`
	Errors        int `json:"error"`
	Evaluations   int `json:"evaluations"`
}

func (s *ComplianceSummary) add(other *ComplianceSummary) {
	s.Pass += other.Pass
	s.Fail += other.Fail
	s.NotApplicable += other.NotApplicable
	s.Errors += other.Errors
	s.Evaluations += other.Evaluations
}

func (s *ComplianceSummary) count(status string) {
	s.Evaluations++
	switch status {
	case CompliancePass:
		s.Pass++
	case ComplianceFail:
		s.Fail++
	case ComplianceNotApplicable:
		s.NotApplicable++
	default:
		s.Errors++
	}
}

var policyCodeRe = regexp.MustCompile(`[^a-z0-9]+`)

// PolicyCodeFromName derives a stable slug for a policy name.
func PolicyCodeFromName(name string) string {
	code := strings.Trim(policyCodeRe.ReplaceAllString(NormLower(name), "_"), "_")
	if code == "" {
		return "policy"
	}
	return code
}

// InsertCompliancePolicy stores a policy, deriving its code and defaulting
// the severity when not given.
func (s *Store) InsertCompliancePolicy(ctx context.Context, p *CompliancePolicy) (int64, error) {
	if p.Code == "" {
		p.Code = PolicyCodeFromName(p.Name)
	}
	if NormLower(p.Severity) == "" {
		p.Severity = "medium"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO itam_compliance_policies
			(customer_id, code, name, policy_type, severity, enabled, target_filters_json, criteria_json)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.CustomerID, p.Code, p.Name, NormLower(p.PolicyType), NormLower(p.Severity),
		boolToInt(p.Enabled), encodeJSON(p.TargetFilters), encodeJSON(p.Criteria))
	if err != nil {
		return 0, err
	}
	p.ID, err = res.LastInsertId()
	return p.ID, err
}

// CompliancePolicies lists the enabled policies in scope for a tenant:
// the tenant's own plus the global ones.
func (s *Store) CompliancePolicies(ctx context.Context, customerID int64) ([]*CompliancePolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, code, name, policy_type, severity, enabled,
		       target_filters_json, criteria_json, created_at, updated_at
		FROM itam_compliance_policies
		WHERE enabled = 1 AND customer_id IN (0, ?)
		ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CompliancePolicy
	for rows.Next() {
		p := &CompliancePolicy{}
		var enabled int
		var filtersJSON, criteriaJSON string
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.Code, &p.Name, &p.PolicyType, &p.Severity,
			&enabled, &filtersJSON, &criteriaJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Enabled = enabled != 0
		p.TargetFilters = decodeObject(filtersJSON)
		p.Criteria = decodeObject(criteriaJSON)
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindingsFor lists an asset's current compliance findings.
func (s *Store) FindingsFor(ctx context.Context, assetID int64) ([]*ComplianceFinding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, policy_id, asset_id, run_id, status, score, details_json, evaluated_at
		FROM itam_compliance_findings WHERE asset_id = ? ORDER BY policy_id`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ComplianceFinding
	for rows.Next() {
		f := &ComplianceFinding{}
		var detailsJSON string
		if err := rows.Scan(&f.ID, &f.CustomerID, &f.PolicyID, &f.AssetID, &f.RunID,
			&f.Status, &f.Score, &detailsJSON, &f.EvaluatedAt); err != nil {
			return nil, err
		}
		f.Details = decodeObject(detailsJSON)
		out = append(out, f)
	}
	return out, rows.Err()
}

// complianceContext is the per-asset state a policy check reads beyond the
// golden record itself.
type complianceContext struct {
	asset       *Asset
	sourceNames []string
	stage       string
}

func (s *Store) complianceContext(ctx context.Context, asset *Asset) (*complianceContext, error) {
	cc := &complianceContext{asset: asset}

	sources, err := s.SourcesFor(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, src := range sources {
		name := NormLower(src.SourceName)
		if name != "" && !seen[name] {
			seen[name] = true
			cc.sourceNames = append(cc.sourceNames, name)
		}
	}

	lifecycle, err := s.LifecycleFor(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	for _, row := range lifecycle {
		if row.IsCurrent {
			cc.stage = NormLower(row.Stage)
			break
		}
	}
	return cc, nil
}

// criteriaList reads the first of keys from criteria as a normalised string
// list, accepting either a scalar or an array.
func criteriaList(criteria map[string]any, keys ...string) []string {
	for _, key := range keys {
		raw, ok := criteria[key]
		if !ok || raw == nil {
			continue
		}
		var out []string
		if list, isList := raw.([]any); isList {
			for _, item := range list {
				if v := NormLower(anyString(item)); v != "" {
					out = append(out, v)
				}
			}
		} else if v := NormLower(anyString(raw)); v != "" {
			out = append(out, v)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// targetMatches applies the policy's target filters. An empty filter set
// matches every asset.
func targetMatches(p *CompliancePolicy, cc *complianceContext) bool {
	filter := func(key, value string) bool {
		wanted := criteriaList(p.TargetFilters, key)
		return len(wanted) == 0 || containsString(wanted, NormLower(value))
	}
	return filter("asset_types", cc.asset.AssetType) &&
		filter("environments", cc.asset.Environment) &&
		filter("locations", cc.asset.Location) &&
		filter("statuses", cc.asset.Status)
}

// evaluatePolicy produces the verdict for one (policy, asset) pair. It is
// total: unknown policy types yield an error finding, never a panic.
func evaluatePolicy(p *CompliancePolicy, cc *complianceContext, now time.Time) (string, int, map[string]any) {
	severity := NormLower(p.Severity)
	if severity == "" {
		severity = "medium"
	}

	if !targetMatches(p, cc) {
		return ComplianceNotApplicable, 75, map[string]any{"reason": "target_filter_mismatch", "severity": severity}
	}

	asset := cc.asset
	switch NormLower(p.PolicyType) {
	case "required_tag":
		required := criteriaList(p.Criteria, "tag", "tags")
		have := map[string]bool{}
		for _, tag := range asset.Tags {
			have[NormLower(tag)] = true
		}
		var missing []string
		for _, tag := range required {
			if !have[tag] {
				missing = append(missing, tag)
			}
		}
		if len(missing) > 0 {
			return ComplianceFail, 0, map[string]any{"reason": "missing_tag", "missing": missing, "severity": severity}
		}
		return CompliancePass, 100, map[string]any{"reason": "tag_present", "severity": severity}

	case "required_source":
		required := criteriaList(p.Criteria, "source", "sources")
		var missing []string
		for _, src := range required {
			if !containsString(cc.sourceNames, src) {
				missing = append(missing, src)
			}
		}
		if len(missing) > 0 {
			return ComplianceFail, 0, map[string]any{"reason": "missing_source", "missing": missing, "severity": severity}
		}
		return CompliancePass, 100, map[string]any{"reason": "source_present", "severity": severity}

	case "os_allowed":
		allowed := criteriaList(p.Criteria, "allowed_os", "allowed")
		osName := NormLower(asset.OSName)
		if osName == "" {
			return ComplianceFail, 0, map[string]any{"reason": "missing_os", "severity": severity}
		}
		for _, candidate := range allowed {
			if strings.Contains(osName, candidate) {
				return CompliancePass, 100, map[string]any{"reason": "os_allowed", "os_name": asset.OSName, "severity": severity}
			}
		}
		if len(allowed) > 0 {
			return ComplianceFail, 0, map[string]any{"reason": "os_not_allowed", "os_name": asset.OSName, "severity": severity}
		}
		return CompliancePass, 100, map[string]any{"reason": "os_allowed", "os_name": asset.OSName, "severity": severity}

	case "max_days_since_seen":
		maxDays := int64(7)
		if n := toInt(firstPresent(p.Criteria, "max_days", "max_days_since_seen")); n != nil {
			maxDays = *n
		}
		age, seen := daysSince(asset.LastSeen, now)
		if !seen {
			return ComplianceFail, 0, map[string]any{"reason": "never_seen", "severity": severity}
		}
		if int64(age) > maxDays {
			return ComplianceFail, 0, map[string]any{"reason": "stale_asset", "age_days": age, "max_days": maxDays, "severity": severity}
		}
		return CompliancePass, 100, map[string]any{"reason": "fresh_asset", "age_days": age, "max_days": maxDays, "severity": severity}

	case "custom_field_required":
		field := NormStr(anyString(p.Criteria["field"]))
		if field != "" && NormStr(anyString(asset.CustomFields[field])) != "" {
			return CompliancePass, 100, map[string]any{"reason": "custom_field_present", "field": field, "severity": severity}
		}
		return ComplianceFail, 0, map[string]any{"reason": "custom_field_missing", "field": field, "severity": severity}

	case "custom_field_equals":
		field := NormStr(anyString(p.Criteria["field"]))
		expected := NormStr(anyString(p.Criteria["value"]))
		actual := NormStr(anyString(asset.CustomFields[field]))
		if field != "" && actual == expected {
			return CompliancePass, 100, map[string]any{"reason": "custom_field_match", "field": field, "value": actual, "severity": severity}
		}
		return ComplianceFail, 0, map[string]any{"reason": "custom_field_mismatch", "field": field, "expected": expected, "actual": actual, "severity": severity}

	case "lifecycle_stage_in":
		stages := criteriaList(p.Criteria, "stages")
		if len(stages) > 0 && !containsString(stages, cc.stage) {
			return ComplianceFail, 0, map[string]any{"reason": "lifecycle_stage_mismatch", "stage": cc.stage, "allowed": stages, "severity": severity}
		}
		return CompliancePass, 100, map[string]any{"reason": "lifecycle_stage_allowed", "stage": cc.stage, "severity": severity}
	}

	return ComplianceError, 0, map[string]any{"reason": "unknown_policy_type", "policy_type": p.PolicyType, "severity": severity}
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// RunCompliance evaluates every in-scope policy against every asset of the
// tenant and rewrites the findings table. The run row records the outcome
// either way, so a failed run is visible in the audit trail.
func (s *Store) RunCompliance(ctx context.Context, customerID int64, triggeredBy string) (int64, *ComplianceSummary, error) {
	now := time.Now().UTC()
	if NormStr(triggeredBy) == "" {
		triggeredBy = "system"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO itam_compliance_runs (customer_id, status, triggered_by, started_at)
		VALUES (?,'running',?,?)`, customerID, triggeredBy, now)
	if err != nil {
		return 0, nil, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, nil, err
	}

	summary := &ComplianceSummary{}
	policies, assets, err := s.complianceScope(ctx, customerID)
	if err == nil {
		err = s.evaluateCompliance(ctx, runID, policies, assets, summary, now)
	}
	if err != nil {
		if finishErr := s.finishComplianceRun(ctx, runID, "failed", err.Error(), len(policies), len(assets), summary); finishErr != nil {
			return runID, summary, errors.Join(err, finishErr)
		}
		return runID, summary, err
	}

	if err := s.finishComplianceRun(ctx, runID, "completed", "", len(policies), len(assets), summary); err != nil {
		return runID, summary, err
	}
	log.Info().
		Int64("run", runID).
		Int64("customer", customerID).
		Int("policies", len(policies)).
		Int("assets", len(assets)).
		Int("pass", summary.Pass).
		Int("fail", summary.Fail).
		Msg("Compliance evaluation completed")
	return runID, summary, nil
}

// CustomerIDs lists the tenants present in the inventory.
func (s *Store) CustomerIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT customer_id FROM itam_assets ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RunComplianceAll evaluates every tenant in turn, one run row per tenant.
func (s *Store) RunComplianceAll(ctx context.Context, triggeredBy string) (*ComplianceSummary, error) {
	total := &ComplianceSummary{}
	ids, err := s.CustomerIDs(ctx)
	if err != nil {
		return total, err
	}
	for _, id := range ids {
		_, summary, err := s.RunCompliance(ctx, id, triggeredBy)
		if err != nil {
			return total, err
		}
		total.add(summary)
	}
	return total, nil
}

func (s *Store) complianceScope(ctx context.Context, customerID int64) ([]*CompliancePolicy, []*Asset, error) {
	policies, err := s.CompliancePolicies(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	assets, err := s.Assets(ctx, customerID)
	if err != nil {
		return policies, nil, err
	}
	return policies, assets, nil
}

func (s *Store) evaluateCompliance(ctx context.Context, runID int64, policies []*CompliancePolicy, assets []*Asset, summary *ComplianceSummary, now time.Time) error {
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		cc, err := s.complianceContext(ctx, asset)
		if err != nil {
			return err
		}
		for _, policy := range policies {
			if policy.CustomerID != 0 && policy.CustomerID != asset.CustomerID {
				continue
			}
			status, score, details := evaluatePolicy(policy, cc, now)
			if err := s.upsertFinding(ctx, runID, policy, asset, status, score, details, now); err != nil {
				return err
			}
			summary.count(status)
		}
	}
	return nil
}

func (s *Store) upsertFinding(ctx context.Context, runID int64, policy *CompliancePolicy, asset *Asset, status string, score int, details map[string]any, now time.Time) error {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM itam_compliance_findings
		WHERE customer_id = ? AND policy_id = ? AND asset_id = ?`,
		asset.CustomerID, policy.ID, asset.ID,
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO itam_compliance_findings
				(customer_id, policy_id, asset_id, run_id, status, score, details_json, evaluated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			asset.CustomerID, policy.ID, asset.ID, runID, status, score, encodeJSON(details), now)
		return err
	case err != nil:
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE itam_compliance_findings
		SET run_id = ?, status = ?, score = ?, details_json = ?, evaluated_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		runID, status, score, encodeJSON(details), now, id)
	return err
}

func (s *Store) finishComplianceRun(ctx context.Context, runID int64, status, errorText string, policyCount, assetCount int, summary *ComplianceSummary) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE itam_compliance_runs
		SET status = ?, error_text = ?, policy_count = ?, asset_count = ?,
		    finding_count = ?, pass_count = ?, fail_count = ?, not_applicable_count = ?, error_count = ?,
		    summary_json = ?, ended_at = ?
		WHERE id = ?`,
		status, errorText, policyCount, assetCount,
		summary.Evaluations, summary.Pass, summary.Fail, summary.NotApplicable, summary.Errors,
		encodeJSON(summary), time.Now().UTC(), runID)
	return err
}
