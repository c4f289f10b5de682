package itam

import (
	"context"
	"testing"
	"time"
)

func TestPolicyCodeFromName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Required Prod Tag!", "required_prod_tag"},
		{"  OS allow-list (Linux) ", "os_allow_list_linux"},
		{"***", "policy"},
		{"", "policy"},
	}
	for _, tc := range cases {
		if got := PolicyCodeFromName(tc.in); got != tc.want {
			t.Errorf("PolicyCodeFromName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEvaluatePolicyVerdicts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cc := &complianceContext{
		asset: &Asset{
			CustomerID:   1,
			AssetType:    "server",
			Status:       "active",
			OSName:       "Ubuntu 22.04",
			Environment:  "prod",
			Tags:         []string{"prod", "database"},
			CustomFields: map[string]any{"owner": "dba-team", "cost_center": ""},
			LastSeen:     now.Add(-3 * 24 * time.Hour),
		},
		sourceNames: []string{"server-agent", "cloud-scan"},
		stage:       "in_service",
	}

	cases := []struct {
		name       string
		policy     *CompliancePolicy
		wantStatus string
		wantReason string
	}{
		{
			"required tag present",
			&CompliancePolicy{PolicyType: "required_tag", Criteria: map[string]any{"tag": "Prod"}},
			CompliancePass, "tag_present",
		},
		{
			"required tags missing one",
			&CompliancePolicy{PolicyType: "required_tag", Criteria: map[string]any{"tags": []any{"prod", "backup"}}},
			ComplianceFail, "missing_tag",
		},
		{
			"required source present",
			&CompliancePolicy{PolicyType: "required_source", Criteria: map[string]any{"source": "Cloud-Scan"}},
			CompliancePass, "source_present",
		},
		{
			"required source missing",
			&CompliancePolicy{PolicyType: "required_source", Criteria: map[string]any{"sources": []any{"edr"}}},
			ComplianceFail, "missing_source",
		},
		{
			"os allowed by substring",
			&CompliancePolicy{PolicyType: "os_allowed", Criteria: map[string]any{"allowed_os": []any{"ubuntu", "red hat"}}},
			CompliancePass, "os_allowed",
		},
		{
			"os not allowed",
			&CompliancePolicy{PolicyType: "os_allowed", Criteria: map[string]any{"allowed": "windows"}},
			ComplianceFail, "os_not_allowed",
		},
		{
			"fresh asset within window",
			&CompliancePolicy{PolicyType: "max_days_since_seen", Criteria: map[string]any{"max_days": 7.0}},
			CompliancePass, "fresh_asset",
		},
		{
			"stale asset over window",
			&CompliancePolicy{PolicyType: "max_days_since_seen", Criteria: map[string]any{"max_days": 1.0}},
			ComplianceFail, "stale_asset",
		},
		{
			"custom field present",
			&CompliancePolicy{PolicyType: "custom_field_required", Criteria: map[string]any{"field": "owner"}},
			CompliancePass, "custom_field_present",
		},
		{
			"custom field empty counts as missing",
			&CompliancePolicy{PolicyType: "custom_field_required", Criteria: map[string]any{"field": "cost_center"}},
			ComplianceFail, "custom_field_missing",
		},
		{
			"custom field equals",
			&CompliancePolicy{PolicyType: "custom_field_equals", Criteria: map[string]any{"field": "owner", "value": "dba-team"}},
			CompliancePass, "custom_field_match",
		},
		{
			"lifecycle stage allowed",
			&CompliancePolicy{PolicyType: "lifecycle_stage_in", Criteria: map[string]any{"stages": []any{"in_service", "staging"}}},
			CompliancePass, "lifecycle_stage_allowed",
		},
		{
			"lifecycle stage mismatch",
			&CompliancePolicy{PolicyType: "lifecycle_stage_in", Criteria: map[string]any{"stages": []any{"retired"}}},
			ComplianceFail, "lifecycle_stage_mismatch",
		},
		{
			"target filter mismatch short-circuits",
			&CompliancePolicy{PolicyType: "required_tag", Criteria: map[string]any{"tag": "backup"},
				TargetFilters: map[string]any{"asset_types": []any{"workstation"}}},
			ComplianceNotApplicable, "target_filter_mismatch",
		},
		{
			"unknown policy type is an error finding",
			&CompliancePolicy{PolicyType: "patch_level_min"},
			ComplianceError, "unknown_policy_type",
		},
	}

	for _, tc := range cases {
		status, score, details := evaluatePolicy(tc.policy, cc, now)
		if status != tc.wantStatus {
			t.Errorf("%s: status = %q, want %q (details %v)", tc.name, status, tc.wantStatus, details)
			continue
		}
		if details["reason"] != tc.wantReason {
			t.Errorf("%s: reason = %v, want %q", tc.name, details["reason"], tc.wantReason)
		}
		if status == CompliancePass && score != 100 {
			t.Errorf("%s: pass score = %d, want 100", tc.name, score)
		}
		if status == ComplianceFail && score != 0 {
			t.Errorf("%s: fail score = %d, want 0", tc.name, score)
		}
	}
}

func TestRunComplianceRecordsFindings(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := &DiscoveryRecord{SerialNumber: "SN-C1", Hostname: "web-1", OSName: "Ubuntu 22.04", Tags: []any{"prod"}}
	stale := &DiscoveryRecord{SerialNumber: "SN-C2", Hostname: "web-2", OSName: "Ubuntu 22.04"}
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "k1", fresh, now, 90); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "k2", stale, now.Add(-30*24*time.Hour), 90); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	if _, err := store.InsertCompliancePolicy(ctx, &CompliancePolicy{
		Name: "Prod tag", PolicyType: "required_tag", Enabled: true,
		Criteria: map[string]any{"tag": "prod"},
	}); err != nil {
		t.Fatalf("InsertCompliancePolicy: %v", err)
	}
	if _, err := store.InsertCompliancePolicy(ctx, &CompliancePolicy{
		Name: "Seen this week", PolicyType: "max_days_since_seen", Enabled: true, Severity: "high",
		Criteria: map[string]any{"max_days": 7.0},
	}); err != nil {
		t.Fatalf("InsertCompliancePolicy: %v", err)
	}

	runID, summary, err := store.RunCompliance(ctx, 1, "test")
	if err != nil {
		t.Fatalf("RunCompliance: %v", err)
	}
	if summary.Evaluations != 4 || summary.Pass != 2 || summary.Fail != 2 {
		t.Errorf("summary = %+v, want 4 evaluations, 2 pass, 2 fail", summary)
	}

	asset, err := store.AssetByCanonicalKey(ctx, 1, "serial_number:SN-C2")
	if err != nil || asset == nil {
		t.Fatalf("stale asset lookup: %v", err)
	}
	findings, err := store.FindingsFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("FindingsFor: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(findings))
	}
	var fails int
	for _, f := range findings {
		if f.RunID != runID {
			t.Errorf("finding run = %d, want %d", f.RunID, runID)
		}
		if f.Status == ComplianceFail {
			fails++
		}
	}
	if fails != 2 {
		t.Errorf("stale untagged asset failed %d policies, want 2", fails)
	}

	// A second run rewrites the same finding rows instead of stacking more.
	if _, _, err := store.RunCompliance(ctx, 1, "test"); err != nil {
		t.Fatalf("second RunCompliance: %v", err)
	}
	findings, err = store.FindingsFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("FindingsFor after rerun: %v", err)
	}
	if len(findings) != 2 {
		t.Errorf("findings after rerun = %d, want 2", len(findings))
	}

	var status string
	var ended *time.Time
	if err := store.db.QueryRow(
		`SELECT status, ended_at FROM itam_compliance_runs WHERE id = ?`, runID,
	).Scan(&status, &ended); err != nil {
		t.Fatalf("query run: %v", err)
	}
	if status != "completed" || ended == nil {
		t.Errorf("run status = %q ended = %v", status, ended)
	}
}

func TestRunComplianceScopesTenantPolicies(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &DiscoveryRecord{SerialNumber: "SN-T1", Hostname: "t1"}
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "k1", rec, now, 90); err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	// One global policy, one belonging to another tenant.
	if _, err := store.InsertCompliancePolicy(ctx, &CompliancePolicy{
		Name: "Global freshness", PolicyType: "max_days_since_seen", Enabled: true,
		Criteria: map[string]any{"max_days": 7.0},
	}); err != nil {
		t.Fatalf("InsertCompliancePolicy: %v", err)
	}
	if _, err := store.InsertCompliancePolicy(ctx, &CompliancePolicy{
		CustomerID: 2, Name: "Other tenant tag", PolicyType: "required_tag", Enabled: true,
		Criteria: map[string]any{"tag": "prod"},
	}); err != nil {
		t.Fatalf("InsertCompliancePolicy: %v", err)
	}

	_, summary, err := store.RunCompliance(ctx, 1, "test")
	if err != nil {
		t.Fatalf("RunCompliance: %v", err)
	}
	if summary.Evaluations != 1 {
		t.Errorf("evaluations = %d, want 1 (only the global policy applies)", summary.Evaluations)
	}
	if summary.Pass != 1 {
		t.Errorf("summary = %+v, want the single evaluation to pass", summary)
	}
}
