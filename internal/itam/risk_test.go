package itam

import (
	"context"
	"testing"
	"time"
)

func fullAsset(lastSeen time.Time) *Asset {
	return &Asset{
		ID:           1,
		CustomerID:   1,
		AssetName:    "web-1",
		Hostname:     "web-1.corp",
		AssetType:    "server",
		Status:       "active",
		PrimaryIP:    "10.0.0.5",
		SerialNumber: "SN-1",
		OSName:       "Ubuntu 22.04",
		Location:     "dc-1",
		LastSeen:     lastSeen,
	}
}

func TestQualityScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sources := []*Source{{Confidence: 90}, {Confidence: 90}}

	// Complete, well-attested, fresh record:
	// identity 96*0.22 + source 56*0.18 + conf 90*0.20 + complete 100*0.20 + fresh 100*0.20.
	if got := qualityScore(fullAsset(now), 4, sources, now); got != 89 {
		t.Errorf("complete fresh asset quality = %d, want 89", got)
	}

	// A bare, never-seen stub scores near zero.
	stub := &Asset{Status: "active"}
	if got := qualityScore(stub, 0, nil, now); got != 3 {
		t.Errorf("stub asset quality = %d, want 3", got)
	}

	// Staleness only degrades the freshness band.
	aged := qualityScore(fullAsset(now.Add(-20*24*time.Hour)), 4, sources, now)
	if aged >= 89 || aged < 60 {
		t.Errorf("20-day-old asset quality = %d, want degraded but above 60", aged)
	}
}

func TestSourceConflicts(t *testing.T) {
	agree := []*Source{
		{Raw: map[string]any{"hostname": "web-1", "os_name": "Ubuntu"}},
		{Raw: map[string]any{"hostname": "WEB-1", "os_name": "ubuntu"}},
	}
	if got := sourceConflicts(agree); len(got) != 0 {
		t.Errorf("case-insensitive agreement flagged as conflict: %v", got)
	}

	disagree := []*Source{
		{Raw: map[string]any{"hostname": "web-1", "status": "up"}},
		{Raw: map[string]any{"hostname": "db-1", "status": "up"}},
	}
	got := sourceConflicts(disagree)
	if len(got) != 1 || got[0] != "hostname" {
		t.Errorf("conflicts = %v, want [hostname]", got)
	}
}

func TestRiskForAssetStaleAndCompliance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sources := []*Source{{Confidence: 90}, {Confidence: 90}}

	row := riskForAsset(fullAsset(now.Add(-20*24*time.Hour)), 4, sources, nil, 2, 1, now, 14)
	if row.RiskScore != 36 {
		t.Errorf("risk = %d, want 36 (12 stale + 24 compliance)", row.RiskScore)
	}
	if row.RiskSeverity != "low" {
		t.Errorf("severity = %q, want low", row.RiskSeverity)
	}
	wantReasons := map[string]bool{"stale_asset": true, "compliance_failures": true}
	for _, reason := range row.RiskReasons {
		delete(wantReasons, reason)
	}
	if len(wantReasons) != 0 {
		t.Errorf("reasons %v missing %v", row.RiskReasons, wantReasons)
	}
	if len(row.DriftFlags) != 2 {
		t.Errorf("drift flags = %v, want stale + compliance_drift", row.DriftFlags)
	}
}

func TestRiskForAssetLifecycleOverdue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sources := []*Source{{Confidence: 90}, {Confidence: 90}}
	lifecycle := &Lifecycle{Stage: "retiring", Status: "active", DecommissionDate: "2026-01-15", IsCurrent: true}

	row := riskForAsset(fullAsset(now), 4, sources, lifecycle, 0, 0, now, 14)
	if row.RiskScore != 20 {
		t.Errorf("risk = %d, want 20 for an overdue decommission", row.RiskScore)
	}
	if len(row.DriftFlags) != 1 || row.DriftFlags[0].Type != "lifecycle_drift" {
		t.Errorf("drift = %v, want lifecycle_drift", row.DriftFlags)
	}
	if row.LifecycleStage != "retiring" {
		t.Errorf("lifecycle stage = %q", row.LifecycleStage)
	}

	// Same date on an already-inactive asset is not drift.
	inactive := fullAsset(now)
	inactive.Status = "inactive"
	row = riskForAsset(inactive, 4, sources, lifecycle, 0, 0, now, 14)
	if row.RiskScore != 0 {
		t.Errorf("inactive asset risk = %d, want 0", row.RiskScore)
	}
}

func TestRiskReportRanksWorstFirst(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := &DiscoveryRecord{SerialNumber: "SN-R1", Hostname: "ok-1", OSName: "Ubuntu 22.04", Tags: []any{"prod"}}
	stale := &DiscoveryRecord{SerialNumber: "SN-R2", Hostname: "old-1", OSName: "Ubuntu 22.04"}
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
	if _, _, err := store.RunCompliance(ctx, 1, "test"); err != nil {
		t.Fatalf("RunCompliance: %v", err)
	}

	report, err := store.RiskReport(ctx, 1, 0)
	if err != nil {
		t.Fatalf("RiskReport: %v", err)
	}

	if report.Summary.TotalAssets != 2 {
		t.Fatalf("total assets = %d, want 2", report.Summary.TotalAssets)
	}
	if report.Summary.StaleDaysThreshold != 14 {
		t.Errorf("stale threshold = %d, want the 14-day default", report.Summary.StaleDaysThreshold)
	}
	if report.Summary.StaleAssets != 1 {
		t.Errorf("stale assets = %d, want 1", report.Summary.StaleAssets)
	}
	if report.Summary.ComplianceRiskAssets != 1 {
		t.Errorf("compliance risk assets = %d, want 1", report.Summary.ComplianceRiskAssets)
	}
	if report.Summary.DriftAlertAssets != 1 || len(report.DriftAlerts) != 1 {
		t.Errorf("drift alerts = %d/%d, want 1", report.Summary.DriftAlertAssets, len(report.DriftAlerts))
	}

	worst := report.TopRisks[0]
	if worst.AssetName != "old-1" {
		t.Errorf("worst asset = %q, want the stale untagged one", worst.AssetName)
	}
	if worst.RiskScore == 0 || worst.RiskSeverity == "none" {
		t.Errorf("worst asset scored %d/%s", worst.RiskScore, worst.RiskSeverity)
	}
	if best := report.TopRisks[1]; best.RiskScore != 0 || best.RiskSeverity != "none" {
		t.Errorf("healthy asset scored %d/%s, want 0/none", best.RiskScore, best.RiskSeverity)
	}
}
