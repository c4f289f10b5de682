package itam

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DriftFlag marks one way an asset has drifted from its expected posture.
type DriftFlag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// RiskRow is one asset's scored entry in the risk report.
type RiskRow struct {
	AssetID              int64       `json:"asset_id"`
	CustomerID           int64       `json:"customer_id"`
	AssetName            string      `json:"asset_name"`
	AssetType            string      `json:"asset_type"`
	Status               string      `json:"status"`
	PrimaryIP            string      `json:"primary_ip"`
	SourceCount          int         `json:"source_count"`
	QualityScore         int         `json:"quality_score"`
	RiskScore            int         `json:"risk_score"`
	RiskSeverity         string      `json:"risk_severity"`
	RiskReasons          []string    `json:"risk_reasons"`
	DriftFlags           []DriftFlag `json:"drift_flags"`
	ComplianceFailCount  int         `json:"compliance_fail_count"`
	ComplianceErrorCount int         `json:"compliance_error_count"`
	LastSeen             *time.Time  `json:"last_seen"`
	LifecycleStage       string      `json:"lifecycle_stage"`
	LifecycleStatus      string      `json:"lifecycle_status"`
}

// RiskSummary is the report roll-up.
type RiskSummary struct {
	TotalAssets          int     `json:"total_assets"`
	AvgQualityScore      float64 `json:"avg_quality_score"`
	HighRiskAssets       int     `json:"high_risk_assets"`
	MediumRiskAssets     int     `json:"medium_risk_assets"`
	LowRiskAssets        int     `json:"low_risk_assets"`
	DriftAlertAssets     int     `json:"drift_alert_assets"`
	ComplianceRiskAssets int     `json:"compliance_risk_assets"`
	StaleAssets          int     `json:"stale_assets"`
	StaleDaysThreshold   int     `json:"stale_days_threshold"`
}

// RiskReport scores every asset of a tenant, worst first.
type RiskReport struct {
	Summary     RiskSummary `json:"summary"`
	TopRisks    []*RiskRow  `json:"top_risks"`
	DriftAlerts []*RiskRow  `json:"drift_alerts"`
}

// daysSince reports full days elapsed, or false when the time was never set.
func daysSince(t time.Time, now time.Time) (int, bool) {
	if t.IsZero() {
		return 0, false
	}
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if NormStr(v) != "" {
			return v
		}
	}
	return ""
}

// qualityScore grades how trustworthy a golden record is: identity and
// source coverage, average source confidence, field completeness, and how
// recently anything reported the asset.
func qualityScore(asset *Asset, identityCount int, sources []*Source, now time.Time) int {
	avgConf := 0
	if len(sources) > 0 {
		total := 0
		for _, src := range sources {
			total += src.Confidence
		}
		avgConf = total / len(sources)
	}

	completenessFields := []string{
		firstNonEmpty(asset.AssetName, asset.Hostname),
		asset.AssetType,
		asset.Status,
		firstNonEmpty(asset.PrimaryIP, asset.PrimaryMAC, asset.SerialNumber),
		asset.OSName,
		firstNonEmpty(asset.Location, asset.Environment),
	}
	filled := 0
	for _, field := range completenessFields {
		if NormStr(field) != "" {
			filled++
		}
	}
	completeness := filled * 100 / len(completenessFields)

	freshness := 0
	if age, seen := daysSince(asset.LastSeen, now); seen {
		switch {
		case age <= 1:
			freshness = 100
		case age <= 7:
			freshness = 85
		case age <= 30:
			freshness = 65
		default:
			freshness = 40
		}
	}

	identityStrength := identityCount * 24
	if identityStrength > 100 {
		identityStrength = 100
	}
	sourceStrength := len(sources) * 28
	if sourceStrength > 100 {
		sourceStrength = 100
	}

	quality := int(float64(identityStrength)*0.22 +
		float64(sourceStrength)*0.18 +
		float64(avgConf)*0.20 +
		float64(completeness)*0.20 +
		float64(freshness)*0.20)
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	return quality
}

// sourceConflicts lists the core fields on which the asset's sources still
// disagree in their raw payloads.
func sourceConflicts(sources []*Source) []string {
	var out []string
	for _, field := range []string{"hostname", "primary_ip", "os_name", "status", "location"} {
		values := map[string]bool{}
		for _, src := range sources {
			if v := NormLower(anyString(src.Raw[field])); v != "" {
				values[v] = true
			}
		}
		if len(values) > 1 {
			out = append(out, field)
		}
	}
	return out
}

func riskForAsset(asset *Asset, identityCount int, sources []*Source, lifecycle *Lifecycle, failCount, errorCount int, now time.Time, staleDays int) *RiskRow {
	quality := qualityScore(asset, identityCount, sources, now)
	risk := 0
	var reasons []string
	var drift []DriftFlag

	age, seen := daysSince(asset.LastSeen, now)
	conflicts := sourceConflicts(sources)

	switch {
	case quality < 45:
		risk += 30
		reasons = append(reasons, "low_data_quality")
	case quality < 60:
		risk += 20
		reasons = append(reasons, "medium_data_quality")
	}

	if !seen {
		risk += 15
		reasons = append(reasons, "never_seen")
	} else if age > staleDays {
		severity := "high"
		penalty := 20
		if age <= 30 {
			severity = "medium"
			penalty = 12
		}
		risk += penalty
		reasons = append(reasons, "stale_asset")
		drift = append(drift, DriftFlag{Type: "stale", Severity: severity, Detail: fmt.Sprintf("last_seen_%d_days_ago", age)})
	}

	if len(conflicts) > 0 {
		penalty := len(conflicts) * 6
		if penalty > 20 {
			penalty = 20
		}
		risk += penalty
		reasons = append(reasons, "source_conflict")
		severity := "medium"
		if len(conflicts) > 1 {
			severity = "high"
		}
		drift = append(drift, DriftFlag{Type: "source_conflict", Severity: severity, Detail: strings.Join(conflicts, ",")})
	}

	if failCount > 0 || errorCount > 0 {
		penalty := failCount*7 + errorCount*10
		if penalty > 35 {
			penalty = 35
		}
		risk += penalty
		reasons = append(reasons, "compliance_failures")
		severity := "medium"
		if failCount+errorCount >= 3 {
			severity = "high"
		}
		drift = append(drift, DriftFlag{
			Type:     "compliance_drift",
			Severity: severity,
			Detail:   fmt.Sprintf("fail=%d,error=%d", failCount, errorCount),
		})
	}

	if lifecycle != nil && lifecycle.DecommissionDate != "" && NormLower(asset.Status) == "active" {
		if d, err := time.Parse("2006-01-02", lifecycle.DecommissionDate); err == nil && !d.After(now) {
			risk += 20
			reasons = append(reasons, "lifecycle_overdue")
			drift = append(drift, DriftFlag{
				Type:     "lifecycle_drift",
				Severity: "high",
				Detail:   "decommission_date=" + lifecycle.DecommissionDate,
			})
		}
	}

	if risk > 100 {
		risk = 100
	}
	severity := "none"
	switch {
	case risk >= 70:
		severity = "high"
	case risk >= 40:
		severity = "medium"
	case risk > 0:
		severity = "low"
	}

	row := &RiskRow{
		AssetID:              asset.ID,
		CustomerID:           asset.CustomerID,
		AssetName:            firstNonEmpty(asset.AssetName, asset.Hostname, asset.CanonicalKey),
		AssetType:            firstNonEmpty(asset.AssetType, "unknown"),
		Status:               asset.Status,
		PrimaryIP:            asset.PrimaryIP,
		SourceCount:          asset.SourceCount,
		QualityScore:         quality,
		RiskScore:            risk,
		RiskSeverity:         severity,
		RiskReasons:          reasons,
		DriftFlags:           drift,
		ComplianceFailCount:  failCount,
		ComplianceErrorCount: errorCount,
	}
	if seen {
		t := asset.LastSeen
		row.LastSeen = &t
	}
	if lifecycle != nil {
		row.LifecycleStage = lifecycle.Stage
		row.LifecycleStatus = lifecycle.Status
	}
	return row
}

// RiskReport scores a tenant's inventory. staleDays outside 1..365 falls
// back to 14.
func (s *Store) RiskReport(ctx context.Context, customerID int64, staleDays int) (*RiskReport, error) {
	now := time.Now().UTC()
	if staleDays < 1 || staleDays > 365 {
		staleDays = 14
	}

	assets, err := s.Assets(ctx, customerID)
	if err != nil {
		return nil, err
	}
	failCounts, errorCounts, err := s.complianceCounts(ctx, customerID)
	if err != nil {
		return nil, err
	}

	rows := make([]*RiskRow, 0, len(assets))
	for _, asset := range assets {
		identities, err := s.IdentitiesFor(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		sources, err := s.SourcesFor(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		history, err := s.LifecycleFor(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		var current *Lifecycle
		for _, lc := range history {
			if lc.IsCurrent {
				current = lc
				break
			}
		}
		rows = append(rows, riskForAsset(asset, len(identities), sources, current,
			failCounts[asset.ID], errorCounts[asset.ID], now, staleDays))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RiskScore != rows[j].RiskScore {
			return rows[i].RiskScore > rows[j].RiskScore
		}
		return rows[i].QualityScore < rows[j].QualityScore
	})

	report := &RiskReport{TopRisks: rows}
	report.Summary.TotalAssets = len(rows)
	report.Summary.StaleDaysThreshold = staleDays

	qualityTotal := 0
	staleCutoff := now.Add(-time.Duration(staleDays) * 24 * time.Hour)
	for _, row := range rows {
		qualityTotal += row.QualityScore
		switch row.RiskSeverity {
		case "high":
			report.Summary.HighRiskAssets++
		case "medium":
			report.Summary.MediumRiskAssets++
		case "low":
			report.Summary.LowRiskAssets++
		}
		if len(row.DriftFlags) > 0 {
			report.Summary.DriftAlertAssets++
			report.DriftAlerts = append(report.DriftAlerts, row)
		}
		if row.ComplianceFailCount+row.ComplianceErrorCount > 0 {
			report.Summary.ComplianceRiskAssets++
		}
		if row.LastSeen != nil && row.LastSeen.Before(staleCutoff) {
			report.Summary.StaleAssets++
		}
	}
	if len(rows) > 0 {
		report.Summary.AvgQualityScore = math.Round(float64(qualityTotal)/float64(len(rows))*100) / 100
	}
	return report, nil
}

// complianceCounts maps asset id to current fail/error finding counts.
func (s *Store) complianceCounts(ctx context.Context, customerID int64) (map[int64]int, map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset_id,
		       SUM(CASE WHEN status = 'fail' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		FROM itam_compliance_findings
		WHERE customer_id = ?
		GROUP BY asset_id`, customerID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fails := map[int64]int{}
	errs := map[int64]int{}
	for rows.Next() {
		var assetID int64
		var fail, errCount int
		if err := rows.Scan(&assetID, &fail, &errCount); err != nil {
			return nil, nil, err
		}
		fails[assetID] = fail
		errs[assetID] = errCount
	}
	return fails, errs, rows.Err()
}
