package itam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/autointelli/unified360-go/internal/telemetry"
)

// Resolver folds discovery records into golden-record assets. Each record is
// processed in one transaction: identity matching, duplicate merging, field
// arbitration and child upserts either all land or none do, which is what
// makes re-ingesting the same record a no-op.
type Resolver struct {
	store   *Store
	metrics *telemetry.Metrics
}

// NewResolver wires a resolver over the inventory store.
func NewResolver(store *Store, metrics *telemetry.Metrics) *Resolver {
	return &Resolver{store: store, metrics: metrics}
}

// UpsertAsset reconciles one discovery record into the tenant's inventory
// and reports whether a new asset was created.
func (r *Resolver) UpsertAsset(ctx context.Context, customerID int64, sourceName, sourceKey string, rec *DiscoveryRecord, discoveredAt time.Time, confidence int) (*Asset, bool, error) {
	if rec == nil {
		rec = &DiscoveryRecord{}
	}
	if discoveredAt.IsZero() {
		discoveredAt = time.Now().UTC()
	}
	if confidence == 0 {
		confidence = 80
	}
	if NormStr(rec.SourceName) == "" {
		rec.SourceName = sourceName
	}
	now := time.Now().UTC()

	candidates := Candidates(rec)

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	matches, err := findAssetsByIdentity(ctx, tx, customerID, candidates)
	if err != nil {
		return nil, false, err
	}

	var asset *Asset
	created := false
	switch {
	case len(matches) > 0:
		asset = matches[0]
		if len(matches) > 1 {
			if err := mergeDuplicates(ctx, tx, asset, matches[1:], now); err != nil {
				return nil, false, err
			}
			if r.metrics != nil {
				r.metrics.ITAMMerges.Add(float64(len(matches) - 1))
			}
			log.Info().
				Int64("customer", customerID).
				Int64("asset", asset.ID).
				Int("merged", len(matches)-1).
				Msg("Merged duplicate assets")
		}
	default:
		key := "asset:" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if len(candidates) > 0 {
			key = candidates[0].Type + ":" + candidates[0].Value
		}
		if len(key) > 255 {
			key = key[:255]
		}
		asset = &Asset{
			CustomerID:   customerID,
			CanonicalKey: key,
			FirstSeen:    discoveredAt,
			CustomFields: map[string]any{},
			Metadata:     map[string]any{},
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO itam_assets (customer_id, canonical_key, first_seen, last_seen, last_discovered_at)
			VALUES (?,?,?,?,?)`,
			customerID, key, discoveredAt, discoveredAt, discoveredAt)
		if err != nil {
			return nil, false, fmt.Errorf("create asset: %w", err)
		}
		if asset.ID, err = res.LastInsertId(); err != nil {
			return nil, false, err
		}
		created = true
	}

	strength := RecordStrength(candidates, confidence)
	r.arbitrateFields(asset, rec, strength)

	if asset.Metadata == nil {
		asset.Metadata = map[string]any{}
	}
	asset.Metadata["golden_record_strength"] = strength
	asset.Metadata["last_source"] = sourceName

	if len(rec.CustomFields) > 0 {
		if asset.CustomFields == nil {
			asset.CustomFields = map[string]any{}
		}
		for k, v := range rec.CustomFields {
			asset.CustomFields[k] = v
		}
	}

	tagEntries := parseTagEntries(rec.Tags)
	if len(tagEntries) == 0 && len(asset.Tags) > 0 {
		raw := make([]any, 0, len(asset.Tags))
		for _, t := range asset.Tags {
			raw = append(raw, t)
		}
		tagEntries = parseTagEntries(raw)
	}
	if len(tagEntries) > 0 {
		if err := syncTagRows(ctx, tx, asset, tagEntries, sourceName, now); err != nil {
			return nil, false, err
		}
	}

	asset.LastSeen = discoveredAt
	asset.LastDiscoveredAt = discoveredAt
	asset.UpdatedAt = now

	sourceCreated, err := upsertSource(ctx, tx, asset, sourceName, sourceKey, rec, discoveredAt, confidence, now)
	if err != nil {
		return nil, false, err
	}
	if err := upsertIdentities(ctx, tx, asset, candidates); err != nil {
		return nil, false, err
	}
	if err := upsertSoftware(ctx, tx, asset, rec.Software, sourceName, discoveredAt, now); err != nil {
		return nil, false, err
	}
	if err := upsertHardware(ctx, tx, asset, rec, sourceName, discoveredAt, now); err != nil {
		return nil, false, err
	}
	if err := upsertInterfaces(ctx, tx, asset, rec, sourceName, discoveredAt, now); err != nil {
		return nil, false, err
	}
	if err := upsertLifecycle(ctx, tx, asset, rec, sourceName, discoveredAt, now); err != nil {
		return nil, false, err
	}

	if sourceCreated {
		asset.SourceCount++
	} else {
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM itam_asset_sources WHERE asset_id = ?`, asset.ID,
		).Scan(&asset.SourceCount); err != nil {
			return nil, false, err
		}
	}

	if err := writeAsset(ctx, tx, asset); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	if r.metrics != nil {
		r.metrics.ITAMIngested.Inc()
	}
	log.Debug().
		Int64("customer", customerID).
		Int64("asset", asset.ID).
		Str("source", sourceName).
		Bool("created", created).
		Int("strength", strength).
		Msg("Asset reconciled")
	return asset, created, nil
}

// arbitrateFields applies the record's values onto the golden record. A field
// is overwritten only when the current value is empty or the incoming record
// is at least as strong as the record that last wrote it; status gets a small
// tolerance so liveness flips from slightly weaker sources still land.
func (r *Resolver) arbitrateFields(asset *Asset, rec *DiscoveryRecord, strength int) {
	hostSource := rec.Hostname
	if NormStr(hostSource) == "" {
		hostSource = rec.AssetName
	}
	ip := NormIP(rec.PrimaryIP)
	if ip == "" {
		ip = MaybeIPFromText(rec.AssetName)
	}
	osName := NormStr(rec.OSName)
	if osName == "" {
		osName = NormStr(rec.OS)
	}

	if asset.Metadata == nil {
		asset.Metadata = map[string]any{}
	}
	for k, v := range rec.Metadata {
		asset.Metadata[k] = v
	}
	fieldConf := fieldConfidence(asset.Metadata)

	updates := []struct {
		name  string
		value string
		ptr   *string
	}{
		{"asset_name", NormStr(rec.AssetName), &asset.AssetName},
		{"hostname", NormHostname(hostSource), &asset.Hostname},
		{"asset_type", ClassifyAsset(rec), &asset.AssetType},
		{"platform", NormStr(rec.Platform), &asset.Platform},
		{"primary_ip", ip, &asset.PrimaryIP},
		{"primary_mac", NormMAC(rec.PrimaryMAC), &asset.PrimaryMAC},
		{"serial_number", NormStr(rec.SerialNumber), &asset.SerialNumber},
		{"vendor", NormStr(rec.Vendor), &asset.Vendor},
		{"model", NormStr(rec.Model), &asset.Model},
		{"os_name", osName, &asset.OSName},
		{"os_version", NormStr(rec.OSVersion), &asset.OSVersion},
		{"domain", NormStr(rec.Domain), &asset.Domain},
		{"location", NormStr(rec.Location), &asset.Location},
		{"environment", NormStr(rec.Environment), &asset.Environment},
		{"status", normalizeStatus(rec.Status), &asset.Status},
	}

	for _, u := range updates {
		if u.value == "" {
			continue
		}
		tolerance := 0
		if u.name == "status" {
			tolerance = 5
		}
		if *u.ptr == "" || strength+tolerance >= fieldConf[u.name] {
			*u.ptr = u.value
			fieldConf[u.name] = strength
		}
	}
	asset.Metadata["_field_confidence"] = fieldConf
}

// fieldConfidence reads the per-field confidence map out of asset metadata,
// tolerating the float64 values JSON decoding produces.
func fieldConfidence(metadata map[string]any) map[string]int {
	out := map[string]int{}
	raw, ok := metadata["_field_confidence"]
	if !ok {
		return out
	}
	switch m := raw.(type) {
	case map[string]int:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if f, isFloat := v.(float64); isFloat {
				out[k] = int(f)
			}
		}
	}
	return out
}

type matchScore struct {
	score int
	hits  int
}

// findAssetsByIdentity ranks every asset sharing at least one identity with
// the record: score sums the three-way average of identity weight, stored row
// confidence and incoming candidate confidence over each hit; ties break on
// hit count, then recency, then id.
func findAssetsByIdentity(ctx context.Context, tx *sql.Tx, customerID int64, candidates []Candidate) ([]*Asset, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	incoming := map[[2]string]int{}
	clauses := make([]string, 0, len(candidates))
	args := []any{customerID}
	for _, c := range candidates {
		clauses = append(clauses, "(identity_type = ? AND identity_value = ?)")
		args = append(args, c.Type, c.Value)
		conf := c.Confidence
		if conf == 0 {
			conf = 80
		}
		incoming[[2]string{c.Type, c.Value}] = conf
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT asset_id, identity_type, identity_value, confidence
		 FROM itam_asset_identities
		 WHERE customer_id = ? AND (`+strings.Join(clauses, " OR ")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := map[int64]*matchScore{}
	for rows.Next() {
		var (
			assetID       int64
			identityType  string
			identityValue string
			rowConf       int
		)
		if err := rows.Scan(&assetID, &identityType, &identityValue, &rowConf); err != nil {
			return nil, err
		}
		if rowConf == 0 {
			rowConf = 80
		}
		incomingConf, ok := incoming[[2]string{identityType, identityValue}]
		if !ok {
			incomingConf = 80
		}
		entry := scores[assetID]
		if entry == nil {
			entry = &matchScore{}
			scores[assetID] = entry
		}
		entry.score += (weightFor(identityType) + rowConf + incomingConf) / 3
		entry.hits++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(scores))
	idArgs := make([]any, 0, len(scores))
	for id := range scores {
		ids = append(ids, "?")
		idArgs = append(idArgs, id)
	}
	assetRows, err := tx.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM itam_assets WHERE id IN (`+strings.Join(ids, ",")+`)`, idArgs...)
	if err != nil {
		return nil, err
	}
	defer assetRows.Close()

	var assets []*Asset
	for assetRows.Next() {
		a, err := scanAsset(assetRows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := assetRows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(assets, func(i, j int) bool {
		si, sj := scores[assets[i].ID], scores[assets[j].ID]
		if si.score != sj.score {
			return si.score > sj.score
		}
		if si.hits != sj.hits {
			return si.hits > sj.hits
		}
		if !assets[i].LastSeen.Equal(assets[j].LastSeen) {
			return assets[i].LastSeen.After(assets[j].LastSeen)
		}
		return assets[i].ID < assets[j].ID
	})
	return assets, nil
}

func writeAsset(ctx context.Context, tx *sql.Tx, a *Asset) error {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE itam_assets
		SET canonical_key = ?, asset_name = ?, hostname = ?, asset_type = ?, platform = ?,
		    primary_ip = ?, primary_mac = ?, serial_number = ?, vendor = ?, model = ?,
		    os_name = ?, os_version = ?, domain = ?, location = ?, environment = ?, status = ?,
		    source_count = ?, tags_json = ?, custom_fields_json = ?, metadata_json = ?,
		    first_seen = ?, last_seen = ?, last_discovered_at = ?, updated_at = ?
		WHERE id = ?`,
		a.CanonicalKey, a.AssetName, a.Hostname, a.AssetType, a.Platform,
		a.PrimaryIP, a.PrimaryMAC, a.SerialNumber, a.Vendor, a.Model,
		a.OSName, a.OSVersion, a.Domain, a.Location, a.Environment, a.Status,
		a.SourceCount, encodeJSON(tags), encodeJSON(a.CustomFields), encodeJSON(a.Metadata),
		a.FirstSeen, a.LastSeen, a.LastDiscoveredAt, a.UpdatedAt,
		a.ID)
	return err
}

func upsertSource(ctx context.Context, tx *sql.Tx, asset *Asset, sourceName, sourceKey string, rec *DiscoveryRecord, discoveredAt time.Time, confidence int, now time.Time) (bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM itam_asset_sources
		WHERE customer_id = ? AND source_name = ? AND source_key = ?`,
		asset.CustomerID, sourceName, sourceKey,
	).Scan(&id)

	raw := encodeJSON(rec)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := tx.ExecContext(ctx, `
			INSERT INTO itam_asset_sources
				(customer_id, asset_id, source_name, source_key, confidence, raw_json, discovered_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			asset.CustomerID, asset.ID, sourceName, sourceKey, confidence, raw, discoveredAt, now)
		return true, err
	case err != nil:
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE itam_asset_sources
		SET asset_id = ?, confidence = ?, raw_json = ?, discovered_at = ?, updated_at = ?
		WHERE id = ?`,
		asset.ID, confidence, raw, discoveredAt, now, id)
	return false, err
}

func upsertIdentities(ctx context.Context, tx *sql.Tx, asset *Asset, candidates []Candidate) error {
	for idx, c := range candidates {
		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM itam_asset_identities
			WHERE customer_id = ? AND identity_type = ? AND identity_value = ?`,
			asset.CustomerID, c.Type, c.Value,
		).Scan(&id)

		primary := c.Primary && idx == 0
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO itam_asset_identities
					(customer_id, asset_id, identity_type, identity_value, confidence, is_primary)
				VALUES (?,?,?,?,?,?)`,
				asset.CustomerID, asset.ID, c.Type, c.Value, c.Confidence, boolToInt(primary)); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_identities
				SET asset_id = ?, confidence = ?, is_primary = ?
				WHERE id = ?`,
				asset.ID, c.Confidence, boolToInt(primary), id); err != nil {
				return err
			}
		}
	}
	return nil
}

func upsertSoftware(ctx context.Context, tx *sql.Tx, asset *Asset, entries []any, sourceName string, discoveredAt, now time.Time) error {
	for _, entry := range entries {
		var name, version, vendor string
		switch sw := entry.(type) {
		case string:
			name = NormStr(sw)
		case map[string]any:
			name = anyString(sw["name"])
			version = anyString(sw["version"])
			vendor = anyString(sw["vendor"])
		default:
			continue
		}
		if name == "" {
			continue
		}

		var id int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM itam_asset_software
			WHERE asset_id = ? AND name = ? AND version = ?`,
			asset.ID, name, version,
		).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO itam_asset_software
					(customer_id, asset_id, name, version, vendor, source_name, discovered_at, updated_at)
				VALUES (?,?,?,?,?,?,?,?)`,
				asset.CustomerID, asset.ID, name, version, vendor, sourceName, discoveredAt, now); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_software
				SET vendor = ?, source_name = ?, discovered_at = ?, updated_at = ?
				WHERE id = ?`,
				vendor, sourceName, discoveredAt, now, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func upsertHardware(ctx context.Context, tx *sql.Tx, asset *Asset, rec *DiscoveryRecord, sourceName string, discoveredAt, now time.Time) error {
	hw := rec.Hardware
	meta := rec.Metadata
	pick := func(keys ...any) any {
		for _, v := range keys {
			if anyString(v) != "" {
				return v
			}
		}
		return nil
	}
	get := func(m map[string]any, key string) any {
		if m == nil {
			return nil
		}
		return m[key]
	}

	cpuModel := anyString(pick(get(hw, "cpu_model"), get(meta, "cpu")))
	cpuCores := toInt(pick(get(hw, "cpu_cores"), get(meta, "cpu_cores")))
	memoryMB := toMB(pick(get(hw, "memory_mb"), get(hw, "memory"), get(meta, "mem")))
	storageMB := toMB(pick(get(hw, "storage_mb"), get(hw, "storage"), get(meta, "disk")))
	bios := anyString(pick(get(hw, "bios_version"), get(meta, "bios_version")))
	firmware := anyString(pick(get(hw, "firmware_version"), get(meta, "firmware_version")))
	manufacturer := anyString(get(hw, "manufacturer"))
	if manufacturer == "" {
		manufacturer = NormStr(rec.Vendor)
	}

	if cpuModel == "" && cpuCores == nil && memoryMB == nil && storageMB == nil &&
		bios == "" && firmware == "" && manufacturer == "" {
		return nil
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM itam_asset_hardware WHERE asset_id = ?`, asset.ID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO itam_asset_hardware (customer_id, asset_id, captured_at)
			VALUES (?,?,?)`,
			asset.CustomerID, asset.ID, discoveredAt)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	set := func(column string, value any) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE itam_asset_hardware SET `+column+` = ? WHERE id = ?`, value, id)
		return err
	}
	for column, value := range map[string]string{
		"cpu_model": cpuModel, "bios_version": bios,
		"firmware_version": firmware, "manufacturer": manufacturer,
	} {
		if value == "" {
			continue
		}
		if err := set(column, value); err != nil {
			return err
		}
	}
	for column, value := range map[string]*int64{
		"cpu_cores": cpuCores, "memory_mb": memoryMB, "storage_mb": storageMB,
	} {
		if value == nil {
			continue
		}
		if err := set(column, *value); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE itam_asset_hardware
		SET source_name = ?, captured_at = ?, updated_at = ?
		WHERE id = ?`,
		sourceName, discoveredAt, now, id)
	return err
}

type nicEntry struct {
	name, mac, ip             string
	subnetMask, gateway, vlan string
	isPrimary                 bool
}

func extractInterfaces(rec *DiscoveryRecord) []nicEntry {
	var out []nicEntry
	for idx, raw := range rec.NetworkInterfaces {
		if raw == nil {
			continue
		}
		name := anyString(raw["name"])
		if name == "" {
			name = anyString(raw["interface"])
		}
		if name == "" {
			name = anyString(raw["ifname"])
		}
		mac := NormMAC(anyString(raw["mac"]))
		if mac == "" {
			mac = NormMAC(anyString(raw["mac_address"]))
		}
		ip := NormIP(anyString(raw["ip"]))
		if ip == "" {
			ip = NormIP(anyString(raw["ip_address"]))
		}
		if name == "" && mac == "" && ip == "" {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("if%d", idx)
		}
		isPrimary, _ := raw["is_primary"].(bool)
		out = append(out, nicEntry{
			name: name, mac: mac, ip: ip,
			subnetMask: anyString(raw["subnet_mask"]),
			gateway:    anyString(raw["gateway"]),
			vlan:       anyString(raw["vlan"]),
			isPrimary:  isPrimary,
		})
	}

	if len(out) == 0 {
		mac := NormMAC(rec.PrimaryMAC)
		ip := NormIP(rec.PrimaryIP)
		if mac != "" || ip != "" {
			out = append(out, nicEntry{name: "primary", mac: mac, ip: ip, isPrimary: true})
		}
	}

	seen := map[[3]string]bool{}
	unique := out[:0]
	for _, nic := range out {
		key := [3]string{nic.name, nic.mac, nic.ip}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, nic)
	}
	return unique
}

func upsertInterfaces(ctx context.Context, tx *sql.Tx, asset *Asset, rec *DiscoveryRecord, sourceName string, discoveredAt, now time.Time) error {
	for idx, nic := range extractInterfaces(rec) {
		primary := nic.isPrimary || idx == 0

		var id int64
		var subnet, gateway, vlan string
		err := tx.QueryRowContext(ctx, `
			SELECT id, subnet_mask, gateway, vlan FROM itam_asset_network_interfaces
			WHERE asset_id = ? AND interface_name = ? AND mac_address = ? AND ip_address = ?`,
			asset.ID, nic.name, nic.mac, nic.ip,
		).Scan(&id, &subnet, &gateway, &vlan)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO itam_asset_network_interfaces
					(customer_id, asset_id, interface_name, mac_address, ip_address, discovered_at)
				VALUES (?,?,?,?,?,?)`,
				asset.CustomerID, asset.ID, nic.name, nic.mac, nic.ip, discoveredAt)
			if err != nil {
				return err
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if nic.subnetMask != "" {
			subnet = nic.subnetMask
		}
		if nic.gateway != "" {
			gateway = nic.gateway
		}
		if nic.vlan != "" {
			vlan = nic.vlan
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE itam_asset_network_interfaces
			SET subnet_mask = ?, gateway = ?, vlan = ?, is_primary = ?,
			    source_name = ?, discovered_at = ?, updated_at = ?
			WHERE id = ?`,
			subnet, gateway, vlan, boolToInt(primary),
			sourceName, discoveredAt, now, id); err != nil {
			return err
		}
	}
	return nil
}

type tagEntry struct {
	key, value string
}

func parseTagEntries(tags []any) []tagEntry {
	seen := map[[2]string]bool{}
	var out []tagEntry
	for _, raw := range tags {
		key := "label"
		value := ""
		switch t := raw.(type) {
		case string:
			value = NormStr(t)
		case map[string]any:
			key = NormLower(anyString(t["key"]))
			if key == "" {
				key = NormLower(anyString(t["name"]))
			}
			if key == "" {
				key = "label"
			}
			value = anyString(t["value"])
			if value == "" {
				value = anyString(t["tag"])
			}
			if value == "" && key != "label" {
				value = key
				key = "label"
			}
		}
		if value == "" {
			continue
		}
		mark := [2]string{key, value}
		if seen[mark] {
			continue
		}
		seen[mark] = true
		out = append(out, tagEntry{key: key, value: value})
	}
	return out
}

// syncTagRows upserts the incoming tag rows and refreshes the asset's
// flattened value union. Existing tags are never removed; inventory tags
// accrete across sources.
func syncTagRows(ctx context.Context, tx *sql.Tx, asset *Asset, entries []tagEntry, sourceName string, now time.Time) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, tag_key, tag_value FROM itam_asset_tags WHERE asset_id = ?`, asset.ID)
	if err != nil {
		return err
	}
	existing := map[[2]string]int64{}
	values := map[string]bool{}
	for rows.Next() {
		var id int64
		var key, value string
		if err := rows.Scan(&id, &key, &value); err != nil {
			rows.Close()
			return err
		}
		existing[[2]string{key, value}] = id
		if value != "" {
			values[value] = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, entry := range entries {
		values[entry.value] = true
		if id, ok := existing[[2]string{entry.key, entry.value}]; ok {
			if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_tags SET source_name = ?, updated_at = ? WHERE id = ?`,
				sourceName, now, id); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO itam_asset_tags (customer_id, asset_id, tag_key, tag_value, source_name, updated_at)
			VALUES (?,?,?,?,?,?)`,
			asset.CustomerID, asset.ID, entry.key, entry.value, sourceName, now); err != nil {
			return err
		}
	}

	if len(values) > 0 {
		flat := make([]string, 0, len(values))
		for v := range values {
			flat = append(flat, v)
		}
		sort.Strings(flat)
		asset.Tags = flat
	}
	return nil
}

func upsertLifecycle(ctx context.Context, tx *sql.Tx, asset *Asset, rec *DiscoveryRecord, sourceName string, discoveredAt, now time.Time) error {
	payload := rec.Lifecycle
	if len(payload) == 0 {
		return nil
	}

	stage := NormLower(anyString(payload["stage"]))
	if stage == "" {
		stage = NormLower(anyString(payload["phase"]))
	}
	if stage == "" {
		stage = "discovered"
	}
	statusSource := anyString(payload["status"])
	if statusSource == "" {
		statusSource = asset.Status
	}
	status := normalizeStatus(statusSource)
	owner := anyString(payload["owner"])
	costCenter := anyString(payload["cost_center"])
	warrantyEnd := normDate(payload["warranty_end"])
	eolDate := normDate(payload["eol_date"])
	decommissionDate := normDate(payload["decommission_date"])
	notes := anyString(payload["notes"])

	tagSet := map[string]bool{}
	if rawTags, ok := payload["tags"].([]any); ok {
		for _, t := range rawTags {
			if v := anyString(t); v != "" {
				tagSet[v] = true
			}
		}
	}
	lcTags := make([]string, 0, len(tagSet))
	for v := range tagSet {
		lcTags = append(lcTags, v)
	}
	sort.Strings(lcTags)
	tagsJSON := encodeJSON(lcTags)

	var (
		currentID                               int64
		curStage, curStatus, curOwner, curCC    string
		curWarranty, curEOL, curDecom, curNotes string
		curTagsJSON                             string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, stage, status, owner, cost_center, warranty_end, eol_date,
		       decommission_date, notes, lifecycle_tags_json
		FROM itam_asset_lifecycle WHERE asset_id = ? AND is_current = 1`, asset.ID,
	).Scan(&currentID, &curStage, &curStatus, &curOwner, &curCC,
		&curWarranty, &curEOL, &curDecom, &curNotes, &curTagsJSON)
	switch {
	case err == nil:
		curTags := decodeStringList(curTagsJSON)
		sort.Strings(curTags)
		same := curStage == stage && curStatus == status && curOwner == owner &&
			curCC == costCenter && curWarranty == warrantyEnd && curEOL == eolDate &&
			curDecom == decommissionDate && curNotes == notes &&
			strings.Join(curTags, "\x00") == strings.Join(lcTags, "\x00")
		if same {
			_, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_lifecycle
				SET source_name = ?, effective_at = ?, updated_at = ?
				WHERE id = ?`,
				sourceName, discoveredAt, now, currentID)
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE itam_asset_lifecycle SET is_current = 0, updated_at = ? WHERE id = ?`,
			now, currentID); err != nil {
			return err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO itam_asset_lifecycle
			(customer_id, asset_id, stage, status, owner, cost_center,
			 warranty_end, eol_date, decommission_date, notes, lifecycle_tags_json,
			 is_current, source_name, effective_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,1,?,?)`,
		asset.CustomerID, asset.ID, stage, status, owner, costCenter,
		warrantyEnd, eolDate, decommissionDate, notes, tagsJSON,
		sourceName, discoveredAt)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
