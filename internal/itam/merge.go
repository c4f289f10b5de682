package itam

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// mergeDuplicates folds every duplicate asset into the primary: scalar
// fields fill the primary's gaps, tag and metadata maps are unioned with the
// primary winning collisions, and every child row is re-parented. Child
// collisions keep the higher confidence and the newest payload. Duplicates
// are deleted at the end; any child row not explicitly handled cascades away
// with them, so re-parenting runs before the delete.
func mergeDuplicates(ctx context.Context, tx *sql.Tx, primary *Asset, duplicates []*Asset, now time.Time) error {
	for _, dup := range duplicates {
		if dup == nil || dup.ID == primary.ID {
			continue
		}

		fillEmptyFields(primary, dup)
		mergeTagsAndMaps(primary, dup)
		mergeTimestamps(primary, dup)

		if err := mergeIdentities(ctx, tx, primary, dup); err != nil {
			return err
		}
		if err := mergeSources(ctx, tx, primary, dup, now); err != nil {
			return err
		}
		if err := mergeSoftware(ctx, tx, primary, dup, now); err != nil {
			return err
		}
		if err := mergeHardware(ctx, tx, primary, dup, now); err != nil {
			return err
		}
		if err := mergeInterfaces(ctx, tx, primary, dup, now); err != nil {
			return err
		}
		if err := mergeTagRows(ctx, tx, primary, dup, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE itam_asset_lifecycle SET asset_id = ? WHERE asset_id = ?`,
			primary.ID, dup.ID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM itam_assets WHERE id = ?`, dup.ID); err != nil {
			return err
		}
		log.Debug().Int64("primary", primary.ID).Int64("duplicate", dup.ID).Msg("Duplicate asset folded in")
	}

	if err := refreshCurrentLifecycle(ctx, tx, primary.ID, now); err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM itam_asset_sources WHERE asset_id = ?`, primary.ID,
	).Scan(&primary.SourceCount); err != nil {
		return err
	}
	primary.UpdatedAt = now
	return nil
}

func fillEmptyFields(primary, dup *Asset) {
	pairs := []struct{ dst, src *string }{
		{&primary.AssetName, &dup.AssetName},
		{&primary.Hostname, &dup.Hostname},
		{&primary.AssetType, &dup.AssetType},
		{&primary.Platform, &dup.Platform},
		{&primary.PrimaryIP, &dup.PrimaryIP},
		{&primary.PrimaryMAC, &dup.PrimaryMAC},
		{&primary.SerialNumber, &dup.SerialNumber},
		{&primary.Vendor, &dup.Vendor},
		{&primary.Model, &dup.Model},
		{&primary.OSName, &dup.OSName},
		{&primary.OSVersion, &dup.OSVersion},
		{&primary.Domain, &dup.Domain},
		{&primary.Location, &dup.Location},
		{&primary.Environment, &dup.Environment},
		{&primary.Status, &dup.Status},
	}
	for _, p := range pairs {
		if *p.dst == "" && *p.src != "" {
			*p.dst = *p.src
		}
	}
}

func mergeTagsAndMaps(primary, dup *Asset) {
	tags := map[string]bool{}
	for _, t := range primary.Tags {
		if v := NormStr(t); v != "" {
			tags[v] = true
		}
	}
	for _, t := range dup.Tags {
		if v := NormStr(t); v != "" {
			tags[v] = true
		}
	}
	flat := make([]string, 0, len(tags))
	for v := range tags {
		flat = append(flat, v)
	}
	sort.Strings(flat)
	primary.Tags = flat

	custom := map[string]any{}
	for k, v := range dup.CustomFields {
		custom[k] = v
	}
	for k, v := range primary.CustomFields {
		custom[k] = v
	}
	primary.CustomFields = custom

	meta := map[string]any{}
	for k, v := range dup.Metadata {
		meta[k] = v
	}
	for k, v := range primary.Metadata {
		meta[k] = v
	}
	primary.Metadata = meta
}

func mergeTimestamps(primary, dup *Asset) {
	if !dup.FirstSeen.IsZero() && (primary.FirstSeen.IsZero() || dup.FirstSeen.Before(primary.FirstSeen)) {
		primary.FirstSeen = dup.FirstSeen
	}
	if !dup.LastSeen.IsZero() && (primary.LastSeen.IsZero() || dup.LastSeen.After(primary.LastSeen)) {
		primary.LastSeen = dup.LastSeen
	}
	if !dup.LastDiscoveredAt.IsZero() && (primary.LastDiscoveredAt.IsZero() || dup.LastDiscoveredAt.After(primary.LastDiscoveredAt)) {
		primary.LastDiscoveredAt = dup.LastDiscoveredAt
	}
}

func mergeIdentities(ctx context.Context, tx *sql.Tx, primary, dup *Asset) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, identity_type, identity_value, confidence, is_primary
		FROM itam_asset_identities WHERE asset_id = ?`, dup.ID)
	if err != nil {
		return err
	}
	type identRow struct {
		id         int64
		typ, value string
		confidence int
		isPrimary  int
	}
	var dupRows []identRow
	for rows.Next() {
		var r identRow
		if err := rows.Scan(&r.id, &r.typ, &r.value, &r.confidence, &r.isPrimary); err != nil {
			rows.Close()
			return err
		}
		dupRows = append(dupRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range dupRows {
		var existingID, existingConf, existingPrimary int64
		err := tx.QueryRowContext(ctx, `
			SELECT id, confidence, is_primary FROM itam_asset_identities
			WHERE asset_id = ? AND identity_type = ? AND identity_value = ?`,
			primary.ID, r.typ, r.value,
		).Scan(&existingID, &existingConf, &existingPrimary)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`UPDATE itam_asset_identities SET asset_id = ? WHERE id = ?`,
				primary.ID, r.id); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			conf := existingConf
			if int64(r.confidence) > conf {
				conf = int64(r.confidence)
			}
			isPrimary := existingPrimary != 0 || r.isPrimary != 0
			if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_identities SET confidence = ?, is_primary = ? WHERE id = ?`,
				conf, boolToInt(isPrimary), existingID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM itam_asset_identities WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeSources(ctx context.Context, tx *sql.Tx, primary, dup *Asset, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, source_name, source_key, confidence, raw_json, discovered_at
		FROM itam_asset_sources WHERE asset_id = ?`, dup.ID)
	if err != nil {
		return err
	}
	type sourceRow struct {
		id           int64
		name, key    string
		confidence   int
		rawJSON      string
		discoveredAt time.Time
	}
	var dupRows []sourceRow
	for rows.Next() {
		var r sourceRow
		if err := rows.Scan(&r.id, &r.name, &r.key, &r.confidence, &r.rawJSON, &r.discoveredAt); err != nil {
			rows.Close()
			return err
		}
		dupRows = append(dupRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range dupRows {
		var existingID, existingConf int64
		var existingDiscovered time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT id, confidence, discovered_at FROM itam_asset_sources
			WHERE asset_id = ? AND source_name = ? AND source_key = ?`,
			primary.ID, r.name, r.key,
		).Scan(&existingID, &existingConf, &existingDiscovered)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`UPDATE itam_asset_sources SET asset_id = ? WHERE id = ?`,
				primary.ID, r.id); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			conf := existingConf
			if int64(r.confidence) > conf {
				conf = int64(r.confidence)
			}
			if r.discoveredAt.After(existingDiscovered) {
				if _, err := tx.ExecContext(ctx, `
					UPDATE itam_asset_sources
					SET confidence = ?, raw_json = ?, discovered_at = ?, updated_at = ?
					WHERE id = ?`,
					conf, r.rawJSON, r.discoveredAt, now, existingID); err != nil {
					return err
				}
			} else if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_sources SET confidence = ?, updated_at = ? WHERE id = ?`,
				conf, now, existingID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM itam_asset_sources WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeSoftware(ctx context.Context, tx *sql.Tx, primary, dup *Asset, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, version, vendor, source_name, discovered_at
		FROM itam_asset_software WHERE asset_id = ?`, dup.ID)
	if err != nil {
		return err
	}
	type swRow struct {
		id            int64
		name, version string
		vendor, src   string
		discoveredAt  time.Time
	}
	var dupRows []swRow
	for rows.Next() {
		var r swRow
		if err := rows.Scan(&r.id, &r.name, &r.version, &r.vendor, &r.src, &r.discoveredAt); err != nil {
			rows.Close()
			return err
		}
		dupRows = append(dupRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range dupRows {
		var existingID int64
		var existingVendor string
		var existingDiscovered time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT id, vendor, discovered_at FROM itam_asset_software
			WHERE asset_id = ? AND name = ? AND version = ?`,
			primary.ID, r.name, r.version,
		).Scan(&existingID, &existingVendor, &existingDiscovered)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`UPDATE itam_asset_software SET asset_id = ? WHERE id = ?`,
				primary.ID, r.id); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			vendor := existingVendor
			if vendor == "" && r.vendor != "" {
				vendor = r.vendor
			}
			if r.discoveredAt.After(existingDiscovered) {
				if _, err := tx.ExecContext(ctx, `
					UPDATE itam_asset_software
					SET vendor = ?, source_name = ?, discovered_at = ?, updated_at = ?
					WHERE id = ?`,
					vendor, r.src, r.discoveredAt, now, existingID); err != nil {
					return err
				}
			} else if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_software SET vendor = ?, updated_at = ? WHERE id = ?`,
				vendor, now, existingID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM itam_asset_software WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeHardware(ctx context.Context, tx *sql.Tx, primary, dup *Asset, now time.Time) error {
	var dupID int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM itam_asset_hardware WHERE asset_id = ?`, dup.ID).Scan(&dupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	var primaryID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM itam_asset_hardware WHERE asset_id = ?`, primary.ID).Scan(&primaryID)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := tx.ExecContext(ctx,
			`UPDATE itam_asset_hardware SET asset_id = ? WHERE id = ?`, primary.ID, dupID)
		return err
	}
	if err != nil {
		return err
	}

	// Fill the primary profile's gaps column by column, then drop the
	// duplicate's row.
	for _, column := range []string{"cpu_model", "bios_version", "firmware_version", "manufacturer"} {
		if _, err := tx.ExecContext(ctx, `
			UPDATE itam_asset_hardware
			SET `+column+` = (SELECT `+column+` FROM itam_asset_hardware WHERE id = ?)
			WHERE id = ? AND `+column+` = ''`, dupID, primaryID); err != nil {
			return err
		}
	}
	for _, column := range []string{"cpu_cores", "memory_mb", "storage_mb"} {
		if _, err := tx.ExecContext(ctx, `
			UPDATE itam_asset_hardware
			SET `+column+` = (SELECT `+column+` FROM itam_asset_hardware WHERE id = ?)
			WHERE id = ? AND `+column+` IS NULL`, dupID, primaryID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE itam_asset_hardware SET updated_at = ? WHERE id = ?`, now, primaryID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM itam_asset_hardware WHERE id = ?`, dupID)
	return err
}

func mergeInterfaces(ctx context.Context, tx *sql.Tx, primary, dup *Asset, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, interface_name, mac_address, ip_address, subnet_mask, gateway, vlan, is_primary
		FROM itam_asset_network_interfaces WHERE asset_id = ?`, dup.ID)
	if err != nil {
		return err
	}
	type nicRow struct {
		id                    int64
		name, mac, ip         string
		subnet, gateway, vlan string
		isPrimary             int
	}
	var dupRows []nicRow
	for rows.Next() {
		var r nicRow
		if err := rows.Scan(&r.id, &r.name, &r.mac, &r.ip, &r.subnet, &r.gateway, &r.vlan, &r.isPrimary); err != nil {
			rows.Close()
			return err
		}
		dupRows = append(dupRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range dupRows {
		var existingID, existingPrimary int64
		var subnet, gateway, vlan string
		err := tx.QueryRowContext(ctx, `
			SELECT id, is_primary, subnet_mask, gateway, vlan FROM itam_asset_network_interfaces
			WHERE asset_id = ? AND interface_name = ? AND mac_address = ? AND ip_address = ?`,
			primary.ID, r.name, r.mac, r.ip,
		).Scan(&existingID, &existingPrimary, &subnet, &gateway, &vlan)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`UPDATE itam_asset_network_interfaces SET asset_id = ? WHERE id = ?`,
				primary.ID, r.id); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if subnet == "" {
				subnet = r.subnet
			}
			if gateway == "" {
				gateway = r.gateway
			}
			if vlan == "" {
				vlan = r.vlan
			}
			isPrimary := existingPrimary != 0 || r.isPrimary != 0
			if _, err := tx.ExecContext(ctx, `
				UPDATE itam_asset_network_interfaces
				SET is_primary = ?, subnet_mask = ?, gateway = ?, vlan = ?, updated_at = ?
				WHERE id = ?`,
				boolToInt(isPrimary), subnet, gateway, vlan, now, existingID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM itam_asset_network_interfaces WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeTagRows(ctx context.Context, tx *sql.Tx, primary, dup *Asset, now time.Time) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, tag_key, tag_value FROM itam_asset_tags WHERE asset_id = ?`, dup.ID)
	if err != nil {
		return err
	}
	type tagRow struct {
		id         int64
		key, value string
	}
	var dupRows []tagRow
	for rows.Next() {
		var r tagRow
		if err := rows.Scan(&r.id, &r.key, &r.value); err != nil {
			rows.Close()
			return err
		}
		dupRows = append(dupRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range dupRows {
		var existingID int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM itam_asset_tags
			WHERE asset_id = ? AND tag_key = ? AND tag_value = ?`,
			primary.ID, r.key, r.value,
		).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`UPDATE itam_asset_tags SET asset_id = ? WHERE id = ?`,
				primary.ID, r.id); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE itam_asset_tags SET updated_at = ? WHERE id = ?`, now, existingID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM itam_asset_tags WHERE id = ?`, r.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshCurrentLifecycle keeps exactly one current row after merged
// histories land on the primary.
func refreshCurrentLifecycle(ctx context.Context, tx *sql.Tx, assetID int64, now time.Time) error {
	var latestID int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM itam_asset_lifecycle
		WHERE asset_id = ? ORDER BY effective_at DESC, id DESC LIMIT 1`, assetID,
	).Scan(&latestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE itam_asset_lifecycle SET is_current = 0, updated_at = ?
		WHERE asset_id = ? AND id != ? AND is_current = 1`, now, assetID, latestID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE itam_asset_lifecycle SET is_current = 1 WHERE id = ?`, latestID)
	return err
}
