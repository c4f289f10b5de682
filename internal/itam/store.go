package itam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const itamDBFileName = "itam.db"

// Store persists the asset inventory in SQLite. Identities are unique per
// customer, so the identity table doubles as the resolver's lookup index.
// A single writer connection plus per-record transactions keep concurrent
// ingest sweeps from double-creating assets.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenStore opens or creates the inventory database under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, itamDBFileName)

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open itam db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db, dbPath: path}
	if err := store.initSchema(); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS itam_assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		canonical_key TEXT NOT NULL,
		asset_name TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		asset_type TEXT NOT NULL DEFAULT 'unknown',
		platform TEXT NOT NULL DEFAULT '',
		primary_ip TEXT NOT NULL DEFAULT '',
		primary_mac TEXT NOT NULL DEFAULT '',
		serial_number TEXT NOT NULL DEFAULT '',
		vendor TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		os_name TEXT NOT NULL DEFAULT '',
		os_version TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		environment TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		source_count INTEGER NOT NULL DEFAULT 0,
		tags_json TEXT NOT NULL DEFAULT '[]',
		custom_fields_json TEXT NOT NULL DEFAULT '{}',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		last_discovered_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, canonical_key)
	);
	CREATE INDEX IF NOT EXISTS idx_itam_assets_customer ON itam_assets(customer_id);
	CREATE INDEX IF NOT EXISTS idx_itam_assets_hostname ON itam_assets(hostname);

	CREATE TABLE IF NOT EXISTS itam_asset_identities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		identity_type TEXT NOT NULL,
		identity_value TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 100,
		is_primary INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, identity_type, identity_value)
	);
	CREATE INDEX IF NOT EXISTS idx_itam_identities_asset ON itam_asset_identities(asset_id);

	CREATE TABLE IF NOT EXISTS itam_asset_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		source_name TEXT NOT NULL,
		source_key TEXT NOT NULL,
		confidence INTEGER NOT NULL DEFAULT 80,
		raw_json TEXT NOT NULL DEFAULT '{}',
		discovered_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, source_name, source_key)
	);
	CREATE INDEX IF NOT EXISTS idx_itam_sources_asset ON itam_asset_sources(asset_id);

	CREATE TABLE IF NOT EXISTS itam_asset_software (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		version TEXT NOT NULL DEFAULT '',
		vendor TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		discovered_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(asset_id, name, version)
	);

	CREATE TABLE IF NOT EXISTS itam_asset_hardware (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL UNIQUE REFERENCES itam_assets(id) ON DELETE CASCADE,
		cpu_model TEXT NOT NULL DEFAULT '',
		cpu_cores INTEGER,
		memory_mb INTEGER,
		storage_mb INTEGER,
		bios_version TEXT NOT NULL DEFAULT '',
		firmware_version TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		captured_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS itam_asset_network_interfaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		interface_name TEXT NOT NULL DEFAULT '',
		mac_address TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		subnet_mask TEXT NOT NULL DEFAULT '',
		gateway TEXT NOT NULL DEFAULT '',
		vlan TEXT NOT NULL DEFAULT '',
		is_primary INTEGER NOT NULL DEFAULT 0,
		source_name TEXT NOT NULL DEFAULT '',
		discovered_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(asset_id, interface_name, mac_address, ip_address)
	);

	CREATE TABLE IF NOT EXISTS itam_asset_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		tag_key TEXT NOT NULL DEFAULT 'label',
		tag_value TEXT NOT NULL,
		source_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(asset_id, tag_key, tag_value)
	);

	CREATE TABLE IF NOT EXISTS itam_asset_lifecycle (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		stage TEXT NOT NULL DEFAULT 'discovered',
		status TEXT NOT NULL DEFAULT 'active',
		owner TEXT NOT NULL DEFAULT '',
		cost_center TEXT NOT NULL DEFAULT '',
		warranty_end TEXT NOT NULL DEFAULT '',
		eol_date TEXT NOT NULL DEFAULT '',
		decommission_date TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		lifecycle_tags_json TEXT NOT NULL DEFAULT '[]',
		is_current INTEGER NOT NULL DEFAULT 1,
		source_name TEXT NOT NULL DEFAULT '',
		effective_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_itam_lifecycle_asset ON itam_asset_lifecycle(asset_id, is_current);

	CREATE TABLE IF NOT EXISTS itam_compliance_policies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL DEFAULT 0,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		policy_type TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		enabled INTEGER NOT NULL DEFAULT 1,
		target_filters_json TEXT NOT NULL DEFAULT '{}',
		criteria_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, code)
	);

	CREATE TABLE IF NOT EXISTS itam_compliance_findings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		policy_id INTEGER NOT NULL REFERENCES itam_compliance_policies(id) ON DELETE CASCADE,
		asset_id INTEGER NOT NULL REFERENCES itam_assets(id) ON DELETE CASCADE,
		run_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		details_json TEXT NOT NULL DEFAULT '{}',
		evaluated_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(customer_id, policy_id, asset_id)
	);
	CREATE INDEX IF NOT EXISTS idx_itam_findings_asset ON itam_compliance_findings(asset_id, status);

	CREATE TABLE IF NOT EXISTS itam_compliance_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		triggered_by TEXT NOT NULL DEFAULT 'system',
		policy_count INTEGER NOT NULL DEFAULT 0,
		asset_count INTEGER NOT NULL DEFAULT 0,
		finding_count INTEGER NOT NULL DEFAULT 0,
		pass_count INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		not_applicable_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		summary_json TEXT NOT NULL DEFAULT '{}',
		error_text TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS itam_discovery_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_uid TEXT NOT NULL DEFAULT '',
		customer_id INTEGER,
		source_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		stats_json TEXT NOT NULL DEFAULT '{}',
		error_text TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize itam schema for %q: %w", s.dbPath, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file location.
func (s *Store) Path() string { return s.dbPath }

const assetColumns = `id, customer_id, canonical_key, asset_name, hostname, asset_type, platform,
	primary_ip, primary_mac, serial_number, vendor, model, os_name, os_version,
	domain, location, environment, status, source_count,
	tags_json, custom_fields_json, metadata_json,
	first_seen, last_seen, last_discovered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	a := &Asset{}
	var tagsJSON, customJSON, metaJSON string
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.CanonicalKey, &a.AssetName, &a.Hostname, &a.AssetType, &a.Platform,
		&a.PrimaryIP, &a.PrimaryMAC, &a.SerialNumber, &a.Vendor, &a.Model, &a.OSName, &a.OSVersion,
		&a.Domain, &a.Location, &a.Environment, &a.Status, &a.SourceCount,
		&tagsJSON, &customJSON, &metaJSON,
		&a.FirstSeen, &a.LastSeen, &a.LastDiscoveredAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Tags = decodeStringList(tagsJSON)
	a.CustomFields = decodeObject(customJSON)
	a.Metadata = decodeObject(metaJSON)
	return a, nil
}

func decodeStringList(raw string) []string {
	var out []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil
		}
	}
	return out
}

func decodeObject(raw string) map[string]any {
	out := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return map[string]any{}
		}
	}
	return out
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// AssetByID loads one asset, or nil when absent.
func (s *Store) AssetByID(ctx context.Context, id int64) (*Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM itam_assets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// AssetByCanonicalKey loads a tenant's asset by its canonical key.
func (s *Store) AssetByCanonicalKey(ctx context.Context, customerID int64, key string) (*Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM itam_assets WHERE customer_id = ? AND canonical_key = ?`,
		customerID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// AssetCount returns how many assets a tenant has.
func (s *Store) AssetCount(ctx context.Context, customerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM itam_assets WHERE customer_id = ?`, customerID).Scan(&n)
	return n, err
}

// Assets lists a tenant's assets ordered by last seen, newest first.
func (s *Store) Assets(ctx context.Context, customerID int64) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM itam_assets WHERE customer_id = ? ORDER BY last_seen DESC, id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IdentitiesFor lists an asset's identities, strongest type first.
func (s *Store) IdentitiesFor(ctx context.Context, assetID int64) ([]*Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, asset_id, identity_type, identity_value, confidence, is_primary, created_at
		FROM itam_asset_identities WHERE asset_id = ? ORDER BY confidence DESC, id`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Identity
	for rows.Next() {
		ident := &Identity{}
		var primary int
		if err := rows.Scan(&ident.ID, &ident.CustomerID, &ident.AssetID, &ident.Type, &ident.Value,
			&ident.Confidence, &primary, &ident.CreatedAt); err != nil {
			return nil, err
		}
		ident.IsPrimary = primary != 0
		out = append(out, ident)
	}
	return out, rows.Err()
}

// SourcesFor lists an asset's discovery sources.
func (s *Store) SourcesFor(ctx context.Context, assetID int64) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, asset_id, source_name, source_key, confidence, raw_json, discovered_at, updated_at
		FROM itam_asset_sources WHERE asset_id = ? ORDER BY source_name, source_key`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src := &Source{}
		var rawJSON string
		if err := rows.Scan(&src.ID, &src.CustomerID, &src.AssetID, &src.SourceName, &src.SourceKey,
			&src.Confidence, &rawJSON, &src.DiscoveredAt, &src.UpdatedAt); err != nil {
			return nil, err
		}
		src.Raw = decodeObject(rawJSON)
		out = append(out, src)
	}
	return out, rows.Err()
}

// SoftwareFor lists an asset's installed software.
func (s *Store) SoftwareFor(ctx context.Context, assetID int64) ([]*Software, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, asset_id, name, version, vendor, source_name, discovered_at, updated_at
		FROM itam_asset_software WHERE asset_id = ? ORDER BY name, version`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Software
	for rows.Next() {
		sw := &Software{}
		if err := rows.Scan(&sw.ID, &sw.CustomerID, &sw.AssetID, &sw.Name, &sw.Version,
			&sw.Vendor, &sw.SourceName, &sw.DiscoveredAt, &sw.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// HardwareFor loads the asset's hardware profile, or nil when none captured.
func (s *Store) HardwareFor(ctx context.Context, assetID int64) (*Hardware, error) {
	hw := &Hardware{}
	var cores, mem, storage sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, asset_id, cpu_model, cpu_cores, memory_mb, storage_mb,
		       bios_version, firmware_version, manufacturer, source_name, captured_at, updated_at
		FROM itam_asset_hardware WHERE asset_id = ?`, assetID,
	).Scan(&hw.ID, &hw.CustomerID, &hw.AssetID, &hw.CPUModel, &cores, &mem, &storage,
		&hw.BIOSVersion, &hw.FirmwareVersion, &hw.Manufacturer, &hw.SourceName, &hw.CapturedAt, &hw.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cores.Valid {
		hw.CPUCores = &cores.Int64
	}
	if mem.Valid {
		hw.MemoryMB = &mem.Int64
	}
	if storage.Valid {
		hw.StorageMB = &storage.Int64
	}
	return hw, nil
}

// InterfacesFor lists an asset's network interfaces.
func (s *Store) InterfacesFor(ctx context.Context, assetID int64) ([]*NetworkInterface, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, asset_id, interface_name, mac_address, ip_address,
		       subnet_mask, gateway, vlan, is_primary, source_name, discovered_at, updated_at
		FROM itam_asset_network_interfaces WHERE asset_id = ? ORDER BY id`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NetworkInterface
	for rows.Next() {
		nic := &NetworkInterface{}
		var primary int
		if err := rows.Scan(&nic.ID, &nic.CustomerID, &nic.AssetID, &nic.Name, &nic.MAC, &nic.IP,
			&nic.SubnetMask, &nic.Gateway, &nic.VLAN, &primary, &nic.SourceName,
			&nic.DiscoveredAt, &nic.UpdatedAt); err != nil {
			return nil, err
		}
		nic.IsPrimary = primary != 0
		out = append(out, nic)
	}
	return out, rows.Err()
}

// TagsFor lists an asset's tag rows.
func (s *Store) TagsFor(ctx context.Context, assetID int64) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, asset_id, tag_key, tag_value, source_name, created_at, updated_at
		FROM itam_asset_tags WHERE asset_id = ? ORDER BY tag_key, tag_value`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		tag := &Tag{}
		if err := rows.Scan(&tag.ID, &tag.CustomerID, &tag.AssetID, &tag.Key, &tag.Value,
			&tag.SourceName, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// LifecycleFor lists an asset's lifecycle history, newest first.
func (s *Store) LifecycleFor(ctx context.Context, assetID int64) ([]*Lifecycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, asset_id, stage, status, owner, cost_center,
		       warranty_end, eol_date, decommission_date, notes, lifecycle_tags_json,
		       is_current, source_name, effective_at, created_at, updated_at
		FROM itam_asset_lifecycle WHERE asset_id = ? ORDER BY effective_at DESC, id DESC`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Lifecycle
	for rows.Next() {
		lc := &Lifecycle{}
		var tagsJSON string
		var current int
		if err := rows.Scan(&lc.ID, &lc.CustomerID, &lc.AssetID, &lc.Stage, &lc.Status, &lc.Owner, &lc.CostCenter,
			&lc.WarrantyEnd, &lc.EOLDate, &lc.DecommissionDate, &lc.Notes, &tagsJSON,
			&current, &lc.SourceName, &lc.EffectiveAt, &lc.CreatedAt, &lc.UpdatedAt); err != nil {
			return nil, err
		}
		lc.IsCurrent = current != 0
		lc.Tags = decodeStringList(tagsJSON)
		out = append(out, lc)
	}
	return out, rows.Err()
}

// StartRun records the beginning of a discovery sweep and returns its id.
// runUID is the sortable correlation id the sweep logs under.
func (s *Store) StartRun(ctx context.Context, runUID string, customerID int64, sourceName string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO itam_discovery_runs (run_uid, customer_id, source_name, status, started_at)
		VALUES (?,?,?,'running',?)`,
		runUID, customerID, sourceName, startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRun closes a discovery sweep with its outcome and stats.
func (s *Store) FinishRun(ctx context.Context, runID int64, status, errorText string, stats any, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE itam_discovery_runs
		SET status = ?, error_text = ?, stats_json = ?, ended_at = ?
		WHERE id = ?`,
		status, errorText, encodeJSON(stats), endedAt, runID)
	return err
}
