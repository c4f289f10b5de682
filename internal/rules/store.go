package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const alertDBFileName = "unified360.db"

// Store persists rules, per-target hysteresis state, device up/down state and
// monitor inventory in SQLite. A single writer connection is used; state
// mutations run inside one transaction so a trigger/recovery edge is decided
// against a freshly-read row even when rule evaluations overlap.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// OpenStore opens or creates the engine database under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dataDir, alertDBFileName)

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
		return nil, fmt.Errorf("open engine db: %w", err)
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
	CREATE TABLE IF NOT EXISTS alert_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		customer_name TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		monitoring_type TEXT NOT NULL,
		logic_json TEXT NOT NULL,
		evaluation_count INTEGER NOT NULL DEFAULT 1,
		contact_group_id INTEGER NOT NULL DEFAULT 0,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		bw_hostname TEXT NOT NULL DEFAULT '',
		bw_interface TEXT NOT NULL DEFAULT '',
		svc_instance TEXT NOT NULL DEFAULT '',
		oracle_monitor_id TEXT NOT NULL DEFAULT '',
		oracle_tablespace TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_alert_rules_customer ON alert_rules(customer_id);

	CREATE TABLE IF NOT EXISTS alert_rule_state (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id INTEGER NOT NULL REFERENCES alert_rules(id) ON DELETE CASCADE,
		customer_id INTEGER NOT NULL,
		target_value TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		consecutive INTEGER NOT NULL DEFAULT 0,
		last_triggered TIMESTAMP,
		last_recovered TIMESTAMP,
		extended_state TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(rule_id, customer_id, target_value)
	);
	CREATE INDEX IF NOT EXISTS idx_rule_state_customer ON alert_rule_state(customer_id);

	CREATE TABLE IF NOT EXISTS device_status_alert (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		device TEXT NOT NULL,
		last_status TEXT NOT NULL DEFAULT 'UP',
		is_active INTEGER NOT NULL DEFAULT 0,
		last_change TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		down_since TIMESTAMP,
		last_recovered TIMESTAMP,
		total_downtime_sec INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, device)
	);

	CREATE TABLE IF NOT EXISTS device_updown_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		source TEXT NOT NULL,
		device TEXT NOT NULL,
		contact_group_id INTEGER NOT NULL DEFAULT 0,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_updown_source ON device_updown_rules(source);

	CREATE TABLE IF NOT EXISTS port_monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		host_ip TEXT NOT NULL,
		ports TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS url_monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		host TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS ping_monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		host TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS oracle_monitors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 1521,
		service_name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS contact_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER NOT NULL,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES contact_groups(id) ON DELETE CASCADE,
		email TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize engine schema for %q: %w", s.dbPath, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.dbPath }

// --- rules ---------------------------------------------------------------

// InsertRule stores a rule definition and returns its id.
func (s *Store) InsertRule(ctx context.Context, r *AlertRule) (int64, error) {
	logicJSON, err := json.Marshal(r.Logic)
	if err != nil {
		return 0, fmt.Errorf("encode rule logic: %w", err)
	}
	count := r.EvaluationCount
	if count < 1 {
		count = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (
			customer_id, customer_name, name, monitoring_type, logic_json,
			evaluation_count, contact_group_id, is_enabled,
			bw_hostname, bw_interface, svc_instance,
			oracle_monitor_id, oracle_tablespace
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.CustomerID, r.CustomerName, r.Name, string(r.Type), string(logicJSON),
		count, r.ContactGroupID, boolToInt(r.Enabled),
		r.BWHostname, r.BWInterface, r.SvcInstance,
		r.OracleMonitorID, r.OracleTablespace,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// DeleteRule removes a rule; its state rows cascade.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	return err
}

// EnabledRules loads every enabled rule ordered by id.
func (s *Store) EnabledRules(ctx context.Context) ([]*AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, customer_name, name, monitoring_type, logic_json,
		       evaluation_count, contact_group_id, is_enabled,
		       bw_hostname, bw_interface, svc_instance,
		       oracle_monitor_id, oracle_tablespace, created_at
		FROM alert_rules WHERE is_enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanRule(rows *sql.Rows) (*AlertRule, error) {
	var (
		r         AlertRule
		typeStr   string
		logicJSON string
		enabled   int
	)
	if err := rows.Scan(
		&r.ID, &r.CustomerID, &r.CustomerName, &r.Name, &typeStr, &logicJSON,
		&r.EvaluationCount, &r.ContactGroupID, &enabled,
		&r.BWHostname, &r.BWInterface, &r.SvcInstance,
		&r.OracleMonitorID, &r.OracleTablespace, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	mt, err := ParseMonitoringType(typeStr)
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	r.Type = mt
	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(logicJSON), &r.Logic); err != nil {
		return nil, fmt.Errorf("rule %d: decode logic: %w", r.ID, err)
	}
	return &r, nil
}

// --- per-target hysteresis state -----------------------------------------

// WithTargetState runs fn against the current state row for (rule, target),
// creating the row if this is the first evaluation, and persists whatever fn
// left behind. created tells fn whether this is the target's first sighting,
// which some handlers treat as a baseline cycle. The whole read-modify-write
// happens in one transaction under the store lock, which is what guarantees
// at-most-once edge emission.
func (s *Store) WithTargetState(ctx context.Context, rule *AlertRule, target string, fn func(st *RuleState, created bool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st, created, err := loadTargetState(ctx, tx, rule.ID, rule.CustomerID, target)
	if err != nil {
		return err
	}

	if err := fn(st, created); err != nil {
		return err
	}

	extJSON, err := json.Marshal(st.Extended)
	if err != nil {
		return fmt.Errorf("encode extended state: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE alert_rule_state
		SET is_active = ?, consecutive = ?, last_triggered = ?, last_recovered = ?,
		    extended_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		boolToInt(st.Active), st.Consecutive, st.LastTriggered, st.LastRecovered,
		string(extJSON), st.ID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func loadTargetState(ctx context.Context, tx *sql.Tx, ruleID, customerID int64, target string) (*RuleState, bool, error) {
	st := &RuleState{RuleID: ruleID, CustomerID: customerID, TargetValue: target, Extended: map[string]any{}}

	var extJSON string
	err := tx.QueryRowContext(ctx, `
		SELECT id, is_active, consecutive, last_triggered, last_recovered, extended_state
		FROM alert_rule_state
		WHERE rule_id = ? AND customer_id = ? AND target_value = ?`,
		ruleID, customerID, target,
	).Scan(&st.ID, &st.Active, &st.Consecutive, &st.LastTriggered, &st.LastRecovered, &extJSON)

	switch {
	case err == nil:
		if extJSON != "" {
			// Legacy rows may hold malformed scratch data; start fresh then.
			if jsonErr := json.Unmarshal([]byte(extJSON), &st.Extended); jsonErr != nil {
				st.Extended = map[string]any{}
			}
		}
		return st, false, nil
	case errors.Is(err, sql.ErrNoRows):
		res, insErr := tx.ExecContext(ctx, `
			INSERT INTO alert_rule_state (rule_id, customer_id, target_value, is_active, consecutive, extended_state)
			VALUES (?,?,?,0,0,'{}')`,
			ruleID, customerID, target,
		)
		if insErr != nil {
			return nil, false, insErr
		}
		id, insErr := res.LastInsertId()
		if insErr != nil {
			return nil, false, insErr
		}
		st.ID = id
		return st, true, nil
	default:
		return nil, false, err
	}
}

// StatesForRule returns all state rows of one rule, ordered by target.
func (s *Store) StatesForRule(ctx context.Context, ruleID int64) ([]*RuleState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, customer_id, target_value, is_active, consecutive,
		       last_triggered, last_recovered, extended_state, created_at, updated_at
		FROM alert_rule_state WHERE rule_id = ? ORDER BY target_value`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RuleState
	for rows.Next() {
		st := &RuleState{Extended: map[string]any{}}
		var extJSON string
		if err := rows.Scan(
			&st.ID, &st.RuleID, &st.CustomerID, &st.TargetValue, &st.Active, &st.Consecutive,
			&st.LastTriggered, &st.LastRecovered, &extJSON, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if extJSON != "" {
			if err := json.Unmarshal([]byte(extJSON), &st.Extended); err != nil {
				st.Extended = map[string]any{}
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- device up/down state ------------------------------------------------

// WithDeviceStatus runs fn against the status row for (source, device).
// created reports whether this is the first observation of the pair; fn runs
// inside the row transaction and its mutations are persisted on return.
func (s *Store) WithDeviceStatus(ctx context.Context, source, device string, fn func(ds *DeviceStatus, created bool) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ds := &DeviceStatus{Source: source, Device: device, LastStatus: "UP"}
	created := false
	err = tx.QueryRowContext(ctx, `
		SELECT id, last_status, is_active, last_change, down_since, last_recovered, total_downtime_sec
		FROM device_status_alert WHERE source = ? AND device = ?`,
		source, device,
	).Scan(&ds.ID, &ds.LastStatus, &ds.Active, &ds.LastChange, &ds.DownSince, &ds.LastRecovered, &ds.TotalDowntimeSec)
	if errors.Is(err, sql.ErrNoRows) {
		created = true
	} else if err != nil {
		return err
	}

	if err := fn(ds, created); err != nil {
		return err
	}

	if created {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO device_status_alert
				(source, device, last_status, is_active, last_change, down_since, last_recovered, total_downtime_sec)
			VALUES (?,?,?,?,?,?,?,?)`,
			source, device, ds.LastStatus, boolToInt(ds.Active), ds.LastChange,
			ds.DownSince, ds.LastRecovered, ds.TotalDowntimeSec,
		)
		if err != nil {
			return err
		}
		if ds.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE device_status_alert
			SET last_status = ?, is_active = ?, last_change = ?, down_since = ?,
			    last_recovered = ?, total_downtime_sec = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			ds.LastStatus, boolToInt(ds.Active), ds.LastChange, ds.DownSince,
			ds.LastRecovered, ds.TotalDowntimeSec, ds.ID,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeviceStatusFor returns the current row for (source, device), if any.
func (s *Store) DeviceStatusFor(ctx context.Context, source, device string) (*DeviceStatus, error) {
	ds := &DeviceStatus{Source: source, Device: device}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, last_status, is_active, last_change, down_since, last_recovered, total_downtime_sec, created_at, updated_at
		FROM device_status_alert WHERE source = ? AND device = ?`,
		source, device,
	).Scan(&ds.ID, &ds.LastStatus, &ds.Active, &ds.LastChange, &ds.DownSince,
		&ds.LastRecovered, &ds.TotalDowntimeSec, &ds.CreatedAt, &ds.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// DeviceUpDownRules loads the enabled subscriptions for one source type.
func (s *Store) DeviceUpDownRules(ctx context.Context, source string) ([]*DeviceUpDownRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, source, device, contact_group_id, is_enabled
		FROM device_updown_rules WHERE source = ? AND is_enabled = 1 ORDER BY id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DeviceUpDownRule
	for rows.Next() {
		r := &DeviceUpDownRule{}
		var enabled int
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.Source, &r.Device, &r.ContactGroupID, &enabled); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertDeviceUpDownRule registers a device subscription.
func (s *Store) InsertDeviceUpDownRule(ctx context.Context, r *DeviceUpDownRule) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO device_updown_rules (customer_id, source, device, contact_group_id, is_enabled)
		VALUES (?,?,?,?,?)`,
		r.CustomerID, r.Source, r.Device, r.ContactGroupID, boolToInt(r.Enabled))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- monitor inventory ----------------------------------------------------

// PortMonitors lists the active port monitors of one tenant.
func (s *Store) PortMonitors(ctx context.Context, customerID int64) ([]*PortMonitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, host_ip, ports, active
		FROM port_monitors WHERE customer_id = ? AND active = 1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PortMonitor
	for rows.Next() {
		m := &PortMonitor{}
		var active int
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.HostIP, &m.Ports, &active); err != nil {
			return nil, err
		}
		m.Active = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// PortList splits the monitor's comma-separated port list.
func (m *PortMonitor) PortList() []string {
	var out []string
	for _, p := range strings.Split(m.Ports, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// URLMonitors lists the active URL monitors of one tenant.
func (s *Store) URLMonitors(ctx context.Context, customerID int64) ([]*URLMonitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, host, active
		FROM url_monitors WHERE customer_id = ? AND active = 1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*URLMonitor
	for rows.Next() {
		m := &URLMonitor{}
		var active int
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.Host, &active); err != nil {
			return nil, err
		}
		m.Active = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// PingMonitors lists the ping monitors of one tenant.
func (s *Store) PingMonitors(ctx context.Context, customerID int64) ([]*PingMonitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, host FROM ping_monitors WHERE customer_id = ? ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PingMonitor
	for rows.Next() {
		m := &PingMonitor{}
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.Host); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// OracleMonitorByID resolves the Oracle instance a rule points at.
func (s *Store) OracleMonitorByID(ctx context.Context, id string) (*OracleMonitor, error) {
	m := &OracleMonitor{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, host, port, service_name FROM oracle_monitors WHERE id = ?`, id,
	).Scan(&m.ID, &m.CustomerID, &m.Host, &m.Port, &m.ServiceName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// InsertPortMonitor / InsertURLMonitor / InsertPingMonitor / InsertOracleMonitor
// seed inventory; the web layer that normally writes these is out of process.

func (s *Store) InsertPortMonitor(ctx context.Context, m *PortMonitor) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO port_monitors (customer_id, host_ip, ports, active) VALUES (?,?,?,?)`,
		m.CustomerID, m.HostIP, m.Ports, boolToInt(m.Active))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) InsertURLMonitor(ctx context.Context, m *URLMonitor) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO url_monitors (customer_id, host, active) VALUES (?,?,?)`,
		m.CustomerID, m.Host, boolToInt(m.Active))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) InsertPingMonitor(ctx context.Context, m *PingMonitor) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ping_monitors (customer_id, host) VALUES (?,?)`,
		m.CustomerID, m.Host)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) InsertOracleMonitor(ctx context.Context, m *OracleMonitor) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO oracle_monitors (customer_id, host, port, service_name) VALUES (?,?,?,?)`,
		m.CustomerID, m.Host, m.Port, m.ServiceName)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err == nil {
		m.ID = id
	}
	return id, err
}

// --- contacts -------------------------------------------------------------

// Recipients returns the distinct e-mail addresses of one contact group.
func (s *Store) Recipients(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT email FROM contacts WHERE group_id = ? AND email != '' ORDER BY email`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// InsertContactGroup creates a group with the given member addresses.
func (s *Store) InsertContactGroup(ctx context.Context, customerID int64, name string, emails []string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_groups (customer_id, name) VALUES (?,?)`, customerID, name)
	if err != nil {
		return 0, err
	}
	groupID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, email := range emails {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO contacts (group_id, email) VALUES (?,?)`, groupID, email); err != nil {
			return 0, err
		}
	}
	return groupID, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
