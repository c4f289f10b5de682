package itam

import "time"

// DiscoveryRecord is the flat shape every discovery source reduces to before
// reconciliation. Scalar fields carry raw, un-normalised values; the resolver
// normalises on the way in so two sources spelling the same identity
// differently still land on one asset.
type DiscoveryRecord struct {
	AgentID         string `json:"agent_id,omitempty"`
	CloudInstanceID string `json:"cloud_instance_id,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
	DeviceUUID      string `json:"device_uuid,omitempty"`
	Hostname        string `json:"hostname,omitempty"`
	AssetName       string `json:"asset_name,omitempty"`
	PrimaryIP       string `json:"primary_ip,omitempty"`
	PrimaryMAC      string `json:"primary_mac,omitempty"`

	Platform    string `json:"platform,omitempty"`
	Vendor      string `json:"vendor,omitempty"`
	Model       string `json:"model,omitempty"`
	OSName      string `json:"os_name,omitempty"`
	OS          string `json:"os,omitempty"`
	OSVersion   string `json:"os_version,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Location    string `json:"location,omitempty"`
	Environment string `json:"environment,omitempty"`
	Status      string `json:"status,omitempty"`

	// Classification hints, usually filled by the connector.
	SourceName    string `json:"source_name,omitempty"`
	AssetTypeHint string `json:"asset_type_hint,omitempty"`
	Template      string `json:"template,omitempty"`

	Metadata     map[string]any `json:"metadata,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`

	// Tags entries are either plain strings or {key,value} objects.
	Tags []any `json:"tags,omitempty"`
	// Software entries are either plain names or {name,version,vendor}.
	Software          []any            `json:"software,omitempty"`
	Hardware          map[string]any   `json:"hardware,omitempty"`
	NetworkInterfaces []map[string]any `json:"network_interfaces,omitempty"`
	Lifecycle         map[string]any   `json:"lifecycle,omitempty"`
}

// Asset is the golden record a customer's discovery sources converge on.
type Asset struct {
	ID         int64
	CustomerID int64

	CanonicalKey string
	AssetName    string
	Hostname     string
	AssetType    string
	Platform     string
	PrimaryIP    string
	PrimaryMAC   string
	SerialNumber string
	Vendor       string
	Model        string
	OSName       string
	OSVersion    string
	Domain       string
	Location     string
	Environment  string
	Status       string

	SourceCount  int
	Tags         []string
	CustomFields map[string]any
	Metadata     map[string]any

	FirstSeen        time.Time
	LastSeen         time.Time
	LastDiscoveredAt time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Identity is one (type, value) handle an asset is known by. Unique per
// customer, so an identity can belong to at most one asset at a time.
type Identity struct {
	ID         int64
	CustomerID int64
	AssetID    int64
	Type       string
	Value      string
	Confidence int
	IsPrimary  bool
	CreatedAt  time.Time
}

// Source records one discovery feed's sighting of an asset, raw payload
// included, so a merge or audit can always trace a field back to its origin.
type Source struct {
	ID           int64
	CustomerID   int64
	AssetID      int64
	SourceName   string
	SourceKey    string
	Confidence   int
	Raw          map[string]any
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// Software is one installed package, keyed by (asset, name, version).
type Software struct {
	ID           int64
	CustomerID   int64
	AssetID      int64
	Name         string
	Version      string
	Vendor       string
	SourceName   string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// Hardware is the single per-asset hardware profile. Numeric fields are
// pointers because "not reported" and "zero" are different facts.
type Hardware struct {
	ID              int64
	CustomerID      int64
	AssetID         int64
	CPUModel        string
	CPUCores        *int64
	MemoryMB        *int64
	StorageMB       *int64
	BIOSVersion     string
	FirmwareVersion string
	Manufacturer    string
	SourceName      string
	CapturedAt      time.Time
	UpdatedAt       time.Time
}

// NetworkInterface is one NIC, keyed by (asset, name, mac, ip).
type NetworkInterface struct {
	ID           int64
	CustomerID   int64
	AssetID      int64
	Name         string
	MAC          string
	IP           string
	SubnetMask   string
	Gateway      string
	VLAN         string
	IsPrimary    bool
	SourceName   string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// Tag is one (key, value) label row; the asset additionally carries the
// flattened sorted value union in its tags column.
type Tag struct {
	ID         int64
	CustomerID int64
	AssetID    int64
	Key        string
	Value      string
	SourceName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Lifecycle is one versioned lifecycle snapshot; exactly one row per asset
// is current. Dates are normalised "YYYY-MM-DD" strings or empty.
type Lifecycle struct {
	ID               int64
	CustomerID       int64
	AssetID          int64
	Stage            string
	Status           string
	Owner            string
	CostCenter       string
	WarrantyEnd      string
	EOLDate          string
	DecommissionDate string
	Notes            string
	Tags             []string
	IsCurrent        bool
	SourceName       string
	EffectiveAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
