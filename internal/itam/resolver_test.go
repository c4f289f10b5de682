package itam

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/autointelli/unified360-go/internal/telemetry"
)

func newTestResolver(t *testing.T) (*Store, *Resolver) {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, NewResolver(store, telemetry.New())
}

func TestUpsertAssetCreatesGoldenRecord(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &DiscoveryRecord{
		SerialNumber: "SN-100",
		Hostname:     "Web-01.corp:443",
		PrimaryIP:    "10.0.0.5",
		PrimaryMAC:   "AA-BB-CC-DD-EE-FF",
		Vendor:       "Dell",
		Model:        "R640",
		OSName:       "Ubuntu 22.04",
		Status:       "up",
	}
	asset, created, err := resolver.UpsertAsset(ctx, 1, "server-agent", "srv:web-01", rec, seen, 90)
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	if !created {
		t.Error("first sighting must create the asset")
	}
	if asset.CanonicalKey != "serial_number:SN-100" {
		t.Errorf("canonical key = %q", asset.CanonicalKey)
	}
	if asset.Hostname != "web-01.corp" || asset.PrimaryIP != "10.0.0.5" || asset.PrimaryMAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("fields not normalised: %+v", asset)
	}
	if asset.AssetType != "server" {
		t.Errorf("asset type = %q, want server", asset.AssetType)
	}
	if asset.Status != "active" {
		t.Errorf("status = %q, want active", asset.Status)
	}
	if asset.SourceCount != 1 {
		t.Errorf("source count = %d, want 1", asset.SourceCount)
	}

	identities, err := store.IdentitiesFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("IdentitiesFor: %v", err)
	}
	if len(identities) != 4 {
		t.Fatalf("identity count = %d, want 4", len(identities))
	}
	var primaries int
	for _, ident := range identities {
		if ident.IsPrimary {
			primaries++
			if ident.Type != "serial_number" {
				t.Errorf("primary identity = %q, want serial_number", ident.Type)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("primary identities = %d, want 1", primaries)
	}

	if _, ok := asset.Metadata["_field_confidence"]; !ok {
		t.Error("field confidence map missing from metadata")
	}
}

func TestUpsertAssetIdempotentReingestion(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &DiscoveryRecord{
		SerialNumber: "SN-200",
		Hostname:     "db-01",
		Vendor:       "HPE",
		Software:     []any{"nginx", map[string]any{"name": "postgres", "version": "15.3"}},
		Tags:         []any{"prod", "database"},
	}

	first, created, err := resolver.UpsertAsset(ctx, 1, "agent", "k1", rec, seen, 90)
	if err != nil {
		t.Fatalf("first UpsertAsset: %v", err)
	}
	if !created {
		t.Fatal("first ingest must create")
	}

	second, created, err := resolver.UpsertAsset(ctx, 1, "agent", "k1", rec, seen.Add(time.Hour), 90)
	if err != nil {
		t.Fatalf("second UpsertAsset: %v", err)
	}
	if created {
		t.Error("re-ingestion must not create a second asset")
	}
	if second.ID != first.ID {
		t.Errorf("asset id changed: %d -> %d", first.ID, second.ID)
	}

	count, err := store.AssetCount(ctx, 1)
	if err != nil {
		t.Fatalf("AssetCount: %v", err)
	}
	if count != 1 {
		t.Errorf("asset count = %d, want 1", count)
	}

	sources, err := store.SourcesFor(ctx, first.ID)
	if err != nil {
		t.Fatalf("SourcesFor: %v", err)
	}
	if len(sources) != 1 {
		t.Errorf("source rows = %d, want 1", len(sources))
	}
	if second.SourceCount != 1 {
		t.Errorf("source count = %d, want 1", second.SourceCount)
	}

	software, err := store.SoftwareFor(ctx, first.ID)
	if err != nil {
		t.Fatalf("SoftwareFor: %v", err)
	}
	if len(software) != 2 {
		t.Errorf("software rows = %d, want 2", len(software))
	}

	tags, err := store.TagsFor(ctx, first.ID)
	if err != nil {
		t.Fatalf("TagsFor: %v", err)
	}
	if len(tags) != 2 {
		t.Errorf("tag rows = %d, want 2", len(tags))
	}
	if len(second.Tags) != 2 || second.Tags[0] != "database" || second.Tags[1] != "prod" {
		t.Errorf("flattened tags = %v", second.Tags)
	}
}

func TestUpsertAssetTwoSourcesConverge(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Now().UTC()

	agent := &DiscoveryRecord{SerialNumber: "SN-300", Hostname: "app-01", OSName: "Windows Server 2022"}
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "a1", agent, seen, 95); err != nil {
		t.Fatalf("agent ingest: %v", err)
	}

	scanner := &DiscoveryRecord{SerialNumber: "SN-300", Location: "DC-West"}
	asset, created, err := resolver.UpsertAsset(ctx, 1, "network-scan", "s1", scanner, seen.Add(time.Minute), 70)
	if err != nil {
		t.Fatalf("scan ingest: %v", err)
	}
	if created {
		t.Error("shared serial must resolve to the existing asset")
	}
	if asset.SourceCount != 2 {
		t.Errorf("source count = %d, want 2", asset.SourceCount)
	}
	// The weaker source still fills fields nobody owns yet.
	if asset.Location != "DC-West" {
		t.Errorf("location = %q, want DC-West", asset.Location)
	}
	if asset.OSName != "Windows Server 2022" {
		t.Errorf("os name lost: %q", asset.OSName)
	}

	count, err := store.AssetCount(ctx, 1)
	if err != nil {
		t.Fatalf("AssetCount: %v", err)
	}
	if count != 1 {
		t.Errorf("asset count = %d, want 1", count)
	}
}

func TestArbitrationWeakerSourceCannotOverwrite(t *testing.T) {
	_, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Now().UTC()

	// Strong source: identity avg (97+85)/2 = 91, blended with conf 95 -> 92.
	strong := &DiscoveryRecord{SerialNumber: "SN-400", Hostname: "core-01", Vendor: "Cisco", Status: "up"}
	if _, _, err := resolver.UpsertAsset(ctx, 1, "strong-scan", "k1", strong, seen, 95); err != nil {
		t.Fatalf("strong ingest: %v", err)
	}

	// Weaker source: same identities, conf 85 -> strength 88. Vendor must hold
	// (88 < 92), but the status flip lands thanks to the liveness tolerance
	// (88 + 5 >= 92).
	weak := &DiscoveryRecord{SerialNumber: "SN-400", Hostname: "core-01", Vendor: "Unknown Inc", Status: "down"}
	asset, _, err := resolver.UpsertAsset(ctx, 1, "weak-scan", "k2", weak, seen.Add(time.Minute), 85)
	if err != nil {
		t.Fatalf("weak ingest: %v", err)
	}
	if asset.Vendor != "Cisco" {
		t.Errorf("vendor = %q, weaker source must not overwrite", asset.Vendor)
	}
	if asset.Status != "inactive" {
		t.Errorf("status = %q, liveness flip should land", asset.Status)
	}

	// A stronger reading takes the field back.
	strong2 := &DiscoveryRecord{SerialNumber: "SN-400", Hostname: "core-01", Vendor: "Cisco Systems"}
	asset, _, err = resolver.UpsertAsset(ctx, 1, "strong-scan", "k1", strong2, seen.Add(2*time.Minute), 95)
	if err != nil {
		t.Fatalf("strong re-ingest: %v", err)
	}
	if asset.Vendor != "Cisco Systems" {
		t.Errorf("vendor = %q, equal strength must overwrite", asset.Vendor)
	}
}

func TestMergeDuplicatesReparentsChildren(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Now().UTC()

	// Two sightings with disjoint identities create two assets.
	byHost := &DiscoveryRecord{
		Hostname: "edge-01",
		Vendor:   "Fortinet",
		Software: []any{"fortios"},
		Tags:     []any{"edge"},
	}
	a1, _, err := resolver.UpsertAsset(ctx, 1, "dns-scan", "d1", byHost, seen, 80)
	if err != nil {
		t.Fatalf("hostname ingest: %v", err)
	}

	byMAC := &DiscoveryRecord{PrimaryMAC: "00:11:22:33:44:55", Model: "FG-100F"}
	a2, _, err := resolver.UpsertAsset(ctx, 1, "arp-scan", "a1", byMAC, seen, 80)
	if err != nil {
		t.Fatalf("mac ingest: %v", err)
	}
	if a1.ID == a2.ID {
		t.Fatal("disjoint identities must create separate assets")
	}
	if n, _ := store.AssetCount(ctx, 1); n != 2 {
		t.Fatalf("asset count = %d, want 2 before merge", n)
	}

	// A record carrying both identities proves they are one device.
	bridge := &DiscoveryRecord{Hostname: "edge-01", PrimaryMAC: "00:11:22:33:44:55"}
	merged, created, err := resolver.UpsertAsset(ctx, 1, "agent", "b1", bridge, seen.Add(time.Minute), 90)
	if err != nil {
		t.Fatalf("bridge ingest: %v", err)
	}
	if created {
		t.Error("bridge record must not create a new asset")
	}

	if n, _ := store.AssetCount(ctx, 1); n != 1 {
		t.Fatalf("asset count = %d, want 1 after merge", n)
	}

	// Fields from both survivors land on the merged record.
	if merged.Vendor != "Fortinet" {
		t.Errorf("vendor lost in merge: %q", merged.Vendor)
	}
	if merged.Model != "FG-100F" {
		t.Errorf("model lost in merge: %q", merged.Model)
	}

	identities, err := store.IdentitiesFor(ctx, merged.ID)
	if err != nil {
		t.Fatalf("IdentitiesFor: %v", err)
	}
	types := map[string]bool{}
	for _, ident := range identities {
		types[ident.Type] = true
	}
	if !types["hostname"] || !types["mac"] {
		t.Errorf("identities not re-parented: %+v", identities)
	}

	software, err := store.SoftwareFor(ctx, merged.ID)
	if err != nil {
		t.Fatalf("SoftwareFor: %v", err)
	}
	if len(software) != 1 || software[0].Name != "fortios" {
		t.Errorf("software not re-parented: %+v", software)
	}

	tagRows, err := store.TagsFor(ctx, merged.ID)
	if err != nil {
		t.Fatalf("TagsFor: %v", err)
	}
	found := false
	for _, tag := range tagRows {
		if tag.Value == "edge" {
			found = true
		}
	}
	if !found {
		t.Errorf("tag rows not re-parented: %+v", tagRows)
	}

	sources, err := store.SourcesFor(ctx, merged.ID)
	if err != nil {
		t.Fatalf("SourcesFor: %v", err)
	}
	if len(sources) != 3 {
		t.Errorf("source rows = %d, want 3", len(sources))
	}
	if merged.SourceCount != 3 {
		t.Errorf("source count = %d, want 3", merged.SourceCount)
	}
}

func TestUpsertAssetHardwareProfile(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()

	rec := &DiscoveryRecord{
		SerialNumber: "SN-500",
		Vendor:       "Dell",
		Hardware: map[string]any{
			"cpu_model": "Xeon Gold 6338",
			"cpu_cores": 32.0,
			"memory":    "256 GB",
			"storage":   "2 TB",
		},
	}
	asset, _, err := resolver.UpsertAsset(ctx, 1, "agent", "h1", rec, time.Now().UTC(), 90)
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	hw, err := store.HardwareFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("HardwareFor: %v", err)
	}
	if hw == nil {
		t.Fatal("hardware profile missing")
	}
	if hw.CPUModel != "Xeon Gold 6338" || hw.Manufacturer != "Dell" {
		t.Errorf("hardware strings: %+v", hw)
	}
	if hw.CPUCores == nil || *hw.CPUCores != 32 {
		t.Errorf("cpu cores = %v", hw.CPUCores)
	}
	if hw.MemoryMB == nil || *hw.MemoryMB != 256*1024 {
		t.Errorf("memory mb = %v", hw.MemoryMB)
	}
	if hw.StorageMB == nil || *hw.StorageMB != 2*1024*1024 {
		t.Errorf("storage mb = %v", hw.StorageMB)
	}
}

func TestUpsertAssetInterfaces(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()

	rec := &DiscoveryRecord{
		SerialNumber: "SN-600",
		NetworkInterfaces: []map[string]any{
			{"name": "eth0", "mac": "AA:BB:CC:00:11:22", "ip": "10.0.0.9", "is_primary": true},
			{"interface": "eth1", "mac_address": "AA:BB:CC:00:11:23", "ip_address": "10.0.1.9"},
		},
	}
	asset, _, err := resolver.UpsertAsset(ctx, 1, "agent", "n1", rec, time.Now().UTC(), 90)
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	nics, err := store.InterfacesFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("InterfacesFor: %v", err)
	}
	if len(nics) != 2 {
		t.Fatalf("nic count = %d, want 2", len(nics))
	}
	if nics[0].Name != "eth0" || !nics[0].IsPrimary || nics[0].MAC != "aa:bb:cc:00:11:22" {
		t.Errorf("eth0 row: %+v", nics[0])
	}
	if nics[1].Name != "eth1" || nics[1].IsPrimary {
		t.Errorf("eth1 row: %+v", nics[1])
	}
}

func TestUpsertAssetPrimaryNICFallback(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()

	rec := &DiscoveryRecord{SerialNumber: "SN-700", PrimaryIP: "10.0.0.7", PrimaryMAC: "aa:bb:cc:dd:ee:01"}
	asset, _, err := resolver.UpsertAsset(ctx, 1, "agent", "p1", rec, time.Now().UTC(), 90)
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	nics, err := store.InterfacesFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("InterfacesFor: %v", err)
	}
	if len(nics) != 1 || nics[0].Name != "primary" || !nics[0].IsPrimary {
		t.Fatalf("nic fallback: %+v", nics)
	}
}

func TestUpsertAssetLifecycleVersioning(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &DiscoveryRecord{
		SerialNumber: "SN-800",
		Lifecycle: map[string]any{
			"stage":        "in_service",
			"owner":        "platform-team",
			"warranty_end": "2028-06-30",
		},
	}
	asset, _, err := resolver.UpsertAsset(ctx, 1, "agent", "l1", rec, seen, 90)
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}

	// The same snapshot does not version; it just refreshes effective_at.
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "l1", rec, seen.Add(time.Hour), 90); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	history, err := store.LifecycleFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("LifecycleFor: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("lifecycle rows = %d, want 1", len(history))
	}
	if history[0].Stage != "in_service" || history[0].WarrantyEnd != "2028-06-30" || !history[0].IsCurrent {
		t.Errorf("lifecycle row: %+v", history[0])
	}

	// A changed snapshot versions: old row kept, new row current.
	rec.Lifecycle["stage"] = "retiring"
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "l1", rec, seen.Add(2*time.Hour), 90); err != nil {
		t.Fatalf("changed ingest: %v", err)
	}
	history, err = store.LifecycleFor(ctx, asset.ID)
	if err != nil {
		t.Fatalf("LifecycleFor: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("lifecycle rows = %d, want 2", len(history))
	}
	var current int
	for _, lc := range history {
		if lc.IsCurrent {
			current++
			if lc.Stage != "retiring" {
				t.Errorf("current stage = %q, want retiring", lc.Stage)
			}
		}
	}
	if current != 1 {
		t.Errorf("current rows = %d, want 1", current)
	}
}

func TestUpsertAssetNoIdentityGetsUUIDKey(t *testing.T) {
	_, resolver := newTestResolver(t)
	ctx := context.Background()

	asset, created, err := resolver.UpsertAsset(ctx, 1, "manual", "m1", &DiscoveryRecord{Vendor: "ACME"}, time.Now().UTC(), 80)
	if err != nil {
		t.Fatalf("UpsertAsset: %v", err)
	}
	if !created {
		t.Error("identity-free record must still create an asset")
	}
	if !strings.HasPrefix(asset.CanonicalKey, "asset:") || len(asset.CanonicalKey) != len("asset:")+32 {
		t.Errorf("canonical key = %q", asset.CanonicalKey)
	}
}

func TestUpsertAssetTenantsAreIsolated(t *testing.T) {
	store, resolver := newTestResolver(t)
	ctx := context.Background()
	seen := time.Now().UTC()

	rec := &DiscoveryRecord{SerialNumber: "SN-SHARED"}
	if _, _, err := resolver.UpsertAsset(ctx, 1, "agent", "t1", rec, seen, 90); err != nil {
		t.Fatalf("tenant 1 ingest: %v", err)
	}
	_, created, err := resolver.UpsertAsset(ctx, 2, "agent", "t1", rec, seen, 90)
	if err != nil {
		t.Fatalf("tenant 2 ingest: %v", err)
	}
	if !created {
		t.Error("the same serial under another tenant is a different asset")
	}
	if n, _ := store.AssetCount(ctx, 1); n != 1 {
		t.Errorf("tenant 1 asset count = %d", n)
	}
	if n, _ := store.AssetCount(ctx, 2); n != 1 {
		t.Errorf("tenant 2 asset count = %d", n)
	}
}
