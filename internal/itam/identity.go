package itam

import "sort"

// identityWeights rank how strongly each identity type pins down a physical
// asset. Unlisted types fall back to 60 so a scan source can introduce new
// handles without breaking scoring.
var identityWeights = map[string]int{
	"agent_id":          100,
	"cloud_instance_id": 99,
	"serial_number":     98,
	"device_uuid":       97,
	"mac":               95,
	"ip":                86,
	"hostname":          82,
}

const defaultIdentityWeight = 60

func weightFor(identityType string) int {
	if w, ok := identityWeights[identityType]; ok {
		return w
	}
	return defaultIdentityWeight
}

// Candidate is one identity handle extracted from a discovery record,
// ordered strongest first. At most one candidate is primary.
type Candidate struct {
	Type       string
	Value      string
	Confidence int
	Primary    bool
}

// Candidates extracts and normalises every identity the record carries. The
// primary flag cascades down: the strongest identity present wins it.
func Candidates(rec *DiscoveryRecord) []Candidate {
	agentID := NormStr(rec.AgentID)
	cloudID := NormStr(rec.CloudInstanceID)
	serial := NormStr(rec.SerialNumber)
	deviceUUID := NormStr(rec.DeviceUUID)

	hostSource := rec.Hostname
	if NormStr(hostSource) == "" {
		hostSource = rec.AssetName
	}
	host := NormHostname(hostSource)

	ip := NormIP(rec.PrimaryIP)
	if ip == "" {
		ip = MaybeIPFromText(rec.AssetName)
	}
	mac := NormMAC(rec.PrimaryMAC)

	seen := map[[2]string]bool{}
	var out []Candidate
	add := func(identityType, value string, confidence int, primary bool) {
		v := NormStr(value)
		if v == "" {
			return
		}
		key := [2]string{identityType, v}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Candidate{Type: identityType, Value: v, Confidence: confidence, Primary: primary})
	}

	add("agent_id", agentID, 99, true)
	add("cloud_instance_id", cloudID, 98, agentID == "")
	add("serial_number", serial, 97, agentID == "" && cloudID == "")
	add("device_uuid", deviceUUID, 97, agentID == "" && cloudID == "" && serial == "")
	add("mac", mac, 95, agentID == "" && cloudID == "" && serial == "" && deviceUUID == "")
	add("ip", ip, 88, agentID == "" && cloudID == "" && serial == "" && deviceUUID == "" && mac == "")
	add("hostname", host, 85, agentID == "" && cloudID == "" && serial == "" && deviceUUID == "" && mac == "" && ip == "")
	return out
}

// RecordStrength scores how authoritative one record is for golden-record
// field arbitration: 60% the average of the two strongest identity
// confidences, 40% the source's own confidence, clamped to 1..100.
func RecordStrength(candidates []Candidate, sourceConfidence int) int {
	src := sourceConfidence
	if src == 0 {
		src = 80
	}
	src = clampConfidence(src)
	if len(candidates) == 0 {
		return src
	}

	confs := make([]int, 0, len(candidates))
	for _, c := range candidates {
		conf := c.Confidence
		if conf == 0 {
			conf = 80
		}
		confs = append(confs, conf)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(confs)))
	if len(confs) > 2 {
		confs = confs[:2]
	}
	sum := 0
	for _, c := range confs {
		sum += c
	}
	ids := sum / len(confs)

	return clampConfidence(int(float64(ids)*0.6 + float64(src)*0.4))
}

func clampConfidence(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
