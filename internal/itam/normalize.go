package itam

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"
)

var (
	ipv4Re   = regexp.MustCompile(`^\d{1,3}(?:\.\d{1,3}){3}$`)
	intRe    = regexp.MustCompile(`-?\d+`)
	numRe    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	bytesRe  = regexp.MustCompile(`\bbytes?\b`)
	nonHexRe = regexp.MustCompile(`[^0-9a-f]`)
)

// NormStr trims surrounding whitespace.
func NormStr(s string) string { return strings.TrimSpace(s) }

// NormLower trims and lowercases.
func NormLower(s string) string { return strings.ToLower(NormStr(s)) }

// NormHostname lowercases and drops a trailing :port.
func NormHostname(s string) string {
	host := NormLower(s)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// NormMAC reduces any MAC spelling to colon-separated lowercase hex pairs.
// Anything that does not hold exactly 12 hex digits normalises to "".
func NormMAC(s string) string {
	hexOnly := nonHexRe.ReplaceAllString(NormLower(s), "")
	if len(hexOnly) != 12 {
		return ""
	}
	parts := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		parts = append(parts, hexOnly[i:i+2])
	}
	return strings.Join(parts, ":")
}

// NormIP canonicalises an IP address, tolerating a host:port shape for IPv4.
// Unparseable input normalises to "".
func NormIP(s string) string {
	v := NormStr(s)
	if v == "" {
		return ""
	}
	if strings.Contains(v, ":") && strings.Contains(v, ".") {
		v = v[:strings.IndexByte(v, ':')]
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return ""
	}
	return addr.String()
}

// MaybeIPFromText returns the canonical IP when the text looks like an IPv4
// address (optionally with :port), else "". Used for asset names that are
// really addresses.
func MaybeIPFromText(s string) string {
	v := NormStr(s)
	if v == "" {
		return ""
	}
	if strings.Contains(v, ":") && strings.Contains(v, ".") {
		v = v[:strings.IndexByte(v, ':')]
	}
	if !ipv4Re.MatchString(v) {
		return ""
	}
	return NormIP(v)
}

// ClassifyAsset derives the asset type from source and OS hints.
func ClassifyAsset(rec *DiscoveryRecord) string {
	source := NormLower(rec.SourceName)
	hint := NormLower(rec.AssetTypeHint)
	template := NormLower(rec.Template)
	osName := NormLower(rec.OSName)
	if osName == "" {
		osName = NormLower(rec.OS)
	}

	if strings.Contains(source, "cloud") || NormStr(rec.CloudInstanceID) != "" {
		return "cloud_asset"
	}
	if strings.Contains(source, "desktop") || hint == "workstation" {
		return "workstation"
	}
	if strings.Contains(source, "ot") || hint == "ot_asset" || hint == "ot_device" {
		return "ot_device"
	}
	if strings.Contains(source, "snmp") || template != "" {
		if strings.Contains(template, "fortigate") || strings.Contains(template, "switch") || strings.Contains(template, "firewall") {
			return "network_device"
		}
	}
	if hint != "" {
		return hint
	}
	if strings.Contains(source, "server") {
		return "server"
	}
	for _, os := range []string{"windows", "linux", "ubuntu", "red hat", "centos", "debian"} {
		if strings.Contains(osName, os) {
			return "server"
		}
	}
	return "unknown"
}

// normalizeStatus folds source status vocabularies onto active/inactive.
func normalizeStatus(s string) string {
	v := NormLower(s)
	switch v {
	case "":
		return "active"
	case "up", "healthy", "active", "online", "running":
		return "active"
	case "down", "inactive", "offline", "unknown":
		return "inactive"
	}
	return v
}

// anyString renders a loosely-typed payload value as a trimmed string.
// JSON numbers come through as float64; integral ones print without the
// decimal point.
func anyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return NormStr(x)
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	}
	return NormStr(fmt.Sprint(v))
}

// toInt extracts the first integer from a loosely-typed value.
func toInt(v any) *int64 {
	switch x := v.(type) {
	case nil, bool:
		return nil
	case float64:
		n := int64(x)
		return &n
	case int:
		n := int64(x)
		return &n
	case int64:
		return &x
	}
	m := intRe.FindString(strings.ReplaceAll(anyString(v), ",", ""))
	if m == "" {
		return nil
	}
	var n int64
	if _, err := fmt.Sscanf(m, "%d", &n); err != nil {
		return nil
	}
	return &n
}

// toMB parses a size into megabytes. Bare numbers are taken as MB already;
// strings may carry tb/gb/kb/bytes units.
func toMB(v any) *int64 {
	switch x := v.(type) {
	case nil, bool:
		return nil
	case float64:
		n := int64(x)
		return &n
	case int:
		n := int64(x)
		return &n
	case int64:
		return &x
	}

	s := strings.ReplaceAll(NormLower(anyString(v)), ",", "")
	if s == "" {
		return nil
	}
	m := numRe.FindString(s)
	if m == "" {
		return nil
	}
	var n float64
	if _, err := fmt.Sscanf(m, "%g", &n); err != nil {
		return nil
	}

	switch {
	case strings.Contains(s, "tb") || strings.Contains(s, "tib"):
		n *= 1024 * 1024
	case strings.Contains(s, "gb") || strings.Contains(s, "gib"):
		n *= 1024
	case strings.Contains(s, "kb") || strings.Contains(s, "kib"):
		n /= 1024
	case bytesRe.MatchString(s):
		n /= 1024 * 1024
	}
	out := int64(n)
	return &out
}

// normDate reduces the date spellings sources use to "YYYY-MM-DD", or ""
// when nothing parses.
func normDate(v any) string {
	s := anyString(v)
	if s == "" {
		return ""
	}
	for _, layout := range []string{"2006-01-02", "2006/01/02", "02-01-2006", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
