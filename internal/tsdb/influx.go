package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/autointelli/unified360-go/internal/rules"
)

// InfluxClient runs InfluxQL queries against a v1 /query endpoint. The
// collectors (telegraf net_response, http_response, ping, snmp, fortigate)
// all write into InfluxDB v1, so only the GET query contract is needed here.
type InfluxClient struct {
	queryURL string
	database string
	client   *http.Client
}

// NewInfluxClient builds a client. baseURL may be the server root or the
// full /query endpoint.
func NewInfluxClient(baseURL, database string, timeout time.Duration) *InfluxClient {
	u := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(u, "/query") {
		u += "/query"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InfluxClient{
		queryURL: u,
		database: database,
		client:   &http.Client{Timeout: timeout},
	}
}

type influxResponse struct {
	Results []struct {
		Series []struct {
			Name    string            `json:"name"`
			Tags    map[string]string `json:"tags"`
			Columns []string          `json:"columns"`
			Values  [][]any           `json:"values"`
		} `json:"series"`
		Err string `json:"error"`
	} `json:"results"`
	Err string `json:"error"`
}

// Query runs one InfluxQL statement. Each backend series becomes a Series:
// GROUP BY tags land in Labels, the last value row zipped with the columns
// lands in Fields. The "time" column, when parseable, fills At.
func (c *InfluxClient) Query(ctx context.Context, q string) Result {
	body, err := c.fetch(ctx, q)
	if err != nil {
		return Failed(err)
	}
	if len(body.Results) == 0 {
		return Empty()
	}

	var out []Series
	for _, s := range body.Results[0].Series {
		if len(s.Values) == 0 {
			continue
		}
		row := s.Values[len(s.Values)-1]

		fields := rules.Metrics{}
		var at time.Time
		for i, col := range s.Columns {
			if i >= len(row) {
				break
			}
			if col == "time" {
				if ts, ok := row[i].(string); ok {
					if t, err := time.Parse(time.RFC3339, ts); err == nil {
						at = t
					}
				}
				continue
			}
			fields[col] = row[i]
		}

		labels := make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			labels[k] = v
		}
		out = append(out, Series{Labels: labels, Fields: fields, At: at})
	}
	return OK(out)
}

func (c *InfluxClient) fetch(ctx context.Context, q string) (*influxResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL, nil)
	if err != nil {
		return nil, err
	}
	params := url.Values{"db": {c.database}, "q": {q}}
	req.URL.RawQuery = params.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("influx query: unexpected status %d", resp.StatusCode)
	}

	var body influxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("influx query: decode: %w", err)
	}
	if body.Err != "" {
		return nil, fmt.Errorf("influx query: %s", body.Err)
	}
	if len(body.Results) > 0 && body.Results[0].Err != "" {
		return nil, fmt.Errorf("influx query: %s", body.Results[0].Err)
	}
	return &body, nil
}

// LastRow fetches the newest row of a measurement filtered by one tag, the
// shape the port/url/ping collectors write. Status distinguishes a down
// backend from a host that simply never reported.
func (c *InfluxClient) LastRow(ctx context.Context, measurement, whereTag, whereValue string) (rules.Metrics, Status) {
	q := fmt.Sprintf(
		`SELECT * FROM %q WHERE %s = '%s' ORDER BY time DESC LIMIT 1`,
		measurement, whereTag, InfluxEscape(whereValue),
	)
	res := c.Query(ctx, q)
	if res.Status != StatusOK {
		return nil, res.Status
	}
	return res.Series[0].Fields, StatusOK
}

// SNMPLastSeen maps each SNMP hostname to its last reporting time.
func (c *InfluxClient) SNMPLastSeen(ctx context.Context) (map[string]time.Time, error) {
	res := c.Query(ctx, `SELECT last(sysUpTime) FROM "snmpdevice" GROUP BY "hostname"`)
	if res.Status == StatusError {
		return nil, res.Err
	}
	return lastSeenByTag(res, "hostname"), nil
}

// IDRACLastSeen maps each iDRAC agent host to its last reporting time.
func (c *InfluxClient) IDRACLastSeen(ctx context.Context) (map[string]time.Time, error) {
	res := c.Query(ctx, `SELECT last("system-uptime") FROM "idrac-hosts" GROUP BY "agent_host"`)
	if res.Status == StatusError {
		return nil, res.Err
	}
	return lastSeenByTag(res, "agent_host"), nil
}

// ILOLastSeen lists the iLO hosts seen in the last 24h. DISTINCT carries no
// real timestamp, so anything inside the window counts as seen now.
func (c *InfluxClient) ILOLastSeen(ctx context.Context) (map[string]time.Time, error) {
	q := `SELECT DISTINCT("agent_host") FROM (SELECT * FROM "ilo_snmp" WHERE time >= now() - 24h)`
	body, err := c.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	seen := map[string]time.Time{}
	if len(body.Results) == 0 {
		return seen, nil
	}
	for _, s := range body.Results[0].Series {
		for _, row := range s.Values {
			// row format: [time, "<agent_host>"]
			if len(row) < 2 {
				continue
			}
			if host, ok := row[1].(string); ok && host != "" {
				seen[host] = now
			}
		}
	}
	return seen, nil
}

func lastSeenByTag(res Result, tag string) map[string]time.Time {
	seen := make(map[string]time.Time, len(res.Series))
	for _, s := range res.Series {
		host := s.Labels[tag]
		if host == "" || s.At.IsZero() {
			continue
		}
		seen[host] = s.At
	}
	return seen
}

// InfluxEscape escapes a value for embedding in a single-quoted InfluxQL
// string literal.
func InfluxEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
