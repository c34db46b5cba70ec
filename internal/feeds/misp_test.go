package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4a/ctiwatch/internal/cti"
)

func newMockMISPServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/users/view/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-api-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"User": map[string]interface{}{"id": "1", "email": "analyst@example.com"},
		})
	})

	mux.HandleFunc("/events/restSearch", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "test-api-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		response := mispEventResponse{
			Response: []mispEventWrapper{
				{Event: mispEvent{
					ID:            "101",
					UUID:          "550e8400-e29b-41d4-a716-446655440000",
					Info:          "Log4Shell exploitation campaign",
					Date:          "2024-03-15",
					ThreatLevelID: "1",
					Published:     true,
					Orgc:          &mispOrg{Name: "CIRCL"},
					Attributes: []mispAttribute{
						{Type: "vulnerability", Value: "cve-2021-44228"},
						{Type: "cve", Value: "CVE-2021-45046"},
						{Type: "weakness", Value: "cwe-502"},
						{Type: "threat-actor", Value: "APT-MOCK"},
						{Type: "target-sector", Value: "finance"},
						{Type: "target-location", Value: "EU"},
						{Type: "link", Value: "https://example.com/report"},
						{Type: "ip-dst", Value: "203.0.113.7"},
					},
					Tags: []mispTag{
						{Name: "cve:CVE-2021-44228"},
						{Name: "actor:wizard-spider"},
						{Name: "sector:healthcare"},
						{Name: "region:latam"},
						{Name: "tlp:white"},
					},
				}},
				{Event: mispEvent{
					ID:            "102",
					Info:          "",
					ThreatLevelID: "4",
					Published:     true,
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestMISPAdapter(t *testing.T, baseURL string) *MISPAdapter {
	t.Helper()
	adapter, err := NewMISPAdapter(MISPConfig{
		BaseURL:   baseURL,
		APIKey:    "test-api-key",
		Timeout:   5 * time.Second,
		VerifyTLS: true,
	}, nil)
	require.NoError(t, err)
	return adapter
}

func TestNewMISPAdapterValidation(t *testing.T) {
	_, err := NewMISPAdapter(MISPConfig{APIKey: "k"}, nil)
	assert.Error(t, err)

	_, err = NewMISPAdapter(MISPConfig{BaseURL: "https://misp.example.com"}, nil)
	assert.Error(t, err)
}

func TestMISPFetchNormalization(t *testing.T) {
	srv := newMockMISPServer(t)
	adapter := newTestMISPAdapter(t, srv.URL)

	items, err := adapter.Fetch(context.Background(), FetchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)

	item := items[0]
	assert.Equal(t, cti.SourceMISP, item.Source)
	assert.Equal(t, "Log4Shell exploitation campaign", item.Title)
	assert.Equal(t, cti.SeverityCritical, item.Severity, "threat_level_id 1 maps to CRITICAL")
	assert.ElementsMatch(t, []string{"CVE-2021-44228", "CVE-2021-45046"}, item.CVEIDs,
		"attribute and tag CVEs merged, upper-cased, deduplicated")
	assert.Equal(t, []string{"CWE-502"}, item.CWEs)
	assert.ElementsMatch(t, []string{"APT-MOCK", "wizard-spider"}, item.Actors)
	assert.ElementsMatch(t, []string{"finance", "healthcare"}, item.Sector)
	assert.ElementsMatch(t, []string{"EU", "latam"}, item.Regions)
	assert.Equal(t, []string{"https://example.com/report"}, item.References)
	require.NotNil(t, item.PublishedAt)
	assert.Equal(t, 2024, item.PublishedAt.Year())
	assert.Equal(t, "CIRCL", item.Metadata["org"])

	// Second event: no title, undefined threat level.
	assert.Equal(t, "Untitled MISP event", items[1].Title)
	assert.Equal(t, cti.SeverityLow, items[1].Severity)
	assert.Nil(t, items[1].PublishedAt)
}

func TestMISPFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := newTestMISPAdapter(t, srv.URL)
	_, err := adapter.Fetch(context.Background(), FetchOptions{})
	assert.Error(t, err)
}

func TestMISPFetchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	adapter := newTestMISPAdapter(t, srv.URL)
	_, err := adapter.Fetch(context.Background(), FetchOptions{})
	assert.Error(t, err)
}

func TestMISPProbe(t *testing.T) {
	srv := newMockMISPServer(t)

	adapter := newTestMISPAdapter(t, srv.URL)
	assert.NoError(t, adapter.Probe(context.Background()))

	bad, err := NewMISPAdapter(MISPConfig{BaseURL: srv.URL, APIKey: "wrong-key"}, nil)
	require.NoError(t, err)
	assert.Error(t, bad.Probe(context.Background()))
}

func TestSeverityFromThreatLevel(t *testing.T) {
	cases := []struct {
		level string
		want  cti.Severity
	}{
		{"1", cti.SeverityCritical},
		{"2", cti.SeverityHigh},
		{"3", cti.SeverityMedium},
		{"4", cti.SeverityLow},
		{"garbage", cti.SeverityMedium},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, severityFromThreatLevel(tc.level), "level %s", tc.level)
	}
}
