package feeds

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c4a/ctiwatch/internal/cti"
)

// MISPConfig holds configuration for the MISP adapter.
type MISPConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	VerifyTLS bool
}

// MISPAdapter pulls published events from a MISP instance and normalizes
// their attributes and tags into CTI items.
type MISPAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Logger
}

// MISP wire types (events/restSearch response subset).

type mispEventResponse struct {
	Response []mispEventWrapper `json:"response"`
}

type mispEventWrapper struct {
	Event mispEvent `json:"Event"`
}

type mispEvent struct {
	ID            string          `json:"id"`
	UUID          string          `json:"uuid"`
	Info          string          `json:"info"`
	Date          string          `json:"date"`
	ThreatLevelID string          `json:"threat_level_id"`
	Published     bool            `json:"published"`
	Orgc          *mispOrg        `json:"Orgc,omitempty"`
	Attributes    []mispAttribute `json:"Attribute,omitempty"`
	Tags          []mispTag       `json:"Tag,omitempty"`
}

type mispOrg struct {
	Name string `json:"name"`
}

type mispAttribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mispTag struct {
	Name string `json:"name"`
}

type mispSearchRequest struct {
	Limit     int    `json:"limit,omitempty"`
	Page      int    `json:"page,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Tags      string `json:"tags,omitempty"`
	Published int    `json:"published"`
}

// NewMISPAdapter creates a MISP adapter. BaseURL and APIKey are required.
func NewMISPAdapter(config MISPConfig, logger *log.Logger) (*MISPAdapter, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("MISP base URL is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("MISP API key is required")
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	tr := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
	}
	if !config.VerifyTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &MISPAdapter{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: tr,
		},
		logger: logger,
	}, nil
}

// Source implements Adapter.
func (a *MISPAdapter) Source() cti.Source {
	return cti.SourceMISP
}

// Fetch queries published MISP events in the requested window. An
// unreachable instance or a malformed body is an error; the orchestrator
// isolates it per source.
func (a *MISPAdapter) Fetch(ctx context.Context, opts FetchOptions) ([]cti.Item, error) {
	since, _ := defaultWindow(opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	reqBody := mispSearchRequest{
		Limit:     limit,
		Page:      1,
		Timestamp: since.Unix(),
		Published: 1,
	}
	if len(opts.Tags) > 0 {
		reqBody.Tags = strings.Join(opts.Tags, "||")
	}

	resp, err := a.request(ctx, http.MethodPost, "/events/restSearch", reqBody)
	if err != nil {
		return nil, fmt.Errorf("MISP fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("MISP returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed mispEventResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("MISP returned malformed body: %w", err)
	}

	items := make([]cti.Item, 0, len(parsed.Response))
	for _, wrapper := range parsed.Response {
		items = append(items, a.normalizeEvent(wrapper.Event))
	}
	a.logger.Printf("Fetched %d event(s) from MISP", len(items))
	return items, nil
}

// Probe checks the API key against /users/view/me. It never panics; any
// connectivity or auth problem is reported as an error.
func (a *MISPAdapter) Probe(ctx context.Context) error {
	resp, err := a.request(ctx, http.MethodGet, "/users/view/me", nil)
	if err != nil {
		return fmt.Errorf("MISP probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("MISP rejected the API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("MISP probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *MISPAdapter) request(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ctiwatch-misp/1.0")

	return a.httpClient.Do(req)
}

// normalizeEvent maps a MISP event onto the common item shape: attribute
// values by type, tag values by prefix convention, severity from the
// event's threat level.
func (a *MISPAdapter) normalizeEvent(event mispEvent) cti.Item {
	item := cti.Item{
		Source:  cti.SourceMISP,
		Title:   event.Info,
		Summary: event.Info,
		Metadata: map[string]interface{}{
			"misp_event_id":   event.ID,
			"misp_uuid":       event.UUID,
			"threat_level_id": event.ThreatLevelID,
		},
	}
	if item.Title == "" {
		item.Title = "Untitled MISP event"
	}
	if event.Orgc != nil && event.Orgc.Name != "" {
		item.Metadata["org"] = event.Orgc.Name
	}

	for _, attr := range event.Attributes {
		if attr.Value == "" {
			continue
		}
		switch attr.Type {
		case "vulnerability", "cve":
			item.CVEIDs = append(item.CVEIDs, attr.Value)
		case "weakness":
			item.CWEs = append(item.CWEs, attr.Value)
		case "threat-actor":
			item.Actors = append(item.Actors, attr.Value)
		case "target-sector":
			item.Sector = append(item.Sector, attr.Value)
		case "target-location":
			item.Regions = append(item.Regions, attr.Value)
		case "link", "external-link":
			item.References = append(item.References, attr.Value)
		}
	}

	for _, tag := range event.Tags {
		name := strings.ToLower(tag.Name)
		switch {
		case strings.HasPrefix(name, "cve:"):
			item.CVEIDs = append(item.CVEIDs, strings.TrimPrefix(name, "cve:"))
		case strings.HasPrefix(name, "actor:"):
			item.Actors = append(item.Actors, strings.TrimPrefix(name, "actor:"))
		case strings.HasPrefix(name, "sector:"):
			item.Sector = append(item.Sector, strings.TrimPrefix(name, "sector:"))
		case strings.HasPrefix(name, "region:"):
			item.Regions = append(item.Regions, strings.TrimPrefix(name, "region:"))
		}
	}

	item.Severity = severityFromThreatLevel(event.ThreatLevelID)

	if event.Date != "" {
		if published, err := time.Parse("2006-01-02", event.Date); err == nil {
			item.PublishedAt = &published
		}
	}

	item.Normalize()
	return item
}

// severityFromThreatLevel maps MISP threat_level_id to severity:
// 1 is the highest level in MISP.
func severityFromThreatLevel(threatLevelID string) cti.Severity {
	level, err := strconv.Atoi(threatLevelID)
	if err != nil {
		level = 3
	}
	switch level {
	case 1:
		return cti.SeverityCritical
	case 2:
		return cti.SeverityHigh
	case 3:
		return cti.SeverityMedium
	default:
		return cti.SeverityLow
	}
}
