package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/c4a/ctiwatch/internal/cti"
)

// DefaultNVDBaseURL is the NVD CVE API v2.0 endpoint.
const DefaultNVDBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// NVD rate limits: 5 requests per rolling 30s window without an API key,
// 50 with one. Enforced proactively by spacing requests.
const (
	nvdDelayNoKey   = 6 * time.Second
	nvdDelayWithKey = 600 * time.Millisecond
)

var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// NVDConfig holds configuration for the NVD adapter.
type NVDConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NVDAdapter pulls CVEs by publication date window from the NVD API,
// self-throttling to the documented rate limits.
type NVDAdapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Logger

	mu          sync.Mutex
	lastRequest time.Time
	delay       time.Duration
}

// NVD API v2.0 wire types (subset).

type nvdResponse struct {
	Vulnerabilities []nvdVulnerability `json:"vulnerabilities"`
}

type nvdVulnerability struct {
	CVE nvdCVE `json:"cve"`
}

type nvdCVE struct {
	ID           string         `json:"id"`
	Published    string         `json:"published"`
	LastModified string         `json:"lastModified"`
	Descriptions []nvdText      `json:"descriptions"`
	Metrics      nvdMetrics     `json:"metrics"`
	Weaknesses   []nvdWeakness  `json:"weaknesses"`
	References   []nvdReference `json:"references"`
}

type nvdText struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type nvdMetrics struct {
	CVSSMetricV31 []nvdCVSSMetric `json:"cvssMetricV31"`
	CVSSMetricV30 []nvdCVSSMetric `json:"cvssMetricV30"`
	CVSSMetricV2  []nvdCVSSMetric `json:"cvssMetricV2"`
}

type nvdCVSSMetric struct {
	CVSSData nvdCVSSData `json:"cvssData"`
}

type nvdCVSSData struct {
	BaseScore float64 `json:"baseScore"`
}

type nvdWeakness struct {
	Description []nvdText `json:"description"`
}

type nvdReference struct {
	URL string `json:"url"`
}

// NewNVDAdapter creates an NVD adapter. The API key is optional; having one
// only raises the allowed request rate.
func NewNVDAdapter(config NVDConfig, logger *log.Logger) *NVDAdapter {
	if config.BaseURL == "" {
		config.BaseURL = DefaultNVDBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	delay := nvdDelayNoKey
	if config.APIKey != "" {
		delay = nvdDelayWithKey
	}

	return &NVDAdapter{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
		delay:      delay,
	}
}

// Source implements Adapter.
func (a *NVDAdapter) Source() cti.Source {
	return cti.SourceNVD
}

// waitForRateLimit sleeps out the remainder of the spacing window before a
// request. The wait is cancellable; holding the mutex across the sleep
// serializes NVD requests, which is exactly what the rate limit wants.
func (a *NVDAdapter) waitForRateLimit(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if wait := a.delay - time.Since(a.lastRequest); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	a.lastRequest = time.Now()
	return nil
}

// Fetch queries CVEs published inside the window. A non-200 response or a
// body without vulnerabilities yields an empty result, not an error: bulk
// polling tolerates NVD hiccups.
func (a *NVDAdapter) Fetch(ctx context.Context, opts FetchOptions) ([]cti.Item, error) {
	since, until := defaultWindow(opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 2000 {
		limit = 2000
	}

	params := url.Values{}
	params.Set("pubStartDate", since.UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("pubEndDate", until.UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("resultsPerPage", strconv.Itoa(limit))
	params.Set("startIndex", "0")

	parsed, err := a.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if parsed == nil {
		return []cti.Item{}, nil
	}

	items := make([]cti.Item, 0, len(parsed.Vulnerabilities))
	for _, vuln := range parsed.Vulnerabilities {
		items = append(items, a.normalizeCVE(vuln.CVE))
	}
	a.logger.Printf("Fetched %d CVE(s) from NVD", len(items))
	return items, nil
}

// FetchCVE looks up a single CVE by ID. A missing CVE returns (nil, nil).
func (a *NVDAdapter) FetchCVE(ctx context.Context, cveID string) (*cti.Item, error) {
	cveID = strings.ToUpper(strings.TrimSpace(cveID))
	if !cveIDPattern.MatchString(cveID) {
		return nil, fmt.Errorf("invalid CVE ID: %q", cveID)
	}

	params := url.Values{}
	params.Set("cveId", cveID)

	parsed, err := a.query(ctx, params)
	if err != nil {
		return nil, err
	}
	if parsed == nil || len(parsed.Vulnerabilities) == 0 {
		return nil, nil
	}

	item := a.normalizeCVE(parsed.Vulnerabilities[0].CVE)
	return &item, nil
}

// Probe fetches a single recent CVE to confirm reachability.
func (a *NVDAdapter) Probe(ctx context.Context) error {
	params := url.Values{}
	params.Set("pubStartDate", time.Now().Add(-24*time.Hour).UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("pubEndDate", time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("resultsPerPage", "1")

	if err := a.waitForRateLimit(ctx); err != nil {
		return err
	}
	resp, err := a.get(ctx, params)
	if err != nil {
		return fmt.Errorf("NVD probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("NVD probe returned status %d", resp.StatusCode)
	}
	return nil
}

// query performs a throttled GET and decodes the response. It returns nil
// (no error) for non-200 responses and bodies missing vulnerabilities.
func (a *NVDAdapter) query(ctx context.Context, params url.Values) (*nvdResponse, error) {
	if err := a.waitForRateLimit(ctx); err != nil {
		return nil, err
	}

	resp, err := a.get(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("NVD request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.logger.Printf("Unexpected NVD status %d", resp.StatusCode)
		return nil, nil
	}

	var parsed nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		a.logger.Printf("Malformed NVD body: %v", err)
		return nil, nil
	}
	if parsed.Vulnerabilities == nil {
		return nil, nil
	}
	return &parsed, nil
}

func (a *NVDAdapter) get(ctx context.Context, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ctiwatch-nvd/1.0")
	if a.apiKey != "" {
		req.Header.Set("apiKey", a.apiKey)
	}
	return a.httpClient.Do(req)
}

// normalizeCVE maps an NVD CVE record onto the common item shape.
func (a *NVDAdapter) normalizeCVE(cve nvdCVE) cti.Item {
	var description string
	for _, text := range cve.Descriptions {
		if text.Lang == "en" && text.Value != "" {
			description = text.Value
			break
		}
	}

	title := cve.ID
	if description != "" {
		snippet := description
		if len(snippet) > 100 {
			snippet = snippet[:100] + "..."
		}
		title = fmt.Sprintf("%s: %s", cve.ID, snippet)
	}

	var cwes []string
	for _, weakness := range cve.Weaknesses {
		for _, text := range weakness.Description {
			if text.Value != "" {
				cwes = append(cwes, text.Value)
			}
		}
	}

	var references []string
	for _, ref := range cve.References {
		if ref.URL != "" {
			references = append(references, ref.URL)
		}
	}

	severity, score, version := severityFromCVSS(cve.Metrics)

	item := cti.Item{
		Source:     cti.SourceNVD,
		Title:      title,
		Summary:    description,
		CVEIDs:     []string{cve.ID},
		CWEs:       cwes,
		References: references,
		Severity:   severity,
		Metadata: map[string]interface{}{
			"nvd_id": cve.ID,
		},
	}
	if version != "" {
		item.Metadata["cvss_score"] = score
		item.Metadata["cvss_version"] = version
	}
	if cve.LastModified != "" {
		item.Metadata["last_modified"] = cve.LastModified
	}

	if published, err := time.Parse("2006-01-02T15:04:05.000", cve.Published); err == nil {
		item.PublishedAt = &published
	} else if published, err := time.Parse(time.RFC3339, cve.Published); err == nil {
		item.PublishedAt = &published
	}

	item.Normalize()
	return item
}

// severityFromCVSS derives severity from the best available metric set,
// preferring CVSS v3.1 over v3.0 over v2.0. The v2 scale has no CRITICAL
// tier, so a v2-only score caps at HIGH.
func severityFromCVSS(metrics nvdMetrics) (cti.Severity, float64, string) {
	switch {
	case len(metrics.CVSSMetricV31) > 0:
		score := metrics.CVSSMetricV31[0].CVSSData.BaseScore
		return severityFromV3Score(score), score, "3.1"
	case len(metrics.CVSSMetricV30) > 0:
		score := metrics.CVSSMetricV30[0].CVSSData.BaseScore
		return severityFromV3Score(score), score, "3.0"
	case len(metrics.CVSSMetricV2) > 0:
		score := metrics.CVSSMetricV2[0].CVSSData.BaseScore
		switch {
		case score >= 7.0:
			return cti.SeverityHigh, score, "2.0"
		case score >= 4.0:
			return cti.SeverityMedium, score, "2.0"
		default:
			return cti.SeverityLow, score, "2.0"
		}
	}
	return cti.SeverityMedium, 0, ""
}

func severityFromV3Score(score float64) cti.Severity {
	switch {
	case score >= 9.0:
		return cti.SeverityCritical
	case score >= 7.0:
		return cti.SeverityHigh
	case score >= 4.0:
		return cti.SeverityMedium
	default:
		return cti.SeverityLow
	}
}
