package cti

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Source identifies the feed a CTI item was ingested from.
type Source string

const (
	SourceMISP   Source = "MISP"
	SourceNVD    Source = "NVD"
	SourceRSS    Source = "RSS"
	SourceManual Source = "MANUAL"
	SourceOther  Source = "OTHER"
)

// Severity is the normalized severity of a CTI item.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// EnrichmentData holds the output of an enrichment pass over an item.
type EnrichmentData struct {
	MappedTactics       []string `json:"mappedTactics"`
	ProbableTargets     []string `json:"probableTargets"`
	RecommendedControls []string `json:"recommendedControls"`
}

// Item is a normalized threat-intelligence record from any feed.
type Item struct {
	ID             string                 `json:"id,omitempty"`
	Source         Source                 `json:"source"`
	Title          string                 `json:"title"`
	Summary        string                 `json:"summary"`
	CVEIDs         []string               `json:"cveIds"`
	CWEs           []string               `json:"cwes"`
	Actors         []string               `json:"actors"`
	Sector         []string               `json:"sector"`
	Regions        []string               `json:"regions"`
	References     []string               `json:"references"`
	Severity       Severity               `json:"severity"`
	PublishedAt    *time.Time             `json:"publishedAt,omitempty"`
	IngestedAt     time.Time              `json:"ingestedAt,omitempty"`
	Enriched       bool                   `json:"enriched"`
	EnrichmentData EnrichmentData         `json:"enrichmentData"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

var (
	cveRegex = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)
	cweRegex = regexp.MustCompile(`(?i)CWE-\d+`)
)

// ExtractCVEs scans free text for CVE identifiers. Results are upper-cased
// and deduplicated, preserving first-occurrence order.
func ExtractCVEs(text string) []string {
	return NormalizeCVEs(cveRegex.FindAllString(text, -1))
}

// NormalizeCVEs upper-cases, validates, and deduplicates a list of CVE IDs.
// Values that do not look like CVE identifiers are dropped.
func NormalizeCVEs(ids []string) []string {
	return normalizeIDs(ids, cveRegex)
}

// NormalizeCWEs upper-cases, validates, and deduplicates a list of CWE IDs.
func NormalizeCWEs(ids []string) []string {
	return normalizeIDs(ids, cweRegex)
}

func normalizeIDs(ids []string, pattern *regexp.Regexp) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || !pattern.MatchString(id) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// DedupeStrings removes duplicates and empty values, preserving order.
func DedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Normalize brings an item into canonical form: trimmed text, validated
// identifier sets, and defaults applied for source and severity.
func (it *Item) Normalize() {
	if it.Source == "" {
		it.Source = SourceOther
	}
	it.Title = strings.TrimSpace(it.Title)
	it.Summary = strings.TrimSpace(it.Summary)
	it.CVEIDs = NormalizeCVEs(it.CVEIDs)
	it.CWEs = NormalizeCWEs(it.CWEs)
	it.Actors = DedupeStrings(it.Actors)
	it.Sector = DedupeStrings(it.Sector)
	it.Regions = DedupeStrings(it.Regions)
	it.References = DedupeStrings(it.References)
	switch it.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		it.Severity = SeverityMedium
	}
}

// Hash returns a stable digest over source, title, and the sorted CVE set.
// Items with the same hash are considered duplicates by the dedup cache.
func (it *Item) Hash() string {
	cves := NormalizeCVEs(it.CVEIDs)
	sort.Strings(cves)
	key := string(it.Source) + "|" + it.Title + "|" + strings.Join(cves, ",")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
