// Package enrich derives MITRE tactic mappings, probable targets, and
// recommended controls for CTI items. The static enricher applies a
// built-in knowledge table; the ollama enricher asks a local LLM and is
// optional.
package enrich

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/c4a/ctiwatch/internal/cti"
)

// Enricher produces enrichment data for a CTI item.
type Enricher interface {
	EnrichItem(ctx context.Context, item cti.Item) (cti.EnrichmentData, error)
}

// Config selects and configures an enricher.
type Config struct {
	Provider string // "static" (default) or "ollama"
	Endpoint string
	Model    string
}

// Build constructs an Enricher from config. Returns an error for unknown
// providers; callers should handle the error.
func Build(cfg Config, logger *log.Logger) (Enricher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "static":
		return NewStaticEnricher(), nil
	case "ollama":
		return NewOllamaEnricher(cfg.Endpoint, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("unknown enrichment provider: %s", cfg.Provider)
	}
}

// Known CVE-to-weakness and weakness-to-tactic mappings. Small by intent:
// entries are added as campaigns are analyzed, not scraped wholesale.
var (
	cveToCWEs = map[string][]string{
		"CVE-2021-44228": {"CWE-502"},
		"CVE-2021-45046": {"CWE-502"},
	}

	cweToTactics = map[string][]string{
		"CWE-79":  {"T1059.001", "T1059.003"},
		"CWE-502": {"T1190", "T1055"},
		"CWE-89":  {"T1190", "T1055"},
	}
)

// StaticEnricher enriches items from built-in mapping tables. It never
// fails and needs no network.
type StaticEnricher struct{}

// NewStaticEnricher creates a static enricher.
func NewStaticEnricher() *StaticEnricher {
	return &StaticEnricher{}
}

// EnrichItem maps the item's CVEs to weaknesses, weaknesses to tactics,
// and sectors to probable targets.
func (e *StaticEnricher) EnrichItem(_ context.Context, item cti.Item) (cti.EnrichmentData, error) {
	cwes := append([]string(nil), item.CWEs...)
	for _, cve := range item.CVEIDs {
		cwes = append(cwes, cveToCWEs[strings.ToUpper(cve)]...)
	}
	cwes = cti.NormalizeCWEs(cwes)

	var tactics []string
	for _, cwe := range cwes {
		tactics = append(tactics, cweToTactics[cwe]...)
	}

	var controls []string
	if len(cwes) > 0 {
		controls = []string{"Apply controls for: " + strings.Join(cwes, ", ")}
	}

	return cti.EnrichmentData{
		MappedTactics:       cti.DedupeStrings(tactics),
		ProbableTargets:     cti.DedupeStrings(item.Sector),
		RecommendedControls: controls,
	}, nil
}
