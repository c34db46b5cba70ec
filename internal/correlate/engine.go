// Package correlate matches CTI items against asset inventories and
// turns relevant matches into alerts. Relevance is fingerprint-based:
// assets are scanned for technology keywords and an item is relevant
// when it mentions one of them, with a broad net for critical items.
package correlate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/c4a/ctiwatch/internal/alerts"
	"github.com/c4a/ctiwatch/internal/assets"
	"github.com/c4a/ctiwatch/internal/cti"
	"github.com/c4a/ctiwatch/internal/directory"
	"github.com/c4a/ctiwatch/internal/docstore"
)

// techPatterns fingerprints technologies in asset names, tags, and
// metadata. Keys are the canonical technology names used in alert
// reasons.
var techPatterns = map[string]*regexp.Regexp{
	"apache":     regexp.MustCompile(`(?i)\bapache\b`),
	"nginx":      regexp.MustCompile(`(?i)\bnginx\b`),
	"nodejs":     regexp.MustCompile(`(?i)\bnode(\.?js)?\b`),
	"react":      regexp.MustCompile(`(?i)\breact\b`),
	"angular":    regexp.MustCompile(`(?i)\bangular\b`),
	"vue":        regexp.MustCompile(`(?i)\bvue(\.?js)?\b`),
	"express":    regexp.MustCompile(`(?i)\bexpress\b`),
	"mongodb":    regexp.MustCompile(`(?i)\bmongo(db)?\b`),
	"postgresql": regexp.MustCompile(`(?i)\bpostgres(ql)?\b`),
	"mysql":      regexp.MustCompile(`(?i)\bmysql\b`),
	"redis":      regexp.MustCompile(`(?i)\bredis\b`),
	"docker":     regexp.MustCompile(`(?i)\bdocker\b`),
	"kubernetes": regexp.MustCompile(`(?i)\bkubernetes\b|\bk8s\b`),
	"wordpress":  regexp.MustCompile(`(?i)\bwordpress\b`),
	"drupal":     regexp.MustCompile(`(?i)\bdrupal\b`),
	"php":        regexp.MustCompile(`(?i)\bphp\b`),
	"python":     regexp.MustCompile(`(?i)\bpython\b`),
	"java":       regexp.MustCompile(`(?i)\bjava\b`),
	"spring":     regexp.MustCompile(`(?i)\bspring\b`),
	"dotnet":     regexp.MustCompile(`(?i)\.net\b|\bdotnet\b`),
}

// Summary reports one correlation sweep.
type Summary struct {
	Evaluated       int           `json:"evaluated"`
	AlertsGenerated int           `json:"alertsGenerated"`
	Errors          []string      `json:"errors,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// RecentOptions narrows a CorrelateRecent sweep.
type RecentOptions struct {
	Since *time.Time
	Limit int
}

// Engine correlates CTI items against asset inventories.
type Engine struct {
	items     *cti.Repository
	assets    *assets.Service
	directory *directory.Service
	alerts    *alerts.Service
	logger    *log.Logger
}

// NewEngine creates a correlation engine.
func NewEngine(items *cti.Repository, assetSvc *assets.Service, dir *directory.Service, alertSvc *alerts.Service, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		items:     items,
		assets:    assetSvc,
		directory: dir,
		alerts:    alertSvc,
		logger:    logger,
	}
}

// ExtractTechnologies fingerprints an asset's name, tags, and metadata
// for known technologies. Results are sorted for stable output.
func ExtractTechnologies(asset assets.Asset) []string {
	var sb strings.Builder
	sb.WriteString(asset.Name)
	sb.WriteString(" ")
	sb.WriteString(strings.Join(asset.Tags, " "))
	if len(asset.Metadata) > 0 {
		if data, err := json.Marshal(asset.Metadata); err == nil {
			sb.WriteString(" ")
			sb.Write(data)
		}
	}
	text := sb.String()

	var out []string
	for tech, pattern := range techPatterns {
		if pattern.MatchString(text) {
			out = append(out, tech)
		}
	}
	sort.Strings(out)
	return out
}

// isRelevant decides whether an item matters to an asset. Items without
// CVEs never generate alerts. Assets with no recognizable technology get
// a coarse severity gate; fingerprinted assets require either a direct
// technology mention or a critical item.
func isRelevant(item cti.Item, technologies []string) (bool, string) {
	if len(item.CVEIDs) == 0 {
		return false, ""
	}

	if len(technologies) == 0 {
		if item.Severity == cti.SeverityCritical || item.Severity == cti.SeverityHigh {
			return true, fmt.Sprintf("%s severity item, asset has no technology fingerprint", item.Severity)
		}
		return false, ""
	}

	itemText := item.Title + " " + item.Summary
	for _, tech := range technologies {
		if pattern, ok := techPatterns[tech]; ok && pattern.MatchString(itemText) {
			return true, "technology match: " + tech
		}
	}

	if item.Severity == cti.SeverityCritical {
		return true, "critical severity item"
	}
	return false, ""
}

// determineAlertType maps item severity to alert urgency.
func determineAlertType(severity cti.Severity) alerts.Type {
	switch severity {
	case cti.SeverityCritical:
		return alerts.TypeCritical
	case cti.SeverityHigh, cti.SeverityMedium:
		return alerts.TypeWarning
	default:
		return alerts.TypeInfo
	}
}

// CorrelateItem evaluates one item against one organization's assets and
// creates alerts for relevant matches. Alerts are owned by the first
// user found in the organization; an organization with assets but no
// users yields an error instead of silent loss. A failure to create one
// asset's alert does not stop the remaining assets from being evaluated.
func (e *Engine) CorrelateItem(ctx context.Context, orgID string, item cti.Item) ([]alerts.Alert, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("correlate: organization id is required")
	}

	var created []alerts.Alert
	var createErrs []error
	var owner *directory.User

	cursor := ""
	for {
		page, err := e.assets.GetAssetsForOrganization(ctx, orgID, assets.ListOptions{
			Limit:      assets.MaxPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return created, fmt.Errorf("correlate %s: %w", orgID, err)
		}

		for _, asset := range page.Assets {
			technologies := ExtractTechnologies(asset)
			relevant, reason := isRelevant(item, technologies)
			if !relevant {
				continue
			}

			if owner == nil {
				owner, err = e.directory.FirstUserInOrganization(ctx, orgID)
				if err != nil {
					if errors.Is(err, docstore.ErrNotFound) {
						return created, fmt.Errorf("correlate %s: organization has no users to own alerts", orgID)
					}
					return created, fmt.Errorf("correlate %s: %w", orgID, err)
				}
			}

			alert, err := e.alerts.CreateAlert(ctx, owner.ID, alerts.CreateInput{
				Type:        determineAlertType(item.Severity),
				Title:       "CTI: " + item.Title,
				Description: item.Summary,
				Source:      "CTI_FEED",
				AssetID:     asset.ID,
				CVEIDs:      item.CVEIDs,
				Tactics:     item.EnrichmentData.MappedTactics,
				Metadata: map[string]interface{}{
					"ctiItemId":         item.ID,
					"ctiSource":         string(item.Source),
					"severity":          string(item.Severity),
					"correlationReason": reason,
					"assetName":         asset.Name,
					"assetType":         string(asset.Type),
				},
			})
			if err != nil {
				createErrs = append(createErrs, fmt.Errorf("correlate %s: asset %s: %w", orgID, asset.ID, err))
				continue
			}
			created = append(created, *alert)
		}

		if !page.HasMore {
			break
		}
		cursor = page.LastID
	}

	return created, errors.Join(createErrs...)
}

// CorrelateRecent sweeps recently ingested items against one
// organization. Items older than opts.Since (published time when known,
// ingestion time otherwise) are skipped. Per-item failures are recorded
// and the sweep continues.
func (e *Engine) CorrelateRecent(ctx context.Context, orgID string, opts RecentOptions) (*Summary, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("correlate: organization id is required")
	}
	start := time.Now()
	summary := &Summary{}

	items, _, err := e.items.Recent(ctx, cti.ListOptions{Limit: opts.Limit})
	if err != nil {
		return nil, fmt.Errorf("correlate recent: %w", err)
	}

	for _, item := range items {
		if opts.Since != nil {
			ts := item.IngestedAt
			if item.PublishedAt != nil {
				ts = *item.PublishedAt
			}
			if ts.Before(*opts.Since) {
				continue
			}
		}
		summary.Evaluated++

		created, err := e.CorrelateItem(ctx, orgID, item)
		summary.AlertsGenerated += len(created)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
	}

	summary.Duration = time.Since(start)
	e.logger.Printf("Correlation sweep for %s: %d items evaluated, %d alerts, %d errors",
		orgID, summary.Evaluated, summary.AlertsGenerated, len(summary.Errors))
	return summary, nil
}

// CorrelateAllOrganizations evaluates one item against every
// organization in the inventory. Per-organization failures are recorded
// and the fan-out continues.
func (e *Engine) CorrelateAllOrganizations(ctx context.Context, item cti.Item) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	orgs, err := e.assets.ListOrganizationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("correlate all: %w", err)
	}

	for _, orgID := range orgs {
		summary.Evaluated++
		created, err := e.CorrelateItem(ctx, orgID, item)
		summary.AlertsGenerated += len(created)
		if err != nil {
			summary.Errors = append(summary.Errors, err.Error())
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}
