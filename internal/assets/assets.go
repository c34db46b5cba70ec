// Package assets manages the technology-asset inventory correlation runs
// against. Assets belong to an organization and carry free-form tags and
// metadata that the correlation engine fingerprints for technologies.
package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c4a/ctiwatch/internal/docstore"
)

// Collection is the docstore collection assets are persisted in.
const Collection = "assets"

// Type classifies an asset.
type Type string

const (
	TypeAPI     Type = "API"
	TypeWeb     Type = "WEB"
	TypeApp     Type = "APP"
	TypeNetwork Type = "NETWORK"
	TypeOther   Type = "OTHER"
)

// Criticality ranks how important an asset is to its organization.
type Criticality string

const (
	CriticalityLow      Criticality = "LOW"
	CriticalityMedium   Criticality = "MEDIUM"
	CriticalityHigh     Criticality = "HIGH"
	CriticalityCritical Criticality = "CRITICAL"
)

// Asset is one inventoried system belonging to an organization.
type Asset struct {
	ID             string                 `json:"id,omitempty"`
	OrganizationID string                 `json:"organizationId"`
	Name           string                 `json:"name"`
	Type           Type                   `json:"type"`
	Criticality    Criticality            `json:"criticality"`
	Tags           []string               `json:"tags,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt,omitempty"`
}

// ListOptions narrows an organization asset listing. Limit is clamped to
// [1, MaxPageSize]; zero means DefaultPageSize.
type ListOptions struct {
	Type        Type
	Criticality Criticality
	Limit       int
	StartAfter  string
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page is one page of an organization's assets.
type Page struct {
	Assets  []Asset
	HasMore bool
	LastID  string
}

// Service reads and writes the asset inventory.
type Service struct {
	store docstore.Store
}

// NewService creates an asset service over the given store.
func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Save persists an asset, assigning an ID and creation timestamp when
// absent. Organization ID and name are required.
func (s *Service) Save(ctx context.Context, asset *Asset) error {
	if asset == nil {
		return fmt.Errorf("save asset: nil asset")
	}
	if strings.TrimSpace(asset.OrganizationID) == "" {
		return fmt.Errorf("save asset: organization id is required")
	}
	if strings.TrimSpace(asset.Name) == "" {
		return fmt.Errorf("save asset: name is required")
	}
	if asset.Type == "" {
		asset.Type = TypeOther
	}
	if asset.Criticality == "" {
		asset.Criticality = CriticalityMedium
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	doc, err := docstore.Encode(asset)
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	id, err := s.store.Put(ctx, Collection, asset.ID, doc)
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	asset.ID = id
	return nil
}

// Get fetches an asset by ID.
func (s *Service) Get(ctx context.Context, id string) (*Asset, error) {
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	var asset Asset
	if err := docstore.Decode(doc, &asset); err != nil {
		return nil, fmt.Errorf("get asset %s: %w", id, err)
	}
	if asset.ID == "" {
		asset.ID = id
	}
	return &asset, nil
}

// GetAssetsForOrganization lists an organization's assets one page at a
// time. Type and criticality filters are applied after the page is
// fetched, so a filtered page may hold fewer assets than Limit; HasMore
// and LastID describe the unfiltered page, and callers paginate by
// LastID until HasMore is false to see every match.
func (s *Service) GetAssetsForOrganization(ctx context.Context, orgID string, opts ListOptions) (*Page, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("list assets: organization id is required")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	page, err := s.store.Query(ctx, Collection, docstore.Query{
		Field:      "organizationId",
		Op:         docstore.OpEqual,
		Value:      orgID,
		OrderBy:    "name",
		Limit:      limit,
		StartAfter: opts.StartAfter,
	})
	if err != nil {
		return nil, fmt.Errorf("list assets for %s: %w", orgID, err)
	}

	out := &Page{HasMore: page.HasMore, LastID: page.LastID}
	for _, doc := range page.Docs {
		var asset Asset
		if err := docstore.Decode(doc, &asset); err != nil {
			return nil, fmt.Errorf("list assets for %s: %w", orgID, err)
		}
		if opts.Type != "" && asset.Type != opts.Type {
			continue
		}
		if opts.Criticality != "" && asset.Criticality != opts.Criticality {
			continue
		}
		out.Assets = append(out.Assets, asset)
	}
	return out, nil
}

// ListOrganizationIDs returns the distinct organization IDs present in
// the inventory. Correlation sweeps use it to fan out across tenants.
func (s *Service) ListOrganizationIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	cursor := ""
	for {
		page, err := s.store.Query(ctx, Collection, docstore.Query{
			OrderBy:    "organizationId",
			Limit:      MaxPageSize,
			StartAfter: cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("list organizations: %w", err)
		}
		for _, doc := range page.Docs {
			orgID, _ := doc["organizationId"].(string)
			if orgID == "" {
				continue
			}
			if _, ok := seen[orgID]; ok {
				continue
			}
			seen[orgID] = struct{}{}
			out = append(out, orgID)
		}
		if !page.HasMore {
			return out, nil
		}
		cursor = page.LastID
	}
}
