package cti

import (
	"context"
	"fmt"
	"time"

	"github.com/c4a/ctiwatch/internal/docstore"
)

// Collection is the docstore collection CTI items are persisted in.
const Collection = "cti_items"

// ListOptions narrows a Recent listing.
type ListOptions struct {
	Source     Source
	Severity   Severity
	Since      *time.Time
	Limit      int
	StartAfter string
}

// Repository persists CTI items in a document store.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a repository over the given store.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// SaveItem persists an item, assigning an ID and ingestion timestamp if
// they are not already set. The stored ID is written back to the item.
func (r *Repository) SaveItem(ctx context.Context, item *Item) error {
	if item == nil {
		return fmt.Errorf("save item: nil item")
	}
	item.Normalize()
	if item.IngestedAt.IsZero() {
		item.IngestedAt = time.Now().UTC()
	}

	doc, err := docstore.Encode(item)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}

	id, err := r.store.Put(ctx, Collection, item.ID, doc)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	item.ID = id
	return nil
}

// Get fetches an item by ID.
func (r *Repository) Get(ctx context.Context, id string) (*Item, error) {
	doc, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	var item Item
	if err := docstore.Decode(doc, &item); err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	if item.ID == "" {
		item.ID = id
	}
	return &item, nil
}

// MarkEnriched stores enrichment output on an existing item.
func (r *Repository) MarkEnriched(ctx context.Context, id string, data EnrichmentData) error {
	item, err := r.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("mark enriched: %w", err)
	}
	item.Enriched = true
	item.EnrichmentData = data
	return r.SaveItem(ctx, item)
}

// Recent lists items ordered by ingestion time, newest first. Filters in
// opts chain onto the query where the store supports a single predicate;
// source/severity filtering is applied in memory on top of the time query.
func (r *Repository) Recent(ctx context.Context, opts ListOptions) ([]Item, string, error) {
	q := docstore.Query{
		OrderBy:    "ingestedAt",
		Descending: true,
		Limit:      opts.Limit,
		StartAfter: opts.StartAfter,
	}
	if opts.Since != nil {
		q.Field = "ingestedAt"
		q.Op = docstore.OpGreaterOrEqual
		q.Value = opts.Since.UTC().Format(time.RFC3339Nano)
	}

	page, err := r.store.Query(ctx, Collection, q)
	if err != nil {
		return nil, "", fmt.Errorf("list items: %w", err)
	}

	items := make([]Item, 0, len(page.Docs))
	for _, doc := range page.Docs {
		var item Item
		if err := docstore.Decode(doc, &item); err != nil {
			return nil, "", fmt.Errorf("list items: %w", err)
		}
		if opts.Source != "" && item.Source != opts.Source {
			continue
		}
		if opts.Severity != "" && item.Severity != opts.Severity {
			continue
		}
		items = append(items, item)
	}

	cursor := ""
	if page.HasMore {
		cursor = page.LastID
	}
	return items, cursor, nil
}
