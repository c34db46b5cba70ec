// Package ingest pulls items from all configured CTI sources, drops
// duplicates, persists the rest, and optionally enriches them. Sources
// run concurrently and fail independently: one broken feed never blocks
// the batch.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/c4a/ctiwatch/internal/bus"
	"github.com/c4a/ctiwatch/internal/cti"
	"github.com/c4a/ctiwatch/internal/dedup"
	"github.com/c4a/ctiwatch/internal/enrich"
	"github.com/c4a/ctiwatch/internal/feeds"
)

// SourceResult reports one source's share of a batch.
type SourceResult struct {
	Items  int      `json:"items"`
	Errors []string `json:"errors,omitempty"`
}

// Result reports a whole ingestion batch.
type Result struct {
	PerSource   map[string]*SourceResult `json:"perSource"`
	TotalItems  int                      `json:"totalItems"`
	TotalErrors int                      `json:"totalErrors"`
	Duration    time.Duration            `json:"duration"`
}

// Orchestrator drives the fetch-dedup-persist-enrich loop.
type Orchestrator struct {
	adapters []feeds.Adapter
	cache    *dedup.Cache
	repo     *cti.Repository
	enricher enrich.Enricher
	bus      bus.Bus
	logger   *log.Logger
}

// New creates an orchestrator. The enricher may be nil to skip
// enrichment; the bus may be a NullBus.
func New(adapters []feeds.Adapter, cache *dedup.Cache, repo *cti.Repository, enricher enrich.Enricher, b bus.Bus, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		adapters: adapters,
		cache:    cache,
		repo:     repo,
		enricher: enricher,
		bus:      b,
		logger:   logger,
	}
}

// Adapters returns the configured source adapters.
func (o *Orchestrator) Adapters() []feeds.Adapter {
	return o.adapters
}

// Run fetches from every configured source concurrently and processes
// the results. When sources is non-empty, only the named sources run.
func (o *Orchestrator) Run(ctx context.Context, sources []cti.Source, opts feeds.FetchOptions) *Result {
	start := time.Now()
	result := &Result{PerSource: make(map[string]*SourceResult)}

	selected := o.selectAdapters(sources)
	if len(selected) == 0 {
		result.Duration = time.Since(start)
		return result
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, adapter := range selected {
		wg.Add(1)
		go func(a feeds.Adapter) {
			defer wg.Done()
			sr := o.runSource(ctx, a, opts)

			mu.Lock()
			result.PerSource[string(a.Source())] = sr
			result.TotalItems += sr.Items
			result.TotalErrors += len(sr.Errors)
			mu.Unlock()
		}(adapter)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	o.logger.Printf("Batch complete: %d items, %d errors in %s",
		result.TotalItems, result.TotalErrors, result.Duration.Round(time.Millisecond))
	return result
}

// runSource fetches one source and processes its items. Per-item failures
// are recorded and the rest of the batch continues.
func (o *Orchestrator) runSource(ctx context.Context, adapter feeds.Adapter, opts feeds.FetchOptions) *SourceResult {
	sr := &SourceResult{}
	source := adapter.Source()

	items, err := adapter.Fetch(ctx, opts)
	if err != nil {
		o.logger.Printf("Fetch from %s failed: %v", source, err)
		sr.Errors = append(sr.Errors, fmt.Sprintf("fetch: %v", err))
		return sr
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("cancelled: %v", err))
			return sr
		}
		if err := o.processItem(ctx, &items[i]); err != nil {
			sr.Errors = append(sr.Errors, err.Error())
			continue
		}
		if items[i].ID != "" {
			sr.Items++
		}
	}

	o.logger.Printf("Source %s: %d new items, %d errors", source, sr.Items, len(sr.Errors))
	return sr
}

// processItem runs one item through dedup, persistence, enrichment, and
// the bus. A duplicate is not an error; it is silently skipped and the
// item keeps an empty ID. Enrichment and publish failures are logged but
// never fail the item.
func (o *Orchestrator) processItem(ctx context.Context, item *cti.Item) error {
	item.Normalize()
	if o.cache.IsDuplicate(item) {
		return nil
	}

	if err := o.repo.SaveItem(ctx, item); err != nil {
		return fmt.Errorf("persist %q: %w", item.Title, err)
	}

	if o.enricher != nil {
		data, err := o.enricher.EnrichItem(ctx, *item)
		if err != nil {
			o.logger.Printf("Enrichment failed for item %s: %v", item.ID, err)
		} else if err := o.repo.MarkEnriched(ctx, item.ID, data); err != nil {
			o.logger.Printf("Storing enrichment failed for item %s: %v", item.ID, err)
		} else {
			item.Enriched = true
			item.EnrichmentData = data
		}
	}

	msg := bus.ItemMessage{
		ItemID:    item.ID,
		Source:    string(item.Source),
		Severity:  string(item.Severity),
		Title:     item.Title,
		Timestamp: item.IngestedAt.Unix(),
	}
	if err := o.bus.PublishItem(ctx, msg); err != nil {
		o.logger.Printf("Failed to publish item %s: %v", item.ID, err)
	}

	return nil
}

func (o *Orchestrator) selectAdapters(sources []cti.Source) []feeds.Adapter {
	if len(sources) == 0 {
		return o.adapters
	}
	wanted := make(map[cti.Source]struct{}, len(sources))
	for _, s := range sources {
		wanted[s] = struct{}{}
	}
	var out []feeds.Adapter
	for _, a := range o.adapters {
		if _, ok := wanted[a.Source()]; ok {
			out = append(out, a)
		}
	}
	return out
}
