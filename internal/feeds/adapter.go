// Package feeds implements the source adapters that pull raw records from
// external CTI feeds (MISP, NVD, RSS/Atom) and normalize them into cti.Item.
package feeds

import (
	"context"
	"time"

	"github.com/c4a/ctiwatch/internal/cti"
)

// DefaultTimeout bounds every network call an adapter makes.
const DefaultTimeout = 30 * time.Second

// FetchOptions narrows what an adapter pulls from its feed.
type FetchOptions struct {
	// Since restricts results to records published/modified after this time.
	// Zero means the adapter's default window (last 7 days).
	Since time.Time

	// Until closes the publication window for date-ranged feeds (NVD).
	// Zero means now.
	Until time.Time

	// Limit caps the number of records requested per page/feed.
	Limit int

	// Tags filters feed-side where the feed supports it (MISP).
	Tags []string
}

// Adapter fetches raw records from one external feed and normalizes them.
// Fetch is finite and not restartable: each call re-queries the remote feed.
type Adapter interface {
	// Source identifies the feed; every fetched item carries it.
	Source() cti.Source

	// Fetch queries the feed and returns normalized items.
	Fetch(ctx context.Context, opts FetchOptions) ([]cti.Item, error)

	// Probe checks connectivity without fetching a full window. A nil
	// error means the feed is reachable and credentials are accepted.
	Probe(ctx context.Context) error
}

func defaultWindow(opts FetchOptions) (time.Time, time.Time) {
	since := opts.Since
	if since.IsZero() {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}
	until := opts.Until
	if until.IsZero() {
		until = time.Now()
	}
	return since, until
}
