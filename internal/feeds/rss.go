package feeds

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/c4a/ctiwatch/internal/cti"
)

const (
	// DefaultMaxItemsPerFeed caps how many entries one feed contributes.
	DefaultMaxItemsPerFeed = 50

	maxTitleLen   = 500
	maxSummaryLen = 10000
)

// DefaultFeeds are the security advisory feeds polled when none are
// configured.
var DefaultFeeds = []string{
	"https://www.cisa.gov/news-events/cybersecurity-advisories/rss.xml",
	"https://msrc.microsoft.com/update-guide/rss",
	"https://cloud.google.com/feeds/securitybulletins.rss",
}

// Severity keyword rules over title+summary+categories, checked in order;
// the first match wins.
var severityRules = []struct {
	severity cti.Severity
	pattern  *regexp.Regexp
}{
	{cti.SeverityCritical, regexp.MustCompile(`(?i)\b(critical|zero[-\s]?day|exploit|active|rce|remote[-\s]?code[-\s]?execution)\b`)},
	{cti.SeverityHigh, regexp.MustCompile(`(?i)\b(high|vulnerability|patch|update|security[-\s]?update|privilege[-\s]?escalation)\b`)},
	{cti.SeverityLow, regexp.MustCompile(`(?i)\b(low|informational|info|advisory)\b`)},
}

var htmlTagRegex = regexp.MustCompile(`<[^>]+>`)

// Known vendor hostnames mapped to display names; anything else falls back
// to the registrable domain label.
var sourceNamesByHost = map[string]string{
	"cisa.gov":      "CISA",
	"microsoft.com": "Microsoft Security",
	"google.com":    "Google TAG",
	"redcanary.com": "Red Canary",
	"mandiant.com":  "Mandiant",
	"github.com":    "GitHub Security",
}

// RSSConfig holds configuration for the RSS/Atom adapter.
type RSSConfig struct {
	Feeds    []string
	MaxItems int
	Timeout  time.Duration
}

// RSSAdapter polls a set of RSS/Atom feeds and normalizes their entries.
// Feed dialect detection (Atom vs RSS 2.0 vs RDF) is handled by the parser.
// The feed list can be swapped at runtime; see SetFeeds.
type RSSAdapter struct {
	parser   *gofeed.Parser
	maxItems int
	logger   *log.Logger

	mu    sync.RWMutex
	feeds []string
}

// NewRSSAdapter creates an RSS/Atom adapter over the configured feed URLs.
// An empty feed list falls back to DefaultFeeds.
func NewRSSAdapter(config RSSConfig, logger *log.Logger) *RSSAdapter {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxItems <= 0 {
		config.MaxItems = DefaultMaxItemsPerFeed
	}
	if len(config.Feeds) == 0 {
		config.Feeds = append([]string(nil), DefaultFeeds...)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: config.Timeout}
	parser.UserAgent = "ctiwatch-rss/1.0"

	return &RSSAdapter{
		parser:   parser,
		maxItems: config.MaxItems,
		logger:   logger,
		feeds:    config.Feeds,
	}
}

// Source implements Adapter.
func (a *RSSAdapter) Source() cti.Source {
	return cti.SourceRSS
}

// Feeds returns the current feed URL list.
func (a *RSSAdapter) Feeds() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.feeds...)
}

// SetFeeds replaces the feed URL list. Used by the feed-list watcher.
func (a *RSSAdapter) SetFeeds(feeds []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds = append([]string(nil), feeds...)
}

// Fetch polls every configured feed. A failing feed does not block the
// others; Fetch only errors when no feed could be read at all.
func (a *RSSAdapter) Fetch(ctx context.Context, opts FetchOptions) ([]cti.Item, error) {
	feeds := a.Feeds()
	if len(feeds) == 0 {
		return []cti.Item{}, nil
	}

	maxItems := a.maxItems
	if opts.Limit > 0 && opts.Limit < maxItems {
		maxItems = opts.Limit
	}

	var items []cti.Item
	var feedErrs []string
	succeeded := 0

	for _, feedURL := range feeds {
		select {
		case <-ctx.Done():
			return items, ctx.Err()
		default:
		}

		feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			a.logger.Printf("Failed to read feed %s: %v", feedURL, err)
			feedErrs = append(feedErrs, fmt.Sprintf("%s: %v", feedURL, err))
			continue
		}
		succeeded++

		entries := feed.Items
		if len(entries) > maxItems {
			entries = entries[:maxItems]
		}
		for _, entry := range entries {
			if entry == nil {
				continue
			}
			items = append(items, a.normalizeEntry(entry, feed, feedURL))
		}
	}

	if succeeded == 0 && len(feedErrs) > 0 {
		return nil, fmt.Errorf("all RSS feeds failed: %s", strings.Join(feedErrs, "; "))
	}
	a.logger.Printf("Fetched %d item(s) from %d/%d feed(s)", len(items), succeeded, len(feeds))
	return items, nil
}

// Probe reads the first configured feed.
func (a *RSSAdapter) Probe(ctx context.Context) error {
	feeds := a.Feeds()
	if len(feeds) == 0 {
		return fmt.Errorf("no RSS feeds configured")
	}
	if _, err := a.parser.ParseURLWithContext(feeds[0], ctx); err != nil {
		return fmt.Errorf("RSS probe failed for %s: %w", feeds[0], err)
	}
	return nil
}

func (a *RSSAdapter) normalizeEntry(entry *gofeed.Item, feed *gofeed.Feed, feedURL string) cti.Item {
	summary := entry.Description
	if summary == "" {
		summary = entry.Content
	}

	link := entry.Link
	if link == "" {
		link = entry.GUID
	}
	if link == "" {
		link = feedURL
	}

	title := sanitizeText(entry.Title, maxTitleLen)
	summary = sanitizeText(summary, maxSummaryLen)

	item := cti.Item{
		Source:     cti.SourceRSS,
		Title:      title,
		Summary:    summary,
		CVEIDs:     cti.ExtractCVEs(entry.Title + " " + summary),
		References: []string{link},
		Severity:   determineSeverity(title, summary, entry.Categories),
		Metadata: map[string]interface{}{
			"feed_url":    feedURL,
			"feed_title":  feed.Title,
			"source_name": SourceNameForURL(feedURL),
		},
	}
	if len(entry.Categories) > 0 {
		item.Metadata["categories"] = entry.Categories
	}
	if entry.Author != nil && entry.Author.Name != "" {
		item.Metadata["author"] = entry.Author.Name
	}
	if entry.GUID != "" {
		item.Metadata["guid"] = entry.GUID
	}

	if entry.PublishedParsed != nil {
		published := *entry.PublishedParsed
		item.PublishedAt = &published
	} else if entry.UpdatedParsed != nil {
		updated := *entry.UpdatedParsed
		item.PublishedAt = &updated
	}

	item.Normalize()
	return item
}

// determineSeverity applies the keyword heuristic over the entry's text.
func determineSeverity(title, summary string, categories []string) cti.Severity {
	text := title + " " + summary + " " + strings.Join(categories, " ")
	for _, rule := range severityRules {
		if rule.pattern.MatchString(text) {
			return rule.severity
		}
	}
	return cti.SeverityMedium
}

// SourceNameForURL derives a display name for a feed from its hostname.
func SourceNameForURL(feedURL string) string {
	parsed, err := url.Parse(feedURL)
	if err != nil || parsed.Hostname() == "" {
		return "RSS Feed"
	}
	host := strings.ToLower(parsed.Hostname())

	for suffix, name := range sourceNamesByHost {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return name
		}
	}

	// Fall back to the registrable domain label, capitalized.
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		label := parts[len(parts)-2]
		if label != "" {
			return strings.ToUpper(label[:1]) + label[1:]
		}
	}
	return "RSS Feed"
}

// sanitizeText strips HTML tags and truncates to limit characters, keeping
// a trailing ellipsis when cut. Truncation counts runes, not bytes, so a
// multibyte character is never split at the boundary.
func sanitizeText(text string, limit int) string {
	cleaned := strings.TrimSpace(htmlTagRegex.ReplaceAllString(text, ""))
	if utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = string(runes[:limit-3]) + "..."
	}
	return cleaned
}
