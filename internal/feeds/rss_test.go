package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c4a/ctiwatch/internal/cti"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Security Advisories</title>
    <item>
      <title>Critical RCE in ExampleServer (CVE-2024-1234)</title>
      <link>https://example.com/adv/1</link>
      <description>&lt;p&gt;Active exploitation of cve-2024-1234 observed.&lt;/p&gt;</description>
      <pubDate>Mon, 03 Jun 2024 10:00:00 GMT</pubDate>
      <category>exploit</category>
    </item>
    <item>
      <title>Security update available</title>
      <link>https://example.com/adv/2</link>
      <description>Routine patches.</description>
    </item>
    <item>
      <title>Informational advisory</title>
      <link>https://example.com/adv/3</link>
      <description>Nothing urgent.</description>
    </item>
    <item>
      <title>Quarterly newsletter</title>
      <link>https://example.com/adv/4</link>
      <description>General roundup.</description>
    </item>
  </channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Advisories</title>
  <entry>
    <title>Privilege escalation fixed in agent</title>
    <link href="https://example.org/a/1"/>
    <id>urn:uuid:1</id>
    <updated>2024-06-02T12:00:00Z</updated>
    <summary>Fixes CVE-2024-5678.</summary>
  </entry>
</feed>`

func serveFeed(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRSSFetchNormalization(t *testing.T) {
	srv := serveFeed(t, rssFixture)
	adapter := NewRSSAdapter(RSSConfig{Feeds: []string{srv.URL}, Timeout: 5 * time.Second}, nil)

	items, err := adapter.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, items, 4)

	critical := items[0]
	assert.Equal(t, cti.SourceRSS, critical.Source)
	assert.Equal(t, cti.SeverityCritical, critical.Severity)
	assert.Equal(t, []string{"CVE-2024-1234"}, critical.CVEIDs)
	assert.NotContains(t, critical.Summary, "<p>", "HTML is stripped")
	assert.Equal(t, []string{"https://example.com/adv/1"}, critical.References)
	require.NotNil(t, critical.PublishedAt)

	assert.Equal(t, cti.SeverityHigh, items[1].Severity)
	assert.Equal(t, cti.SeverityLow, items[2].Severity)
	assert.Equal(t, cti.SeverityMedium, items[3].Severity)
}

func TestRSSFetchAtomDialect(t *testing.T) {
	srv := serveFeed(t, atomFixture)
	adapter := NewRSSAdapter(RSSConfig{Feeds: []string{srv.URL}}, nil)

	items, err := adapter.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"CVE-2024-5678"}, items[0].CVEIDs)
	assert.Equal(t, cti.SeverityHigh, items[0].Severity, "privilege escalation keyword")
	assert.Equal(t, []string{"https://example.org/a/1"}, items[0].References)
}

func TestRSSFetchCapsItemsPerFeed(t *testing.T) {
	srv := serveFeed(t, rssFixture)
	adapter := NewRSSAdapter(RSSConfig{Feeds: []string{srv.URL}, MaxItems: 2}, nil)

	items, err := adapter.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRSSFetchFeedIsolation(t *testing.T) {
	good := serveFeed(t, rssFixture)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	adapter := NewRSSAdapter(RSSConfig{Feeds: []string{bad.URL, good.URL}}, nil)
	items, err := adapter.Fetch(context.Background(), FetchOptions{})
	require.NoError(t, err, "one broken feed must not fail the fetch")
	assert.Len(t, items, 4)
}

func TestRSSFetchAllFeedsFailing(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	adapter := NewRSSAdapter(RSSConfig{Feeds: []string{bad.URL}}, nil)
	_, err := adapter.Fetch(context.Background(), FetchOptions{})
	assert.Error(t, err)
}

func TestRSSSetFeeds(t *testing.T) {
	adapter := NewRSSAdapter(RSSConfig{Feeds: []string{"https://a.example/feed"}}, nil)
	adapter.SetFeeds([]string{"https://b.example/feed", "https://c.example/feed"})
	assert.Equal(t, []string{"https://b.example/feed", "https://c.example/feed"}, adapter.Feeds())
}

func TestRSSDefaultFeeds(t *testing.T) {
	adapter := NewRSSAdapter(RSSConfig{}, nil)
	assert.Equal(t, DefaultFeeds, adapter.Feeds())
}

func TestDetermineSeverityFirstMatchWins(t *testing.T) {
	cases := []struct {
		title string
		want  cti.Severity
	}{
		{"Critical RCE in X", cti.SeverityCritical},
		{"Security update available", cti.SeverityHigh},
		{"Informational advisory", cti.SeverityLow},
		{"Weekly digest", cti.SeverityMedium},
		// "critical" outranks "patch" even though both match.
		{"Critical patch released", cti.SeverityCritical},
		{"Zero-day under active exploitation", cti.SeverityCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, determineSeverity(tc.title, "", nil), tc.title)
	}
}

func TestSourceNameForURL(t *testing.T) {
	cases := map[string]string{
		"https://www.cisa.gov/news-events/rss.xml":      "CISA",
		"https://msrc.microsoft.com/update-guide/rss":   "Microsoft Security",
		"https://cloud.google.com/feeds/bulletins.rss":  "Google TAG",
		"https://blog.redcanary.com/feed":               "Red Canary",
		"https://www.mandiant.com/resources/rss":        "Mandiant",
		"https://github.com/security-advisories.atom":   "GitHub Security",
		"https://feeds.acme-security.io/advisories.xml": "Acme-security",
		"::bad url::": "RSS Feed",
	}
	for url, want := range cases {
		assert.Equal(t, want, SourceNameForURL(url), url)
	}
}

func TestSanitizeTextTruncation(t *testing.T) {
	long := strings.Repeat("a", 600)
	got := sanitizeText(long, maxTitleLen)
	assert.Len(t, got, maxTitleLen)
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, "plain", sanitizeText("<b>plain</b>", maxTitleLen))
}

func TestSanitizeTextMultibyteBoundary(t *testing.T) {
	// Multibyte runes straddling the cut must not be split into invalid UTF-8.
	long := strings.Repeat("ü", 600)
	got := sanitizeText(long, maxTitleLen)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxTitleLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestLoadFeedList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.txt")
	content := "# security feeds\nhttps://a.example/rss\n\n  https://b.example/atom  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	feeds, err := LoadFeedList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example/rss", "https://b.example/atom"}, feeds)

	_, err = LoadFeedList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
