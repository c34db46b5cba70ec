package cmd

import (
	"fmt"
	"io"
	"log"

	"github.com/c4a/ctiwatch/internal/alerts"
	"github.com/c4a/ctiwatch/internal/assets"
	"github.com/c4a/ctiwatch/internal/bus"
	"github.com/c4a/ctiwatch/internal/correlate"
	"github.com/c4a/ctiwatch/internal/cti"
	"github.com/c4a/ctiwatch/internal/dedup"
	"github.com/c4a/ctiwatch/internal/directory"
	"github.com/c4a/ctiwatch/internal/docstore"
	"github.com/c4a/ctiwatch/internal/enrich"
	"github.com/c4a/ctiwatch/internal/feeds"
	"github.com/c4a/ctiwatch/internal/ingest"
)

// app bundles the wired services commands work with. Construct with
// newApp and always Close.
type app struct {
	config Config
	store  docstore.Store
	bus    bus.Bus

	items     *cti.Repository
	assets    *assets.Service
	directory *directory.Service
	alerts    *alerts.Service

	rss *feeds.RSSAdapter
}

func newApp(out io.Writer, component string) (*app, error) {
	config := GetConfig()
	logger := newLogger(out, component)

	store, err := openStore(config)
	if err != nil {
		return nil, err
	}

	b := bus.NewBus(config.Redis.URL, newLogger(out, "bus"))

	dir := directory.NewService(store)
	return &app{
		config:    config,
		store:     store,
		bus:       b,
		items:     cti.NewRepository(store),
		assets:    assets.NewService(store),
		directory: dir,
		alerts:    alerts.NewService(store, dir, b, logger),
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	a.store.Close()
}

// adapters builds the source adapters the config enables. MISP is
// enabled by the presence of a URL and API key; NVD and RSS default on.
func (a *app) adapters(out io.Writer) []feeds.Adapter {
	var list []feeds.Adapter

	if a.config.MISP.URL != "" && a.config.MISP.APIKey != "" {
		misp, err := feeds.NewMISPAdapter(feeds.MISPConfig{
			BaseURL:   a.config.MISP.URL,
			APIKey:    a.config.MISP.APIKey,
			VerifyTLS: a.config.MISP.VerifyTLS,
		}, newLogger(out, "misp"))
		if err == nil {
			list = append(list, misp)
		}
	}

	if a.config.NVD.Enabled {
		list = append(list, feeds.NewNVDAdapter(feeds.NVDConfig{
			BaseURL: a.config.NVD.BaseURL,
			APIKey:  a.config.NVD.APIKey,
		}, newLogger(out, "nvd")))
	}

	if a.config.RSS.Enabled {
		urls := a.config.RSS.Feeds
		if a.config.RSS.FeedsFile != "" {
			if fromFile, err := feeds.LoadFeedList(a.config.RSS.FeedsFile); err == nil && len(fromFile) > 0 {
				urls = fromFile
			}
		}
		a.rss = feeds.NewRSSAdapter(feeds.RSSConfig{
			Feeds:    urls,
			MaxItems: a.config.RSS.MaxItems,
		}, newLogger(out, "rss"))
		list = append(list, a.rss)
	}

	return list
}

// orchestrator wires the full ingestion side: adapters, dedup cache,
// repository, enricher, bus.
func (a *app) orchestrator(out io.Writer) (*ingest.Orchestrator, error) {
	enricher, err := enrich.Build(enrich.Config{
		Provider: a.config.Enrichment.Provider,
		Endpoint: a.config.Enrichment.Endpoint,
		Model:    a.config.Enrichment.Model,
	}, newLogger(out, "enrich"))
	if err != nil {
		return nil, fmt.Errorf("failed to build enricher: %w", err)
	}

	cache := dedup.NewCache(a.config.Dedup.Capacity)
	return ingest.New(a.adapters(out), cache, a.items, enricher, a.bus, newLogger(out, "ingest")), nil
}

func (a *app) engine(out io.Writer) *correlate.Engine {
	return correlate.NewEngine(a.items, a.assets, a.directory, a.alerts, newLogger(out, "correlate"))
}

func openStore(config Config) (docstore.Store, error) {
	switch config.Store.Backend {
	case "", "sqlite":
		store, err := docstore.NewSQLiteStore(config.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return store, nil
	case "memory":
		return docstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", config.Store.Backend)
	}
}

func newLogger(out io.Writer, component string) *log.Logger {
	return log.New(out, "["+component+"] ", log.LstdFlags)
}
