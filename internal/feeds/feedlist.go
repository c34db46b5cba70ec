package feeds

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// LoadFeedList reads a feed list file: one URL per line, blank lines and
// #-comments ignored.
func LoadFeedList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed list: %w", err)
	}
	defer f.Close()

	var feeds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		feeds = append(feeds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read feed list: %w", err)
	}
	return feeds, nil
}

// FeedListWatcher reloads a feed list file when it changes on disk and
// pushes the new list into the RSS adapter.
type FeedListWatcher struct {
	path    string
	adapter *RSSAdapter
	logger  *log.Logger
}

// NewFeedListWatcher creates a watcher for the given feed list file.
func NewFeedListWatcher(path string, adapter *RSSAdapter, logger *log.Logger) *FeedListWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[feed-list] ", log.LstdFlags)
	}
	return &FeedListWatcher{path: path, adapter: adapter, logger: logger}
}

// Run loads the list once, then blocks watching for changes until the
// context is cancelled. Editors replace files on save, so the parent
// directory is watched rather than the file itself.
func (w *FeedListWatcher) Run(ctx context.Context) error {
	if feeds, err := LoadFeedList(w.path); err != nil {
		w.logger.Printf("Initial feed list load failed: %v", err)
	} else {
		w.adapter.SetFeeds(feeds)
		w.logger.Printf("Loaded %d feed(s) from %s", len(feeds), w.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch add: %w", err)
	}
	w.logger.Printf("Watching feed list: %s", w.path)

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			feeds, err := LoadFeedList(w.path)
			if err != nil {
				w.logger.Printf("Feed list reload failed: %v", err)
				continue
			}
			w.adapter.SetFeeds(feeds)
			w.logger.Printf("Reloaded %d feed(s) from %s", len(feeds), w.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("Feed list watch error: %v", err)
		}
	}
}
