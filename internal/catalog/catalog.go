// Package catalog indexes the installable items published by the remote repository.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/remote"
	"github.com/italolelis/modmirror/internal/transfer"
)

// ErrUnknownItem is returned for identifiers the catalog does not know.
var ErrUnknownItem = errors.New("unknown catalog item")

// Catalog is a concurrency-safe in-memory index of items by id.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]*content.Item
}

func New(items ...*content.Item) *Catalog {
	c := &Catalog{items: make(map[string]*content.Item, len(items))}
	for _, item := range items {
		c.Add(item)
	}

	return c
}

// Add indexes item, replacing any previous item with the same id.
func (c *Catalog) Add(item *content.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[item.ID] = item
}

func (c *Catalog) Lookup(id string) (*content.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]

	return item, ok
}

// Get is Lookup with an ErrUnknownItem error on a miss.
func (c *Catalog) Get(id string) (*content.Item, error) {
	item, ok := c.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}

	return item, nil
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// IDs returns the indexed ids in sorted order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.items))

	for id := range c.items {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// Fetch downloads every catalog file of the pinned session and indexes its items.
// files maps a catalog file name (e.g. "mods.json") to the install folder of its items.
// Items without an explicit folder get the mapped one; items without a URL are
// served from the pinned repository under folder/file.
func Fetch(ctx context.Context, source transfer.Source, session *remote.Session, files map[string]string) (*Catalog, error) {
	logger := logctx.LoggerFromContext(ctx)
	c := New()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		folder := files[name]

		items, err := fetchFile(ctx, source, session.Resolve(name))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch catalog %s: %w", name, err)
		}

		for _, item := range items {
			if item.ID == "" || item.File == "" {
				logger.WarnContext(ctx, "skipping incomplete catalog entry", "catalog", name, "id", item.ID)

				continue
			}

			if item.Folder == "" {
				item.Folder = folder
			}

			if err := item.Validate(); err != nil {
				logger.WarnContext(ctx, "skipping unsafe catalog entry", "catalog", name, "id", item.ID, "err", err)

				continue
			}

			if item.URL == "" {
				item.URL = session.Resolve(path.Join(item.Folder, item.File))
			}

			c.Add(item)
		}

		logger.InfoContext(ctx, "loaded catalog", "catalog", name, "items", len(items))
	}

	return c, nil
}

func fetchFile(ctx context.Context, source transfer.Source, uri string) ([]*content.Item, error) {
	body, err := source.Open(ctx, uri)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = body.Close()
	}()

	var items []*content.Item
	if err := json.NewDecoder(body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	return items, nil
}
