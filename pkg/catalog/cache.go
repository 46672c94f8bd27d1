package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ludexhq/ludex/pkg/artwork"
	"github.com/ludexhq/ludex/pkg/telemetry"
)

// Cache memoizes catalog pages by normalized (query, page) key. A stored
// entry is returned as-is until a new fetch overwrites it or a forced refresh
// patches its images in place.
type Cache struct {
	primary  Source
	legacy   Source
	art      Enricher
	pref     artwork.Preference
	pageSize int
	sort     string
	logger   *zap.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[Key]*Entry
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	// PageSize is the limit sent to the sources for every page.
	PageSize int
	// Sort is the sort expression sent to the primary source.
	Sort string
	// Preference decides when enrichment images replace base images.
	Preference artwork.Preference
	Logger     *zap.Logger
}

// NewCache builds a Cache over a primary source, a legacy fallback source,
// and an enricher.
func NewCache(primary, legacy Source, art Enricher, opts CacheOptions) *Cache {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 48
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		primary:  primary,
		legacy:   legacy,
		art:      art,
		pref:     opts.Preference,
		pageSize: pageSize,
		sort:     opts.Sort,
		logger:   logger,
		entries:  make(map[Key]*Entry),
	}
}

// Load returns the entry for (page, query), fetching it on first use.
// Repeated calls for the same key return the identical stored entry with no
// further network work. Concurrent first loads for one key share a single
// fetch. The returned entry is shared and must be treated as read-only.
func (c *Cache) Load(ctx context.Context, page int, query string) (*Entry, error) {
	key := NewKey(page, query)

	ctx, span := telemetry.StartSpan(ctx, "catalog.load")
	defer span.End()
	span.SetAttributes(
		telemetry.AttrQuery.String(key.Query),
		telemetry.AttrPage.Int(key.Page),
	)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		metricCacheHits.Inc()
		span.SetAttributes(telemetry.AttrCacheHit.Bool(true))
		return entry, nil
	}
	metricCacheMisses.Inc()
	span.SetAttributes(telemetry.AttrCacheHit.Bool(false))

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// Another caller may have stored the entry while we queued.
		c.mu.RLock()
		existing, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}
		return c.fetch(ctx, key)
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	entry = v.(*Entry)
	span.SetAttributes(telemetry.AttrItemCount.Int(len(entry.Items)))
	return entry, nil
}

// Peek returns the stored entry for (page, query) without fetching.
func (c *Cache) Peek(page int, query string) (*Entry, bool) {
	key := NewKey(page, query)
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// RenderPage loads (page, query) and returns a copy that is safe to hold
// across later image patches.
func (c *Cache) RenderPage(ctx context.Context, page int, query string) (Entry, error) {
	entry, err := c.Load(ctx, page, query)
	if err != nil {
		return Entry{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := Entry{Key: entry.Key, Total: entry.Total, Items: make([]Item, len(entry.Items))}
	copy(copied.Items, entry.Items)
	return copied, nil
}

// fetch pulls one page from the primary source, falling back to the legacy
// source, merges enrichment, and stores the result.
func (c *Cache) fetch(ctx context.Context, key Key) (*Entry, error) {
	req := SearchRequest{
		Limit:           c.pageSize,
		Offset:          key.Page * c.pageSize,
		Query:           key.Query,
		Sort:            c.sort,
		IncludeDLC:      true,
		MustHaveArtwork: true,
	}

	page, err := c.primary.Search(ctx, req)
	if err != nil {
		c.logger.Warn("primary catalog source failed, trying legacy",
			zap.String("query", key.Query),
			zap.Int("page", key.Page),
			zap.Error(err))
		metricLegacyFallbacks.Inc()
		page, err = c.legacy.Search(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	entry := &Entry{Key: key, Items: page.Items, Total: page.Total}
	c.enrich(ctx, entry)

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return entry, nil
}

// enrich overlays preferred artwork onto the freshly fetched items. Failures
// leave the base images in place and never fail the load.
func (c *Cache) enrich(ctx context.Context, entry *Entry) {
	if c.art == nil || len(entry.Items) == 0 {
		return
	}
	ids := make([]string, 0, len(entry.Items))
	for _, item := range entry.Items {
		ids = append(ids, item.ID)
	}

	results, err := c.art.Lookup(ctx, ids, false)
	if err != nil {
		metricEnrichFailures.Inc()
		c.logger.Warn("enrichment failed, keeping base images",
			zap.String("query", entry.Key.Query),
			zap.Int("page", entry.Key.Page),
			zap.Error(err))
		return
	}
	for i := range entry.Items {
		e, ok := results[entry.Items[i].ID]
		if !ok || !c.pref.Match(e) {
			continue
		}
		entry.Items[i].Images = mergeImages(entry.Items[i].Images, e.Assets)
	}
}

// PatchImages overwrites the image fields of id in every cached entry that
// contains it. Returns the number of entries touched.
func (c *Cache) PatchImages(id string, assets artwork.Assets) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	touched := 0
	for _, entry := range c.entries {
		for i := range entry.Items {
			if entry.Items[i].ID != id {
				continue
			}
			entry.Items[i].Images = mergeImages(entry.Items[i].Images, assets)
			touched++
		}
	}
	return touched
}

// Len reports how many entries are stored.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
