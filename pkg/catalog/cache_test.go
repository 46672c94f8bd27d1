package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludexhq/ludex/pkg/artwork"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	page  *Page
	err   error
}

func (f *fakeSource) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	page := Page{Total: f.page.Total, Offset: f.page.Offset, Limit: f.page.Limit}
	page.Items = append([]Item(nil), f.page.Items...)
	return &page, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnricher struct {
	mu      sync.Mutex
	calls   [][]string
	forced  []bool
	results map[string]artwork.Enrichment
	err     error
}

func (f *fakeEnricher) Lookup(ctx context.Context, ids []string, force bool) (map[string]artwork.Enrichment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	recorded := make([]string, len(ids))
	copy(recorded, ids)
	f.calls = append(f.calls, recorded)
	f.forced = append(f.forced, force)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]artwork.Enrichment, len(ids))
	for _, id := range ids {
		if e, ok := f.results[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (f *fakeEnricher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeEnricher) call(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func pageWith(items ...Item) *Page {
	return &Page{Total: len(items), Items: items}
}

func TestLoadCachesByNormalizedKey(t *testing.T) {
	primary := &fakeSource{page: pageWith(Item{ID: "1", Title: "Halo"})}
	cache := NewCache(primary, &fakeSource{err: errors.New("unused")}, nil, CacheOptions{})

	first, err := cache.Load(context.Background(), 0, "halo")
	require.NoError(t, err)
	require.Equal(t, 1, primary.callCount())

	second, err := cache.Load(context.Background(), 0, "halo")
	require.NoError(t, err)
	assert.Same(t, first, second, "repeat load must return the stored entry")
	assert.Equal(t, 1, primary.callCount(), "repeat load must not refetch")

	// Normalization folds case and whitespace into the same key.
	third, err := cache.Load(context.Background(), 0, "  HALO ")
	require.NoError(t, err)
	assert.Same(t, first, third)
	assert.Equal(t, 1, primary.callCount())

	// A different page is a different key.
	_, err = cache.Load(context.Background(), 1, "halo")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.callCount())
}

func TestLoadFallsBackToLegacy(t *testing.T) {
	primary := &fakeSource{err: errors.New("primary down")}
	legacy := &fakeSource{page: pageWith(Item{ID: "2", Title: "Myst"})}
	cache := NewCache(primary, legacy, nil, CacheOptions{})

	entry, err := cache.Load(context.Background(), 0, "myst")
	require.NoError(t, err)
	require.Len(t, entry.Items, 1)
	assert.Equal(t, "Myst", entry.Items[0].Title)
	assert.Equal(t, 1, legacy.callCount())

	// The fallback result is cached like any other.
	again, err := cache.Load(context.Background(), 0, "myst")
	require.NoError(t, err)
	assert.Same(t, entry, again)
	assert.Equal(t, 1, legacy.callCount())
}

func TestLoadFailsWhenBothSourcesFail(t *testing.T) {
	cache := NewCache(
		&fakeSource{err: errors.New("primary down")},
		&fakeSource{err: errors.New("legacy down")},
		nil, CacheOptions{})

	_, err := cache.Load(context.Background(), 0, "anything")
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len(), "failed loads must not store entries")
}

func TestLoadMergesPreferredEnrichment(t *testing.T) {
	primary := &fakeSource{page: pageWith(
		Item{ID: "1", Title: "Halo", Images: Images{Grid: "https://store/1-grid.png", Icon: "https://store/1-icon.png"}},
		Item{ID: "2", Title: "Myst", Images: Images{Grid: "https://store/2-grid.png"}},
	)}
	art := &fakeEnricher{results: map[string]artwork.Enrichment{
		"1": {Source: "community", Assets: artwork.Assets{Grid: "https://cdn.art/1-grid.png"}},
		"2": {Source: "store", Assets: artwork.Assets{Grid: "https://cdn.store/2-grid.png"}},
	}}
	cache := NewCache(primary, &fakeSource{}, art, CacheOptions{
		Preference: artwork.Preference{Sources: []string{"community"}},
	})

	entry, err := cache.Load(context.Background(), 0, "")
	require.NoError(t, err)
	require.Equal(t, 1, art.callCount())
	assert.Equal(t, []string{"1", "2"}, art.call(0))

	// Preferred source overwrites only the fields it carries.
	assert.Equal(t, "https://cdn.art/1-grid.png", entry.Items[0].Images.Grid)
	assert.Equal(t, "https://store/1-icon.png", entry.Items[0].Images.Icon)
	// Non-preferred results leave base images untouched.
	assert.Equal(t, "https://store/2-grid.png", entry.Items[1].Images.Grid)
}

func TestLoadToleratesEnrichmentFailure(t *testing.T) {
	primary := &fakeSource{page: pageWith(Item{ID: "1", Title: "Halo", Images: Images{Grid: "base.png"}})}
	art := &fakeEnricher{err: errors.New("enrichment down")}
	cache := NewCache(primary, &fakeSource{}, art, CacheOptions{})

	entry, err := cache.Load(context.Background(), 0, "halo")
	require.NoError(t, err, "enrichment failure must not fail the load")
	assert.Equal(t, "base.png", entry.Items[0].Images.Grid)
	assert.Equal(t, 1, cache.Len())
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	primary := &fakeSource{page: pageWith(Item{ID: "1", Title: "Halo"})}
	cache := NewCache(primary, &fakeSource{}, nil, CacheOptions{})

	var wg sync.WaitGroup
	entries := make([]*Entry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := cache.Load(context.Background(), 0, "halo")
			assert.NoError(t, err)
			entries[i] = entry
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, primary.callCount(), "concurrent loads for one key share a fetch")
	for i := 1; i < 8; i++ {
		assert.Same(t, entries[0], entries[i])
	}
}

func TestPatchImagesTouchesEveryEntryContainingID(t *testing.T) {
	// The same item shows up in two cached result sets.
	shared := Item{ID: "7", Title: "Quake", Images: Images{Grid: "base-grid.png"}}
	primary := &fakeSource{page: pageWith(shared)}
	cache := NewCache(primary, &fakeSource{}, nil, CacheOptions{})

	_, err := cache.Load(context.Background(), 0, "quake")
	require.NoError(t, err)
	_, err = cache.Load(context.Background(), 0, "q")
	require.NoError(t, err)

	touched := cache.PatchImages("7", artwork.Assets{Grid: "patched-grid.png", Hero: "patched-hero.png"})
	assert.Equal(t, 2, touched)

	for _, query := range []string{"quake", "q"} {
		entry, ok := cache.Peek(0, query)
		require.True(t, ok)
		assert.Equal(t, "patched-grid.png", entry.Items[0].Images.Grid)
		assert.Equal(t, "patched-hero.png", entry.Items[0].Images.Hero)
	}

	assert.Equal(t, 0, cache.PatchImages("absent", artwork.Assets{Grid: "x.png"}))
}

func TestRenderPageReturnsStableCopy(t *testing.T) {
	primary := &fakeSource{page: pageWith(Item{ID: "1", Title: "Halo", Images: Images{Grid: "base.png"}})}
	cache := NewCache(primary, &fakeSource{}, nil, CacheOptions{})

	rendered, err := cache.RenderPage(context.Background(), 0, "halo")
	require.NoError(t, err)

	cache.PatchImages("1", artwork.Assets{Grid: "patched.png"})

	assert.Equal(t, "base.png", rendered.Items[0].Images.Grid, "render copy must not change under patches")

	entry, ok := cache.Peek(0, "halo")
	require.True(t, ok)
	assert.Equal(t, "patched.png", entry.Items[0].Images.Grid)
}
