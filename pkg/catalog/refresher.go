package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/artwork"
)

const (
	// DefaultMaxVisible caps how many ids one visibility report may carry.
	DefaultMaxVisible = 120
	// DefaultRefreshDebounce is the quiet period before a refresh fires.
	DefaultRefreshDebounce = 300 * time.Millisecond
)

// Refresher keeps the currently-visible items' artwork fresh. Visibility
// reports are debounced; each cycle force-refreshes only ids that neither
// already received a preferred asset this session (seen) nor are being
// refreshed right now (inflight).
type Refresher struct {
	cache      *Cache
	art        Enricher
	pref       artwork.Preference
	maxVisible int
	logger     *zap.Logger
	onPatched  func(ids []string)

	deb *debouncer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	visible  []string
	seen     map[string]struct{}
	inflight map[string]struct{}
	closed   bool
}

// RefresherOptions configures a Refresher.
type RefresherOptions struct {
	MaxVisible int
	Debounce   time.Duration
	// Preference decides which refreshed results may patch images.
	Preference artwork.Preference
	// OnPatched, when set, is called after a cycle with the ids whose images
	// changed, so a live view can re-render.
	OnPatched func(ids []string)
	Logger    *zap.Logger
}

// NewRefresher builds a Refresher that patches entries in cache.
func NewRefresher(cache *Cache, art Enricher, opts RefresherOptions) *Refresher {
	maxVisible := opts.MaxVisible
	if maxVisible <= 0 {
		maxVisible = DefaultMaxVisible
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultRefreshDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher{
		cache:      cache,
		art:        art,
		pref:       opts.Preference,
		maxVisible: maxVisible,
		logger:     logger,
		onPatched:  opts.OnPatched,
		deb:        newDebouncer(debounce),
		ctx:        ctx,
		cancel:     cancel,
		seen:       make(map[string]struct{}),
		inflight:   make(map[string]struct{}),
	}
}

// NoteVisible records the ids currently rendered and (re)starts the debounce
// timer. Rapid successive calls collapse into one refresh cycle.
func (r *Refresher) NoteVisible(ids []string) {
	if len(ids) > r.maxVisible {
		ids = ids[:r.maxVisible]
	}
	visible := make([]string, len(ids))
	copy(visible, ids)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.visible = visible
	r.mu.Unlock()

	r.deb.trigger(r.fire)
}

// fire runs on the debounce timer goroutine.
func (r *Refresher) fire() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	pending := make([]string, 0, len(r.visible))
	for _, id := range r.visible {
		if id == "" {
			continue
		}
		if _, ok := r.seen[id]; ok {
			continue
		}
		if _, ok := r.inflight[id]; ok {
			continue
		}
		r.inflight[id] = struct{}{}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	metricRefreshBatches.Inc()
	metricRefreshIDs.Add(float64(len(pending)))
	metricRefreshInflight.Add(float64(len(pending)))

	r.refresh(pending)
}

// refresh performs one forced-refresh cycle for exactly pending. The ids are
// always removed from inflight when the attempt concludes, success or not.
func (r *Refresher) refresh(pending []string) {
	defer func() {
		r.mu.Lock()
		for _, id := range pending {
			delete(r.inflight, id)
		}
		r.mu.Unlock()
		metricRefreshInflight.Sub(float64(len(pending)))
	}()

	results, err := r.art.Lookup(r.ctx, pending, true)
	if err != nil {
		r.logger.Warn("forced artwork refresh failed",
			zap.Int("ids", len(pending)),
			zap.Error(err))
		return
	}

	var patched []string
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	for _, id := range pending {
		e, ok := results[id]
		if !ok || !r.pref.Match(e) {
			continue
		}
		r.seen[id] = struct{}{}
		patched = append(patched, id)
	}
	r.mu.Unlock()

	for _, id := range patched {
		r.cache.PatchImages(id, results[id].Assets)
	}
	if len(patched) > 0 {
		r.logger.Debug("artwork patched", zap.Int("ids", len(patched)))
		if r.onPatched != nil {
			r.onPatched(patched)
		}
	}
}

// Seen reports whether id already received a preferred asset this session.
func (r *Refresher) Seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[id]
	return ok
}

// InflightCount reports how many ids are mid-refresh.
func (r *Refresher) InflightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Close cancels the pending timer and any in-flight lookup. Results arriving
// after Close are discarded. Close is idempotent and does not wait for
// in-flight cycles.
func (r *Refresher) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.deb.cancel()
	r.cancel()
}
