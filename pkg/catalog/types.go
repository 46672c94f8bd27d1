// Package catalog memoizes paginated search results from the store backends
// and keeps the currently-visible slice of items refreshed with
// higher-fidelity artwork.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/ludexhq/ludex/pkg/artwork"
)

// Images holds the display image URLs for a catalog item.
type Images struct {
	Grid string `json:"grid,omitempty"`
	Hero string `json:"hero,omitempty"`
	Logo string `json:"logo,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// Item is one game as the catalog presents it.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug,omitempty"`
	Developer string `json:"developer,omitempty"`
	DLC       bool   `json:"dlc,omitempty"`
	Images    Images `json:"images"`
}

// Page is one page of catalog results as a source returns it.
type Page struct {
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	Items  []Item `json:"items"`
}

// SearchRequest describes one listing/search call against a source.
type SearchRequest struct {
	Limit           int
	Offset          int
	Query           string
	Sort            string
	IncludeDLC      bool
	MustHaveArtwork bool
}

// Source answers catalog listing/search requests.
type Source interface {
	Search(ctx context.Context, req SearchRequest) (*Page, error)
}

// Enricher answers artwork batch lookups. Satisfied by *artwork.Client.
type Enricher interface {
	Lookup(ctx context.Context, ids []string, force bool) (map[string]artwork.Enrichment, error)
}

// Key identifies one stored result set.
type Key struct {
	Query string
	Page  int
}

// NewKey normalizes query and pairs it with the page index.
func NewKey(page int, query string) Key {
	return Key{Query: NormalizeQuery(query), Page: page}
}

// NormalizeQuery trims and lowercases a search query.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.Page, k.Query)
}

// Entry is one cached result set. Entries are shared: callers must treat
// Items as read-only and use Cache.RenderPage for a stable copy.
type Entry struct {
	Key   Key    `json:"key"`
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// mergeImages overwrites base image fields with the non-empty enrichment
// assets, leaving the rest untouched.
func mergeImages(base Images, a artwork.Assets) Images {
	if a.Grid != "" {
		base.Grid = a.Grid
	}
	if a.Hero != "" {
		base.Hero = a.Hero
	}
	if a.Logo != "" {
		base.Logo = a.Logo
	}
	if a.Icon != "" {
		base.Icon = a.Icon
	}
	return base
}
