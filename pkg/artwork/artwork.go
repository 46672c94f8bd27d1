// Package artwork talks to the asset-enrichment service and decides when its
// results are allowed to replace a game's base images.
package artwork

import (
	"net/url"
	"strings"
)

// Assets holds the display image URLs for one game.
type Assets struct {
	Grid string `json:"grid,omitempty"`
	Hero string `json:"hero,omitempty"`
	Logo string `json:"logo,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// Empty reports whether no asset URL is set.
func (a Assets) Empty() bool {
	return a.Grid == "" && a.Hero == "" && a.Logo == "" && a.Icon == ""
}

// Enrichment is the per-game answer from the enrichment service.
type Enrichment struct {
	Source string `json:"selected_source,omitempty"`
	Assets Assets `json:"assets,omitempty"`
}

// Preference decides whether an enrichment result outranks base images.
// A result wins when its source is one of the preferred sources, or when any
// of its asset URLs is served from a preferred host.
type Preference struct {
	Sources []string
	Hosts   []string
}

// Match reports whether e should overwrite base images.
func (p Preference) Match(e Enrichment) bool {
	source := strings.ToLower(strings.TrimSpace(e.Source))
	for _, s := range p.Sources {
		if source != "" && source == strings.ToLower(s) {
			return true
		}
	}
	if len(p.Hosts) == 0 {
		return false
	}
	for _, raw := range []string{e.Assets.Grid, e.Assets.Hero, e.Assets.Logo, e.Assets.Icon} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if host == "" {
			continue
		}
		for _, h := range p.Hosts {
			want := strings.ToLower(h)
			if host == want || strings.HasSuffix(host, "."+want) {
				return true
			}
		}
	}
	return false
}
