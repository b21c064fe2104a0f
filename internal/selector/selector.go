// Package selector implements the Provider Selector of spec §4.D: given a
// client-requested model name and the live config snapshot, it resolves an
// ordered list of candidate providers to try in turn.
package selector

import (
	"math/rand/v2"
	"path"
	"sort"
	"sync"

	"github.com/relaymux/relaymux/internal/config"
	"github.com/relaymux/relaymux/internal/configstore"
)

// HealthEngine is the subset of internal/health.Engine the selector needs.
// Kept as an interface so tests can fake it without constructing a real
// engine's clock and cooldown machinery.
type HealthEngine interface {
	IsSelectable(provider string, enabled bool) bool
	StickyProvider() (string, bool)
}

// Candidate is one resolved, still-selectable upstream to try.
type Candidate struct {
	Provider      config.Provider
	UpstreamModel string
	Priority      int
}

// Selector resolves candidates for each request. It holds per-pattern
// round-robin cursors; everything else is read fresh from the snapshot
// passed to Select, per spec §5's single-process-memory concurrency model.
type Selector struct {
	health HealthEngine

	mu       sync.Mutex
	counters map[string]int
}

// New creates a Selector backed by health.
func New(health HealthEngine) *Selector {
	return &Selector{health: health, counters: make(map[string]int)}
}

type candidate struct {
	entry    config.RouteEntry
	provider config.Provider
}

// Select implements spec §4.D steps 1-6. The returned matched bool
// distinguishes "no route pattern matched" (caller should answer 404) from
// "a route matched but every candidate was dropped" (caller should answer
// 503, signaled by matched=true with an empty candidate slice).
func (s *Selector) Select(snap *configstore.Snapshot, requestedModel string) (candidates []Candidate, matched bool) {
	route, ok := findRoute(snap.Raw.ModelRoutes, requestedModel)
	if !ok {
		return nil, false
	}

	var live []candidate
	for _, e := range route.Entries {
		p, ok := snap.ProviderLookup(e.Provider)
		if !ok || !p.IsEnabled() {
			continue
		}
		if !s.health.IsSelectable(p.Name, p.IsEnabled()) {
			continue
		}
		live = append(live, candidate{entry: e, provider: p})
	}
	if len(live) == 0 {
		return nil, true
	}

	sort.SliceStable(live, func(i, j int) bool { return live[i].entry.Priority < live[j].entry.Priority })

	bandEnd := 1
	for bandEnd < len(live) && live[bandEnd].entry.Priority == live[0].entry.Priority {
		bandEnd++
	}
	band := live[:bandEnd]

	switch snap.Raw.Settings.StrategyOrDefault() {
	case config.StrategyRoundRobin:
		rotate(band, s.nextCursor(route.Pattern, len(band)))
	case config.StrategyRandom:
		rand.Shuffle(len(band), func(i, j int) { band[i], band[j] = band[j], band[i] })
	}

	if name, ok := s.health.StickyProvider(); ok {
		live = promote(live, name)
	}

	candidates = make([]Candidate, len(live))
	for i, c := range live {
		model := c.entry.UpstreamModel
		if model == config.PassthroughModel {
			model = requestedModel
		}
		candidates[i] = Candidate{Provider: c.provider, UpstreamModel: model, Priority: c.entry.Priority}
	}
	return candidates, true
}

// nextCursor returns the current rotation offset for pattern's round-robin
// band of size n and advances it for the next call.
func (s *Selector) nextCursor(pattern string, n int) int {
	if n == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.counters[pattern]
	s.counters[pattern] = (cur + 1) % n
	return cur
}

// rotate left-rotates band by offset in place.
func rotate(band []candidate, offset int) {
	if offset <= 0 || len(band) == 0 {
		return
	}
	offset %= len(band)
	rotated := make([]candidate, 0, len(band))
	rotated = append(rotated, band[offset:]...)
	rotated = append(rotated, band[:offset]...)
	copy(band, rotated)
}

// promote moves the candidate for providerName (if present) to the head of
// list, preserving the relative order of everything else.
func promote(list []candidate, providerName string) []candidate {
	idx := -1
	for i, c := range list {
		if c.provider.Name == providerName {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return list
	}
	out := make([]candidate, 0, len(list))
	out = append(out, list[idx])
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)
	return out
}

// findRoute returns the first route whose pattern matches model, per spec
// §4.D step 1. Patterns use path.Match syntax (*, ?) — sufficient here
// since model names never contain "/", the one character path.Match
// treats specially.
func findRoute(routes []config.ModelRoute, model string) (config.ModelRoute, bool) {
	for _, r := range routes {
		if ok, err := path.Match(r.Pattern, model); err == nil && ok {
			return r, true
		}
	}
	return config.ModelRoute{}, false
}
