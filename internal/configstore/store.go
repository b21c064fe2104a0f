// Package configstore holds the live, atomically-swappable configuration
// snapshot shared by every request-path component. Readers never take a
// lock; a reload allocates a brand new Snapshot and swaps the pointer, so an
// in-flight request keeps the snapshot it started with (spec §4.A, §5).
package configstore

import (
	"fmt"
	"sync/atomic"

	"github.com/relaymux/relaymux/internal/config"
)

// Snapshot is an immutable, fully-resolved configuration. Fields here MUST
// NOT be mutated after publication — callers that need per-request working
// copies (e.g. round-robin cursors) keep that state elsewhere.
type Snapshot struct {
	Path      string
	Raw       *config.Config
	Providers map[string]config.Provider
}

// ProviderLookup returns the named provider and whether it exists.
func (s *Snapshot) ProviderLookup(name string) (config.Provider, bool) {
	p, ok := s.Providers[name]
	return p, ok
}

func newSnapshot(path string, cfg *config.Config) *Snapshot {
	providers := make(map[string]config.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}
	return &Snapshot{Path: path, Raw: cfg, Providers: providers}
}

// Store holds the current Snapshot behind an atomic pointer.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// New loads path, validates it, and returns a Store holding the first
// snapshot. A load/validate failure here is a startup error (spec §6 CLI
// exit code 1).
func New(path string) (*Store, error) {
	s := &Store{}
	if err := s.Reload(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload parses path fresh, validates it, and — only if valid — swaps the
// live snapshot. The previous snapshot (and any request still holding it)
// is left untouched. Returns the validation/parse error without disturbing
// the running snapshot otherwise.
func (s *Store) Reload(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("configstore: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configstore: %w", err)
	}
	s.current.Store(newSnapshot(path, cfg))
	return nil
}

// Get returns the current snapshot. Safe for concurrent use, lock-free.
func (s *Store) Get() *Snapshot {
	return s.current.Load()
}
