package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"klaus/kb"
	"klaus/types"
)

// FactStore owns the process-wide fact, embedding and profile caches.
// Each cache is filled on its first successful load and kept until Reset.
// A missing source file counts as a successful empty load. A load that
// overlaps a Reset is returned to its caller but not cached.
type FactStore struct {
	dataDir string
	index   IndexStorer
	logger  *slog.Logger

	mu             sync.RWMutex
	generation     uint64
	facts          []types.Fact
	factsLoaded    bool
	embedded       []types.EmbeddedFact
	embeddedLoaded bool
	profile        *kb.Profile
	profileLoaded  bool
}

func NewFactStore(dataDir string, index IndexStorer, logger *slog.Logger) *FactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactStore{dataDir: dataDir, index: index, logger: logger}
}

func (s *FactStore) DataDir() string { return s.dataDir }

// LoadFacts returns the heading-structured document facts if that file
// exists, else the flat fact records.
func (s *FactStore) LoadFacts() ([]types.Fact, error) {
	s.mu.RLock()
	if s.factsLoaded {
		defer s.mu.RUnlock()
		return s.facts, nil
	}
	gen := s.generation
	s.mu.RUnlock()

	facts, err := s.readFacts()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return facts, nil
	}
	if !s.factsLoaded {
		s.facts, s.factsLoaded = facts, true
		s.logger.Info("facts loaded", "count", len(facts))
	}
	return s.facts, nil
}

func (s *FactStore) readFacts() ([]types.Fact, error) {
	md, err := readOptional(filepath.Join(s.dataDir, types.SiteFactsMarkdown))
	if err != nil {
		return nil, err
	}
	if md != nil {
		return kb.ParseMarkdownFacts(string(md)), nil
	}

	records, err := readOptional(filepath.Join(s.dataDir, types.SiteFactsRecords))
	if err != nil || records == nil {
		return nil, err
	}
	facts, err := kb.ParseRecords(records)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", types.SiteFactsRecords, err)
	}
	return facts, nil
}

// LoadEmbeddedFacts returns the persisted vector index, or nothing when no
// index has been built.
func (s *FactStore) LoadEmbeddedFacts(ctx context.Context) ([]types.EmbeddedFact, error) {
	s.mu.RLock()
	if s.embeddedLoaded {
		defer s.mu.RUnlock()
		return s.embedded, nil
	}
	gen := s.generation
	s.mu.RUnlock()

	if s.index == nil {
		return nil, nil
	}
	embedded, err := s.index.LoadIndex(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return embedded, nil
	}
	if !s.embeddedLoaded {
		s.embedded, s.embeddedLoaded = embedded, true
		s.logger.Info("embedding index loaded", "count", len(embedded))
	}
	return s.embedded, nil
}

// EmbeddedFactsByScope filters the index by id namespace.
func (s *FactStore) EmbeddedFactsByScope(ctx context.Context, scope types.Scope) ([]types.EmbeddedFact, error) {
	all, err := s.LoadEmbeddedFacts(ctx)
	if err != nil {
		return nil, err
	}
	if scope == types.ScopeAny || scope == "" {
		return all, nil
	}
	out := make([]types.EmbeddedFact, 0, len(all))
	for _, f := range all {
		if scope.Matches(f.ID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// LoadProfile returns the cached profile dump, or nil if there is none.
func (s *FactStore) LoadProfile() (*kb.Profile, error) {
	s.mu.RLock()
	if s.profileLoaded {
		defer s.mu.RUnlock()
		return s.profile, nil
	}
	gen := s.generation
	s.mu.RUnlock()

	data, err := readOptional(filepath.Join(s.dataDir, types.ProfileDump))
	if err != nil {
		return nil, err
	}
	var profile *kb.Profile
	if data != nil {
		if profile, err = kb.ParseProfile(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", types.ProfileDump, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return profile, nil
	}
	if !s.profileLoaded {
		s.profile, s.profileLoaded = profile, true
	}
	return s.profile, nil
}

// Reset drops every cache; the next load reads from storage again.
func (s *FactStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.facts, s.factsLoaded = nil, false
	s.embedded, s.embeddedLoaded = nil, false
	s.profile, s.profileLoaded = nil, false
	s.logger.Info("knowledge base caches reset")
}

func (s *FactStore) Stats(ctx context.Context) (types.KBStats, error) {
	facts, err := s.LoadFacts()
	if err != nil {
		return types.KBStats{}, err
	}
	embedded, err := s.LoadEmbeddedFacts(ctx)
	if err != nil {
		return types.KBStats{}, err
	}
	stats := types.KBStats{Facts: len(facts), EmbeddedFacts: len(embedded)}
	if len(embedded) > 0 {
		stats.Dimension = len(embedded[0].Embedding)
	}
	return stats, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
