package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"klaus/kb"
	"klaus/loader/internal"
	"klaus/model"
	"klaus/store"
	"klaus/types"
)

var ErrNoSources = errors.New("no knowledge base sources found")

// Report summarizes one build.
type Report struct {
	BuildID   string
	Facts     int
	Dimension int
	Took      time.Duration
}

type Service struct {
	logger   *slog.Logger
	dataDir  string
	siteBase string
	embedder model.EmbedderInterface
	index    store.IndexStorer
}

func New(dataDir, siteBase string, embedder model.EmbedderInterface, index store.IndexStorer) *Service {
	return &Service{
		logger:   slog.Default(),
		dataDir:  dataDir,
		siteBase: siteBase,
		embedder: embedder,
		index:    index,
	}
}

// Collect reads every source in the data dir and returns the namespaced
// facts in source order: document, records, profile, résumé.
func (s *Service) Collect() ([]types.Fact, error) {
	var facts []types.Fact

	md, err := s.read(types.SiteFactsMarkdown)
	if err != nil {
		return nil, err
	}
	if md != nil {
		facts = append(facts, kb.Namespace(kb.ParseMarkdownFacts(string(md)), "kb")...)
	}

	records, err := s.read(types.SiteFactsRecords)
	if err != nil {
		return nil, err
	}
	if records != nil {
		parsed, err := kb.ParseRecords(records)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", types.SiteFactsRecords, err)
		}
		facts = append(facts, kb.Namespace(parsed, "kb")...)
	}

	profile, err := s.read(types.ProfileDump)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		p, err := kb.ParseProfile(profile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", types.ProfileDump, err)
		}
		facts = append(facts, kb.Namespace(kb.FlattenProfile(p), "li")...)
	}

	resume, ok, err := internal.InspectResume(s.dataDir, s.siteBase)
	if err != nil {
		return nil, err
	}
	if ok {
		facts = append(facts, resume)
	}

	if len(facts) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSources, s.dataDir)
	}
	return dedupe(facts)
}

// dedupe drops exact repeats. Two different texts under one id would make
// citations ambiguous, so that fails the build.
func dedupe(facts []types.Fact) ([]types.Fact, error) {
	seen := make(map[string]string, len(facts))
	out := make([]types.Fact, 0, len(facts))
	for _, f := range facts {
		if text, ok := seen[f.ID]; ok {
			if text != f.Text {
				return nil, fmt.Errorf("duplicate fact id %q with different text", f.ID)
			}
			continue
		}
		seen[f.ID] = f.Text
		out = append(out, f)
	}
	return out, nil
}

// Build embeds every collected fact and replaces the index. Any failure
// aborts before the index is touched.
func (s *Service) Build(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{BuildID: uuid.NewString()}

	facts, err := s.Collect()
	if err != nil {
		return report, err
	}
	s.logger.Info("embedding facts", "build", report.BuildID, "count", len(facts))

	embedded := make([]types.EmbeddedFact, 0, len(facts))
	for i, f := range facts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		vec, err := s.embedder.Embed(ctx, f.Text, model.IntentDocument)
		if err != nil {
			return report, fmt.Errorf("embed %s: %w", f.ID, err)
		}
		if len(vec) == 0 {
			return report, fmt.Errorf("embed %s: %w", f.ID, model.ErrEmptyResponse)
		}
		if report.Dimension == 0 {
			report.Dimension = len(vec)
		} else if len(vec) != report.Dimension {
			return report, fmt.Errorf("embed %s: dimension %d, expected %d", f.ID, len(vec), report.Dimension)
		}
		embedded = append(embedded, types.EmbeddedFact{Fact: f, Embedding: vec})
		log.Printf("[EMBED] %d/%d %s", i+1, len(facts), f.ID)
	}

	if err := s.index.SaveIndex(ctx, embedded); err != nil {
		return report, fmt.Errorf("failed to save index: %w", err)
	}

	report.Facts = len(embedded)
	report.Took = time.Since(start)
	s.logger.Info("index written", "build", report.BuildID, "facts", report.Facts, "dimension", report.Dimension, "took", report.Took)
	return report, nil
}

func (s *Service) read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dataDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
