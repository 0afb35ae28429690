package retrieval

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"

	"klaus/model"
	"klaus/types"
)

const (
	// ShortQueryCutoff applies to queries of at most shortQueryTokens words.
	ShortQueryCutoff = 0.1
	LongQueryCutoff  = 0.2
	shortQueryTokens = 3
)

// FactSource is the read side of the fact store.
type FactSource interface {
	LoadFacts() ([]types.Fact, error)
	EmbeddedFactsByScope(context.Context, types.Scope) ([]types.EmbeddedFact, error)
}

// Method tells which path produced a retrieval result.
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodLexical   Method = "lexical"
)

// CosineSimilarity is 0 for zero-norm vectors and for vectors of different
// lengths, which come from different embedding models.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Cutoff is the minimum similarity a fact must exceed for query.
func Cutoff(query string) float64 {
	if len(strings.Fields(query)) <= shortQueryTokens {
		return ShortQueryCutoff
	}
	return LongQueryCutoff
}

type Retriever struct {
	facts      FactSource
	embedder   model.EmbedderInterface
	ownerTerms []string
}

func NewRetriever(facts FactSource, embedder model.EmbedderInterface, ownerTerms []string) *Retriever {
	return &Retriever{facts: facts, embedder: embedder, ownerTerms: ownerTerms}
}

func (r *Retriever) OwnerTerms() []string { return r.ownerTerms }

type scoredVector struct {
	fact  types.Fact
	score float64
}

// Retrieve ranks the embedded facts in scope against query and keeps the top
// k that clear the cutoff. It returns nothing when there is no index or the
// query cannot be embedded.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, scope types.Scope) []types.Fact {
	kb, err := r.facts.EmbeddedFactsByScope(ctx, scope)
	if err != nil {
		log.Printf("[RETRIEVE] cannot load embedding index: %v", err)
		return nil
	}
	if len(kb) == 0 {
		return nil
	}

	qv, err := r.embedder.Embed(ctx, query, model.IntentQuery)
	if err != nil {
		log.Printf("[RETRIEVE] query embedding failed: %v", err)
		return nil
	}
	if len(qv) == 0 {
		return nil
	}
	if dim := len(kb[0].Embedding); len(qv) != dim {
		log.Printf("[RETRIEVE] query vector has dimension %d, index has %d; rebuild the index", len(qv), dim)
		return nil
	}

	scored := make([]scoredVector, len(kb))
	for i, f := range kb {
		scored[i] = scoredVector{fact: f.Fact, score: CosineSimilarity(qv, f.Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	cutoff := Cutoff(query)
	out := make([]types.Fact, 0, len(scored))
	for _, s := range scored {
		if s.score > cutoff {
			out = append(out, s.fact)
		} else {
			log.Printf("[FILTER] dropped %s with similarity=%.4f (cutoff %.2f)", s.fact.ID, s.score, cutoff)
		}
	}
	return out
}

// RetrieveUnified tries embeddings first and falls back to the lexical
// matcher only when that yields nothing. The two result sets are never mixed.
func (r *Retriever) RetrieveUnified(ctx context.Context, query string, k int, scope types.Scope) ([]types.Fact, Method) {
	if facts := r.Retrieve(ctx, query, k, scope); len(facts) > 0 {
		return facts, MethodEmbedding
	}

	all, err := r.facts.LoadFacts()
	if err != nil {
		log.Printf("[RETRIEVE] cannot load facts: %v", err)
		return nil, MethodLexical
	}
	facts := SelectRelevantFacts(query, all, ClassifyTopic(query, r.ownerTerms))
	if len(facts) > k {
		facts = facts[:k]
	}
	return facts, MethodLexical
}
