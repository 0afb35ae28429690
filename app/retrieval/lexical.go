// Package retrieval picks the knowledge base facts a question is about,
// by embedding similarity with a lexical fallback.
package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"klaus/types"
)

// MaxFacts is how many facts a single retrieval hands to the model.
const MaxFacts = 6

const (
	minTokenLen = 3
	minFuzzyLen = 4
	maxEditDist = 2

	substringScore = 2
	fuzzyScore     = 1
	onTopicBoost   = 4
	offTopicCost   = 2
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases s and collapses every non-alphanumeric run to one space.
func Normalize(s string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(s), " "))
}

// Tokenize splits normalized text into tokens of at least three characters.
func Tokenize(s string) []string {
	fields := strings.Fields(Normalize(s))
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Levenshtein is the classic edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Similarity scores a fact against query tokens. Each query token earns +2
// for a substring match in either direction with some fact token, else +1
// for a fact token within edit distance 2 (both tokens at least 4 long).
// With intent keywords, facts mentioning one get +4 and the rest lose 2.
// Scores only rank facts within one query.
func Similarity(queryTokens []string, fact types.Fact, keywords []string) int {
	factTokens := Tokenize(fact.Text + " " + fact.ID)
	score := 0
	for _, q := range queryTokens {
		for _, t := range factTokens {
			if strings.Contains(t, q) || strings.Contains(q, t) {
				score += substringScore
				break
			}
			if len(q) >= minFuzzyLen && len(t) >= minFuzzyLen && Levenshtein(q, t) <= maxEditDist {
				score += fuzzyScore
				break
			}
		}
	}

	if len(keywords) > 0 {
		joined := strings.Join(factTokens, " ")
		aligned := false
		for _, k := range keywords {
			if strings.Contains(joined, k) {
				aligned = true
				break
			}
		}
		if aligned {
			score += onTopicBoost
		} else {
			score -= offTopicCost
		}
	}
	return score
}

type scoredFact struct {
	fact  types.Fact
	score int
}

// SelectRelevantFacts returns up to MaxFacts facts with a positive lexical
// score for message, best first, boosted toward topic.
func SelectRelevantFacts(message string, facts []types.Fact, topic Topic) []types.Fact {
	queryTokens := Tokenize(message)

	scored := make([]scoredFact, 0, len(facts))
	for _, f := range facts {
		if s := Similarity(queryTokens, f, topic.Keywords); s > 0 {
			scored = append(scored, scoredFact{fact: f, score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > MaxFacts {
		scored = scored[:MaxFacts]
	}
	out := make([]types.Fact, len(scored))
	for i, s := range scored {
		out[i] = s.fact
	}
	return out
}

// BestMatch returns the highest scoring fact for a sentence, without any
// intent boost. ok is false when facts is empty.
func BestMatch(sentenceTokens []string, facts []types.Fact) (best types.Fact, score int, ok bool) {
	for i, f := range facts {
		s := Similarity(sentenceTokens, f, nil)
		if i == 0 || s > score {
			best, score, ok = f, s, true
		}
	}
	return best, score, ok
}
