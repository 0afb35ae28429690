package retrieval

import (
	"regexp"
	"slices"
	"strings"

	"klaus/types"
)

const (
	TopicGeneral  = "general"
	TopicML       = "ml"
	TopicIdentity = "identity"
)

// Topic is the narrow subject a message is about, with the keywords used to
// boost on-topic facts.
type Topic struct {
	Name     string
	Keywords []string
}

var (
	profileHints = []string{
		"linkedin", "resume", "cv", "work history", "work experience", "experience",
		"job", "roles", "positions", "employer", "company", "education", "certification",
		"skills", "endorsements", "recommendations",
	}
	siteHints = []string{"portfolio", "project", "this site", "on your site"}

	mlKeywords = []string{"machine", "learning", "ml", "scikit", "tensorflow", "keras", "pytorch", "hugging", "vision", "nlp", "deep"}
	mlPhraseRe = regexp.MustCompile(`machine\s+learning|deep\s+learning|computer\s+vision|nlp`)

	identityKeywords = []string{"master", "owner", "creator", "author", "made", "built", "who", "klaus", "portfolio"}

	programRe = regexp.MustCompile(`(?i)\bdegree|program|course|major|study|studying|enrolled\b`)
)

var ownerStopwords = map[string]bool{"the": true, "site": true, "owner": true, "and": true}

// OwnerTerms turns the owner's display name into identity keywords.
func OwnerTerms(name string) []string {
	var terms []string
	for _, t := range Tokenize(name) {
		if !ownerStopwords[t] {
			terms = append(terms, t)
		}
	}
	return terms
}

// ClassifyScope routes career and résumé vocabulary to profile facts and
// portfolio vocabulary to site facts. Everything else is unrestricted.
func ClassifyScope(message string) types.Scope {
	q := Normalize(message)
	if containsAny(q, profileHints) {
		return types.ScopeProfile
	}
	if containsAny(q, siteHints) {
		return types.ScopeSite
	}
	return types.ScopeAny
}

// ClassifyTopic detects machine-learning questions first, then questions
// about who made the site or the assistant. ownerTerms extend the identity
// vocabulary with the owner's name.
func ClassifyTopic(message string, ownerTerms []string) Topic {
	q := Normalize(message)

	for _, t := range strings.Fields(q) {
		if slices.Contains(mlKeywords, t) {
			return Topic{Name: TopicML, Keywords: mlKeywords}
		}
	}
	if mlPhraseRe.MatchString(q) {
		return Topic{Name: TopicML, Keywords: mlKeywords}
	}

	identity := append(slices.Clip(identityKeywords), ownerTerms...)
	if containsAny(q, identity) {
		return Topic{Name: TopicIdentity, Keywords: identity}
	}
	return Topic{Name: TopicGeneral}
}

// ExpandQuery appends synonyms for common short forms and typos so the
// first retrieval round casts a wider net.
func ExpandQuery(message string) string {
	q := Normalize(message)
	for _, e := range expansions {
		if e.re.MatchString(q) {
			return message + " " + e.extra
		}
	}
	return message
}

var expansions = []struct {
	re    *regexp.Regexp
	extra string
}{
	{regexp.MustCompile(`\bclg|cllg|college\b`), "college education university"},
	{regexp.MustCompile(`\bschl|scholl|school\b`), "school education academics"},
	{regexp.MustCompile(`\bedu|education\b`), "university college cgpa bachelor"},
	{regexp.MustCompile(`\bdegree|program|course\b`), "bachelor masters b.tech b.e. bs ms program"},
	{regexp.MustCompile(`\benroll|enrolled|studying|study\b`), "degree program university college"},
}

// IsProgramQuery reports whether the message asks about a degree or study
// program.
func IsProgramQuery(message string) bool {
	return programRe.MatchString(message)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
