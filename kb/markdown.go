// Package kb turns knowledge base sources (a heading-structured markdown
// document, flat fact records and a profile dump) into Facts.
package kb

import (
	"fmt"
	"regexp"
	"strings"

	"klaus/types"
)

var (
	headingRe  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	bulletRe   = regexp.MustCompile(`^[-*]\s+`)
	nonSlugRe  = regexp.MustCompile(`[^a-z0-9]+`)
	lineFeedRe = regexp.MustCompile(`\r?\n`)
)

// Slugify lowercases s, collapses every non-alphanumeric run to a single
// dash and trims leading and trailing dashes.
func Slugify(s string) string {
	slug := nonSlugRe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}

// ParseMarkdownFacts splits a markdown document into paragraph facts. A
// heading starts a new section: following paragraphs get ids
// "{slug}-{n}" with n counting from zero inside the section. Paragraphs
// before the first heading get "kb-{position}".
func ParseMarkdownFacts(md string) []types.Fact {
	var (
		facts     []types.Fact
		section   string
		paragraph int
		buf       []string
	)

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, " "))
		buf = buf[:0]
		if text == "" {
			return
		}
		var id string
		if section != "" {
			id = fmt.Sprintf("%s-%d", section, paragraph)
			paragraph++
		} else {
			id = fmt.Sprintf("kb-%d", len(facts))
		}
		facts = append(facts, types.Fact{ID: id, Text: text})
	}

	for _, raw := range lineFeedRe.Split(md, -1) {
		line := strings.TrimSpace(raw)
		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			section = Slugify(m[2])
			paragraph = 0
			continue
		}
		if line == "" {
			flush()
			continue
		}
		buf = append(buf, bulletRe.ReplaceAllString(line, ""))
	}
	flush()

	return facts
}

// Namespace prefixes every fact id with "{ns}:".
func Namespace(facts []types.Fact, ns string) []types.Fact {
	out := make([]types.Fact, len(facts))
	for i, f := range facts {
		out[i] = types.Fact{ID: ns + ":" + f.ID, Text: f.Text}
	}
	return out
}
