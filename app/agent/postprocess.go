package agent

import (
	"net/url"
	"regexp"
	"strings"
)

// Links are the only Projects and Resume URLs an answer may contain.
type Links struct {
	Origin   string
	Projects string
	Resume   string
}

// LinksFor derives the canonical links from the requesting page's origin,
// else from siteBase, else relative paths.
func LinksFor(pageContext, siteBase string) Links {
	origin := originOf(pageContext)
	if origin == "" {
		origin = strings.TrimRight(siteBase, "/")
	}
	return Links{
		Origin:   origin,
		Projects: origin + "/#projects",
		Resume:   origin + "/Resume.pdf",
	}
}

func originOf(pageContext string) string {
	if pageContext == "" {
		return ""
	}
	u, err := url.Parse(pageContext)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

var (
	projectsURLRe  = regexp.MustCompile(`https?://[^\s)]+/#projects`)
	projectsLinkRe = regexp.MustCompile(`(?i)\[Projects[^\]]*\]\([^)]+\)`)
	resumeURLRe    = regexp.MustCompile(`(?i)https?://[^\s)]+/Resume\.pdf`)
)

// RewriteLinks pins every Projects and Resume link in answer to links.
func RewriteLinks(answer string, links Links) string {
	if answer == "" {
		return answer
	}
	out := projectsURLRe.ReplaceAllLiteralString(answer, links.Projects)
	out = projectsLinkRe.ReplaceAllLiteralString(out, "[Projects]("+links.Projects+")")
	return resumeURLRe.ReplaceAllLiteralString(out, links.Resume)
}

// SanitizeReply strips a trailing signoff such as "- Klaus" or "-- Klaus.".
func SanitizeReply(text, assistantName string) string {
	if text == "" {
		return text
	}
	re, err := regexp.Compile(`(?i)\s*[—–-]{1,2}\s*` + regexp.QuoteMeta(assistantName) + `\.?\s*$`)
	if err != nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}
