package agent

import (
	"fmt"
	"regexp"

	"klaus/app/retrieval"
	"klaus/types"
)

var (
	greetingRe = regexp.MustCompile(`^(hi|hii|hello|hey|yo|hola)\b`)
	thanksRe   = regexp.MustCompile(`^thank(s| you)\b`)
	howAreYou  = regexp.MustCompile(`how are you|hows it going|how s it going`)
)

// SmallTalkReply answers greetings, thanks and "how are you" without any
// retrieval or model call.
func SmallTalkReply(message string, p types.Persona) (string, bool) {
	q := retrieval.Normalize(message)
	switch {
	case greetingRe.MatchString(q):
		return fmt.Sprintf("Hey! I'm %s, %s's portfolio assistant. Ask me about projects, skills, experience, or how to get in touch.",
			p.AssistantName, p.OwnerName), true
	case thanksRe.MatchString(q):
		return fmt.Sprintf("You're welcome! If you'd like, I can share a quick summary of %s's recent projects.", p.OwnerName), true
	case howAreYou.MatchString(q):
		return fmt.Sprintf("Doing great and ready to help. What would you like to know about %s?", p.OwnerName), true
	}
	return "", false
}
