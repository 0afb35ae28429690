package agent

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"klaus/app/retrieval"
	"klaus/types"
)

const (
	// MainHistoryWindow is how many past messages the main prompt carries.
	MainHistoryWindow = types.HistoryLimit
	// RepairHistoryWindow is the shorter window of the citation-repair prompt.
	RepairHistoryWindow = 6
)

// Composer renders every prompt the agent sends to the model.
type Composer struct {
	persona   types.Persona
	logTokens bool
}

func NewComposer(persona types.Persona, logTokens bool) *Composer {
	return &Composer{persona: persona, logTokens: logTokens}
}

// PromptInput is everything one grounded answer prompt is built from.
type PromptInput struct {
	Message string
	History []types.ChatMessage
	Facts   []types.Fact
	Topic   retrieval.Topic
	Links   Links
	// Enforce adds the explicit allow-list of citation ids.
	Enforce       bool
	HistoryWindow int
}

// Compose builds the answer prompt. Sections always come in this order:
// instructions, topic restriction, link policy, facts, citation allow-list,
// history, then the new user turn.
func (c *Composer) Compose(in PromptInput) string {
	var sb strings.Builder
	sb.WriteString(c.systemPrompt())

	if in.Topic.Name == retrieval.TopicML {
		sb.WriteString("\n\nIntent: MACHINE LEARNING. Only answer about machine learning, ML skills, or ML-labeled projects. " +
			"Ignore unrelated engineering facts unless they explicitly mention ML.")
	}

	sb.WriteString(linkPolicy(in.Links))
	sb.WriteString(formatFacts(in.Facts))

	if in.Enforce && len(in.Facts) > 0 {
		allowed := make([]string, len(in.Facts))
		for i, f := range in.Facts {
			allowed[i] = "[" + f.ID + "]"
		}
		fmt.Fprintf(&sb, "\n\nIMPORTANT: Use only these citation ids: %s. Do NOT invent new ids. "+
			"If you cannot support the answer with ONLY these ids, set supported_by_facts=false.", strings.Join(allowed, ", "))
	}

	window := in.HistoryWindow
	if window <= 0 {
		window = MainHistoryWindow
	}
	sb.WriteString("\n\n")
	if h := formatHistory(types.TrimHistory(in.History, window)); h != "" {
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User: %s\nAssistant:", in.Message)

	prompt := sb.String()
	c.logSize("answer", prompt)
	return prompt
}

// ProgramPrompt asks for the degree or study program, restricted to facts.
func (c *Composer) ProgramPrompt(facts []types.Fact) string {
	lines := []string{
		"From the provided facts, extract the exact degree/program and university if present. Return strictly JSON:",
		`{"answer": string, "supported_by_facts": boolean, "citations": string[]}`,
		"Do not invent anything. If not present, set supported_by_facts=false and answer with a brief polite fallback.",
		"",
		"Facts:",
	}
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- [%s] %s", f.ID, f.Text))
	}
	prompt := strings.Join(lines, "\n")
	c.logSize("program", prompt)
	return prompt
}

// RefinePrompt asks the model for up to three short search queries.
func (c *Composer) RefinePrompt(message string, facts []types.Fact) string {
	lines := []string{
		"You will write up to 3 concise search queries for a vector DB to answer the user.",
		"Use only essential keywords and entities; each under 8 words.",
		"Return JSON array of strings, no prose.",
		"",
		"User: " + message,
	}
	if len(facts) > 0 {
		known := make([]string, len(facts))
		for i, f := range facts {
			known[i] = "- " + f.Text
		}
		lines = append(lines, "Known facts:\n"+strings.Join(known, "\n"))
	} else {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func (c *Composer) systemPrompt() string {
	p := c.persona
	contact := contactPhrase(p)
	return fmt.Sprintf("You are %s, a friendly assistant representing %s (portfolio). ", p.AssistantName, p.OwnerName) +
		"Use the provided site facts and any retrieved documents first to answer. " +
		"Keep replies concise (1-5 short lines) and speak in first person. Do not add any signature lines. " +
		"You MUST only answer if supported by the provided facts. " +
		`Respond STRICTLY in JSON with the following schema: {"answer": string, "supported_by_facts": boolean, "citations": string[]} ` +
		"Where citations must reference ONLY the exact [id] values from Context Facts below (no invented ids). " +
		"If ANY citation is not present in Context Facts, you MUST set supported_by_facts=false. " +
		"If not supported, set supported_by_facts=false and craft a brief, natural fallback that acknowledges the user's intent " +
		fmt.Sprintf("(e.g., if they ask for a phone number, say you don't have it) and offer contact via %s. ", contact) +
		"Do not output any specific phone numbers or private data unless explicitly present in Context Facts. " +
		"Do not invent facts. Provide short links to Projects/Resume sections when relevant and ask one follow-up question if helpful. " +
		"The JSON answer must be clean Markdown (no code fences), use bullet points when helpful, and bold key entities with **bold**. " +
		fmt.Sprintf("You may handle basic greetings and small talk as long as they are not about %s or the projects.", p.OwnerName)
}

func contactPhrase(p types.Persona) string {
	if p.ContactEmail != "" {
		return fmt.Sprintf("email at %s or the contact form", p.ContactEmail)
	}
	return "the contact form"
}

func linkPolicy(l Links) string {
	if l.Origin != "" {
		return fmt.Sprintf("\n\nLink policy: Use only these exact links when relevant: Projects: %s , Resume: %s . Do not use other domains.",
			l.Projects, l.Resume)
	}
	return fmt.Sprintf("\n\nLink policy: Use only relative links when relevant: Projects: %s , Resume: %s .", l.Projects, l.Resume)
}

func formatFacts(facts []types.Fact) string {
	if len(facts) == 0 {
		return ""
	}
	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = fmt.Sprintf("- [%s] %s", f.ID, f.Text)
	}
	return "\n\nContext Facts (cite by [id]):\n" + strings.Join(lines, "\n")
}

func formatHistory(history []types.ChatMessage) string {
	lines := make([]string, len(history))
	for i, m := range history {
		speaker := "Assistant"
		if m.Role == types.RoleUser {
			speaker = "User"
		}
		lines[i] = speaker + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

func (c *Composer) logSize(kind, prompt string) {
	if !c.logTokens {
		return
	}
	count, err := CountTokens(prompt)
	if err != nil {
		log.Printf("[PROMPT] token count failed: %v", err)
		return
	}
	log.Printf("[PROMPT] %s prompt: %d tokens, %d symbols", kind, count, len(prompt))
}

func CountTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
