// Package agent turns a user question into an answer that cites only
// retrieved knowledge base facts, or into a safe fallback.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"klaus/app/retrieval"
	"klaus/model"
	"klaus/types"
)

const (
	// MaxRounds bounds retrieval+generation per message. Only the first
	// round may refine the query.
	MaxRounds = 2
	// GroundingThreshold is the lexical score each sentence needs against
	// its best fact for auto-grounding.
	GroundingThreshold = 3
	// MaxAutoCitations caps the citations synthesized by auto-grounding.
	MaxAutoCitations = 4
	maxRefinedQueries = 3
	minSentenceTokens = 3
)

type Outcome string

const (
	OutcomeGrounded      Outcome = "grounded"
	OutcomeDeclined      Outcome = "declined"
	OutcomeRepaired      Outcome = "repaired"
	OutcomeAutoGrounded  Outcome = "auto_grounded"
	OutcomeProgram       Outcome = "program"
	OutcomeFallback      Outcome = "fallback"
	OutcomeNotConfigured Outcome = "not_configured"
	OutcomeProviderError Outcome = "provider_error"
)

// Result is the final answer for one message. Citations are always a subset
// of the facts retrieved in the round that produced the answer.
type Result struct {
	Reply     string
	Citations []string
	Outcome   Outcome
	Rounds    int
}

type Agent struct {
	llm        model.Generator
	retriever  *retrieval.Retriever
	composer   *Composer
	persona    types.Persona
	production bool
	logger     *slog.Logger
}

func NewAgent(llm model.Generator, retriever *retrieval.Retriever, composer *Composer, persona types.Persona, production bool) *Agent {
	return &Agent{
		llm:        llm,
		retriever:  retriever,
		composer:   composer,
		persona:    persona,
		production: production,
		logger:     slog.Default(),
	}
}

// Fallback is the fixed reply used when nothing could be grounded.
func (a *Agent) Fallback() string {
	if a.persona.ContactEmail != "" {
		return fmt.Sprintf("I'm not sure about that. You can email %s at %s or use the contact form on the site.",
			a.persona.OwnerName, a.persona.ContactEmail)
	}
	return "I'm not sure about that. You can reach out through the contact form on the site."
}

// Answer runs the grounding loop for message within scope.
func (a *Agent) Answer(ctx context.Context, message string, history []types.ChatMessage, pageContext string, scope types.Scope) Result {
	start := time.Now()
	links := LinksFor(pageContext, a.persona.SiteBaseURL)
	topic := retrieval.ClassifyTopic(message, a.retriever.OwnerTerms())
	working := retrieval.ExpandQuery(message)

	res := Result{Reply: a.Fallback(), Outcome: OutcomeFallback}
	for round := 0; round < MaxRounds; round++ {
		facts, method := a.retriever.RetrieveUnified(ctx, working, retrieval.MaxFacts, scope)
		log.Printf("[RETRIEVE] %s round=%d scope=%s method=%s facts=%d", requestID(ctx), round+1, scope, method, len(facts))

		raw, err := a.llm.Complete(ctx, a.composer.Compose(PromptInput{
			Message: message,
			History: history,
			Facts:   facts,
			Topic:   topic,
			Links:   links,
		}))
		if err != nil {
			res = a.providerFailure(err)
			res.Rounds = round + 1
			a.logDone(ctx, res, start)
			return res
		}

		if r, ok := a.round(ctx, raw, message, history, facts, topic, links); ok {
			r.Rounds = round + 1
			a.logDone(ctx, r, start)
			return r
		}

		res.Rounds = round + 1
		if round == 0 {
			if suggestions := a.refine(ctx, message, facts); len(suggestions) > 0 {
				working = message + " " + suggestions[0]
				log.Printf("[REFINE] %s next query: %q", requestID(ctx), working)
				continue
			}
		}
		break
	}

	a.logDone(ctx, res, start)
	return res
}

// round walks the acceptance chain for one model response.
func (a *Agent) round(ctx context.Context, raw, message string, history []types.ChatMessage, facts []types.Fact, topic retrieval.Topic, links Links) (Result, bool) {
	decoded := model.DecodeAnswer(raw)
	if decoded.Status != model.DecodeOK {
		log.Printf("[VERIFY] %s main answer %s: %v", requestID(ctx), decoded.Status, decoded.Err)
	}
	if r, ok := a.accept(decoded, facts, links, OutcomeGrounded, true); ok {
		return r, true
	}

	if r, ok := a.repair(ctx, message, history, facts, topic, links); ok {
		return r, true
	}

	if r, ok := a.autoGround(raw, decoded, facts, links); ok {
		return r, true
	}

	if retrieval.IsProgramQuery(message) && len(facts) > 0 {
		out, err := a.llm.Complete(ctx, a.composer.ProgramPrompt(facts))
		if err != nil {
			log.Printf("[VERIFY] %s program prompt failed: %v", requestID(ctx), err)
		} else if r, ok := a.accept(model.DecodeAnswer(out), facts, links, OutcomeProgram, false); ok {
			return r, true
		}
	}
	return Result{}, false
}

// accept applies the grounding rule: a supported answer needs a non-empty
// citation list drawn entirely from facts. With allowDecline an explicit
// unsupported answer with text is surfaced as the model's own fallback.
func (a *Agent) accept(d model.Decoded, facts []types.Fact, links Links, outcome Outcome, allowDecline bool) (Result, bool) {
	if d.Status != model.DecodeOK {
		return Result{}, false
	}
	ans := d.Answer
	if ans.SupportedByFacts && ans.Answer != "" && citationsValid(ans.Citations, facts) {
		return Result{Reply: a.finish(ans.Answer, links), Citations: ans.Citations, Outcome: outcome}, true
	}
	if allowDecline && !ans.SupportedByFacts && strings.TrimSpace(ans.Answer) != "" {
		return Result{Reply: a.finish(ans.Answer, links), Outcome: OutcomeDeclined}, true
	}
	return Result{}, false
}

func citationsValid(citations []string, facts []types.Fact) bool {
	if len(citations) == 0 {
		return false
	}
	ids := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		ids[f.ID] = struct{}{}
	}
	for _, c := range citations {
		if _, ok := ids[c]; !ok {
			return false
		}
	}
	return true
}

// repair re-asks with the same facts and an explicit allow-list of ids.
func (a *Agent) repair(ctx context.Context, message string, history []types.ChatMessage, facts []types.Fact, topic retrieval.Topic, links Links) (Result, bool) {
	if len(facts) == 0 {
		return Result{}, false
	}
	raw, err := a.llm.Complete(ctx, a.composer.Compose(PromptInput{
		Message:       message,
		History:       history,
		Facts:         facts,
		Topic:         topic,
		Links:         links,
		Enforce:       true,
		HistoryWindow: RepairHistoryWindow,
	}))
	if err != nil {
		log.Printf("[VERIFY] %s repair prompt failed: %v", requestID(ctx), err)
		return Result{}, false
	}
	return a.accept(model.DecodeAnswer(raw), facts, links, OutcomeRepaired, false)
}

// autoGround accepts the candidate answer when every meaningful sentence has
// a fact scoring at least GroundingThreshold, citing those facts.
func (a *Agent) autoGround(raw string, decoded model.Decoded, facts []types.Fact, links Links) (Result, bool) {
	candidate := raw
	if body, ok := model.ExtractJSON(raw); ok {
		candidate = ""
		if decoded.Status == model.DecodeOK {
			candidate = decoded.Answer.Answer
		} else {
			var loose struct {
				Answer string `json:"answer"`
			}
			if json.Unmarshal([]byte(body), &loose) == nil {
				candidate = loose.Answer
			}
		}
	}
	answer := SanitizeReply(candidate, a.persona.AssistantName)
	if answer == "" {
		return Result{}, false
	}

	citations, ok := GroundSentences(answer, facts)
	if !ok {
		return Result{}, false
	}
	return Result{Reply: RewriteLinks(answer, links), Citations: citations, Outcome: OutcomeAutoGrounded}, true
}

// GroundSentences matches each sentence of answer with at least three tokens
// to its best fact. It fails as soon as one sentence scores below
// GroundingThreshold, or when no sentence was checked.
func GroundSentences(answer string, facts []types.Fact) ([]string, bool) {
	var citations []string
	seen := make(map[string]bool)
	for _, s := range SplitSentences(answer) {
		tokens := retrieval.Tokenize(s)
		if len(tokens) < minSentenceTokens {
			continue
		}
		best, score, ok := retrieval.BestMatch(tokens, facts)
		if !ok || score < GroundingThreshold {
			return nil, false
		}
		if !seen[best.ID] {
			seen[best.ID] = true
			citations = append(citations, best.ID)
		}
	}
	if len(citations) == 0 {
		return nil, false
	}
	if len(citations) > MaxAutoCitations {
		citations = citations[:MaxAutoCitations]
	}
	return citations, true
}

var sentenceEndRe = regexp.MustCompile(`[.!?]\s+|\n+`)

// SplitSentences splits after sentence-ending punctuation followed by
// whitespace, and on newlines.
func SplitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		end := loc[0]
		if text[loc[0]] == '.' || text[loc[0]] == '!' || text[loc[0]] == '?' {
			end++
		}
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

func (a *Agent) refine(ctx context.Context, message string, facts []types.Fact) []string {
	raw, err := a.llm.Complete(ctx, a.composer.RefinePrompt(message, facts))
	if err != nil {
		log.Printf("[REFINE] %s failed: %v", requestID(ctx), err)
		return nil
	}
	return model.DecodeQueries(raw, maxRefinedQueries)
}

func (a *Agent) finish(answer string, links Links) string {
	return RewriteLinks(SanitizeReply(answer, a.persona.AssistantName), links)
}

// providerFailure maps a failed main model call to an advisory reply. Outside
// production, auth and model-name problems get a diagnostic hint.
func (a *Agent) providerFailure(err error) Result {
	a.logger.Error("model provider call failed", "error", err)
	if errors.Is(err, model.ErrNotConfigured) {
		return Result{
			Reply:   "I'm not sure about that right now. The backend API key is not configured. Please try again later or use the contact form.",
			Outcome: OutcomeNotConfigured,
		}
	}

	var pe *model.ProviderError
	if !a.production && errors.As(err, &pe) {
		switch pe.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return Result{
				Reply:   "Server config issue: GEMINI_API_KEY is missing or invalid. Update .env and restart.",
				Outcome: OutcomeProviderError,
			}
		case http.StatusNotFound:
			return Result{
				Reply:   fmt.Sprintf("Server config issue: model name %q might be wrong. Check GEMINI_MODEL.", a.llm.Model()),
				Outcome: OutcomeProviderError,
			}
		}
	}
	return Result{
		Reply:   "Sorry, my brain is having a moment. Please try again in a bit or reach out via the contact form.",
		Outcome: OutcomeProviderError,
	}
}

func (a *Agent) logDone(ctx context.Context, r Result, start time.Time) {
	a.logger.Info("answer ready",
		"request_id", requestID(ctx),
		"outcome", string(r.Outcome),
		"rounds", r.Rounds,
		"citations", r.Citations,
		"took", time.Since(start).String())
}

type requestIDKey struct{}

// WithRequestID tags ctx so pipeline log lines can be correlated.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "-"
}
