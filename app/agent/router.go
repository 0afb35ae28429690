package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"klaus/app/retrieval"
	"klaus/model"
	"klaus/store"
	"klaus/types"
)

const (
	emptyMessageReply = "Please type a question for me to help with."
	internalErrReply  = "Something went wrong on the server. Please try again later."
	tooLongReply      = "That message is a bit long for me. Could you ask it in a shorter question?"

	// MaxMessageRunes bounds the work lexical scoring does per message.
	MaxMessageRunes = 2000

	maxSessionKeyLen = 200
	healthProbe      = "ping (respond with: pong)"
)

// Router is the entry point for chat messages. It never fails: every path
// ends in a reply string.
type Router struct {
	agent    *Agent
	sessions store.SessionStorer
	llm      model.Generator
	persona  types.Persona
	logger   *slog.Logger
}

func NewRouter(agent *Agent, sessions store.SessionStorer, llm model.Generator, persona types.Persona) *Router {
	return &Router{
		agent:    agent,
		sessions: sessions,
		llm:      llm,
		persona:  persona,
		logger:   slog.Default(),
	}
}

// SessionKey derives the conversation key from the page context.
func SessionKey(pageContext string) string {
	r := []rune(pageContext)
	if len(r) > maxSessionKeyLen {
		r = r[:maxSessionKeyLen]
	}
	return "default:" + string(r)
}

func (rt *Router) HandleMessage(ctx context.Context, message string, history []types.ChatMessage, pageContext string) (reply string) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("chat handler panicked", "request_id", requestID(ctx), "panic", rec)
			reply = internalErrReply
		}
	}()

	message = strings.TrimSpace(message)
	if message == "" {
		return emptyMessageReply
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageRunes {
		rt.logger.Warn("message too long", "request_id", requestID(ctx), "runes", n)
		return tooLongReply
	}
	if r, ok := SmallTalkReply(message, rt.persona); ok {
		return r
	}

	key := SessionKey(pageContext)
	existing, err := rt.sessions.Get(ctx, key)
	if err != nil {
		rt.logger.Warn("session read failed", "request_id", requestID(ctx), "error", err)
	}
	merged := types.TrimHistory(append(existing, types.ValidHistory(history)...), types.HistoryLimit)

	scope := retrieval.ClassifyScope(message)
	res := rt.agent.Answer(ctx, message, merged, pageContext, scope)

	updated := append(merged[:len(merged):len(merged)],
		types.ChatMessage{Role: types.RoleUser, Content: message},
		types.ChatMessage{Role: types.RoleAssistant, Content: res.Reply},
	)
	if err := rt.sessions.Put(ctx, key, updated); err != nil {
		rt.logger.Warn("session write failed", "request_id", requestID(ctx), "error", err)
	}
	return res.Reply
}

// Health makes one trivial model call, bypassing retrieval.
func (rt *Router) Health(ctx context.Context) types.HealthReport {
	report := types.HealthReport{HasKey: true, Model: rt.llm.Model()}

	out, err := rt.llm.Complete(ctx, healthProbe)
	if err != nil {
		rt.logger.Error("health probe failed", "error", err)
		var pe *model.ProviderError
		switch {
		case errors.Is(err, model.ErrNotConfigured):
			report.HasKey = false
			report.Note = "GEMINI_API_KEY is missing"
		case errors.As(err, &pe):
			report.ProviderStatus = pe.Status
		default:
			report.Note = err.Error()
		}
		return report
	}
	report.OK = strings.TrimSpace(out) != ""
	return report
}
