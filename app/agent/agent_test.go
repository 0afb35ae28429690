package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaus/app/retrieval"
	"klaus/model"
	"klaus/store"
	"klaus/types"
)

var testPersona = types.Persona{
	AssistantName: "Klaus",
	OwnerName:     "Sandeep",
	ContactEmail:  "me@example.com",
	SiteBaseURL:   "https://example.com",
}

var cgpaFact = types.Fact{ID: "btech-cse-0", Text: "Pursuing a B.Tech in CSE at VIT Bhopal University with CGPA 8.58"}

const (
	goodAnswer  = `{"answer":"My CGPA is 8.58.","supported_by_facts":true,"citations":["btech-cse-0"]}`
	badCitation = `{"answer":"I won the Nobel prize.","supported_by_facts":true,"citations":["made-up"]}`
)

type fakeFacts struct {
	facts    []types.Fact
	embedded []types.EmbeddedFact
}

func (f *fakeFacts) LoadFacts() ([]types.Fact, error) { return f.facts, nil }

func (f *fakeFacts) EmbeddedFactsByScope(context.Context, types.Scope) ([]types.EmbeddedFact, error) {
	return f.embedded, nil
}

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(context.Context, string, model.EmbedIntent) ([]float32, error) {
	f.calls++
	return []float32{1, 0}, nil
}

// fakeLLM answers by prompt kind. answer is called with the 1-based index of
// the grounded-answer prompt (main and repair prompts share the sequence).
type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	answers int

	answer  func(n int, prompt string) (string, error)
	program string
	refine  string
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	switch {
	case strings.HasPrefix(prompt, "You will write up to 3"):
		return f.refine, nil
	case strings.HasPrefix(prompt, "From the provided facts"):
		return f.program, nil
	case strings.HasPrefix(prompt, "You are"):
		f.answers++
		if f.answer == nil {
			return "", errors.New("no answer scripted")
		}
		return f.answer(f.answers, prompt)
	default:
		return "pong", nil
	}
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func always(s string) func(int, string) (string, error) {
	return func(int, string) (string, error) { return s, nil }
}

func newTestRouter(llm *fakeLLM, facts []types.Fact, production bool) (*Router, *fakeEmbedder, *store.MemorySessionStore) {
	emb := &fakeEmbedder{}
	r := retrieval.NewRetriever(&fakeFacts{facts: facts}, emb, retrieval.OwnerTerms(testPersona.OwnerName))
	a := NewAgent(llm, r, NewComposer(testPersona, false), testPersona, production)
	sessions := store.NewMemorySessionStore()
	return NewRouter(a, sessions, llm, testPersona), emb, sessions
}

func newTestAgent(llm *fakeLLM, facts []types.Fact) *Agent {
	r := retrieval.NewRetriever(&fakeFacts{facts: facts}, &fakeEmbedder{}, nil)
	return NewAgent(llm, r, NewComposer(testPersona, false), testPersona, false)
}

func TestRouter_GreetingSkipsPipeline(t *testing.T) {
	llm := &fakeLLM{answer: always(goodAnswer)}
	rt, emb, sessions := newTestRouter(llm, []types.Fact{cgpaFact}, false)

	for _, msg := range []string{"hi", "Hello there!", "thanks a lot", "How's it going?"} {
		reply := rt.HandleMessage(context.Background(), msg, nil, "https://example.com/")
		assert.NotEmpty(t, reply, msg)
	}
	assert.Zero(t, llm.calls())
	assert.Zero(t, emb.calls)

	h, _ := sessions.Get(context.Background(), SessionKey("https://example.com/"))
	assert.Empty(t, h)
}

func TestRouter_EmptyMessage(t *testing.T) {
	llm := &fakeLLM{answer: always(goodAnswer)}
	rt, _, _ := newTestRouter(llm, []types.Fact{cgpaFact}, false)

	assert.Equal(t, emptyMessageReply, rt.HandleMessage(context.Background(), "   \n\t", nil, ""))
	assert.Equal(t, emptyMessageReply, rt.HandleMessage(context.Background(), "", nil, ""))
	assert.Zero(t, llm.calls())
}

func TestRouter_MessageTooLong(t *testing.T) {
	llm := &fakeLLM{answer: always(goodAnswer)}
	rt, _, _ := newTestRouter(llm, []types.Fact{cgpaFact}, false)
	ctx := context.Background()

	long := strings.Repeat("cgpa ", MaxMessageRunes)
	assert.Equal(t, tooLongReply, rt.HandleMessage(ctx, long, nil, ""))
	assert.Zero(t, llm.calls())

	atLimit := strings.Repeat("é", MaxMessageRunes)
	assert.NotEqual(t, tooLongReply, rt.HandleMessage(ctx, atLimit, nil, ""))
}

func TestRouter_GroundedAnswer(t *testing.T) {
	llm := &fakeLLM{answer: always(goodAnswer)}
	rt, _, sessions := newTestRouter(llm, []types.Fact{cgpaFact}, false)
	ctx := context.Background()

	reply := rt.HandleMessage(ctx, "What is your CGPA?", nil, "https://example.com/about")
	assert.Equal(t, "My CGPA is 8.58.", reply)
	assert.Equal(t, 1, llm.calls())
	assert.Contains(t, llm.prompts[0], "- [btech-cse-0] "+cgpaFact.Text)

	h, err := sessions.Get(ctx, SessionKey("https://example.com/about"))
	require.NoError(t, err)
	assert.Equal(t, []types.ChatMessage{
		{Role: types.RoleUser, Content: "What is your CGPA?"},
		{Role: types.RoleAssistant, Content: "My CGPA is 8.58."},
	}, h)
}

func TestRouter_MergesAndCapsHistory(t *testing.T) {
	llm := &fakeLLM{answer: always(goodAnswer)}
	rt, _, sessions := newTestRouter(llm, []types.Fact{cgpaFact}, false)
	ctx := context.Background()
	key := SessionKey("")

	var client []types.ChatMessage
	for i := 0; i < 12; i++ {
		client = append(client, types.ChatMessage{Role: types.RoleUser, Content: "old question"})
	}
	client = append(client, types.ChatMessage{Role: "system", Content: "ignored"})

	rt.HandleMessage(ctx, "What is your CGPA?", client, "")
	h, err := sessions.Get(ctx, key)
	require.NoError(t, err)
	assert.Len(t, h, types.HistoryLimit)
	assert.Equal(t, "My CGPA is 8.58.", h[len(h)-1].Content)
	for _, m := range h {
		assert.NotEqual(t, "system", m.Role)
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	llm := &fakeLLM{answer: func(int, string) (string, error) { panic("boom") }}
	rt, _, _ := newTestRouter(llm, []types.Fact{cgpaFact}, false)
	assert.Equal(t, internalErrReply, rt.HandleMessage(context.Background(), "What is your CGPA?", nil, ""))
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "default:", SessionKey(""))
	assert.Equal(t, "default:"+strings.Repeat("a", 200), SessionKey(strings.Repeat("a", 300)))
}

func TestAgent_InvalidCitationFallsBack(t *testing.T) {
	llm := &fakeLLM{answer: always(badCitation), refine: "[]"}
	a := newTestAgent(llm, []types.Fact{cgpaFact})

	res := a.Answer(context.Background(), "What is your CGPA?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, a.Fallback(), res.Reply)
	assert.Contains(t, res.Reply, "me@example.com")
	assert.NotContains(t, res.Reply, "Nobel")
	assert.Empty(t, res.Citations)
	assert.Equal(t, 2, llm.answers, "main prompt then citation repair")
	assert.Contains(t, llm.prompts[1], "IMPORTANT: Use only these citation ids: [btech-cse-0]")
}

func TestAgent_FencedResponse(t *testing.T) {
	llm := &fakeLLM{answer: always("Sure, here it is:\n```json\n" + goodAnswer + "\n```")}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "What is your CGPA?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeGrounded, res.Outcome)
	assert.Equal(t, "My CGPA is 8.58.", res.Reply)
	assert.Equal(t, []string{"btech-cse-0"}, res.Citations)
}

func TestAgent_ExplicitDeclineIsSurfaced(t *testing.T) {
	llm := &fakeLLM{answer: always(`{"answer":"I don't have a phone number to share. - Klaus","supported_by_facts":false,"citations":[]}`)}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "What is your phone number?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeDeclined, res.Outcome)
	assert.Equal(t, "I don't have a phone number to share.", res.Reply)
	assert.Empty(t, res.Citations)
	assert.Equal(t, 1, llm.answers)
}

func TestAgent_RepairAccepted(t *testing.T) {
	llm := &fakeLLM{answer: func(n int, _ string) (string, error) {
		if n == 1 {
			return badCitation, nil
		}
		return goodAnswer, nil
	}}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "What is your CGPA?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeRepaired, res.Outcome)
	assert.Equal(t, []string{"btech-cse-0"}, res.Citations)
}

func TestAgent_AutoGrounding(t *testing.T) {
	llm := &fakeLLM{answer: always("I am pursuing a B.Tech at VIT Bhopal University.\nOk.")}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "Where do you study?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeAutoGrounded, res.Outcome)
	assert.Equal(t, "I am pursuing a B.Tech at VIT Bhopal University.\nOk.", res.Reply)
	assert.Equal(t, []string{"btech-cse-0"}, res.Citations)
}

func TestAgent_ProgramExtraction(t *testing.T) {
	llm := &fakeLLM{
		answer:  always(badCitation),
		program: `{"answer":"I'm pursuing a **B.Tech in CSE** at VIT Bhopal University.","supported_by_facts":true,"citations":["btech-cse-0"]}`,
	}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "Which degree program are you in?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeProgram, res.Outcome)
	assert.Equal(t, []string{"btech-cse-0"}, res.Citations)
}

func TestAgent_RefinesOnce(t *testing.T) {
	llm := &fakeLLM{
		answer: func(n int, _ string) (string, error) {
			if n <= 2 {
				return badCitation, nil
			}
			return goodAnswer, nil
		},
		refine: `["cgpa vit bhopal", "btech grades"]`,
	}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "What is your CGPA?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeGrounded, res.Outcome)
	assert.Equal(t, 2, res.Rounds)
}

func TestAgent_NeverMoreThanTwoRounds(t *testing.T) {
	llm := &fakeLLM{answer: always(badCitation), refine: `["cgpa"]`}
	res := newTestAgent(llm, []types.Fact{cgpaFact}).Answer(context.Background(), "What is your CGPA?", nil, "", types.ScopeAny)
	assert.Equal(t, OutcomeFallback, res.Outcome)
	assert.Equal(t, MaxRounds, res.Rounds)
	assert.Equal(t, 4, llm.answers, "main and repair in each round")
	refines := 0
	for _, p := range llm.prompts {
		if strings.HasPrefix(p, "You will write up to 3") {
			refines++
		}
	}
	assert.Equal(t, 1, refines)
}

func TestAgent_CitationsAlwaysFromRetrievedFacts(t *testing.T) {
	facts := []types.Fact{cgpaFact, {ID: "projects-0", Text: "Built a computer vision project with PyTorch"}}
	responses := []string{
		goodAnswer,
		badCitation,
		`{"answer":"x","supported_by_facts":true,"citations":["btech-cse-0","nope"]}`,
		`{"answer":"x","supported_by_facts":true,"citations":[]}`,
		`{"answer":"I built a computer vision project with PyTorch.","supported_by_facts":true,"citations":["ghost"]}`,
		"not json at all",
		"",
	}
	allowed := map[string]bool{"btech-cse-0": true, "projects-0": true}
	for _, raw := range responses {
		llm := &fakeLLM{answer: always(raw), refine: "[]"}
		res := newTestAgent(llm, facts).Answer(context.Background(), "Tell me about your CGPA and computer vision project", nil, "", types.ScopeAny)
		for _, c := range res.Citations {
			assert.True(t, allowed[c], "citation %q from response %q", c, raw)
		}
		if res.Outcome != OutcomeFallback && res.Outcome != OutcomeDeclined {
			assert.NotEmpty(t, res.Citations, raw)
		}
	}
}

func TestAgent_ProviderFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		production bool
		outcome    Outcome
		contains   string
	}{
		{"not configured", model.ErrNotConfigured, false, OutcomeNotConfigured, "not configured"},
		{"bad key in dev", &model.ProviderError{Status: 403}, false, OutcomeProviderError, "GEMINI_API_KEY"},
		{"bad model in dev", &model.ProviderError{Status: 404}, false, OutcomeProviderError, "fake-model"},
		{"bad key in prod", &model.ProviderError{Status: 403}, true, OutcomeProviderError, "brain is having a moment"},
		{"timeout", model.ErrTimeout, false, OutcomeProviderError, "brain is having a moment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{answer: func(int, string) (string, error) { return "", tt.err }}
			r := retrieval.NewRetriever(&fakeFacts{facts: []types.Fact{cgpaFact}}, &fakeEmbedder{}, nil)
			a := NewAgent(llm, r, NewComposer(testPersona, false), testPersona, tt.production)

			res := a.Answer(context.Background(), "What is your CGPA?", nil, "", types.ScopeAny)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Contains(t, res.Reply, tt.contains)
			assert.Equal(t, 1, llm.calls())
		})
	}
}

func TestRouter_Health(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		llm := &fakeLLM{}
		rt, _, _ := newTestRouter(llm, nil, false)
		rep := rt.Health(context.Background())
		assert.Equal(t, types.HealthReport{OK: true, HasKey: true, Model: "fake-model"}, rep)
		assert.Equal(t, []string{healthProbe}, llm.prompts)
	})

	t.Run("failures", func(t *testing.T) {
		rt, _, _ := newTestRouter(&fakeLLM{}, nil, false)
		rt.llm = errLLM{err: model.ErrNotConfigured}
		rep := rt.Health(context.Background())
		assert.False(t, rep.OK)
		assert.False(t, rep.HasKey)
		assert.NotEmpty(t, rep.Note)

		rt.llm = errLLM{err: &model.ProviderError{Status: 500}}
		rep = rt.Health(context.Background())
		assert.False(t, rep.OK)
		assert.True(t, rep.HasKey)
		assert.Equal(t, 500, rep.ProviderStatus)
	})
}

type errLLM struct{ err error }

func (e errLLM) Model() string { return "fake-model" }

func (e errLLM) Complete(context.Context, string) (string, error) { return "", e.err }
