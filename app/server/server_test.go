package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaus/app/agent"
	"klaus/app/middleware"
	"klaus/app/retrieval"
	"klaus/model"
	"klaus/store"
	"klaus/types"
)

type scriptedLLM struct {
	reply string
	err   error
	calls int
}

func (s *scriptedLLM) Model() string { return "test-model" }

func (s *scriptedLLM) Complete(context.Context, string) (string, error) {
	s.calls++
	return s.reply, s.err
}

type noEmbedder struct{}

func (noEmbedder) Embed(context.Context, string, model.EmbedIntent) ([]float32, error) {
	return nil, model.ErrNotConfigured
}

var persona = types.Persona{AssistantName: "Klaus", OwnerName: "Sandeep", ContactEmail: "me@example.com"}

func newTestApp(t *testing.T, llm model.Generator, burst int) (*fiber.App, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.SiteFactsMarkdown),
		[]byte("## BTech CSE\nPursuing a B.Tech in CSE with CGPA 8.58\n"), 0o644))

	facts := store.NewFactStore(dir, store.NewFileIndex(filepath.Join(dir, types.EmbeddingIndex)), nil)
	retriever := retrieval.NewRetriever(facts, noEmbedder{}, nil)
	a := agent.NewAgent(llm, retriever, agent.NewComposer(persona, false), persona, false)
	router := agent.NewRouter(a, store.NewMemorySessionStore(), llm, persona)

	return NewApp(Deps{Router: router, Facts: facts, Limiter: middleware.NewRateLimiter(1, burst)}), dir
}

type response struct {
	code   int
	header http.Header
	body   []byte
}

func do(t *testing.T, app *fiber.App, method, path, body string) response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{code: resp.StatusCode, header: resp.Header, body: data}
}

func decode[T any](t *testing.T, rec response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.body, &v), string(rec.body))
	return v
}

func TestChat(t *testing.T) {
	llm := &scriptedLLM{reply: `{"answer":"My CGPA is 8.58.","supported_by_facts":true,"citations":["btech-cse-0"]}`}
	app, _ := newTestApp(t, llm, 100)

	rec := do(t, app, http.MethodPost, "/api/klaus", `{"message":"What is your CGPA?","history":[],"pageUrl":"https://me.dev/"}`)
	assert.Equal(t, http.StatusOK, rec.code)
	assert.Equal(t, "My CGPA is 8.58.", decode[types.ChatReply](t, rec).Reply)
	assert.NotEmpty(t, rec.header.Get("X-Request-ID"))

	rec = do(t, app, http.MethodPost, "/api/klaus", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.code)
	assert.Contains(t, decode[types.ChatReply](t, rec).Reply, "Klaus")
	assert.Equal(t, 1, llm.calls)
}

func TestChat_BadInputStillReplies(t *testing.T) {
	llm := &scriptedLLM{}
	app, _ := newTestApp(t, llm, 100)

	for _, body := range []string{`{not json`, `{"message":"   "}`, `{}`} {
		rec := do(t, app, http.MethodPost, "/api/klaus", body)
		assert.Equal(t, http.StatusOK, rec.code, body)
		assert.Equal(t, "Please type a question for me to help with.", decode[types.ChatReply](t, rec).Reply, body)
	}
	assert.Zero(t, llm.calls)
}

func TestChat_LongMessageIsRefused(t *testing.T) {
	llm := &scriptedLLM{}
	app, _ := newTestApp(t, llm, 100)

	body, err := json.Marshal(types.ChatParams{Message: strings.Repeat("what is your cgpa ", 1000)})
	require.NoError(t, err)
	rec := do(t, app, http.MethodPost, "/api/klaus", string(body))
	assert.Equal(t, http.StatusOK, rec.code)
	assert.Contains(t, decode[types.ChatReply](t, rec).Reply, "shorter question")
	assert.Zero(t, llm.calls)
}

func TestChat_ProviderDownStillReplies(t *testing.T) {
	app, _ := newTestApp(t, &scriptedLLM{err: model.ErrTimeout}, 100)

	rec := do(t, app, http.MethodPost, "/api/klaus", `{"message":"What is your CGPA?"}`)
	assert.Equal(t, http.StatusOK, rec.code)
	assert.NotEmpty(t, decode[types.ChatReply](t, rec).Reply)
}

func TestChat_RateLimited(t *testing.T) {
	app, _ := newTestApp(t, &scriptedLLM{}, 1)

	do(t, app, http.MethodPost, "/api/klaus", `{"message":"hi"}`)
	rec := do(t, app, http.MethodPost, "/api/klaus", `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, rec.code)
	assert.Equal(t, rateLimitedReply, decode[types.ChatReply](t, rec).Reply)
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, &scriptedLLM{reply: "pong"}, 100)
	rec := do(t, app, http.MethodGet, "/api/klaus", "")
	assert.Equal(t, http.StatusOK, rec.code)
	assert.Equal(t, types.HealthReport{OK: true, HasKey: true, Model: "test-model"}, decode[types.HealthReport](t, rec))

	app, _ = newTestApp(t, &scriptedLLM{err: model.ErrNotConfigured}, 100)
	rep := decode[types.HealthReport](t, do(t, app, http.MethodGet, "/api/klaus", ""))
	assert.False(t, rep.OK)
	assert.False(t, rep.HasKey)
}

func TestProfileAndCheck(t *testing.T) {
	app, dir := newTestApp(t, &scriptedLLM{}, 100)

	got := decode[map[string]any](t, do(t, app, http.MethodGet, "/api/linkedin", ""))
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, false, got["cached"])

	app, dir = newTestApp(t, &scriptedLLM{}, 100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ProfileDump), []byte(`{"headline":"Engineer"}`), 0o644))
	got = decode[map[string]any](t, do(t, app, http.MethodGet, "/api/linkedin", ""))
	assert.Equal(t, true, got["cached"])
	assert.Equal(t, "Engineer", got["profile"].(map[string]any)["headline"])

	check := decode[map[string]any](t, do(t, app, http.MethodGet, "/check/healthy", ""))
	assert.Equal(t, "ok", check["result"])
	assert.EqualValues(t, 1, check["kb"].(map[string]any)["facts"])
}

func TestResumeIsServed(t *testing.T) {
	app, dir := newTestApp(t, &scriptedLLM{}, 100)

	rec := do(t, app, http.MethodGet, "/Resume.pdf", "")
	assert.Equal(t, http.StatusNotFound, rec.code)

	app, dir = newTestApp(t, &scriptedLLM{}, 100)
	pdf := []byte("%PDF-1.4 fake")
	require.NoError(t, os.WriteFile(filepath.Join(dir, types.ResumePDF), pdf, 0o644))
	rec = do(t, app, http.MethodGet, "/Resume.pdf", "")
	assert.Equal(t, http.StatusOK, rec.code)
	assert.True(t, bytes.HasPrefix(rec.body, []byte("%PDF")))
}
