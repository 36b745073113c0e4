package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researcher/internal/citation"
	"github.com/mohammad-safakhou/researcher/internal/documents"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/mohammad-safakhou/researcher/tools/web_search"
)

func TestRunWebSearchScenario(t *testing.T) {
	search := &fakeSearcher{output: "Paris - Wikipedia\nParis is the capital and largest city of France.\nhttps://en.wikipedia.org/wiki/Paris\n"}
	model := newScriptedModel(
		toolReply("call_1", "web_search", `{"query":"capital of France"}`),
		answerReply("The capital of France is Paris.\n\nSources: https://en.wikipedia.org/wiki/Paris"),
	)
	s := newTestSession(model, search, documents.Set{}, 0)

	res, err := s.Run(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Answer == "" || res.BestEffort || res.Iterations != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	links := citation.Extract(res.Answer)
	if len(links) == 0 || len(links) > citation.MaxSources {
		t.Fatalf("unexpected citations %v", links)
	}
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil || u.Scheme == "" || u.Host == "" {
			t.Fatalf("malformed citation %q", l)
		}
	}

	second := model.request(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != provider.RoleTool || last.ToolCallID != "call_1" || !strings.Contains(last.Content, "Paris") {
		t.Fatalf("tool output not fed back: %+v", last)
	}
	if len(second.Tools) != 2 {
		t.Fatalf("tools must be offered on every iteration")
	}
}

func TestRunDocumentSearchScenario(t *testing.T) {
	docs := documents.Set{}
	docs.Put(documents.Document{Name: "zeus.txt", Text: "Status report. Project Zeus deadline: 2026-01-01. Owner: ops."})
	model := newScriptedModel(
		toolReply("c1", "document_search", `{"query":"zeus"}`),
		answerReply("The Zeus deadline is 2026-01-01."),
	)
	s := newTestSession(model, &fakeSearcher{}, docs, 0)

	res, err := s.Run(context.Background(), "When is the Zeus deadline?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.ToolCalls) != 1 || !strings.Contains(res.ToolCalls[0].Output, "2026-01-01") {
		t.Fatalf("expected document snippet with the date, got %+v", res.ToolCalls)
	}
	if !strings.Contains(res.Answer, "2026-01-01") {
		t.Fatalf("unexpected answer %q", res.Answer)
	}
}

func TestRunContinuesAfterSearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ws, err := web_search.NewWebSearcher(web_search.BraveBackend, "key", srv.URL, nil)
	if err != nil {
		t.Fatalf("searcher: %v", err)
	}
	searcher := web_search.NewSearchProvider(ws, time.Second, nil)

	model := newScriptedModel(
		toolReply("c1", "web_search", `{"query":"latest go release"}`),
		answerReply("I could not reach the search service; based on prior knowledge Go releases twice a year."),
	)
	s := newTestSession(model, searcher, documents.Set{}, 0)

	res, err := s.Run(context.Background(), "What is the latest Go release?")
	if err != nil {
		t.Fatalf("run should not abort on search failure: %v", err)
	}
	if res.ToolCalls[0].Output != "(Brave search failed: 500)" {
		t.Fatalf("unexpected tool output %q", res.ToolCalls[0].Output)
	}
	if res.Answer == "" {
		t.Fatalf("expected a final answer")
	}
}

func TestRunRecordsBothTurns(t *testing.T) {
	model := newScriptedModel(answerReply("Hello there."))
	s := newTestSession(model, &fakeSearcher{}, documents.Set{}, 0)

	res, err := s.Run(context.Background(), "  hi  ")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []ChatTurn{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "Hello there."}}
	if !reflect.DeepEqual(res.History, want) || !reflect.DeepEqual(s.History(), want) {
		t.Fatalf("unexpected history %+v / %+v", res.History, s.History())
	}
}

func TestPreloadKeepsPrefixOrder(t *testing.T) {
	prior := []ChatTurn{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "second question"},
		{Role: RoleAssistant, Content: "second answer"},
	}
	model := newScriptedModel(answerReply("third answer"))
	s := newTestSession(model, &fakeSearcher{}, documents.Set{}, 0)

	s.Preload(prior)
	s.Preload(prior)
	if got := s.History(); !reflect.DeepEqual(got, prior) {
		t.Fatalf("replaying the same record must be idempotent, got %+v", got)
	}

	res, err := s.Run(context.Background(), "third question")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(res.History[:len(prior)], prior) {
		t.Fatalf("history prefix changed: %+v", res.History)
	}
	if res.History[len(prior)] != (ChatTurn{Role: RoleUser, Content: "third question"}) {
		t.Fatalf("question not recorded after the prefix: %+v", res.History)
	}

	msgs := model.request(0).Messages
	if msgs[0].Role != provider.RoleSystem || msgs[1].Content != "first question" || msgs[4].Content != "second answer" || msgs[5].Content != "third question" {
		t.Fatalf("model did not see history in order: %+v", msgs)
	}
}

func TestPreloadReplacesDivergentHistory(t *testing.T) {
	s := newTestSession(newScriptedModel(), &fakeSearcher{}, documents.Set{}, 0)
	s.Preload([]ChatTurn{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}})

	other := []ChatTurn{{Role: RoleUser, Content: "x"}}
	s.Preload(other)
	if got := s.History(); !reflect.DeepEqual(got, other) {
		t.Fatalf("expected history replaced, got %+v", got)
	}
	s.Preload(nil)
	if got := s.History(); len(got) != 0 {
		t.Fatalf("expected empty history, got %+v", got)
	}
}

func TestRunBestEffortAfterIterationCap(t *testing.T) {
	model := newScriptedModel(
		toolReply("c1", "web_search", `{"query":"a"}`),
		toolReply("c2", "web_search", `{"query":"b"}`),
		toolReply("c3", "web_search", `{"query":"c"}`),
		answerReply("Best guess: it depends."),
	)
	s := newTestSession(model, &fakeSearcher{output: "nothing useful"}, documents.Set{}, 3)

	res, err := s.Run(context.Background(), "Hard question?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.BestEffort || res.Iterations != 3 || res.Answer != "Best guess: it depends." {
		t.Fatalf("unexpected result %+v", res)
	}
	if model.calls() != 4 {
		t.Fatalf("expected cap plus one final call, got %d", model.calls())
	}
	final := model.request(3)
	if len(final.Tools) != 0 {
		t.Fatalf("final call must disable tools")
	}
	if final.Messages[len(final.Messages)-1].Content != bestEffortPrompt {
		t.Fatalf("final call must ask for a best-effort answer")
	}
}

func TestRunUnknownToolIsReportedToModel(t *testing.T) {
	model := newScriptedModel(
		toolReply("c1", "browser", `{"query":"x"}`),
		answerReply("Answer without browsing."),
	)
	s := newTestSession(model, &fakeSearcher{}, documents.Set{}, 0)

	res, err := s.Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ToolCalls[0].Outcome != OutcomeUnknownTool {
		t.Fatalf("unexpected outcome %+v", res.ToolCalls[0])
	}
	msgs := model.request(1).Messages
	if !strings.HasPrefix(msgs[len(msgs)-1].Content, `(unknown tool "browser"`) {
		t.Fatalf("model was not told about the unknown tool: %+v", msgs[len(msgs)-1])
	}
}

func TestRunFailureRollsBackHistory(t *testing.T) {
	prior := []ChatTurn{{Role: RoleUser, Content: "q1"}, {Role: RoleAssistant, Content: "a1"}}
	boom := errors.New("upstream 502")
	model := newScriptedModel(
		toolReply("c1", "web_search", `{"query":"x"}`),
		errorReply(boom),
	)
	s := newTestSession(model, &fakeSearcher{output: "r"}, documents.Set{}, 0)
	s.Preload(prior)

	_, err := s.Run(context.Background(), "q2")
	var ae *AgentExecutionError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AgentExecutionError, got %T %v", err, err)
	}
	var ue *UpstreamCallError
	if !errors.As(err, &ue) || !errors.Is(err, boom) || ae.Iterations != 2 {
		t.Fatalf("unexpected error chain %v (iterations %d)", err, ae.Iterations)
	}
	if got := s.History(); !reflect.DeepEqual(got, prior) {
		t.Fatalf("history not rolled back: %+v", got)
	}
}

func TestRunEmptyAnswerFails(t *testing.T) {
	s := newTestSession(newScriptedModel(answerReply("   ")), &fakeSearcher{}, documents.Set{}, 0)
	_, err := s.Run(context.Background(), "q")
	if !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected empty answer error, got %v", err)
	}
	if len(s.History()) != 0 {
		t.Fatalf("history should be empty after failure")
	}
}

func TestRunCancelledContext(t *testing.T) {
	model := newScriptedModel(answerReply("never"))
	s := newTestSession(model, &fakeSearcher{}, documents.Set{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, "q")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if model.calls() != 0 {
		t.Fatalf("no model call expected after cancellation, got %d", model.calls())
	}
}

func TestSequentialQuestionsReuseSession(t *testing.T) {
	docs := documents.Set{}
	docs.Put(documents.Document{Name: "a.txt", Text: "alpha"})
	model := newScriptedModel(answerReply("first answer"), answerReply("second answer"))
	reg := NewRegistry(&fakeSearcher{}, documents.NewIndex(docs), 0)
	cache := NewCache(func(key string, _ documents.Set) (*Session, error) {
		return NewSession(key, model, reg, SessionOptions{}), nil
	}, CacheOptions{})

	s1, err := cache.GetOrCreate(docs)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	res1, err := s1.Run(context.Background(), "first question")
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}

	s2, err := cache.GetOrCreate(docs.Clone())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("expected the same session instance")
	}
	s2.Preload(res1.History)
	if _, err := s2.Run(context.Background(), "second question"); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	msgs := model.request(1).Messages
	if msgs[1].Content != "first question" || msgs[2].Content != "first answer" || msgs[3].Content != "second question" {
		t.Fatalf("second run did not carry the first exchange: %+v", msgs)
	}
}

func TestResumeAnswersAgainstGivenHistory(t *testing.T) {
	model := newScriptedModel(answerReply("A for conversation one."), answerReply("A for conversation two."))
	s := newTestSession(model, &fakeSearcher{}, documents.Set{}, 0)

	one := []ChatTurn{{Role: RoleUser, Content: "q1"}, {Role: RoleAssistant, Content: "a1"}}
	two := []ChatTurn{{Role: RoleUser, Content: "other"}, {Role: RoleAssistant, Content: "thread"}}

	res1, err := s.Resume(context.Background(), one, "follow up one")
	if err != nil {
		t.Fatalf("resume one: %v", err)
	}
	if len(res1.History) != 4 || res1.History[0].Content != "q1" {
		t.Fatalf("unexpected history one %+v", res1.History)
	}

	res2, err := s.Resume(context.Background(), two, "follow up two")
	if err != nil {
		t.Fatalf("resume two: %v", err)
	}
	if len(res2.History) != 4 || res2.History[0].Content != "other" {
		t.Fatalf("history one leaked into two: %+v", res2.History)
	}
	// system prompt + two prior turns + the new question
	if got := len(model.request(1).Messages); got != 4 {
		t.Fatalf("expected 4 messages in second request, got %d", got)
	}
}
